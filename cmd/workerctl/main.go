// Command workerctl inspects and evicts stale worker registrations
// directly against the Job Queue's Redis-backed worker registry, the same
// surface the API and worker processes use, supplementing
// original_source/worker/app/worker_manager.py's standalone CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/itstheanurag/executioner/internal/config"
	"github.com/itstheanurag/executioner/internal/queue"
)

const staleThreshold = 2 * time.Minute

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, "  workerctl list")
		fmt.Fprintln(os.Stderr, "  workerctl cleanup")
		fmt.Fprintln(os.Stderr, "  workerctl cleanup-stale")
		fmt.Fprintln(os.Stderr, "  workerctl info <worker-name>")
	}
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	conf, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	redisClient, err := queue.NewRedisClient(conf)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to connect to redis:", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	manager := queue.NewManager(redisClient, conf.Redis.Prefix)
	ctx := context.Background()

	switch args[0] {
	case "list":
		cmdList(ctx, manager)
	case "cleanup":
		cmdCleanup(ctx, manager, false)
	case "cleanup-stale":
		cmdCleanup(ctx, manager, true)
	case "info":
		if len(args) < 2 {
			flag.Usage()
			os.Exit(1)
		}
		cmdInfo(ctx, manager, args[1])
	default:
		flag.Usage()
		os.Exit(1)
	}
}

func cmdList(ctx context.Context, manager *queue.Manager) {
	workers, err := manager.ListWorkers(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to list workers:", err)
		os.Exit(1)
	}
	if len(workers) == 0 {
		fmt.Println("No workers found")
		return
	}
	fmt.Printf("Found %d worker(s):\n", len(workers))
	for _, w := range workers {
		status := "ACTIVE"
		if w.Stale(staleThreshold) {
			status = "STALE"
		}
		fmt.Printf("  - %s (%s, %s)\n", w.Name, w.State, status)
	}
}

func cmdCleanup(ctx context.Context, manager *queue.Manager, staleOnly bool) {
	workers, err := manager.ListWorkers(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to list workers:", err)
		os.Exit(1)
	}

	cleaned := 0
	for _, w := range workers {
		if staleOnly && !w.Stale(staleThreshold) {
			continue
		}
		if err := manager.UnregisterWorker(ctx, w.Name); err != nil {
			fmt.Fprintf(os.Stderr, "failed to cleanup worker %s: %v\n", w.Name, err)
			continue
		}
		cleaned++
	}

	if staleOnly {
		fmt.Printf("Cleaned up %d stale worker(s)\n", cleaned)
	} else {
		fmt.Printf("Cleaned up %d worker(s)\n", cleaned)
	}
}

func cmdInfo(ctx context.Context, manager *queue.Manager, name string) {
	workers, err := manager.ListWorkers(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to list workers:", err)
		os.Exit(1)
	}
	for _, w := range workers {
		if w.Name == name {
			fmt.Printf("Worker: %s\n", w.Name)
			fmt.Printf("  State: %s\n", w.State)
			fmt.Printf("  Heartbeat: %s\n", w.Heartbeat.Format(time.RFC3339))
			fmt.Printf("  Stale: %v\n", w.Stale(staleThreshold))
			return
		}
	}
	fmt.Printf("Worker %q not found\n", name)
}
