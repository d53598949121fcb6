// Package health aggregates liveness checks for the Submission Store, Job
// Queue, and Worker Pool into the judge's health endpoint responses.
package health

import (
	"context"
	"strings"
	"time"

	"github.com/itstheanurag/executioner/internal/database"
	"github.com/itstheanurag/executioner/internal/queue"
	"github.com/redis/go-redis/v9"
)

type ComponentStatus struct {
	Status         string  `json:"status"`
	ResponseTimeMs float64 `json:"response_time,omitempty"`
	Error          string  `json:"error,omitempty"`
	Ping           string  `json:"ping,omitempty"`
}

type WorkerStatus struct {
	QueueName   string `json:"queue_name"`
	QueueSize   int64  `json:"queue_size"`
	WorkersTotal int   `json:"workers_total"`
	WorkersBusy  int   `json:"workers_busy"`
	WorkersIdle  int   `json:"workers_idle"`
	FailedJobs   int64 `json:"failed_jobs"`
	Status       string `json:"status"`
}

type Overall struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version"`
	Database  ComponentStatus `json:"database"`
	Redis     ComponentStatus `json:"redis"`
	Workers   WorkerStatus    `json:"workers"`
}

const Version = "1.0.0"

type Checker struct {
	db          *database.Database
	redisClient *redis.Client
	queue       *queue.Manager
}

func NewChecker(db *database.Database, redisClient *redis.Client, q *queue.Manager) *Checker {
	return &Checker{db: db, redisClient: redisClient, queue: q}
}

func (c *Checker) CheckDatabase(ctx context.Context) ComponentStatus {
	start := time.Now()
	if err := c.db.Pool.Ping(ctx); err != nil {
		return ComponentStatus{Status: "unhealthy", Error: err.Error()}
	}
	return ComponentStatus{
		Status:         "healthy",
		ResponseTimeMs: roundMs(time.Since(start)),
	}
}

func (c *Checker) CheckRedis(ctx context.Context) ComponentStatus {
	start := time.Now()
	if err := c.redisClient.Ping(ctx).Err(); err != nil {
		return ComponentStatus{Status: "unhealthy", Error: err.Error()}
	}
	return ComponentStatus{
		Status:         "healthy",
		ResponseTimeMs: roundMs(time.Since(start)),
		Ping:           "pong",
	}
}

func (c *Checker) CheckWorkers(ctx context.Context) WorkerStatus {
	workers, err := c.queue.ListWorkers(ctx)
	if err != nil {
		return WorkerStatus{Status: "error: " + err.Error()}
	}
	queueSize, err := c.queue.Size(ctx)
	if err != nil {
		return WorkerStatus{Status: "error: " + err.Error()}
	}
	failedCount, err := c.queue.FailedCount(ctx)
	if err != nil {
		return WorkerStatus{Status: "error: " + err.Error()}
	}

	busy := 0
	for _, w := range workers {
		if w.State == queue.WorkerBusy {
			busy++
		}
	}

	status := "healthy"
	switch {
	case len(workers) == 0:
		status = "no_workers"
	case queueSize > 100:
		status = "high_load"
	case failedCount > 10:
		status = "degraded"
	}

	return WorkerStatus{
		QueueName:    "submission_queue",
		QueueSize:    queueSize,
		WorkersTotal: len(workers),
		WorkersBusy:  busy,
		WorkersIdle:  len(workers) - busy,
		FailedJobs:   failedCount,
		Status:       status,
	}
}

func (c *Checker) Overall(ctx context.Context) Overall {
	dbHealth := c.CheckDatabase(ctx)
	redisHealth := c.CheckRedis(ctx)
	workerHealth := c.CheckWorkers(ctx)

	status := "healthy"
	switch {
	case dbHealth.Status != "healthy", redisHealth.Status != "healthy", workerHealth.Status == "no_workers", strings.HasPrefix(workerHealth.Status, "error"):
		status = "unhealthy"
	case workerHealth.Status == "high_load", workerHealth.Status == "degraded":
		status = "degraded"
	}

	return Overall{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Version:   Version,
		Database:  dbHealth,
		Redis:     redisHealth,
		Workers:   workerHealth,
	}
}

func roundMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
