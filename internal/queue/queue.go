// Package queue is the persistent Job Queue: a Redis-backed FIFO of
// submission ids, with a worker registry and failed-job counter, the sole
// cross-process synchronization point between the Submission Service and
// the Worker Pool.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/itstheanurag/executioner/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// WorkerState is the externally observable state of a registered worker.
type WorkerState string

const (
	WorkerIdle WorkerState = "idle"
	WorkerBusy WorkerState = "busy"
)

type WorkerInfo struct {
	Name      string
	State     WorkerState
	Heartbeat time.Time
}

// Stale reports whether a worker's last recorded heartbeat is older than
// maxAge, the signal workerctl's cleanup-stale uses in place of the
// original's RQ-specific liveness bookkeeping.
func (w WorkerInfo) Stale(maxAge time.Duration) bool {
	if w.Heartbeat.IsZero() {
		return true
	}
	return time.Since(w.Heartbeat) > maxAge
}

// Manager is the Redis-backed job queue and worker registry.
type Manager struct {
	client    *redis.Client
	queueKey  string
	failedKey string
	workersKey string
}

func NewManager(client *redis.Client, prefix string) *Manager {
	return &Manager{
		client:     client,
		queueKey:   prefix + "_submission_queue",
		failedKey:  prefix + "_failed_jobs",
		workersKey: prefix + "_workers",
	}
}

// Enqueue pushes a submission id onto the tail of the FIFO.
func (m *Manager) Enqueue(ctx context.Context, id uuid.UUID) error {
	if err := m.client.RPush(ctx, m.queueKey, id.String()).Err(); err != nil {
		return fmt.Errorf("failed to enqueue submission: %w", err)
	}
	m.updateQueueMetric(ctx)
	return nil
}

// Dequeue blocks up to timeout for a submission id, returning (id, true) on
// success or (uuid.Nil, false) on timeout.
func (m *Manager) Dequeue(ctx context.Context, timeout time.Duration) (uuid.UUID, bool, error) {
	res, err := m.client.BLPop(ctx, timeout, m.queueKey).Result()
	if err == redis.Nil {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to dequeue submission: %w", err)
	}
	m.updateQueueMetric(ctx)

	// res[0] is the key name, res[1] is the value.
	id, err := uuid.Parse(res[1])
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("malformed queue entry: %w", err)
	}
	return id, true, nil
}

// Size reports the current queue depth.
func (m *Manager) Size(ctx context.Context) (int64, error) {
	n, err := m.client.LLen(ctx, m.queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to measure queue depth: %w", err)
	}
	return n, nil
}

// MarkFailed records a job that a worker could not complete (e.g. crashed
// mid-processing) in the failed-job set.
func (m *Manager) MarkFailed(ctx context.Context, id uuid.UUID) error {
	if err := m.client.SAdd(ctx, m.failedKey, id.String()).Err(); err != nil {
		return fmt.Errorf("failed to record failed job: %w", err)
	}
	return nil
}

// FailedCount reports the number of jobs recorded as failed.
func (m *Manager) FailedCount(ctx context.Context) (int64, error) {
	n, err := m.client.SCard(ctx, m.failedKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count failed jobs: %w", err)
	}
	return n, nil
}

// RegisterWorker adds a worker to the registry in the idle state.
func (m *Manager) RegisterWorker(ctx context.Context, name string) error {
	if err := m.client.SAdd(ctx, m.workersKey, name).Err(); err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}
	return m.SetWorkerState(ctx, name, WorkerIdle)
}

// UnregisterWorker removes a worker from the registry.
func (m *Manager) UnregisterWorker(ctx context.Context, name string) error {
	pipe := m.client.TxPipeline()
	pipe.SRem(ctx, m.workersKey, name)
	pipe.Del(ctx, m.workerStateKey(name))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to unregister worker: %w", err)
	}
	return nil
}

// SetWorkerState records a worker's current idle/busy state, with a
// heartbeat timestamp so a stale registration can be distinguished later.
// The ActiveWorkers gauge is adjusted only on an actual idle<->busy
// transition, read from the previously recorded state, so a duplicate or
// skipped call for the same state never drifts the gauge.
func (m *Manager) SetWorkerState(ctx context.Context, name string, state WorkerState) error {
	key := m.workerStateKey(name)

	prevRaw, err := m.client.HGet(ctx, key, "state").Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read previous worker state: %w", err)
	}
	prev := WorkerState(prevRaw)
	if prevRaw == "" {
		prev = WorkerIdle
	}

	if err := m.client.HSet(ctx, key,
		"state", string(state),
		"heartbeat", time.Now().UTC().Format(time.RFC3339),
	).Err(); err != nil {
		return fmt.Errorf("failed to set worker state: %w", err)
	}

	if prev != state {
		if state == WorkerBusy {
			metrics.ActiveWorkers.Inc()
		} else if prev == WorkerBusy {
			metrics.ActiveWorkers.Dec()
		}
	}
	return nil
}

// ListWorkers returns the registered workers and their last known state.
func (m *Manager) ListWorkers(ctx context.Context) ([]WorkerInfo, error) {
	names, err := m.client.SMembers(ctx, m.workersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}

	infos := make([]WorkerInfo, 0, len(names))
	for _, name := range names {
		fields, err := m.client.HGetAll(ctx, m.workerStateKey(name)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read worker state: %w", err)
		}
		state := fields["state"]
		if state == "" {
			state = string(WorkerIdle)
		}
		var heartbeat time.Time
		if raw, ok := fields["heartbeat"]; ok {
			heartbeat, _ = time.Parse(time.RFC3339, raw)
		}
		infos = append(infos, WorkerInfo{Name: name, State: WorkerState(state), Heartbeat: heartbeat})
	}
	return infos, nil
}

func (m *Manager) workerStateKey(name string) string {
	return m.workersKey + ":" + name
}

func (m *Manager) updateQueueMetric(ctx context.Context) {
	n, err := m.Size(ctx)
	if err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}
