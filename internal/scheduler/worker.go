package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Handler executes one claimed task. Returning an error marks the task
// failed; the orchestrator decides whether to schedule a replacement.
type Handler func(ctx context.Context, t Task) error

// Worker polls the store for due tasks and dispatches them.
type Worker struct {
	store   Store
	handler Handler
	log     *slog.Logger

	interval  time.Duration
	batchSize int
	clock     func() time.Time
}

type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

func NewWorker(store Store, handler Handler, log *slog.Logger, cfg WorkerConfig) *Worker {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		store:     store,
		handler:   handler,
		log:       log,
		interval:  interval,
		batchSize: batch,
		clock:     time.Now,
	}
}

// Run polls until ctx is cancelled. Intended to be launched as a goroutine
// from main.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	tasks, err := w.store.Claim(ctx, w.clock().UTC(), w.batchSize)
	if err != nil {
		w.log.Error("task claim failed", "err", err)
		return
	}
	for _, t := range tasks {
		status := TaskDone
		if err := w.handler(ctx, t); err != nil {
			w.log.Error("task failed", "task_id", t.ID, "kind", t.Kind, "session_id", t.SessionID, "err", err)
			status = TaskFailed
		}
		if err := w.store.Finish(ctx, t.ID, status); err != nil {
			w.log.Error("task finish failed", "task_id", t.ID, "err", err)
		}
	}
}

// NewTask builds a pending task with a fresh id.
func NewTask(sessionID string, kind Kind, role string, attempt int, runAt, now time.Time) Task {
	return Task{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Kind:      kind,
		Role:      role,
		Attempt:   attempt,
		RunAt:     runAt,
		Status:    TaskPending,
		CreatedAt: now,
	}
}
