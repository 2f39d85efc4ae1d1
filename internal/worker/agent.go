// Package worker contains the pull loop that feeds queued lab jobs to the
// provisioning engine.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vlem/internal/logger"
	"vlem/internal/provision"
	"vlem/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handler runs one lab job to completion. It must not panic.
type Handler interface {
	Handle(ctx context.Context, labID string, jobType store.JobType) provision.Outcome
}

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID                  string
	Concurrency         int
	PollInterval        time.Duration
	MaxBackoff          time.Duration // Maximum backoff when queue is empty (default: 30s)
	HeartbeatInterval   time.Duration // Interval between heartbeat calls (default: 2m)
	VisibilityExtension time.Duration // How long to extend visibility on heartbeat (default: 5m)
	JobTimeout          time.Duration // Upper bound for a single job (default: 30m)
}

// Agent is the main worker agent that runs the pull-loop for lab jobs.
type Agent struct {
	queue   store.Queue
	handler Handler
	config  AgentConfig
	logger  *slog.Logger
	done    chan struct{}
}

// New creates a new worker agent.
func New(q store.Queue, h Handler, config AgentConfig, log *slog.Logger) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}

	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 2 * time.Minute
	}

	if config.VisibilityExtension <= 0 {
		config.VisibilityExtension = store.VisibilityTimeout
	}

	if config.JobTimeout <= 0 {
		config.JobTimeout = 30 * time.Minute
	}

	if log == nil {
		log = slog.Default()
	}

	return &Agent{
		queue:   q,
		handler: h,
		config:  config,
		logger:  log.With("agent", config.ID),
		done:    make(chan struct{}),
	}
}

// Run starts the main pull-loop. It blocks until the context is cancelled.
// On cancellation it stops dequeuing new work and lets in-flight jobs finish.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent starting", "concurrency", a.config.Concurrency)

	// Semaphore to limit concurrency
	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	// Channel to signal when a slot becomes available (adaptive polling)
	pollNow := make(chan struct{}, 1)

	// Current backoff duration (increases on empty queue, resets on work found)
	currentBackoff := a.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
		}
	}

	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("context cancelled, waiting for running jobs to finish")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			items, err := a.queue.DequeueBatch(ctx, availableSlots)
			if err != nil {
				if ctx.Err() == nil {
					a.logger.Error("dequeue failed", "error", err)
				}
				continue
			}

			if len(items) == 0 {
				// Empty queue - increase backoff (exponential, capped at MaxBackoff)
				currentBackoff = currentBackoff * 2
				if currentBackoff > a.config.MaxBackoff {
					currentBackoff = a.config.MaxBackoff
				}
				continue
			}

			currentBackoff = a.config.PollInterval
			a.logger.Debug("claimed jobs", "count", len(items))

			for _, item := range items {
				sem <- struct{}{}

				wg.Add(1)
				go func(item store.QueueItem) {
					defer wg.Done()
					defer func() {
						<-sem
						triggerPoll()
					}()
					a.processItem(ctx, item)
				}(item)
			}

			if len(items) < availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// processItem runs a dequeued job and settles it on the queue.
func (a *Agent) processItem(ctx context.Context, item store.QueueItem) {
	log := logger.FromContext(logger.WithLabID(ctx, item.LabID), a.logger).With(
		"job_type", item.JobType,
		"queue_item", item.ID,
		"attempt", item.Attempt,
	)

	tracer := otel.Tracer("vlem/worker")
	spanCtx, span := tracer.Start(ctx, "process_lab_job",
		trace.WithAttributes(
			attribute.String("lab.id", item.LabID),
			attribute.String("job.type", string(item.JobType)),
			attribute.String("queue.item", item.ID.String()),
			attribute.Int("queue.attempt", item.Attempt),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	// The job context ignores worker shutdown so SIGTERM drains instead of
	// aborting a build halfway.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(spanCtx), a.config.JobTimeout)
	defer cancel()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.Background())
	defer cancelHeartbeat()
	go a.runHeartbeat(heartbeatCtx, log, item.ID)

	log.Info("processing lab job")
	out := a.handler.Handle(jobCtx, item.LabID, item.JobType)
	cancelHeartbeat()

	settleCtx, settleCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer settleCancel()

	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, string(out.Kind))
	}

	if out.Retryable {
		log.Warn("job could not run, returning it to the queue", "kind", out.Kind, "error", out.Err)
		msg := string(out.Kind)
		if out.Err != nil {
			msg = out.Err.Error()
		}
		if err := a.queue.Fail(settleCtx, item.ID, msg); err != nil {
			log.Error("failed to release queue item", "error", err)
		}
		return
	}

	log.Info("lab job finished",
		"status", out.Status,
		"kind", out.Kind,
		"skipped", out.Skipped,
		"status_recorded", out.StatusRecorded,
	)
	if err := a.queue.Complete(settleCtx, item.ID); err != nil {
		log.Error("failed to complete queue item", "error", err)
	}
}

// runHeartbeat keeps the item invisible to other workers while the job runs.
func (a *Agent) runHeartbeat(ctx context.Context, log *slog.Logger, itemID uuid.UUID) {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			visibleAfter := time.Now().Add(a.config.VisibilityExtension)
			if err := a.queue.Heartbeat(ctx, itemID, visibleAfter); err != nil && ctx.Err() == nil {
				log.Warn("heartbeat failed", "error", err)
			}
		}
	}
}
