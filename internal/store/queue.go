package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Default retry policy shared by queue implementations.
const (
	MaxRetries        = 5
	VisibilityTimeout = 5 * time.Minute
)

// RetryBackoff is the delay before a failed item becomes visible again (10s * 2^attempt).
func RetryBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 10 {
		attempt = 10
	}
	return time.Duration(10*(1<<attempt)) * time.Second
}

// Queue defines the job dispatcher transport.
// Delivery is at-least-once: an item claimed by DequeueBatch reappears after
// VisibilityTimeout unless it is completed, failed or heartbeated.
type Queue interface {
	// Enqueue schedules a job for labID. While a job with the same
	// (labID, jobType) is pending or in flight, Enqueue is a no-op.
	Enqueue(ctx context.Context, labID string, jobType JobType) error

	// DequeueBatch claims up to 'limit' visible items.
	// Returns nil slice if queue is empty.
	DequeueBatch(ctx context.Context, limit int) ([]QueueItem, error)

	// Complete removes the item.
	Complete(ctx context.Context, itemID uuid.UUID) error

	// Fail schedules a retry with backoff, or drops the item once
	// MaxRetries is exceeded.
	Fail(ctx context.Context, itemID uuid.UUID, errMsg string) error

	// Heartbeat extends the visibility timeout of an in-flight item.
	Heartbeat(ctx context.Context, itemID uuid.UUID, visibleAfter time.Time) error

	// Count returns the number of items in the queue.
	Count(ctx context.Context) (int64, error)
}

// QueueItem represents a dequeued job.
type QueueItem struct {
	ID      uuid.UUID
	LabID   string
	JobType JobType
	// Attempt counts deliveries, starting at 1.
	Attempt int
}
