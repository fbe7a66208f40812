package queue

import "context"

// Job consumes messages of one type from the queue. Messages are routed
// to the registered job whose Type matches the message type.
type Job interface {
	// Name returns the unique identifier of the job.
	Name() string

	// Type returns the message type this job consumes, e.g. candles.backfill.
	Type() string

	// Handle processes one message. Returning an error requeues the
	// message until the retry limit is reached.
	Handle(ctx context.Context, payload interface{}) error
}
