package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownQueue is returned for queue names that are not registered
var ErrUnknownQueue = errors.New("unknown queue")

// Message is a reserved job envelope
type Message struct {
	ID       string // Delivery identifier, unique within the queue
	Payload  []byte
	Releases int // Number of times the message went back to ready
}

// Queue is a durable at-least-once queue with reservation semantics
type Queue interface {
	Name() string
	Submit(ctx context.Context, payload []byte) (string, error)
	// WaitAndReserve blocks until a message is reserved, the timeout elapses
	// (nil message, nil error) or ctx is done. A timeout <= 0 blocks indefinitely.
	WaitAndReserve(ctx context.Context, timeout time.Duration) (*Message, error)
	Finish(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
	Abort(ctx context.Context, id string) error
	CountReady(ctx context.Context) (int, error)
	CountReserved(ctx context.Context) (int, error)
	CountFailed(ctx context.Context) (int, error)
	Flush(ctx context.Context) error
}

// Job is a unit of work carried by a message
type Job interface {
	// Type selects the decoder when the job is read back from a queue
	Type() string
	Identifier() string
	Label() string
	Execute(ctx context.Context, q Queue, msg *Message) error
}

// JobFailedError reports a job whose execution failed. The message was
// released or aborted according to the manager's release policy.
type JobFailedError struct {
	JobID     string
	MessageID string
	Aborted   bool
	Cause     error
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %q (message %s) failed", e.JobID, e.MessageID)
}

func (e *JobFailedError) Unwrap() error {
	return e.Cause
}

// IsJobFailed reports whether err is a job execution failure
func IsJobFailed(err error) bool {
	var jobErr *JobFailedError
	return errors.As(err, &jobErr)
}
