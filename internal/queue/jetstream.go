package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStream is the subset of jetstream.JetStream the queue uses
type JetStream interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error)
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// jetStreamNew is a variable to allow mocking jetstream.New in tests.
var jetStreamNew = func(nc *nats.Conn) (JetStream, error) {
	return jetstream.New(nc)
}

// fetchSlice bounds a single pull so cancellation is noticed
const fetchSlice = 5 * time.Second

const consumerName = "nodequeue-worker"

// Connect opens a NATS connection for the JetStream backend
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("nodequeue"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

// JetStreamQueue keeps jobs in a work-queue stream. Jobs live on
// "<name>.jobs", aborted ones are moved to "<name>.failed".
type JetStreamQueue struct {
	name          string
	streamName    string
	jobsSubject   string
	failedSubject string

	js       JetStream
	stream   jetstream.Stream
	consumer jetstream.Consumer

	mu       sync.Mutex
	inFlight map[string]jetstream.Msg
}

// NewJetStreamQueue creates the stream and durable consumer for a queue
func NewJetStreamQueue(ctx context.Context, nc *nats.Conn, name string, ackWait time.Duration) (*JetStreamQueue, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	js, err := jetStreamNew(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}
	return NewJetStreamQueueFromJS(ctx, js, name, ackWait)
}

// NewJetStreamQueueFromJS is NewJetStreamQueue over an existing JetStream handle
func NewJetStreamQueueFromJS(ctx context.Context, js JetStream, name string, ackWait time.Duration) (*JetStreamQueue, error) {
	q := &JetStreamQueue{
		name:          name,
		streamName:    streamName(name),
		jobsSubject:   name + ".jobs",
		failedSubject: name + ".failed",
		js:            js,
		inFlight:      make(map[string]jetstream.Msg),
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      q.streamName,
		Subjects:  []string{q.jobsSubject, q.failedSubject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure stream %s: %w", q.streamName, err)
	}
	q.stream = stream

	cfg := jetstream.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: q.jobsSubject,
	}
	if ackWait > 0 {
		cfg.AckWait = ackWait
	}
	consumer, err := js.CreateOrUpdateConsumer(ctx, q.streamName, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for %s: %w", q.streamName, err)
	}
	q.consumer = consumer
	return q, nil
}

// streamName maps a queue name onto a valid stream name
func streamName(queue string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(queue))
}

func (q *JetStreamQueue) Name() string { return q.name }

func (q *JetStreamQueue) Submit(ctx context.Context, payload []byte) (string, error) {
	ack, err := q.js.Publish(ctx, q.jobsSubject, payload, jetstream.WithExpectStream(q.streamName))
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", q.jobsSubject, err)
	}
	return strconv.FormatUint(ack.Sequence, 10), nil
}

func (q *JetStreamQueue) WaitAndReserve(ctx context.Context, timeout time.Duration) (*Message, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		wait := fetchSlice
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, nil
			}
			if remaining < wait {
				wait = remaining
			}
		}

		msg, err := q.consumer.Next(jetstream.FetchMaxWait(wait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return nil, fmt.Errorf("failed to fetch from %s: %w", q.streamName, err)
		}

		meta, err := msg.Metadata()
		if err != nil {
			_ = msg.Nak()
			return nil, fmt.Errorf("failed to read message metadata: %w", err)
		}
		id := strconv.FormatUint(meta.Sequence.Stream, 10)

		q.mu.Lock()
		q.inFlight[id] = msg
		q.mu.Unlock()

		releases := 0
		if meta.NumDelivered > 1 {
			releases = int(meta.NumDelivered - 1)
		}
		return &Message{ID: id, Payload: msg.Data(), Releases: releases}, nil
	}
}

func (q *JetStreamQueue) Finish(ctx context.Context, id string) error {
	msg, err := q.take(id)
	if err != nil {
		return err
	}
	return msg.Ack()
}

func (q *JetStreamQueue) Release(ctx context.Context, id string) error {
	msg, err := q.take(id)
	if err != nil {
		return err
	}
	return msg.Nak()
}

// Abort keeps a copy of the payload on the failed subject and terminates
// redelivery of the original.
func (q *JetStreamQueue) Abort(ctx context.Context, id string) error {
	msg, err := q.take(id)
	if err != nil {
		return err
	}
	if _, err := q.js.Publish(ctx, q.failedSubject, msg.Data(), jetstream.WithExpectStream(q.streamName)); err != nil {
		// Put it back so the message is not lost
		q.mu.Lock()
		q.inFlight[id] = msg
		q.mu.Unlock()
		return fmt.Errorf("failed to move message %s to %s: %w", id, q.failedSubject, err)
	}
	return msg.Term()
}

// CountReady counts undelivered messages plus released ones waiting for
// redelivery. A Nak keeps a message in the consumer's ack-pending set, so the
// redelivered share is moved from reserved to ready.
func (q *JetStreamQueue) CountReady(ctx context.Context) (int, error) {
	info, err := q.consumer.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get consumer info: %w", err)
	}
	return int(info.NumPending) + info.NumRedelivered, nil
}

func (q *JetStreamQueue) CountReserved(ctx context.Context) (int, error) {
	info, err := q.consumer.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get consumer info: %w", err)
	}
	return max(info.NumAckPending-info.NumRedelivered, 0), nil
}

func (q *JetStreamQueue) CountFailed(ctx context.Context) (int, error) {
	info, err := q.stream.Info(ctx, jetstream.WithSubjectFilter(q.failedSubject))
	if err != nil {
		return 0, fmt.Errorf("failed to get stream info: %w", err)
	}
	return int(info.State.Subjects[q.failedSubject]), nil
}

func (q *JetStreamQueue) Flush(ctx context.Context) error {
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("failed to purge stream %s: %w", q.streamName, err)
	}
	q.mu.Lock()
	q.inFlight = make(map[string]jetstream.Msg)
	q.mu.Unlock()
	return nil
}

func (q *JetStreamQueue) take(id string) (jetstream.Msg, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.inFlight[id]
	if !ok {
		return nil, fmt.Errorf("message %s is not reserved by this worker", id)
	}
	delete(q.inFlight, id)
	return msg, nil
}
