package queue

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/elevend0g/vicw/engine/domain"
	"github.com/elevend0g/vicw/pkg/natsutil"
)

// JetStreamQueue is a durable Offload Queue backed by a bounded,
// drop-oldest JetStream stream, used in place of the in-process Queue when
// offload jobs must survive a process restart or be shared across
// instances of the Ingestion Worker.
type JetStreamQueue struct {
	js       jetstream.JetStream
	subject  string
	consumer *natsutil.PullConsumer[domain.OffloadJob]
}

// NewJetStreamQueue ensures a bounded, drop-oldest stream named streamName
// covering subject, binds a durable pull consumer to it, and returns a
// JetStreamQueue ready to Enqueue/DequeueBatch against it.
func NewJetStreamQueue(ctx context.Context, js jetstream.JetStream, streamName, subject, durableName string, maxMsgs int64) (*JetStreamQueue, error) {
	stream, err := natsutil.EnsureStream(ctx, js, natsutil.StreamConfig{
		Name:     streamName,
		Subjects: []string{subject},
		MaxMsgs:  maxMsgs,
	})
	if err != nil {
		return nil, err
	}

	consumer, err := natsutil.NewPullConsumer[domain.OffloadJob](ctx, stream, durableName)
	if err != nil {
		return nil, err
	}

	return &JetStreamQueue{js: js, subject: subject, consumer: consumer}, nil
}

// Enqueue publishes job to the underlying stream. It has no error return,
// so a publish failure is dropped without logging or retry; EnqueueContext
// returns the error instead.
func (q *JetStreamQueue) Enqueue(job domain.OffloadJob) {
	if err := natsutil.PublishJetStream(context.Background(), q.js, q.subject, job); err != nil {
		// The hot path must never block; a durable-queue publish failure is
		// dropped here, not logged or retried.
		return
	}
}

// EnqueueContext is Enqueue with a caller-supplied context and a returned
// error, for callers that want to react to publish failures.
func (q *JetStreamQueue) EnqueueContext(ctx context.Context, job domain.OffloadJob) error {
	if err := natsutil.PublishJetStream(ctx, q.js, q.subject, job); err != nil {
		return fmt.Errorf("queue: jetstream enqueue: %w", err)
	}
	return nil
}

// DequeueBatch pulls up to n jobs from the durable consumer. On a fetch
// error it returns nil, matching the in-process Queue's empty-batch shape
// rather than propagating transport errors into the Ingestion Worker loop.
func (q *JetStreamQueue) DequeueBatch(n int) []domain.OffloadJob {
	batch, err := q.consumer.FetchBatch(context.Background(), n)
	if err != nil {
		return nil
	}
	return batch
}
