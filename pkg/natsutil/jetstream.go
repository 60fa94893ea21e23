package natsutil

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamConfig describes a bounded, drop-oldest-on-overflow JetStream
// stream, the transport substrate backing the Offload Queue when it must
// survive a process restart or be shared across instances.
type StreamConfig struct {
	Name     string
	Subjects []string
	MaxMsgs  int64
}

// EnsureStream creates or updates a stream with DiscardOld semantics: once
// MaxMsgs is reached, the oldest message is dropped to admit the newest,
// mirroring the in-process queue's bounded-FIFO behaviour.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Name,
		Subjects: cfg.Subjects,
		MaxMsgs:  cfg.MaxMsgs,
		Discard:  jetstream.DiscardOld,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("natsutil: ensure stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// PullConsumer wraps a JetStream durable pull consumer with typed batch
// fetch, used by the Ingestion Worker to dequeue offload jobs in batches.
type PullConsumer[T any] struct {
	consumer jetstream.Consumer
}

// NewPullConsumer creates (or binds to) a durable pull consumer on the
// given stream.
func NewPullConsumer[T any](ctx context.Context, stream jetstream.Stream, durableName string) (*PullConsumer[T], error) {
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:   durableName,
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("natsutil: create consumer %s: %w", durableName, err)
	}
	return &PullConsumer[T]{consumer: consumer}, nil
}

// FetchBatch pulls up to n messages, decodes each as T, and acks successful
// decodes. Malformed messages are acked (to avoid redelivery poison-looping)
// and dropped, matching Subscribe's silent-drop behaviour.
func (c *PullConsumer[T]) FetchBatch(ctx context.Context, n int) ([]T, error) {
	batch, err := c.consumer.Fetch(n, jetstream.FetchMaxWait(nats.DefaultTimeout))
	if err != nil {
		return nil, fmt.Errorf("natsutil: fetch batch: %w", err)
	}

	var out []T
	for msg := range batch.Messages() {
		var v T
		if err := json.Unmarshal(msg.Data(), &v); err != nil {
			msg.Ack()
			continue
		}
		out = append(out, v)
		msg.Ack()
	}
	return out, batch.Error()
}

// PublishJetStream serializes v as JSON and publishes it to the given
// subject within a JetStream-managed stream, returning once the broker has
// persisted the message.
func PublishJetStream[T any](ctx context.Context, js jetstream.JetStream, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = js.Publish(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("natsutil: publish %s: %w", subject, err)
	}
	return nil
}
