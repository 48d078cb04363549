// Package queue provides the Redis pub/sub wakeup signal layered on top
// of the GORM-backed ingestion_jobs table (infrastructure/persistence).
// Redis carries no job state; it only lets the worker wake early instead
// of waiting out its poll interval.
package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// JobEnqueuedChannel is the pub/sub channel the producer publishes to
// after every successful job insert.
const JobEnqueuedChannel = "rephole:job.enqueued"

// Notifier publishes job-enqueued notifications.
type Notifier struct {
	client *redis.Client
}

// NewNotifier creates a Notifier over an existing Redis client.
func NewNotifier(client *redis.Client) Notifier {
	return Notifier{client: client}
}

// NotifyJobEnqueued publishes jobID on the wakeup channel. Publish
// failures are non-fatal to the caller's enqueue operation — the worker
// falls back to polling on a timer, so a dropped notification only adds
// latency, never lost work.
func (n Notifier) NotifyJobEnqueued(ctx context.Context, jobID string) error {
	if n.client == nil {
		return nil
	}
	if err := n.client.Publish(ctx, JobEnqueuedChannel, jobID).Err(); err != nil {
		return fmt.Errorf("publish job enqueued notification: %w", err)
	}
	return nil
}

// Subscriber wraps a Redis subscription to the wakeup channel.
type Subscriber struct {
	sub *redis.PubSub
}

// Subscribe opens a subscription to the wakeup channel. Callers must
// call Close when done.
func Subscribe(ctx context.Context, client *redis.Client) Subscriber {
	return Subscriber{sub: client.Subscribe(ctx, JobEnqueuedChannel)}
}

// Notifications returns a channel of job IDs published on the wakeup
// channel. The channel closes when the subscription is closed.
func (s Subscriber) Notifications() <-chan string {
	out := make(chan string)
	msgs := s.sub.Channel()
	go func() {
		defer close(out)
		for msg := range msgs {
			out <- msg.Payload
		}
	}()
	return out
}

// Close closes the underlying subscription.
func (s Subscriber) Close() error {
	return s.sub.Close()
}

// NewClient builds a go-redis client from host/port/password/db.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}
