package jobqueue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// progressChannel is the Redis pub/sub channel progress events are mirrored
// to, so a second API replica's SSE subscribers can observe jobs dispatched
// from a different process.
const progressChannel = "ddalab:job-progress"

// RedisFanout mirrors progress events onto Redis pub/sub. A nil *RedisFanout
// is valid and simply a no-op, so wiring it is optional per deployment.
type RedisFanout struct {
	client *redis.Client
}

// NewRedisFanout wraps a Redis client for progress mirroring. Pass nil to
// disable cross-process fan-out entirely.
func NewRedisFanout(client *redis.Client) *RedisFanout {
	if client == nil {
		return nil
	}
	return &RedisFanout{client: client}
}

func (f *RedisFanout) publish(ctx context.Context, ev ProgressEvent) {
	if f == nil || f.client == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := f.client.Publish(ctx, progressChannel, data).Err(); err != nil {
		slog.Warn("jobqueue: redis progress publish failed", "job_id", ev.JobID, "error", err)
	}
}

// Subscribe opens a Redis pub/sub subscription that decodes ProgressEvents
// as they arrive; callers are responsible for closing the returned
// *redis.PubSub when done.
func (f *RedisFanout) Subscribe(ctx context.Context) (*redis.PubSub, <-chan ProgressEvent, error) {
	if f == nil || f.client == nil {
		return nil, nil, nil
	}
	pubsub := f.client.Subscribe(ctx, progressChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, err
	}

	out := make(chan ProgressEvent, 32)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var ev ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Warn("jobqueue: failed to decode redis progress event", "error", err)
				continue
			}
			out <- ev
		}
	}()
	return pubsub, out, nil
}
