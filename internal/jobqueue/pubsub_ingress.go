package jobqueue

import (
	"context"
	"encoding/json"
	"log/slog"

	"cloud.google.com/go/pubsub"

	"github.com/ocx/backend/internal/dda"
)

// pubsubSubmission is the message body external services publish to submit
// a job without going through the REST upload/submit-server-file handlers —
// the same {user_id, server_path, parameters} envelope, serialized as the
// Pub/Sub message payload instead of an HTTP request body.
type pubsubSubmission struct {
	UserID     string      `json:"user_id"`
	ServerPath string      `json:"server_path"`
	Parameters dda.Request `json:"parameters"`
}

// PubSubIngress subscribes to a Cloud Pub/Sub topic and feeds decoded
// messages into the queue's ordinary Submit path, so externally-submitted
// jobs are indistinguishable from REST-submitted ones once enqueued.
type PubSubIngress struct {
	queue *Queue
	sub   *pubsub.Subscription
}

// NewPubSubIngress wraps an already-configured subscription. Callers own
// the client's lifecycle; cancelling the context passed to Run stops the
// receive loop.
func NewPubSubIngress(queue *Queue, sub *pubsub.Subscription) *PubSubIngress {
	return &PubSubIngress{queue: queue, sub: sub}
}

// decodeSubmission parses a Pub/Sub message body, defaulting a blank
// user id to "pubsub-ingress" and copying server_path onto the request's
// FilePath the same way the REST submit-server-file handler does.
func decodeSubmission(data []byte) (userID string, req dda.Request, ok bool, err error) {
	var sub pubsubSubmission
	if err := json.Unmarshal(data, &sub); err != nil {
		return "", dda.Request{}, false, err
	}
	if sub.ServerPath == "" {
		return "", dda.Request{}, false, nil
	}
	sub.Parameters.FilePath = sub.ServerPath
	userID = sub.UserID
	if userID == "" {
		userID = "pubsub-ingress"
	}
	return userID, sub.Parameters, true, nil
}

// Run blocks receiving messages until ctx is cancelled. Malformed or
// incomplete messages are acked and dropped — redelivery won't fix a parse
// error or a missing server_path.
func (p *PubSubIngress) Run(ctx context.Context) error {
	return p.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		defer msg.Ack()

		userID, req, ok, err := decodeSubmission(msg.Data)
		if err != nil {
			slog.Warn("jobqueue: dropping malformed pubsub submission", "error", err)
			return
		}
		if !ok {
			slog.Warn("jobqueue: pubsub submission missing server_path")
			return
		}

		job := p.queue.Submit(userID, req)
		slog.Info("jobqueue: job submitted via pubsub ingress", "job_id", job.ID, "user_id", userID)
	})
}
