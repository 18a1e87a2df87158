package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"gocloud.dev/pubsub"

	"github.com/allisson/syncbox/internal/dispatch/domain"

	// The in-memory driver backs local runs and tests; cloud drivers register
	// themselves the same way when imported.
	_ "gocloud.dev/pubsub/mempubsub"
)

// PubSubNotifier publishes completed-sync notifications to a message topic
// opened by URL (mem://, gcppubsub://, awssnssqs://, ...).
type PubSubNotifier struct {
	topic  *pubsub.Topic
	logger *slog.Logger
}

// NewPubSubNotifier opens the topic behind topicURL.
func NewPubSubNotifier(ctx context.Context, topicURL string, logger *slog.Logger) (*PubSubNotifier, error) {
	topic, err := pubsub.OpenTopic(ctx, topicURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open notification topic: %w", err)
	}

	return &PubSubNotifier{
		topic:  topic,
		logger: logger,
	}, nil
}

// Handle publishes the action payload with its routing metadata.
func (n *PubSubNotifier) Handle(ctx context.Context, action *domain.Action) (*string, error) {
	message := &pubsub.Message{
		Body: action.Payload,
		Metadata: map[string]string{
			"action_id":   action.ID.String(),
			"action_type": action.ActionType,
			"dedupe_key":  action.DedupeKey,
			"trace_id":    action.TraceID.String(),
		},
	}

	if err := n.topic.Send(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to publish notification: %w", err)
	}

	result := `{"published":true}`
	return &result, nil
}

// Shutdown releases the topic.
func (n *PubSubNotifier) Shutdown(ctx context.Context) error {
	return n.topic.Shutdown(ctx)
}

// LogNotifier is an ActionHandler that only logs, for running without a
// message broker.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Handle logs the action instead of producing an external side effect.
func (n *LogNotifier) Handle(ctx context.Context, action *domain.Action) (*string, error) {
	if n.logger != nil {
		n.logger.Info("notification",
			slog.String("action_id", action.ID.String()),
			slog.String("action_type", action.ActionType),
			slog.String("dedupe_key", action.DedupeKey),
			slog.String("trace_id", action.TraceID.String()),
		)
	}

	result := `{"logged":true}`
	return &result, nil
}
