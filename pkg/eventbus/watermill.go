package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/durable/pkg/events"
)

// WatermillNotifier publishes notifications as watermill messages on events.Topic.
// Ordering is preserved when the publisher delivers synchronously, e.g. a GoChannel
// configured to block until the subscriber acknowledges.
type WatermillNotifier struct {
	publisher message.Publisher
}

func NewWatermillNotifier(pub message.Publisher) *WatermillNotifier {
	return &WatermillNotifier{publisher: pub}
}

func (n *WatermillNotifier) Notify(ctx context.Context, notification events.Notification) error {
	if notification.ID == "" {
		notification.ID = watermill.NewULID()
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+notification.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.NotificationTypeMetadataKey, string(notification.Type))
	msg.Metadata.Set(events.WorkflowIDMetadataKey, notification.WorkflowID)
	msg.Metadata.Set(events.SeqMetadataKey, strconv.FormatInt(notification.Seq, 10))

	return n.publisher.Publish(events.Topic, msg)
}

func (n *WatermillNotifier) Close() error {
	return n.publisher.Close()
}

// Subscribe decodes notifications from sub and passes them to handler until ctx is
// done or the subscription closes. When workflowID is not empty, notifications of
// other workflows are acknowledged and dropped. Undecodable messages and messages
// whose handler fails are logged and acknowledged: a publisher waiting for the ack
// must never be held up by a broken observer.
func Subscribe(ctx context.Context, sub message.Subscriber, workflowID string, handler NotificationHandler, logger *slog.Logger) error {
	messages, err := sub.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	logger = logger.With("module", "progress_subscriber")

	go func() {
		for msg := range messages {
			if workflowID != "" && msg.Metadata.Get(events.WorkflowIDMetadataKey) != workflowID {
				msg.Ack()

				continue
			}

			var notification events.Notification

			if err := json.Unmarshal(msg.Payload, &notification); err != nil {
				logger.Warn("Dropping undecodable notification", "message_uuid", msg.UUID, "error", err)
				msg.Ack()

				continue
			}

			if err := handler(ctx, notification); err != nil {
				logger.Warn("Notification handler failed, dropping notification",
					"workflow_id", notification.WorkflowID, "seq", notification.Seq, "error", err)
			}

			msg.Ack()
		}
	}()

	return nil
}
