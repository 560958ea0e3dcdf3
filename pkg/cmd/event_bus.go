package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	localchannel "github.com/dukex/durable/pkg/channels/gochannel"
	"github.com/dukex/durable/pkg/channels/kafka"
	"github.com/dukex/durable/pkg/config"
	"github.com/dukex/durable/pkg/eventbus"
)

// Progress is the notification plumbing of one orchestrator process. Every
// notification is logged and published on the local channel, and on Kafka when
// brokers are configured.
type Progress struct {
	Local    *gochannel.GoChannel
	Notifier eventbus.Notifier

	closers []func() error
}

func NewProgress(cfg config.Engine, logger *slog.Logger) (*Progress, error) {
	watermillLogger := watermill.NewSlogLogger(logger)

	local := localchannel.CreateChannel(watermillLogger)

	p := &Progress{
		Local:   local,
		closers: []func() error{local.Close},
	}

	notifiers := []eventbus.Notifier{
		eventbus.NewLogNotifier(logger),
		eventbus.NewWatermillNotifier(local),
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := kafka.CreatePublisher(cfg.Kafka.Brokers, watermillLogger)
		if err != nil {
			_ = p.Close()

			return nil, fmt.Errorf("failed to create Kafka publisher: %w", err)
		}

		p.closers = append(p.closers, pub.Close)
		notifiers = append(notifiers, eventbus.NewWatermillNotifier(pub))
	}

	p.Notifier = eventbus.Multi(notifiers...)

	return p, nil
}

// Follow passes the notifications of workflowID published on the local channel to
// handler.
func (p *Progress) Follow(ctx context.Context, workflowID string, handler eventbus.NotificationHandler, logger *slog.Logger) error {
	return eventbus.Subscribe(ctx, p.Local, workflowID, handler, logger)
}

func (p *Progress) Close() error {
	var errs []error

	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// NewRemoteSubscriber subscribes to notifications published on Kafka by other
// processes.
func NewRemoteSubscriber(cfg config.Engine, logger *slog.Logger) (message.Subscriber, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("watching remote progress requires kafka brokers")
	}

	sub, err := kafka.CreateSubscriber(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka subscriber: %w", err)
	}

	return sub, nil
}
