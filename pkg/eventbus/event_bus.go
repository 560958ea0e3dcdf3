// Package eventbus delivers workflow progress notifications to observers.
package eventbus

import (
	"context"
	"errors"

	"github.com/dukex/durable/pkg/events"
)

// Notifier receives progress notifications in emission order.
type Notifier interface {
	Notify(ctx context.Context, notification events.Notification) error
}

// NotificationHandler consumes notifications on the subscriber side.
type NotificationHandler func(ctx context.Context, notification events.Notification) error

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, notification events.Notification) error

func (f NotifierFunc) Notify(ctx context.Context, notification events.Notification) error {
	return f(ctx, notification)
}

type multiNotifier []Notifier

// Multi fans a notification out to every notifier, in order. All notifiers are
// called even if one fails; the failures are joined.
func Multi(notifiers ...Notifier) Notifier {
	flat := make(multiNotifier, 0, len(notifiers))

	for _, n := range notifiers {
		if n != nil {
			flat = append(flat, n)
		}
	}

	return flat
}

func (m multiNotifier) Notify(ctx context.Context, notification events.Notification) error {
	var errs []error

	for _, n := range m {
		if err := n.Notify(ctx, notification); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Nop discards notifications.
func Nop() Notifier {
	return NotifierFunc(func(context.Context, events.Notification) error { return nil })
}
