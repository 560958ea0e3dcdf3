// Package gochannel provides the in-process transport for progress notifications.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// CreateChannel creates the GoChannel used between an executor and in-process observers.
// Publishing blocks until the subscriber acknowledges, so observers see notifications
// in emission order and a run never races ahead of its observers.
func CreateChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: true,
		},
		logger,
	)
}

// CreateTestChannel keeps published messages so a subscriber attached late still
// receives the full stream.
func CreateTestChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            16,
			Persistent:                     true,
			BlockPublishUntilSubscriberAck: true,
		},
		logger,
	)
}
