// Package gochannel runs the WFM event bus in process, for single-node deployments and tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const DefaultBuffer = 1000

type Config struct {
	// Buffer is the output buffer of each subscriber. Zero means DefaultBuffer.
	Buffer int64
	// Synchronous makes Publish wait for every subscriber's ack and replays earlier messages
	// to late subscribers.
	Synchronous bool
}

// New returns a GoChannel that is both the publisher and the subscriber of the bus.
func New(logger watermill.LoggerAdapter, config Config) *gochannel.GoChannel {
	if config.Buffer <= 0 {
		config.Buffer = DefaultBuffer
	}

	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            config.Buffer,
		Persistent:                     config.Synchronous,
		BlockPublishUntilSubscriberAck: config.Synchronous,
	}, logger)
}
