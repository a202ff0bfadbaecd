// Package channel provides the in-memory transport built on Watermill's
// gochannel pub/sub. It is the default when no broker is configured and
// only connects handlers of the same process.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/cloudmesh/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// AliasName is accepted as a synonym of TransportName.
const AliasName = "gochannel"

// OutputBuffer sizes the per-subscriber buffer so that publishers do not
// block on slow consumers.
const OutputBuffer = 64

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register(transport.DefaultRegistry)
}

// Register adds the channel transport and its alias to reg.
func Register(reg *transport.Registry) {
	reg.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
	reg.Alias(AliasName, TransportName)
}

// Build creates a new Go channel transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: OutputBuffer}, logger)
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
