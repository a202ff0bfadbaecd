package transport

// Capabilities describes what a broker offers to the binding layer.
type Capabilities struct {
	Name string

	// SupportsOrdering is true when messages of one destination arrive in order.
	SupportsOrdering bool
	// SupportsAck is true when the broker redelivers unacknowledged messages.
	SupportsAck  bool
	SupportsNack bool
	// SupportsNativeDLQ is true when the broker dead-letters on its own. When
	// false the binder routes failures to the poison queue itself.
	SupportsNativeDLQ bool
	// SupportsConsumerGroups is true when instances of one service share a
	// destination instead of each receiving every message.
	SupportsConsumerGroups bool
	// Distributed is false for transports that only connect a single process.
	Distributed bool

	// MaxMessageSize is the maximum message size in bytes (0 = unknown).
	MaxMessageSize int64
}

// RequiresDLQEmulation reports whether failed messages must be routed by the
// application.
func (c Capabilities) RequiresDLQEmulation() bool {
	return !c.SupportsNativeDLQ
}

// SupportsReliableDelivery reports at-least-once delivery (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Capability sets of the bundled transports.
var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	KafkaCapabilities = Capabilities{
		Name:                   "kafka",
		SupportsOrdering:       true,
		SupportsAck:            true,
		SupportsConsumerGroups: true,
		Distributed:            true,
		MaxMessageSize:         1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:                   "rabbitmq",
		SupportsOrdering:       true,
		SupportsAck:            true,
		SupportsNack:           true,
		SupportsNativeDLQ:      true,
		SupportsConsumerGroups: true,
		Distributed:            true,
	}

	NATSCapabilities = Capabilities{
		Name:                   "nats",
		SupportsConsumerGroups: true,
		Distributed:            true,
		MaxMessageSize:         1048576,
	}

	HTTPCapabilities = Capabilities{
		Name:        "http",
		Distributed: true,
	}

	AWSCapabilities = Capabilities{
		Name:                   "aws",
		SupportsAck:            true,
		SupportsNack:           true,
		SupportsNativeDLQ:      true,
		SupportsConsumerGroups: true,
		Distributed:            true,
		MaxMessageSize:         262144,
	}
)

// GetCapabilities returns the capabilities registered for transportName on
// the default registry.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
