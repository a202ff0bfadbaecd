package binding

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/drblury/cloudmesh/internal/envelope"
	metadatapkg "github.com/drblury/cloudmesh/internal/runtime/metadata"
)

// Payload schemas carried in the event schema header.
const (
	SchemaString   = "google.protobuf.StringValue"
	SchemaEnvelope = "cloudmesh.CustomMessage"
)

const contentTypeJSON = "application/json"

// SendString publishes text as a protobuf StringValue.
func (b *Binder) SendString(ctx context.Context, channel, text string) bool {
	payload, err := protojson.Marshal(wrapperspb.String(text))
	if err != nil {
		b.log.Error("Failed to encode string payload", err, nil)
		return false
	}
	return b.Send(ctx, channel, payload, metadatapkg.New(
		metadatapkg.KeyContentType, contentTypeJSON,
		metadatapkg.KeyEventSchema, SchemaString,
	))
}

// SendEnvelope publishes m with its type in the type header.
func (b *Binder) SendEnvelope(ctx context.Context, channel string, m envelope.Message) bool {
	payload, err := envelope.Encode(m)
	if err != nil {
		b.log.Error("Failed to encode envelope", err, nil)
		return false
	}
	return b.Send(ctx, channel, payload, metadatapkg.New(
		metadatapkg.KeyContentType, contentTypeJSON,
		metadatapkg.KeyEventSchema, SchemaEnvelope,
		metadatapkg.KeyType, m.Type,
	))
}

// ListenString registers handler for StringValue payloads on channel.
func (b *Binder) ListenString(channel, name string, handler func(ctx context.Context, text string) error) error {
	return b.Listen(channel, name, func(msg *message.Message) error {
		var value wrapperspb.StringValue
		if err := protojson.Unmarshal(msg.Payload, &value); err != nil {
			return &UnprocessableMessageError{Payload: string(msg.Payload), Err: err}
		}
		return handler(msg.Context(), value.GetValue())
	})
}

// ListenEnvelope registers handler for envelope payloads on channel.
func (b *Binder) ListenEnvelope(channel, name string, handler func(ctx context.Context, m envelope.Message) error) error {
	return b.Listen(channel, name, func(msg *message.Message) error {
		m, err := envelope.Decode(msg.Payload)
		if err != nil {
			return &UnprocessableMessageError{Payload: string(msg.Payload), Err: err}
		}
		return handler(msg.Context(), m)
	})
}
