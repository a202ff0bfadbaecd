package binding

import (
	"sort"
	"strings"

	configpkg "github.com/drblury/cloudmesh/internal/runtime/config"
)

// Direction tells whether a channel produces or consumes messages.
type Direction string

const (
	In  Direction = "in"
	Out Direction = "out"
)

// Logical channel names.
const (
	Output            = "output"
	Input             = "input"
	CustomOutChannel1 = "customOutChannel1"
	CustomOutChannel2 = "customOutChannel2"
	CustomInChannel1  = "customInChannel1"
	CustomInChannel2  = "customInChannel2"
)

// Default broker destinations.
const (
	DestinationMessages = "messages"
	DestinationCustom1  = "custom-1"
	DestinationCustom2  = "custom-2"
)

// Binding maps a logical channel onto a broker destination. An input binding
// with Types only delivers envelopes whose type header is listed.
type Binding struct {
	Channel     string    `json:"channel"`
	Destination string    `json:"destination"`
	Direction   Direction `json:"direction"`
	Types       []string  `json:"types,omitempty"`
}

// Accepts reports whether a message carrying msgType passes the type filter.
func (b Binding) Accepts(msgType string) bool {
	if len(b.Types) == 0 {
		return true
	}
	for _, t := range b.Types {
		if t == msgType {
			return true
		}
	}
	return false
}

// DefaultBindings returns the six standard channels.
func DefaultBindings() []Binding {
	return []Binding{
		{Channel: Output, Destination: DestinationMessages, Direction: Out},
		{Channel: Input, Destination: DestinationMessages, Direction: In},
		{Channel: CustomOutChannel1, Destination: DestinationCustom1, Direction: Out},
		{Channel: CustomOutChannel2, Destination: DestinationCustom2, Direction: Out},
		{Channel: CustomInChannel1, Destination: DestinationCustom1, Direction: In},
		{Channel: CustomInChannel2, Destination: DestinationCustom2, Direction: In},
	}
}

// Resolve applies configured overrides to the default bindings. Override keys
// match channel names case-insensitively; unknown keys are returned so the
// caller can report them.
func Resolve(overrides map[string]configpkg.BindingConfig) (map[string]Binding, []string) {
	bindings := make(map[string]Binding, 6)
	for _, b := range DefaultBindings() {
		bindings[channelKey(b.Channel)] = b
	}

	var unknown []string
	for name, override := range overrides {
		key := channelKey(name)
		b, ok := bindings[key]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if override.Destination != "" {
			b.Destination = override.Destination
		}
		if len(override.Types) > 0 {
			b.Types = append([]string(nil), override.Types...)
		}
		bindings[key] = b
	}
	sort.Strings(unknown)
	return bindings, unknown
}

func channelKey(channel string) string {
	return strings.ToLower(strings.TrimSpace(channel))
}
