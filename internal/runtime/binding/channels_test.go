package binding

import (
	"testing"

	"github.com/stretchr/testify/assert"

	configpkg "github.com/drblury/cloudmesh/internal/runtime/config"
)

func TestDefaultBindings(t *testing.T) {
	bindings, unknown := Resolve(nil)
	assert.Empty(t, unknown)

	tests := []struct {
		channel     string
		destination string
		direction   Direction
	}{
		{Output, DestinationMessages, Out},
		{Input, DestinationMessages, In},
		{CustomOutChannel1, DestinationCustom1, Out},
		{CustomInChannel1, DestinationCustom1, In},
		{CustomOutChannel2, DestinationCustom2, Out},
		{CustomInChannel2, DestinationCustom2, In},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			b, ok := bindings[channelKey(tt.channel)]
			assert.True(t, ok)
			assert.Equal(t, tt.channel, b.Channel)
			assert.Equal(t, tt.destination, b.Destination)
			assert.Equal(t, tt.direction, b.Direction)
		})
	}
}

func TestResolveOverrides(t *testing.T) {
	bindings, unknown := Resolve(map[string]configpkg.BindingConfig{
		"customoutchannel1": {Destination: "orders"},
		"CustomInChannel1":  {Destination: "orders", Types: []string{"number"}},
		"bogus":             {Destination: "x"},
	})

	assert.Equal(t, []string{"bogus"}, unknown)
	assert.Equal(t, "orders", bindings[channelKey(CustomOutChannel1)].Destination)
	in := bindings[channelKey(CustomInChannel1)]
	assert.Equal(t, "orders", in.Destination)
	assert.Equal(t, []string{"number"}, in.Types)
	assert.Equal(t, DestinationCustom2, bindings[channelKey(CustomInChannel2)].Destination)
}

func TestBindingAccepts(t *testing.T) {
	open := Binding{}
	assert.True(t, open.Accepts(""))
	assert.True(t, open.Accepts("anything"))

	filtered := Binding{Types: []string{"number", "text"}}
	assert.True(t, filtered.Accepts("text"))
	assert.False(t, filtered.Accepts("image"))
	assert.False(t, filtered.Accepts(""))
}
