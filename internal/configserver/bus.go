package configserver

import (
	"context"
	"strings"
	"time"

	"github.com/drblury/cloudmesh/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/cloudmesh/internal/runtime/metadata"
)

// RefreshDestination is the broker destination of refresh events.
const RefreshDestination = "config-refresh"

// RefreshEventType is the type header of refresh events.
const RefreshEventType = "RefreshRemoteApplicationEvent"

// RefreshEvent asks config clients to re-fetch their properties.
type RefreshEvent struct {
	Origin string `json:"origin"`
	// Destination selects the services to refresh: empty or "**" for all,
	// otherwise a service name, optionally followed by ":**".
	Destination string    `json:"destination"`
	Timestamp   time.Time `json:"timestamp"`
}

// Matches reports whether the event targets service.
func (e RefreshEvent) Matches(service string) bool {
	dest := strings.TrimSuffix(e.Destination, ":**")
	return dest == "" || dest == "**" || strings.EqualFold(dest, service)
}

// EncodeRefresh serializes e.
func EncodeRefresh(e RefreshEvent) ([]byte, error) {
	return jsoncodec.Marshal(e)
}

// DecodeRefresh parses a refresh event payload.
func DecodeRefresh(payload []byte) (RefreshEvent, error) {
	var e RefreshEvent
	err := jsoncodec.Unmarshal(payload, &e)
	return e, err
}

// Publisher sends raw payloads to a broker destination. The binding.Binder
// implements it.
type Publisher interface {
	Publish(ctx context.Context, destination string, payload []byte, headers metadatapkg.Metadata) error
}
