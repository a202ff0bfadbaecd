package binding

import (
	"net/http"
	"sync/atomic"

	"github.com/go-chi/render"
)

type channelStats struct {
	binding Binding

	sent          atomic.Uint64
	failed        atomic.Uint64
	received      atomic.Uint64
	filtered      atomic.Uint64
	handlerErrors atomic.Uint64
	listeners     atomic.Int64
}

func newChannelStats(binding Binding) *channelStats {
	return &channelStats{binding: binding}
}

// BindingInfo is the per-channel view served at /actuator/bindings.
type BindingInfo struct {
	Binding
	Listeners     int64  `json:"listeners"`
	Sent          uint64 `json:"sent"`
	SendFailed    uint64 `json:"send_failed"`
	Received      uint64 `json:"received"`
	Filtered      uint64 `json:"filtered"`
	HandlerErrors uint64 `json:"handler_errors"`
}

func (s *channelStats) snapshot() BindingInfo {
	return BindingInfo{
		Binding:       s.binding,
		Listeners:     s.listeners.Load(),
		Sent:          s.sent.Load(),
		SendFailed:    s.failed.Load(),
		Received:      s.received.Load(),
		Filtered:      s.filtered.Load(),
		HandlerErrors: s.handlerErrors.Load(),
	}
}

// Handler serves the binding snapshot as JSON.
func (b *Binder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]any{
			"transport": b.transportName,
			"bindings":  b.Bindings(),
		})
	})
}
