package registry

import "time"

// EventType identifies what happened in the registry.
type EventType string

const (
	InstanceRegistered EventType = "InstanceRegistered"
	InstanceRenewed    EventType = "InstanceRenewed"
	InstanceCanceled   EventType = "InstanceCanceled"
	RegistryAvailable  EventType = "RegistryAvailable"
	ServerStarted      EventType = "ServerStarted"
)

// Event describes one registry change. Replication is set when the change
// was forwarded by a peer server rather than made by the instance itself.
type Event struct {
	Type        EventType
	Instance    Instance
	Replication bool
	// Evicted marks cancellations caused by lease expiry.
	Evicted bool
	Time    time.Time
}

// Listener receives registry events synchronously, in the order listeners
// were added.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }
