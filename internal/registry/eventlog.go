package registry

import (
	"fmt"

	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
)

// EventLogger dumps every event together with the registered applications.
type EventLogger struct {
	reg *Registry
	log loggingpkg.ServiceLogger
}

// NewEventLogger creates an event logger reading applications from reg.
func NewEventLogger(reg *Registry, log loggingpkg.ServiceLogger) *EventLogger {
	return &EventLogger{reg: reg, log: log}
}

func (l *EventLogger) OnEvent(e Event) {
	lines := []string{fmt.Sprintf("event: %s, replication: %t", e.Type, e.Replication)}
	if e.Instance.ID != "" {
		lines = append(lines, "instance: "+e.Instance.String())
	}
	for _, app := range l.reg.Applications() {
		for _, inst := range app.Instances {
			lines = append(lines, fmt.Sprintf("  %s: %s", app.Name, inst))
		}
	}
	loggingpkg.Block(l.log, string(e.Type), lines...)
}
