package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	errspkg "github.com/drblury/cloudmesh/internal/runtime/errors"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
)

// DefaultLeaseDuration is how long an instance stays registered without a
// heartbeat.
const DefaultLeaseDuration = 90 * time.Second

// Options configures a Registry.
type Options struct {
	LeaseDuration time.Duration
	Logger        loggingpkg.ServiceLogger
	// Now overrides the clock.
	Now func() time.Time
}

// Registry holds the registered instances of every application. Mutations
// emit events to the registered listeners after the registry lock is
// released.
type Registry struct {
	lease time.Duration
	log   loggingpkg.ServiceLogger
	now   func() time.Time

	mu   sync.RWMutex
	apps map[string]map[string]Instance

	lmu       sync.RWMutex
	listeners []Listener
}

// New creates an empty registry.
func New(opts Options) *Registry {
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = DefaultLeaseDuration
	}
	if opts.Logger == nil {
		opts.Logger = loggingpkg.NewNopServiceLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		lease: opts.LeaseDuration,
		log:   opts.Logger,
		now:   opts.Now,
		apps:  make(map[string]map[string]Instance),
	}
}

// AddListener appends l to the listeners notified of every event.
func (r *Registry) AddListener(l Listener) {
	r.lmu.Lock()
	r.listeners = append(r.listeners, l)
	r.lmu.Unlock()
}

// Emit delivers e to every listener. The registry emits mutation events
// itself; callers use Emit for lifecycle events like ServerStarted.
func (r *Registry) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = r.now()
	}
	r.lmu.RLock()
	listeners := append([]Listener(nil), r.listeners...)
	r.lmu.RUnlock()

	for _, l := range listeners {
		l.OnEvent(e)
	}
}

// Register adds or replaces inst. App names are upper-cased and missing ids
// are derived from host, app and port.
func (r *Registry) Register(inst Instance, replication bool) (Instance, error) {
	if err := inst.normalize(); err != nil {
		return Instance{}, err
	}
	now := r.now()

	r.mu.Lock()
	instances, ok := r.apps[inst.App]
	if !ok {
		instances = make(map[string]Instance)
		r.apps[inst.App] = instances
	}
	if existing, ok := instances[inst.ID]; ok && !existing.RegisteredAt.IsZero() {
		inst.RegisteredAt = existing.RegisteredAt
	} else {
		inst.RegisteredAt = now
	}
	inst.LastRenewal = now
	instances[inst.ID] = inst.clone()
	r.mu.Unlock()

	r.log.Debug("Registered instance", loggingpkg.LogFields{
		"app":         inst.App,
		"id":          inst.ID,
		"replication": replication,
	})
	r.Emit(Event{Type: InstanceRegistered, Instance: inst, Replication: replication, Time: now})
	return inst, nil
}

// Renew records a heartbeat. It returns ErrInstanceNotFound when the
// instance is unknown so the client registers again.
func (r *Registry) Renew(app, id string, replication bool) error {
	app = NormalizeApp(app)
	now := r.now()

	r.mu.Lock()
	inst, ok := r.apps[app][id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", errspkg.ErrInstanceNotFound, app, id)
	}
	inst.LastRenewal = now
	r.apps[app][id] = inst
	r.mu.Unlock()

	r.Emit(Event{Type: InstanceRenewed, Instance: inst.clone(), Replication: replication, Time: now})
	return nil
}

// Cancel removes an instance.
func (r *Registry) Cancel(app, id string, replication bool) error {
	app = NormalizeApp(app)

	r.mu.Lock()
	inst, ok := r.apps[app][id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", errspkg.ErrInstanceNotFound, app, id)
	}
	r.removeLocked(app, id)
	r.mu.Unlock()

	r.log.Debug("Canceled instance", loggingpkg.LogFields{
		"app":         app,
		"id":          id,
		"replication": replication,
	})
	r.Emit(Event{Type: InstanceCanceled, Instance: inst, Replication: replication})
	return nil
}

func (r *Registry) removeLocked(app, id string) {
	delete(r.apps[app], id)
	if len(r.apps[app]) == 0 {
		delete(r.apps, app)
	}
}

// Evict removes every instance whose lease expired before now and returns
// them.
func (r *Registry) Evict(now time.Time) []Instance {
	var evicted []Instance

	r.mu.Lock()
	for app, instances := range r.apps {
		for id, inst := range instances {
			if now.Sub(inst.LastRenewal) > r.lease {
				evicted = append(evicted, inst)
				r.removeLocked(app, id)
			}
		}
	}
	r.mu.Unlock()

	SortByPort(evicted)
	for _, inst := range evicted {
		r.log.Info("Evicted instance", loggingpkg.LogFields{"app": inst.App, "id": inst.ID})
		r.Emit(Event{Type: InstanceCanceled, Instance: inst, Evicted: true, Time: now})
	}
	return evicted
}

// RunEviction evicts expired leases every interval until ctx ends.
func (r *Registry) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.lease
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict(r.now())
		}
	}
}

// Application returns the instances of name sorted by port.
func (r *Registry) Application(name string) (Application, bool) {
	name = NormalizeApp(name)

	r.mu.RLock()
	defer r.mu.RUnlock()
	instances, ok := r.apps[name]
	if !ok {
		return Application{}, false
	}
	return r.applicationLocked(name, instances), true
}

// Applications returns every application sorted by name.
func (r *Registry) Applications() []Application {
	r.mu.RLock()
	defer r.mu.RUnlock()

	apps := make([]Application, 0, len(r.apps))
	for name, instances := range r.apps {
		apps = append(apps, r.applicationLocked(name, instances))
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })
	return apps
}

func (r *Registry) applicationLocked(name string, instances map[string]Instance) Application {
	app := Application{Name: name, Instances: make([]Instance, 0, len(instances))}
	for _, inst := range instances {
		app.Instances = append(app.Instances, inst.clone())
	}
	SortByPort(app.Instances)
	return app
}
