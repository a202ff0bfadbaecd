// Package keeper keeps a fixed set of registry server instances running. The
// instance with the smallest port watches replicated heartbeats and launches
// every configured instance that is missing.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/process"

	"github.com/drblury/cloudmesh/internal/registry"
	configpkg "github.com/drblury/cloudmesh/internal/runtime/config"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
	metricspkg "github.com/drblury/cloudmesh/internal/runtime/metrics"
)

// Defaults.
const (
	DefaultSettleDelay  = 5 * time.Second
	DefaultPollInterval = 2 * time.Second
)

// Options configures a Keeper.
type Options struct {
	OwnPort int
	// Targets maps a port key (decorations allowed) to the profile that
	// runs on it.
	Targets      map[string]string
	SettleDelay  time.Duration
	PollInterval time.Duration

	Discovery registry.Discovery
	Launcher  Launcher
	Logger    loggingpkg.ServiceLogger
	// Registerer receives the launch counter; nothing is registered when nil.
	Registerer prometheus.Registerer

	// PortFree and PidExists override the OS checks.
	PortFree  func(port int) bool
	PidExists func(pid int32) (bool, error)
}

type restart struct {
	pid      int32
	settling bool
}

// Keeper reacts to registry events. It is a registry.Listener.
type Keeper struct {
	ownPort      int
	targets      map[int]string
	ports        []int
	settleDelay  time.Duration
	pollInterval time.Duration

	discovery registry.Discovery
	launcher  Launcher
	log       loggingpkg.ServiceLogger
	portFree  func(int) bool
	pidExists func(int32) (bool, error)
	launches  *prometheus.CounterVec

	mu         sync.Mutex
	restarting map[int]*restart
}

// New validates opts and creates a keeper.
func New(opts Options) (*Keeper, error) {
	if opts.Discovery == nil {
		return nil, errors.New("keeper: discovery is required")
	}
	if opts.Launcher == nil {
		return nil, errors.New("keeper: launcher is required")
	}

	targets := make(map[int]string, len(opts.Targets))
	for key, profile := range opts.Targets {
		port, err := configpkg.ParseTargetPort(key)
		if err != nil {
			return nil, err
		}
		targets[port] = profile
	}
	ports := make([]int, 0, len(targets))
	for port := range targets {
		ports = append(ports, port)
	}
	sort.Ints(ports)

	k := &Keeper{
		ownPort:      opts.OwnPort,
		targets:      targets,
		ports:        ports,
		settleDelay:  opts.SettleDelay,
		pollInterval: opts.PollInterval,
		discovery:    opts.Discovery,
		launcher:     opts.Launcher,
		log:          opts.Logger,
		portFree:     opts.PortFree,
		pidExists:    opts.PidExists,
		restarting:   make(map[int]*restart),
	}
	if k.settleDelay <= 0 {
		k.settleDelay = DefaultSettleDelay
	}
	if k.pollInterval <= 0 {
		k.pollInterval = DefaultPollInterval
	}
	if k.log == nil {
		k.log = loggingpkg.NewNopServiceLogger()
	}
	if k.portFree == nil {
		k.portFree = PortFree
	}
	if k.pidExists == nil {
		k.pidExists = process.PidExists
	}
	launches, err := metricspkg.RegisterCounterVec(opts.Registerer,
		metricspkg.NewCounterVec("keeper", "launches_total", "Instance launches by outcome.", []string{"outcome"}))
	if err != nil {
		return nil, fmt.Errorf("register keeper metrics: %w", err)
	}
	k.launches = launches
	return k, nil
}

// PortFree reports whether port can be bound locally.
func PortFree(port int) bool {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// OnEvent implements registry.Listener.
func (k *Keeper) OnEvent(e registry.Event) {
	switch e.Type {
	case registry.InstanceRenewed:
		if e.Replication {
			k.Reconcile(e.Instance.App)
		}
	case registry.InstanceRegistered:
		k.registered(e.Instance.Port)
	}
}

// Reconcile launches the missing target instances of app when this keeper
// is the instance with the smallest port and the instance count is off. It
// returns the ports launched.
func (k *Keeper) Reconcile(app string) []int {
	instances := k.discovery.Instances(app)
	if len(instances) == len(k.targets) || len(instances) == 0 {
		return nil
	}
	registry.SortByPort(instances)
	if instances[0].Port != k.ownPort {
		return nil
	}

	present := make(map[int]bool, len(instances))
	for _, inst := range instances {
		present[inst.Port] = true
	}

	var launched []int
	for _, port := range k.ports {
		if port == k.ownPort || present[port] || k.isRestarting(port) || !k.portFree(port) {
			continue
		}
		// the mark is taken before launching so that concurrent renewals
		// cannot launch the same port twice
		if !k.reserve(port) {
			continue
		}
		profile := k.targets[port]
		pid, err := k.launcher.Launch(profile, port)
		if err != nil {
			k.release(port)
			k.launches.WithLabelValues("failed").Inc()
			k.log.Error("Launch failed", err, loggingpkg.LogFields{"port": port, "profile": profile})
			continue
		}
		k.launches.WithLabelValues("started").Inc()

		k.mu.Lock()
		if r, ok := k.restarting[port]; ok {
			r.pid = pid
		}
		k.mu.Unlock()
		launched = append(launched, port)
		k.log.Info("Restarting instance", loggingpkg.LogFields{"port": port, "profile": profile, "pid": pid})
	}
	return launched
}

// Restarting returns the ports currently marked restart in progress.
func (k *Keeper) Restarting() []int {
	k.mu.Lock()
	defer k.mu.Unlock()
	ports := make([]int, 0, len(k.restarting))
	for port := range k.restarting {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

func (k *Keeper) isRestarting(port int) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.restarting[port]
	return ok
}

// reserve marks port as restarting. It reports false when the port is
// already marked.
func (k *Keeper) reserve(port int) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.restarting[port]; ok {
		return false
	}
	k.restarting[port] = &restart{}
	return true
}

func (k *Keeper) release(port int) {
	k.mu.Lock()
	delete(k.restarting, port)
	k.mu.Unlock()
}

// registered clears the mark of port once the settle delay has passed.
func (k *Keeper) registered(port int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	r, ok := k.restarting[port]
	if !ok || r.settling {
		return
	}
	r.settling = true
	time.AfterFunc(k.settleDelay, func() {
		k.mu.Lock()
		delete(k.restarting, port)
		k.mu.Unlock()
		k.log.Debug("Restart settled", loggingpkg.LogFields{"port": port})
	})
}

// Watch polls launched children until ctx ends. A child that exited before
// registering loses its mark so the next reconcile launches it again.
func (k *Keeper) Watch(ctx context.Context) {
	ticker := time.NewTicker(k.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.checkChildren()
		}
	}
}

func (k *Keeper) checkChildren() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for port, r := range k.restarting {
		if r.settling || r.pid <= 0 {
			continue
		}
		alive, err := k.pidExists(r.pid)
		if err != nil || alive {
			continue
		}
		delete(k.restarting, port)
		k.log.Info("Launched instance exited before registering", loggingpkg.LogFields{"port": port, "pid": r.pid})
	}
}
