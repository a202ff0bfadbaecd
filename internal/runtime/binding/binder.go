// Package binding maps the logical message channels of a service onto broker
// destinations. A Binder owns the transport and a Watermill router: output
// channels publish, input channels feed registered listeners.
package binding

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/cloudmesh/internal/runtime/config"
	errspkg "github.com/drblury/cloudmesh/internal/runtime/errors"
	idspkg "github.com/drblury/cloudmesh/internal/runtime/ids"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
	metadatapkg "github.com/drblury/cloudmesh/internal/runtime/metadata"
	"github.com/drblury/cloudmesh/transport"
)

// CloseTimeout bounds how long the router waits for handlers on shutdown.
const CloseTimeout = 10 * time.Second

// HandlerFunc consumes one message. Returning an error nacks it.
type HandlerFunc func(msg *message.Message) error

// Dependencies holds the optional collaborators of a Binder.
type Dependencies struct {
	// Registry builds the transport; transport.DefaultRegistry when nil.
	Registry *transport.Registry
	// Registerer receives router metrics; prometheus.DefaultRegisterer when nil.
	Registerer prometheus.Registerer
	// Middlewares are appended after the default chain.
	Middlewares               []MiddlewareRegistration
	DisableDefaultMiddlewares bool
}

type listener struct {
	name    string
	channel string
	handle  HandlerFunc
}

// Binder hosts the channels of one service.
type Binder struct {
	conf *configpkg.Config
	log  loggingpkg.ServiceLogger

	transport     transport.Transport
	transportName string
	publisher     message.Publisher
	subscriber    message.Subscriber
	router        *message.Router
	registerer    prometheus.Registerer

	bindings map[string]Binding

	mu        sync.RWMutex
	listeners map[string][]listener
	handlers  map[string]struct{}
	stats     map[string]*channelStats

	started atomic.Bool
}

// New builds the transport selected by conf and a router carrying the
// middleware chain. Register listeners before calling Run.
func New(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps Dependencies) (*Binder, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	registry := deps.Registry
	if registry == nil {
		registry = transport.DefaultRegistry
	}
	registerer := deps.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	tr, err := registry.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: CloseTimeout}, wmLogger)
	if err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("create router: %w", err)
	}

	bindings, unknown := Resolve(conf.Bindings)
	for _, name := range unknown {
		log.Info("Ignoring binding for unknown channel", loggingpkg.LogFields{"channel": name})
	}

	b := &Binder{
		conf:          conf,
		log:           log,
		transport:     tr,
		transportName: registry.GetCapabilities(conf.GetPubSubSystem()).Name,
		publisher:     tr.Publisher,
		subscriber:    tr.Subscriber,
		router:        router,
		registerer:    registerer,
		bindings:      bindings,
		listeners:     make(map[string][]listener),
		handlers:      make(map[string]struct{}),
		stats:         make(map[string]*channelStats),
	}
	for key, binding := range bindings {
		b.stats[key] = newChannelStats(binding)
	}

	if err := b.registerConfiguredMiddlewares(deps); err != nil {
		_ = tr.Close()
		return nil, err
	}

	log.Info("Created binder", loggingpkg.LogFields{
		"transport": b.transportName,
		"channels":  len(bindings),
	})
	return b, nil
}

func (b *Binder) registerConfiguredMiddlewares(deps Dependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := b.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("register middleware %s: %w", name, err)
		}
	}
	return nil
}

// Binding returns the binding of channel. Channel names are case-insensitive.
func (b *Binder) Binding(channel string) (Binding, bool) {
	binding, ok := b.bindings[channelKey(channel)]
	return binding, ok
}

// Send delivers payload on channel and reports success. Output channels
// publish to their destination. Input channels dispatch in-process to the
// listeners registered on them and fail when there are none. Unknown channels
// fail. Errors are logged, never returned.
func (b *Binder) Send(ctx context.Context, channel string, payload []byte, headers metadatapkg.Metadata) bool {
	binding, ok := b.Binding(channel)
	if !ok {
		b.log.Info("Send on unknown channel", loggingpkg.LogFields{"channel": channel})
		return false
	}
	stats := b.stats[channelKey(channel)]

	msg := b.newMessage(ctx, binding, payload, headers)

	var err error
	if binding.Direction == Out {
		err = b.publish(binding.Destination, msg)
	} else {
		err = b.dispatchLocal(binding, msg)
	}
	if err != nil {
		stats.failed.Add(1)
		b.log.Error("Send failed", err, loggingpkg.LogFields{
			"channel":     binding.Channel,
			"destination": binding.Destination,
		})
		return false
	}
	stats.sent.Add(1)
	return true
}

func (b *Binder) newMessage(ctx context.Context, binding Binding, payload []byte, headers metadatapkg.Metadata) *message.Message {
	md := headers.Clone()
	md[metadatapkg.KeyChannel] = binding.Channel
	if md[metadatapkg.KeyCorrelationID] == "" {
		md[metadatapkg.KeyCorrelationID] = idspkg.CreateULID()
	}
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(md)
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return msg
}

func (b *Binder) publish(destination string, msg *message.Message) error {
	if b.publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	return b.publisher.Publish(destination, msg)
}

func (b *Binder) dispatchLocal(binding Binding, msg *message.Message) (err error) {
	b.mu.RLock()
	listeners := append([]listener(nil), b.listeners[channelKey(binding.Channel)]...)
	b.mu.RUnlock()

	if len(listeners) == 0 {
		return fmt.Errorf("%w: %s", errspkg.ErrNoSubscribers, binding.Channel)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	for _, l := range listeners {
		if err := l.handle(msg.Copy()); err != nil {
			return fmt.Errorf("listener %s: %w", l.name, err)
		}
	}
	return nil
}

// Publish sends payload to a raw broker destination, outside of the channel
// bindings. It is used for service-to-service events such as config refresh.
func (b *Binder) Publish(ctx context.Context, destination string, payload []byte, headers metadatapkg.Metadata) error {
	md := headers.Clone()
	if md[metadatapkg.KeyCorrelationID] == "" {
		md[metadatapkg.KeyCorrelationID] = idspkg.CreateULID()
	}
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(md)
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return b.publish(destination, msg)
}

// Listen registers handler on an input channel. Messages failing the
// binding's type filter are acknowledged without reaching handler.
func (b *Binder) Listen(channel, name string, handler HandlerFunc) error {
	binding, ok := b.Binding(channel)
	if !ok {
		return fmt.Errorf("%w: %s", errspkg.ErrChannelUnknown, channel)
	}
	if binding.Direction != In {
		return fmt.Errorf("%w: cannot listen on %s", errspkg.ErrChannelDirection, binding.Channel)
	}
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if name == "" {
		return errspkg.ErrListenerName
	}

	stats := b.stats[channelKey(channel)]
	wrapped := func(msg *message.Message) error {
		msgType := msg.Metadata.Get(metadatapkg.KeyType)
		if !binding.Accepts(msgType) {
			stats.filtered.Add(1)
			b.log.Debug("Skipping message filtered by type", loggingpkg.LogFields{
				"channel": binding.Channel,
				"type":    msgType,
			})
			return nil
		}
		stats.received.Add(1)
		if err := handler(msg); err != nil {
			stats.handlerErrors.Add(1)
			return err
		}
		return nil
	}

	if err := b.addHandler(name, binding.Destination, wrapped); err != nil {
		return err
	}

	b.mu.Lock()
	key := channelKey(channel)
	b.listeners[key] = append(b.listeners[key], listener{name: name, channel: binding.Channel, handle: wrapped})
	stats.listeners.Add(1)
	b.mu.Unlock()
	return nil
}

// Subscribe registers handler on a raw broker destination.
func (b *Binder) Subscribe(name, destination string, handler HandlerFunc) error {
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if name == "" {
		return errspkg.ErrListenerName
	}
	return b.addHandler(name, destination, handler)
}

func (b *Binder) addHandler(name, destination string, handler HandlerFunc) error {
	if b.started.Load() {
		return errspkg.ErrBinderStarted
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[name]; exists {
		return fmt.Errorf("listener %q is already registered", name)
	}
	b.handlers[name] = struct{}{}

	b.router.AddNoPublisherHandler(name, destination, b.subscriber, message.NoPublishHandlerFunc(handler))
	return nil
}

// Run starts consuming and blocks until ctx is cancelled or the router stops.
func (b *Binder) Run(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return errspkg.ErrBinderStarted
	}

	if starter, ok := b.subscriber.(transport.ServerStarter); ok {
		go func() {
			select {
			case <-b.router.Running():
			case <-ctx.Done():
				return
			}
			if err := starter.StartHTTPServer(); err != nil {
				b.log.Error("Transport server stopped", err, nil)
			}
		}()
	}

	return b.router.Run(ctx)
}

// Running is closed once the router consumes messages.
func (b *Binder) Running() chan struct{} {
	return b.router.Running()
}

// Close stops the router and releases the transport.
func (b *Binder) Close() error {
	routerErr := b.router.Close()
	if err := b.transport.Close(); err != nil && routerErr == nil {
		return err
	}
	return routerErr
}

// Bindings returns a snapshot of every channel with its counters, sorted by
// channel name.
func (b *Binder) Bindings() []BindingInfo {
	infos := make([]BindingInfo, 0, len(b.stats))
	for _, s := range b.stats {
		infos = append(infos, s.snapshot())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Channel < infos[j].Channel })
	return infos
}

// Transport returns the name of the transport in use.
func (b *Binder) Transport() string {
	return b.transportName
}
