// Package configclient fetches a service's properties from the config server
// and keeps them refreshable at runtime.
package configclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/drblury/cloudmesh/internal/configserver"
	"github.com/drblury/cloudmesh/internal/runtime/binding"
	configpkg "github.com/drblury/cloudmesh/internal/runtime/config"
	errspkg "github.com/drblury/cloudmesh/internal/runtime/errors"
	"github.com/drblury/cloudmesh/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
)

const fetchTimeout = 10 * time.Second

// Subscriber registers handlers on raw broker destinations. The
// binding.Binder implements it.
type Subscriber interface {
	Subscribe(name, destination string, handler binding.HandlerFunc) error
}

// Client holds the current property snapshot of one service. Reads are
// lock-free; a refresh swaps the whole snapshot.
type Client struct {
	serverURL string
	service   string
	profiles  []string
	local     map[string]string
	http      *http.Client
	log       loggingpkg.ServiceLogger

	snapshot atomic.Pointer[map[string]string]
	version  atomic.Int64
}

// New creates a client seeded with the local properties of conf. Without a
// config server URL the client serves local properties only.
func New(conf *configpkg.Config, log loggingpkg.ServiceLogger, httpClient *http.Client) (*Client, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: fetchTimeout}
	}
	local := make(map[string]string, len(conf.Properties))
	for k, v := range conf.Properties {
		local[strings.ToLower(k)] = v
	}
	c := &Client{
		serverURL: strings.TrimRight(conf.ConfigServerURL, "/"),
		service:   conf.ServiceName,
		profiles:  conf.Profiles,
		local:     local,
		http:      httpClient,
		log:       log,
	}
	c.snapshot.Store(&local)
	return c, nil
}

// Get returns the current value of key.
func (c *Client) Get(key string) (string, bool) {
	v, ok := (*c.snapshot.Load())[strings.ToLower(key)]
	return v, ok
}

// Environment returns the value of key or "" when unset.
func (c *Client) Environment(key string) string {
	v, _ := c.Get(key)
	return v
}

// Version counts successful refreshes.
func (c *Client) Version() int64 {
	return c.version.Load()
}

// Fetch loads the environment of this service from the config server.
func (c *Client) Fetch(ctx context.Context) (configserver.Environment, error) {
	if c.serverURL == "" {
		return configserver.Environment{}, errspkg.ErrNoConfigServer
	}
	profiles := strings.Join(c.profiles, ",")
	if profiles == "" {
		profiles = configserver.DefaultProfile
	}
	target := fmt.Sprintf("%s/config/%s/%s", c.serverURL, url.PathEscape(c.service), url.PathEscape(profiles))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return configserver.Environment{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return configserver.Environment{}, fmt.Errorf("fetch config: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return configserver.Environment{}, fmt.Errorf("fetch config: config server answered %s", resp.Status)
	}

	var env configserver.Environment
	if err := jsoncodec.Decode(resp.Body, &env); err != nil {
		return configserver.Environment{}, fmt.Errorf("decode config: %w", err)
	}
	return env, nil
}

// Refresh re-fetches the properties, swaps the snapshot and returns the
// keys whose value changed, sorted. On error the snapshot is kept.
func (c *Client) Refresh(ctx context.Context) ([]string, error) {
	env, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	next := make(map[string]string, len(c.local))
	for k, v := range c.local {
		next[k] = v
	}
	// least specific first so the most specific source wins
	for i := len(env.PropertySources) - 1; i >= 0; i-- {
		for k, v := range env.PropertySources[i].Source {
			next[strings.ToLower(k)] = fmt.Sprint(v)
		}
	}

	prev := c.snapshot.Swap(&next)
	c.version.Add(1)
	changed := diff(*prev, next)
	c.log.Info("Refreshed configuration", loggingpkg.LogFields{
		"sources": len(env.PropertySources),
		"changed": len(changed),
	})
	return changed, nil
}

func diff(prev, next map[string]string) []string {
	var keys []string
	for k, v := range next {
		if old, ok := prev[k]; !ok || old != v {
			keys = append(keys, k)
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Bootstrap performs the initial refresh. A missing or unreachable config
// server is logged and the local properties stay in effect.
func (c *Client) Bootstrap(ctx context.Context) {
	if c.serverURL == "" {
		return
	}
	if _, err := c.Refresh(ctx); err != nil {
		c.log.Error("Config server unavailable, using local configuration", err, loggingpkg.LogFields{"url": c.serverURL})
	}
}

// Mount installs POST /actuator/refresh, answering the changed keys as JSON.
func (c *Client) Mount(r chi.Router) {
	r.Post("/actuator/refresh", func(w http.ResponseWriter, r *http.Request) {
		changed, err := c.Refresh(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if changed == nil {
			changed = []string{}
		}
		render.JSON(w, r, changed)
	})
}

// SubscribeBus refreshes whenever a refresh event targeting this service
// arrives on the bus.
func (c *Client) SubscribeBus(sub Subscriber) error {
	return sub.Subscribe("config-refresh-"+c.service, configserver.RefreshDestination, c.handleRefresh)
}

func (c *Client) handleRefresh(msg *message.Message) error {
	event, err := configserver.DecodeRefresh(msg.Payload)
	if err != nil {
		return &binding.UnprocessableMessageError{Payload: string(msg.Payload), Err: err}
	}
	if !event.Matches(c.service) {
		return nil
	}
	_, err = c.Refresh(msg.Context())
	return err
}
