package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	configpkg "github.com/drblury/cloudmesh/internal/runtime/config"
	errspkg "github.com/drblury/cloudmesh/internal/runtime/errors"
	"github.com/drblury/cloudmesh/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
)

// Client defaults.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultFetchInterval     = 30 * time.Second
	clientTimeout            = 10 * time.Second
)

// Discovery looks up registered services.
type Discovery interface {
	// Services returns the lower-cased names of every registered application.
	Services() []string
	// Instances returns the instances of serviceID sorted by port.
	Instances(serviceID string) []Instance
}

// Client registers one service instance with the registry servers, keeps
// its lease alive and caches the registered applications.
type Client struct {
	urls          []string
	http          *http.Client
	inst          Instance
	heartbeat     time.Duration
	fetchInterval time.Duration
	log           loggingpkg.ServiceLogger

	apps atomic.Pointer[[]Application]
}

// NewClient builds a client for the instance described by conf. A nil
// httpClient uses one with a 10s timeout.
func NewClient(conf *configpkg.Config, log loggingpkg.ServiceLogger, httpClient *http.Client) (*Client, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	urls := make([]string, 0, len(conf.RegistryURLs))
	for _, u := range conf.RegistryURLs {
		if u = normalizeRegistryURL(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, errspkg.ErrNoRegistry
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: clientTimeout}
	}

	inst := Instance{
		App:    conf.ServiceName,
		Host:   conf.Host,
		Port:   conf.Port,
		Status: StatusUp,
		Metadata: map[string]string{
			"profiles": strings.Join(conf.Profiles, ","),
		},
	}
	if err := inst.normalize(); err != nil {
		return nil, err
	}

	c := &Client{
		urls:          urls,
		http:          httpClient,
		inst:          inst,
		heartbeat:     conf.HeartbeatInterval,
		fetchInterval: conf.RegistryFetchInterval,
		log:           log.With(loggingpkg.LogFields{"instance": inst.ID}),
	}
	if c.heartbeat <= 0 {
		c.heartbeat = DefaultHeartbeatInterval
	}
	if c.fetchInterval <= 0 {
		c.fetchInterval = DefaultFetchInterval
	}
	empty := []Application{}
	c.apps.Store(&empty)
	return c, nil
}

// normalizeRegistryURL accepts both "http://host:8761" and the Spring style
// "http://host:8761/eureka/".
func normalizeRegistryURL(u string) string {
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	return strings.TrimSuffix(u, "/eureka")
}

// Instance returns the instance this client registers.
func (c *Client) Instance() Instance {
	return c.inst.clone()
}

// Register announces the instance.
func (c *Client) Register(ctx context.Context) error {
	body, err := jsoncodec.Marshal(c.inst)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, c.appPath(), body, nil)
	if err == nil {
		c.log.Info("Registered with registry", loggingpkg.LogFields{"app": c.inst.App})
	}
	return err
}

// Renew sends a heartbeat. It returns ErrInstanceNotFound when the registry
// forgot the instance.
func (c *Client) Renew(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPut, c.instancePath(), nil, nil)
	return err
}

// Cancel removes the instance from the registry.
func (c *Client) Cancel(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, c.instancePath(), nil, nil)
	if err == nil {
		c.log.Info("Canceled registration", nil)
	}
	return err
}

// Fetch refreshes the cached applications.
func (c *Client) Fetch(ctx context.Context) ([]Application, error) {
	var resp ApplicationsResponse
	if _, err := c.do(ctx, http.MethodGet, AppsPath, nil, &resp); err != nil {
		return nil, err
	}
	apps := resp.Applications
	if apps == nil {
		apps = []Application{}
	}
	c.apps.Store(&apps)
	return apps, nil
}

// Run registers, then heartbeats and refreshes the cache until ctx ends,
// when the registration is canceled. Registry outages are logged and
// retried on the next tick.
func (c *Client) Run(ctx context.Context) error {
	registered := c.Register(ctx) == nil
	if !registered {
		c.log.Info("Registry unavailable, retrying on next heartbeat", nil)
	}
	if _, err := c.Fetch(ctx); err != nil {
		c.log.Debug("Initial registry fetch failed", loggingpkg.LogFields{"error": err.Error()})
	}

	heartbeat := time.NewTicker(c.heartbeat)
	defer heartbeat.Stop()
	fetch := time.NewTicker(c.fetchInterval)
	defer fetch.Stop()

	for {
		select {
		case <-ctx.Done():
			cancelCtx, cancel := context.WithTimeout(context.Background(), clientTimeout)
			defer cancel()
			if err := c.Cancel(cancelCtx); err != nil {
				c.log.Error("Cancel registration failed", err, nil)
			}
			return nil
		case <-heartbeat.C:
			registered = c.heartbeatOnce(ctx, registered)
		case <-fetch.C:
			if _, err := c.Fetch(ctx); err != nil {
				c.log.Error("Registry fetch failed", err, nil)
			}
		}
	}
}

func (c *Client) heartbeatOnce(ctx context.Context, registered bool) bool {
	if registered {
		err := c.Renew(ctx)
		if err == nil {
			return true
		}
		if !errors.Is(err, errspkg.ErrInstanceNotFound) {
			c.log.Error("Heartbeat failed", err, nil)
			return true
		}
	}
	if err := c.Register(ctx); err != nil {
		c.log.Error("Register failed", err, nil)
		return false
	}
	return true
}

// Applications returns the cached applications.
func (c *Client) Applications() []Application {
	return *c.apps.Load()
}

// Services implements Discovery from the cache.
func (c *Client) Services() []string {
	return serviceNames(c.Applications())
}

// Instances implements Discovery from the cache.
func (c *Client) Instances(serviceID string) []Instance {
	return instancesOf(c.Applications(), serviceID)
}

func (c *Client) appPath() string {
	return AppsPath + "/" + url.PathEscape(c.inst.App)
}

func (c *Client) instancePath() string {
	return c.appPath() + "/" + url.PathEscape(c.inst.ID)
}

// do tries each registry URL in turn until one answers.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) (int, error) {
	var lastErr error
	for _, base := range c.urls {
		status, err := c.doOne(ctx, method, base+path, body, out)
		if err == nil {
			return status, nil
		}
		if errors.Is(err, errspkg.ErrInstanceNotFound) {
			return status, err
		}
		lastErr = err
	}
	return 0, lastErr
}

func (c *Client) doOne(ctx context.Context, method, target string, body []byte, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, errspkg.ErrInstanceNotFound
	case resp.StatusCode >= http.StatusBadRequest:
		return resp.StatusCode, fmt.Errorf("registry %s answered %s", target, resp.Status)
	}
	if out != nil {
		if err := jsoncodec.Decode(resp.Body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode registry response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// LocalDiscovery serves Discovery straight from a Registry, for services
// that host the registry themselves.
type LocalDiscovery struct {
	Registry *Registry
}

func (d LocalDiscovery) Services() []string {
	return serviceNames(d.Registry.Applications())
}

func (d LocalDiscovery) Instances(serviceID string) []Instance {
	app, ok := d.Registry.Application(serviceID)
	if !ok {
		return nil
	}
	return app.Instances
}

func serviceNames(apps []Application) []string {
	names := lo.Map(apps, func(app Application, _ int) string {
		return strings.ToLower(app.Name)
	})
	sort.Strings(names)
	return names
}

func instancesOf(apps []Application, serviceID string) []Instance {
	name := NormalizeApp(serviceID)
	for _, app := range apps {
		if app.Name == name {
			instances := make([]Instance, len(app.Instances))
			copy(instances, app.Instances)
			SortByPort(instances)
			return instances
		}
	}
	return nil
}
