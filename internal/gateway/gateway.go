// Package gateway routes /{serviceId}/** to the instances of the discovered
// service through a reverse proxy, after running the pre-filters.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"

	"github.com/drblury/cloudmesh/internal/registry"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
	metricspkg "github.com/drblury/cloudmesh/internal/runtime/metrics"
)

// Request outcomes recorded by the requests counter.
const (
	OutcomeForwarded   = "forwarded"
	OutcomeFiltered    = "filtered"
	OutcomeNoRoute     = "no_route"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Options configures a Gateway.
type Options struct {
	Discovery registry.Discovery
	Filters   []Filter
	// Transport is used by the proxy; http.DefaultTransport when nil.
	Transport http.RoundTripper
	// Registerer receives the requests counter; nothing is registered when nil.
	Registerer prometheus.Registerer
	Logger     loggingpkg.ServiceLogger
}

// Gateway is an http.Handler.
type Gateway struct {
	discovery registry.Discovery
	filters   []Filter
	proxy     *httputil.ReverseProxy
	log       loggingpkg.ServiceLogger
	requests  *prometheus.CounterVec

	// next round robin position per service
	cursors sync.Map
}

type targetKey struct{}

// New creates a gateway.
func New(opts Options) (*Gateway, error) {
	if opts.Discovery == nil {
		return nil, fmt.Errorf("gateway: discovery is required")
	}
	log := opts.Logger
	if log == nil {
		log = loggingpkg.NewNopServiceLogger()
	}
	requests, err := metricspkg.RegisterCounterVec(opts.Registerer,
		metricspkg.NewCounterVec("gateway", "requests_total", "Gateway requests by service and outcome.", []string{"service", "outcome"}))
	if err != nil {
		return nil, fmt.Errorf("register gateway metrics: %w", err)
	}

	g := &Gateway{
		discovery: opts.Discovery,
		filters:   sortFilters(opts.Filters),
		log:       log,
		requests:  requests,
	}
	g.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			target := pr.In.Context().Value(targetKey{}).(*url.URL)
			pr.SetURL(target)
			pr.Out.URL.Path, pr.Out.URL.RawPath = target.Path, ""
			pr.SetXForwarded()
		},
		Transport: opts.Transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			g.log.Error("Proxy request failed", err, loggingpkg.LogFields{"path": r.URL.Path})
			http.Error(w, "Bad gateway", http.StatusBadGateway)
		},
	}
	return g, nil
}

// SplitRoute splits "/svc/a/b" into "svc" and "/a/b".
func SplitRoute(path string) (serviceID, rest string) {
	trimmed := strings.TrimPrefix(path, "/")
	serviceID, rest, _ = strings.Cut(trimmed, "/")
	return serviceID, "/" + rest
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serviceID, rest := SplitRoute(r.URL.Path)

	ctx := &RequestContext{Request: r, ServiceID: serviceID}
	for _, f := range g.filters {
		if !f.ShouldFilter(r) {
			continue
		}
		if err := f.Run(ctx); err != nil {
			g.count(serviceID, OutcomeError)
			g.log.Error("Filter failed", err, loggingpkg.LogFields{"filter": f.Name(), "path": r.URL.Path})
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ctx.Forwarding() {
			g.count(serviceID, OutcomeFiltered)
			ctx.write(w)
			return
		}
	}

	if serviceID == "" || !g.known(serviceID) {
		g.count(serviceID, OutcomeNoRoute)
		http.Error(w, "No route for "+serviceID, http.StatusNotFound)
		return
	}
	inst, ok := g.pick(serviceID)
	if !ok {
		g.count(serviceID, OutcomeUnavailable)
		http.Error(w, "No instances available for "+serviceID, http.StatusServiceUnavailable)
		return
	}

	target := &url.URL{Scheme: "http", Host: inst.Address(), Path: rest}
	g.count(serviceID, OutcomeForwarded)
	g.log.Debug("Forwarding request", loggingpkg.LogFields{"service": serviceID, "target": target.String()})
	g.proxy.ServeHTTP(w, r.WithContext(contextWithTarget(r, target)))
}

func contextWithTarget(r *http.Request, target *url.URL) context.Context {
	return context.WithValue(r.Context(), targetKey{}, target)
}

func (g *Gateway) known(serviceID string) bool {
	return lo.ContainsBy(g.discovery.Services(), func(name string) bool {
		return strings.EqualFold(name, serviceID)
	})
}

// pick returns the next UP instance of serviceID in round robin order.
func (g *Gateway) pick(serviceID string) (registry.Instance, bool) {
	up := lo.Filter(g.discovery.Instances(serviceID), func(inst registry.Instance, _ int) bool {
		return inst.Status == registry.StatusUp
	})
	if len(up) == 0 {
		return registry.Instance{}, false
	}
	cursor, _ := g.cursors.LoadOrStore(strings.ToLower(serviceID), new(atomic.Uint64))
	n := cursor.(*atomic.Uint64).Add(1) - 1
	return up[n%uint64(len(up))], true
}

func (g *Gateway) count(serviceID, outcome string) {
	g.requests.WithLabelValues(strings.ToLower(serviceID), outcome).Inc()
}
