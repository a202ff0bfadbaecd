// Package registry implements service registration and discovery: an
// in-memory registry with lease expiry and peer replication, its HTTP API,
// and the client every service uses to register itself and look up others.
package registry

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	errspkg "github.com/drblury/cloudmesh/internal/runtime/errors"
)

// Status is the lifecycle state an instance reports.
type Status string

const (
	StatusUp           Status = "UP"
	StatusDown         Status = "DOWN"
	StatusStarting     Status = "STARTING"
	StatusOutOfService Status = "OUT_OF_SERVICE"
)

// Instance is one registered process of an application.
type Instance struct {
	App          string            `json:"app"`
	ID           string            `json:"id"`
	Host         string            `json:"host"`
	Port         int               `json:"port"`
	Status       Status            `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RegisteredAt time.Time         `json:"registeredAt"`
	LastRenewal  time.Time         `json:"lastRenewal"`
}

// Address returns host:port.
func (i Instance) Address() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// URL returns the base http URL of the instance.
func (i Instance) URL() string {
	return "http://" + i.Address()
}

func (i Instance) String() string {
	return fmt.Sprintf("%s %s (%s)", i.ID, i.Address(), i.Status)
}

// Application groups the instances registered under one name.
type Application struct {
	Name      string     `json:"name"`
	Instances []Instance `json:"instances"`
}

// NormalizeApp upper-cases an application name. Lookups are case-insensitive.
func NormalizeApp(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// InstanceID builds the default id "<host>:<app>:<port>".
func InstanceID(host, app string, port int) string {
	return fmt.Sprintf("%s:%s:%d", host, strings.ToLower(app), port)
}

func (i *Instance) normalize() error {
	i.App = NormalizeApp(i.App)
	if i.App == "" || i.Port <= 0 {
		return errspkg.ErrInvalidInstance
	}
	if i.Host == "" {
		i.Host = "localhost"
	}
	if i.ID == "" {
		i.ID = InstanceID(i.Host, i.App, i.Port)
	}
	if i.Status == "" {
		i.Status = StatusUp
	}
	return nil
}

func (i Instance) clone() Instance {
	if i.Metadata != nil {
		md := make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			md[k] = v
		}
		i.Metadata = md
	}
	return i
}

// SortByPort orders instances by ascending port, then id.
func SortByPort(instances []Instance) {
	sort.Slice(instances, func(a, b int) bool {
		if instances[a].Port != instances[b].Port {
			return instances[a].Port < instances[b].Port
		}
		return instances[a].ID < instances[b].ID
	})
}
