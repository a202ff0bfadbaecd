package registry

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/drblury/cloudmesh/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
)

// ReplicationTimeout bounds one forwarded request.
const ReplicationTimeout = 5 * time.Second

// Replicator forwards instance changes made by clients to peer servers.
// Changes that arrived by replication and evictions are not forwarded.
type Replicator struct {
	peers  []string
	client *http.Client
	log    loggingpkg.ServiceLogger
}

// NewReplicator creates a replicator for peers, given as base URLs such as
// http://localhost:8761 or http://localhost:8761/eureka/. A nil client uses one with ReplicationTimeout.
func NewReplicator(peers []string, client *http.Client, log loggingpkg.ServiceLogger) *Replicator {
	if client == nil {
		client = &http.Client{Timeout: ReplicationTimeout}
	}
	trimmed := make([]string, 0, len(peers))
	for _, p := range peers {
		if p = normalizeRegistryURL(p); p != "" {
			trimmed = append(trimmed, p)
		}
	}
	return &Replicator{peers: trimmed, client: client, log: log}
}

// OnEvent implements Listener. Each peer is contacted in its own goroutine.
func (rp *Replicator) OnEvent(e Event) {
	if e.Replication || e.Evicted || len(rp.peers) == 0 {
		return
	}
	switch e.Type {
	case InstanceRegistered, InstanceRenewed, InstanceCanceled:
	default:
		return
	}
	for _, peer := range rp.peers {
		go func(peer string) {
			ctx, cancel := context.WithTimeout(context.Background(), ReplicationTimeout)
			defer cancel()
			if err := rp.Replicate(ctx, peer, e); err != nil {
				rp.log.Error("Replication failed", err, loggingpkg.LogFields{
					"peer":  peer,
					"event": string(e.Type),
					"id":    e.Instance.ID,
				})
			}
		}(peer)
	}
}

// Replicate sends e to one peer.
func (rp *Replicator) Replicate(ctx context.Context, peer string, e Event) error {
	appURL := peer + AppsPath + "/" + url.PathEscape(e.Instance.App)
	instURL := appURL + "/" + url.PathEscape(e.Instance.ID)

	var (
		req *http.Request
		err error
	)
	switch e.Type {
	case InstanceRegistered:
		body, merr := jsoncodec.Marshal(e.Instance)
		if merr != nil {
			return merr
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, appURL, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	case InstanceRenewed:
		req, err = http.NewRequestWithContext(ctx, http.MethodPut, instURL, nil)
	case InstanceCanceled:
		req, err = http.NewRequestWithContext(ctx, http.MethodDelete, instURL, nil)
	default:
		return fmt.Errorf("event %s is not replicated", e.Type)
	}
	if err != nil {
		return err
	}
	req.Header.Set(ReplicationHeader, "true")

	resp, err := rp.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// a renewal unknown to the peer is replicated as a registration
	if resp.StatusCode == http.StatusNotFound && e.Type == InstanceRenewed {
		e.Type = InstanceRegistered
		return rp.Replicate(ctx, peer, e)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("peer %s answered %s", peer, resp.Status)
	}
	return nil
}
