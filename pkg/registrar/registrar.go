// Package registrar implements node registration: per-replica cooldown
// deduplication, idempotent statistics registration, and credential
// issuance via an external VPN/join-token issuer.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ciylabs/cluster-access-control/internal/telemetry"
)

// ErrCooldownActive is returned when the same (name, id) tuple registers
// again before the cooldown window has elapsed.
var ErrCooldownActive = errors.New("registrar: registration cooldown active")

// NodeDetails identifies a joining node; its canonical key string is
// name + ":" + id.
type NodeDetails struct {
	Name string
	ID   string
}

// Key returns the canonical identity string for this node.
func (n NodeDetails) Key() string {
	return n.Name + ":" + n.ID
}

// RegistrationDetails are the credentials returned to a newly (or
// repeatedly, once the cooldown has elapsed) registering node.
type RegistrationDetails struct {
	K8sHost        string
	K8sPort        int
	NodeAccessToken string
	VPNHost        string
	VPNPort        int
	VPNToken       string
}

// Stats is the narrow slice of the statistics store the registrar consumes.
type Stats interface {
	RegisterNode(ctx context.Context, name string) (bool, error)
}

// CredentialSource supplies the static cluster-join parameters and mints a
// per-node VPN token via the external issuer.
type CredentialSource interface {
	K8sHost() string
	K8sPort() int
	K8sNodeToken() string
	VPNHost() string
	VPNPort() int
	MintVPNToken(ctx context.Context, node NodeDetails) (string, error)
}

// EventLog records a node lifecycle event. A nil EventLog disables recording.
type EventLog interface {
	LogEvent(nodeName, action, detail string)
}

// Registrar handles the node registration request.
type Registrar struct {
	stats       Stats
	credentials CredentialSource
	cooldown    time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time
	now      func() time.Time
	events   EventLog
}

// New creates a Registrar. cooldown is the per-replica dedup window
// (default 10s).
func New(stats Stats, credentials CredentialSource, cooldown time.Duration) *Registrar {
	return &Registrar{
		stats:       stats,
		credentials: credentials,
		cooldown:    cooldown,
		lastSeen:    make(map[string]time.Time),
		now:         time.Now,
	}
}

// SetEventLog attaches a lifecycle event recorder.
func (r *Registrar) SetEventLog(events EventLog) {
	r.events = events
}

// Register registers node, enforcing the per-replica cooldown, then mints
// join credentials. The cooldown map is advisory, in-memory, and
// per-replica — not authoritative state.
func (r *Registrar) Register(ctx context.Context, node NodeDetails) (RegistrationDetails, error) {
	key := node.Key()

	r.mu.Lock()
	now := r.now()
	if last, ok := r.lastSeen[key]; ok && now.Sub(last) < r.cooldown {
		r.mu.Unlock()
		telemetry.RegistrationCooldownRejectionsTotal.Inc()
		return RegistrationDetails{}, ErrCooldownActive
	}
	r.mu.Unlock()

	// RegisterNode reports true for fresh and existing registrations alike,
	// so freshness is read first where the store exposes NodeRegistered.
	fresh := false
	if checker, ok := r.stats.(interface {
		NodeRegistered(ctx context.Context, name string) (bool, error)
	}); ok {
		registered, err := checker.NodeRegistered(ctx, node.Name)
		fresh = err == nil && !registered
	}

	if _, err := r.stats.RegisterNode(ctx, node.Name); err != nil {
		return RegistrationDetails{}, fmt.Errorf("registrar: register_node: %w", err)
	}
	if fresh {
		telemetry.NodesRegisteredTotal.Inc()
	}

	r.mu.Lock()
	r.lastSeen[key] = now
	r.mu.Unlock()

	vpnToken, err := r.credentials.MintVPNToken(ctx, node)
	if err != nil {
		// The node already consumed register_node idempotently above, so a
		// retry within the cooldown window is intentionally throttled
		// rather than hammering the issuer on every retry.
		return RegistrationDetails{}, fmt.Errorf("registrar: minting vpn token: %w", err)
	}

	if r.events != nil {
		r.events.LogEvent(node.Name, "registered", fmt.Sprintf("id=%s", node.ID))
	}

	return RegistrationDetails{
		K8sHost:         r.credentials.K8sHost(),
		K8sPort:         r.credentials.K8sPort(),
		NodeAccessToken: r.credentials.K8sNodeToken(),
		VPNHost:         r.credentials.VPNHost(),
		VPNPort:         r.credentials.VPNPort(),
		VPNToken:        vpnToken,
	}, nil
}
