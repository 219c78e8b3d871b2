// Package provisioning is the control plane's server directory: game nodes
// register and heartbeat here, and the matchmaking worker asks it to pick a
// healthy server and derive the connect URL for a fresh land.
package provisioning

import (
	"fmt"
	"time"
)

// DefaultTTL is how long a server entry stays allocatable without a
// heartbeat. Nodes heartbeat every ~30s, so three misses mark a server
// stale.
const DefaultTTL = 90 * time.Second

// ServerEntry is one registered game server for one land type.
type ServerEntry struct {
	ServerID string `json:"serverId"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	LandType string `json:"landType"`

	// Connect overrides: what clients should dial when it differs from the
	// control-plane-facing address (load balancer, public DNS).
	ConnectHost   string `json:"connectHost,omitempty"`
	ConnectPort   int    `json:"connectPort,omitempty"`
	ConnectScheme string `json:"connectScheme,omitempty"`

	// Capacity is a soft bound on concurrent lands; zero means unbounded.
	// ActiveLands is self-reported on each heartbeat.
	Capacity    int `json:"capacity,omitempty"`
	ActiveLands int `json:"activeLands,omitempty"`

	RegisteredAt time.Time `json:"registeredAt"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
}

// IsStale reports whether the entry has missed its heartbeats.
func (e *ServerEntry) IsStale(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.LastSeenAt) > ttl
}

// OverCapacity reports whether the soft capacity bound is exceeded.
func (e *ServerEntry) OverCapacity() bool {
	return e.Capacity > 0 && e.ActiveLands >= e.Capacity
}

// ConnectURL derives the client-facing WebSocket URL for one land on this
// server. Scheme defaults to wss when the connect port is 443.
func (e *ServerEntry) ConnectURL(landID string) string {
	host := e.Host
	if e.ConnectHost != "" {
		host = e.ConnectHost
	}
	port := e.Port
	if e.ConnectPort != 0 {
		port = e.ConnectPort
	}
	scheme := e.ConnectScheme
	if scheme == "" {
		if port == 443 {
			scheme = "wss"
		} else {
			scheme = "ws"
		}
	}
	return fmt.Sprintf("%s://%s:%d/game/%s?landId=%s", scheme, host, port, e.LandType, landID)
}
