package config

import "time"

// Matchmaker roles. api serves REST + realtime, queue-worker runs the
// matching loop, all runs both in one process.
const (
	RoleAPI         = "api"
	RoleQueueWorker = "queue-worker"
	RoleAll         = "all"
)

// Matchmaker holds all configuration for a control-plane node.
type Matchmaker struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	LogLevel string `yaml:"log_level"`
	NodeID   string `yaml:"node_id"`

	// Role selects which halves of the control plane this process runs.
	Role string `yaml:"role"`

	// Matching
	TickIntervalMs int `yaml:"tick_interval_ms"`
	MinWaitMs      int `yaml:"min_wait_ms"`
	RelaxAfterMs   int `yaml:"relax_after_ms"`
	TicketTTLSec   int `yaml:"ticket_ttl_seconds"`

	// Match tokens
	TokenIssuer     string `yaml:"token_issuer"`
	TokenTTLSeconds int    `yaml:"token_ttl_seconds"`
	SigningKeyFile  string `yaml:"signing_key_file"` // PEM; empty generates per boot

	// Realtime push: prefer the directed node inbox over the broadcast
	// channel when the subscriber's node is known.
	UseNodeInbox bool `yaml:"use_node_inbox"`

	Redis RedisConfig `yaml:"redis"`
	Admin AdminConfig `yaml:"admin"`
}

// DefaultMatchmaker returns Matchmaker config with sensible defaults.
func DefaultMatchmaker() Matchmaker {
	return Matchmaker{
		BindAddress:     "0.0.0.0",
		Port:            8081,
		LogLevel:        "info",
		Role:            RoleAll,
		TickIntervalMs:  3000,
		RelaxAfterMs:    30000,
		TicketTTLSec:    600,
		TokenIssuer:     "landrun-matchmaking",
		TokenTTLSeconds: 120,
	}
}

// LoadMatchmaker loads matchmaker config from a YAML file, then applies
// environment overrides. A missing file yields defaults.
func LoadMatchmaker(path string) (Matchmaker, error) {
	cfg := DefaultMatchmaker()
	if err := loadYAML(path, &cfg); err != nil {
		return cfg, err
	}
	envInt("PORT", &cfg.Port)
	envString("NODE_ID", &cfg.NodeID)
	envString("MATCHMAKING_ROLE", &cfg.Role)
	envInt("MATCHMAKING_MIN_WAIT_MS", &cfg.MinWaitMs)
	envInt("MATCHMAKING_RELAX_AFTER_MS", &cfg.RelaxAfterMs)
	envBool("USE_NODE_INBOX_FOR_MATCH_ASSIGNED", &cfg.UseNodeInbox)
	envString("REDIS_HOST", &cfg.Redis.Host)
	envInt("REDIS_PORT", &cfg.Redis.Port)
	return cfg, nil
}

// RunsAPI reports whether this process serves REST and realtime.
func (c Matchmaker) RunsAPI() bool { return c.Role == RoleAPI || c.Role == RoleAll }

// RunsWorker reports whether this process runs the matching loop.
func (c Matchmaker) RunsWorker() bool { return c.Role == RoleQueueWorker || c.Role == RoleAll }

// TickInterval converts the matching cadence to a duration.
func (c Matchmaker) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// MinWait converts the solo-match delay to a duration.
func (c Matchmaker) MinWait() time.Duration {
	return time.Duration(c.MinWaitMs) * time.Millisecond
}

// RelaxAfter converts the fill-group relax threshold to a duration.
func (c Matchmaker) RelaxAfter() time.Duration {
	return time.Duration(c.RelaxAfterMs) * time.Millisecond
}

// TicketTTL converts the queued-ticket expiry to a duration.
func (c Matchmaker) TicketTTL() time.Duration {
	return time.Duration(c.TicketTTLSec) * time.Second
}

// TokenTTL converts the match-token lifetime to a duration.
func (c Matchmaker) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLSeconds) * time.Second
}
