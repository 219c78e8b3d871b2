package config

import "time"

// GameServer holds all configuration for a game node.
type GameServer struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	LogLevel string `yaml:"log_level"`

	// Node identity within the cluster. Empty generates one at boot.
	NodeID string `yaml:"node_id"`

	// Transport
	TransportEncoding string `yaml:"transport_encoding"` // json | opcode | msgpack
	HashedPaths       bool   `yaml:"hashed_paths"`
	SendQueueSize     int    `yaml:"send_queue_size"` // per-session outbox capacity
	RequireMatchToken bool   `yaml:"require_match_token"`

	// Lands
	RetireGraceSeconds int `yaml:"retire_grace_seconds"` // empty-land grace before collection

	// Control plane
	ProvisioningBaseURL string `yaml:"provisioning_base_url"`
	HeartbeatSeconds    int    `yaml:"heartbeat_seconds"`
	ConnectHost         string `yaml:"connect_host"` // client-facing override
	ConnectPort         int    `yaml:"connect_port"`
	ConnectScheme       string `yaml:"connect_scheme"`
	Capacity            int    `yaml:"capacity"` // soft bound on concurrent lands

	// Cluster
	Redis                      RedisConfig `yaml:"redis"`
	ClusterDirectoryTTLSeconds int         `yaml:"cluster_directory_ttl_seconds"`

	Admin AdminConfig `yaml:"admin"`
}

// DefaultGameServer returns GameServer config with sensible defaults.
func DefaultGameServer() GameServer {
	return GameServer{
		BindAddress:                "0.0.0.0",
		Port:                       8080,
		LogLevel:                   "info",
		TransportEncoding:          "msgpack",
		SendQueueSize:              64,
		RetireGraceSeconds:         30,
		HeartbeatSeconds:           30,
		ClusterDirectoryTTLSeconds: 8,
	}
}

// LoadGameServer loads game server config from a YAML file, then applies
// environment overrides. A missing file yields defaults.
func LoadGameServer(path string) (GameServer, error) {
	cfg := DefaultGameServer()
	if err := loadYAML(path, &cfg); err != nil {
		return cfg, err
	}
	envInt("PORT", &cfg.Port)
	envString("NODE_ID", &cfg.NodeID)
	envString("TRANSPORT_ENCODING", &cfg.TransportEncoding)
	envString("PROVISIONING_BASE_URL", &cfg.ProvisioningBaseURL)
	envString("REDIS_HOST", &cfg.Redis.Host)
	envInt("REDIS_PORT", &cfg.Redis.Port)
	envInt("CLUSTER_DIRECTORY_TTL_SECONDS", &cfg.ClusterDirectoryTTLSeconds)
	return cfg, nil
}

// RetireGrace converts the configured grace to a duration.
func (c GameServer) RetireGrace() time.Duration {
	return time.Duration(c.RetireGraceSeconds) * time.Second
}

// HeartbeatInterval converts the heartbeat cadence to a duration.
func (c GameServer) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// DirectoryTTL converts the cluster lease TTL to a duration.
func (c GameServer) DirectoryTTL() time.Duration {
	return time.Duration(c.ClusterDirectoryTTLSeconds) * time.Second
}
