package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGameServer_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadGameServer(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "msgpack", cfg.TransportEncoding)
	assert.Equal(t, 30*time.Second, cfg.RetireGrace())
}

func TestLoadGameServer_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gameserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9001\ntransport_encoding: json\nredis:\n  host: redis.local\n"), 0o644))
	t.Setenv("PORT", "9002")
	t.Setenv("TRANSPORT_ENCODING", "opcode")

	cfg, err := LoadGameServer(path)
	require.NoError(t, err)
	assert.Equal(t, 9002, cfg.Port, "env beats file")
	assert.Equal(t, "opcode", cfg.TransportEncoding)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "redis.local:6379", cfg.Redis.Addr())
}

func TestLoadMatchmaker_RoleSplit(t *testing.T) {
	t.Setenv("MATCHMAKING_ROLE", RoleQueueWorker)
	t.Setenv("MATCHMAKING_MIN_WAIT_MS", "1500")
	t.Setenv("USE_NODE_INBOX_FOR_MATCH_ASSIGNED", "true")

	cfg, err := LoadMatchmaker(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.False(t, cfg.RunsAPI())
	assert.True(t, cfg.RunsWorker())
	assert.Equal(t, 1500*time.Millisecond, cfg.MinWait())
	assert.True(t, cfg.UseNodeInbox)

	all := DefaultMatchmaker()
	assert.True(t, all.RunsAPI())
	assert.True(t, all.RunsWorker())
	assert.Equal(t, 3*time.Second, all.TickInterval())
}

func TestRedisConfig_Disabled(t *testing.T) {
	var r RedisConfig
	assert.False(t, r.Enabled())
}
