package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, cfg.Backend.BaseURL)
	assert.Equal(t, StreamingModeHTTP, cfg.Chat.StreamingMode)
	assert.Equal(t, DefaultDialTimeout, cfg.Channel.DialTimeout)
	require.Len(t, cfg.Personas, 1)
	assert.Equal(t, "aria", cfg.Personas[0].Name)
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
backend:
  base_url: http://localhost:9000
  customer_id: cust-1
chat:
  streaming_mode: channel
personas:
  - name: aria
    auto_respond: true
  - name: atlas
    auto_respond: true
    tool_enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", cfg.Backend.BaseURL)
	assert.Equal(t, StreamingModeChannel, cfg.Chat.StreamingMode)
	assert.Equal(t, DefaultKeepalive, cfg.Channel.Keepalive)
	assert.Equal(t, int64(DefaultReadLimit), cfg.Channel.ReadLimit)
	require.Len(t, cfg.Personas, 2)
	assert.True(t, cfg.Personas[1].ToolEnabled)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: ["), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsUnknownStreamingMode(t *testing.T) {
	cfg := Default()
	cfg.Chat.StreamingMode = "carrier-pigeon"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "streaming_mode")
}

func TestValidateRejectsDuplicatePersonas(t *testing.T) {
	cfg := Default()
	cfg.Personas = append(cfg.Personas, cfg.Personas[0])
	require.Error(t, cfg.Validate())
}

func TestSnapshotFreezesTurnPreferences(t *testing.T) {
	cfg := Default()
	cfg.Chat.ShowReasoning = true
	cfg.Chat.AssetContext = "charts enabled"
	cfg.Backend.CustomerID = "cust-1"

	snap := cfg.Snapshot()

	// Later edits must not leak into the frozen snapshot.
	cfg.Chat.ShowReasoning = false
	cfg.Chat.AssetContext = ""

	assert.True(t, snap.ShowReasoning)
	assert.Equal(t, "charts enabled", snap.AssetContext)
	assert.Equal(t, "cust-1", snap.CustomerID)
}

func TestChannelDefaultsClampToPositive(t *testing.T) {
	cfg := &Config{}
	cfg.Channel.DialTimeout = -1 * time.Second
	cfg.applyDefaults()
	assert.Equal(t, DefaultDialTimeout, cfg.Channel.DialTimeout)
	assert.Equal(t, DefaultSendAckTimeout, cfg.Channel.SendAckTimeout)
}
