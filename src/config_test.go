package tdc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleConfigYAML = `sync_divider: 2
sync_edge_trigger_level: -70
sync_edge: falling
sync_channel_offset: 0
sync_channel_enable: true
inputs:
  - edge_trigger_level: -70
    edge_trigger: falling
    channel_offset: 0
    enable: true
  - edge_trigger_level: -120
    edge_trigger: rising
    channel_offset: 25
    enable: false
`

func TestLoadDeviceConfig(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "device.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfigYAML), 0o644))

	var cfg, err = LoadDeviceConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.SyncDivider)
	assert.Equal(t, EdgeFalling, cfg.SyncEdge)
	assert.True(t, cfg.SyncChannelEnable)
	require.Len(t, cfg.Inputs, 2)
	assert.Equal(t, -120, cfg.Inputs[1].EdgeTriggerLevel)
	assert.Equal(t, EdgeRising, cfg.Inputs[1].EdgeTrigger)
	assert.Equal(t, 25, cfg.Inputs[1].ChannelOffset)
	assert.False(t, cfg.Inputs[1].Enable)
}

func TestLoadDeviceConfigBadEdge(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "device.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync_edge: sideways\n"), 0o644))

	var _, err = LoadDeviceConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sideways")
}

func TestDeviceConfigYAMLRoundTrip(t *testing.T) {
	var cfg = DefaultDeviceConfig(3)
	cfg.Inputs[2].EdgeTrigger = EdgeRising

	var data, err = yaml.Marshal(cfg)
	require.NoError(t, err)

	var back DeviceConfig
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, cfg, back)
}

func TestDefaultDeviceConfig(t *testing.T) {
	var cfg = DefaultDeviceConfig(8)
	assert.Len(t, cfg.Inputs, 8)
	assert.Equal(t, 1, cfg.SyncDivider)
	for _, in := range cfg.Inputs {
		assert.True(t, in.Enable)
		assert.Equal(t, EdgeFalling, in.EdgeTrigger)
	}
}
