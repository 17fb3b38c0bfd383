package tdc

/*------------------------------------------------------------------
 *
 * Purpose:	Device configuration.
 *
 * Description:	A DeviceConfig is built before the device is opened
 *		and never changes for the life of the handle.  It can
 *		be written out by hand as YAML; see LoadDeviceConfig.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Edge selects which signal transition triggers a channel.
type Edge int

const (
	EdgeFalling Edge = 0
	EdgeRising  Edge = 1
)

func (e Edge) String() string {
	if e == EdgeRising {
		return "rising"
	}
	return "falling"
}

func (e *Edge) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch s {
	case "rising":
		*e = EdgeRising
	case "falling":
		*e = EdgeFalling
	default:
		return fmt.Errorf("edge must be \"rising\" or \"falling\", got %q", s)
	}
	return nil
}

func (e Edge) MarshalYAML() (interface{}, error) {
	return e.String(), nil
}

// InputChannelConfig configures one regular input channel.
type InputChannelConfig struct {
	EdgeTriggerLevel int  `yaml:"edge_trigger_level"` // mV
	EdgeTrigger      Edge `yaml:"edge_trigger"`
	ChannelOffset    int  `yaml:"channel_offset"` // ps
	Enable           bool `yaml:"enable"`
}

// DeviceConfig is the full, immutable configuration for one device
// handle.  The number of entries in Inputs must match the channel
// count the hardware reports.
type DeviceConfig struct {
	SyncDivider          int                  `yaml:"sync_divider"`
	SyncEdgeTriggerLevel int                  `yaml:"sync_edge_trigger_level"` // mV
	SyncEdge             Edge                 `yaml:"sync_edge"`
	SyncChannelOffset    int                  `yaml:"sync_channel_offset"` // ps
	SyncChannelEnable    bool                 `yaml:"sync_channel_enable"`
	Inputs               []InputChannelConfig `yaml:"inputs"`
}

// DefaultDeviceConfig mirrors the settings used for the lab's pulsed
// laser setup: falling edge, -70 mV, everything enabled.
func DefaultDeviceConfig(numInputs int) DeviceConfig {
	var cfg = DeviceConfig{
		SyncDivider:          1,
		SyncEdgeTriggerLevel: -70,
		SyncEdge:             EdgeFalling,
		SyncChannelOffset:    0,
		SyncChannelEnable:    true,
	}
	for i := 0; i < numInputs; i++ {
		cfg.Inputs = append(cfg.Inputs, InputChannelConfig{
			EdgeTriggerLevel: -70,
			EdgeTrigger:      EdgeFalling,
			ChannelOffset:    0,
			Enable:           true,
		})
	}
	return cfg
}

// LoadDeviceConfig reads a DeviceConfig from a YAML file.
func LoadDeviceConfig(path string) (DeviceConfig, error) {
	var cfg DeviceConfig
	var data, readErr = os.ReadFile(path)
	if readErr != nil {
		return cfg, readErr
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing device config %s: %w", path, err)
	}
	return cfg, nil
}
