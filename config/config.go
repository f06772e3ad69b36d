// Package config loads the JSON startup configuration, discovers shader
// manifests, and loads the optional startup scene, per the engine's
// external interfaces.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Carmen-Shannon/blinkenctl/common"
	"github.com/Carmen-Shannon/blinkenctl/engine/auxiliary"
	"github.com/Carmen-Shannon/blinkenctl/engine/device"
)

// Config is the top-level engine configuration.
type Config struct {
	FrameBufferSize     uint32       `json:"frame_buffer_size"`
	FrameNumerator      uint32       `json:"frame_numerator"`
	FrameDenominator    uint32       `json:"frame_denominator"`
	LedsPerComputeGroup uint32       `json:"leds_per_compute_group"`
	Shaders             ShadersConfig `json:"shaders"`
}

// ShadersConfig names the folders scanned for shader manifests.
type ShadersConfig struct {
	ShaderFolders []string `json:"shader_folders"`
}

// FrameInterval returns the configured frame period as a time.Duration,
// per §6's `frame interval in ms = numerator/denominator`.
func (c Config) FrameInterval() time.Duration {
	ms := float64(c.FrameNumerator) / float64(c.FrameDenominator)
	return time.Duration(ms * float64(time.Millisecond))
}

// Load reads and parses the top-level configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ShaderManifest is one shader's manifest file: its declared id, the
// relative path to its source text, and the ordered auxiliary shapes it
// consumes.
type ShaderManifest struct {
	Id          string                                 `json:"id"`
	Shader      string                                 `json:"shader"`
	Auxiliaries []auxiliary.AuxiliaryDataTypeConsumer `json:"auxiliaries,omitempty"`

	// Source is the shader's loaded text, populated by DiscoverShaderManifests.
	// Not part of the wire format.
	Source string `json:"-"`
}

// DiscoverShaders globs **/*.json under every configured shader folder,
// parsing each as a ShaderManifest and loading its sibling source file.
// A malformed manifest or unreadable source file is skipped with a logged
// error rather than aborting the scan, per §6.
func DiscoverShaders(folders []string, log common.Logger) map[string]string {
	manifests := DiscoverShaderManifests(folders, log)
	sources := make(map[string]string, len(manifests))
	for id, m := range manifests {
		sources[id] = m.Source
	}
	return sources
}

// DiscoverShaderManifests is DiscoverShaders plus each manifest's declared
// auxiliary shapes, needed to size a compiled shader's auxiliary bind group.
func DiscoverShaderManifests(folders []string, log common.Logger) map[string]ShaderManifest {
	if log == nil {
		log = common.NopLogger{}
	}
	manifests := make(map[string]ShaderManifest)

	for _, folder := range folders {
		_ = filepath.WalkDir(folder, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() || filepath.Ext(path) != ".json" {
				return nil
			}

			raw, err := os.ReadFile(path)
			if err != nil {
				log.Errorf("config: read shader manifest %s: %v", path, err)
				return nil
			}

			var manifest ShaderManifest
			if err := json.Unmarshal(raw, &manifest); err != nil {
				log.Errorf("config: parse shader manifest %s: %v", path, err)
				return nil
			}
			if manifest.Id == "" || manifest.Shader == "" {
				log.Errorf("config: shader manifest %s missing id or shader path", path)
				return nil
			}

			srcPath := filepath.Join(filepath.Dir(path), manifest.Shader)
			src, err := os.ReadFile(srcPath)
			if err != nil {
				log.Errorf("config: read shader source %s (from manifest %s): %v", srcPath, path, err)
				return nil
			}

			manifest.Source = string(src)
			manifests[manifest.Id] = manifest
			return nil
		})
	}

	return manifests
}

// StartupScene pre-creates fixtures, animations, auxiliaries, devices, and
// the routing maps, per §6.
type StartupScene struct {
	Fixtures                []StartupFixture        `json:"fixtures"`
	Animations              []StartupAnimation       `json:"animations"`
	Auxiliaries             []StartupAuxiliary       `json:"auxiliaries"`
	Devices                 []StartupDevice          `json:"devices"`
	FixturesToDevice        map[string]string        `json:"fixtures_to_device"`
	AnimationAuxiliarySources map[string][]string     `json:"animation_auxiliary_sources"`
}

// StartupFixture describes one pre-created fixture. If Positions is empty
// or its length does not match NumLEDs, every LED defaults to the origin.
type StartupFixture struct {
	Id        string         `json:"id"`
	NumLEDs   uint32         `json:"num_leds"`
	Positions []common.Coord `json:"led_positions,omitempty"`
}

// ResolvedPositions returns f.Positions if it exactly matches NumLEDs,
// else NumLEDs copies of the origin.
func (f StartupFixture) ResolvedPositions() []common.Coord {
	if uint32(len(f.Positions)) == f.NumLEDs {
		return f.Positions
	}
	out := make([]common.Coord, f.NumLEDs)
	for i := range out {
		out[i] = common.Origin
	}
	return out
}

// StartupAnimation describes one pre-created animation.
type StartupAnimation struct {
	Id       string               `json:"id"`
	ShaderId string               `json:"shader_id"`
	Target   StartupTarget        `json:"target_id"`
}

// StartupTarget is the tagged Fixture|Installation|Group union a startup
// animation targets.
type StartupTarget struct {
	Kind common.TargetKind
	ID   string
}

func (t *StartupTarget) UnmarshalJSON(data []byte) error {
	var wire map[string]string
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if id, ok := wire["Fixture"]; ok {
		*t = StartupTarget{Kind: common.TargetFixture, ID: id}
		return nil
	}
	if id, ok := wire["Installation"]; ok {
		*t = StartupTarget{Kind: common.TargetInstallation, ID: id}
		return nil
	}
	if id, ok := wire["Group"]; ok {
		*t = StartupTarget{Kind: common.TargetGroup, ID: id}
		return nil
	}
	return fmt.Errorf("target_id: expected one of Fixture/Installation/Group, got %s", string(data))
}

// Target converts to the engine's common.Target.
func (t StartupTarget) Target() common.Target {
	return common.Target{Kind: t.Kind, ID: t.ID}
}

// StartupAuxiliary describes one pre-created auxiliary stream.
type StartupAuxiliary struct {
	Id       string                                `json:"id"`
	Consumer auxiliary.AuxiliaryDataTypeConsumer    `json:"type"`
	Dims     []int                                  `json:"dims,omitempty"`
	Range    *auxiliary.ScalarRange                 `json:"range,omitempty"`
}

// StartupDevice describes one pre-created device.
type StartupDevice struct {
	Id     string       `json:"id"`
	Config DeviceConfig `json:"config"`
}

// DeviceConfig is the tagged LEDDataOutput(MQTT|UDP) | Auxiliary(Noise)
// union §6 names.
type DeviceConfig struct {
	Kind      device.Kind
	LEDOutput *device.LEDOutputConfig
	Auxiliary *device.AuxiliaryConfig
}

func (c *DeviceConfig) UnmarshalJSON(data []byte) error {
	var wire struct {
		LEDDataOutput *struct {
			MQTT *struct {
				Address string `json:"address"`
				Topic   string `json:"topic"`
			} `json:"MQTT,omitempty"`
			UDP *struct {
				Address string `json:"address"`
			} `json:"UDP,omitempty"`
		} `json:"LEDDataOutput,omitempty"`
		Auxiliary *struct {
			Noise *struct {
				Consumer auxiliary.AuxiliaryDataTypeConsumer `json:"type"`
				Dims     []int                                `json:"dims,omitempty"`
			} `json:"Noise,omitempty"`
		} `json:"Auxiliary,omitempty"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	switch {
	case wire.LEDDataOutput != nil && wire.LEDDataOutput.MQTT != nil:
		*c = DeviceConfig{Kind: device.KindLEDDataOutput, LEDOutput: &device.LEDOutputConfig{
			Transport: device.TransportMQTT, Address: wire.LEDDataOutput.MQTT.Address, Topic: wire.LEDDataOutput.MQTT.Topic,
		}}
	case wire.LEDDataOutput != nil && wire.LEDDataOutput.UDP != nil:
		*c = DeviceConfig{Kind: device.KindLEDDataOutput, LEDOutput: &device.LEDOutputConfig{
			Transport: device.TransportUDP, Address: wire.LEDDataOutput.UDP.Address,
		}}
	case wire.Auxiliary != nil && wire.Auxiliary.Noise != nil:
		*c = DeviceConfig{Kind: device.KindAuxiliaryData, Auxiliary: &device.AuxiliaryConfig{
			Generator: device.GeneratorNoise, Consumer: wire.Auxiliary.Noise.Consumer, Dims: wire.Auxiliary.Noise.Dims,
		}}
	default:
		return fmt.Errorf("device config: expected LEDDataOutput(MQTT|UDP) or Auxiliary(Noise), got %s", string(data))
	}
	return nil
}

// Handle converts to the engine's device.Handle.
func (c DeviceConfig) Handle() device.Handle {
	return device.Handle{Kind: c.Kind, LEDOutput: c.LEDOutput, Auxiliary: c.Auxiliary}
}

// LoadStartupScene reads and parses the startup scene file at path.
func LoadStartupScene(path string) (*StartupScene, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read startup scene %s: %w", path, err)
	}
	var scene StartupScene
	if err := json.Unmarshal(raw, &scene); err != nil {
		return nil, fmt.Errorf("parse startup scene %s: %w", path, err)
	}
	return &scene, nil
}
