// Package config holds the runtime configuration: defaults, TOML loading and
// validation. The CLI overlays its flags on top of a loaded Config.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Role selects which end of the control channel this process runs.
type Role string

const (
	RoleDevice     Role = "device"
	RoleController Role = "controller"
)

// Mode selects the transport pair.
type Mode string

const (
	// ModeDirect uses a TCP connection as the stream and a UDP socket for datagrams.
	ModeDirect Mode = "direct"
	// ModeWebRTC uses the signaling WebSocket as the stream and an unordered,
	// unreliable DataChannel for datagrams.
	ModeWebRTC Mode = "webrtc"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config stores every parameter the CLI needs.
type Config struct {
	Role       Role             `toml:"role"`
	Mode       Mode             `toml:"mode"`
	Device     DeviceConfig     `toml:"device"`
	Controller ControllerConfig `toml:"controller"`
	Signaling  SignalingConfig  `toml:"signaling"`
	Log        LogConfig        `toml:"log"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

type DeviceConfig struct {
	TCP            string `toml:"tcp"`             // direct mode: stream listen address
	UDP            string `toml:"udp"`             // direct mode: datagram listen address
	DatagramBuffer int    `toml:"datagram_buffer"` // bytes per datagram read
	Echo           bool   `toml:"echo"`            // answer UHID input with UHID output
}

type ControllerConfig struct {
	TCP        string `toml:"tcp"`    // direct mode: device stream address
	UDP        string `toml:"udp"`    // direct mode: device datagram address
	WSURL      string `toml:"ws_url"` // webrtc mode: signaling URL including ?pin=
	DeviceID   uint16 `toml:"device_id"`
	DeviceName string `toml:"device_name"`
}

type SignalingConfig struct {
	Listen    string   `toml:"listen"`
	PIN       string   `toml:"pin"`
	PINLength int      `toml:"pin_length"`
	STUN      []string `toml:"stun"`
}

type LogConfig struct {
	Debug bool `toml:"debug"`
}

type MetricsConfig struct {
	Listen        string        `toml:"listen"`         // empty disables /metrics
	StatsInterval time.Duration `toml:"stats_interval"` // 0 disables the log reporter
}

// Default returns the configuration used when no file or flag overrides it.
func Default() Config {
	return Config{
		Mode: ModeDirect,
		Device: DeviceConfig{
			TCP:            "127.0.0.1:27183",
			UDP:            "127.0.0.1:27184",
			DatagramBuffer: 64 * 1024,
		},
		Controller: ControllerConfig{
			TCP:        "127.0.0.1:27183",
			UDP:        "127.0.0.1:27184",
			DeviceID:   1,
			DeviceName: "ctlmux virtual pad",
		},
		Signaling: SignalingConfig{
			Listen:    ":0",
			PINLength: 6,
		},
		Metrics: MetricsConfig{
			StatsInterval: 5 * time.Second,
		},
	}
}

// Load reads a TOML file on top of Default. Keys the file sets but Config
// does not know are an error, so typos do not pass silently.
func Load(path string) (Config, error) {
	cfg := Default()

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}

	return cfg, nil
}

// Validate checks the fields the selected role and mode depend on. All
// problems are reported together.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	switch c.Role {
	case RoleDevice, RoleController:
	case "":
		bad("role is required")
	default:
		bad("role %q: must be %q or %q", c.Role, RoleDevice, RoleController)
	}

	switch c.Mode {
	case ModeDirect, ModeWebRTC:
	default:
		bad("mode %q: must be %q or %q", c.Mode, ModeDirect, ModeWebRTC)
	}

	if c.Role == RoleDevice {
		if c.Mode == ModeDirect {
			if c.Device.TCP == "" {
				bad("device.tcp is required in direct mode")
			}
			if c.Device.UDP == "" {
				bad("device.udp is required in direct mode")
			}
		}
		if c.Device.DatagramBuffer < 7 || c.Device.DatagramBuffer > 1<<20 {
			bad("device.datagram_buffer %d: must be between 7 and %d", c.Device.DatagramBuffer, 1<<20)
		}
		if c.Mode == ModeWebRTC && c.Signaling.PIN == "" && (c.Signaling.PINLength < 4 || c.Signaling.PINLength > 12) {
			bad("signaling.pin_length %d: must be between 4 and 12", c.Signaling.PINLength)
		}
	}

	if c.Role == RoleController {
		switch c.Mode {
		case ModeDirect:
			if c.Controller.TCP == "" || c.Controller.UDP == "" {
				bad("controller.tcp and controller.udp are required in direct mode")
			}
		case ModeWebRTC:
			if c.Controller.WSURL == "" {
				bad("controller.ws_url is required in webrtc mode")
			}
		}
		if len(c.Controller.DeviceName) > 255 {
			bad("controller.device_name: at most 255 bytes")
		}
	}

	if c.Metrics.StatsInterval < 0 {
		bad("metrics.stats_interval must not be negative")
	}

	return errors.Join(errs...)
}
