// ctlmux is the CLI entry point.
//
// It runs either end of a control channel: the device merges commands from a
// reliable stream and an unreliable datagram transport, the controller feeds
// it. Transports are a direct TCP+UDP pair or a WebSocket-signaled WebRTC
// DataChannel paired with the signaling WebSocket itself.
//
// It can be launched interactively (no -role) or non-interactively via a TOML
// file (-config) and flags, which override the file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/ctlmux/internal/app"
	"github.com/1ureka/ctlmux/internal/config"
	"github.com/1ureka/ctlmux/internal/metrics"
	"github.com/1ureka/ctlmux/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fs := newFlagSet()
	fs.Parse(os.Args[1:])

	cfg := config.Default()
	if path := fs.Lookup("config").Value.String(); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := applyFlags(fs, &cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if cfg.Log.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("ctlmux v%s", version))
	pterm.Println()

	if cfg.Role == "" {
		// No role from flags or file → interactive mode.
		askInteractive(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.StartStatsReporter(ctx, cfg.Metrics.StatsInterval)
	if cfg.Metrics.Listen != "" {
		if _, err := metrics.Serve(ctx, cfg.Metrics.Listen); err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
	}

	var err error
	switch cfg.Role {
	case config.RoleDevice:
		err = app.RunDevice(ctx, cfg)
	case config.RoleController:
		err = app.RunController(ctx, cfg, os.Stdin)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("control channel closed")
}

// newFlagSet declares the CLI flags. Values are read back through Lookup and
// Visit so that only flags actually given override the config file.
func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("ctlmux", flag.ExitOnError)
	fs.String("config", "", "Path to a TOML config file")
	fs.String("role", "", "Role: device or controller")
	fs.String("mode", "", "Transport: direct or webrtc")
	fs.String("tcp", "", "Stream address (listen on device, dial on controller)")
	fs.String("udp", "", "Datagram address (listen on device, dial on controller)")
	fs.String("ws", "", "Signaling URL including ?pin= (controller, webrtc mode)")
	fs.String("listen", "", "Signaling listen address (device, webrtc mode)")
	fs.Uint("id", 0, "Virtual device id (controller)")
	fs.Bool("echo", false, "Answer UHID input with UHID output (device)")
	fs.String("metrics", "", "Serve Prometheus metrics on this address")
	fs.Bool("debug", false, "Enable debug logging")
	return fs
}

// applyFlags copies every flag set on fs onto cfg. Flags left at their
// defaults do not override the file. The first invalid flag wins.
func applyFlags(fs *flag.FlagSet, cfg *config.Config) error {
	var errs []error
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "role":
			cfg.Role = config.Role(v)
		case "mode":
			cfg.Mode = config.Mode(v)
		case "tcp":
			cfg.Device.TCP, cfg.Controller.TCP = v, v
		case "udp":
			cfg.Device.UDP, cfg.Controller.UDP = v, v
		case "ws":
			wsURL, err := normalizeWSURL(v)
			if err != nil {
				errs = append(errs, err)
				return
			}
			cfg.Controller.WSURL = wsURL
		case "listen":
			cfg.Signaling.Listen = v
		case "id":
			id := f.Value.(flag.Getter).Get().(uint)
			if id > 0xFFFF {
				errs = append(errs, fmt.Errorf("invalid -id %d: must be 0~65535", id))
				return
			}
			cfg.Controller.DeviceID = uint16(id)
		case "echo":
			cfg.Device.Echo = v == "true"
		case "metrics":
			cfg.Metrics.Listen = v
		case "debug":
			cfg.Log.Debug = v == "true"
		}
	})
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// askInteractive fills role, mode and the controller's signaling URL from
// prompts.
func askInteractive(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Device     — Receive commands", "Controller — Send commands"}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	cfg.Role = config.RoleDevice
	if strings.HasPrefix(role, "Controller") {
		cfg.Role = config.RoleController
	}

	mode, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"direct — TCP + UDP", "webrtc — WebSocket + DataChannel"}).
		WithDefaultText("Select the transport").
		Show()
	pterm.Println()

	cfg.Mode = config.ModeDirect
	if strings.HasPrefix(mode, "webrtc") {
		cfg.Mode = config.ModeWebRTC
	}

	if cfg.Role == config.RoleController && cfg.Mode == config.ModeWebRTC && cfg.Controller.WSURL == "" {
		cfg.Controller.WSURL = askURL()
	}
}

// normalizeWSURL validates and normalizes a raw WebSocket URL string. The
// pin query parameter is kept.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	out := fmt.Sprintf("%s://%s/ws", scheme, u.Host)
	if pin := u.Query().Get("pin"); pin != "" {
		out += "?pin=" + url.QueryEscape(pin)
	}
	return out, nil
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("WebSocket URL (e.g. ws://192.168.1.20:40123/ws?pin=123456)").
			Show()

		wsURL, err := normalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
