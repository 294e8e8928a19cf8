package model

import (
	"errors"
	"fmt"
)

// Engine identifies a browser engine that can be launched as a server.
type Engine string

// Supported engines, in launch order.
const (
	EngineChromium Engine = "chromium"
	EngineFirefox  Engine = "firefox"
	EngineWebKit   Engine = "webkit"
)

// Engines lists every supported engine in launch order.
var Engines = []Engine{EngineChromium, EngineFirefox, EngineWebKit}

// Fixed listening ports. Callers outside the container connect to these.
const (
	PortChromium = 1010
	PortFirefox  = 1011
	PortWebKit   = 1012
)

// Valid reports whether e is one of the supported engines.
func (e Engine) Valid() bool {
	switch e {
	case EngineChromium, EngineFirefox, EngineWebKit:
		return true
	}
	return false
}

// Proxy routes a launched engine's outbound traffic through an upstream server.
type Proxy struct {
	Server   string
	Bypass   string
	Username string
	Password string
}

// LaunchOptions configures a single browser server launch.
type LaunchOptions struct {
	Engine   Engine
	Proxy    *Proxy
	Headless bool
	Port     int
	WSPath   string
}

// DefaultPlan returns the three launches in chromium, firefox, webkit order.
// Every entry shares the same proxy server, passed through verbatim.
func DefaultPlan(proxyServer string) []LaunchOptions {
	ports := map[Engine]int{
		EngineChromium: PortChromium,
		EngineFirefox:  PortFirefox,
		EngineWebKit:   PortWebKit,
	}

	plan := make([]LaunchOptions, 0, len(Engines))
	for _, e := range Engines {
		plan = append(plan, LaunchOptions{
			Engine:   e,
			Proxy:    &Proxy{Server: proxyServer},
			Headless: true,
			Port:     ports[e],
			WSPath:   string(e),
		})
	}
	return plan
}

// ErrInvalidPlan is returned by ValidatePlan.
var ErrInvalidPlan = errors.New("invalid launch plan")

// ValidatePlan checks that every entry names a supported engine and that no
// two entries share an engine, a port or a ws path. Port 0 (ephemeral) may repeat.
func ValidatePlan(plan []LaunchOptions) error {
	if len(plan) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidPlan)
	}

	engines := make(map[Engine]bool, len(plan))
	ports := make(map[int]Engine, len(plan))
	paths := make(map[string]Engine, len(plan))

	for _, opts := range plan {
		if !opts.Engine.Valid() {
			return fmt.Errorf("%w: unsupported engine %q", ErrInvalidPlan, opts.Engine)
		}
		if engines[opts.Engine] {
			return fmt.Errorf("%w: engine %q listed twice", ErrInvalidPlan, opts.Engine)
		}
		engines[opts.Engine] = true

		if opts.Port < 0 || opts.Port > 65535 {
			return fmt.Errorf("%w: %s port %d out of range", ErrInvalidPlan, opts.Engine, opts.Port)
		}
		if opts.Port != 0 {
			if other, ok := ports[opts.Port]; ok {
				return fmt.Errorf("%w: port %d used by %s and %s", ErrInvalidPlan, opts.Port, other, opts.Engine)
			}
			ports[opts.Port] = opts.Engine
		}

		if opts.WSPath == "" {
			return fmt.Errorf("%w: %s has no ws path", ErrInvalidPlan, opts.Engine)
		}
		if other, ok := paths[opts.WSPath]; ok {
			return fmt.Errorf("%w: ws path %q used by %s and %s", ErrInvalidPlan, opts.WSPath, other, opts.Engine)
		}
		paths[opts.WSPath] = opts.Engine
	}
	return nil
}
