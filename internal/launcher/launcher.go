package launcher

import (
	"context"
	"fmt"

	"github.com/seantiz/remote-playwright/internal/model"
)

// Launcher starts browser servers for one engine.
type Launcher interface {
	// Launch starts a server according to req and blocks until it is ready to
	// accept connections or has failed. The context bounds the wait; a launch
	// abandoned through the context leaves no process behind.
	Launch(ctx context.Context, req Request) (Server, error)

	// Info describes the launcher.
	Info() Info
}

// Server is a handle to a running browser server.
type Server interface {
	Engine() model.Engine

	// WSEndpoint is the websocket URL clients connect to.
	WSEndpoint() string

	// PID is the server process id, or 0 if not backed by a local process.
	PID() int

	// Close stops the server. It is safe to call more than once.
	Close(ctx context.Context) error
}

// Request describes a single launch.
type Request struct {
	Options model.LaunchOptions

	// LaunchID identifies the launch record, for log correlation.
	LaunchID string

	// LogWriter, if set, receives each line the server process writes that is
	// not the endpoint announcement.
	LogWriter func(line string)
}

// Info describes a registered launcher.
type Info struct {
	Name   string       `json:"name"`
	Engine model.Engine `json:"engine"`
	Driver string       `json:"driver"`
}

// LaunchError reports a failed launch for one engine.
type LaunchError struct {
	Engine model.Engine
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Engine, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
