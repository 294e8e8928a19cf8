package driver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/remote-playwright/internal/launcher"
	"github.com/seantiz/remote-playwright/internal/model"
)

const (
	// DefaultGrace is how long Close waits after an interrupt before killing.
	DefaultGrace = 5 * time.Second

	// maxLineSize bounds a single line of driver output.
	maxLineSize = 1 << 20
)

// ErrExited is returned when the driver process ends before announcing an endpoint.
var ErrExited = errors.New("driver exited before announcing an endpoint")

// Compile-time interface satisfaction check.
var _ launcher.Launcher = (*Launcher)(nil)

// Options tunes a Launcher.
type Options struct {
	// DriverName is reported by Info.
	DriverName string

	// Verify performs a websocket handshake against each endpoint before the
	// launch is reported ready.
	Verify        bool
	VerifyTimeout time.Duration

	// Grace is the wait between interrupt and kill on Close. Zero uses DefaultGrace.
	Grace time.Duration

	// TempDir holds per-launch config files. Empty uses the OS default.
	TempDir string
}

// Launcher starts browser servers for one engine by running the driver.
type Launcher struct {
	engine  model.Engine
	command CommandFunc
	opts    Options
	logger  *slog.Logger
}

// New creates a launcher for engine using command to reach the driver.
func New(engine model.Engine, command CommandFunc, opts Options, logger *slog.Logger) *Launcher {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	return &Launcher{
		engine:  engine,
		command: command,
		opts:    opts,
		logger:  logger,
	}
}

// Register adds a launcher for every supported engine to reg.
func Register(reg *launcher.Registry, command CommandFunc, opts Options, logger *slog.Logger) {
	for _, e := range model.Engines {
		reg.Register(e, New(e, command, opts, logger.With("engine", string(e))))
	}
}

// Info describes the launcher.
func (l *Launcher) Info() launcher.Info {
	return launcher.Info{
		Name:   string(l.engine) + "-launch-server",
		Engine: l.engine,
		Driver: l.opts.DriverName,
	}
}

// Launch runs the driver's launch-server command and waits for the endpoint.
func (l *Launcher) Launch(ctx context.Context, req launcher.Request) (launcher.Server, error) {
	opts := req.Options
	if opts.Engine != l.engine {
		return nil, fmt.Errorf("%s launcher cannot launch %q", l.engine, opts.Engine)
	}

	dir, err := os.MkdirTemp(l.opts.TempDir, "rpw-"+string(l.engine)+"-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	cfgPath, err := writeConfig(dir, opts)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	cmd := l.command("launch-server", "--browser", string(l.engine), "--config", cfgPath)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("start driver: %w", err)
	}

	l.logger.Debug("driver started",
		"pid", cmd.Process.Pid,
		"launch_id", req.LaunchID,
		"port", opts.Port,
		"ws_path", opts.WSPath,
	)

	srv := &server{
		engine: l.engine,
		cmd:    cmd,
		dir:    dir,
		grace:  l.opts.Grace,
		done:   make(chan struct{}),
	}

	// The mutex serialises stdout and stderr lines into LogWriter.
	var (
		outMu    sync.Mutex
		lastLine string
	)
	emit := func(line string) {
		outMu.Lock()
		defer outMu.Unlock()
		lastLine = line
		if req.LogWriter != nil {
			req.LogWriter(line)
		}
	}

	endpointCh := make(chan string, 1)
	var readers sync.WaitGroup
	readers.Go(func() {
		announced := false
		scanLines(stdout, func(line string) {
			if !announced && isEndpoint(line) {
				announced = true
				endpointCh <- strings.TrimSpace(line)
				return
			}
			emit(line)
		})
	})
	readers.Go(func() {
		scanLines(stderr, emit)
	})

	// Wait must not run before the pipes are drained.
	go func() {
		readers.Wait()
		srv.waitErr = cmd.Wait()
		close(srv.done)
	}()

	select {
	case endpoint := <-endpointCh:
		srv.endpoint = endpoint
	case <-srv.done:
		outMu.Lock()
		last := lastLine
		outMu.Unlock()
		os.RemoveAll(dir)
		if last != "" {
			return nil, fmt.Errorf("%w: %v; last output: %q", ErrExited, srv.waitErr, last)
		}
		return nil, fmt.Errorf("%w: %v", ErrExited, srv.waitErr)
	case <-ctx.Done():
		srv.Close(context.Background())
		return nil, fmt.Errorf("wait for endpoint: %w", ctx.Err())
	}

	if l.opts.Verify {
		if err := verifyEndpoint(ctx, srv.endpoint, l.opts.VerifyTimeout); err != nil {
			srv.Close(context.Background())
			return nil, fmt.Errorf("verify endpoint: %w", err)
		}
	}

	return srv, nil
}

// isEndpoint reports whether line is the driver's endpoint announcement.
func isEndpoint(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "ws://") || strings.HasPrefix(line, "wss://")
}

// scanLines calls fn for each line read from r, then drains r.
func scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	io.Copy(io.Discard, r)
}
