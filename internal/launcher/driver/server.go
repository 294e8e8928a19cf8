package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/seantiz/remote-playwright/internal/launcher"
	"github.com/seantiz/remote-playwright/internal/model"
)

var _ launcher.Server = (*server)(nil)

// server is a running driver process that announced an endpoint.
type server struct {
	engine   model.Engine
	endpoint string
	cmd      *exec.Cmd
	dir      string
	grace    time.Duration

	// done is closed once the process has exited; waitErr is valid after that.
	done    chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

func (s *server) Engine() model.Engine { return s.engine }

func (s *server) WSEndpoint() string { return s.endpoint }

func (s *server) PID() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Close interrupts the driver, kills it if it is still running after the
// grace period or once ctx is done, and removes the launch config.
func (s *server) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stop(ctx)
		os.RemoveAll(s.dir)
	})
	return s.closeErr
}

func (s *server) stop(ctx context.Context) error {
	if s.exited() {
		return nil
	}

	if err := s.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		// Interrupt is unsupported on some platforms.
		s.cmd.Process.Kill()
	}

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case <-s.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %s driver: %w", s.engine, err)
	}

	select {
	case <-s.done:
		return nil
	case <-time.After(s.grace):
		return fmt.Errorf("%s driver (pid %d) did not exit after kill", s.engine, s.PID())
	}
}

// exited reports whether the driver process has ended.
func (s *server) exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
