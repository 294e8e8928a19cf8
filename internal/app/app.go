// Package app wires the probe and the browser server bring-up into one
// process lifecycle.
//
// The orchestrator leaves servers that came up before a failed launch
// running. Run still stops them before returning an exit status, so the
// process never exits with driver children left behind.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/remote-playwright/internal/cli"
	"github.com/seantiz/remote-playwright/internal/model"
	"github.com/seantiz/remote-playwright/internal/orchestrator"
	"github.com/seantiz/remote-playwright/internal/probe"
)

// DefaultShutdownGrace bounds shutdown when Deps leaves it unset.
const DefaultShutdownGrace = 5 * time.Second

// ExitError asks the caller to end the process with Code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d: %v", e.Code, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Prober runs the connectivity probe.
type Prober interface {
	Run(ctx context.Context) (probe.Result, error)
}

// Orchestrator launches and stops browser servers.
type Orchestrator interface {
	Run(ctx context.Context, plan []model.LaunchOptions) (*orchestrator.Result, error)
	Shutdown(ctx context.Context, res *orchestrator.Result) error
}

// StatusServer serves until its context is done.
type StatusServer interface {
	Run(ctx context.Context) error
}

// Deps are the collaborators of Run.
type Deps struct {
	Args         cli.Args
	Prober       Prober
	Orchestrator Orchestrator

	// Plan defaults to model.DefaultPlan(Args.Proxy).
	Plan []model.LaunchOptions

	// Status is optional.
	Status StatusServer

	Logger *slog.Logger

	// ShutdownGrace bounds the wait for an interrupted launch and for
	// stopping servers. Zero uses DefaultShutdownGrace.
	ShutdownGrace time.Duration
}

type launchOutcome struct {
	res *orchestrator.Result
	err error
}

// Run starts the probe and the launches concurrently. It returns an
// *ExitError with code 1 as soon as the probe fails or a launch fails.
// Otherwise it keeps the servers up until ctx is done, stops them and
// returns nil.
func Run(ctx context.Context, d Deps) error {
	logger := d.Logger
	grace := d.ShutdownGrace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	plan := d.Plan
	if plan == nil {
		plan = model.DefaultPlan(d.Args.Proxy)
	}

	logger.Info("Arguments", "argv", d.Args.Raw, "proxy", d.Args.Proxy, "probe_port", d.Args.ProbePort)

	var bg sync.WaitGroup
	defer bg.Wait()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if d.Status != nil {
		bg.Go(func() {
			if err := d.Status.Run(runCtx); err != nil {
				logger.Error("status server failed", "error", err)
			}
		})
	}

	probeCh := make(chan error, 1)
	go func() {
		_, err := d.Prober.Run(runCtx)
		probeCh <- err
	}()

	launchCh := make(chan launchOutcome, 1)
	go func() {
		res, err := d.Orchestrator.Run(runCtx, plan)
		launchCh <- launchOutcome{res: res, err: err}
	}()

	var (
		res      *orchestrator.Result
		launched bool
	)

	// stop releases whatever came up, bounded by the grace period.
	stop := func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), grace)
		defer cancelShutdown()
		if err := d.Orchestrator.Shutdown(shutdownCtx, res); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}

	for {
		select {
		case err := <-probeCh:
			probeCh = nil
			if err == nil {
				continue
			}
			logger.Error("probe failed", "error", err)
			cancel()
			if !launched {
				res = awaitLaunch(launchCh, grace, logger)
			}
			stop()
			return &ExitError{Code: 1, Err: err}

		case out := <-launchCh:
			launched = true
			launchCh = nil
			res = out.res
			if out.err != nil {
				logger.Error("launch failed", "error", out.err)
				cancel()
				stop()
				return &ExitError{Code: 1, Err: out.err}
			}

		case <-ctx.Done():
			logger.Info("shutting down", "reason", context.Cause(ctx))
			cancel()
			if !launched {
				res = awaitLaunch(launchCh, grace, logger)
			}
			stop()
			return nil
		}
	}
}

// awaitLaunch waits up to grace for a cancelled launch to return so that
// servers it already started can be stopped.
func awaitLaunch(ch <-chan launchOutcome, grace time.Duration, logger *slog.Logger) *orchestrator.Result {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.err != nil && !errors.Is(out.err, context.Canceled) {
			logger.Warn("launch interrupted", "error", out.err)
		}
		return out.res
	case <-timer.C:
		logger.Warn("launch did not stop within grace period", "grace", grace.String())
		return nil
	}
}
