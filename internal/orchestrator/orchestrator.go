package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seantiz/remote-playwright/internal/launcher"
	"github.com/seantiz/remote-playwright/internal/model"
	"github.com/seantiz/remote-playwright/internal/store"
)

// Mode selects how the launches of a plan are scheduled.
type Mode string

const (
	// ModeSequential launches in plan order and stops at the first failure.
	ModeSequential Mode = "sequential"
	// ModeParallel starts every launch at once and waits for all of them.
	ModeParallel Mode = "parallel"
)

// EndpointSeparator joins the endpoints in the ready summary.
const EndpointSeparator = " ,  "

// errNotStarted marks plan entries skipped after an earlier failure.
var errNotStarted = errors.New("not started")

// Options tunes an Orchestrator.
type Options struct {
	Mode Mode

	// LaunchTimeout bounds each launch. Zero means no bound.
	LaunchTimeout time.Duration

	// CleanupOnFailure closes servers that already came up when a later
	// launch of the same run fails. Off by default, leaving them running.
	CleanupOnFailure bool
}

// Orchestrator launches browser servers and tracks them in the store.
type Orchestrator struct {
	registry *launcher.Registry
	store    store.Store
	broker   *LogBroker
	logger   *slog.Logger
	opts     Options
}

// New creates an orchestrator. A nil broker gets a fresh one.
func New(reg *launcher.Registry, s store.Store, broker *LogBroker, logger *slog.Logger, opts Options) *Orchestrator {
	if broker == nil {
		broker = NewLogBroker()
	}
	if opts.Mode == "" {
		opts.Mode = ModeSequential
	}
	return &Orchestrator{
		registry: reg,
		store:    s,
		broker:   broker,
		logger:   logger,
		opts:     opts,
	}
}

// Broker returns the log broker used for server output.
func (o *Orchestrator) Broker() *LogBroker {
	return o.broker
}

// Result is the outcome of one run.
type Result struct {
	RunID string

	// Launches holds the launch records in plan order.
	Launches []*model.Launch

	// Servers holds the servers that came up, in plan order.
	Servers []launcher.Server

	// Err is the first launch failure, if any.
	Err error

	launchIDs []string // parallel to Servers

	stopOnce sync.Once
	stopErr  error
}

// Endpoints returns the websocket endpoints of the running servers in plan order.
func (r *Result) Endpoints() []string {
	eps := make([]string, 0, len(r.Servers))
	for _, s := range r.Servers {
		eps = append(eps, s.WSEndpoint())
	}
	return eps
}

// Run launches every entry of plan. The returned Result is non-nil for any
// valid plan and carries the servers that did come up, even on failure.
func (o *Orchestrator) Run(ctx context.Context, plan []model.LaunchOptions) (*Result, error) {
	if err := model.ValidatePlan(plan); err != nil {
		return nil, err
	}

	res := &Result{RunID: model.NewID()}
	for _, opts := range plan {
		rec := model.NewLaunch(res.RunID, opts)
		if err := o.store.CreateLaunch(context.WithoutCancel(ctx), rec); err != nil {
			o.logger.Error("failed to record launch", "engine", string(opts.Engine), "launch_id", rec.ID, "error", err)
		}
		res.Launches = append(res.Launches, rec)
	}

	o.logger.Info("launching browser servers",
		"run_id", res.RunID,
		"mode", string(o.opts.Mode),
		"count", len(plan),
	)

	servers := make([]launcher.Server, len(plan))
	switch o.opts.Mode {
	case ModeParallel:
		var g errgroup.Group
		for i, opts := range plan {
			g.Go(func() error {
				srv, err := o.launch(ctx, res.Launches[i], opts)
				servers[i] = srv
				return err
			})
		}
		res.Err = g.Wait()
	case ModeSequential:
		for i, opts := range plan {
			srv, err := o.launch(ctx, res.Launches[i], opts)
			if err != nil {
				res.Err = err
				o.skip(res.Launches[i+1:])
				break
			}
			servers[i] = srv
		}
	default:
		return nil, fmt.Errorf("unknown launch mode %q", o.opts.Mode)
	}

	for i, srv := range servers {
		if srv != nil {
			res.Servers = append(res.Servers, srv)
			res.launchIDs = append(res.launchIDs, res.Launches[i].ID)
		}
	}

	if res.Err != nil {
		o.logger.Error("browser server launch failed",
			"run_id", res.RunID,
			"running", len(res.Servers),
			"error", res.Err,
		)
		if o.opts.CleanupOnFailure {
			if err := o.Shutdown(context.WithoutCancel(ctx), res); err != nil {
				o.logger.Error("cleanup after failed launch", "run_id", res.RunID, "error", err)
			}
		}
		return res, res.Err
	}

	o.logSummary(res)
	return res, nil
}

// logSummary logs every endpoint once the whole plan is up.
func (o *Orchestrator) logSummary(res *Result) {
	args := []any{"run_id", res.RunID}
	for _, srv := range res.Servers {
		args = append(args, string(srv.Engine()), srv.WSEndpoint())
	}
	args = append(args, "endpoints", strings.Join(res.Endpoints(), EndpointSeparator))
	o.logger.Info("ready endpoint", args...)
}

// launch brings up one server and records its lifecycle.
func (o *Orchestrator) launch(ctx context.Context, rec *model.Launch, opts model.LaunchOptions) (launcher.Server, error) {
	logger := o.logger.With("engine", string(opts.Engine), "launch_id", rec.ID)
	storeCtx := context.WithoutCancel(ctx)
	start := time.Now()

	fail := func(err error) error {
		dur := time.Since(start)
		if serr := o.store.MarkFailed(storeCtx, rec.ID, err, dur); serr != nil {
			logger.Error("failed to record launch failure", "error", serr)
		}
		o.broker.Close(rec.ID)
		launchesTotal.WithLabelValues(string(opts.Engine), model.StatusFailed).Inc()
		launchDuration.WithLabelValues(string(opts.Engine)).Observe(dur.Seconds())
		rec.Status = model.StatusFailed
		rec.Error = err.Error()
		return &launcher.LaunchError{Engine: opts.Engine, Err: err}
	}

	l, err := o.registry.Resolve(opts.Engine)
	if err != nil {
		return nil, fail(err)
	}

	// Ledger writes never decide the outcome of a launch.
	if err := o.store.UpdateLaunchStatus(storeCtx, rec.ID, model.StatusStarting); err != nil {
		logger.Error("failed to record launch start", "error", err)
	}
	rec.Status = model.StatusStarting

	logger.Info("launching browser server", "port", opts.Port, "ws_path", opts.WSPath)

	lctx := ctx
	if o.opts.LaunchTimeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, o.opts.LaunchTimeout)
		defer cancel()
	}

	// Output lines outlive the launch call, so they are persisted without
	// the launch context.
	var seq atomic.Int32
	req := launcher.Request{
		Options:  opts,
		LaunchID: rec.ID,
		LogWriter: func(line string) {
			n := int(seq.Add(1) - 1)
			if err := o.store.InsertLogLine(storeCtx, rec.ID, n, line); err != nil {
				logger.Error("failed to persist log line", "seq", n, "error", err)
			}
			o.broker.Publish(rec.ID, line)
		},
	}

	srv, err := l.Launch(lctx, req)
	if err != nil {
		if errors.Is(lctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("launch timed out after %s: %w", o.opts.LaunchTimeout, err)
		}
		return nil, fail(err)
	}

	dur := time.Since(start)
	if err := o.markReady(storeCtx, rec.ID, srv, dur); err != nil {
		logger.Error("failed to record ready launch", "error", err)
	}
	launchesTotal.WithLabelValues(string(opts.Engine), model.StatusReady).Inc()
	launchDuration.WithLabelValues(string(opts.Engine)).Observe(dur.Seconds())
	activeServers.Inc()

	rec.Status = model.StatusReady
	rec.Endpoint = srv.WSEndpoint()

	logger.Info("browser server ready", "endpoint", srv.WSEndpoint(), "duration_ms", dur.Milliseconds())
	return srv, nil
}

// markReady records srv as ready. A record left behind by a lost earlier
// write is walked forward through starting first.
func (o *Orchestrator) markReady(ctx context.Context, id string, srv launcher.Server, dur time.Duration) error {
	err := o.store.MarkReady(ctx, id, srv.WSEndpoint(), srv.PID(), dur)
	if !errors.Is(err, store.ErrInvalidTransition) {
		return err
	}
	if serr := o.store.UpdateLaunchStatus(ctx, id, model.StatusStarting); serr != nil {
		return errors.Join(err, serr)
	}
	return o.store.MarkReady(ctx, id, srv.WSEndpoint(), srv.PID(), dur)
}

// markStopped records srv as stopped, catching up on a missed ready write.
func (o *Orchestrator) markStopped(ctx context.Context, id string, srv launcher.Server) error {
	err := o.store.UpdateLaunchStatus(ctx, id, model.StatusStopped)
	if !errors.Is(err, store.ErrInvalidTransition) {
		return err
	}
	if rerr := o.markReady(ctx, id, srv, 0); rerr != nil {
		return errors.Join(err, rerr)
	}
	return o.store.UpdateLaunchStatus(ctx, id, model.StatusStopped)
}

// skip marks plan entries that were never attempted.
func (o *Orchestrator) skip(recs []*model.Launch) {
	for _, rec := range recs {
		if err := o.store.MarkFailed(context.Background(), rec.ID, errNotStarted, 0); err != nil {
			o.logger.Error("failed to record skipped launch", "launch_id", rec.ID, "error", err)
		}
		o.broker.Close(rec.ID)
		rec.Status = model.StatusFailed
		rec.Error = errNotStarted.Error()
	}
}

// Shutdown closes every server of res in reverse launch order. It is safe to
// call more than once; later calls return the first result.
func (o *Orchestrator) Shutdown(ctx context.Context, res *Result) error {
	if res == nil {
		return nil
	}
	res.stopOnce.Do(func() {
		var errs []error
		for i := len(res.Servers) - 1; i >= 0; i-- {
			srv, id := res.Servers[i], res.launchIDs[i]
			logger := o.logger.With("engine", string(srv.Engine()), "launch_id", id)

			if err := srv.Close(ctx); err != nil {
				logger.Error("failed to stop browser server", "error", err)
				errs = append(errs, fmt.Errorf("stop %s: %w", srv.Engine(), err))
			} else {
				logger.Info("browser server stopped")
			}

			if err := o.markStopped(context.WithoutCancel(ctx), id, srv); err != nil {
				logger.Error("failed to record stopped launch", "error", err)
			}
			o.broker.Close(id)
			activeServers.Dec()
		}
		for _, rec := range res.Launches {
			if rec.Status == model.StatusReady {
				rec.Status = model.StatusStopped
			}
		}
		res.stopErr = errors.Join(errs...)
	})
	return res.stopErr
}
