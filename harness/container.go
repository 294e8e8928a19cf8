package harness

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/playwright-community/playwright-go"
	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/seantiz/remote-playwright/internal/model"
)

const imageRepo = "remote-playwright"

// Container is a running browser container.
type Container struct {
	host   string
	ports  map[model.Engine]int
	logger *slog.Logger

	proxy  *upstreamProxy
	ctr    testcontainers.Container
	cancel context.CancelFunc

	execCancel context.CancelFunc
	execDone   chan struct{}
	execErr    error

	closeOnce sync.Once
	closeErr  error
}

// New builds the image for the given Playwright version, starts the
// container and waits until all three browser servers accept connections.
// The container and the upstream proxy live until Close or until the timeout
// set with WithTimeout expires.
func New(ctx context.Context, version string, opts ...Option) (*Container, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)

	proxy, err := startProxy(ctx, logger, cfg.verboseProxy, defaultWait)
	if err != nil {
		cancel()
		return nil, err
	}

	exposed := make([]string, 0, len(model.Engines))
	for _, entry := range model.DefaultPlan("") {
		exposed = append(exposed, fmt.Sprintf("%d/tcp", entry.Port))
	}

	logger.Info("building browser container", "image", imageRepo+":"+version)
	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			FromDockerfile: testcontainers.FromDockerfile{
				Context:       cfg.dockerContext,
				Dockerfile:    cfg.dockerfile,
				Repo:          imageRepo,
				Tag:           version,
				KeepImage:     true,
				PrintBuildLog: true,
				BuildArgs: map[string]*string{
					"PLAYWRIGHT_VERSION": &version,
				},
			},
			HostAccessPorts: []int{proxy.port},
			ExposedPorts:    exposed,
			Cmd:             []string{"sleep", strconv.Itoa(int(cfg.timeout.Seconds()) + 10)},
			WaitingFor:      wait.ForExec([]string{"echo", "ready"}),
		},
		Started: true,
	}

	ctr, err := testcontainers.GenericContainer(ctx, req)
	if err != nil {
		if ctr != nil {
			ctr.Terminate(context.Background())
		}
		proxy.Close()
		cancel()
		return nil, fmt.Errorf("start browser container: %w", err)
	}

	c := &Container{
		ports:    make(map[model.Engine]int, len(model.Engines)),
		logger:   logger,
		proxy:    proxy,
		ctr:      ctr,
		cancel:   cancel,
		execDone: make(chan struct{}),
	}

	var execCtx context.Context
	execCtx, c.execCancel = context.WithCancel(ctx)
	go c.run(execCtx)

	if err := c.resolve(ctx); err != nil {
		c.Close()
		return nil, err
	}

	logger.Info("browser container ready",
		"chromium", c.Endpoint(string(model.EngineChromium)),
		"firefox", c.Endpoint(string(model.EngineFirefox)),
		"webkit", c.Endpoint(string(model.EngineWebKit)),
	)
	return c, nil
}

// run executes remote-playwright inside the container until it exits. The
// probe is pointed at the upstream proxy, which is reachable from the
// container by construction.
func (c *Container) run(ctx context.Context) {
	defer close(c.execDone)
	logger := c.logger

	cmd := []string{"remote-playwright", c.proxy.ContainerURL(), strconv.Itoa(c.proxy.port)}
	code, out, err := c.ctr.Exec(ctx, cmd, tcexec.Multiplexed())
	if out != nil {
		scanner := bufio.NewScanner(out)
		for scanner.Scan() {
			logger.Info("container output", "line", scanner.Text())
		}
	}

	if ctx.Err() != nil {
		return
	}
	switch {
	case err != nil:
		c.execErr = fmt.Errorf("exec remote-playwright: %w", err)
	case code != 0:
		c.execErr = fmt.Errorf("remote-playwright exited with status %d", code)
	default:
		c.execErr = errors.New("remote-playwright exited")
	}
	logger.Error("remote-playwright stopped in container", "error", c.execErr)
}

// resolve maps the browser server ports to the host and waits for each.
func (c *Container) resolve(ctx context.Context) error {
	host, err := c.ctr.Host(ctx)
	if err != nil {
		return fmt.Errorf("browser container host: %w", err)
	}
	c.host = host

	for _, opts := range model.DefaultPlan("") {
		mapped, err := c.ctr.MappedPort(ctx, nat.Port(fmt.Sprintf("%d/tcp", opts.Port)))
		if err != nil {
			return fmt.Errorf("%s port: %w", opts.Engine, err)
		}
		addr := fmt.Sprintf("http://%s", net.JoinHostPort(host, mapped.Port()))
		if err := waitForHTTP(ctx, addr, defaultWait, c.logger); err != nil {
			if execErr := c.Err(); execErr != nil {
				return fmt.Errorf("%s server: %w", opts.Engine, execErr)
			}
			return fmt.Errorf("%s server: %w", opts.Engine, err)
		}
		c.ports[opts.Engine] = mapped.Int()
	}
	return nil
}

// Host is the address the browser servers are reachable at.
func (c *Container) Host() string {
	return c.host
}

// Endpoint returns the websocket endpoint of engine ("chromium", "firefox"
// or "webkit"), or "" for an unknown engine.
func (c *Container) Endpoint(engine string) string {
	port, ok := c.ports[model.Engine(engine)]
	if !ok {
		return ""
	}
	return fmt.Sprintf("ws://%s/%s", net.JoinHostPort(c.host, strconv.Itoa(port)), engine)
}

// Chromium connects pw to the Chromium server.
func (c *Container) Chromium(pw *playwright.Playwright) (playwright.Browser, error) {
	return pw.Chromium.Connect(c.Endpoint(string(model.EngineChromium)))
}

// Firefox connects pw to the Firefox server.
func (c *Container) Firefox(pw *playwright.Playwright) (playwright.Browser, error) {
	return pw.Firefox.Connect(c.Endpoint(string(model.EngineFirefox)))
}

// WebKit connects pw to the WebKit server.
func (c *Container) WebKit(pw *playwright.Playwright) (playwright.Browser, error) {
	return pw.WebKit.Connect(c.Endpoint(string(model.EngineWebKit)))
}

// Err reports why remote-playwright stopped inside the container, or nil
// while it is still running.
func (c *Container) Err() error {
	select {
	case <-c.execDone:
		return c.execErr
	default:
		return nil
	}
}

// Close stops remote-playwright, removes the container and stops the proxy.
func (c *Container) Close() error {
	c.closeOnce.Do(func() {
		c.execCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var errs []error
		if err := c.ctr.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("terminate container: %w", err))
		}
		if err := c.proxy.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stop proxy: %w", err))
		}
		c.cancel()
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

var _ io.Closer = (*Container)(nil)
