// remote-playwright launches Chromium, Firefox and WebKit browser servers
// behind a shared upstream proxy and runs a TCP probe back to the host.
// Usage: remote-playwright <proxy> <probe-port>
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/remote-playwright/internal/api"
	"github.com/seantiz/remote-playwright/internal/app"
	"github.com/seantiz/remote-playwright/internal/cli"
	"github.com/seantiz/remote-playwright/internal/config"
	"github.com/seantiz/remote-playwright/internal/launcher"
	"github.com/seantiz/remote-playwright/internal/launcher/driver"
	"github.com/seantiz/remote-playwright/internal/orchestrator"
	"github.com/seantiz/remote-playwright/internal/probe"
	"github.com/seantiz/remote-playwright/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "remote-playwright: %v\n", err)
		return 2
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	args, err := cli.ParseArgv(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "remote-playwright: %v\n%s\n", err, cli.Usage)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "db_path", cfg.DBPath, "error", err)
		return 1
	}
	defer db.Close()

	command, driverName, err := driver.ResolveCommand(driver.DriverConfig{
		Command:         cfg.DriverCommand,
		InstallBrowsers: cfg.InstallBrowsers,
	})
	if err != nil {
		logger.Error("failed to resolve playwright driver", "error", err)
		return 1
	}

	reg := launcher.NewRegistry()
	driver.Register(reg, command, driver.Options{
		DriverName:    driverName,
		Verify:        cfg.VerifyEndpoints,
		VerifyTimeout: cfg.VerifyTimeout,
		Grace:         cfg.ShutdownGrace,
	}, logger)

	broker := orchestrator.NewLogBroker()
	orch := orchestrator.New(reg, db, broker, logger, orchestrator.Options{
		Mode:             orchestrator.Mode(cfg.LaunchMode),
		LaunchTimeout:    cfg.LaunchTimeout,
		CleanupOnFailure: cfg.CleanupOnFailure,
	})

	prober := probe.New(probe.Config{
		Host:        cfg.ProbeHost,
		Port:        args.ProbePort,
		Greeting:    cfg.ProbeGreeting,
		DialTimeout: cfg.ProbeDialTimeout,
		ReadTimeout: cfg.ProbeReadTimeout,
	}, logger)

	deps := app.Deps{
		Args:          args,
		Prober:        prober,
		Orchestrator:  orch,
		Logger:        logger,
		ShutdownGrace: cfg.ShutdownGrace,
	}
	if cfg.StatusAddr != "" {
		deps.Status = api.NewServer(cfg.StatusAddr, db, reg, broker, logger)
	}

	logger.Info("remote-playwright: starting",
		"driver", driverName,
		"launch_mode", cfg.LaunchMode,
		"status_addr", cfg.StatusAddr,
		"db_path", cfg.DBPath,
	)

	err = app.Run(ctx, deps)
	var exitErr *app.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if err != nil {
		logger.Error("remote-playwright failed", "error", err)
		return 1
	}
	return 0
}
