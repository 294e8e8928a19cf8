package driver

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/kballard/go-shellquote"
	"github.com/playwright-community/playwright-go"

	"github.com/seantiz/remote-playwright/internal/model"
)

// CommandFunc builds a driver invocation for the given CLI arguments,
// e.g. ("launch-server", "--browser", "chromium", "--config", path).
type CommandFunc func(args ...string) *exec.Cmd

// DriverConfig selects how the driver is invoked.
type DriverConfig struct {
	// Command, if set, is a shell-quoted prefix such as "npx playwright".
	Command string

	// InstallBrowsers installs the engines before the first launch.
	InstallBrowsers bool
}

// ParseCommand turns a shell-quoted command prefix into a CommandFunc.
func ParseCommand(s string) (CommandFunc, error) {
	argv, err := shellquote.Split(s)
	if err != nil {
		return nil, fmt.Errorf("parse driver command %q: %w", s, err)
	}
	if len(argv) == 0 {
		return nil, errors.New("empty driver command")
	}
	prefix := argv[1:len(argv):len(argv)]
	return func(args ...string) *exec.Cmd {
		return exec.Command(argv[0], append(prefix, args...)...)
	}, nil
}

// ResolveCommand returns the command used to reach the driver and a short
// name for it. Without an override it uses the driver bundled by playwright-go.
func ResolveCommand(cfg DriverConfig) (CommandFunc, string, error) {
	browsers := make([]string, 0, len(model.Engines))
	for _, e := range model.Engines {
		browsers = append(browsers, string(e))
	}

	if cfg.Command != "" {
		cmd, err := ParseCommand(cfg.Command)
		if err != nil {
			return nil, "", err
		}
		if cfg.InstallBrowsers {
			if out, err := cmd(append([]string{"install"}, browsers...)...).CombinedOutput(); err != nil {
				return nil, "", fmt.Errorf("install browsers: %w: %s", err, out)
			}
		}
		return cmd, cfg.Command, nil
	}

	runOpts := &playwright.RunOptions{
		Browsers:            browsers,
		SkipInstallBrowsers: !cfg.InstallBrowsers,
	}
	if cfg.InstallBrowsers {
		if err := playwright.Install(runOpts); err != nil {
			return nil, "", fmt.Errorf("install playwright: %w", err)
		}
	}

	pw, err := playwright.NewDriver(runOpts)
	if err != nil {
		return nil, "", fmt.Errorf("locate playwright driver: %w", err)
	}
	return pw.Command, "playwright-go", nil
}
