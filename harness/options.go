package harness

import (
	"log/slog"
	"time"
)

const (
	defaultTimeout       = 60 * time.Second
	defaultDockerContext = "."
	defaultDockerfile    = "docker/Dockerfile"
)

type config struct {
	timeout       time.Duration
	dockerContext string
	dockerfile    string
	logger        *slog.Logger
	verboseProxy  bool
}

func defaultConfig() config {
	return config{
		timeout:       defaultTimeout,
		dockerContext: defaultDockerContext,
		dockerfile:    defaultDockerfile,
		logger:        slog.Default(),
	}
}

// Option configures New.
type Option func(*config)

// WithTimeout bounds the container's lifetime, image build included.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDockerContext sets the image build context, the repository root that
// holds go.mod. dockerfile is relative to it; empty keeps docker/Dockerfile.
func WithDockerContext(dir, dockerfile string) Option {
	return func(c *config) {
		c.dockerContext = dir
		if dockerfile != "" {
			c.dockerfile = dockerfile
		}
	}
}

// WithLogger sets the logger for harness progress and container output.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithVerboseProxy makes the upstream proxy log every request.
func WithVerboseProxy() Option {
	return func(c *config) {
		c.verboseProxy = true
	}
}
