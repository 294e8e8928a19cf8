package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
)

// Defaults used when Config leaves a field empty.
const (
	DefaultHost     = "host.testcontainers.internal"
	DefaultGreeting = "Hello from client!"
)

// readBufferSize bounds the single response read.
const readBufferSize = 64 << 10

// Config controls a probe run.
type Config struct {
	// Host is the hostname to connect to. Empty uses DefaultHost.
	Host string

	// Port is passed to the dialer as-is. It is not validated.
	Port string

	// Greeting is written once after connecting. Empty uses DefaultGreeting.
	Greeting string

	// DialTimeout and ReadTimeout bound the connect and the response wait.
	// Zero means no timeout.
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// Result describes a completed probe.
type Result struct {
	Addr     string
	Sent     int
	Received []byte
	Duration time.Duration
}

// Error is returned for any connection failure during a probe.
type Error struct {
	Op   string // "dial", "write" or "read"
	Addr string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("probe %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Dialer opens stream connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Prober runs the probe against a single address.
type Prober struct {
	cfg    Config
	dialer Dialer
	logger *slog.Logger
}

// New creates a Prober. Empty Host and Greeting take their defaults.
func New(cfg Config, logger *slog.Logger) *Prober {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	return &Prober{
		cfg:    cfg,
		dialer: &net.Dialer{},
		logger: logger,
	}
}

// WithDialer replaces the dialer used to connect.
func (p *Prober) WithDialer(d Dialer) *Prober {
	p.dialer = d
	return p
}

// Addr returns the host:port the probe connects to.
func (p *Prober) Addr() string {
	return net.JoinHostPort(p.cfg.Host, p.cfg.Port)
}

// Run connects, sends the greeting, reads one response and closes the
// connection. A peer that closes without sending anything is not an error.
func (p *Prober) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	addr := p.Addr()
	res := Result{Addr: addr}

	p.logger.Info("connecting to server", "host", p.cfg.Host, "port", p.cfg.Port)

	dialCtx := ctx
	if p.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, p.cfg.DialTimeout)
		defer cancel()
	}

	conn, err := p.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return p.fail(res, start, "dial", err)
	}
	defer conn.Close()

	// Unblock the read if the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	p.logger.Info("connected to server", "addr", addr)

	n, err := io.WriteString(conn, p.cfg.Greeting)
	res.Sent = n
	if err != nil {
		return p.fail(res, start, "write", err)
	}

	if p.cfg.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
			return p.fail(res, start, "read", err)
		}
	}

	buf := make([]byte, readBufferSize)
	n, err = conn.Read(buf)
	if n > 0 {
		res.Received = append([]byte(nil), buf[:n]...)
		p.logger.Info("received from server", "data", string(res.Received))
	}
	if err != nil && !(errors.Is(err, io.EOF) && ctx.Err() == nil) {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return p.fail(res, start, "read", err)
	}
	if n == 0 {
		p.logger.Info("server closed connection without data", "addr", addr)
	}

	res.Duration = time.Since(start)
	probesTotal.WithLabelValues(outcomeOK).Inc()
	probeDuration.Observe(res.Duration.Seconds())
	return res, nil
}

func (p *Prober) fail(res Result, start time.Time, op string, err error) (Result, error) {
	res.Duration = time.Since(start)
	probesTotal.WithLabelValues(op + "_error").Inc()
	return res, &Error{Op: op, Addr: res.Addr, Err: err}
}
