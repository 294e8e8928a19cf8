package harness

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/testcontainers/testcontainers-go"
)

// waitPolicy controls how long to wait for an HTTP listener to answer.
type waitPolicy struct {
	settle   time.Duration
	interval time.Duration
	attempts int
}

var defaultWait = waitPolicy{
	settle:   time.Second,
	interval: 200 * time.Millisecond,
	attempts: 15,
}

// upstreamProxy is the HTTP forward proxy the browsers use. It runs on the
// host's loopback interface.
type upstreamProxy struct {
	srv  *http.Server
	ln   net.Listener
	port int
}

func startProxy(ctx context.Context, logger *slog.Logger, verbose bool, wp waitPolicy) (*upstreamProxy, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	proxy := goproxy.NewProxyHttpServer()
	proxy.Verbose = verbose

	p := &upstreamProxy{
		srv: &http.Server{
			Handler:           proxy,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:   ln,
		port: ln.Addr().(*net.TCPAddr).Port,
	}

	go func() {
		if err := p.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("upstream proxy stopped", "error", err)
		}
	}()

	if err := waitForHTTP(ctx, "http://"+ln.Addr().String(), wp, logger); err != nil {
		p.Close()
		return nil, fmt.Errorf("upstream proxy: %w", err)
	}

	logger.Info("upstream proxy listening", "addr", ln.Addr().String())
	return p, nil
}

// ContainerURL is the proxy address as seen from inside the container.
func (p *upstreamProxy) ContainerURL() string {
	return "http://" + net.JoinHostPort(testcontainers.HostInternal, strconv.Itoa(p.port))
}

func (p *upstreamProxy) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.srv.Shutdown(ctx)
}

// waitForHTTP polls addr until it answers any HTTP response.
func waitForHTTP(ctx context.Context, addr string, wp waitPolicy, logger *slog.Logger) error {
	if err := sleepCtx(ctx, wp.settle); err != nil {
		return err
	}

	client := &http.Client{Timeout: 2 * time.Second}
	var lastErr error
	for i := 0; i < wp.attempts; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			return resp.Body.Close()
		}
		lastErr = err
		logger.Debug("waiting for listener", "addr", addr, "attempt", i+1, "error", err)
		if err := sleepCtx(ctx, wp.interval); err != nil {
			return err
		}
	}
	return fmt.Errorf("no answer from %s after %d attempts: %w", addr, wp.attempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
