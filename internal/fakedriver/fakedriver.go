// Package fakedriver mimics the Playwright driver's launch-server command
// without starting a browser. It reads the same JSON config, listens on the
// requested port, accepts websocket connections on the requested path and
// prints the endpoint on stdout once listening.
//
// It backs the fake-driver binary used for local development and the tests
// that exercise the real process launcher.
package fakedriver

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// EnvFail names engines (comma separated) that should fail to launch.
	EnvFail = "RPW_FAKE_DRIVER_FAIL"

	// EnvAnyPort, when set to any value, makes the driver listen on an
	// OS-assigned port instead of the requested one.
	EnvAnyPort = "RPW_FAKE_DRIVER_ANY_PORT"
)

// config is the subset of LaunchServer options the fake driver honours.
type config struct {
	Headless *bool  `json:"headless"`
	Port     int    `json:"port"`
	WSPath   string `json:"wsPath"`
	Proxy    *struct {
		Server string `json:"server"`
	} `json:"proxy"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Run executes the driver command line in args (without the program name).
// It blocks until ctx is done, then stops listening.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] != "launch-server" {
		return fmt.Errorf("unsupported command %q", strings.Join(args, " "))
	}

	fs := flag.NewFlagSet("launch-server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	browser := fs.String("browser", "", "browser to launch")
	configPath := fs.String("config", "", "JSON file with launchServer options")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *browser == "" {
		return errors.New("--browser is required")
	}

	var cfg config
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}

	proxy := ""
	if cfg.Proxy != nil {
		proxy = cfg.Proxy.Server
	}
	fmt.Fprintf(stderr, "fake-driver: browser=%s port=%d wsPath=%s proxy=%s\n", *browser, cfg.Port, cfg.WSPath, proxy)

	for _, e := range strings.Split(os.Getenv(EnvFail), ",") {
		if e != "" && e == *browser {
			return fmt.Errorf("browserType.launchServer: %s failed to launch", *browser)
		}
	}

	port := cfg.Port
	if os.Getenv(EnvAnyPort) != "" {
		port = 0
	}
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	path := "/" + strings.TrimPrefix(cfg.WSPath, "/")
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go srv.Serve(l)

	fmt.Fprintf(stdout, "ws://127.0.0.1:%d%s\n", l.Addr().(*net.TCPAddr).Port, path)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
