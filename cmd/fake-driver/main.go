// fake-driver stands in for the Playwright driver during local development.
// It answers launch-server with a websocket echo endpoint instead of a browser.
// Usage: RPW_DRIVER_COMMAND="go run ./cmd/fake-driver" remote-playwright <proxy> <port>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/remote-playwright/internal/fakedriver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 && os.Args[1] == "install" {
		// Nothing to download.
		return
	}

	if err := fakedriver.Run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "fake-driver: %v\n", err)
		os.Exit(1)
	}
}
