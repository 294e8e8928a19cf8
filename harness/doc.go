// Package harness runs remote-playwright inside a Docker container for
// browser tests on the host.
//
// New builds the image from docker/Dockerfile, starts an HTTP forward proxy on
// the host and starts the container with that proxy as the browsers' upstream.
// Because every browser request leaves through the host-side proxy, pages
// served on the host's loopback interface are reachable from the browsers:
//
//	c, err := harness.New(ctx, "1.52.0", harness.WithTimeout(5*time.Minute))
//	if err != nil { ... }
//	defer c.Close()
//
//	pw, _ := playwright.Run()
//	browser, err := c.Chromium(pw)
package harness
