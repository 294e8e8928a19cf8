// Package driver launches browser servers through the Playwright driver's
// launch-server command. Each launch runs one driver process that starts the
// browser, listens on the configured port and prints its websocket endpoint.
package driver
