// Package probe implements the diagnostic TCP probe: connect to a host, send
// a fixed greeting, log the first response and close. It has no retry and, by
// default, no timeout; the caller decides what a failure means for the process.
package probe
