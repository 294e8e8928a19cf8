// Package cli parses the positional command line of remote-playwright.
//
// The program is invoked as
//
//	remote-playwright <proxy> <probe-port>
//
// Positions are counted after the program name. In the interpreter-style
// numbering used by the container entrypoint this is argv[2] for the proxy and
// argv[3] for the port; argv[0] and argv[1] carry no business meaning.
package cli

import (
	"errors"
	"fmt"
)

// Usage is the one-line synopsis printed on argument errors.
const Usage = "usage: remote-playwright <proxy> <probe-port>"

// Positional indices within the arguments that follow the program name.
const (
	proxyIndex = 0
	portIndex  = 1
)

// ErrMissingArgument is returned when a required positional argument is absent.
var ErrMissingArgument = errors.New("missing argument")

// Args holds the positional arguments.
type Args struct {
	// Proxy is the upstream proxy server address, passed verbatim to every engine.
	Proxy string

	// ProbePort is the diagnostic probe port. It is not validated here; a
	// non-numeric value surfaces as a probe connection error.
	ProbePort string

	// Raw is the full argument vector, program name included.
	Raw []string
}

// Parse reads positional arguments from args, the vector that follows the
// program name (os.Args[1:]). Extra arguments are ignored.
func Parse(args []string) (Args, error) {
	if len(args) <= proxyIndex || args[proxyIndex] == "" {
		return Args{}, fmt.Errorf("%w: proxy (position %d)", ErrMissingArgument, proxyIndex+1)
	}
	if len(args) <= portIndex || args[portIndex] == "" {
		return Args{}, fmt.Errorf("%w: probe port (position %d)", ErrMissingArgument, portIndex+1)
	}
	return Args{
		Proxy:     args[proxyIndex],
		ProbePort: args[portIndex],
	}, nil
}

// ParseArgv parses a full argument vector including the program name, as in os.Args.
func ParseArgv(argv []string) (Args, error) {
	var rest []string
	if len(argv) > 1 {
		rest = argv[1:]
	}
	a, err := Parse(rest)
	if err != nil {
		return Args{}, err
	}
	a.Raw = append([]string(nil), argv...)
	return a, nil
}
