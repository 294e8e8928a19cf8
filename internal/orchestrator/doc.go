// Package orchestrator brings up the browser servers of a launch plan. It
// resolves a launcher per engine from the registry, records every launch in
// the store, streams server output through the LogBroker and logs the ready
// endpoints once the whole plan is up.
package orchestrator
