package model

import "time"

// Launch status constants.
const (
	StatusPending  = "pending"
	StatusStarting = "starting"
	StatusReady    = "ready"
	StatusFailed   = "failed"
	StatusStopped  = "stopped"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusStarting: true,
		StatusFailed:   true,
	},
	StatusStarting: {
		StatusReady:  true,
		StatusFailed: true,
	},
	StatusReady: {
		StatusStopped: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether no further transitions are possible from status.
func Terminal(status string) bool {
	return status == StatusFailed || status == StatusStopped
}

// LogLine is a single persisted output line from a launched server process.
type LogLine struct {
	ID        int64     `json:"id"`
	LaunchID  string    `json:"launch_id"`
	Seq       int       `json:"seq"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}

// Launch records one browser server launch within a run.
type Launch struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	Engine     Engine     `json:"engine"`
	Port       int        `json:"port"`
	WSPath     string     `json:"ws_path"`
	Proxy      string     `json:"proxy,omitempty"`
	Status     string     `json:"status"`
	Endpoint   string     `json:"endpoint,omitempty"`
	PID        *int       `json:"pid,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ReadyAt    *time.Time `json:"ready_at,omitempty"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
}

// NewLaunch builds a pending launch record for opts within run runID.
func NewLaunch(runID string, opts LaunchOptions) *Launch {
	l := &Launch{
		ID:        NewID(),
		RunID:     runID,
		Engine:    opts.Engine,
		Port:      opts.Port,
		WSPath:    opts.WSPath,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if opts.Proxy != nil {
		l.Proxy = opts.Proxy.Server
	}
	return l
}
