package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/remote-playwright/internal/model"
)

// ErrInvalidTransition is returned when a launch status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// LaunchStats holds aggregate launch statistics.
type LaunchStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByEngine map[string]int `json:"count_by_engine"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for launches.
type Store interface {
	CreateLaunch(ctx context.Context, l *model.Launch) error
	GetLaunch(ctx context.Context, id string) (*model.Launch, error)
	ListLaunches(ctx context.Context, limit, offset int) ([]*model.Launch, int, error)
	UpdateLaunchStatus(ctx context.Context, id, status string) error
	MarkReady(ctx context.Context, id, endpoint string, pid int, duration time.Duration) error
	MarkFailed(ctx context.Context, id string, cause error, duration time.Duration) error
	GetLaunchStats(ctx context.Context) (*LaunchStats, error)
	InsertLogLine(ctx context.Context, launchID string, seq int, line string) error
	GetLogLines(ctx context.Context, launchID string) ([]model.LogLine, error)
	Close() error
}
