package launcher

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/seantiz/remote-playwright/internal/model"
)

// ErrNotRegistered is returned by Resolve for an engine without a launcher.
var ErrNotRegistered = errors.New("launcher not registered")

// Registry holds registered launchers keyed by engine.
type Registry struct {
	mu        sync.RWMutex
	launchers map[model.Engine]Launcher
}

// NewRegistry creates an empty launcher registry.
func NewRegistry() *Registry {
	return &Registry{
		launchers: make(map[model.Engine]Launcher),
	}
}

// Register adds a launcher for engine, replacing any previous one.
func (r *Registry) Register(engine model.Engine, l Launcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.launchers[engine] = l
}

// Resolve returns the launcher for engine.
func (r *Registry) Resolve(engine model.Engine) (Launcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.launchers[engine]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, engine)
	}
	return l, nil
}

// List returns information about all registered launchers, sorted by engine
// for a stable API response.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.launchers))
	for engine, l := range r.launchers {
		info := l.Info()
		info.Engine = engine
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Engine < infos[j].Engine
	})
	return infos
}
