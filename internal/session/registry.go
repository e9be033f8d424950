package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// run is one pipeline task of a session
type run struct {
	sessionID string
	source    string
	startTime time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// Info describes a running session for monitoring
type Info struct {
	SessionID string        `json:"session_id"`
	Source    string        `json:"source"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
}

// Registry tracks the live pipeline run of every session
type Registry struct {
	runs   map[string]*run
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		runs:   make(map[string]*run),
		logger: logger,
	}
}

// put records rn as the live run of its session, returning the run it replaced
func (r *Registry) put(rn *run) *run {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.runs[rn.sessionID]
	r.runs[rn.sessionID] = rn
	return prev
}

// remove drops rn if it is still the live run of its session
func (r *Registry) remove(rn *run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.runs[rn.sessionID]; !ok || cur != rn {
		return false
	}
	delete(r.runs, rn.sessionID)
	return true
}

// Count returns the number of running sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}

// IDs returns the ids of running sessions in sorted order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns information about all running sessions (for monitoring)
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.runs))
	for _, rn := range r.runs {
		infos = append(infos, Info{
			SessionID: rn.sessionID,
			Source:    rn.source,
			StartTime: rn.startTime,
			Duration:  time.Since(rn.startTime),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })
	return infos
}

// Shutdown cancels every running session and waits for them to finish or ctx to end
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	runs := make([]*run, 0, len(r.runs))
	for _, rn := range r.runs {
		runs = append(runs, rn)
	}
	r.mu.RUnlock()

	r.logger.Info("Stopping sessions", slog.Int("active_sessions", len(runs)))

	for _, rn := range runs {
		rn.cancel()
	}
	for _, rn := range runs {
		select {
		case <-rn.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
