package monitor

import (
	"context"
	"sync"

	"github.com/askwhyharsh/safezone/internal/events"
	"github.com/askwhyharsh/safezone/internal/location"
	"github.com/askwhyharsh/safezone/internal/sharing"
	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
)

// Registry keeps at most one running monitor per user. Device fixes reach
// a monitor through the user's feed in the FeedRegistry.
type Registry struct {
	feeds *location.FeedRegistry
	cfg   Config
	deps  Deps

	mu       sync.Mutex
	monitors map[string]*Monitor
}

func NewRegistry(feeds *location.FeedRegistry, cfg Config, deps Deps) *Registry {
	return &Registry{
		feeds:    feeds,
		cfg:      cfg,
		deps:     deps,
		monitors: make(map[string]*Monitor),
	}
}

// Start runs a monitor for userID. It reports false when one was already
// running.
func (r *Registry) Start(userID, displayName string) (*Monitor, bool) {
	if m, err := r.get(userID); err == nil {
		return m, false
	}

	// Restoring sharing reads Redis, so it happens before taking the lock.
	publisher := r.newPublisher(userID, displayName)

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.monitors[userID]; ok {
		return m, false
	}
	m := newMonitor(userID, displayName, r.feeds.Get(userID), publisher, r.cfg, r.deps)
	r.monitors[userID] = m
	m.start()
	return m, true
}

// Stop stops the user's monitor and releases its feed, dropping the last
// reported fix with it.
func (r *Registry) Stop(userID string) error {
	r.mu.Lock()
	m, ok := r.monitors[userID]
	if !ok {
		r.mu.Unlock()
		return apperrors.ErrMonitorNotRunning
	}
	delete(r.monitors, userID)
	feed := r.feeds.Detach(userID)
	r.mu.Unlock()

	m.stop()
	if feed != nil {
		feed.Close()
	}
	return nil
}

func (r *Registry) Retry(userID string) error {
	m, err := r.get(userID)
	if err != nil {
		return err
	}
	m.engine.Retry()
	return nil
}

func (r *Registry) SetManualPosition(userID string, p location.Point) error {
	if !p.Valid() {
		return apperrors.ErrInvalidCoordinates
	}
	m, err := r.get(userID)
	if err != nil {
		return err
	}
	m.engine.SetManualPosition(p)
	return nil
}

func (r *Registry) DismissAlert(userID string) (bool, error) {
	m, err := r.get(userID)
	if err != nil {
		return false, err
	}
	return m.DismissAlert(), nil
}

func (r *Registry) Status(userID string) (Status, error) {
	m, err := r.get(userID)
	if err != nil {
		return Status{}, err
	}
	return m.Status(), nil
}

func (r *Registry) Running(userID string) bool {
	_, err := r.get(userID)
	return err == nil
}

// LastPosition is the most recent accepted position of a running monitor.
func (r *Registry) LastPosition(userID string) (*location.Position, bool) {
	m, err := r.get(userID)
	if err != nil {
		return nil, false
	}
	s := m.Status()
	return s.Position, s.Position != nil
}

// EnableSharing turns on sharing for userID. Without a running monitor the
// share record is written directly and picked up by the next monitor.
func (r *Registry) EnableSharing(ctx context.Context, userID, displayName string, pos *location.Position) bool {
	p := r.publisherFor(userID, displayName)
	changed := p.Enable(ctx, pos)
	if changed {
		r.emitSharing(userID, true)
	}
	return changed
}

func (r *Registry) DisableSharing(ctx context.Context, userID, displayName string) bool {
	p := r.publisherFor(userID, displayName)
	changed := p.Disable(ctx)
	if changed {
		r.emitSharing(userID, false)
	}
	return changed
}

// StopAll stops every monitor, for shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	monitors := r.monitors
	r.monitors = make(map[string]*Monitor)
	feeds := make([]*location.Feed, 0, len(monitors))
	for userID := range monitors {
		if f := r.feeds.Detach(userID); f != nil {
			feeds = append(feeds, f)
		}
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range monitors {
		wg.Add(1)
		go func(m *Monitor) {
			defer wg.Done()
			m.stop()
		}(m)
	}
	wg.Wait()
	for _, f := range feeds {
		f.Close()
	}
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.monitors)
}

// Users lists the users with a running monitor.
func (r *Registry) Users() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.monitors))
	for id := range r.monitors {
		out = append(out, id)
	}
	return out
}

func (r *Registry) get(userID string) (*Monitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.monitors[userID]
	if !ok {
		return nil, apperrors.ErrMonitorNotRunning
	}
	return m, nil
}

func (r *Registry) publisherFor(userID, displayName string) *sharing.Publisher {
	if m, err := r.get(userID); err == nil {
		return m.publisher
	}
	return r.newPublisher(userID, displayName)
}

func (r *Registry) newPublisher(userID, displayName string) *sharing.Publisher {
	p := sharing.NewPublisher(userID, displayName, r.deps.Shares, r.deps.Contacts, r.deps.Notifier, r.deps.Logger)
	p.Restore(context.Background())
	return p
}

func (r *Registry) emitSharing(userID string, active bool) {
	if r.deps.Events == nil {
		return
	}
	r.deps.Events.Broadcast(events.New(userID, events.TypeSharing, map[string]bool{"active": active}))
}
