// Package monitor runs one safety monitor per user: location acquisition
// feeding zone evaluation, share publishing and alerting.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/askwhyharsh/safezone/internal/events"
	"github.com/askwhyharsh/safezone/internal/location"
	"github.com/askwhyharsh/safezone/internal/notify"
	"github.com/askwhyharsh/safezone/internal/safezone"
	"github.com/askwhyharsh/safezone/internal/sharing"
	"github.com/askwhyharsh/safezone/pkg/logger"
)

type ZoneLister interface {
	ListZones(ctx context.Context, ownerID string) ([]safezone.Zone, error)
}

type EventSink interface {
	Broadcast(e events.Event)
}

// Status is what a client needs to render the safety dashboard.
type Status struct {
	UserID      string               `json:"user_id"`
	State       string               `json:"state"`
	Protected   bool                 `json:"protected"`
	Score       int                  `json:"score"`
	Nearest     *safezone.Membership `json:"nearest_zone,omitempty"`
	Position    *location.Position   `json:"position,omitempty"`
	Attempt     int                  `json:"attempt"`
	NextRetryAt *time.Time           `json:"next_retry_at,omitempty"`
	ErrorCode   string               `json:"error_code,omitempty"`
	Error       string               `json:"error,omitempty"`
	Notice      string               `json:"notice,omitempty"`
	Alert       *safezone.ExitEvent  `json:"alert,omitempty"`
	Sharing     bool                 `json:"sharing"`
	Skipped     []string             `json:"skipped_zones,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

type Config struct {
	Engine               location.EngineOptions
	Evaluator            safezone.Options
	NotifyContactsOnExit bool
}

type Deps struct {
	Zones    ZoneLister
	Contacts sharing.ContactLister
	Notifier sharing.Notifier
	Shares   *sharing.Store
	Events   EventSink
	Logger   logger.Logger
}

// Monitor owns one engine, evaluator and publisher. Engine updates are
// handled in order on a single goroutine.
type Monitor struct {
	userID      string
	displayName string
	cfg         Config
	deps        Deps
	logger      logger.Logger

	engine    *location.Engine
	evaluator *safezone.Evaluator
	publisher *sharing.Publisher

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.RWMutex
	status     Status
	clearTimer *time.Timer
	stopped    bool
}

func newMonitor(userID, displayName string, provider location.Provider, publisher *sharing.Publisher, cfg Config, deps Deps) *Monitor {
	log := deps.Logger.With("user_id", userID)
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		userID:      userID,
		displayName: displayName,
		cfg:         cfg,
		deps:        deps,
		logger:      log,
		engine:      location.NewEngine(provider, cfg.Engine, log),
		evaluator:   safezone.NewEvaluator(userID, cfg.Evaluator, log),
		publisher:   publisher,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		status: Status{
			UserID:    userID,
			State:     location.StateIdle.String(),
			StartedAt: time.Now(),
			Sharing:   publisher.Enabled(),
		},
	}
}

func (m *Monitor) start() {
	m.engine.Start()
	go m.run()
	m.logger.Info("Monitor started")
}

// stop tears everything down; no event is emitted once it returns.
func (m *Monitor) stop() {
	m.cancel()
	m.engine.Stop()
	<-m.done

	m.mu.Lock()
	m.stopped = true
	if m.clearTimer != nil {
		m.clearTimer.Stop()
		m.clearTimer = nil
	}
	m.mu.Unlock()
	m.logger.Info("Monitor stopped")
}

func (m *Monitor) run() {
	defer close(m.done)
	for u := range m.engine.Updates() {
		m.handle(u)
	}
}

func (m *Monitor) handle(u location.Update) {
	m.mu.Lock()
	prevState := m.status.State
	m.status.State = u.State.String()
	m.status.Attempt = u.Retry.Attempt
	m.status.NextRetryAt = nil
	if !u.Retry.NextRetryAt.IsZero() {
		next := u.Retry.NextRetryAt
		m.status.NextRetryAt = &next
	}
	m.status.ErrorCode, m.status.Error = "", ""
	if u.Err != nil {
		m.status.ErrorCode = u.Err.Code.String()
		m.status.Error = u.Err.Message()
	}
	m.status.Notice = u.Notice
	m.status.UpdatedAt = time.Now()
	snapshot := m.status
	m.mu.Unlock()

	if snapshot.State != prevState || u.Notice != "" || u.Err != nil {
		m.emit(events.TypeEngineState, snapshot)
	}

	if u.Position == nil {
		return
	}
	pos := *u.Position
	m.emit(events.TypePosition, pos)
	m.publisher.Publish(m.ctx, pos)

	zones, err := m.deps.Zones.ListZones(m.ctx, m.userID)
	if err != nil {
		m.logger.Error("Failed to load zones, skipping evaluation", "error", err)
		m.mu.Lock()
		m.status.Position = &pos
		m.mu.Unlock()
		return
	}

	eval := m.evaluator.Evaluate(pos, zones)

	m.mu.Lock()
	m.status.Position = &pos
	m.status.Protected = eval.Protected
	m.status.Score = eval.Score
	m.status.Nearest = eval.Nearest
	m.status.Skipped = eval.Skipped
	m.status.Sharing = m.publisher.Enabled()
	m.mu.Unlock()

	m.emit(events.TypeEvaluation, eval)

	if eval.Exit != nil {
		m.raiseAlert(eval.Exit)
	}
}

func (m *Monitor) raiseAlert(exit *safezone.ExitEvent) {
	display := m.cfg.Evaluator.AlertDisplay
	if display <= 0 {
		display = safezone.DefaultAlertDisplay
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.status.Alert = exit
	if m.clearTimer != nil {
		m.clearTimer.Stop()
	}
	id := exit.ID
	m.clearTimer = time.AfterFunc(display, func() { m.clearAlert(id) })
	m.mu.Unlock()

	m.logger.Warn("Left safe zones", "zone_id", exit.ZoneID, "distance_meters", exit.DistanceMeters)
	m.emit(events.TypeZoneExit, exit)

	if m.cfg.NotifyContactsOnExit {
		m.notifyContacts(exit)
	}
}

func (m *Monitor) clearAlert(id string) {
	m.mu.Lock()
	if m.stopped || m.status.Alert == nil || m.status.Alert.ID != id {
		m.mu.Unlock()
		return
	}
	zoneID := m.status.Alert.ZoneID
	m.status.Alert = nil
	m.clearTimer = nil
	m.mu.Unlock()

	m.emit(events.TypeZoneExitCleared, map[string]string{"alert_id": id, "zone_id": zoneID})
}

// DismissAlert clears the visible exit alert early.
func (m *Monitor) DismissAlert() bool {
	m.mu.RLock()
	alert := m.status.Alert
	m.mu.RUnlock()
	if alert == nil {
		return false
	}
	m.clearAlert(alert.ID)
	return true
}

func (m *Monitor) notifyContacts(exit *safezone.ExitEvent) {
	if m.deps.Contacts == nil || m.deps.Notifier == nil {
		return
	}
	contacts, err := m.deps.Contacts.ListContacts(m.ctx, m.userID)
	if err != nil {
		m.logger.Error("Failed to load contacts for exit alert", "error", err)
		return
	}
	if len(contacts) == 0 {
		return
	}
	pt := exit.Position.Point
	m.deps.Notifier.Broadcast(m.ctx, sharing.Recipients(contacts), notify.Alert{
		Kind:     notify.KindAlert,
		Message:  notify.ZoneExitMessage(m.displayName, exit.ZoneName),
		Location: &pt,
	})
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.status
	s.Sharing = m.publisher.Enabled()
	return s
}

func (m *Monitor) emit(typ events.Type, payload any) {
	if m.deps.Events == nil {
		return
	}
	m.mu.RLock()
	stopped := m.stopped
	m.mu.RUnlock()
	if stopped {
		return
	}
	m.deps.Events.Broadcast(events.New(m.userID, typ, payload))
}
