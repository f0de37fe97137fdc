package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
	"github.com/askwhyharsh/safezone/pkg/logger"
)

// MonitorStopper is the part of the monitor registry the sweeper needs.
type MonitorStopper interface {
	Users() []string
	Stop(userID string) error
}

// Manager tears down per-user state once every session of a user has
// expired.
type Manager struct {
	service  *Service
	monitors MonitorStopper
	interval time.Duration
	logger   logger.Logger
}

func NewManager(service *Service, monitors MonitorStopper, interval time.Duration, log logger.Logger) *Manager {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Manager{
		service:  service,
		monitors: monitors,
		interval: interval,
		logger:   log,
	}
}

// Start sweeps on a ticker until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Session Manager started", "interval", m.interval)

	for {
		select {
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.logger.Error("Failed to sweep expired sessions", "error", err)
			}
		case <-ctx.Done():
			m.logger.Info("Session Manager stopped")
			return
		}
	}
}

// Sweep stops the monitor of every user without a live session.
func (m *Manager) Sweep(ctx context.Context) error {
	stopped := 0
	for _, userID := range m.monitors.Users() {
		live, err := m.service.ActiveSessions(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to count sessions for %s: %w", userID, err)
		}
		if live > 0 {
			continue
		}
		if err := m.monitors.Stop(userID); err != nil && !errors.Is(err, apperrors.ErrMonitorNotRunning) {
			m.logger.Error("Failed to stop monitor", "user_id", userID, "error", err)
			continue
		}
		stopped++
	}

	// Users with expired sessions but no monitor only need their index pruned.
	users, err := m.service.Users(ctx)
	if err != nil {
		return err
	}
	for _, userID := range users {
		if _, err := m.service.ActiveSessions(ctx, userID); err != nil {
			return err
		}
	}

	if stopped > 0 {
		m.logger.Info("Stopped monitors of expired sessions", "count", stopped)
	}
	return nil
}

// ValidateSession checks that a session exists and records activity on it.
func (m *Manager) ValidateSession(ctx context.Context, sessionID string) (*Session, error) {
	session, err := m.service.Touch(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrSessionNotFound) {
			return nil, apperrors.ErrSessionExpired
		}
		return nil, fmt.Errorf("failed to validate session: %w", err)
	}
	return session, nil
}
