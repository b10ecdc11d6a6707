// Package services wires the session, usage, threshold, and alert
// services together and routes their events to subscribers.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/j-veylop/claude-usage-watch/internal/config"
	"github.com/j-veylop/claude-usage-watch/internal/db"
	"github.com/j-veylop/claude-usage-watch/internal/logger"
	"github.com/j-veylop/claude-usage-watch/internal/models"
	"github.com/j-veylop/claude-usage-watch/internal/services/alerts"
	"github.com/j-veylop/claude-usage-watch/internal/services/session"
	"github.com/j-veylop/claude-usage-watch/internal/services/usage"
	"github.com/j-veylop/claude-usage-watch/internal/store"
	"github.com/j-veylop/claude-usage-watch/internal/thresholds"
)

type (
	// UsageUpdatedEvent carries each published snapshot, fresh or
	// stale-fallback.
	UsageUpdatedEvent struct {
		Snapshot *models.UsageSnapshot
	}

	// UsageErrorEvent is emitted for an exhausted-retry cycle with no
	// cached snapshot to fall back on.
	UsageErrorEvent struct {
		Message string
	}

	// SessionStatusEvent is emitted on login, logout, or confirmed
	// expiry.
	SessionStatusEvent struct {
		Authenticated bool
	}

	// ThresholdTriggeredEvent is emitted once per fired alert.
	ThresholdTriggeredEvent struct {
		ThresholdID    string
		Type           models.WindowType
		CurrentPercent float64
	}

	// ErrorEvent is emitted when a service reports a non-fatal error.
	ErrorEvent struct {
		Service string
		Error   error
	}
)

// ManagerEvent is the interface implemented by all manager events.
type ManagerEvent interface {
	isManagerEvent()
}

func (UsageUpdatedEvent) isManagerEvent()       {}
func (UsageErrorEvent) isManagerEvent()         {}
func (SessionStatusEvent) isManagerEvent()      {}
func (ThresholdTriggeredEvent) isManagerEvent() {}
func (ErrorEvent) isManagerEvent()              {}

// snapshotRetention bounds the usage history table.
const snapshotRetention = 30 * 24 * time.Hour

// Manager orchestrates services and event routing.
type Manager struct {
	mu          sync.RWMutex
	session     *session.Service
	usage       *usage.Service
	thresholds  *thresholds.Service
	engine      *alerts.Engine
	notifiers   []alerts.Notifier
	database    *db.DB
	kv          store.Store
	alertState  *models.AlertState
	subscribers []chan<- ManagerEvent
	stopChan    chan struct{}
}

// NewManager creates a new service manager from configuration.
func NewManager(cfg *config.Config) (*Manager, error) {
	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	kv, err := store.NewSQLiteStore(database, cfg.KeyPath)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	thresholdSvc, err := thresholds.New(cfg.ThresholdsPath)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize thresholds: %w", err)
	}

	sessionCfg := session.DefaultConfig()
	sessionCfg.APIBaseURL = cfg.APIBaseURL
	sessionCfg.AuthDomain = cfg.AuthDomain
	sessionSvc := session.New(kv, sessionCfg)

	usageCfg := usage.DefaultConfig()
	usageCfg.BaseInterval = cfg.PollInterval
	usageCfg.FastInterval = cfg.FastInterval
	usageCfg.HighWaterMark = cfg.HighWaterMark
	usageSvc := usage.New(usage.NewClient(cfg.APIBaseURL), sessionSvc, kv, usageCfg)

	alertState, err := alerts.LoadState(kv)
	if err != nil {
		logger.Error("failed to load alert state, starting empty", "error", err)
		alertState = models.NewAlertState()
	}

	notifiers := []alerts.Notifier{alerts.NewDesktopNotifier()}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, alerts.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookSecret))
	}

	m := &Manager{
		session:    sessionSvc,
		usage:      usageSvc,
		thresholds: thresholdSvc,
		engine:     alerts.NewEngine(cfg.AlertCooldown),
		notifiers:  notifiers,
		database:   database,
		kv:         kv,
		alertState: alertState,
		stopChan:   make(chan struct{}),
	}

	go m.routeEvents()

	if _, err := database.PruneSnapshots(snapshotRetention); err != nil {
		logger.Warn("failed to prune snapshot history", "error", err)
	}

	return m, nil
}

// Start begins polling.
func (m *Manager) Start() {
	m.usage.Start()
}

// Refresh forces one poll cycle outside the schedule.
func (m *Manager) Refresh() {
	m.usage.Refresh()
}

// Session returns the session service.
func (m *Manager) Session() *session.Service {
	return m.session
}

// Usage returns the usage service.
func (m *Manager) Usage() *usage.Service {
	return m.usage
}

// Thresholds returns the threshold service.
func (m *Manager) Thresholds() *thresholds.Service {
	return m.thresholds
}

// Database returns the database instance for direct access.
func (m *Manager) Database() *db.DB {
	return m.database
}

// routeEvents routes events from individual services to subscribers.
func (m *Manager) routeEvents() {
	for {
		select {
		case event := <-m.usage.Events():
			m.handleUsageEvent(event)

		case event := <-m.session.Events():
			m.handleSessionEvent(event)

		case event := <-m.thresholds.Events():
			m.handleThresholdEvent(event)

		case <-m.stopChan:
			return
		}
	}
}

func (m *Manager) handleUsageEvent(event usage.Event) {
	switch event.Type {
	case usage.EventUsageUpdated:
		if event.Snapshot == nil {
			return
		}
		m.broadcast(UsageUpdatedEvent{Snapshot: event.Snapshot})
		m.recordSnapshot(event.Snapshot)
		m.evaluateThresholds(event.Snapshot)

	case usage.EventUsageError:
		// A stale-fallback publish follows when a cache exists; only
		// cache-less cycles surface as usage errors.
		if m.usage.Cached() == nil {
			msg := "usage fetch failed"
			if event.Error != nil {
				msg = event.Error.Error()
			}
			m.broadcast(UsageErrorEvent{Message: msg})
		}

	case usage.EventSessionExpired:
		// The session service clears the credential and emits the
		// status change; nothing to broadcast here.
		logger.Info("polling stopped: session expired")

	case usage.EventAuthRequired:
		m.broadcast(ErrorEvent{Service: "usage", Error: event.Error})
	}
}

func (m *Manager) handleSessionEvent(event session.Event) {
	switch event.Type {
	case session.EventStatusChanged:
		m.broadcast(SessionStatusEvent{Authenticated: event.Authenticated})

		if event.Authenticated {
			// Fresh login: poll immediately.
			m.usage.Refresh()
			return
		}

		// Logout or confirmed expiry clears all alert dedup state.
		m.mu.Lock()
		m.alertState = models.NewAlertState()
		m.mu.Unlock()
		if err := alerts.ClearState(m.kv); err != nil {
			logger.Error("failed to clear alert state", "error", err)
		}

	case session.EventError:
		m.broadcast(ErrorEvent{Service: "session", Error: event.Error})
	}
}

func (m *Manager) handleThresholdEvent(event thresholds.Event) {
	switch event.Type {
	case thresholds.EventChanged:
		logger.Info("threshold configuration reloaded",
			"count", len(m.thresholds.Get()))
		// Re-evaluate the current snapshot against the new list.
		if snap := m.usage.Cached(); snap != nil && !snap.Stale {
			m.evaluateThresholds(snap)
		}

	case thresholds.EventError:
		m.broadcast(ErrorEvent{Service: "thresholds", Error: event.Error})
	}
}

// recordSnapshot appends fresh snapshots to the history table. Stale
// republishes are skipped so history reflects observed data only.
func (m *Manager) recordSnapshot(snap *models.UsageSnapshot) {
	if snap.Stale {
		return
	}
	if err := m.database.InsertSnapshot(snap); err != nil {
		logger.Error("failed to record snapshot history", "error", err)
	}
}

// evaluateThresholds runs the alert engine over a snapshot, persists
// the updated state, and dispatches fired alerts.
func (m *Manager) evaluateThresholds(snap *models.UsageSnapshot) {
	m.mu.Lock()
	state := m.alertState
	next, fired := m.engine.CheckThresholds(snap, m.thresholds.Get(), state, time.Now())
	m.alertState = next
	m.mu.Unlock()

	// Persist before dispatch so a crash mid-notification cannot
	// double-fire after restart.
	if err := alerts.SaveState(m.kv, next); err != nil {
		logger.Error("failed to persist alert state", "error", err)
	}

	for _, alert := range fired {
		m.broadcast(ThresholdTriggeredEvent{
			ThresholdID:    alert.ThresholdID,
			Type:           alert.Type,
			CurrentPercent: alert.CurrentPercent,
		})
		m.dispatch(alert)
	}
}

func (m *Manager) dispatch(alert models.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, n := range m.notifiers {
		if err := n.Send(ctx, alert); err != nil {
			logger.Error("failed to deliver alert",
				"notifier", n.Name(), "threshold", alert.ThresholdID, "error", err)
		}
	}
}

// broadcast sends an event to all subscribers.
func (m *Manager) broadcast(event ManagerEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber channel full, skip
		}
	}
}

// Subscribe creates a channel for receiving manager events.
func (m *Manager) Subscribe() chan ManagerEvent {
	ch := make(chan ManagerEvent, 50)

	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber channel.
func (m *Manager) Unsubscribe(ch chan ManagerEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Close closes the manager and all its services.
func (m *Manager) Close() error {
	close(m.stopChan)
	m.usage.Stop()

	m.mu.Lock()
	for _, sub := range m.subscribers {
		close(sub)
	}
	m.subscribers = nil
	m.mu.Unlock()

	var errs []error

	if err := m.thresholds.Close(); err != nil {
		errs = append(errs, err)
	}

	if m.database != nil {
		if err := m.database.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
