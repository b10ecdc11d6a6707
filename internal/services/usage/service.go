package usage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/j-veylop/claude-usage-watch/internal/logger"
	"github.com/j-veylop/claude-usage-watch/internal/models"
	"github.com/j-veylop/claude-usage-watch/internal/store"
)

// CredentialSource supplies the current credential and accepts expiry
// signals. The session service is the only implementation in the wired
// application; it remains the sole writer of the credential.
type CredentialSource interface {
	Credential() models.Credential
	ExpireCredential()
}

// Event represents a usage service event.
type Event struct {
	Error    error
	Snapshot *models.UsageSnapshot
	Type     EventType
}

// EventType defines the type of usage event.
type EventType int

const (
	// EventUsageUpdated carries a fresh (or stale-fallback) snapshot.
	EventUsageUpdated EventType = iota
	// EventUsageError indicates an exhausted-retry cycle with no cache.
	EventUsageError
	// EventSessionExpired indicates upstream reported unauthorized.
	EventSessionExpired
	// EventAuthRequired indicates a cycle was skipped for lack of a credential.
	EventAuthRequired
)

// Config holds configuration for the usage poller.
type Config struct {
	BaseInterval   time.Duration
	FastInterval   time.Duration
	HighWaterMark  float64
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BaseInterval:   time.Minute,
		FastInterval:   30 * time.Second,
		HighWaterMark:  80,
		MaxAttempts:    3,
		RetryBaseDelay: time.Second,
	}
}

// Service drives fetch→parse→publish cycles on an adaptive schedule.
// Cycles run strictly one at a time: the timer is rearmed only after
// the previous cycle, including its retries, has fully completed.
type Service struct {
	mu        sync.Mutex
	client    *Client
	creds     CredentialSource
	kv        store.Store
	config    Config
	eventChan chan Event

	running  bool
	stopChan chan struct{}
	cancel   context.CancelFunc
	kickChan chan struct{}

	cached      *models.UsageSnapshot
	lastPercent float64
}

// New creates a usage poller. The cached snapshot, if any, is restored
// from the store so stale fallback works across restarts.
func New(client *Client, creds CredentialSource, kv store.Store, config Config) *Service {
	if config.BaseInterval == 0 {
		config = DefaultConfig()
	}

	s := &Service{
		client:    client,
		creds:     creds,
		kv:        kv,
		config:    config,
		eventChan: make(chan Event, 100),
		kickChan:  make(chan struct{}, 1),
	}

	s.restoreCache()
	return s
}

// Events returns the event channel.
func (s *Service) Events() <-chan Event {
	return s.eventChan
}

// Cached returns the most recent snapshot, fresh or restored.
func (s *Service) Cached() *models.UsageSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached
}

// Start begins the recurring fetch cycle with an immediate first fetch.
// Calling Start while already running is a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	stop := s.stopChan
	s.mu.Unlock()

	go s.loop(ctx, stop)
}

// Stop cancels the pending timer. An in-flight fetch is allowed to
// finish but its result is discarded, so nothing is acted on with
// stale authorization state.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Refresh forces one fetch cycle outside the regular schedule. If a
// cycle is already in flight the request is deferred until it
// completes; it never starts a second concurrent cycle.
func (s *Service) Refresh() {
	select {
	case s.kickChan <- struct{}{}:
	default:
		// A refresh is already pending; it covers this request too.
	}
}

// loop runs cycles serially, rearming the timer only after each cycle
// completes.
func (s *Service) loop(ctx context.Context, stop <-chan struct{}) {
	if terminal := s.runCycle(ctx, stop); terminal {
		return
	}

	for {
		timer := time.NewTimer(s.nextInterval())
		select {
		case <-timer.C:
		case <-s.kickChan:
			timer.Stop()
		case <-stop:
			timer.Stop()
			return
		}

		if terminal := s.runCycle(ctx, stop); terminal {
			return
		}
	}
}

// nextInterval recomputes the effective interval from the last
// published session percentage, so crossing the high-water mark
// accelerates polling without a restart.
func (s *Service) nextInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	interval := s.config.BaseInterval
	if s.lastPercent > s.config.HighWaterMark && s.config.FastInterval < interval {
		interval = s.config.FastInterval
	}
	return interval
}

// runCycle performs one fetch→parse→publish cycle with in-cycle retry.
// Returns true if polling must stop (session expired).
func (s *Service) runCycle(ctx context.Context, stop <-chan struct{}) bool {
	cred := s.creds.Credential()
	if !cred.Valid() {
		s.sendEvent(Event{Type: EventAuthRequired, Error: errors.New("no credential; login required")})
		return false
	}

	var lastErr error
	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			// Exponential backoff: base delay doubled per attempt
			delay := s.config.RetryBaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-stop:
				return true
			}
		}

		bootstrap, err := s.client.FetchBootstrap(ctx, cred)
		if err == nil {
			var rateLimits map[string]any
			rateLimits, err = s.client.FetchRateLimits(ctx, cred)
			if err == nil {
				s.publish(Parse(bootstrap, rateLimits, time.Now()), stop)
				return false
			}
		}

		if errors.Is(err, ErrUnauthorized) {
			// Definitive auth failure: terminal for the cycle and for
			// polling. Credential invalidation is the session
			// service's job.
			logger.Info("upstream reported unauthorized, stopping poller")
			s.creds.ExpireCredential()
			s.sendEvent(Event{Type: EventSessionExpired, Error: err})
			s.Stop()
			return true
		}

		lastErr = err
		logger.Debug("usage fetch attempt failed", "attempt", attempt+1, "error", err)
	}

	// Retries exhausted: surface the error and mask it with the cached
	// snapshot when one exists.
	s.sendEvent(Event{Type: EventUsageError, Error: lastErr})

	s.mu.Lock()
	cached := s.cached
	s.mu.Unlock()
	if cached != nil {
		stale := *cached
		stale.Stale = true
		s.sendSnapshot(&stale, stop)
	}
	return false
}

// publish records a fresh snapshot and emits it to subscribers.
func (s *Service) publish(snap models.UsageSnapshot, stop <-chan struct{}) {
	s.mu.Lock()
	s.cached = &snap
	s.lastPercent = snap.Session.PercentUsed
	s.mu.Unlock()

	s.persistCache(&snap)
	s.sendSnapshot(&snap, stop)
}

// sendSnapshot emits a snapshot unless the poller was stopped while the
// fetch was in flight.
func (s *Service) sendSnapshot(snap *models.UsageSnapshot, stop <-chan struct{}) {
	select {
	case <-stop:
		// Stopped mid-flight: discard rather than publish under stale
		// authorization state.
		return
	default:
	}
	s.sendEvent(Event{Type: EventUsageUpdated, Snapshot: snap})
}

// persistCache writes the snapshot to the store for stale fallback
// after a restart. Failures are logged; in-memory state stays
// authoritative for this process.
func (s *Service) persistCache(snap *models.UsageSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		logger.Error("failed to marshal snapshot", "error", err)
		return
	}
	if err := s.kv.Set(store.KeyCachedSnapshot, data); err != nil {
		logger.Error("failed to persist snapshot", "error", err)
	}
	if err := s.kv.Set(store.KeySnapshotFetchedAt,
		[]byte(snap.LastUpdated.UTC().Format(time.RFC3339))); err != nil {
		logger.Error("failed to persist fetch time", "error", err)
	}
}

func (s *Service) restoreCache() {
	data, err := s.kv.Get(store.KeyCachedSnapshot)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Error("failed to restore cached snapshot", "error", err)
		}
		return
	}

	var snap models.UsageSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logger.Warn("discarding unreadable cached snapshot", "error", err)
		return
	}

	s.mu.Lock()
	s.cached = &snap
	s.lastPercent = snap.Session.PercentUsed
	s.mu.Unlock()
}

// sendEvent sends an event to the event channel non-blocking.
func (s *Service) sendEvent(event Event) {
	select {
	case s.eventChan <- event:
	default:
		// Channel full, drop oldest event
		select {
		case <-s.eventChan:
		default:
		}
		select {
		case s.eventChan <- event:
		default:
		}
	}
}
