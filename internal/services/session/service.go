package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/j-veylop/claude-usage-watch/internal/logger"
	"github.com/j-veylop/claude-usage-watch/internal/models"
	"github.com/j-veylop/claude-usage-watch/internal/store"
)

var (
	// ErrLoginCancelled is returned when the login window is closed
	// before a credential was captured.
	ErrLoginCancelled = errors.New("login cancelled")

	// ErrNoCredential is returned when an operation requires a stored
	// credential and none exists.
	ErrNoCredential = errors.New("no credential")
)

// Event represents a session service event.
type Event struct {
	Error         error
	Type          EventType
	Authenticated bool
}

// EventType defines the type of session event.
type EventType int

const (
	// EventStatusChanged indicates the authenticated state flipped.
	EventStatusChanged EventType = iota
	// EventError indicates a non-fatal session error.
	EventError
)

// Config holds configuration for the session service.
type Config struct {
	APIBaseURL      string
	AuthDomain      string
	SettleDelay     time.Duration
	ProbeRetries    int
	ProbeRetryDelay time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		APIBaseURL:      "https://claude.ai",
		AuthDomain:      "claude.ai",
		SettleDelay:     1500 * time.Millisecond,
		ProbeRetries:    3,
		ProbeRetryDelay: 2 * time.Second,
	}
}

// ValidationResult reports the outcome of a credential probe.
type ValidationResult struct {
	Valid  bool
	Status int
}

// Service manages the single session credential. It is the only writer;
// other components read the credential through it.
type Service struct {
	mu         sync.RWMutex
	credential models.Credential
	kv         store.Store
	httpClient *http.Client
	eventChan  chan Event
	config     Config
}

// New creates a session service, restoring any persisted credential.
func New(kv store.Store, config Config) *Service {
	if config.APIBaseURL == "" {
		config = DefaultConfig()
	}

	s := &Service{
		kv:         kv,
		config:     config,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		eventChan:  make(chan Event, 100),
	}

	s.restore()
	return s
}

// Events returns the event channel.
func (s *Service) Events() <-chan Event {
	return s.eventChan
}

// Credential returns the current credential. A zero credential means
// the user is not logged in.
func (s *Service) Credential() models.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential
}

// Authenticated reports whether a credential is currently held.
func (s *Service) Authenticated() bool {
	return s.Credential().Valid()
}

// restore loads a previously persisted credential from the store.
func (s *Service) restore() {
	value, err := s.kv.Get(store.KeyCredential)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Error("failed to restore credential", "error", err)
		}
		return
	}

	cred := models.Credential{SessionKey: string(value)}
	if raw, err := s.kv.Get(store.KeyCredentialCaptured); err == nil {
		if t, err := time.Parse(time.RFC3339, string(raw)); err == nil {
			cred.CapturedAt = t
		}
	}

	s.mu.Lock()
	s.credential = cred
	s.mu.Unlock()
	logger.Info("restored persisted session credential", "captured_at", cred.CapturedAt)
}

// CaptureFromLoginFlow consumes navigation events from the hosted login
// surface until one lands on a post-login destination, then reads the
// session cookie. Returns ErrLoginCancelled if the window closes first.
func (s *Service) CaptureFromLoginFlow(ctx context.Context, browser BrowserSession) (models.Credential, error) {
	for {
		select {
		case nav, ok := <-browser.Navigations():
			if !ok {
				return models.Credential{}, ErrLoginCancelled
			}
			if !isPostLoginURL(nav.URL, s.config.AuthDomain) {
				continue
			}

			// Give the upstream a moment to finish setting cookies.
			select {
			case <-time.After(s.config.SettleDelay):
			case <-browser.Done():
				return models.Credential{}, ErrLoginCancelled
			case <-ctx.Done():
				return models.Credential{}, ctx.Err()
			}

			value, err := browser.Cookie(ctx, s.config.AuthDomain, cookieName)
			if err != nil {
				s.sendEvent(Event{Type: EventError, Error: err})
				continue
			}
			if len(value) < len(cookieValuePrefix) || value[:len(cookieValuePrefix)] != cookieValuePrefix {
				// Landed on a logged-in page without a usable cookie;
				// keep watching for further navigations.
				continue
			}

			cred := models.Credential{SessionKey: value, CapturedAt: time.Now()}
			s.setCredential(cred)
			return cred, nil

		case <-browser.Done():
			return models.Credential{}, ErrLoginCancelled

		case <-ctx.Done():
			return models.Credential{}, ctx.Err()
		}
	}
}

// Import stores an externally obtained session key. This is the
// headless counterpart of the login-window capture.
func (s *Service) Import(sessionKey string) error {
	if len(sessionKey) < len(cookieValuePrefix) || sessionKey[:len(cookieValuePrefix)] != cookieValuePrefix {
		return fmt.Errorf("session key must start with %q", cookieValuePrefix)
	}
	s.setCredential(models.Credential{SessionKey: sessionKey, CapturedAt: time.Now()})
	return nil
}

func (s *Service) setCredential(cred models.Credential) {
	s.mu.Lock()
	s.credential = cred
	s.mu.Unlock()

	if err := s.kv.SetSecret(store.KeyCredential, []byte(cred.SessionKey)); err != nil {
		logger.Error("failed to persist credential", "error", err)
	}
	if err := s.kv.Set(store.KeyCredentialCaptured,
		[]byte(cred.CapturedAt.UTC().Format(time.RFC3339))); err != nil {
		logger.Error("failed to persist capture time", "error", err)
	}

	s.sendEvent(Event{Type: EventStatusChanged, Authenticated: true})
}

// Validate issues one authenticated probe. Only a definitive 401/403
// clears the credential; anything ambiguous is retried and, if still
// inconclusive, reported as valid so transient network loss never
// forces a spurious logout.
func (s *Service) Validate(ctx context.Context) ValidationResult {
	cred := s.Credential()
	if !cred.Valid() {
		return ValidationResult{Valid: false, Status: 0}
	}

	var lastStatus int
	for attempt := 0; attempt < s.config.ProbeRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.config.ProbeRetryDelay):
			case <-ctx.Done():
				return ValidationResult{Valid: true, Status: lastStatus}
			}
		}

		status, err := s.probe(ctx, cred)
		lastStatus = status
		if err != nil {
			logger.Debug("session probe failed", "attempt", attempt+1, "error", err)
			continue
		}

		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			logger.Info("session confirmed expired", "status", status)
			s.ExpireCredential()
			return ValidationResult{Valid: false, Status: status}
		}
		if status >= 200 && status < 300 {
			return ValidationResult{Valid: true, Status: status}
		}
		// Server error or other ambiguous status: retry.
	}

	// All probes inconclusive; report valid optimistically.
	return ValidationResult{Valid: true, Status: lastStatus}
}

// probe issues the authenticated probe request.
func (s *Service) probe(ctx context.Context, cred models.Credential) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.config.APIBaseURL+"/api/organizations", nil)
	if err != nil {
		return 0, err
	}
	req.AddCookie(&http.Cookie{Name: cookieName, Value: cred.SessionKey})
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode, nil
}

// ExpireCredential clears the credential after a confirmed 401. Called
// by the poller when an upstream request reports unauthorized.
func (s *Service) ExpireCredential() {
	s.clear()
}

// Logout clears the credential and the hosting browser's cookies for
// the auth domain, if a browser session is attached.
func (s *Service) Logout(ctx context.Context, browser BrowserSession) error {
	s.clear()

	if browser != nil {
		if err := browser.ClearCookies(ctx, s.config.AuthDomain); err != nil {
			return fmt.Errorf("failed to clear browser cookies: %w", err)
		}
	}
	return nil
}

func (s *Service) clear() {
	s.mu.Lock()
	had := s.credential.Valid()
	s.credential = models.Credential{}
	s.mu.Unlock()

	if err := s.kv.Delete(store.KeyCredential); err != nil {
		logger.Error("failed to clear persisted credential", "error", err)
	}
	if err := s.kv.Delete(store.KeyCredentialCaptured); err != nil {
		logger.Error("failed to clear persisted capture time", "error", err)
	}

	if had {
		s.sendEvent(Event{Type: EventStatusChanged, Authenticated: false})
	}
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
