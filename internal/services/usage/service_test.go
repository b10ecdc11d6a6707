package usage

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/j-veylop/claude-usage-watch/internal/models"
	"github.com/j-veylop/claude-usage-watch/internal/store"
)

// MockRoundTripper implements http.RoundTripper for testing
type MockRoundTripper struct {
	RoundTripFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.RoundTripFunc(req)
}

// memStore is an in-memory store.Store for testing
type memStore struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string][]byte)}
}

func (m *memStore) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memStore) SetSecret(key string, value []byte) error { return m.Set(key, value) }

func (m *memStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// fakeCreds implements CredentialSource for testing
type fakeCreds struct {
	mu      sync.Mutex
	cred    models.Credential
	expired bool
}

func (f *fakeCreds) Credential() models.Credential {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cred
}

func (f *fakeCreds) ExpireCredential() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = true
	f.cred = models.Credential{}
}

func (f *fakeCreds) wasExpired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expired
}

func okResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func jsonHandler(t *testing.T, status int) func(req *http.Request) (*http.Response, error) {
	t.Helper()
	return func(req *http.Request) (*http.Response, error) {
		if status != http.StatusOK {
			return &http.Response{
				StatusCode: status,
				Body:       io.NopCloser(strings.NewReader("")),
			}, nil
		}
		switch req.URL.Path {
		case bootstrapPath:
			return okResponse(`{"account":{"memberships":[{"organization":{"rate_limit_tier":"pro"}}]}}`), nil
		case rateLimitPath:
			return okResponse(`{"five_hour":{"utilization":25.0,"resets_at":"2026-03-04T15:00:00Z"},"seven_day":{"utilization":10.0,"resets_at":"2026-03-08T00:00:00Z"}}`), nil
		}
		return nil, errors.New("unexpected path " + req.URL.Path)
	}
}

func fastPollerConfig() Config {
	return Config{
		BaseInterval:   time.Hour, // never reached in tests
		FastInterval:   30 * time.Minute,
		HighWaterMark:  80,
		MaxAttempts:    3,
		RetryBaseDelay: time.Millisecond,
	}
}

func newTestService(t *testing.T, rt func(req *http.Request) (*http.Response, error)) (*Service, *fakeCreds, *memStore) {
	t.Helper()
	client := NewClient("https://claude.test")
	client.httpClient = &http.Client{Transport: &MockRoundTripper{RoundTripFunc: rt}}
	creds := &fakeCreds{cred: models.Credential{SessionKey: "sk-ant-sid01-test", CapturedAt: time.Now()}}
	kv := newMemStore()
	return New(client, creds, kv, fastPollerConfig()), creds, kv
}

func waitForEvent(t *testing.T, events <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event type %d", want)
		}
	}
}

func TestStartFetchesImmediately(t *testing.T) {
	svc, _, kv := newTestService(t, jsonHandler(t, http.StatusOK))
	svc.Start()
	defer svc.Stop()

	ev := waitForEvent(t, svc.Events(), EventUsageUpdated)
	if ev.Snapshot == nil {
		t.Fatal("expected a snapshot")
	}
	if ev.Snapshot.Session.PercentUsed != 25.0 {
		t.Errorf("expected 25%% session usage, got %v", ev.Snapshot.Session.PercentUsed)
	}
	if ev.Snapshot.Tier != models.TierPro {
		t.Errorf("expected pro tier, got %v", ev.Snapshot.Tier)
	}
	if ev.Snapshot.Stale {
		t.Error("fresh snapshot must not be stale")
	}

	// Snapshot must be persisted for restart fallback
	if _, err := kv.Get(store.KeyCachedSnapshot); err != nil {
		t.Errorf("expected cached snapshot in store: %v", err)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	var requests atomic.Int64
	handler := jsonHandler(t, http.StatusOK)
	svc, _, _ := newTestService(t, func(req *http.Request) (*http.Response, error) {
		requests.Add(1)
		return handler(req)
	})

	svc.Start()
	svc.Start()
	svc.Start()
	defer svc.Stop()

	waitForEvent(t, svc.Events(), EventUsageUpdated)
	time.Sleep(50 * time.Millisecond)

	// One cycle = two requests (bootstrap + rate limits)
	if n := requests.Load(); n != 2 {
		t.Errorf("expected exactly 2 upstream requests, got %d", n)
	}
}

func TestSingleFlightRefresh(t *testing.T) {
	var inFlight, maxInFlight atomic.Int64
	gate := make(chan struct{})
	handler := jsonHandler(t, http.StatusOK)

	svc, _, _ := newTestService(t, func(req *http.Request) (*http.Response, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		<-gate
		return handler(req)
	})

	svc.Start()
	defer svc.Stop()

	// Hammer Refresh while the first cycle is blocked in the transport.
	for n := 0; n < 10; n++ {
		svc.Refresh()
	}
	close(gate)

	waitForEvent(t, svc.Events(), EventUsageUpdated)

	if maxInFlight.Load() > 1 {
		t.Errorf("expected at most 1 concurrent upstream request, saw %d", maxInFlight.Load())
	}
}

func TestRetryThenSuccess(t *testing.T) {
	var attempts atomic.Int64
	handler := jsonHandler(t, http.StatusOK)

	svc, _, _ := newTestService(t, func(req *http.Request) (*http.Response, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("transient network error")
		}
		return handler(req)
	})

	svc.Start()
	defer svc.Stop()

	ev := waitForEvent(t, svc.Events(), EventUsageUpdated)
	if ev.Snapshot == nil || ev.Snapshot.Stale {
		t.Error("expected a fresh snapshot after in-cycle retry")
	}
}

func TestExhaustedRetriesRepublishStaleCache(t *testing.T) {
	svc, _, _ := newTestService(t, func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("network down")
	})

	// Seed the cache as if a previous cycle had succeeded.
	cached := models.UsageSnapshot{
		LastUpdated: time.Now().Add(-time.Minute),
		Session:     models.WindowUsage{PercentUsed: 66},
		Weekly:      models.WindowUsage{PercentUsed: 20},
		Tier:        models.TierPro,
	}
	svc.mu.Lock()
	svc.cached = &cached
	svc.mu.Unlock()

	svc.Start()
	defer svc.Stop()

	waitForEvent(t, svc.Events(), EventUsageError)
	ev := waitForEvent(t, svc.Events(), EventUsageUpdated)
	if ev.Snapshot == nil || !ev.Snapshot.Stale {
		t.Error("expected the cached snapshot republished as stale")
	}
	if ev.Snapshot.Session.PercentUsed != 66 {
		t.Errorf("expected cached percentages, got %v", ev.Snapshot.Session.PercentUsed)
	}
}

func TestExhaustedRetriesNoCache(t *testing.T) {
	var attempts atomic.Int64
	svc, _, _ := newTestService(t, func(req *http.Request) (*http.Response, error) {
		attempts.Add(1)
		return nil, errors.New("network down")
	})

	svc.Start()
	defer svc.Stop()

	ev := waitForEvent(t, svc.Events(), EventUsageError)
	if ev.Error == nil {
		t.Error("expected the fetch error on the event")
	}
	if n := attempts.Load(); n != 3 {
		t.Errorf("expected 3 attempts in the cycle, got %d", n)
	}
}

func TestUnauthorizedStopsPolling(t *testing.T) {
	svc, creds, _ := newTestService(t, jsonHandler(t, http.StatusUnauthorized))

	svc.Start()

	waitForEvent(t, svc.Events(), EventSessionExpired)

	if !creds.wasExpired() {
		t.Error("expected credential expiry to be delegated to the session service")
	}

	svc.mu.Lock()
	running := svc.running
	svc.mu.Unlock()
	if running {
		t.Error("poller must stop after a confirmed 401")
	}
}

func TestNoCredentialEmitsAuthRequired(t *testing.T) {
	svc, _, _ := newTestService(t, jsonHandler(t, http.StatusOK))
	svc.creds = &fakeCreds{} // no credential

	svc.Start()
	defer svc.Stop()

	ev := waitForEvent(t, svc.Events(), EventAuthRequired)
	if ev.Error == nil {
		t.Error("expected an auth-required error")
	}
}

func TestNextIntervalAcceleratesAboveHighWater(t *testing.T) {
	svc, _, _ := newTestService(t, jsonHandler(t, http.StatusOK))

	svc.mu.Lock()
	svc.lastPercent = 50
	svc.mu.Unlock()
	if got := svc.nextInterval(); got != time.Hour {
		t.Errorf("expected base interval below high-water mark, got %v", got)
	}

	svc.mu.Lock()
	svc.lastPercent = 85
	svc.mu.Unlock()
	if got := svc.nextInterval(); got != 30*time.Minute {
		t.Errorf("expected fast interval above high-water mark, got %v", got)
	}
}

func TestRestoreCacheFromStore(t *testing.T) {
	kv := newMemStore()
	cached := `{"lastUpdated":"2026-03-04T10:00:00Z","session":{"percentUsed":70},"weekly":{"percentUsed":30},"tier":"pro"}`
	if err := kv.Set(store.KeyCachedSnapshot, []byte(cached)); err != nil {
		t.Fatal(err)
	}

	client := NewClient("https://claude.test")
	svc := New(client, &fakeCreds{}, kv, fastPollerConfig())

	snap := svc.Cached()
	if snap == nil {
		t.Fatal("expected restored snapshot")
	}
	if snap.Session.PercentUsed != 70 {
		t.Errorf("expected restored session percent 70, got %v", snap.Session.PercentUsed)
	}
}
