package alerts

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j-veylop/claude-usage-watch/internal/models"
	"github.com/j-veylop/claude-usage-watch/internal/store"
)

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

func TestStateSurvivesRestart(t *testing.T) {
	kv := newMemStore()
	engine := NewEngine(4 * time.Hour)
	resetAt := t0.Add(3 * time.Hour)
	thresholds := sessionThresholds(90)

	// First process: fire and persist.
	state, err := LoadState(kv)
	require.NoError(t, err)

	state, fired := engine.CheckThresholds(sessionSnapshot(95, resetAt), thresholds, state, t0)
	require.Len(t, fired, 1)
	require.NoError(t, SaveState(kv, state))

	// "Restart": reload and re-evaluate the same snapshot inside the
	// cooldown window. Nothing fires again.
	reloaded, err := LoadState(kv)
	require.NoError(t, err)
	assert.True(t, reloaded.Entries["session:90"].Triggered)
	assert.Equal(t, resetAt, reloaded.LastSessionResetAt)

	_, fired = engine.CheckThresholds(sessionSnapshot(95, resetAt), thresholds, reloaded, t0.Add(time.Hour))
	assert.Empty(t, fired)
}

func TestLoadStateEmpty(t *testing.T) {
	state, err := LoadState(newMemStore())
	require.NoError(t, err)
	assert.NotNil(t, state.Entries)
	assert.Empty(t, state.Entries)
}

func TestLoadStateCorruptFallsBackToEmpty(t *testing.T) {
	kv := newMemStore()
	require.NoError(t, kv.Set(store.KeyAlertState, []byte("{corrupt")))

	state, err := LoadState(kv)
	require.NoError(t, err)
	assert.Empty(t, state.Entries)
}

func TestClearState(t *testing.T) {
	kv := newMemStore()
	require.NoError(t, SaveState(kv, &models.AlertState{
		Entries: map[string]models.AlertEntry{"session:90": {Triggered: true}},
	}))

	require.NoError(t, ClearState(kv))

	state, err := LoadState(kv)
	require.NoError(t, err)
	assert.Empty(t, state.Entries)
}
