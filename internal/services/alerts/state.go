package alerts

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/j-veylop/claude-usage-watch/internal/models"
	"github.com/j-veylop/claude-usage-watch/internal/store"
)

// LoadState reads the persisted alert state, returning an empty state
// when none has been written yet.
func LoadState(kv store.Store) (*models.AlertState, error) {
	data, err := kv.Get(store.KeyAlertState)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.NewAlertState(), nil
		}
		return nil, fmt.Errorf("failed to load alert state: %w", err)
	}

	var state models.AlertState
	if err := json.Unmarshal(data, &state); err != nil {
		// Unreadable state is treated as empty rather than fatal; the
		// worst case is one duplicated notification.
		return models.NewAlertState(), nil
	}
	if state.Entries == nil {
		state.Entries = make(map[string]models.AlertEntry)
	}
	return &state, nil
}

// SaveState persists the alert state after a mutation.
func SaveState(kv store.Store, state *models.AlertState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal alert state: %w", err)
	}
	if err := kv.Set(store.KeyAlertState, data); err != nil {
		return fmt.Errorf("failed to persist alert state: %w", err)
	}
	return nil
}

// ClearState removes the persisted alert state, used on logout.
func ClearState(kv store.Store) error {
	return kv.Delete(store.KeyAlertState)
}
