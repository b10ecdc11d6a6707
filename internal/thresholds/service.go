// Package thresholds manages the alert threshold list with file watching
// and live reload.
package thresholds

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"

	"github.com/j-veylop/claude-usage-watch/internal/logger"
	"github.com/j-veylop/claude-usage-watch/internal/models"
)

// File represents the TOML file structure for threshold storage.
type File struct {
	Thresholds []models.Threshold `toml:"thresholds"`
	Version    int                `toml:"version,omitempty"`
}

// Event represents a threshold service event.
type Event struct {
	Error error
	Type  EventType
}

// EventType defines the type of threshold event.
type EventType int

const (
	EventLoaded EventType = iota
	EventChanged
	EventError
)

// Service manages thresholds with file watching and change notifications.
type Service struct {
	mu            sync.RWMutex
	thresholds    []models.Threshold
	filePath      string
	watcher       *fsnotify.Watcher
	eventChan     chan Event
	stopChan      chan struct{}
	debounceTimer *time.Timer
}

// DefaultThresholds is the ladder written on first run.
func DefaultThresholds() []models.Threshold {
	return []models.Threshold{
		{ID: "session-50", Type: models.WindowSession, Percentage: 50, Enabled: true},
		{ID: "session-75", Type: models.WindowSession, Percentage: 75, Enabled: true},
		{ID: "session-90", Type: models.WindowSession, Percentage: 90, Enabled: true, SoundEnabled: true},
		{ID: "weekly-75", Type: models.WindowWeekly, Percentage: 75, Enabled: true},
		{ID: "weekly-90", Type: models.WindowWeekly, Percentage: 90, Enabled: true, SoundEnabled: true},
	}
}

// New creates a new threshold service and starts file watching.
func New(filePath string) (*Service, error) {
	s := &Service{
		filePath:  filePath,
		eventChan: make(chan Event, 100),
		stopChan:  make(chan struct{}),
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := s.load(); err != nil {
		// If file doesn't exist, write the default ladder
		if errors.Is(err, os.ErrNotExist) {
			s.thresholds = DefaultThresholds()
			if err := s.save(); err != nil {
				return nil, fmt.Errorf("failed to create thresholds file: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to load thresholds: %w", err)
		}
	}

	if err := s.startWatcher(); err != nil {
		return nil, fmt.Errorf("failed to start file watcher: %w", err)
	}

	s.sendEvent(Event{Type: EventLoaded})

	return s, nil
}

// Events returns the event channel for subscribing to threshold changes.
func (s *Service) Events() <-chan Event {
	return s.eventChan
}

// Get returns a copy of the enabled and disabled thresholds.
func (s *Service) Get() []models.Threshold {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Threshold, len(s.thresholds))
	copy(out, s.thresholds)
	return out
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var file File
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse thresholds file: %w", err)
	}

	valid := file.Thresholds[:0]
	for _, t := range file.Thresholds {
		if t.Percentage < 0 || t.Percentage > 100 {
			logger.Warn("skipping threshold with out-of-range percentage",
				"id", t.ID, "percentage", t.Percentage)
			continue
		}
		if t.Type != models.WindowSession && t.Type != models.WindowWeekly {
			logger.Warn("skipping threshold with unknown window type",
				"id", t.ID, "type", string(t.Type))
			continue
		}
		valid = append(valid, t)
	}

	s.mu.Lock()
	s.thresholds = valid
	s.mu.Unlock()
	return nil
}

func (s *Service) save() error {
	s.mu.RLock()
	file := File{Thresholds: s.thresholds, Version: 1}
	s.mu.RUnlock()

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal thresholds: %w", err)
	}

	// Write to temp file first, then rename
	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpFile, s.filePath); err != nil {
		if removeErr := os.Remove(tmpFile); removeErr != nil {
			logger.Error("failed to remove temp file", "error", removeErr)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// startWatcher starts the file system watcher.
func (s *Service) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher

	// Watch the directory (to catch file creation/deletion)
	if err := watcher.Add(filepath.Dir(s.filePath)); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Error("failed to close watcher", "error", closeErr)
		}
		return err
	}

	go s.watchLoop()
	return nil
}

// watchLoop handles file system events with debouncing.
func (s *Service) watchLoop() {
	const debounceInterval = 100 * time.Millisecond

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != filepath.Base(s.filePath) {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// Debounce rapid changes
				if s.debounceTimer != nil {
					s.debounceTimer.Stop()
				}
				s.debounceTimer = time.AfterFunc(debounceInterval, func() {
					s.handleFileChange()
				})
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.sendEvent(Event{Type: EventError, Error: err})

		case <-s.stopChan:
			return
		}
	}
}

// handleFileChange reloads thresholds after an external edit.
func (s *Service) handleFileChange() {
	if err := s.load(); err != nil {
		s.sendEvent(Event{Type: EventError, Error: err})
		return
	}
	s.sendEvent(Event{Type: EventChanged})
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

// Close stops the file watcher and cleans up resources.
func (s *Service) Close() error {
	close(s.stopChan)

	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}

	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
