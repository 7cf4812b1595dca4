// Package state implements the persisted State Store (§4.7, §6.3): a
// single JSON document of tunnel states plus a bounded event ring, written
// atomically via a temporary file and rename.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/Kup1ng/gre-watchdog/internal/model"
)

// Document is the on-disk JSON shape (§6.3).
type Document struct {
	Tunnels map[string]*model.TunnelState `json:"tunnels"`
	Events  []model.Event                 `json:"events"`
}

// Store owns the in-memory application state and its persistence to path.
// The event ring is appended to from multiple goroutines and is guarded by
// mu; tunnel state fields are guarded by each tunnel's own mutex
// (see internal/scheduler) and readers here accept a slightly stale view,
// per §5.
type Store struct {
	path string

	mu      sync.Mutex
	tunnels map[string]*model.TunnelState
	events  []model.Event
}

// NewStore creates an empty Store bound to path.
func NewStore(path string) *Store {
	return &Store{
		path:    path,
		tunnels: make(map[string]*model.TunnelState),
	}
}

// Load is best-effort: a missing or unreadable file yields an empty state,
// per §4.7.
func Load(path string) *Store {
	s := NewStore(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return NewStore(path)
	}

	if doc.Tunnels != nil {
		s.tunnels = doc.Tunnels
	}
	s.events = truncateEvents(doc.Events)
	return s
}

// Tunnel returns the state for id, creating nothing — callers use
// EnsureTunnel to materialize new entries on discovery.
func (s *Store) Tunnel(id int) (*model.TunnelState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tunnels[strconv.Itoa(id)]
	return st, ok
}

// EnsureTunnel returns the existing state for d.ID, or creates and stores a
// fresh one, refreshing descriptor fields either way. It reports whether a
// new entry was created.
func (s *Store) EnsureTunnel(d model.Descriptor) (*model.TunnelState, bool) {
	key := strconv.Itoa(d.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.tunnels[key]; ok {
		st.RefreshDescriptor(d)
		return st, false
	}

	st := model.NewTunnelState(d)
	s.tunnels[key] = st
	return st, true
}

// Tunnels returns a snapshot slice of all known tunnel states (pointers
// into the live store — readers accept the same staleness tolerance as
// direct field reads).
func (s *Store) Tunnels() []*model.TunnelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.TunnelState, 0, len(s.tunnels))
	for _, st := range s.tunnels {
		out = append(out, st)
	}
	return out
}

// AddEvent appends an event to the ring, truncating to MaxEvents.
func (s *Store) AddEvent(kind model.EventKind, message string, tunnelID *int) {
	s.AddEventWithExtra(kind, message, tunnelID, nil)
}

// AddEventWithExtra is AddEvent plus structured extra fields.
func (s *Store) AddEventWithExtra(kind model.EventKind, message string, tunnelID *int, extra map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, model.Event{
		Timestamp: time.Now(),
		Kind:      kind,
		Message:   message,
		TunnelID:  tunnelID,
		Extra:     extra,
	})
	s.events = truncateEvents(s.events)
}

// Events returns a copy of the current event ring.
func (s *Store) Events() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Save writes the current document to s.path atomically: write to a
// sibling temporary file, then rename into place, so readers always see
// either the complete prior snapshot or the complete new one.
func (s *Store) Save() error {
	s.mu.Lock()
	doc := Document{
		Tunnels: s.tunnels,
		Events:  truncateEvents(s.events),
	}
	s.mu.Unlock()

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp state file into place: %w", err)
	}
	return nil
}

func truncateEvents(events []model.Event) []model.Event {
	if len(events) <= model.MaxEvents {
		return events
	}
	return events[len(events)-model.MaxEvents:]
}
