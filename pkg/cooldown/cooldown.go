// Package cooldown tracks when each POI's narration last auto-played so it
// is not re-triggered before the cooldown period elapses.
package cooldown

import (
	"sync"
	"time"

	"github.com/waytour/waytour/pkg/logx"
	"github.com/waytour/waytour/pkg/store"
)

// DefaultPeriod is the minimum gap between auto-plays of the same POI.
const DefaultPeriod = 30 * time.Minute

// Store is the per-POI last-played clock. All state is persisted so it
// survives a session restart; this component is the only writer.
type Store struct {
	mu     sync.Mutex
	kv     store.KV
	logger *logx.Logger
	period time.Duration
	played map[string]int64 // poi id -> last played, epoch ms
	now    func() time.Time
}

// New loads (or initializes) the cooldown tracker from the state store.
func New(kv store.KV, period time.Duration, logger *logx.Logger) *Store {
	if period <= 0 {
		period = DefaultPeriod
	}
	s := &Store{
		kv:     kv,
		logger: logger,
		period: period,
		played: make(map[string]int64),
		now:    time.Now,
	}

	var persisted map[string]int64
	switch err := kv.Get(store.KeyCooldownTracker, &persisted); err {
	case nil:
		s.played = persisted
	case store.ErrNotFound:
		// First run.
	default:
		if logger != nil {
			logger.Warn("failed to load cooldown tracker, starting empty", "error", err.Error())
		}
	}
	return s
}

// SetClock overrides the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// CanPlay reports whether the POI was never played, or its cooldown expired.
func (s *Store) CanPlay(poiID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.played[poiID]
	if !ok {
		return true
	}
	return s.now().UnixMilli()-last >= s.period.Milliseconds()
}

// MarkPlayed records the play time, unconditionally resetting the clock.
func (s *Store) MarkPlayed(poiID string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts.IsZero() {
		ts = s.now()
	}
	s.played[poiID] = ts.UnixMilli()
	s.persistLocked()
}

// Remaining returns how long until the POI may auto-play again (0 if it can
// play now).
func (s *Store) Remaining(poiID string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.played[poiID]
	if !ok {
		return 0
	}
	remaining := s.period - time.Duration(s.now().UnixMilli()-last)*time.Millisecond
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ListActive returns the POI ids currently in cooldown.
func (s *Store) ListActive() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	nowMs := s.now().UnixMilli()
	active := make([]string, 0, len(s.played))
	for id, last := range s.played {
		if nowMs-last < s.period.Milliseconds() {
			active = append(active, id)
		}
	}
	return active
}

// Clear wipes all cooldown state. Used for tour reset and tests.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = make(map[string]int64)
	s.persistLocked()
}

func (s *Store) persistLocked() {
	if err := s.kv.Put(store.KeyCooldownTracker, s.played); err != nil && s.logger != nil {
		s.logger.Warn("failed to persist cooldown tracker", "error", err.Error())
	}
}
