// Package telem provides short-term telemetry storage and event logging
package telem

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/waytour/waytour/pkg"
)

// Sample is one timestamped snapshot of the movement pipeline.
type Sample struct {
	Timestamp   time.Time            `json:"timestamp"`
	Position    pkg.SmoothedPosition `json:"position"`
	SpeedMps    float64              `json:"speed_mps"`
	MotionState string               `json:"motion_state"`
	AccuracyM   float64              `json:"accuracy_m,omitempty"`
}

// Event represents a tour event (geofence transitions, playback changes,
// sync results, signal errors).
type Event struct {
	Timestamp time.Time   `json:"timestamp"`
	Level     string      `json:"level"`
	Type      string      `json:"type"`
	PoiID     string      `json:"poi_id,omitempty"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
}

// Config for telemetry store
type Config struct {
	MaxSamples     int `json:"max_samples"`
	MaxEvents      int `json:"max_events"`
	RetentionHours int `json:"retention_hours"`
	MaxRAMMB       int `json:"max_ram_mb"`
}

// Store manages in-memory telemetry data with bounded retention
type Store struct {
	mu            sync.RWMutex
	samples       []Sample
	events        []Event
	maxSamples    int
	maxEvents     int
	retentionTime time.Duration
	maxRAMMB      int
}

// NewStore creates a new telemetry store with the given configuration
func NewStore(config Config) *Store {
	if config.MaxSamples <= 0 {
		config.MaxSamples = 1000
	}
	if config.MaxEvents <= 0 {
		config.MaxEvents = 500
	}
	if config.RetentionHours <= 0 {
		config.RetentionHours = 24
	}
	if config.MaxRAMMB <= 0 {
		config.MaxRAMMB = 10
	}

	return &Store{
		samples:       make([]Sample, 0, config.MaxSamples),
		events:        make([]Event, 0, config.MaxEvents),
		maxSamples:    config.MaxSamples,
		maxEvents:     config.MaxEvents,
		retentionTime: time.Duration(config.RetentionHours) * time.Hour,
		maxRAMMB:      config.MaxRAMMB,
	}
}

// AddSample stores a new movement sample
func (s *Store) AddSample(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, sample)

	// Enforce size limits
	if len(s.samples) > s.maxSamples {
		// Keep the most recent samples
		copy(s.samples, s.samples[len(s.samples)-s.maxSamples:])
		s.samples = s.samples[:s.maxSamples]
	}

	s.cleanOldSamplesLocked()
	s.enforceRAMCapLocked()
}

// AddEvent stores a new tour event
func (s *Store) AddEvent(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)

	// Enforce size limits
	if len(s.events) > s.maxEvents {
		// Keep the most recent events
		copy(s.events, s.events[len(s.events)-s.maxEvents:])
		s.events = s.events[:s.maxEvents]
	}

	s.enforceRAMCapLocked()
}

// GetSamples returns the most recent samples
func (s *Store) GetSamples(limit int) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit >= len(s.samples) {
		result := make([]Sample, len(s.samples))
		copy(result, s.samples)
		return result
	}

	start := len(s.samples) - limit
	result := make([]Sample, limit)
	copy(result, s.samples[start:])
	return result
}

// GetRecentSamples returns samples within a time window
func (s *Store) GetRecentSamples(since time.Duration) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-since)
	var result []Sample
	for _, sample := range s.samples {
		if sample.Timestamp.After(cutoff) {
			result = append(result, sample)
		}
	}
	return result
}

// GetEvents returns recent events
func (s *Store) GetEvents(limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit >= len(s.events) {
		result := make([]Event, len(s.events))
		copy(result, s.events)
		return result
	}

	start := len(s.events) - limit
	result := make([]Event, limit)
	copy(result, s.events[start:])
	return result
}

// Cleanup removes old data based on retention policy
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanOldSamplesLocked()
	s.cleanOldEventsLocked()
}

// cleanOldSamplesLocked removes samples older than retention time
func (s *Store) cleanOldSamplesLocked() {
	cutoff := time.Now().Add(-s.retentionTime)

	keepIndex := 0
	for i, sample := range s.samples {
		if sample.Timestamp.After(cutoff) {
			keepIndex = i
			break
		}
		keepIndex = i + 1
	}

	if keepIndex > 0 {
		copy(s.samples, s.samples[keepIndex:])
		s.samples = s.samples[:len(s.samples)-keepIndex]
	}
}

// cleanOldEventsLocked removes events older than retention time
func (s *Store) cleanOldEventsLocked() {
	cutoff := time.Now().Add(-s.retentionTime)

	keepIndex := 0
	for i, event := range s.events {
		if event.Timestamp.After(cutoff) {
			keepIndex = i
			break
		}
		keepIndex = i + 1
	}

	if keepIndex > 0 {
		copy(s.events, s.events[keepIndex:])
		s.events = s.events[:len(s.events)-keepIndex]
	}
}

// GetStats returns storage statistics
func (s *Store) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"total_samples":   len(s.samples),
		"total_events":    len(s.events),
		"retention_hours": s.retentionTime.Hours(),
		"max_ram_mb":      s.maxRAMMB,
		"estimated_bytes": s.estimateBytesLocked(),
	}
}

// ExportJSON exports all data as JSON for debugging/analysis
func (s *Store) ExportJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	export := struct {
		Timestamp time.Time `json:"timestamp"`
		Samples   []Sample  `json:"samples"`
		Events    []Event   `json:"events"`
	}{
		Timestamp: time.Now(),
		Samples:   s.samples,
		Events:    s.events,
	}

	return json.Marshal(export)
}

// estimateBytesLocked returns an approximate memory usage for telemetry
// content, assuming a conservative size per sample/event.
func (s *Store) estimateBytesLocked() int {
	const (
		bytesPerSample = 160
		bytesPerEvent  = 160
	)
	return len(s.samples)*bytesPerSample + len(s.events)*bytesPerEvent
}

// enforceRAMCapLocked downsamples old data when the estimated memory
// exceeds the configured cap. Must be called with s.mu locked.
func (s *Store) enforceRAMCapLocked() {
	if s.maxRAMMB <= 0 {
		return
	}
	capBytes := s.maxRAMMB * 1024 * 1024
	for i := 0; i < 5; i++ {
		if s.estimateBytesLocked() <= capBytes {
			return
		}
		if len(s.samples) > 200 {
			s.samples = downsampleKeepRecent(s.samples, 2, 100)
		}
		if len(s.events) > 200 && s.estimateBytesLocked() > capBytes {
			keep := len(s.events) / 2
			copy(s.events, s.events[len(s.events)-keep:])
			s.events = s.events[:keep]
		}
	}
}

// downsampleKeepRecent keeps the last recentKeep items intact and
// downsamples the older portion by keeping every nth item.
func downsampleKeepRecent[T any](in []T, n int, recentKeep int) []T {
	if n <= 1 || len(in) <= recentKeep {
		return in
	}
	cutoff := len(in) - recentKeep
	if cutoff < 0 {
		cutoff = 0
	}
	older := in[:cutoff]
	newer := in[cutoff:]
	kept := make([]T, 0, len(older)/n+len(newer))
	for i := 0; i < len(older); i++ {
		if i%n == 0 {
			kept = append(kept, older[i])
		}
	}
	return append(kept, newer...)
}

// SetMaxRAMMB updates the RAM cap and enforces it immediately.
func (s *Store) SetMaxRAMMB(mb int) error {
	if mb < 4 || mb > 128 {
		return fmt.Errorf("max_ram_mb must be between 4-128, got %d", mb)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxRAMMB = mb
	s.enforceRAMCapLocked()
	return nil
}
