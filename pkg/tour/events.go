package tour

import (
	"sync"

	"github.com/waytour/waytour/pkg"
)

// EventFeed receives every event the pipeline emits. The production feed
// publishes over MQTT; tests use MemoryFeed.
type EventFeed interface {
	PublishGeofence(event pkg.GeofenceEvent)
	PublishPlayback(state pkg.PlaybackState, item *pkg.AudioQueueItem)
	PublishPreload(progress pkg.PreloadProgress)
	PublishSync(state pkg.SyncState)
}

// NopFeed discards every event.
type NopFeed struct{}

func (NopFeed) PublishGeofence(pkg.GeofenceEvent)                      {}
func (NopFeed) PublishPlayback(pkg.PlaybackState, *pkg.AudioQueueItem) {}
func (NopFeed) PublishPreload(pkg.PreloadProgress)                     {}
func (NopFeed) PublishSync(pkg.SyncState)                              {}

// MemoryFeed records events for inspection.
type MemoryFeed struct {
	mu       sync.Mutex
	Geofence []pkg.GeofenceEvent
	Playback []pkg.PlaybackState
	Preload  []pkg.PreloadProgress
	Sync     []pkg.SyncState
}

func (m *MemoryFeed) PublishGeofence(event pkg.GeofenceEvent) {
	m.mu.Lock()
	m.Geofence = append(m.Geofence, event)
	m.mu.Unlock()
}

func (m *MemoryFeed) PublishPlayback(state pkg.PlaybackState, item *pkg.AudioQueueItem) {
	m.mu.Lock()
	m.Playback = append(m.Playback, state)
	m.mu.Unlock()
}

func (m *MemoryFeed) PublishPreload(progress pkg.PreloadProgress) {
	m.mu.Lock()
	m.Preload = append(m.Preload, progress)
	m.mu.Unlock()
}

func (m *MemoryFeed) PublishSync(state pkg.SyncState) {
	m.mu.Lock()
	m.Sync = append(m.Sync, state)
	m.mu.Unlock()
}

// GeofenceEvents returns a copy of the recorded geofence events.
func (m *MemoryFeed) GeofenceEvents() []pkg.GeofenceEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pkg.GeofenceEvent, len(m.Geofence))
	copy(out, m.Geofence)
	return out
}

// SyncStates returns a copy of the recorded sync states.
func (m *MemoryFeed) SyncStates() []pkg.SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pkg.SyncState, len(m.Sync))
	copy(out, m.Sync)
	return out
}
