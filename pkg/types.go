// Package pkg holds the shared value types for the waytour narration pipeline.
package pkg

import (
	"fmt"
	"time"
)

// PositionSample is a single raw fix from the position source.
type PositionSample struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Timestamp  time.Time `json:"timestamp"`
	AccuracyM  float64   `json:"accuracy_m,omitempty"`
	HeadingDeg float64   `json:"heading_deg,omitempty"`
	SpeedMps   float64   `json:"speed_mps,omitempty"`
}

// SmoothedPosition is the filtered coordinate produced by the smoother.
type SmoothedPosition struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// SpeedReading is one entry in the motion classifier's bounded window.
type SpeedReading struct {
	SpeedMps  float64          `json:"speed_mps"`
	Timestamp time.Time        `json:"timestamp"`
	Position  SmoothedPosition `json:"position"`
}

// POI is a narrated point of interest. The record is owned by the content
// store; this pipeline treats it as a read-only value.
type POI struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Lat         float64           `json:"lat"`
	Lng         float64           `json:"lng"`
	RadiusM     float64           `json:"radius_m"`
	Priority    int               `json:"priority"`
	AudioURLs   map[string]string `json:"audio_urls"` // language code -> URL
	ImageURL    string            `json:"image_url,omitempty"`
}

// Validate checks the fields every pipeline component relies on.
func (p *POI) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("poi missing id")
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("poi %s has out-of-range coordinates (%f, %f)", p.ID, p.Lat, p.Lng)
	}
	if p.RadiusM < 0 {
		return fmt.Errorf("poi %s has negative radius %f", p.ID, p.RadiusM)
	}
	return nil
}

// AudioURL resolves the audio asset for a language, falling back to English.
// The second return is false when the POI has no usable audio at all.
func (p *POI) AudioURL(language string) (string, bool) {
	if url, ok := p.AudioURLs[language]; ok && url != "" {
		return url, true
	}
	if url, ok := p.AudioURLs["en"]; ok && url != "" {
		return url, true
	}
	return "", false
}

// GeofenceEventKind distinguishes enter and exit transitions.
type GeofenceEventKind string

const (
	GeofenceEnter GeofenceEventKind = "enter"
	GeofenceExit  GeofenceEventKind = "exit"
)

// GeofenceEvent is emitted once per active-set transition per POI.
type GeofenceEvent struct {
	PoiID     string            `json:"poi_id"`
	DistanceM float64           `json:"distance_m"`
	Timestamp time.Time         `json:"timestamp"`
	Kind      GeofenceEventKind `json:"kind"`
}

// AudioQueueItem is a narration waiting in (or playing from) the controller.
type AudioQueueItem struct {
	POI         POI    `json:"poi"`
	AudioURL    string `json:"audio_url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language"`
}

// PlaybackState is the controller's state machine state.
type PlaybackState string

const (
	PlaybackIdle    PlaybackState = "idle"
	PlaybackLoading PlaybackState = "loading"
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
	PlaybackError   PlaybackState = "error"
)

// PreloadStatus records what the asset cache has already pulled down.
type PreloadStatus struct {
	TotalPois         int       `json:"total_pois"`
	PreloadedPois     int       `json:"preloaded_pois"`
	PreloadedAudioIDs []string  `json:"preloaded_audio_ids"`
	PreloadedImageIDs []string  `json:"preloaded_image_ids"`
	LastPreload       time.Time `json:"last_preload"`
}

// PreloadProgress is reported incrementally during a preload pass.
type PreloadProgress struct {
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Pending   int     `json:"pending"`
	Failed    int     `json:"failed"`
	Percent   float64 `json:"percent"`
}

// QueuedAnalyticsEvent is one persisted record awaiting batch upload.
type QueuedAnalyticsEvent struct {
	ID         string                 `json:"id"`
	Payload    map[string]interface{} `json:"payload"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
}

// SyncState describes the analytics queue's last known disposition.
type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncSyncing SyncState = "syncing"
	SyncSuccess SyncState = "success"
	SyncError   SyncState = "error"
)

// SignalErrorKind classifies position source failures.
type SignalErrorKind string

const (
	SignalPermissionDenied    SignalErrorKind = "permission-denied"
	SignalPositionUnavailable SignalErrorKind = "position-unavailable"
	SignalTimeout             SignalErrorKind = "timeout"
)

// SignalError is surfaced to the UI but never halts the pipeline.
type SignalError struct {
	Kind    SignalErrorKind `json:"kind"`
	Message string          `json:"message"`
}

func (e SignalError) Error() string {
	return fmt.Sprintf("position source %s: %s", e.Kind, e.Message)
}
