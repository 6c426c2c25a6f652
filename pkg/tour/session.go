// Package tour wires the position, geofencing, playback, caching and
// analytics components into one running session.
package tour

import (
	"context"
	"sync"
	"time"

	"github.com/waytour/waytour/pkg"
	"github.com/waytour/waytour/pkg/cooldown"
	"github.com/waytour/waytour/pkg/geofence"
	"github.com/waytour/waytour/pkg/logx"
	"github.com/waytour/waytour/pkg/metrics"
	"github.com/waytour/waytour/pkg/motion"
	"github.com/waytour/waytour/pkg/playback"
	"github.com/waytour/waytour/pkg/position"
	"github.com/waytour/waytour/pkg/predict"
	"github.com/waytour/waytour/pkg/preload"
	"github.com/waytour/waytour/pkg/smoother"
	"github.com/waytour/waytour/pkg/syncq"
	"github.com/waytour/waytour/pkg/telem"
)

// POIProvider supplies the read-only POI directory.
type POIProvider interface {
	Fetch(ctx context.Context) ([]pkg.POI, error)
}

// StaticPois is a POIProvider over a fixed slice.
type StaticPois []pkg.POI

func (s StaticPois) Fetch(ctx context.Context) ([]pkg.POI, error) { return s, nil }

// Config controls session behavior
type Config struct {
	Language           string        `json:"language"`
	AccuracyThresholdM float64       `json:"accuracy_threshold_m"`
	SyncInterval       time.Duration `json:"sync_interval"`
	PoiRefreshInterval time.Duration `json:"poi_refresh_interval"`
	PreloadOnStart     bool          `json:"preload_on_start"`
	PreloadAll         bool          `json:"preload_all"`
}

// DefaultConfig returns default session configuration
func DefaultConfig() Config {
	return Config{
		Language:           "en",
		AccuracyThresholdM: 50.0,
		SyncInterval:       time.Minute,
		PoiRefreshInterval: 10 * time.Minute,
		PreloadOnStart:     true,
	}
}

// Deps are the components a session runs over. Preloader, Predictor,
// Telemetry and Metrics may be nil; the rest are required.
type Deps struct {
	Source    position.Source
	Smoother  *smoother.Smoother
	Motion    *motion.Classifier
	Cooldowns *cooldown.Store
	Geofence  *geofence.Engine
	Playback  *playback.Controller
	Queue     *syncq.Queue
	Provider  POIProvider
	Preloader *preload.Preloader
	Predictor *predict.Predictor
	Telemetry *telem.Store
	Metrics   *metrics.Server
	Feed      EventFeed
	Logger    *logx.Logger
}

// Session is one user's running tour: every fix flows through it.
type Session struct {
	config  Config
	deps    Deps
	tracker *geofence.Tracker

	mu        sync.Mutex
	pois      []pkg.POI
	prewarmed map[string]bool
}

// NewSession creates a session over pre-built components.
func NewSession(config Config, deps Deps) *Session {
	if config.Language == "" {
		config.Language = "en"
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = time.Minute
	}
	if deps.Feed == nil {
		deps.Feed = NopFeed{}
	}
	return &Session{
		config:    config,
		deps:      deps,
		tracker:   geofence.NewTracker(),
		prewarmed: make(map[string]bool),
	}
}

// Run drives the session until the context is cancelled. It subscribes to
// the position source, consumes geofence results, and runs the periodic
// sync and POI refresh timers.
func (s *Session) Run(ctx context.Context) error {
	if err := s.refreshPois(ctx); err != nil {
		// A dead directory is not fatal; the tour starts empty and the
		// refresh timer keeps trying.
		if s.deps.Logger != nil {
			s.deps.Logger.Warn("initial poi fetch failed", "error", err.Error())
		}
	}

	s.wirePlayback(ctx)

	if s.config.PreloadOnStart && s.deps.Preloader != nil {
		s.runPreload(ctx)
	}

	fixes, sigErrs, err := s.deps.Source.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer s.deps.Source.Unsubscribe()

	syncTicker := time.NewTicker(s.config.SyncInterval)
	defer syncTicker.Stop()

	var poiTicker *time.Ticker
	var poiTick <-chan time.Time
	if s.config.PoiRefreshInterval > 0 {
		poiTicker = time.NewTicker(s.config.PoiRefreshInterval)
		poiTick = poiTicker.C
		defer poiTicker.Stop()
	}

	if s.deps.Logger != nil {
		s.deps.Logger.Info("tour session started",
			"language", s.config.Language,
			"poi_count", len(s.currentPois()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()

		case fix, ok := <-fixes:
			if !ok {
				s.shutdown()
				return nil
			}
			s.handleFix(fix)

		case sigErr := <-sigErrs:
			s.handleSignalError(sigErr)

		case result := <-s.deps.Geofence.Results():
			s.handleResult(ctx, result)

		case <-syncTicker.C:
			s.runSync(ctx)

		case <-poiTick:
			if err := s.refreshPois(ctx); err != nil && s.deps.Logger != nil {
				s.deps.Logger.Warn("poi refresh failed", "error", err.Error())
			}
		}
	}
}

// NotifyOnline triggers a sync after connectivity returns.
func (s *Session) NotifyOnline(ctx context.Context) {
	s.runSync(ctx)
}

// Unlock forwards the one-time user-gesture autoplay unlock.
func (s *Session) Unlock(ctx context.Context) error {
	return s.deps.Playback.Unlock(ctx)
}

// handleFix runs the synchronous half of the pipeline: smoothing and
// motion classification, then the async geofence dispatch.
func (s *Session) handleFix(fix pkg.PositionSample) {
	rejected := s.config.AccuracyThresholdM > 0 && fix.AccuracyM > s.config.AccuracyThresholdM
	smoothed := s.deps.Smoother.AddSample(fix)

	if s.deps.Metrics != nil {
		if rejected {
			s.deps.Metrics.RecordFix("accuracy_rejected")
		} else {
			s.deps.Metrics.RecordFix("accepted")
		}
	}
	if rejected {
		return
	}

	speed, hasSpeed := s.deps.Motion.AddReading(smoothed, fix.Timestamp)
	state := s.deps.Motion.State()
	if s.deps.Metrics != nil && hasSpeed {
		s.deps.Metrics.SetSpeed(speed)
		s.deps.Metrics.SetMotionState(state)
	}
	if s.deps.Telemetry != nil {
		s.deps.Telemetry.AddSample(telem.Sample{
			Timestamp:   fix.Timestamp,
			Position:    smoothed,
			SpeedMps:    speed,
			MotionState: state,
			AccuracyM:   fix.AccuracyM,
		})
	}

	// Vehicle-speed travel suspends auto-triggering; narrations resume
	// when the user slows back down.
	if !s.deps.Motion.ShouldContinueTour() {
		return
	}

	s.deps.Geofence.Evaluate(smoothed, s.currentPois())
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordEvaluation()
	}
}

// handleResult diffs the geofence answer into Enter/Exit events, starts
// the top triggered narration, and feeds the approach predictor.
func (s *Session) handleResult(ctx context.Context, result geofence.Result) {
	events := s.tracker.Update(result)

	for _, event := range events {
		s.deps.Feed.PublishGeofence(event)
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordGeofenceEvent(string(event.Kind))
		}
		if s.deps.Telemetry != nil {
			s.deps.Telemetry.AddEvent(telem.Event{
				Timestamp: event.Timestamp,
				Level:     "info",
				Type:      "geofence_" + string(event.Kind),
				PoiID:     event.PoiID,
				Message:   "geofence transition",
				Data:      map[string]interface{}{"distance_m": event.DistanceM},
			})
		}
	}

	entered := make(map[string]bool)
	for _, event := range events {
		if event.Kind == pkg.GeofenceEnter {
			entered[event.PoiID] = true
		}
	}

	// Triggered is already priority-desc, distance-asc; the first entered
	// candidate is the one to narrate.
	for _, candidate := range result.Triggered {
		if !entered[candidate.POI.ID] {
			continue
		}
		s.enqueueNarration(candidate.POI)
		if s.deps.Predictor != nil {
			s.deps.Predictor.Forget(candidate.POI.ID)
		}
		break
	}

	s.feedPredictor(ctx, result)
}

// enqueueNarration builds the queue item for a POI and submits it.
func (s *Session) enqueueNarration(poi pkg.POI) {
	url, ok := poi.AudioURL(s.config.Language)
	if !ok {
		if s.deps.Logger != nil {
			s.deps.Logger.Warn("triggered poi has no usable audio",
				"poi_id", poi.ID,
				"language", s.config.Language,
			)
		}
		return
	}
	s.deps.Playback.Enqueue(pkg.AudioQueueItem{
		POI:         poi,
		AudioURL:    url,
		Title:       poi.Name,
		Description: poi.Description,
		Language:    s.config.Language,
	})
}

// feedPredictor observes approach distances for nearby-but-untriggered
// POIs and pre-warms audio for predicted crossings.
func (s *Session) feedPredictor(ctx context.Context, result geofence.Result) {
	if s.deps.Predictor == nil {
		return
	}

	triggered := make(map[string]bool, len(result.Triggered))
	for _, c := range result.Triggered {
		triggered[c.POI.ID] = true
	}

	for _, candidate := range result.Nearby {
		if triggered[candidate.POI.ID] {
			continue
		}
		s.deps.Predictor.Observe(candidate.POI.ID, result.Timestamp, candidate.DistanceM)

		radius := candidate.POI.RadiusM
		if radius <= 0 {
			radius = geofence.DefaultConfig().TriggerRadiusM
		}
		if !s.deps.Predictor.Approaching(candidate.POI.ID, radius, result.Timestamp) {
			continue
		}
		s.prewarm(ctx, candidate.POI)
	}
}

// prewarm pulls one POI's audio into the cache ahead of its geofence.
func (s *Session) prewarm(ctx context.Context, poi pkg.POI) {
	if s.deps.Preloader == nil {
		return
	}
	s.mu.Lock()
	if s.prewarmed[poi.ID] {
		s.mu.Unlock()
		return
	}
	s.prewarmed[poi.ID] = true
	s.mu.Unlock()

	if s.deps.Logger != nil {
		s.deps.Logger.Debug("pre-warming approaching poi", "poi_id", poi.ID)
	}
	go s.deps.Preloader.Preload(ctx, []pkg.POI{poi}, preload.Options{
		Language:   s.config.Language,
		PreloadAll: true,
	})
}

// handleSignalError surfaces a position source failure without halting
// the pipeline.
func (s *Session) handleSignalError(sigErr pkg.SignalError) {
	if s.deps.Logger != nil {
		s.deps.Logger.Warn("position source error",
			"kind", string(sigErr.Kind),
			"message", sigErr.Message,
		)
	}
	if s.deps.Telemetry != nil {
		s.deps.Telemetry.AddEvent(telem.Event{
			Timestamp: time.Now(),
			Level:     "warn",
			Type:      "signal_error",
			Message:   sigErr.Error(),
		})
	}
}

// wirePlayback registers the listeners that turn controller transitions
// into cooldown marks, analytics records and feed events.
func (s *Session) wirePlayback(ctx context.Context) {
	s.deps.Playback.OnStateChange(func(state pkg.PlaybackState, item *pkg.AudioQueueItem) {
		if state == pkg.PlaybackLoading && item != nil {
			// Narration is starting: the cooldown clock resets now, and
			// the play is recorded for analytics (queued while offline).
			s.deps.Cooldowns.MarkPlayed(item.POI.ID, time.Now())
			s.deps.Queue.Enqueue(map[string]interface{}{
				"action":   "poi_played",
				"poi_id":   item.POI.ID,
				"language": item.Language,
			})
		}
		s.deps.Feed.PublishPlayback(state, item)
		if s.deps.Metrics != nil {
			// The listener runs inside the controller; queue depth gauges
			// are refreshed on the sync tick instead.
			s.deps.Metrics.RecordPlaybackState(string(state))
		}
		if s.deps.Telemetry != nil {
			event := telem.Event{
				Timestamp: time.Now(),
				Level:     "info",
				Type:      "playback_" + string(state),
				Message:   "playback transition",
			}
			if item != nil {
				event.PoiID = item.POI.ID
			}
			s.deps.Telemetry.AddEvent(event)
		}
	})

	s.deps.Playback.OnError(func(message string, item pkg.AudioQueueItem) {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordTTSFallback()
		}
		s.deps.Queue.Enqueue(map[string]interface{}{
			"action": "playback_error",
			"poi_id": item.POI.ID,
			"error":  message,
		})
		if s.deps.Telemetry != nil {
			s.deps.Telemetry.AddEvent(telem.Event{
				Timestamp: time.Now(),
				Level:     "error",
				Type:      "media_error",
				PoiID:     item.POI.ID,
				Message:   message,
			})
		}
	})

	s.deps.Queue.OnStateChange(func(state pkg.SyncState) {
		s.deps.Feed.PublishSync(state)
		if s.deps.Metrics != nil && (state == pkg.SyncSuccess || state == pkg.SyncError) {
			s.deps.Metrics.RecordSyncAttempt(string(state))
		}
	})
}

// runPreload kicks the initial asset preload when the policy calls for it.
func (s *Session) runPreload(ctx context.Context) {
	pois := s.currentPois()
	if len(pois) == 0 || !s.deps.Preloader.ShouldPreload(pois, time.Now()) {
		return
	}

	opts := preload.Options{
		Language:   s.config.Language,
		PreloadAll: s.config.PreloadAll,
		OnProgress: func(progress pkg.PreloadProgress) {
			s.deps.Feed.PublishPreload(progress)
		},
	}
	if !s.config.PreloadAll {
		if last, ok := s.deps.Smoother.Last(); ok {
			opts.CurrentPosition = &last
		} else {
			// No position yet: preload everything rather than nothing.
			opts.PreloadAll = true
		}
	}

	go func() {
		result := s.deps.Preloader.Preload(ctx, pois, opts)
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordPreload("success", result.SuccessCount)
			s.deps.Metrics.RecordPreload("failed", result.FailedCount)
			s.deps.Metrics.RecordPreload("already_cached", result.AlreadyCachedCount)
		}
		s.deps.Preloader.PreloadImages(ctx, pois, preload.Options{
			PreloadAll:      opts.PreloadAll,
			CurrentPosition: opts.CurrentPosition,
		})
	}()
}

func (s *Session) runSync(ctx context.Context) {
	if err := s.deps.Queue.SyncNow(ctx); err != nil && s.deps.Logger != nil {
		s.deps.Logger.Debug("periodic sync failed", "error", err.Error())
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SetQueueDepths(s.deps.Queue.Len(), s.deps.Playback.QueueLength())
		if s.deps.Telemetry != nil {
			stats := s.deps.Telemetry.GetStats()
			samples, _ := stats["total_samples"].(int)
			events, _ := stats["total_events"].(int)
			s.deps.Metrics.SetTelemetrySizes(samples, events)
		}
	}
}

func (s *Session) refreshPois(ctx context.Context) error {
	pois, err := s.deps.Provider.Fetch(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.pois = pois
	s.mu.Unlock()
	return nil
}

func (s *Session) currentPois() []pkg.POI {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pois
}

func (s *Session) shutdown() {
	s.deps.Playback.Stop()
	// Best-effort final drain; failures leave the queue persisted.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Queue.SyncNow(ctx); err != nil && s.deps.Logger != nil {
		s.deps.Logger.Debug("final sync failed", "error", err.Error())
	}
	if s.deps.Logger != nil {
		s.deps.Logger.Info("tour session stopped")
	}
}
