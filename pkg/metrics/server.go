// Package metrics exposes Prometheus metrics for the waytour daemon.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/waytour/waytour/pkg/logx"
)

var motionStates = []string{"stationary", "walking", "jogging", "running", "vehicle"}

// Server provides Prometheus metrics for waytourd
type Server struct {
	logger    *logx.Logger
	server    *http.Server
	registry  *prometheus.Registry
	startTime time.Time

	fixes            *prometheus.CounterVec
	speed            prometheus.Gauge
	motionState      *prometheus.GaugeVec
	geofenceEvals    prometheus.Counter
	geofenceEvents   *prometheus.CounterVec
	playbackChanges  *prometheus.CounterVec
	ttsFallbacks     prometheus.Counter
	preloadAssets    *prometheus.CounterVec
	syncAttempts     *prometheus.CounterVec
	analyticsQueue   prometheus.Gauge
	narrationQueue   prometheus.Gauge
	telemetrySamples prometheus.Gauge
	telemetryEvents  prometheus.Gauge
}

// NewServer creates a new metrics server
func NewServer(logger *logx.Logger) *Server {
	s := &Server{
		logger:    logger,
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}
	s.registerMetrics()
	return s
}

// registerMetrics registers all Prometheus metrics
func (s *Server) registerMetrics() {
	s.fixes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waytour_fixes_total",
			Help: "Position fixes processed, by smoothing/classification outcome",
		},
		[]string{"result"},
	)

	s.speed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "waytour_speed_mps",
			Help: "Current averaged walking speed in meters per second",
		},
	)

	s.motionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "waytour_motion_state",
			Help: "Current motion classification (1=active state, 0=inactive)",
		},
		[]string{"state"},
	)

	s.geofenceEvals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "waytour_geofence_evaluations_total",
			Help: "Total geofence evaluation requests computed",
		},
	)

	s.geofenceEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waytour_geofence_events_total",
			Help: "Total geofence enter/exit transitions",
		},
		[]string{"kind"},
	)

	s.playbackChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waytour_playback_transitions_total",
			Help: "Total playback state transitions",
		},
		[]string{"state"},
	)

	s.ttsFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "waytour_tts_fallbacks_total",
			Help: "Total speech-synthesis fallbacks after media errors",
		},
	)

	s.preloadAssets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waytour_preload_assets_total",
			Help: "Preloaded assets by outcome",
		},
		[]string{"result"},
	)

	s.syncAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waytour_sync_attempts_total",
			Help: "Analytics sync attempts by outcome",
		},
		[]string{"result"},
	)

	s.analyticsQueue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "waytour_analytics_queue_depth",
			Help: "Events waiting in the analytics sync queue",
		},
	)

	s.narrationQueue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "waytour_narration_queue_depth",
			Help: "Narrations waiting behind the current playback",
		},
	)

	s.telemetrySamples = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "waytour_telemetry_samples",
			Help: "Movement samples held in the telemetry store",
		},
	)

	s.telemetryEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "waytour_telemetry_events",
			Help: "Events held in the telemetry store",
		},
	)

	uptime := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "waytour_daemon_uptime_seconds",
			Help: "Daemon uptime in seconds",
		},
		func() float64 { return time.Since(s.startTime).Seconds() },
	)

	s.registry.MustRegister(
		s.fixes,
		s.speed,
		s.motionState,
		s.geofenceEvals,
		s.geofenceEvents,
		s.playbackChanges,
		s.ttsFallbacks,
		s.preloadAssets,
		s.syncAttempts,
		s.analyticsQueue,
		s.narrationQueue,
		s.telemetrySamples,
		s.telemetryEvents,
		uptime,
	)
}

// Start starts the metrics HTTP server
func (s *Server) Start(port int) error {
	if s.logger != nil {
		s.logger.Info("starting metrics server", "port", port)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("metrics server error", "error", err.Error())
			}
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Handler returns the metrics handler for embedding in another server.
func (s *Server) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// RecordFix counts one processed fix by outcome (accepted,
// accuracy_rejected, glitch_rejected).
func (s *Server) RecordFix(result string) {
	s.fixes.WithLabelValues(result).Inc()
}

// SetSpeed updates the current averaged speed.
func (s *Server) SetSpeed(mps float64) {
	s.speed.Set(mps)
}

// SetMotionState marks the active motion classification.
func (s *Server) SetMotionState(state string) {
	for _, known := range motionStates {
		v := 0.0
		if known == state {
			v = 1.0
		}
		s.motionState.WithLabelValues(known).Set(v)
	}
}

// RecordEvaluation counts one geofence evaluation.
func (s *Server) RecordEvaluation() {
	s.geofenceEvals.Inc()
}

// RecordGeofenceEvent counts one enter/exit transition.
func (s *Server) RecordGeofenceEvent(kind string) {
	s.geofenceEvents.WithLabelValues(kind).Inc()
}

// RecordPlaybackState counts one playback transition.
func (s *Server) RecordPlaybackState(state string) {
	s.playbackChanges.WithLabelValues(state).Inc()
}

// RecordTTSFallback counts one speech-synthesis fallback.
func (s *Server) RecordTTSFallback() {
	s.ttsFallbacks.Inc()
}

// RecordPreload adds n assets with the given outcome (success, failed,
// already_cached).
func (s *Server) RecordPreload(result string, n int) {
	s.preloadAssets.WithLabelValues(result).Add(float64(n))
}

// RecordSyncAttempt counts one sync attempt by outcome.
func (s *Server) RecordSyncAttempt(result string) {
	s.syncAttempts.WithLabelValues(result).Inc()
}

// SetQueueDepths updates the analytics and narration queue gauges.
func (s *Server) SetQueueDepths(analytics, narrations int) {
	s.analyticsQueue.Set(float64(analytics))
	s.narrationQueue.Set(float64(narrations))
}

// SetTelemetrySizes updates the telemetry store gauges.
func (s *Server) SetTelemetrySizes(samples, events int) {
	s.telemetrySamples.Set(float64(samples))
	s.telemetryEvents.Set(float64(events))
}
