// Package smoother filters raw GPS fixes into a stable coordinate using a
// bounded, accuracy-gated sample window.
package smoother

import (
	"sync"
	"time"

	"github.com/waytour/waytour/pkg"
	"github.com/waytour/waytour/pkg/logx"
)

// Config controls smoothing behavior
type Config struct {
	Window             int           `json:"window"`               // Number of samples to average
	MaxAge             time.Duration `json:"max_age"`              // Samples older than this are evicted
	AccuracyThresholdM float64       `json:"accuracy_threshold_m"` // Samples worse than this are rejected
	Weighted           bool          `json:"weighted"`             // Favor recent samples linearly
}

// DefaultConfig returns default smoothing configuration
func DefaultConfig() Config {
	return Config{
		Window:             5,
		MaxAge:             30 * time.Second,
		AccuracyThresholdM: 50.0,
		Weighted:           false,
	}
}

// Smoother maintains the accepted-sample window and the last smoothed value.
type Smoother struct {
	mu      sync.Mutex
	config  Config
	logger  *logx.Logger
	samples []pkg.PositionSample
	last    *pkg.SmoothedPosition
}

// New creates a new position smoother
func New(config Config, logger *logx.Logger) *Smoother {
	if config.Window <= 0 {
		config.Window = 5
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 30 * time.Second
	}
	if config.AccuracyThresholdM <= 0 {
		config.AccuracyThresholdM = 50.0
	}
	return &Smoother{
		config:  config,
		logger:  logger,
		samples: make([]pkg.PositionSample, 0, config.Window),
	}
}

// AddSample feeds one raw fix and returns the best-effort smoothed coordinate.
// Samples whose reported accuracy exceeds the threshold are rejected: the
// previous smoothed value is returned whenever any sample has ever been
// accepted, and the raw coordinate only before the first acceptance. It never
// fails; once one sample has been accepted a coordinate is always available.
func (s *Smoother) AddSample(sample pkg.PositionSample) pkg.SmoothedPosition {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sample.AccuracyM > s.config.AccuracyThresholdM {
		if s.last != nil {
			if s.logger != nil {
				s.logger.Debug("sample_rejected_accuracy",
					"accuracy_m", sample.AccuracyM,
					"threshold_m", s.config.AccuracyThresholdM,
				)
			}
			return *s.last
		}
		// No history yet: pass the raw fix through unsmoothed.
		return pkg.SmoothedPosition{Lat: sample.Lat, Lng: sample.Lng}
	}

	s.samples = append(s.samples, sample)
	s.evictLocked(sample.Timestamp)
	if len(s.samples) > s.config.Window {
		s.samples = s.samples[len(s.samples)-s.config.Window:]
	}

	smoothed := s.averageLocked()
	s.last = &smoothed
	return smoothed
}

// Last returns the most recent smoothed position, or false before the first
// accepted sample.
func (s *Smoother) Last() (pkg.SmoothedPosition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return pkg.SmoothedPosition{}, false
	}
	return *s.last, true
}

// Reset clears the window and the remembered smoothed value.
func (s *Smoother) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = s.samples[:0]
	s.last = nil
}

// evictLocked drops samples older than MaxAge relative to the newest fix.
func (s *Smoother) evictLocked(newest time.Time) {
	cutoff := newest.Add(-s.config.MaxAge)
	keep := 0
	for i, sample := range s.samples {
		if sample.Timestamp.After(cutoff) || sample.Timestamp.Equal(cutoff) {
			keep = i
			break
		}
		keep = i + 1
	}
	if keep > 0 {
		s.samples = s.samples[keep:]
	}
}

// averageLocked computes the window mean, linearly weighted toward recent
// samples when configured.
func (s *Smoother) averageLocked() pkg.SmoothedPosition {
	var latSum, lngSum, weightSum float64
	for i, sample := range s.samples {
		w := 1.0
		if s.config.Weighted {
			w = float64(i + 1) // oldest=1 .. newest=len
		}
		latSum += sample.Lat * w
		lngSum += sample.Lng * w
		weightSum += w
	}
	return pkg.SmoothedPosition{
		Lat: latSum / weightSum,
		Lng: lngSum / weightSum,
	}
}
