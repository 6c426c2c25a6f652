// Package predict estimates when the user will cross a POI's trigger
// radius, so narration assets can be warmed before the geofence fires.
package predict

import (
	"sync"
	"time"

	"github.com/sajari/regression"

	"github.com/waytour/waytour/pkg/logx"
)

// Config controls the predictor
type Config struct {
	Horizon    time.Duration `json:"horizon"`     // Look-ahead for pre-warming
	Window     int           `json:"window"`      // Samples kept per POI
	MinSamples int           `json:"min_samples"` // Required before a fit is attempted
}

// DefaultConfig returns default predictor configuration
func DefaultConfig() Config {
	return Config{
		Horizon:    2 * time.Minute,
		Window:     10,
		MinSamples: 3,
	}
}

type sample struct {
	at        time.Time
	distanceM float64
}

// Predictor fits a linear trend over each POI's recent (time, distance)
// samples. A negative slope means the user is closing in.
type Predictor struct {
	mu      sync.Mutex
	config  Config
	logger  *logx.Logger
	samples map[string][]sample
}

// New creates a predictor.
func New(config Config, logger *logx.Logger) *Predictor {
	if config.Horizon <= 0 {
		config.Horizon = 2 * time.Minute
	}
	if config.Window < 2 {
		config.Window = 10
	}
	if config.MinSamples < 2 {
		config.MinSamples = 3
	}
	return &Predictor{
		config:  config,
		logger:  logger,
		samples: make(map[string][]sample),
	}
}

// Observe records one distance sample for a POI.
func (p *Predictor) Observe(poiID string, at time.Time, distanceM float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	history := append(p.samples[poiID], sample{at: at, distanceM: distanceM})
	if len(history) > p.config.Window {
		history = history[len(history)-p.config.Window:]
	}
	p.samples[poiID] = history
}

// Forget drops a POI's history, typically after its geofence fired.
func (p *Predictor) Forget(poiID string) {
	p.mu.Lock()
	delete(p.samples, poiID)
	p.mu.Unlock()
}

// ETA fits the trend and returns the time until the user crosses radiusM.
// The second return is false when there is no usable approach: too few
// samples, a flat or receding trend, or a crossing beyond the horizon.
func (p *Predictor) ETA(poiID string, radiusM float64, now time.Time) (time.Duration, bool) {
	p.mu.Lock()
	history := p.samples[poiID]
	p.mu.Unlock()

	if len(history) < p.config.MinSamples {
		return 0, false
	}

	origin := history[0].at
	r := new(regression.Regression)
	r.SetObserved("distance_m")
	r.SetVar(0, "elapsed_s")
	for _, s := range history {
		r.Train(regression.DataPoint(s.distanceM, []float64{s.at.Sub(origin).Seconds()}))
	}
	if err := r.Run(); err != nil {
		if p.logger != nil {
			p.logger.Debug("approach fit failed", "poi_id", poiID, "error", err.Error())
		}
		return 0, false
	}

	intercept := r.Coeff(0)
	slope := r.Coeff(1) // meters per second, negative when approaching
	if slope >= -0.05 {
		return 0, false
	}

	// Solve intercept + slope*t = radius for the crossing time.
	crossingS := (radiusM - intercept) / slope
	eta := origin.Add(time.Duration(crossingS * float64(time.Second))).Sub(now)
	if eta <= 0 || eta > p.config.Horizon {
		return 0, false
	}
	return eta, true
}

// Approaching reports whether the POI's trigger radius will be crossed
// within the horizon.
func (p *Predictor) Approaching(poiID string, radiusM float64, now time.Time) bool {
	_, ok := p.ETA(poiID, radiusM, now)
	return ok
}
