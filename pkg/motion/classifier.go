// Package motion derives walking speed and a movement-state label from
// successive smoothed positions.
package motion

import (
	"sync"
	"time"

	"github.com/waytour/waytour/pkg"
	"github.com/waytour/waytour/pkg/geo"
	"github.com/waytour/waytour/pkg/logx"
)

// Movement state labels
const (
	StateStationary = "stationary"
	StateWalking    = "walking"
	StateJogging    = "jogging"
	StateRunning    = "running"
	StateVehicle    = "vehicle"
)

// Classification thresholds in m/s
const (
	StationaryMaxMps = 0.5
	WalkingMaxMps    = 2.0
	JoggingMaxMps    = 3.5
	RunningMaxMps    = 5.0
)

// Config controls speed computation
type Config struct {
	MinTimeDelta    time.Duration `json:"min_time_delta"`    // Readings closer than this reuse the previous speed
	MaxPlausibleMps float64       `json:"max_plausible_mps"` // Faster implied speeds are GPS glitches
	Window          int           `json:"window"`            // Speed readings to average
}

// DefaultConfig returns default classifier configuration
func DefaultConfig() Config {
	return Config{
		MinTimeDelta:    time.Second,
		MaxPlausibleMps: 50.0,
		Window:          3,
	}
}

// Classifier keeps the bounded speed window and the last computed average.
type Classifier struct {
	mu       sync.Mutex
	config   Config
	logger   *logx.Logger
	readings []pkg.SpeedReading
	lastPos  *pkg.SmoothedPosition
	lastTime time.Time
	lastAvg  float64
	hasSpeed bool
}

// New creates a new motion classifier
func New(config Config, logger *logx.Logger) *Classifier {
	if config.MinTimeDelta <= 0 {
		config.MinTimeDelta = time.Second
	}
	if config.MaxPlausibleMps <= 0 {
		config.MaxPlausibleMps = 50.0
	}
	if config.Window <= 0 {
		config.Window = 3
	}
	return &Classifier{
		config:   config,
		logger:   logger,
		readings: make([]pkg.SpeedReading, 0, config.Window),
	}
}

// AddReading feeds one smoothed position. It returns the windowed average
// speed in m/s; ok is false until a second usable reading has arrived.
// Readings arriving inside MinTimeDelta, and readings implying a speed above
// MaxPlausibleMps, are not recorded and the previous average is returned.
func (c *Classifier) AddReading(position pkg.SmoothedPosition, ts time.Time) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastPos == nil {
		c.lastPos = &position
		c.lastTime = ts
		return 0, false
	}

	elapsed := ts.Sub(c.lastTime)
	if elapsed < c.config.MinTimeDelta {
		// Not enough wall time for a meaningful delta.
		return c.lastAvg, c.hasSpeed
	}

	distance := geo.HaversineM(c.lastPos.Lat, c.lastPos.Lng, position.Lat, position.Lng)
	speed := distance / elapsed.Seconds()

	if speed > c.config.MaxPlausibleMps {
		if c.logger != nil {
			c.logger.Debug("speed_glitch_rejected",
				"speed_mps", speed,
				"max_plausible_mps", c.config.MaxPlausibleMps,
				"distance_m", distance,
			)
		}
		return c.lastAvg, c.hasSpeed
	}

	c.readings = append(c.readings, pkg.SpeedReading{
		SpeedMps:  speed,
		Timestamp: ts,
		Position:  position,
	})
	if len(c.readings) > c.config.Window {
		c.readings = c.readings[len(c.readings)-c.config.Window:]
	}

	c.lastPos = &position
	c.lastTime = ts

	var sum float64
	for _, r := range c.readings {
		sum += r.SpeedMps
	}
	c.lastAvg = sum / float64(len(c.readings))
	c.hasSpeed = true
	return c.lastAvg, true
}

// Speed returns the current average speed; ok is false with insufficient data.
func (c *Classifier) Speed() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAvg, c.hasSpeed
}

// State classifies the current average speed into a movement label. With
// insufficient data it degrades to stationary.
func (c *Classifier) State() string {
	speed, ok := c.Speed()
	if !ok {
		return StateStationary
	}
	return Classify(speed)
}

// Classify maps a speed in m/s to a movement label. Anything below the
// jogging threshold still counts as walking pace for narration purposes;
// the vehicle threshold is where auto-triggering stops.
func Classify(speedMps float64) string {
	switch {
	case speedMps < StationaryMaxMps:
		return StateStationary
	case speedMps < JoggingMaxMps:
		return StateWalking
	case speedMps < RunningMaxMps:
		return StateJogging
	default:
		return StateVehicle
	}
}

// IsTooFast reports whether the current speed implies vehicle travel.
func (c *Classifier) IsTooFast() bool {
	speed, ok := c.Speed()
	return ok && speed >= RunningMaxMps
}

// ShouldContinueTour reports whether auto-narration should keep triggering.
func (c *Classifier) ShouldContinueTour() bool {
	return !c.IsTooFast()
}

// Reset clears all history.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readings = c.readings[:0]
	c.lastPos = nil
	c.lastAvg = 0
	c.hasSpeed = false
}
