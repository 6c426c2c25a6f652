// Package config loads and validates the waytour daemon configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Default configuration values
const (
	DefaultLogLevel               = "info"
	DefaultLanguage               = "en"
	DefaultDataDir                = "/var/lib/waytour"
	DefaultTriggerRadiusM         = 25.0
	DefaultNearbyRadiusMultiplier = 2.0
	DefaultCooldownMinutes        = 30
	DefaultSmootherWindow         = 5
	DefaultSmootherMaxAgeS        = 30
	DefaultAccuracyThresholdM     = 50.0
	DefaultMinTimeDeltaMS         = 1000
	DefaultMaxPlausibleMps        = 50.0
	DefaultSpeedWindow            = 3
	DefaultPreloadRadiusM         = 500.0
	DefaultPreloadWorkerTimeoutS  = 30
	DefaultSyncThrottleMS         = 5000
	DefaultSyncIntervalS          = 60
	DefaultPredictHorizonS        = 120
	DefaultMetricsPort            = 9101
	DefaultHealthPort             = 8088
)

// Config represents the waytour daemon configuration
type Config struct {
	LogLevel string `json:"log_level"`
	Language string `json:"language"`
	DataDir  string `json:"data_dir"`

	// Geofencing
	TriggerRadiusM         float64 `json:"trigger_radius_m"`
	NearbyRadiusMultiplier float64 `json:"nearby_radius_multiplier"`
	CooldownMinutes        int     `json:"cooldown_minutes"`

	// Position smoothing
	SmootherWindow     int     `json:"smoother_window"`
	SmootherMaxAgeS    int     `json:"smoother_max_age_s"`
	AccuracyThresholdM float64 `json:"accuracy_threshold_m"`
	WeightedSmoothing  bool    `json:"weighted_smoothing"`

	// Motion classification
	MinTimeDeltaMS  int     `json:"min_time_delta_ms"`
	MaxPlausibleMps float64 `json:"max_plausible_mps"`
	SpeedWindow     int     `json:"speed_window"`

	// Playback
	AutoplayEnabled bool `json:"autoplay_enabled"`

	// Asset preloading
	PreloadRadiusM        float64 `json:"preload_radius_m"`
	PreloadAll            bool    `json:"preload_all"`
	PreloadWorkerTimeoutS int     `json:"preload_worker_timeout_s"`

	// Analytics sync
	SyncThrottleMS int `json:"sync_throttle_ms"`
	SyncIntervalS  int `json:"sync_interval_s"`

	// Approach prediction
	PredictHorizonS int `json:"predict_horizon_s"`

	// POI directory
	PoiDirectoryURL string `json:"poi_directory_url"`

	// Event/analytics publish
	MQTTBroker   string `json:"mqtt_broker"`
	MQTTPort     int    `json:"mqtt_port"`
	MQTTClientID string `json:"mqtt_client_id"`
	MQTTTopic    string `json:"mqtt_topic"`
	MQTTEnabled  bool   `json:"mqtt_enabled"`

	// Listeners
	MetricsListener bool `json:"metrics_listener"`
	MetricsPort     int  `json:"metrics_port"`
	HealthListener  bool `json:"health_listener"`
	HealthPort      int  `json:"health_port"`
}

// Default returns a configuration populated with default values
func Default() *Config {
	return &Config{
		LogLevel:               DefaultLogLevel,
		Language:               DefaultLanguage,
		DataDir:                DefaultDataDir,
		TriggerRadiusM:         DefaultTriggerRadiusM,
		NearbyRadiusMultiplier: DefaultNearbyRadiusMultiplier,
		CooldownMinutes:        DefaultCooldownMinutes,
		SmootherWindow:         DefaultSmootherWindow,
		SmootherMaxAgeS:        DefaultSmootherMaxAgeS,
		AccuracyThresholdM:     DefaultAccuracyThresholdM,
		MinTimeDeltaMS:         DefaultMinTimeDeltaMS,
		MaxPlausibleMps:        DefaultMaxPlausibleMps,
		SpeedWindow:            DefaultSpeedWindow,
		AutoplayEnabled:        true,
		PreloadRadiusM:         DefaultPreloadRadiusM,
		PreloadWorkerTimeoutS:  DefaultPreloadWorkerTimeoutS,
		SyncThrottleMS:         DefaultSyncThrottleMS,
		SyncIntervalS:          DefaultSyncIntervalS,
		PredictHorizonS:        DefaultPredictHorizonS,
		MQTTPort:               1883,
		MQTTClientID:           "waytourd",
		MQTTTopic:              "waytour",
		MetricsListener:        true,
		MetricsPort:            DefaultMetricsPort,
		HealthListener:         true,
		HealthPort:             DefaultHealthPort,
	}
}

// Load reads a JSON config file and applies defaults for absent fields.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for out-of-range values
func (c *Config) Validate() error {
	if c.TriggerRadiusM <= 0 {
		return fmt.Errorf("trigger_radius_m must be positive, got %f", c.TriggerRadiusM)
	}
	if c.NearbyRadiusMultiplier < 1 {
		return fmt.Errorf("nearby_radius_multiplier must be >= 1, got %f", c.NearbyRadiusMultiplier)
	}
	if c.CooldownMinutes < 0 {
		return fmt.Errorf("cooldown_minutes must not be negative, got %d", c.CooldownMinutes)
	}
	if c.SmootherWindow <= 0 {
		return fmt.Errorf("smoother_window must be positive, got %d", c.SmootherWindow)
	}
	if c.SpeedWindow <= 0 {
		return fmt.Errorf("speed_window must be positive, got %d", c.SpeedWindow)
	}
	if c.MaxPlausibleMps <= 0 {
		return fmt.Errorf("max_plausible_mps must be positive, got %f", c.MaxPlausibleMps)
	}
	if c.SyncThrottleMS < 0 {
		return fmt.Errorf("sync_throttle_ms must not be negative, got %d", c.SyncThrottleMS)
	}
	return nil
}

// CooldownPeriod returns the cooldown as a duration.
func (c *Config) CooldownPeriod() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

// SmootherMaxAge returns the sample max age as a duration.
func (c *Config) SmootherMaxAge() time.Duration {
	return time.Duration(c.SmootherMaxAgeS) * time.Second
}

// SyncThrottle returns the sync throttle as a duration.
func (c *Config) SyncThrottle() time.Duration {
	return time.Duration(c.SyncThrottleMS) * time.Millisecond
}
