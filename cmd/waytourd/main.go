package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/waytour/waytour/pkg/config"
	"github.com/waytour/waytour/pkg/cooldown"
	"github.com/waytour/waytour/pkg/geofence"
	"github.com/waytour/waytour/pkg/health"
	"github.com/waytour/waytour/pkg/logx"
	"github.com/waytour/waytour/pkg/metrics"
	"github.com/waytour/waytour/pkg/motion"
	"github.com/waytour/waytour/pkg/mqtt"
	"github.com/waytour/waytour/pkg/playback"
	"github.com/waytour/waytour/pkg/poi"
	"github.com/waytour/waytour/pkg/position"
	"github.com/waytour/waytour/pkg/predict"
	"github.com/waytour/waytour/pkg/preload"
	"github.com/waytour/waytour/pkg/retry"
	"github.com/waytour/waytour/pkg/smoother"
	"github.com/waytour/waytour/pkg/store"
	"github.com/waytour/waytour/pkg/syncq"
	"github.com/waytour/waytour/pkg/telem"
	"github.com/waytour/waytour/pkg/tour"
)

const (
	version = "1.0.0-dev"
	appName = "waytourd"
)

func main() {
	// Command line flags
	var (
		configFile  = flag.String("config", "/etc/waytour/config.json", "Config file path")
		logLevel    = flag.String("log-level", "", "Log level (debug|info|warn|error), overrides config")
		fixLog      = flag.String("fix-log", "", "Replay a recorded JSON fix log instead of live GPS")
		speedup     = flag.Float64("speedup", 1.0, "Replay speed multiplier for -fix-log")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := logx.New(cfg.LogLevel)
	logger.Info("starting waytour daemon",
		"version", version,
		"config", *configFile,
		"log_level", cfg.LogLevel,
		"language", cfg.Language,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persisted local state; sqlite failure degrades to memory.
	kv := store.Open(filepath.Join(cfg.DataDir, "state.db"), logger)
	defer kv.Close()

	cooldowns := cooldown.New(kv, cfg.CooldownPeriod(), logger)

	smooth := smoother.New(smoother.Config{
		Window:             cfg.SmootherWindow,
		MaxAge:             cfg.SmootherMaxAge(),
		AccuracyThresholdM: cfg.AccuracyThresholdM,
		Weighted:           cfg.WeightedSmoothing,
	}, logger)

	classifier := motion.New(motion.Config{
		MinTimeDelta:    time.Duration(cfg.MinTimeDeltaMS) * time.Millisecond,
		MaxPlausibleMps: cfg.MaxPlausibleMps,
		Window:          cfg.SpeedWindow,
	}, logger)

	engine := geofence.New(ctx, geofence.Config{
		TriggerRadiusM:   cfg.TriggerRadiusM,
		NearbyMultiplier: cfg.NearbyRadiusMultiplier,
	}, cooldowns, logger)

	// The headless daemon simulates playback; a device frontend would
	// supply the real sink and speaker.
	sink := playback.NewSimSink(30 * time.Second)
	controller := playback.New(ctx, sink, nil, playback.Config{
		AutoplayEnabled: cfg.AutoplayEnabled,
	}, logger)
	// Headless operation has no user gesture to wait for.
	if err := controller.Unlock(ctx); err != nil {
		logger.Warn("autoplay unlock failed", "error", err.Error())
	}

	assets, err := preload.NewFileStore(filepath.Join(cfg.DataDir, "assets"))
	var assetStore preload.AssetStore = assets
	if err != nil {
		logger.Warn("asset cache dir unavailable, caching in memory", "error", err.Error())
		assetStore = preload.NewMemoryStore()
	}
	fetcher := preload.NewHTTPFetcher(
		time.Duration(cfg.PreloadWorkerTimeoutS)*time.Second,
		retry.DefaultConfig(),
	)
	preloader := preload.New(preload.Config{
		RadiusM:       cfg.PreloadRadiusM,
		WorkerTimeout: time.Duration(cfg.PreloadWorkerTimeoutS) * time.Second,
	}, assetStore, fetcher, kv, logger)

	mqttClient := mqtt.NewClient(&mqtt.Config{
		Broker:      cfg.MQTTBroker,
		Port:        cfg.MQTTPort,
		ClientID:    cfg.MQTTClientID,
		TopicPrefix: cfg.MQTTTopic,
		QoS:         1,
		Enabled:     cfg.MQTTEnabled,
	}, logger)
	if err := mqttClient.Connect(); err != nil {
		logger.Warn("mqtt connect failed, events stay local", "error", err.Error())
	}
	defer mqttClient.Disconnect()

	queue := syncq.New(syncq.Config{Throttle: cfg.SyncThrottle()}, kv, mqttClient, logger)

	directory := poi.NewClient(poi.Config{
		DirectoryURL: cfg.PoiDirectoryURL,
		Timeout:      15 * time.Second,
		CacheTTL:     5 * time.Minute,
	}, logger)

	predictor := predict.New(predict.Config{
		Horizon: time.Duration(cfg.PredictHorizonS) * time.Second,
	}, logger)

	telemetry := telem.NewStore(telem.Config{})

	var metricsServer *metrics.Server
	if cfg.MetricsListener {
		metricsServer = metrics.NewServer(logger)
		if err := metricsServer.Start(cfg.MetricsPort); err != nil {
			logger.Warn("metrics server failed to start", "error", err.Error())
		}
		defer metricsServer.Stop()
	}

	if cfg.HealthListener {
		statusServer := health.NewServer(health.Sources{
			Telemetry: telemetry,
			Preloader: preloader,
			Queue:     queue,
			Playback:  controller,
		}, version, logger)
		if err := statusServer.Start(cfg.HealthPort); err != nil {
			logger.Warn("status server failed to start", "error", err.Error())
		}
		defer statusServer.Stop()
	}

	var source position.Source
	if *fixLog != "" {
		source = position.NewReplaySource(*fixLog, *speedup)
		logger.Info("replaying fix log", "path", *fixLog, "speedup", *speedup)
	} else {
		logger.Error("no position source configured; pass -fix-log to replay a recording")
		os.Exit(1)
	}

	session := tour.NewSession(tour.Config{
		Language:           cfg.Language,
		AccuracyThresholdM: cfg.AccuracyThresholdM,
		SyncInterval:       time.Duration(cfg.SyncIntervalS) * time.Second,
		PoiRefreshInterval: 10 * time.Minute,
		PreloadOnStart:     true,
		PreloadAll:         cfg.PreloadAll,
	}, tour.Deps{
		Source:    source,
		Smoother:  smooth,
		Motion:    classifier,
		Cooldowns: cooldowns,
		Geofence:  engine,
		Playback:  controller,
		Queue:     queue,
		Provider:  directory,
		Preloader: preloader,
		Predictor: predictor,
		Telemetry: telemetry,
		Metrics:   metricsServer,
		Feed:      mqttClient,
		Logger:    logger,
	})

	// Signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	logger.Info("waytour daemon started")
	if err := session.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("session ended with error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("waytour daemon stopped")
}
