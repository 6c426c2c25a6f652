// Package health provides the local status API for waytourd.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/waytour/waytour/pkg/logx"
	"github.com/waytour/waytour/pkg/playback"
	"github.com/waytour/waytour/pkg/preload"
	"github.com/waytour/waytour/pkg/syncq"
	"github.com/waytour/waytour/pkg/telem"
)

// Sources supplies the live state surfaced by the API. Nil fields are
// reported as absent rather than failing the endpoint.
type Sources struct {
	Telemetry *telem.Store
	Preloader *preload.Preloader
	Queue     *syncq.Queue
	Playback  *playback.Controller
}

// Server provides status endpoints for waytourd
type Server struct {
	sources   Sources
	logger    *logx.Logger
	server    *http.Server
	version   string
	startTime time.Time
}

// Status is the /status response body.
type Status struct {
	Status        string                 `json:"status"`
	Timestamp     time.Time              `json:"timestamp"`
	UptimeSeconds float64                `json:"uptime_seconds"`
	Version       string                 `json:"version"`
	Playback      *PlaybackStatus        `json:"playback,omitempty"`
	QueueDepth    int                    `json:"analytics_queue_depth"`
	LastSync      *time.Time             `json:"last_sync,omitempty"`
	Telemetry     map[string]interface{} `json:"telemetry,omitempty"`
	Memory        MemoryInfo             `json:"memory"`
}

// PlaybackStatus summarizes the playback controller.
type PlaybackStatus struct {
	State       string `json:"state"`
	CurrentPoi  string `json:"current_poi,omitempty"`
	QueueLength int    `json:"queue_length"`
	Unlocked    bool   `json:"unlocked"`
}

// MemoryInfo represents memory usage information
type MemoryInfo struct {
	Alloc     uint64 `json:"alloc_bytes"`
	Sys       uint64 `json:"sys_bytes"`
	HeapInuse uint64 `json:"heap_inuse_bytes"`
	NumGC     uint32 `json:"num_gc"`
}

// NewServer creates a new status server
func NewServer(sources Sources, version string, logger *logx.Logger) *Server {
	return &Server{
		sources:   sources,
		logger:    logger,
		version:   version,
		startTime: time.Now(),
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	r.HandleFunc("/events", s.eventsHandler).Methods(http.MethodGet)
	r.HandleFunc("/preload", s.preloadHandler).Methods(http.MethodGet)
	r.HandleFunc("/queue", s.queueHandler).Methods(http.MethodGet)
	return r
}

// Start starts the status server
func (s *Server) Start(port int) error {
	if s.logger != nil {
		s.logger.Info("starting status server", "port", port)
	}

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("status server error", "error", err.Error())
			}
		}
	}()
	return nil
}

// Stop stops the status server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status := Status{
		Status:        "ok",
		Timestamp:     time.Now(),
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Version:       s.version,
		Memory: MemoryInfo{
			Alloc:     m.Alloc,
			Sys:       m.Sys,
			HeapInuse: m.HeapInuse,
			NumGC:     m.NumGC,
		},
	}

	if s.sources.Playback != nil {
		ps := PlaybackStatus{
			State:       string(s.sources.Playback.State()),
			QueueLength: s.sources.Playback.QueueLength(),
			Unlocked:    s.sources.Playback.Unlocked(),
		}
		if item, ok := s.sources.Playback.Current(); ok {
			ps.CurrentPoi = item.POI.ID
		}
		status.Playback = &ps
	}
	if s.sources.Queue != nil {
		status.QueueDepth = s.sources.Queue.Len()
		if ts, ok := s.sources.Queue.LastSync(); ok {
			status.LastSync = &ts
		}
	}
	if s.sources.Telemetry != nil {
		status.Telemetry = s.sources.Telemetry.GetStats()
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.sources.Telemetry == nil {
		writeJSON(w, http.StatusOK, []telem.Event{})
		return
	}
	limit := queryInt(r, "limit", 100)
	writeJSON(w, http.StatusOK, s.sources.Telemetry.GetEvents(limit))
}

func (s *Server) preloadHandler(w http.ResponseWriter, r *http.Request) {
	if s.sources.Preloader == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, s.sources.Preloader.Status())
}

func (s *Server) queueHandler(w http.ResponseWriter, r *http.Request) {
	if s.sources.Queue == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"depth":   s.sources.Queue.Len(),
		"pending": s.sources.Queue.Pending(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
