// Package geofence computes which POIs are nearby or triggered for a given
// position, off the caller's goroutine, honoring cooldown and priority.
package geofence

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/waytour/waytour/pkg"
	"github.com/waytour/waytour/pkg/geo"
	"github.com/waytour/waytour/pkg/logx"
)

// CooldownChecker gates triggering on the per-POI cooldown clock.
type CooldownChecker interface {
	CanPlay(poiID string) bool
}

// Config controls the trigger and display radii
type Config struct {
	TriggerRadiusM   float64 `json:"trigger_radius_m"`  // Playback trigger radius
	NearbyMultiplier float64 `json:"nearby_multiplier"` // Display radius = trigger x multiplier
}

// DefaultConfig returns default geofencing configuration
func DefaultConfig() Config {
	return Config{
		TriggerRadiusM:   25.0,
		NearbyMultiplier: 2.0,
	}
}

// Candidate is one POI with its distance from the evaluated position.
type Candidate struct {
	POI       pkg.POI `json:"poi"`
	DistanceM float64 `json:"distance_m"`
}

// Result is the engine's answer to one evaluation request. Seq identifies
// the request; callers must act only on the highest Seq they have seen.
type Result struct {
	Seq       uint64               `json:"seq"`
	Position  pkg.SmoothedPosition `json:"position"`
	Nearby    []Candidate          `json:"nearby"`    // distance ascending
	Triggered []Candidate          `json:"triggered"` // priority desc, distance asc
	Distances map[string]float64   `json:"distances"` // every valid POI id
	Timestamp time.Time            `json:"timestamp"`
}

type request struct {
	seq      uint64
	position pkg.SmoothedPosition
	pois     []pkg.POI
}

// Engine evaluates geofences on a worker goroutine. Requests are
// superseded: when fixes arrive faster than evaluations complete, only the
// most recently submitted request is computed.
type Engine struct {
	config    Config
	cooldowns CooldownChecker
	logger    *logx.Logger

	seq      atomic.Uint64
	requests chan request
	results  chan Result
}

// New creates a geofence engine and starts its worker. Cancel the context
// to stop it.
func New(ctx context.Context, config Config, cooldowns CooldownChecker, logger *logx.Logger) *Engine {
	if config.TriggerRadiusM <= 0 {
		config.TriggerRadiusM = 25.0
	}
	if config.NearbyMultiplier < 1 {
		config.NearbyMultiplier = 2.0
	}
	e := &Engine{
		config:    config,
		cooldowns: cooldowns,
		logger:    logger,
		requests:  make(chan request, 1),
		results:   make(chan Result, 4),
	}
	go e.run(ctx)
	return e
}

// Evaluate submits a position for evaluation and returns its sequence
// number. It never blocks: a still-queued older request is replaced.
func (e *Engine) Evaluate(position pkg.SmoothedPosition, pois []pkg.POI) uint64 {
	req := request{
		seq:      e.seq.Add(1),
		position: position,
		pois:     pois,
	}
	for {
		select {
		case e.requests <- req:
			return req.seq
		default:
			// Queue full: drop the superseded request and retry.
			select {
			case <-e.requests:
			default:
			}
		}
	}
}

// Results delivers evaluation answers. Consumers must discard any result
// whose Seq is lower than one they have already processed.
func (e *Engine) Results() <-chan Result {
	return e.results
}

func (e *Engine) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.requests:
			result := e.Compute(req.position, req.pois)
			result.Seq = req.seq
			select {
			case e.results <- result:
			case <-ctx.Done():
				return
			default:
				// Consumer is behind: make room, newest result wins.
				select {
				case <-e.results:
				default:
				}
				select {
				case e.results <- result:
				default:
				}
			}
		}
	}
}

// Compute evaluates geofences synchronously. It is the same contract the
// worker uses; small POI sets may call it directly.
func (e *Engine) Compute(position pkg.SmoothedPosition, pois []pkg.POI) Result {
	nearbyRadius := e.config.TriggerRadiusM * e.config.NearbyMultiplier

	result := Result{
		Position:  position,
		Distances: make(map[string]float64, len(pois)),
		Timestamp: time.Now(),
	}

	for _, poi := range pois {
		if err := poi.Validate(); err != nil {
			// A malformed POI must not abort the batch.
			if e.logger != nil {
				e.logger.Warn("skipping invalid poi", "error", err.Error())
			}
			continue
		}

		distance := geo.HaversineM(position.Lat, position.Lng, poi.Lat, poi.Lng)
		result.Distances[poi.ID] = distance

		if distance <= nearbyRadius {
			result.Nearby = append(result.Nearby, Candidate{POI: poi, DistanceM: distance})
		}

		triggerRadius := e.config.TriggerRadiusM
		if poi.RadiusM > triggerRadius {
			triggerRadius = poi.RadiusM
		}
		if distance <= triggerRadius && e.cooldowns.CanPlay(poi.ID) {
			result.Triggered = append(result.Triggered, Candidate{POI: poi, DistanceM: distance})
		}
	}

	sort.Slice(result.Nearby, func(i, j int) bool {
		return result.Nearby[i].DistanceM < result.Nearby[j].DistanceM
	})
	sort.Slice(result.Triggered, func(i, j int) bool {
		a, b := result.Triggered[i], result.Triggered[j]
		if a.POI.Priority != b.POI.Priority {
			return a.POI.Priority > b.POI.Priority
		}
		return a.DistanceM < b.DistanceM
	})

	return result
}
