package geofence

import (
	"github.com/waytour/waytour/pkg"
)

// Tracker turns successive engine results into Enter/Exit events. It lives
// on the caller side so events are derived from one monotonically diffed
// active-set snapshot: Enter always precedes its matching Exit, and stale
// (superseded) results are ignored outright.
type Tracker struct {
	lastSeq       uint64
	active        map[string]bool
	lastDistances map[string]float64
}

// NewTracker creates an empty active-set tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active:        make(map[string]bool),
		lastDistances: make(map[string]float64),
	}
}

// Update diffs a result against the current active set and returns the
// Enter/Exit transitions, exactly one per POI per transition. Results older
// than one already processed return nil.
func (t *Tracker) Update(result Result) []pkg.GeofenceEvent {
	if result.Seq <= t.lastSeq && t.lastSeq != 0 {
		return nil
	}
	t.lastSeq = result.Seq

	next := make(map[string]bool, len(result.Triggered))
	for _, c := range result.Triggered {
		next[c.POI.ID] = true
	}

	var events []pkg.GeofenceEvent

	// Enters first: ids newly present.
	for _, c := range result.Triggered {
		if !t.active[c.POI.ID] {
			events = append(events, pkg.GeofenceEvent{
				PoiID:     c.POI.ID,
				DistanceM: c.DistanceM,
				Timestamp: result.Timestamp,
				Kind:      pkg.GeofenceEnter,
			})
		}
	}

	// Exits: ids no longer present.
	for id := range t.active {
		if !next[id] {
			distance, ok := result.Distances[id]
			if !ok {
				distance = t.lastDistances[id]
			}
			events = append(events, pkg.GeofenceEvent{
				PoiID:     id,
				DistanceM: distance,
				Timestamp: result.Timestamp,
				Kind:      pkg.GeofenceExit,
			})
		}
	}

	t.active = next
	for id, d := range result.Distances {
		t.lastDistances[id] = d
	}
	return events
}

// Active returns the current active POI id set.
func (t *Tracker) Active() []string {
	ids := make([]string, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	return ids
}

// Reset clears the active set without emitting exits. Used when the tour
// session restarts.
func (t *Tracker) Reset() {
	t.lastSeq = 0
	t.active = make(map[string]bool)
	t.lastDistances = make(map[string]float64)
}
