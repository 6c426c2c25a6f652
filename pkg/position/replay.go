package position

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/waytour/waytour/pkg"
)

// ReplaySource replays a recorded fix log from a JSON file, honoring the
// recorded inter-fix gaps scaled by Speedup. It lets the daemon run a full
// tour without GPS hardware.
type ReplaySource struct {
	path    string
	speedup float64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewReplaySource creates a replay source. speedup 0 means real time.
func NewReplaySource(path string, speedup float64) *ReplaySource {
	if speedup <= 0 {
		speedup = 1
	}
	return &ReplaySource{path: path, speedup: speedup}
}

func (r *ReplaySource) Subscribe(ctx context.Context) (<-chan pkg.PositionSample, <-chan pkg.SignalError, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read fix log: %w", err)
	}
	var samples []pkg.PositionSample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, nil, fmt.Errorf("failed to parse fix log %s: %w", r.path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	fixes := make(chan pkg.PositionSample)
	errs := make(chan pkg.SignalError, 4)

	go func() {
		defer close(fixes)
		defer close(errs)

		for i, sample := range samples {
			if i > 0 {
				gap := sample.Timestamp.Sub(samples[i-1].Timestamp)
				if gap > 0 {
					wait := time.Duration(float64(gap) / r.speedup)
					select {
					case <-ctx.Done():
						return
					case <-time.After(wait):
					}
				}
			}
			// Replayed fixes are restamped so downstream age checks work.
			sample.Timestamp = time.Now()
			select {
			case fixes <- sample:
			case <-ctx.Done():
				return
			}
		}
	}()

	return fixes, errs, nil
}

func (r *ReplaySource) Unsubscribe() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
