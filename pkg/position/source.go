// Package position abstracts the device location source behind a channel
// subscription, with scripted and replay implementations for running
// without GPS hardware.
package position

import (
	"context"
	"sync"
	"time"

	"github.com/waytour/waytour/pkg"
)

// Source emits raw position fixes on an unspecified cadence. Errors on the
// second channel never stop the subscription; fixes simply stop arriving
// until the condition clears. Both channels close on Unsubscribe or
// context cancellation.
type Source interface {
	Subscribe(ctx context.Context) (<-chan pkg.PositionSample, <-chan pkg.SignalError, error)
	Unsubscribe()
}

// scriptStep is one scheduled emission: a fix or a signal error.
type scriptStep struct {
	sample pkg.PositionSample
	err    *pkg.SignalError
}

// ScriptedSource replays a fixed list of fixes and signal errors at a
// configurable interval. Tests and demos use it.
type ScriptedSource struct {
	interval time.Duration

	mu     sync.Mutex
	steps  []scriptStep
	cancel context.CancelFunc
}

// NewScriptedSource creates an empty scripted source; queue fixes with
// AddFix/AddError before subscribing.
func NewScriptedSource(interval time.Duration) *ScriptedSource {
	if interval <= 0 {
		interval = time.Second
	}
	return &ScriptedSource{interval: interval}
}

// AddFix appends a fix to the script.
func (s *ScriptedSource) AddFix(sample pkg.PositionSample) {
	s.mu.Lock()
	s.steps = append(s.steps, scriptStep{sample: sample})
	s.mu.Unlock()
}

// AddError appends a signal error to the script.
func (s *ScriptedSource) AddError(err pkg.SignalError) {
	s.mu.Lock()
	s.steps = append(s.steps, scriptStep{err: &err})
	s.mu.Unlock()
}

func (s *ScriptedSource) Subscribe(ctx context.Context) (<-chan pkg.PositionSample, <-chan pkg.SignalError, error) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	steps := make([]scriptStep, len(s.steps))
	copy(steps, s.steps)
	s.mu.Unlock()

	fixes := make(chan pkg.PositionSample)
	errs := make(chan pkg.SignalError, 4)

	go func() {
		defer close(fixes)
		defer close(errs)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for _, step := range steps {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if step.err != nil {
				select {
				case errs <- *step.err:
				default:
				}
				continue
			}
			select {
			case fixes <- step.sample:
			case <-ctx.Done():
				return
			}
		}
	}()

	return fixes, errs, nil
}

func (s *ScriptedSource) Unsubscribe() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
