// Package playback turns geofence triggers and manual enqueues into actual
// narration playback, with queueing, an autoplay unlock latch and a
// text-to-speech fallback for failed assets.
package playback

import (
	"context"
	"strings"
	"sync"

	"github.com/waytour/waytour/pkg"
	"github.com/waytour/waytour/pkg/logx"
)

// Config controls controller behavior
type Config struct {
	AutoplayEnabled bool `json:"autoplay_enabled"`
}

// StateListener observes state transitions. It is invoked synchronously and
// must return quickly without calling back into the controller.
type StateListener func(state pkg.PlaybackState, item *pkg.AudioQueueItem)

// ErrorListener observes media failures before the TTS fallback runs.
type ErrorListener func(message string, item pkg.AudioQueueItem)

// Controller is the narration playback state machine. Exactly one instance
// is live per tour session.
type Controller struct {
	mu      sync.Mutex
	ctx     context.Context
	sink    AudioSink
	speaker Speaker
	logger  *logx.Logger
	config  Config
	onState StateListener
	onError ErrorListener

	state    pkg.PlaybackState
	current  *pkg.AudioQueueItem
	queue    []pkg.AudioQueueItem
	unlocked bool

	// pending is non-nil while a play transition is in flight; it is closed
	// when the transition settles. gen invalidates settled transitions that
	// were superseded by Skip/Stop.
	pending chan struct{}
	gen     uint64
}

// New creates a playback controller and starts consuming sink events.
// Cancel the context to stop it.
func New(ctx context.Context, sink AudioSink, speaker Speaker, config Config, logger *logx.Logger) *Controller {
	c := &Controller{
		ctx:     ctx,
		sink:    sink,
		speaker: speaker,
		logger:  logger,
		config:  config,
		state:   pkg.PlaybackIdle,
	}
	go c.consumeSinkEvents(ctx)
	return c
}

// OnStateChange registers the state listener.
func (c *Controller) OnStateChange(fn StateListener) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnError registers the media error listener.
func (c *Controller) OnError(fn ErrorListener) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// State returns the current playback state.
func (c *Controller) State() pkg.PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns a copy of the item being loaded/played, if any.
func (c *Controller) Current() (pkg.AudioQueueItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return pkg.AudioQueueItem{}, false
	}
	return *c.current, true
}

// QueueLength returns the number of items waiting behind the current one.
func (c *Controller) QueueLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Unlock performs the one-time autoplay unlock. It must be driven by an
// explicit user gesture; every later call is a no-op. If narrations were
// enqueued before the unlock, the first one starts now.
func (c *Controller) Unlock(ctx context.Context) error {
	c.mu.Lock()
	if c.unlocked {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.sink.Unlock(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.unlocked = true
	if c.state == pkg.PlaybackIdle && c.config.AutoplayEnabled && len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.startTransitionLocked(next)
	}
	return nil
}

// Unlocked reports whether the session latch has been set.
func (c *Controller) Unlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unlocked
}

// Enqueue submits a narration. When the controller is idle, autoplay is
// enabled and the session is unlocked, the item skips the queue and starts
// loading immediately; otherwise it is appended to the FIFO tail.
func (c *Controller) Enqueue(item pkg.AudioQueueItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == pkg.PlaybackIdle && c.config.AutoplayEnabled && c.unlocked {
		c.startTransitionLocked(item)
		return
	}
	c.queue = append(c.queue, item)
	if c.logger != nil {
		c.logger.Debug("narration queued",
			"poi_id", item.POI.ID,
			"queue_length", len(c.queue),
		)
	}
}

// Play resumes a paused narration. No-op without a current item.
func (c *Controller) Play(ctx context.Context) error {
	c.waitPending()
	c.mu.Lock()
	if c.current == nil || c.state != pkg.PlaybackPaused {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.sink.Play(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.setStateLocked(pkg.PlaybackPlaying)
	c.mu.Unlock()
	return nil
}

// Pause pauses the current narration. It waits for any in-flight play
// transition to settle first so the sink never sees a pause racing a play;
// aborts induced by that waiting are swallowed, not surfaced.
func (c *Controller) Pause() error {
	c.waitPending()
	c.mu.Lock()
	if c.current == nil || c.state != pkg.PlaybackPlaying {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.sink.Pause(); err != nil {
		return err
	}
	c.mu.Lock()
	c.setStateLocked(pkg.PlaybackPaused)
	c.mu.Unlock()
	return nil
}

// Seek repositions the current narration. No-op without a current item.
func (c *Controller) Seek(seconds float64) error {
	c.mu.Lock()
	hasCurrent := c.current != nil
	c.mu.Unlock()
	if !hasCurrent {
		return nil
	}
	return c.sink.Seek(seconds)
}

// SetVolume adjusts playback volume. No-op without a current item.
func (c *Controller) SetVolume(v float64) error {
	c.mu.Lock()
	hasCurrent := c.current != nil
	c.mu.Unlock()
	if !hasCurrent {
		return nil
	}
	return c.sink.SetVolume(v)
}

// Skip stops and discards the current narration. If anything is queued the
// head starts loading, otherwise the controller goes idle.
func (c *Controller) Skip() {
	c.waitPending()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++ // anything still settling is now superseded
	c.sink.Stop()
	c.current = nil

	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.startTransitionLocked(next)
		return
	}
	c.setStateLocked(pkg.PlaybackIdle)
}

// Stop halts playback and goes idle, leaving the queue intact. A pending
// play transition's downstream effects are cancelled; an in-flight fetch
// for the item is not forcibly aborted.
func (c *Controller) Stop() {
	c.waitPending()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.sink.Stop()
	c.current = nil
	c.setStateLocked(pkg.PlaybackIdle)
}

// ClearQueue drops all queued narrations without touching the current one.
func (c *Controller) ClearQueue() {
	c.mu.Lock()
	c.queue = nil
	c.mu.Unlock()
}

// waitPending blocks until an in-flight play transition settles.
func (c *Controller) waitPending() {
	c.mu.Lock()
	done := c.pending
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// startTransitionLocked begins the Idle/queued -> Loading -> Playing
// transition. At most one is in flight at a time. Caller holds the lock.
func (c *Controller) startTransitionLocked(item pkg.AudioQueueItem) {
	itemCopy := item
	c.current = &itemCopy
	c.setStateLocked(pkg.PlaybackLoading)

	gen := c.gen
	done := make(chan struct{})
	c.pending = done

	go func() {
		defer close(done)

		err := c.sink.Load(c.ctx, item.AudioURL)
		if err == nil {
			err = c.sink.Play(c.ctx)
		}

		c.mu.Lock()
		if c.gen != gen {
			// Superseded by Skip/Stop while in flight: swallow silently.
			c.mu.Unlock()
			return
		}
		c.pending = nil
		if err != nil {
			c.mu.Unlock()
			c.handleMediaError(err.Error(), item, gen)
			return
		}
		c.setStateLocked(pkg.PlaybackPlaying)
		c.mu.Unlock()
	}()
}

// consumeSinkEvents reacts to natural end-of-playback and async errors.
func (c *Controller) consumeSinkEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.sink.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case SinkEnded:
				c.finishCurrent()
			case SinkError:
				c.mu.Lock()
				if c.current == nil {
					c.mu.Unlock()
					continue
				}
				item := *c.current
				gen := c.gen
				c.mu.Unlock()
				c.handleMediaError(ev.Message, item, gen)
			}
		}
	}
}

// finishCurrent handles natural end of playback: drain the queue or idle.
func (c *Controller) finishCurrent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return
	}
	c.current = nil
	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.startTransitionLocked(next)
		return
	}
	c.setStateLocked(pkg.PlaybackIdle)
}

// handleMediaError surfaces the failure, runs the TTS fallback exactly once
// for the item, and never retries the original asset.
func (c *Controller) handleMediaError(message string, item pkg.AudioQueueItem, gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(pkg.PlaybackError)
	onError := c.onError
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Error("narration playback failed",
			"poi_id", item.POI.ID,
			"url", item.AudioURL,
			"error", message,
		)
	}
	if onError != nil {
		onError(message, item)
	}

	c.speakFallback(item)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.current = nil
	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.startTransitionLocked(next)
		return
	}
	c.setStateLocked(pkg.PlaybackIdle)
}

// speakFallback reads the item's title and description aloud.
func (c *Controller) speakFallback(item pkg.AudioQueueItem) {
	if c.speaker == nil {
		return
	}
	parts := []string{item.Title}
	if item.Description != "" {
		parts = append(parts, item.Description)
	}
	if err := c.speaker.Speak(c.ctx, strings.Join(parts, ". ")); err != nil && c.logger != nil {
		c.logger.Warn("tts fallback failed", "poi_id", item.POI.ID, "error", err.Error())
	}
}

// setStateLocked updates state and notifies the listener. Caller holds the
// lock.
func (c *Controller) setStateLocked(state pkg.PlaybackState) {
	if c.state == state {
		return
	}
	prev := c.state
	c.state = state
	if c.logger != nil {
		c.logger.LogStateChange("playback", string(prev), string(state), "transition")
	}
	if c.onState != nil {
		c.onState(state, c.current)
	}
}
