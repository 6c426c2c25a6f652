package playback

import (
	"context"
	"sync"
	"time"
)

// SinkEventKind classifies asynchronous audio sink notifications.
type SinkEventKind int

const (
	// SinkEnded reports that the loaded media played to its natural end.
	SinkEnded SinkEventKind = iota
	// SinkError reports a playback failure after Play resolved.
	SinkError
)

// SinkEvent is an asynchronous notification from the audio sink.
type SinkEvent struct {
	Kind    SinkEventKind
	Message string
}

// AudioSink is the narrow platform boundary over the real media element.
// Load and Play may suspend the caller; the rest are immediate.
type AudioSink interface {
	Load(ctx context.Context, url string) error
	Play(ctx context.Context) error
	Pause() error
	Stop() error
	Seek(seconds float64) error
	SetVolume(v float64) error
	// Unlock performs the one-time user-gesture-gated autoplay unlock.
	Unlock(ctx context.Context) error
	Events() <-chan SinkEvent
}

// Speaker is the on-device speech-synthesis boundary used as the fallback
// when a recorded asset fails. Speak blocks until the utterance finishes.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// SimSink is an AudioSink that simulates playback with a timer. The daemon
// uses it when running headless; duration zero means narrations never end
// on their own.
type SimSink struct {
	mu       sync.Mutex
	duration time.Duration
	events   chan SinkEvent
	timer    *time.Timer
	loaded   string
}

// NewSimSink creates a simulated sink whose narrations "finish" after d.
func NewSimSink(d time.Duration) *SimSink {
	return &SimSink{
		duration: d,
		events:   make(chan SinkEvent, 8),
	}
}

func (s *SimSink) Load(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = url
	return nil
}

func (s *SimSink) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.duration > 0 {
		s.stopTimerLocked()
		s.timer = time.AfterFunc(s.duration, func() {
			s.events <- SinkEvent{Kind: SinkEnded}
		})
	}
	return nil
}

func (s *SimSink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	return nil
}

func (s *SimSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.loaded = ""
	return nil
}

func (s *SimSink) Seek(seconds float64) error       { return nil }
func (s *SimSink) SetVolume(v float64) error        { return nil }
func (s *SimSink) Unlock(ctx context.Context) error { return nil }
func (s *SimSink) Events() <-chan SinkEvent         { return s.events }

func (s *SimSink) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
