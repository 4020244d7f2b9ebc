// Package playback renders inbound speech chunks gaplessly: chunks play
// back-to-back in arrival order against a monotonic clock, never overlap,
// and can be flushed instantly on interruption.
package playback

import (
	"sync"
	"time"

	"github.com/repcoach/repcoach/pkg/pcm"
)

// Clock is a monotonic playback clock, measured as an offset from an
// arbitrary zero (the output clock's start).
type Clock interface {
	Now() time.Duration
}

type monotonicClock struct {
	start time.Time
}

func (c monotonicClock) Now() time.Duration {
	return time.Since(c.start)
}

// NewMonotonicClock returns a Clock anchored at the current instant.
func NewMonotonicClock() Clock {
	return monotonicClock{start: time.Now()}
}

// Sink renders audio buffers. Play begins rendering immediately; Flush
// discards anything currently rendering. Both must tolerate repeated calls.
type Sink interface {
	Play(buf pcm.AudioBuffer) error
	Flush() error
}

// Config configures a Scheduler.
type Config struct {
	Clock Clock
	Sink  Sink
	// OnSpeakingChange is called with true when the first chunk is
	// scheduled and false exactly when the last scheduled chunk finishes
	// or playback is interrupted. Optional.
	OnSpeakingChange func(bool)
	// after schedules a callback; tests override it to control time.
	after func(d time.Duration, f func()) *time.Timer
}

type handle struct {
	start      *time.Timer
	completion *time.Timer
}

// Scheduler queues decoded audio chunks for strictly ordered, gapless
// playback. All methods are safe for concurrent use.
type Scheduler struct {
	clock      Clock
	sink       Sink
	after      func(d time.Duration, f func()) *time.Timer
	onSpeaking func(bool)

	mu        sync.Mutex
	nextStart time.Duration
	active    map[*handle]struct{}
	closed    bool
}

// NewScheduler creates a Scheduler. A nil Clock defaults to a monotonic
// clock anchored now.
func NewScheduler(cfg Config) *Scheduler {
	clock := cfg.Clock
	if clock == nil {
		clock = NewMonotonicClock()
	}
	after := cfg.after
	if after == nil {
		after = time.AfterFunc
	}
	return &Scheduler{
		clock:      clock,
		sink:       cfg.Sink,
		after:      after,
		onSpeaking: cfg.OnSpeakingChange,
		active:     make(map[*handle]struct{}),
	}
}

// Enqueue schedules a chunk at max(clock now, next free offset) and advances
// the next free offset past it. Chunks therefore play back-to-back even when
// they arrive in bursts, and never start in the past.
func (s *Scheduler) Enqueue(buf pcm.AudioBuffer) {
	duration := buf.Duration()
	if duration <= 0 {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	start := now
	if s.nextStart > start {
		start = s.nextStart
	}
	s.nextStart = start + duration

	h := &handle{}
	wasIdle := len(s.active) == 0
	s.active[h] = struct{}{}
	h.start = s.after(start-now, func() { s.play(h, buf) })
	h.completion = s.after(start-now+duration, func() { s.complete(h) })
	s.mu.Unlock()

	if wasIdle && s.onSpeaking != nil {
		s.onSpeaking(true)
	}
}

func (s *Scheduler) play(h *handle, buf pcm.AudioBuffer) {
	s.mu.Lock()
	_, live := s.active[h]
	sink := s.sink
	s.mu.Unlock()
	if !live || sink == nil {
		return
	}
	_ = sink.Play(buf)
}

func (s *Scheduler) complete(h *handle) {
	s.mu.Lock()
	if _, live := s.active[h]; !live {
		s.mu.Unlock()
		return
	}
	delete(s.active, h)
	idle := len(s.active) == 0
	s.mu.Unlock()

	if idle && s.onSpeaking != nil {
		s.onSpeaking(false)
	}
}

// Interrupt stops every scheduled and playing chunk immediately, clears the
// queue, and resets the next start offset so the next chunk plays fresh
// relative to the current clock time. Interrupting an empty or already
// interrupted scheduler is a no-op.
func (s *Scheduler) Interrupt() {
	s.flush(false)
}

// Close interrupts playback and rejects further chunks. Idempotent.
func (s *Scheduler) Close() {
	s.flush(true)
}

func (s *Scheduler) flush(terminal bool) {
	s.mu.Lock()
	hadActive := len(s.active) > 0
	for h := range s.active {
		h.start.Stop()
		h.completion.Stop()
	}
	s.active = make(map[*handle]struct{})
	s.nextStart = 0
	if terminal {
		s.closed = true
	}
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		_ = sink.Flush()
	}
	if hadActive && s.onSpeaking != nil {
		s.onSpeaking(false)
	}
}

// Speaking reports whether at least one chunk is scheduled or playing.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) > 0
}
