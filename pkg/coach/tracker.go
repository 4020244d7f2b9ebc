package coach

import (
	"math"
	"strings"
	"time"
)

// minSegment is the minimum duration a segment must run before it is
// committed to history. Shorter segments are treated as detection noise.
const minSegment = 2 * time.Second

// Segment is an in-progress exercise set. At most one segment is active at
// any time.
type Segment struct {
	Name     string
	Start    time.Time
	Reps     int
	feedback []string
	seen     map[string]struct{}
}

// Feedback returns the collected form feedback in first-seen order.
func (s *Segment) Feedback() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.feedback...)
}

func (s *Segment) addFeedback(text string) {
	if text == "" {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[text]; ok {
		return
	}
	s.seen[text] = struct{}{}
	s.feedback = append(s.feedback, text)
}

// Tracker folds a stream of status reports into committed timeline entries.
// It is a pure state machine over (report, now) inputs; the session
// controller owns it and calls it synchronously, so it needs no locking.
type Tracker struct {
	active  *Segment
	history []ExerciseLogEntry
}

// NewTracker returns an empty tracker in the Idle state.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Apply folds one status report into the tracker state at time now.
//
// A report naming a different exercise than the active segment (including
// the Idle sentinel) closes the segment first. A non-Idle report then opens
// a new segment if none is active, or raises reps to the max and collects
// feedback on the active one. If the same exercise name reappears after an
// Idle gap it starts a brand-new segment with a fresh rep count: that is a
// new set, not a resumption.
func (t *Tracker) Apply(report StatusReport, now time.Time) {
	name := strings.TrimSpace(report.Exercise)
	if name == "" {
		name = IdleExercise
	}

	if t.active != nil && t.active.Name != name {
		t.closeSegment(now)
	}

	if name == IdleExercise {
		return
	}

	if t.active == nil {
		t.active = &Segment{Name: name, Start: now, Reps: report.Reps}
	} else if report.Reps > t.active.Reps {
		t.active.Reps = report.Reps
	}

	if fb := normalizeDetectedError(report.DetectedError); fb != "" {
		t.active.addFeedback(fb)
	}
}

// Flush closes any still-open segment as if an Idle report had arrived.
// Called by the controller at session end.
func (t *Tracker) Flush(now time.Time) {
	if t.active != nil {
		t.closeSegment(now)
	}
}

func (t *Tracker) closeSegment(now time.Time) {
	seg := t.active
	t.active = nil
	duration := now.Sub(seg.Start)
	if duration <= minSegment || seg.Name == IdleExercise {
		return
	}
	t.history = append(t.history, ExerciseLogEntry{
		Name:            seg.Name,
		DurationSeconds: int(math.Round(duration.Seconds())),
		Reps:            seg.Reps,
		Feedback:        seg.Feedback(),
	})
}

// Active returns a snapshot of the in-progress segment, or nil when idle.
func (t *Tracker) Active() *Segment {
	if t.active == nil {
		return nil
	}
	snapshot := Segment{
		Name:     t.active.Name,
		Start:    t.active.Start,
		Reps:     t.active.Reps,
		feedback: t.active.Feedback(),
	}
	return &snapshot
}

// History returns the committed timeline entries in commit order.
func (t *Tracker) History() []ExerciseLogEntry {
	return append([]ExerciseLogEntry(nil), t.history...)
}

// normalizeDetectedError maps the model's "no error" spellings to empty.
func normalizeDetectedError(text string) string {
	text = strings.TrimSpace(text)
	if strings.EqualFold(text, "none") {
		return ""
	}
	return text
}
