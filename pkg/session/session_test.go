package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/repcoach/repcoach/pkg/coach"
	"github.com/repcoach/repcoach/pkg/live"
	"github.com/repcoach/repcoach/pkg/pcm"
	"github.com/repcoach/repcoach/pkg/store"
)

type fakeStore struct {
	mu       sync.Mutex
	profiles map[string]coach.UserProfile
	sessions []coach.WorkoutSession
	saveErr  error
}

func newFakeStore(profiles ...coach.UserProfile) *fakeStore {
	s := &fakeStore{profiles: map[string]coach.UserProfile{}}
	for _, p := range profiles {
		s.profiles[p.UserID] = p
	}
	return s
}

func (s *fakeStore) GetProfile(_ context.Context, userID string) (coach.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return coach.UserProfile{}, store.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) SaveProfile(_ context.Context, p coach.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
	return nil
}

func (s *fakeStore) GetSessions(context.Context, string) ([]coach.WorkoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]coach.WorkoutSession(nil), s.sessions...), nil
}

func (s *fakeStore) SaveSession(_ context.Context, ws coach.WorkoutSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.sessions = append(s.sessions, ws)
	return nil
}

func (s *fakeStore) Close() error { return nil }

type fakeLive struct {
	events chan live.Event

	mu     sync.Mutex
	sent   []coach.MediaChunk
	acks   []string
	closed bool
}

func newFakeLive() *fakeLive {
	return &fakeLive{events: make(chan live.Event, 16)}
}

func (f *fakeLive) Events() <-chan live.Event { return f.events }

func (f *fakeLive) SendChunk(chunk coach.MediaChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.sent = append(f.sent, chunk)
	return nil
}

func (f *fakeLive) AcknowledgeToolCall(id, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, id+"/"+name)
	return nil
}

func (f *fakeLive) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeLive) sentChunks() []coach.MediaChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]coach.MediaChunk(nil), f.sent...)
}

type fakeCapturer struct {
	chunks     chan coach.MediaChunk
	acquireErr error

	mu       sync.Mutex
	acquired bool
	closed   bool
}

func newFakeCapturer() *fakeCapturer {
	return &fakeCapturer{chunks: make(chan coach.MediaChunk, 16)}
}

func (f *fakeCapturer) Acquire(context.Context) error {
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.mu.Lock()
	f.acquired = true
	f.mu.Unlock()
	return nil
}

func (f *fakeCapturer) Run(context.Context) {}

func (f *fakeCapturer) Chunks() <-chan coach.MediaChunk { return f.chunks }

func (f *fakeCapturer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeCapturer) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakePlayer struct {
	mu         sync.Mutex
	enqueued   []pcm.AudioBuffer
	interrupts int
	closed     bool
}

func (f *fakePlayer) Enqueue(buf pcm.AudioBuffer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, buf)
}

func (f *fakePlayer) Interrupt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
}

func (f *fakePlayer) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store    *fakeStore
	capturer *fakeCapturer
	player   *fakePlayer
	sess     *fakeLive
	clock    *fakeClock
	statuses *[]string
	lastReq  **live.ConnectRequest
}

func newHarness(t *testing.T) (*Controller, *harness) {
	t.Helper()
	h := &harness{
		store: newFakeStore(coach.UserProfile{
			UserID:            "u1",
			DisplayName:       "Alex",
			Goals:             "stronger squat",
			ExpertSuggestions: `{"title":"Leg block","points":[{"focus":"Depth","instruction":"Pause at the bottom"}]}`,
		}),
		capturer: newFakeCapturer(),
		player:   &fakePlayer{},
		sess:     newFakeLive(),
		clock:    &fakeClock{now: time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)},
		statuses: &[]string{},
	}
	var lastReq *live.ConnectRequest
	h.lastReq = &lastReq

	var statusMu sync.Mutex
	c := NewController(Config{
		Store: h.store,
		Connect: func(_ context.Context, req *live.ConnectRequest) (LiveSession, error) {
			lastReq = req
			return h.sess, nil
		},
		Capturer: h.capturer,
		Player:   h.player,
		UserID:   "u1",
		LiveURL:  "wss://coach.example.com/live",
		APIKey:   "k",
		Model:    "gemini-2.5-flash-native-audio-preview",
		Voice:    "Puck",
		OnStatus: func(s string) {
			statusMu.Lock()
			*h.statuses = append(*h.statuses, s)
			statusMu.Unlock()
		},
		Logger: slog.New(slog.DiscardHandler),
		now:    h.clock.Now,
	})
	return c, h
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestStartComposesInstructionAndForwardsChunks(t *testing.T) {
	t.Parallel()

	c, h := newHarness(t)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	req := *h.lastReq
	if req == nil {
		t.Fatal("connect never called")
	}
	for _, want := range []string{"Alex", "stronger squat", "Leg block", "Pause at the bottom", "report_exercise_status"} {
		if !strings.Contains(req.SystemInstruction, want) {
			t.Errorf("instruction missing %q", want)
		}
	}
	if req.AudioIn.SampleRateHz != 16000 || req.AudioOut.SampleRateHz != 24000 {
		t.Errorf("audio formats = %+v / %+v", req.AudioIn, req.AudioOut)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "report_exercise_status" {
		t.Errorf("tools = %+v", req.Tools)
	}

	h.capturer.chunks <- coach.MediaChunk{Kind: coach.ChunkAudio, Data: []byte{1, 2}}
	h.capturer.chunks <- coach.MediaChunk{Kind: coach.ChunkImage, MIMEType: "image/jpeg", Data: []byte{3}}
	waitFor(t, func() bool { return len(h.sess.sentChunks()) == 2 })
	if got := h.sess.sentChunks(); got[0].Kind != coach.ChunkAudio || got[1].Kind != coach.ChunkImage {
		t.Fatalf("forwarded chunks out of order: %+v", got)
	}
}

func TestEventsDriveSpeechAndTracker(t *testing.T) {
	t.Parallel()

	c, h := newHarness(t)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	speech := pcm.EncodeFloat32([]float32{0.5, -0.5})
	h.sess.events <- live.AudioEvent{Data: speech}
	h.sess.events <- live.InterruptedEvent{Reason: "user speech"}
	h.sess.events <- live.ToolCallEvent{ID: "t1", Name: "report_exercise_status", Args: map[string]any{
		"exercise_name": "Squat", "current_reps": float64(3), "is_good_form": true,
	}}

	waitFor(t, func() bool {
		h.player.mu.Lock()
		defer h.player.mu.Unlock()
		return len(h.player.enqueued) == 1 && h.player.interrupts == 1
	})
	if h.player.enqueued[0].SampleRate != 24000 {
		t.Errorf("speech sample rate = %d", h.player.enqueued[0].SampleRate)
	}
	waitFor(t, func() bool {
		h.sess.mu.Lock()
		defer h.sess.mu.Unlock()
		return len(h.sess.acks) == 1 && h.sess.acks[0] == "t1/report_exercise_status"
	})

	// Let the set run long enough to commit, then end on an idle report.
	h.clock.advance(10 * time.Second)
	h.sess.events <- live.ToolCallEvent{ID: "t2", Name: "report_exercise_status", Args: map[string]any{
		"exercise_name": "Idle",
	}}
	waitFor(t, func() bool {
		h.sess.mu.Lock()
		defer h.sess.mu.Unlock()
		return len(h.sess.acks) == 2
	})

	h.clock.advance(5 * time.Second)
	record, err := c.End(context.Background())
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if record.ID == "" || record.UserID != "u1" {
		t.Fatalf("record = %+v", record)
	}
	if record.Date != "2026-08-29T10:00:00Z" {
		t.Errorf("date = %q", record.Date)
	}
	if record.TotalDurationSeconds != 15 {
		t.Errorf("duration = %d, want 15", record.TotalDurationSeconds)
	}
	if len(record.Exercises) != 1 || record.Exercises[0].Name != "Squat" || record.Exercises[0].Reps != 3 {
		t.Fatalf("exercises = %+v", record.Exercises)
	}

	h.store.mu.Lock()
	saved := len(h.store.sessions)
	h.store.mu.Unlock()
	if saved != 1 {
		t.Fatalf("saved sessions = %d", saved)
	}

	// Re-entrant End is a no-op returning the same record.
	again, err := c.End(context.Background())
	if err != nil {
		t.Fatalf("second end: %v", err)
	}
	if again.ID != record.ID {
		t.Errorf("second end record = %s, want %s", again.ID, record.ID)
	}
	h.store.mu.Lock()
	saved = len(h.store.sessions)
	h.store.mu.Unlock()
	if saved != 1 {
		t.Fatalf("second end saved again, sessions = %d", saved)
	}
}

func TestStartFailureReleasesResources(t *testing.T) {
	t.Parallel()

	c, h := newHarness(t)
	h.capturer.acquireErr = coach.NewDeviceError("no camera", nil)
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	if !h.player.closed {
		t.Error("player not closed after failed start")
	}

	found := false
	for _, s := range *h.statuses {
		if strings.Contains(s, "camera or microphone") {
			found = true
		}
	}
	if !found {
		t.Errorf("no device status surfaced: %v", *h.statuses)
	}
}

func TestConnectFailureClosesCapture(t *testing.T) {
	t.Parallel()

	c, h := newHarness(t)
	connectErr := coach.NewChannelError("refused", nil)
	c.cfg.Connect = func(context.Context, *live.ConnectRequest) (LiveSession, error) {
		return nil, connectErr
	}
	if err := c.Start(context.Background()); !errors.Is(err, connectErr) {
		t.Fatalf("start err = %v", err)
	}
	if !h.capturer.isClosed() {
		t.Error("capturer not closed after connect failure")
	}
}

func TestStopDuringStartReleasesLateSession(t *testing.T) {
	t.Parallel()

	c, h := newHarness(t)
	connected := make(chan struct{})
	release := make(chan struct{})
	c.cfg.Connect = func(context.Context, *live.ConnectRequest) (LiveSession, error) {
		close(connected)
		<-release
		return h.sess, nil
	}

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	<-connected
	go c.Stop()
	waitFor(t, func() bool { return h.capturer.isClosed() })
	close(release)

	if err := <-done; err == nil {
		t.Fatal("start should fail after stop")
	}
	waitFor(t, func() bool {
		h.sess.mu.Lock()
		defer h.sess.mu.Unlock()
		return h.sess.closed
	})
}

func TestStartReentrantIsNoop(t *testing.T) {
	t.Parallel()

	c, h := newHarness(t)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	before := *h.lastReq
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("re-entrant start: %v", err)
	}
	if *h.lastReq != before {
		t.Fatal("re-entrant start dialed again")
	}
}

func TestStopIdempotent(t *testing.T) {
	t.Parallel()

	c, _ := newHarness(t)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.Stop()
	c.Stop()
	c.Stop()
}

func TestEndWithoutActiveSessionFails(t *testing.T) {
	t.Parallel()

	c, _ := newHarness(t)
	if _, err := c.End(context.Background()); err == nil {
		t.Fatal("expected error ending a session that never started")
	}
}

func TestEndSaveFailure(t *testing.T) {
	t.Parallel()

	c, h := newHarness(t)
	h.store.saveErr = fmt.Errorf("disk full")
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.clock.advance(time.Minute)
	_, err := c.End(context.Background())
	var coachErr *coach.Error
	if !errors.As(err, &coachErr) || coachErr.Type != coach.ErrSave {
		t.Fatalf("end err = %v, want save error", err)
	}
}
