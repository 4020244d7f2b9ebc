// Package session runs the live coaching session lifecycle: acquire capture
// devices, open the duplex channel, route events between capture, playback
// and the exercise tracker, and persist the finished workout.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/repcoach/repcoach/pkg/coach"
	"github.com/repcoach/repcoach/pkg/live"
	"github.com/repcoach/repcoach/pkg/pcm"
	"github.com/repcoach/repcoach/pkg/protocol"
	"github.com/repcoach/repcoach/pkg/store"
	"github.com/repcoach/repcoach/pkg/strategy"
)

// basePrompt is the standing instruction for every live session; the user's
// profile and strategy are appended per session.
const basePrompt = `You are an expert AI fitness coach watching the user work out through
their camera and listening through their microphone. Identify the exercise
being performed, count repetitions, and watch for form errors. Speak
naturally and briefly, like a coach at the gym. Whenever the exercise, rep
count, form assessment or your correction changes, call the
report_exercise_status tool with the current values. Report "Idle" when no
exercise is in progress.`

// outputSampleRate is the PCM rate of service speech.
const outputSampleRate = 24000

// LiveSession is the slice of the duplex channel the controller drives.
type LiveSession interface {
	Events() <-chan live.Event
	SendChunk(chunk coach.MediaChunk) error
	AcknowledgeToolCall(id, name string) error
	Close() error
}

// Connector opens a live session. Injected so tests never dial.
type Connector func(ctx context.Context, req *live.ConnectRequest) (LiveSession, error)

// Capturer is the capture pipeline surface the controller drives.
type Capturer interface {
	Acquire(ctx context.Context) error
	Run(ctx context.Context)
	Chunks() <-chan coach.MediaChunk
	Close() error
}

// Player receives decoded service speech.
type Player interface {
	Enqueue(buf pcm.AudioBuffer)
	Interrupt()
	Close()
}

// Config wires a controller to its collaborators.
type Config struct {
	Store    store.Store
	Connect  Connector
	Capturer Capturer
	Player   Player

	UserID  string
	LiveURL string
	APIKey  string
	Model   string
	Voice   string

	// OnStatus receives human-readable lifecycle updates.
	OnStatus func(status string)
	Logger   *slog.Logger

	now func() time.Time
}

type state int

const (
	stateUninitialized state = iota
	stateAcquiring
	stateActive
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateAcquiring:
		return "starting"
	case stateActive:
		return "active"
	case stateClosed:
		return "stopped"
	}
	return "unknown"
}

// Controller owns one session from Start to End. It is single-use: a new
// session means a new controller.
type Controller struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	tracker *coach.Tracker
	handle  *sessionFuture

	mu        sync.Mutex
	state     state
	capturer  Capturer
	session   LiveSession
	cancel    context.CancelFunc
	startedAt time.Time

	wg sync.WaitGroup

	endMu  sync.Mutex
	ended  bool
	record coach.WorkoutSession
}

// NewController builds an unstarted controller.
func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Controller{
		cfg:     cfg,
		logger:  cfg.Logger,
		now:     cfg.now,
		tracker: coach.NewTracker(),
		handle:  newSessionFuture(),
	}
}

// Start brings the session up: profile fetch, capture acquisition, duplex
// connect, event wiring. Any failure releases everything acquired so far. A
// Stop racing Start wins: resources acquired after the Stop are released as
// soon as they materialize.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == stateActive {
		c.mu.Unlock()
		return nil
	}
	if c.state != stateUninitialized {
		c.mu.Unlock()
		return fmt.Errorf("session is %s", c.state)
	}
	c.state = stateAcquiring
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	c.status("Loading profile")
	profile, err := c.cfg.Store.GetProfile(ctx, c.cfg.UserID)
	if err != nil {
		c.fail("Could not load your profile")
		return fmt.Errorf("loading profile: %w", err)
	}
	instruction := composeInstruction(profile)

	c.status("Starting camera and microphone")
	if err := c.cfg.Capturer.Acquire(ctx); err != nil {
		c.fail("Could not access camera or microphone")
		return err
	}
	if !c.adopt(func() { c.capturer = c.cfg.Capturer }) {
		_ = c.cfg.Capturer.Close()
		return fmt.Errorf("session stopped during startup")
	}

	// Capture starts flowing now; chunks wait on the session handle.
	c.cfg.Capturer.Run(runCtx)
	c.wg.Add(1)
	go c.forwardChunks(runCtx)

	c.status("Connecting to coach")
	sess, err := c.cfg.Connect(ctx, &live.ConnectRequest{
		URL:               c.cfg.LiveURL,
		APIKey:            c.cfg.APIKey,
		Model:             c.cfg.Model,
		SystemInstruction: instruction,
		Voice:             c.cfg.Voice,
		AudioIn:           protocol.AudioFormat{Encoding: "pcm_s16le", SampleRateHz: 16000, Channels: 1},
		AudioOut:          protocol.AudioFormat{Encoding: "pcm_s16le", SampleRateHz: outputSampleRate, Channels: 1},
		Tools:             []protocol.ToolDeclaration{protocol.StatusReportDeclaration()},
		Logger:            c.logger,
	})
	if err != nil {
		c.fail("Could not reach the coaching service")
		return err
	}
	if !c.adopt(func() { c.session = sess }) {
		_ = sess.Close()
		return fmt.Errorf("session stopped during startup")
	}

	c.handle.resolve(sess)
	c.wg.Add(1)
	go c.routeEvents(sess)

	c.mu.Lock()
	c.state = stateActive
	c.startedAt = c.now()
	c.mu.Unlock()
	c.status("Session active")
	return nil
}

// adopt records a freshly acquired resource unless a stop already happened.
func (c *Controller) adopt(assign func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return false
	}
	assign()
	return true
}

func (c *Controller) fail(status string) {
	c.status(status)
	c.Stop()
}

// forwardChunks ships captured media to the live session once it exists.
func (c *Controller) forwardChunks(ctx context.Context) {
	defer c.wg.Done()
	sess, err := c.handle.await(ctx)
	if err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-c.cfg.Capturer.Chunks():
			if !ok {
				return
			}
			if err := sess.SendChunk(chunk); err != nil {
				c.logger.Debug("chunk send failed", "error", err)
				return
			}
		}
	}
}

// routeEvents dispatches service events until the channel closes.
func (c *Controller) routeEvents(sess LiveSession) {
	defer c.wg.Done()
	for event := range sess.Events() {
		switch e := event.(type) {
		case live.AudioEvent:
			c.cfg.Player.Enqueue(pcm.Decode(e.Data, outputSampleRate))
		case live.InterruptedEvent:
			c.cfg.Player.Interrupt()
		case live.ToolCallEvent:
			if e.Name == protocol.StatusReportTool {
				c.tracker.Apply(coach.StatusReportFromArgs(e.Args), c.now())
			}
			if err := sess.AcknowledgeToolCall(e.ID, e.Name); err != nil {
				c.logger.Debug("tool ack failed", "id", e.ID, "error", err)
			}
		case live.ErrorEvent:
			c.logger.Warn("service error", "error", e.Err)
			c.status("Coaching service reported a problem")
		}
	}
}

// Stop tears the session down. It is total over every lifecycle state and
// idempotent; concurrent and repeated calls are safe.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	c.state = stateClosed
	cancel := c.cancel
	capt := c.capturer
	sess := c.session
	c.capturer, c.session = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if capt != nil {
		_ = capt.Close()
	}
	if sess != nil {
		_ = sess.Close()
	}
	if c.cfg.Player != nil {
		c.cfg.Player.Close()
	}
	c.wg.Wait()
	c.status("Session stopped")
}

// End stops the session, flushes the tracker and persists the workout
// record. Calling End again returns the same record without side effects.
func (c *Controller) End(ctx context.Context) (coach.WorkoutSession, error) {
	c.endMu.Lock()
	defer c.endMu.Unlock()
	if c.ended {
		return c.record, nil
	}

	c.mu.Lock()
	startedAt := c.startedAt
	c.mu.Unlock()

	c.Stop()

	if startedAt.IsZero() {
		return coach.WorkoutSession{}, fmt.Errorf("session never became active")
	}

	now := c.now()
	c.tracker.Flush(now)
	record := coach.WorkoutSession{
		ID:                   uuid.NewString(),
		UserID:               c.cfg.UserID,
		Date:                 startedAt.UTC().Format(time.RFC3339),
		TotalDurationSeconds: int(math.Round(now.Sub(startedAt).Seconds())),
		Exercises:            c.tracker.History(),
	}
	if err := c.cfg.Store.SaveSession(ctx, record); err != nil {
		return coach.WorkoutSession{}, coach.NewSaveError("saving workout session", err)
	}

	c.ended = true
	c.record = record
	c.status("Workout saved")
	return record, nil
}

func (c *Controller) status(s string) {
	c.logger.Info("session status", "status", s)
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(s)
	}
}

// composeInstruction appends the user's profile context and decoded strategy
// to the standing prompt.
func composeInstruction(profile coach.UserProfile) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	var facts []string
	if profile.DisplayName != "" {
		facts = append(facts, "Name: "+profile.DisplayName)
	}
	if profile.Birthday != "" {
		facts = append(facts, "Birthday: "+profile.Birthday)
	}
	if profile.Interests != "" {
		facts = append(facts, "Interests: "+profile.Interests)
	}
	if profile.Goals != "" {
		facts = append(facts, "Goals: "+profile.Goals)
	}
	if len(facts) > 0 {
		b.WriteString("\n\nAbout the user:\n")
		for _, f := range facts {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
	}

	if s := strategy.Decode(profile.ExpertSuggestions); !s.Empty() {
		b.WriteString("\nCurrent training strategy for this user:\n")
		b.WriteString(s.Render())
		b.WriteString("\n")
	}
	return b.String()
}
