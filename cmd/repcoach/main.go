// Command repcoach is a terminal fitness coaching client: it streams the
// camera and microphone to the reasoning service, plays the coach's voice
// back, and logs the detected exercises to a local workout history.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/repcoach/repcoach/internal/dotenv"
	"github.com/repcoach/repcoach/pkg/capture"
	"github.com/repcoach/repcoach/pkg/coach"
	"github.com/repcoach/repcoach/pkg/config"
	"github.com/repcoach/repcoach/pkg/live"
	"github.com/repcoach/repcoach/pkg/playback"
	"github.com/repcoach/repcoach/pkg/session"
	"github.com/repcoach/repcoach/pkg/store"
	"github.com/repcoach/repcoach/pkg/strategy"
)

type cliOptions struct {
	ConfigPath string
	User       string
	History    bool
	Verbose    bool
}

func parseOptions(args []string) (cliOptions, error) {
	opts := cliOptions{}
	fs := flag.NewFlagSet("repcoach", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&opts.ConfigPath, "config", "repcoach.yaml", "path to the YAML config file")
	fs.StringVar(&opts.User, "user", "", "display name to log in as")
	fs.BoolVar(&opts.History, "history", false, "print the stored workout history and exit")
	fs.BoolVar(&opts.Verbose, "v", false, "verbose logging")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	if strings.TrimSpace(opts.User) == "" {
		return cliOptions{}, errors.New("-user is required")
	}
	return opts, nil
}

// userIDFor derives the stable profile key from a display name.
func userIDFor(displayName string) string {
	return strings.ToLower(strings.Join(strings.Fields(displayName), "-"))
}

func run(ctx context.Context, opts cliOptions, stdin io.Reader, stdout, stderr io.Writer) error {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	userID := userIDFor(opts.User)
	profile, err := st.GetProfile(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		profile = coach.UserProfile{UserID: userID, DisplayName: opts.User}
		if err := st.SaveProfile(ctx, profile); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Welcome, %s! A new profile was created.\n", opts.User)
	case err != nil:
		return err
	default:
		fmt.Fprintf(stdout, "Welcome back, %s.\n", profile.DisplayName)
	}

	if opts.History {
		return printHistory(ctx, st, userID, stdout)
	}
	return runLiveSession(ctx, cfg, st, profile, logger, stdin, stdout)
}

func printHistory(ctx context.Context, st store.Store, userID string, out io.Writer) error {
	sessions, err := st.GetSessions(ctx, userID)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No workouts recorded yet.")
		return nil
	}
	for _, ws := range sessions {
		fmt.Fprintf(out, "\n%s  (%s)\n", ws.Date, formatDuration(ws.TotalDurationSeconds))
		if len(ws.Exercises) == 0 {
			fmt.Fprintln(out, "  no exercises detected")
			continue
		}
		for _, ex := range ws.Exercises {
			fmt.Fprintf(out, "  %-16s %3d reps  %s", ex.Name, ex.Reps, formatDuration(ex.DurationSeconds))
			if len(ex.Feedback) > 0 {
				fmt.Fprintf(out, "  [%s]", strings.Join(ex.Feedback, "; "))
			}
			fmt.Fprintln(out)
		}
	}
	return nil
}

func runLiveSession(ctx context.Context, cfg *config.Config, st store.Store, profile coach.UserProfile, logger *slog.Logger, stdin io.Reader, stdout io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	speaker := playback.NewFFPlaySpeaker("ffplay", 24000, 100)
	defer speaker.Close()
	player := playback.NewScheduler(playback.Config{Sink: speaker})

	pipeline := capture.NewPipeline(capture.Config{
		FFmpegPath:       cfg.Capture.FFmpegPath,
		AudioInputFormat: cfg.Capture.AudioFormat,
		AudioDevice:      cfg.Capture.AudioDevice,
		VideoInputFormat: cfg.Capture.VideoFormat,
		VideoDevice:      cfg.Capture.VideoDevice,
		Logger:           logger,
	})

	controller := session.NewController(session.Config{
		Store: st,
		Connect: func(ctx context.Context, req *live.ConnectRequest) (session.LiveSession, error) {
			return live.Connect(ctx, req)
		},
		Capturer: pipeline,
		Player:   player,
		UserID:   profile.UserID,
		LiveURL:  cfg.Service.LiveURL,
		APIKey:   cfg.Service.APIKey,
		Model:    cfg.Service.LiveModel,
		Voice:    cfg.Service.Voice,
		OnStatus: func(s string) { fmt.Fprintf(stdout, "* %s\n", s) },
		Logger:   logger,
	})

	if err := controller.Start(ctx); err != nil {
		return err
	}

	fmt.Fprintln(stdout, "Workout in progress. Press Enter (or Ctrl-C) to finish.")
	enter := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(stdin)
		scanner.Scan()
		close(enter)
	}()
	select {
	case <-enter:
	case <-ctx.Done():
		fmt.Fprintln(stdout)
	}

	record, err := controller.End(context.Background())
	if err != nil {
		return err
	}
	printSummary(stdout, record)

	if err := refreshStrategy(context.Background(), cfg, st, profile, logger, stdout); err != nil {
		// Strategy refresh is best effort; the workout is already saved.
		logger.Warn("strategy refresh failed", "error", err)
	}
	return nil
}

func printSummary(out io.Writer, record coach.WorkoutSession) {
	fmt.Fprintf(out, "\nWorkout complete: %s total\n", formatDuration(record.TotalDurationSeconds))
	if len(record.Exercises) == 0 {
		fmt.Fprintln(out, "No exercises detected this session.")
		return
	}
	for _, ex := range record.Exercises {
		fmt.Fprintf(out, "  %-16s %3d reps  %s\n", ex.Name, ex.Reps, formatDuration(ex.DurationSeconds))
	}
}

// refreshStrategy regenerates the expert strategy from the updated history
// and stores it on the profile.
func refreshStrategy(ctx context.Context, cfg *config.Config, st store.Store, profile coach.UserProfile, logger *slog.Logger, out io.Writer) error {
	gen, err := strategy.NewGenerator(ctx, cfg.Service.APIKey, cfg.Service.StrategyModel, logger)
	if err != nil {
		return err
	}
	history, err := st.GetSessions(ctx, profile.UserID)
	if err != nil {
		return err
	}
	text, err := gen.Generate(ctx, profile, history)
	if err != nil {
		return err
	}
	profile.ExpertSuggestions = text
	profile.LastAnalysisDate = time.Now().UTC().Format(time.RFC3339)
	if err := st.SaveProfile(ctx, profile); err != nil {
		return err
	}

	if s := strategy.Decode(text); s.IsStructured {
		fmt.Fprintf(out, "\nUpdated strategy: %s\n", s.Structured.Title)
		for _, p := range s.Structured.Points {
			fmt.Fprintf(out, "  - %s: %s\n", p.Focus, p.Instruction)
		}
	}
	return nil
}

func formatDuration(seconds int) string {
	d := time.Duration(seconds) * time.Second
	if d >= time.Minute {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), seconds%60)
	}
	return fmt.Sprintf("%ds", seconds)
}

func main() {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "repcoach: %v\n", err)
		os.Exit(1)
	}

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "repcoach: %v\n", err)
		os.Exit(1)
	}

	if err := run(context.Background(), opts, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "repcoach: %v\n", err)
		os.Exit(1)
	}
}
