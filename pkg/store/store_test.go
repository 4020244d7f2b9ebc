package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/repcoach/repcoach/pkg/coach"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "repcoach.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProfileRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetProfile(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing profile err = %v, want ErrNotFound", err)
	}

	p := coach.UserProfile{
		UserID:            "u1",
		DisplayName:       "Alex",
		Birthday:          "1990-04-12",
		Interests:         "climbing",
		Goals:             "build strength",
		ExpertSuggestions: `{"title":"Plan","points":[]}`,
		LastAnalysisDate:  "2026-08-01T10:00:00Z",
	}
	if err := s.SaveProfile(ctx, p); err != nil {
		t.Fatalf("save profile: %v", err)
	}

	got, err := s.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if got != p {
		t.Fatalf("profile = %+v, want %+v", got, p)
	}
}

func TestSaveProfileUpserts(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	p := coach.UserProfile{UserID: "u1", DisplayName: "Alex"}
	if err := s.SaveProfile(ctx, p); err != nil {
		t.Fatalf("first save: %v", err)
	}
	p.Goals = "run a marathon"
	p.ExpertSuggestions = "focus on base mileage"
	if err := s.SaveProfile(ctx, p); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := s.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if got.Goals != "run a marathon" || got.ExpertSuggestions != "focus on base mileage" {
		t.Fatalf("profile not updated: %+v", got)
	}
}

func TestSessionsNewestFirst(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	older := coach.WorkoutSession{
		ID:                   "s1",
		UserID:               "u1",
		Date:                 "2026-08-20T09:00:00Z",
		TotalDurationSeconds: 600,
		Exercises: []coach.ExerciseLogEntry{
			{Name: "Squat", DurationSeconds: 120, Reps: 15, Feedback: []string{"knees tracking inward"}},
		},
	}
	newer := coach.WorkoutSession{
		ID:                   "s2",
		UserID:               "u1",
		Date:                 "2026-08-28T18:30:00Z",
		TotalDurationSeconds: 900,
		Exercises: []coach.ExerciseLogEntry{
			{Name: "Pushup", DurationSeconds: 90, Reps: 20},
		},
	}
	other := coach.WorkoutSession{ID: "s3", UserID: "u2", Date: "2026-08-29T08:00:00Z"}

	for _, ws := range []coach.WorkoutSession{older, newer, other} {
		if err := s.SaveSession(ctx, ws); err != nil {
			t.Fatalf("save session %s: %v", ws.ID, err)
		}
	}

	got, err := s.GetSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("get sessions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("sessions = %d, want 2", len(got))
	}
	if got[0].ID != "s2" || got[1].ID != "s1" {
		t.Fatalf("order = [%s %s], want newest first", got[0].ID, got[1].ID)
	}
	if got[1].Exercises[0].Feedback[0] != "knees tracking inward" {
		t.Fatalf("exercises not preserved: %+v", got[1].Exercises)
	}
}

func TestGetSessionsEmpty(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	got, err := s.GetSessions(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get sessions: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("sessions = %d, want 0", len(got))
	}
}
