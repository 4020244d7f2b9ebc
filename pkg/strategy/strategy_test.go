package strategy

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/repcoach/repcoach/pkg/coach"
)

func TestDecodeStructured(t *testing.T) {
	t.Parallel()

	s := Decode(`{"title":"Strength block","points":[{"focus":"Squat depth","instruction":"Pause at the bottom"}]}`)
	if !s.IsStructured {
		t.Fatal("expected structured strategy")
	}
	if s.Structured.Title != "Strength block" {
		t.Fatalf("title = %q", s.Structured.Title)
	}
	if len(s.Structured.Points) != 1 || s.Structured.Points[0].Focus != "Squat depth" {
		t.Fatalf("points = %+v", s.Structured.Points)
	}
}

func TestDecodeLegacyText(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"Focus on full range of motion this week.",
		`{"broken json`,
		`{"points":[]}`, // parses but has no title
	} {
		s := Decode(raw)
		if s.IsStructured {
			t.Fatalf("Decode(%q) should be legacy text", raw)
		}
		if s.LegacyText != raw {
			t.Fatalf("LegacyText = %q, want %q", s.LegacyText, raw)
		}
	}
}

func TestDecodeEmpty(t *testing.T) {
	t.Parallel()

	if s := Decode("  \n"); !s.Empty() {
		t.Fatalf("Decode(blank) = %+v, want empty", s)
	}
}

func TestRenderStructured(t *testing.T) {
	t.Parallel()

	s := Decode(`{"title":"Week plan","points":[{"focus":"Tempo","instruction":"3s eccentric"},{"focus":"Breathing"}]}`)
	got := s.Render()
	want := "Week plan\n- Tempo: 3s eccentric\n- Breathing"
	if got != want {
		t.Fatalf("Render() = %q, want %q", got, want)
	}
}

type fakeCaller struct {
	gotModel    string
	gotContents []*genai.Content
	gotConfig   *genai.GenerateContentConfig
	text        string
	err         error
}

func (f *fakeCaller) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotModel = model
	f.gotContents = contents
	f.gotConfig = config
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}}},
		},
	}, nil
}

func TestGenerateRequestsStructuredJSON(t *testing.T) {
	t.Parallel()

	caller := &fakeCaller{text: `{"title":"Next block","points":[]}`}
	g := &Generator{models: caller, model: "gemini-2.5-flash", logger: slog.New(slog.DiscardHandler)}

	profile := coach.UserProfile{UserID: "u1", DisplayName: "Alex", Goals: "stronger squat"}
	history := []coach.WorkoutSession{
		{Date: "2026-08-28T18:30:00Z", TotalDurationSeconds: 900, Exercises: []coach.ExerciseLogEntry{
			{Name: "Squat", Reps: 12, DurationSeconds: 180, Feedback: []string{"knees caving"}},
		}},
		{Date: "2026-08-20T09:00:00Z", TotalDurationSeconds: 600},
	}

	got, err := g.Generate(context.Background(), profile, history)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != caller.text {
		t.Fatalf("strategy = %q", got)
	}
	if caller.gotModel != "gemini-2.5-flash" {
		t.Fatalf("model = %q", caller.gotModel)
	}
	if caller.gotConfig.ResponseMIMEType != "application/json" {
		t.Fatalf("mime = %q", caller.gotConfig.ResponseMIMEType)
	}
	if caller.gotConfig.ResponseSchema == nil || caller.gotConfig.ResponseSchema.Properties["title"] == nil {
		t.Fatal("response schema missing title")
	}

	prompt := caller.gotContents[0].Parts[0].Text
	if !strings.Contains(prompt, "Alex") || !strings.Contains(prompt, "stronger squat") {
		t.Fatalf("prompt missing profile: %q", prompt)
	}
	// Most recent session must come first.
	if strings.Index(prompt, "2026-08-28") > strings.Index(prompt, "2026-08-20") {
		t.Fatalf("history not most-recent-first: %q", prompt)
	}
	if !strings.Contains(prompt, "knees caving") {
		t.Fatalf("prompt missing form notes: %q", prompt)
	}
}

func TestGenerateFailureKeepsPreviousStrategy(t *testing.T) {
	t.Parallel()

	caller := &fakeCaller{err: errors.New("quota exceeded")}
	g := &Generator{models: caller, model: "gemini-2.5-flash", logger: slog.New(slog.DiscardHandler)}

	profile := coach.UserProfile{UserID: "u1", ExpertSuggestions: "keep doing mobility work"}
	got, err := g.Generate(context.Background(), profile, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got != "keep doing mobility work" {
		t.Fatalf("strategy = %q, want previous suggestions preserved", got)
	}
}
