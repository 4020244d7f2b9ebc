package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/repcoach/repcoach/pkg/coach"
)

const generatorInstruction = `You are an expert fitness strategist. Given a user's profile and their
recent workout history, produce a concise training strategy for their next
sessions: what to emphasize, what to correct, and how to progress. Respond
with JSON only.`

// contentCaller is the slice of the genai model surface the generator uses.
type contentCaller interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Generator produces a fresh structured strategy from a profile and its
// workout history with a single model call.
type Generator struct {
	models contentCaller
	model  string
	logger *slog.Logger
}

// NewGenerator builds a generator talking to the Gemini API.
func NewGenerator(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Generator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{models: client.Models, model: model, logger: logger}, nil
}

// responseSchema constrains the model to the structured strategy format.
func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title": {Type: genai.TypeString},
			"points": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"focus":       {Type: genai.TypeString},
						"instruction": {Type: genai.TypeString},
					},
					Required: []string{"focus", "instruction"},
				},
			},
		},
		Required: []string{"title", "points"},
	}
}

// Generate returns the new strategy string for the profile. On any failure
// it returns the profile's current strategy unchanged together with the
// error, so callers always have something usable to keep.
func (g *Generator) Generate(ctx context.Context, profile coach.UserProfile, history []coach.WorkoutSession) (string, error) {
	prompt := renderPrompt(profile, history)
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(generatorInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    responseSchema(),
	})
	if err != nil {
		return profile.ExpertSuggestions, fmt.Errorf("generating strategy: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return profile.ExpertSuggestions, fmt.Errorf("generating strategy: empty response")
	}
	g.logger.Debug("strategy generated", "user_id", profile.UserID, "bytes", len(text))
	return text, nil
}

// renderPrompt lays out the profile followed by the history, most recent
// session first.
func renderPrompt(profile coach.UserProfile, history []coach.WorkoutSession) string {
	var b strings.Builder
	b.WriteString("User profile:\n")
	fmt.Fprintf(&b, "- Name: %s\n", profile.DisplayName)
	if profile.Birthday != "" {
		fmt.Fprintf(&b, "- Birthday: %s\n", profile.Birthday)
	}
	if profile.Interests != "" {
		fmt.Fprintf(&b, "- Interests: %s\n", profile.Interests)
	}
	if profile.Goals != "" {
		fmt.Fprintf(&b, "- Goals: %s\n", profile.Goals)
	}

	if len(history) == 0 {
		b.WriteString("\nNo recorded workout sessions yet.\n")
		return b.String()
	}

	b.WriteString("\nRecent sessions, most recent first:\n")
	for _, ws := range history {
		fmt.Fprintf(&b, "\nSession on %s (%ds total):\n", ws.Date, ws.TotalDurationSeconds)
		if len(ws.Exercises) == 0 {
			b.WriteString("- no exercises logged\n")
			continue
		}
		for _, ex := range ws.Exercises {
			fmt.Fprintf(&b, "- %s: %d reps over %ds", ex.Name, ex.Reps, ex.DurationSeconds)
			if len(ex.Feedback) > 0 {
				fmt.Fprintf(&b, " (form notes: %s)", strings.Join(ex.Feedback, "; "))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
