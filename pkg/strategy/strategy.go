// Package strategy generates and decodes the per-user expert coaching
// strategy. The stored form is a string: either structured JSON with a title
// and focus points, or free text written before the structured format
// existed.
package strategy

import (
	"encoding/json"
	"strings"
)

// Point is one coaching focus area with its actionable instruction.
type Point struct {
	Focus       string `json:"focus"`
	Instruction string `json:"instruction"`
}

// Structured is the current strategy format.
type Structured struct {
	Title  string  `json:"title"`
	Points []Point `json:"points"`
}

// Strategy is the decoded form of a stored strategy string. Exactly one of
// Structured/LegacyText is meaningful, selected by IsStructured.
type Strategy struct {
	IsStructured bool
	Structured   Structured
	LegacyText   string
}

// Decode parses a stored strategy string. Anything that does not parse as
// the structured format is carried verbatim as legacy text; Decode never
// fails.
func Decode(raw string) Strategy {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Strategy{}
	}
	var s Structured
	if err := json.Unmarshal([]byte(trimmed), &s); err != nil || s.Title == "" {
		return Strategy{LegacyText: raw}
	}
	return Strategy{IsStructured: true, Structured: s}
}

// Render flattens a strategy into prompt-ready text.
func (s Strategy) Render() string {
	if !s.IsStructured {
		return s.LegacyText
	}
	var b strings.Builder
	b.WriteString(s.Structured.Title)
	for _, p := range s.Structured.Points {
		b.WriteString("\n- ")
		b.WriteString(p.Focus)
		if p.Instruction != "" {
			b.WriteString(": ")
			b.WriteString(p.Instruction)
		}
	}
	return b.String()
}

// Empty reports whether the strategy carries no content at all.
func (s Strategy) Empty() bool {
	return !s.IsStructured && strings.TrimSpace(s.LegacyText) == ""
}
