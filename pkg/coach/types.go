// Package coach holds the domain model for live workout coaching sessions:
// media chunks flowing to the reasoning service, status reports flowing back,
// and the committed exercise timeline derived from them.
package coach

import "time"

// IdleExercise is the sentinel exercise name meaning "no exercise in progress".
const IdleExercise = "Idle"

// ChunkKind identifies the payload type of a MediaChunk.
type ChunkKind string

const (
	ChunkAudio ChunkKind = "audio"
	ChunkImage ChunkKind = "image"
)

// MediaChunk is a timestamped, typed media payload produced by the capture
// pipeline and consumed by the live session client. Chunks are transient and
// never persisted.
type MediaChunk struct {
	Kind       ChunkKind
	MIMEType   string
	Data       []byte
	CapturedAt time.Time
}

// StatusReport is the structured exercise status the reasoning service
// reports through the report_exercise_status tool.
type StatusReport struct {
	Exercise      string `json:"exercise_name"`
	Reps          int    `json:"current_reps"`
	DetectedError string `json:"detected_error"`
	Suggestion    string `json:"correction_suggestion"`
	GoodForm      bool   `json:"is_good_form"`
}

// ExerciseLogEntry is one committed set in a workout timeline.
type ExerciseLogEntry struct {
	Name            string   `json:"name"`
	DurationSeconds int      `json:"durationSeconds"`
	Reps            int      `json:"reps"`
	Feedback        []string `json:"feedback"`
}

// WorkoutSession is the immutable record of a finished live session.
// Field names are the persisted format and must only change additively.
type WorkoutSession struct {
	ID                   string             `json:"id"`
	UserID               string             `json:"userId"`
	Date                 string             `json:"date"` // ISO 8601 start time
	TotalDurationSeconds int                `json:"totalDurationSeconds"`
	Exercises            []ExerciseLogEntry `json:"exercises"`
}

// UserProfile is the stored per-user profile, including the AI-generated
// expert strategy text (structured JSON or legacy free text).
type UserProfile struct {
	UserID            string `json:"userId"`
	DisplayName       string `json:"displayName"`
	Birthday          string `json:"birthday"`
	Interests         string `json:"interests"`
	Goals             string `json:"goals"`
	ExpertSuggestions string `json:"expertSuggestions"`
	LastAnalysisDate  string `json:"lastAnalysisDate"`
}
