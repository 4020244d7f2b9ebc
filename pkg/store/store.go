// Package store persists user profiles and finished workout sessions.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/repcoach/repcoach/pkg/coach"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when a requested profile does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence surface the session controller and the strategy
// generator depend on. Sessions are returned newest first.
type Store interface {
	GetProfile(ctx context.Context, userID string) (coach.UserProfile, error)
	SaveProfile(ctx context.Context, profile coach.UserProfile) error
	GetSessions(ctx context.Context, userID string) ([]coach.WorkoutSession, error)
	SaveSession(ctx context.Context, session coach.WorkoutSession) error
	Close() error
}

// SQLite is the Store implementation backed by a local SQLite file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// Open opens (or creates) the database at path and applies pending
// migrations.
func Open(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data dir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

func (s *SQLite) GetProfile(ctx context.Context, userID string) (coach.UserProfile, error) {
	var p coach.UserProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, display_name, birthday, interests, goals,
		       expert_suggestions, last_analysis_date
		FROM profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.DisplayName, &p.Birthday, &p.Interests, &p.Goals,
		&p.ExpertSuggestions, &p.LastAnalysisDate)
	if errors.Is(err, sql.ErrNoRows) {
		return coach.UserProfile{}, ErrNotFound
	}
	if err != nil {
		return coach.UserProfile{}, fmt.Errorf("loading profile %s: %w", userID, err)
	}
	return p, nil
}

func (s *SQLite) SaveProfile(ctx context.Context, profile coach.UserProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles
			(user_id, display_name, birthday, interests, goals,
			 expert_suggestions, last_analysis_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name       = excluded.display_name,
			birthday           = excluded.birthday,
			interests          = excluded.interests,
			goals              = excluded.goals,
			expert_suggestions = excluded.expert_suggestions,
			last_analysis_date = excluded.last_analysis_date,
			updated_at         = CURRENT_TIMESTAMP`,
		profile.UserID, profile.DisplayName, profile.Birthday, profile.Interests,
		profile.Goals, profile.ExpertSuggestions, profile.LastAnalysisDate)
	if err != nil {
		return fmt.Errorf("saving profile %s: %w", profile.UserID, err)
	}
	return nil
}

func (s *SQLite) GetSessions(ctx context.Context, userID string) ([]coach.WorkoutSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, date, total_duration_seconds, exercises
		FROM sessions WHERE user_id = ?
		ORDER BY date DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("loading sessions for %s: %w", userID, err)
	}
	defer rows.Close()

	var sessions []coach.WorkoutSession
	for rows.Next() {
		var (
			ws       coach.WorkoutSession
			exercise string
		)
		if err := rows.Scan(&ws.ID, &ws.UserID, &ws.Date, &ws.TotalDurationSeconds, &exercise); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if err := json.Unmarshal([]byte(exercise), &ws.Exercises); err != nil {
			return nil, fmt.Errorf("decoding exercises for session %s: %w", ws.ID, err)
		}
		sessions = append(sessions, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

func (s *SQLite) SaveSession(ctx context.Context, session coach.WorkoutSession) error {
	exercises, err := json.Marshal(session.Exercises)
	if err != nil {
		return fmt.Errorf("encoding exercises: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, date, total_duration_seconds, exercises)
		VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.Date, session.TotalDurationSeconds, string(exercises))
	if err != nil {
		return fmt.Errorf("saving session %s: %w", session.ID, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
