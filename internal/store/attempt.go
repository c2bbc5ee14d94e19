package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Attempt records one recognition request and its outcome.
type Attempt struct {
	ID             string    `json:"id"`
	Expected       string    `json:"expected"`
	Predicted      string    `json:"predicted"`
	Confidence     float64   `json:"confidence"`
	Correct        bool      `json:"correct"`
	FramesTotal    int       `json:"frames_total"`
	FramesWithHand int       `json:"frames_with_hand"`
	Source         string    `json:"source"`
	CreatedAt      time.Time `json:"created_at"`
}

// ClassStats aggregates attempts for one expected class.
type ClassStats struct {
	Expected string  `json:"expected"`
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// AttemptStats aggregates all attempts.
type AttemptStats struct {
	Total    int          `json:"total"`
	Correct  int          `json:"correct"`
	Accuracy float64      `json:"accuracy"`
	ByClass  []ClassStats `json:"by_class"`
}

// AttemptRepository provides access to recognition attempts.
type AttemptRepository struct {
	db *sql.DB
}

// Attempts returns the attempt repository for this store.
func (s *Store) Attempts() *AttemptRepository {
	return &AttemptRepository{db: s.db}
}

// Create inserts an attempt, assigning an ID and creation time when unset.
func (r *AttemptRepository) Create(a *Attempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Source == "" {
		a.Source = "http"
	}

	_, err := r.db.Exec(
		`INSERT INTO attempts (id, expected, predicted, confidence, correct, frames_total, frames_with_hand, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Expected, a.Predicted, a.Confidence, a.Correct, a.FramesTotal, a.FramesWithHand, a.Source, a.CreatedAt,
	)
	return err
}

const attemptColumns = `id, expected, predicted, confidence, correct, frames_total, frames_with_hand, source, created_at`

func scanAttempt(row interface{ Scan(...any) error }) (*Attempt, error) {
	a := &Attempt{}
	err := row.Scan(&a.ID, &a.Expected, &a.Predicted, &a.Confidence, &a.Correct,
		&a.FramesTotal, &a.FramesWithHand, &a.Source, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByID retrieves an attempt by its ID.
func (r *AttemptRepository) GetByID(id string) (*Attempt, error) {
	a, err := scanAttempt(r.db.QueryRow(`SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// List returns the most recent attempts, newest first. A limit of zero or
// less returns all of them.
func (r *AttemptRepository) List(limit int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(
		`SELECT `+attemptColumns+` FROM attempts ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []*Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return attempts, nil
}

// Stats aggregates all attempts overall and per expected class.
func (r *AttemptRepository) Stats() (*AttemptStats, error) {
	rows, err := r.db.Query(
		`SELECT expected, COUNT(*), COALESCE(SUM(correct), 0)
		 FROM attempts GROUP BY expected ORDER BY expected`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &AttemptStats{ByClass: []ClassStats{}}
	for rows.Next() {
		var c ClassStats
		if err := rows.Scan(&c.Expected, &c.Total, &c.Correct); err != nil {
			return nil, err
		}
		c.Accuracy = ratio(c.Correct, c.Total)
		stats.Total += c.Total
		stats.Correct += c.Correct
		stats.ByClass = append(stats.ByClass, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats.Accuracy = ratio(stats.Correct, stats.Total)
	return stats, nil
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}
