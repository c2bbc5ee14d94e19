package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a training run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// TrainingRun describes one offline training run.
type TrainingRun struct {
	ID              string        `json:"id"`
	DataDir         string        `json:"data_dir"`
	ArtifactPath    string        `json:"artifact_path"`
	Classes         []string      `json:"classes"`
	Examples        int           `json:"examples"`
	Status          RunStatus     `json:"status"`
	BestEpoch       int           `json:"best_epoch"`
	BestValAccuracy float64       `json:"best_val_accuracy"`
	StoppedEarly    bool          `json:"stopped_early"`
	Error           string        `json:"error,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      *time.Time    `json:"finished_at,omitempty"`
	Epochs          []EpochRecord `json:"epochs,omitempty"`
}

// EpochRecord holds the metrics of one epoch of a run.
type EpochRecord struct {
	Epoch        int     `json:"epoch"`
	Loss         float64 `json:"loss"`
	Accuracy     float64 `json:"accuracy"`
	ValLoss      float64 `json:"val_loss"`
	ValAccuracy  float64 `json:"val_accuracy"`
	LearningRate float64 `json:"learning_rate"`
	Checkpointed bool    `json:"checkpointed"`
}

// TrainingRepository provides access to training runs and their epochs.
type TrainingRepository struct {
	db *sql.DB
}

// TrainingRuns returns the training run repository for this store.
func (s *Store) TrainingRuns() *TrainingRepository {
	return &TrainingRepository{db: s.db}
}

// Create inserts a run in the running state.
func (r *TrainingRepository) Create(run *TrainingRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.Status = RunRunning
	run.StartedAt = time.Now().UTC()

	classes, err := json.Marshal(run.Classes)
	if err != nil {
		return fmt.Errorf("marshal classes: %w", err)
	}

	_, err = r.db.Exec(
		`INSERT INTO training_runs (id, data_dir, artifact_path, classes, examples, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.DataDir, run.ArtifactPath, string(classes), run.Examples, string(run.Status), run.StartedAt,
	)
	return err
}

// Finish stores the outcome of a run. A non-nil runErr marks it failed.
func (r *TrainingRepository) Finish(run *TrainingRun, runErr error) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Status = RunCompleted
	run.Error = ""
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
	}

	result, err := r.db.Exec(
		`UPDATE training_runs
		 SET examples = ?, status = ?, best_epoch = ?, best_val_accuracy = ?, stopped_early = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		run.Examples, string(run.Status), run.BestEpoch, run.BestValAccuracy, run.StoppedEarly, run.Error, now, run.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddEpochs inserts epoch records for a run in a single transaction.
func (r *TrainingRepository) AddEpochs(runID string, epochs []EpochRecord) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO training_epochs (run_id, epoch, loss, accuracy, val_loss, val_accuracy, learning_rate, checkpointed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range epochs {
		if _, err := stmt.Exec(runID, e.Epoch, e.Loss, e.Accuracy, e.ValLoss, e.ValAccuracy, e.LearningRate, e.Checkpointed); err != nil {
			return fmt.Errorf("epoch %d: %w", e.Epoch, err)
		}
	}

	return tx.Commit()
}

const runColumns = `id, data_dir, artifact_path, classes, examples, status, best_epoch, best_val_accuracy, stopped_early, error, started_at, finished_at`

func scanRun(row interface{ Scan(...any) error }) (*TrainingRun, error) {
	run := &TrainingRun{}
	var classes, status string
	var finished sql.NullTime

	err := row.Scan(&run.ID, &run.DataDir, &run.ArtifactPath, &classes, &run.Examples, &status,
		&run.BestEpoch, &run.BestValAccuracy, &run.StoppedEarly, &run.Error, &run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(classes), &run.Classes); err != nil {
		return nil, fmt.Errorf("run %s classes: %w", run.ID, err)
	}
	run.Status = RunStatus(status)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}

// GetByID retrieves a run together with its epochs.
func (r *TrainingRepository) GetByID(id string) (*TrainingRun, error) {
	run, err := scanRun(r.db.QueryRow(`SELECT `+runColumns+` FROM training_runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	run.Epochs, err = r.epochs(id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (r *TrainingRepository) epochs(runID string) ([]EpochRecord, error) {
	rows, err := r.db.Query(
		`SELECT epoch, loss, accuracy, val_loss, val_accuracy, learning_rate, checkpointed
		 FROM training_epochs WHERE run_id = ? ORDER BY epoch`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	epochs := []EpochRecord{}
	for rows.Next() {
		var e EpochRecord
		if err := rows.Scan(&e.Epoch, &e.Loss, &e.Accuracy, &e.ValLoss, &e.ValAccuracy, &e.LearningRate, &e.Checkpointed); err != nil {
			return nil, err
		}
		epochs = append(epochs, e)
	}
	return epochs, rows.Err()
}

// List returns all runs, newest first, without their epochs.
func (r *TrainingRepository) List() ([]*TrainingRun, error) {
	rows, err := r.db.Query(`SELECT ` + runColumns + ` FROM training_runs ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []*TrainingRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// Delete removes a run and its epochs.
func (r *TrainingRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM training_runs WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
