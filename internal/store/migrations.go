package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Attempts table - one row per recognition request
		`CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			expected TEXT NOT NULL,
			predicted TEXT NOT NULL,
			confidence REAL NOT NULL,
			correct INTEGER NOT NULL DEFAULT 0,
			frames_total INTEGER NOT NULL DEFAULT 0,
			frames_with_hand INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT 'http',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Training runs table - one row per offline training run
		`CREATE TABLE IF NOT EXISTS training_runs (
			id TEXT PRIMARY KEY,
			data_dir TEXT NOT NULL,
			artifact_path TEXT NOT NULL,
			classes TEXT NOT NULL,
			examples INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL CHECK(status IN ('running', 'completed', 'failed')),
			best_epoch INTEGER NOT NULL DEFAULT 0,
			best_val_accuracy REAL NOT NULL DEFAULT 0,
			stopped_early INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME
		)`,

		// Training epochs table - per-epoch metrics of a run
		`CREATE TABLE IF NOT EXISTS training_epochs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES training_runs(id) ON DELETE CASCADE,
			epoch INTEGER NOT NULL,
			loss REAL NOT NULL,
			accuracy REAL NOT NULL,
			val_loss REAL NOT NULL,
			val_accuracy REAL NOT NULL,
			learning_rate REAL NOT NULL,
			checkpointed INTEGER NOT NULL DEFAULT 0,
			UNIQUE(run_id, epoch)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_attempts_created_at ON attempts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_expected ON attempts(expected)`,
		`CREATE INDEX IF NOT EXISTS idx_training_epochs_run_id ON training_epochs(run_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
