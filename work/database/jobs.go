package database

import (
	"database/sql"
	"fmt"
	"time"
)

// JobRow represents a conversion job record
type JobRow struct {
	ID          string
	HostID      string
	SourcePath  string
	TargetPath  string
	Kind        string
	State       string
	Error       string
	SubmittedBy string
	CreatedAt   time.Time
	StartedAt   sql.NullTime
	FinishedAt  sql.NullTime
}

// InsertJob records a newly accepted job in the queued state
func (db *DB) InsertJob(row *JobRow) error {
	query := `
		INSERT INTO conversion_jobs (id, host_id, source_path, target_path, kind, state, submitted_by, created_at)
		VALUES (?, ?, ?, ?, ?, 'queued', ?, CURRENT_TIMESTAMP)
	`

	_, err := db.Exec(query, row.ID, row.HostID, row.SourcePath, row.TargetPath, row.Kind, row.SubmittedBy)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

// MarkJobRunning transitions a job to the running state
func (db *DB) MarkJobRunning(id string) error {
	_, err := db.Exec(`
		UPDATE conversion_jobs
		SET state = 'running', started_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	return nil
}

// FinishJob transitions a job to its terminal state. An empty errMsg
// records success, anything else records failure with the message.
func (db *DB) FinishJob(id string, errMsg string) error {
	state := "done"
	if errMsg != "" {
		state = "error"
	}

	_, err := db.Exec(`
		UPDATE conversion_jobs
		SET state = ?, error = ?, finished_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, state, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}

// GetJob returns a single job by id
func (db *DB) GetJob(id string) (*JobRow, error) {
	row := &JobRow{}
	err := db.QueryRow(`
		SELECT id, host_id, source_path, target_path, kind, state, error, submitted_by, created_at, started_at, finished_at
		FROM conversion_jobs
		WHERE id = ?
	`, id).Scan(&row.ID, &row.HostID, &row.SourcePath, &row.TargetPath, &row.Kind, &row.State,
		&row.Error, &row.SubmittedBy, &row.CreatedAt, &row.StartedAt, &row.FinishedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row, nil
}

// RecentJobs returns the most recently created jobs, newest first
func (db *DB) RecentJobs(limit int) ([]JobRow, error) {
	rows, err := db.Query(`
		SELECT id, host_id, source_path, target_path, kind, state, error, submitted_by, created_at, started_at, finished_at
		FROM conversion_jobs
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []JobRow
	for rows.Next() {
		var row JobRow
		if err := rows.Scan(&row.ID, &row.HostID, &row.SourcePath, &row.TargetPath, &row.Kind, &row.State,
			&row.Error, &row.SubmittedBy, &row.CreatedAt, &row.StartedAt, &row.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, row)
	}

	return jobs, rows.Err()
}

// CountJobsByState returns a state -> count map over all recorded jobs
func (db *DB) CountJobsByState() (map[string]int, error) {
	rows, err := db.Query("SELECT state, COUNT(*) FROM conversion_jobs GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[state] = n
	}

	return counts, rows.Err()
}
