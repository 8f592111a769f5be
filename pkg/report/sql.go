package report

import (
	"context"
	"database/sql"
	"fmt"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"go.yarde.network/sweeper/pkg/outcome"
)

// SQLStore keeps job reports in a MariaDB/MySQL table.
type SQLStore struct {
	DB        *sqlx.DB
	TableName string
}

// CreateTable creates the job reports table.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	// language=MariaDB
	const template = `CREATE TABLE %s (
	job_id VARCHAR(512) NOT NULL PRIMARY KEY,
	last_success DATETIME,
	last_failure DATETIME,
	failure_bucket SMALLINT UNSIGNED DEFAULT 0 NOT NULL,
	failure_message VARCHAR(1024) DEFAULT '' NOT NULL,
	last_progress DATETIME,
	consec_failures INT UNSIGNED DEFAULT 0 NOT NULL
);`
	stmt := fmt.Sprintf(template, s.TableName)
	_, err := s.DB.ExecContext(ctx, stmt)
	return err
}

type reportRow struct {
	JobID          string       `db:"job_id"`
	LastSuccess    sql.NullTime `db:"last_success"`
	LastFailure    sql.NullTime `db:"last_failure"`
	FailureBucket  uint16       `db:"failure_bucket"`
	FailureMessage string       `db:"failure_message"`
	LastProgress   sql.NullTime `db:"last_progress"`
	ConsecFailures uint32       `db:"consec_failures"`
}

// GetReport returns the record for a job ID, or nil if none exists.
func (s *SQLStore) GetReport(ctx context.Context, jobID string) (*Report, error) {
	const stmt = `SELECT job_id, last_success, last_failure, failure_bucket,
failure_message, last_progress, consec_failures
FROM %s WHERE job_id = ?;`
	var row reportRow
	err := s.DB.GetContext(ctx, &row, fmt.Sprintf(stmt, s.TableName), jobID)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get job report: %w", err)
	}
	rep := &Report{
		JobID:          row.JobID,
		FailureBucket:  outcome.Code(row.FailureBucket),
		FailureMessage: row.FailureMessage,
		ConsecFailures: row.ConsecFailures,
	}
	if row.LastSuccess.Valid {
		rep.LastSuccess = row.LastSuccess.Time
	}
	if row.LastFailure.Valid {
		rep.LastFailure = row.LastFailure.Time
	}
	if row.LastProgress.Valid {
		rep.LastProgress = row.LastProgress.Time
	}
	return rep, nil
}

// RecordOutcomes folds a batch of outcomes into the ledger.
func (s *SQLStore) RecordOutcomes(ctx context.Context, outcomes []Outcome) error {
	for _, out := range outcomes {
		if err := s.recordOne(ctx, out); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) recordOne(ctx context.Context, out Outcome) error {
	at := sql.NullTime{Valid: true, Time: out.Time}
	switch {
	case out.Code == outcome.StillWorking:
		// language=MariaDB
		const stmt = `INSERT INTO %s (job_id, last_progress) VALUES (?, ?)
ON DUPLICATE KEY UPDATE last_progress = VALUES(last_progress);`
		_, err := s.DB.ExecContext(ctx, fmt.Sprintf(stmt, s.TableName), out.JobID, at)
		return err
	case out.Code == outcome.Success:
		// language=MariaDB
		const stmt = `INSERT INTO %s (job_id, last_success, consec_failures) VALUES (?, ?, 0)
ON DUPLICATE KEY UPDATE last_success = VALUES(last_success), consec_failures = 0;`
		_, err := s.DB.ExecContext(ctx, fmt.Sprintf(stmt, s.TableName), out.JobID, at)
		return err
	default:
		// language=MariaDB
		const stmt = `INSERT INTO %s
(job_id, last_failure, failure_bucket, failure_message, consec_failures)
VALUES (?, ?, ?, ?, 1)
ON DUPLICATE KEY UPDATE
	last_failure = VALUES(last_failure),
	failure_bucket = VALUES(failure_bucket),
	failure_message = VALUES(failure_message),
	consec_failures = consec_failures + 1;`
		_, err := s.DB.ExecContext(ctx, fmt.Sprintf(stmt, s.TableName),
			out.JobID, at, uint16(out.Code), truncateMessage(out.Message))
		return err
	}
}

const maxMessageLen = 1024

func truncateMessage(msg string) string {
	if len(msg) <= maxMessageLen {
		return msg
	}
	// Back off to a rune boundary so the column stays valid UTF-8.
	cut := maxMessageLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

var _ Store = (*SQLStore)(nil)
