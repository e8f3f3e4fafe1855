// internal/ledger/postgres.go
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/InternetOfUs/app-survey/internal/models"
)

//go:embed schema.sql
var schemaSQL string

const (
	selectFailureSQL = `SELECT subject_id, raw_survey_answer, failure_time, retry_count
		FROM failed_profile_updates WHERE subject_id = $1`

	upsertFailureSQL = `INSERT INTO failed_profile_updates (subject_id, raw_survey_answer, failure_time, retry_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject_id) DO UPDATE SET
			raw_survey_answer = EXCLUDED.raw_survey_answer,
			failure_time = EXCLUDED.failure_time,
			retry_count = EXCLUDED.retry_count`

	deleteFailureSQL = `DELETE FROM failed_profile_updates WHERE subject_id = $1`

	listFailuresSQL = `SELECT subject_id, raw_survey_answer, failure_time, retry_count
		FROM failed_profile_updates ORDER BY failure_time ASC, subject_id ASC`

	selectSuccessSQL = `SELECT subject_id, last_update_time FROM last_profile_updates WHERE subject_id = $1`

	upsertSuccessSQL = `INSERT INTO last_profile_updates (subject_id, last_update_time)
		VALUES ($1, $2)
		ON CONFLICT (subject_id) DO UPDATE SET last_update_time = EXCLUDED.last_update_time`
)

// PostgresStore keeps the ledger in two tables keyed by subject id.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the ledger tables when they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFailure(ctx context.Context, subjectID string) (*models.FailedUpdateRecord, error) {
	var rec models.FailedUpdateRecord
	var raw []byte
	err := s.db.QueryRowContext(ctx, selectFailureSQL, subjectID).
		Scan(&rec.SubjectID, &raw, &rec.FailureTime, &rec.RetryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read failure record: %w", err)
	}
	rec.RawSurveyAnswer = raw
	return &rec, nil
}

func (s *PostgresStore) UpsertFailure(ctx context.Context, rec models.FailedUpdateRecord) error {
	_, err := s.db.ExecContext(ctx, upsertFailureSQL,
		rec.SubjectID, string(rec.RawSurveyAnswer), rec.FailureTime.UTC(), rec.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to upsert failure record: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteFailure(ctx context.Context, subjectID string) error {
	if _, err := s.db.ExecContext(ctx, deleteFailureSQL, subjectID); err != nil {
		return fmt.Errorf("failed to delete failure record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFailures(ctx context.Context) ([]models.FailedUpdateRecord, error) {
	rows, err := s.db.QueryContext(ctx, listFailuresSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list failure records: %w", err)
	}
	defer rows.Close()

	var out []models.FailedUpdateRecord
	for rows.Next() {
		var rec models.FailedUpdateRecord
		var raw []byte
		if err := rows.Scan(&rec.SubjectID, &raw, &rec.FailureTime, &rec.RetryCount); err != nil {
			return nil, fmt.Errorf("failed to scan failure record: %w", err)
		}
		rec.RawSurveyAnswer = raw
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list failure records: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetLastSuccess(ctx context.Context, subjectID string) (*models.LastSuccessRecord, error) {
	var rec models.LastSuccessRecord
	err := s.db.QueryRowContext(ctx, selectSuccessSQL, subjectID).Scan(&rec.SubjectID, &rec.LastUpdateTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read success record: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) UpsertLastSuccess(ctx context.Context, rec models.LastSuccessRecord) error {
	if _, err := s.db.ExecContext(ctx, upsertSuccessSQL, rec.SubjectID, rec.LastUpdateTime.UTC()); err != nil {
		return fmt.Errorf("failed to upsert success record: %w", err)
	}
	return nil
}
