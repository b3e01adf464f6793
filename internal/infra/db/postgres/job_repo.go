package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

const Schema = `
CREATE TABLE IF NOT EXISTS analysis_jobs (
  id           TEXT PRIMARY KEY,
  session_id   TEXT        NOT NULL,
  frameworks   JSONB       NOT NULL DEFAULT '[]',
  vendor_name  TEXT        NOT NULL DEFAULT '-',
  status       TEXT        NOT NULL,
  progress     DOUBLE PRECISION NOT NULL DEFAULT 0,
  current_step TEXT        NOT NULL DEFAULT '',
  results      JSONB       NULL,
  error        TEXT        NOT NULL DEFAULT '',
  report_url   TEXT        NOT NULL DEFAULT '',
  started_at   TIMESTAMPTZ NOT NULL,
  completed_at TIMESTAMPTZ NULL
);
CREATE INDEX IF NOT EXISTS idx_analysis_jobs_session ON analysis_jobs (session_id, started_at DESC);`

// unique_violation
const pgUniqueViolation = pq.ErrorCode("23505")

var _ domain.Repository = (*JobRepository)(nil)

type JobRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db, now: time.Now}
}

func (r *JobRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, Schema)
	return err
}

func (r *JobRepository) Create(ctx context.Context, j *domain.Job) error {
	if err := domain.ValidateStatus(j.Status); err != nil {
		return err
	}
	frameworks, err := encodeFrameworks(j.Frameworks)
	if err != nil {
		return err
	}
	results, err := encodeReport(j.Results)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO analysis_jobs
(id, session_id, frameworks, vendor_name, status, progress, current_step,
 results, error, report_url, started_at, completed_at)
VALUES ($1,$2,$3::jsonb,$4,$5,$6,$7,$8::jsonb,$9,$10,$11,$12);`

	_, err = r.db.ExecContext(ctx, q,
		j.ID, j.SessionID, frameworks, stringOrDash(j.VendorName), j.Status, j.Progress, j.CurrentStep,
		results, j.Error, j.ReportURL, j.StartedAt.UTC(), nullTime(j.CompletedAt),
	)
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == pgUniqueViolation {
		return domain.ErrDuplicateID
	}
	return err
}

func (r *JobRepository) Get(ctx context.Context, id domain.ID) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id=$1;`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return j, err
}

// Update is the same read-modify-write as the MySQL repository; the
// transition rules live in domain.JobUpdate.Apply.
func (r *JobRepository) Update(ctx context.Context, id domain.ID, u domain.JobUpdate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id=$1 FOR UPDATE;`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := u.Apply(j, r.now()); err != nil {
		return err
	}
	results, err := encodeReport(j.Results)
	if err != nil {
		return err
	}
	const q = `
UPDATE analysis_jobs SET
 status=$1, progress=$2, current_step=$3, results=$4::jsonb, error=$5, report_url=$6, completed_at=$7
WHERE id=$8;`
	if _, err := tx.ExecContext(ctx, q,
		j.Status, j.Progress, j.CurrentStep, results, j.Error, j.ReportURL, nullTime(j.CompletedAt), id,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *JobRepository) ListBySession(ctx context.Context, sessionID string) ([]*domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE session_id=$1 ORDER BY started_at DESC;`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
