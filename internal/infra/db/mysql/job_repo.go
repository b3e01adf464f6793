package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

// Schema creates the jobs table.
const Schema = `
CREATE TABLE IF NOT EXISTS analysis_jobs (
  id           VARCHAR(64)  NOT NULL PRIMARY KEY,
  session_id   VARCHAR(64)  NOT NULL,
  frameworks   JSON         NOT NULL,
  vendor_name  VARCHAR(255) NOT NULL DEFAULT '-',
  status       VARCHAR(16)  NOT NULL,
  progress     DOUBLE       NOT NULL DEFAULT 0,
  current_step VARCHAR(255) NOT NULL DEFAULT '',
  results      JSON         NULL,
  error        TEXT         NOT NULL,
  report_url   VARCHAR(1024) NOT NULL DEFAULT '',
  started_at   DATETIME(6)  NOT NULL,
  completed_at DATETIME(6)  NULL,
  INDEX idx_analysis_jobs_session (session_id, started_at)
);`

const mysqlDuplicateEntry = 1062

var _ domain.Repository = (*JobRepository)(nil)

type JobRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db, now: time.Now}
}

// Migrate applies Schema.
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
VALUES (?,?,?,?,?,?,?,?,?,?,?,?);`

	_, err = r.db.ExecContext(ctx, q,
		j.ID, j.SessionID, frameworks, stringOrDash(j.VendorName), j.Status, j.Progress, j.CurrentStep,
		results, j.Error, j.ReportURL, j.StartedAt.UTC(), nullTime(j.CompletedAt),
	)
	var me *gomysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
		return domain.ErrDuplicateID
	}
	return err
}

func (r *JobRepository) Get(ctx context.Context, id domain.ID) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id=? LIMIT 1;`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return j, err
}

// Update locks the row, applies u in Go and writes it back in one
// transaction, so concurrent claims serialise on the row lock.
func (r *JobRepository) Update(ctx context.Context, id domain.ID, u domain.JobUpdate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id=? FOR UPDATE;`, id)
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
 status=?, progress=?, current_step=?, results=?, error=?, report_url=?, completed_at=?
WHERE id=?;`
	if _, err := tx.ExecContext(ctx, q,
		j.Status, j.Progress, j.CurrentStep, results, j.Error, j.ReportURL, nullTime(j.CompletedAt), id,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *JobRepository) ListBySession(ctx context.Context, sessionID string) ([]*domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE session_id=? ORDER BY started_at DESC;`, sessionID)
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
