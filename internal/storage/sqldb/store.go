// Package sqldb is a SQL implementation of the storage interfaces using
// raw parameterized queries over sqlx, with multi-dialect support.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/calliope-ai/calliope/internal/domain"
	"github.com/calliope-ai/calliope/internal/storage"
	"github.com/calliope-ai/calliope/internal/storage/dialect"
)

// Store is a SQL implementation of storage.Store.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ storage.Store = (*Store)(nil)

// Config holds database connection configuration.
type Config struct {
	Driver string // sqlite, postgres, mysql
	DSN    string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// NewSQLite creates a SQLite-backed store.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	ts := s.dialect.TimestampType()
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS executions (
id TEXT PRIMARY KEY,
chain_id TEXT NOT NULL,
user_id TEXT,
status TEXT NOT NULL,
error_message TEXT,
started_at %s NOT NULL,
completed_at %s
)`, ts, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS step_results (
id TEXT PRIMARY KEY,
execution_id TEXT NOT NULL,
step_id TEXT NOT NULL,
position INTEGER NOT NULL,
input_data TEXT NOT NULL,
output_data TEXT,
status TEXT NOT NULL,
error TEXT,
usage TEXT,
started_at %s,
completed_at %s,
FOREIGN KEY (execution_id) REFERENCES executions(id) ON DELETE CASCADE
)`, ts, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS execution_events (
id TEXT PRIMARY KEY,
execution_id TEXT NOT NULL,
seq INTEGER NOT NULL,
type TEXT NOT NULL,
step_id TEXT,
payload TEXT,
created_at %s NOT NULL,
FOREIGN KEY (execution_id) REFERENCES executions(id) ON DELETE CASCADE
)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chain_jobs (
id TEXT PRIMARY KEY,
user_id TEXT,
execution_id TEXT,
status TEXT NOT NULL,
partial_content TEXT,
response_data TEXT,
error_message TEXT,
created_at %s NOT NULL,
updated_at %s NOT NULL,
status_changed_at %s NOT NULL
)`, ts, ts, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_jobs (
id TEXT PRIMARY KEY,
user_id TEXT,
status TEXT NOT NULL,
progress INTEGER NOT NULL DEFAULT 0,
processing_stage TEXT,
file_name TEXT NOT NULL,
file_size INTEGER NOT NULL,
file_type TEXT NOT NULL,
purpose TEXT,
options TEXT NOT NULL,
upload_id TEXT,
object_key TEXT,
result_location TEXT,
result TEXT,
result_ref TEXT,
error_message TEXT,
created_at %s NOT NULL,
completed_at %s
)`, ts, ts),
		`CREATE INDEX IF NOT EXISTS idx_step_results_execution ON step_results(execution_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_events_execution ON execution_events(execution_id, seq)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

// --- executions ---

func (s *Store) CreateExecution(ctx context.Context, ex *domain.Execution) error {
	if ex.StartedAt.IsZero() {
		ex.StartedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO executions (id, chain_id, user_id, status, error_message, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.ChainID, nullString(ex.UserID), string(ex.Status),
		nullString(ex.ErrorMessage), ex.StartedAt, nullTime(ex.CompletedAt))
	return err
}

func (s *Store) UpdateExecution(ctx context.Context, ex *domain.Execution) error {
	res, err := s.exec(ctx,
		`UPDATE executions SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		string(ex.Status), nullString(ex.ErrorMessage), nullTime(ex.CompletedAt), ex.ID)
	if err != nil {
		return err
	}
	return requireRow(res, "execution", ex.ID)
}

func (s *Store) GetExecution(ctx context.Context, id string) (*domain.Execution, error) {
	row := s.db.QueryRowxContext(ctx, s.dialect.Rebind(
		`SELECT id, chain_id, user_id, status, error_message, started_at, completed_at
		 FROM executions WHERE id = ?`), id)

	var ex domain.Execution
	var userID, errMsg sql.NullString
	var completedAt sql.NullTime
	var status string
	if err := row.Scan(&ex.ID, &ex.ChainID, &userID, &status, &errMsg, &ex.StartedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("execution not found: " + id)
		}
		return nil, err
	}
	ex.Status = domain.ExecutionStatus(status)
	ex.UserID = userID.String
	ex.ErrorMessage = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		ex.CompletedAt = &t
	}
	return &ex, nil
}

// --- step results ---

func (s *Store) CreateStepResult(ctx context.Context, sr *domain.StepResult) error {
	usage, err := marshalUsage(sr.Usage)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx,
		`INSERT INTO step_results (id, execution_id, step_id, position, input_data, output_data, status, error, usage, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sr.ID, sr.ExecutionID, sr.StepID, sr.Position, sr.InputData,
		nullString(sr.OutputData), string(sr.Status), nullString(sr.Error),
		usage, nullTime(sr.StartedAt), nullTime(sr.CompletedAt))
	return err
}

func (s *Store) UpdateStepResult(ctx context.Context, sr *domain.StepResult) error {
	usage, err := marshalUsage(sr.Usage)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx,
		`UPDATE step_results SET output_data = ?, status = ?, error = ?, usage = ?, started_at = ?, completed_at = ? WHERE id = ?`,
		nullString(sr.OutputData), string(sr.Status), nullString(sr.Error),
		usage, nullTime(sr.StartedAt), nullTime(sr.CompletedAt), sr.ID)
	if err != nil {
		return err
	}
	return requireRow(res, "step result", sr.ID)
}

func (s *Store) ListStepResults(ctx context.Context, executionID string) ([]*domain.StepResult, error) {
	rows, err := s.db.QueryxContext(ctx, s.dialect.Rebind(
		`SELECT id, execution_id, step_id, position, input_data, output_data, status, error, usage, started_at, completed_at
		 FROM step_results WHERE execution_id = ? ORDER BY position, started_at`), executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.StepResult
	for rows.Next() {
		var sr domain.StepResult
		var output, errStr, usage sql.NullString
		var startedAt, completedAt sql.NullTime
		var status string
		if err := rows.Scan(&sr.ID, &sr.ExecutionID, &sr.StepID, &sr.Position, &sr.InputData,
			&output, &status, &errStr, &usage, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		sr.Status = domain.StepStatus(status)
		sr.OutputData = output.String
		sr.Error = errStr.String
		if usage.Valid && usage.String != "" {
			var u domain.Usage
			if err := json.Unmarshal([]byte(usage.String), &u); err == nil {
				sr.Usage = &u
			}
		}
		if startedAt.Valid {
			t := startedAt.Time
			sr.StartedAt = &t
		}
		if completedAt.Valid {
			t := completedAt.Time
			sr.CompletedAt = &t
		}
		results = append(results, &sr)
	}
	return results, rows.Err()
}

// --- execution events ---

func (s *Store) AppendEvent(ctx context.Context, evt *domain.ExecutionEvent) error {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO execution_events (id, execution_id, seq, type, step_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		evt.ID, evt.ExecutionID, evt.Seq, string(evt.Type),
		nullString(evt.StepID), nullString(evt.Payload), evt.CreatedAt)
	return err
}

func (s *Store) ListEvents(ctx context.Context, executionID string) ([]*domain.ExecutionEvent, error) {
	rows, err := s.db.QueryxContext(ctx, s.dialect.Rebind(
		`SELECT id, execution_id, seq, type, step_id, payload, created_at
		 FROM execution_events WHERE execution_id = ? ORDER BY seq`), executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.ExecutionEvent
	for rows.Next() {
		var evt domain.ExecutionEvent
		var stepID, payload sql.NullString
		var typ string
		if err := rows.Scan(&evt.ID, &evt.ExecutionID, &evt.Seq, &typ, &stepID, &payload, &evt.CreatedAt); err != nil {
			return nil, err
		}
		evt.Type = domain.ExecutionEventType(typ)
		evt.StepID = stepID.String
		evt.Payload = payload.String
		events = append(events, &evt)
	}
	return events, rows.Err()
}

// --- chain jobs ---

func (s *Store) CreateChainJob(ctx context.Context, job *storage.ChainJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.StatusChangedAt.IsZero() {
		job.StatusChangedAt = now
	}
	_, err := s.exec(ctx,
		`INSERT INTO chain_jobs (id, user_id, execution_id, status, partial_content, response_data, error_message, created_at, updated_at, status_changed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, nullString(job.UserID), nullString(job.ExecutionID), string(job.Status),
		nullString(job.PartialContent), nullString(job.ResponseData), nullString(job.ErrorMessage),
		job.CreatedAt, job.UpdatedAt, job.StatusChangedAt)
	return err
}

func (s *Store) UpdateChainJob(ctx context.Context, job *storage.ChainJob) error {
	job.UpdatedAt = time.Now().UTC()
	res, err := s.exec(ctx,
		`UPDATE chain_jobs SET execution_id = ?, status = ?, partial_content = ?, response_data = ?, error_message = ?, updated_at = ?, status_changed_at = ? WHERE id = ?`,
		nullString(job.ExecutionID), string(job.Status), nullString(job.PartialContent),
		nullString(job.ResponseData), nullString(job.ErrorMessage),
		job.UpdatedAt, job.StatusChangedAt, job.ID)
	if err != nil {
		return err
	}
	return requireRow(res, "chain job", job.ID)
}

func (s *Store) GetChainJob(ctx context.Context, id string) (*storage.ChainJob, error) {
	row := s.db.QueryRowxContext(ctx, s.dialect.Rebind(
		`SELECT id, user_id, execution_id, status, partial_content, response_data, error_message, created_at, updated_at, status_changed_at
		 FROM chain_jobs WHERE id = ?`), id)

	var job storage.ChainJob
	var userID, execID, partial, respData, errMsg sql.NullString
	var status string
	if err := row.Scan(&job.ID, &userID, &execID, &status, &partial, &respData, &errMsg,
		&job.CreatedAt, &job.UpdatedAt, &job.StatusChangedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("job not found: " + id)
		}
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.UserID = userID.String
	job.ExecutionID = execID.String
	job.PartialContent = partial.String
	job.ResponseData = respData.String
	job.ErrorMessage = errMsg.String
	return &job, nil
}

func (s *Store) DeleteChainJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx,
		`DELETE FROM chain_jobs WHERE status IN (?, ?, ?) AND status_changed_at < ?`,
		string(domain.JobCompleted), string(domain.JobFailed), string(domain.JobCancelled), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- document jobs ---

func (s *Store) CreateDocumentJob(ctx context.Context, job *domain.DocumentJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	options, err := json.Marshal(job.Options)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx,
		`INSERT INTO document_jobs (id, user_id, status, progress, processing_stage, file_name, file_size, file_type, purpose, options, upload_id, object_key, result_location, result, result_ref, error_message, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, nullString(job.UserID), string(job.Status), job.Progress,
		nullString(job.ProcessingStage), job.FileName, job.FileSize, job.FileType,
		nullString(job.Purpose), string(options), nullString(job.UploadID),
		nullString(job.ObjectKey), nullString(string(job.ResultLocation)),
		nullString(job.Result), nullString(job.ResultRef), nullString(job.ErrorMessage),
		job.CreatedAt, nullTime(job.CompletedAt))
	return err
}

func (s *Store) UpdateDocumentJob(ctx context.Context, job *domain.DocumentJob) error {
	res, err := s.exec(ctx,
		`UPDATE document_jobs SET status = ?, progress = ?, processing_stage = ?, upload_id = ?, object_key = ?, result_location = ?, result = ?, result_ref = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		string(job.Status), job.Progress, nullString(job.ProcessingStage),
		nullString(job.UploadID), nullString(job.ObjectKey),
		nullString(string(job.ResultLocation)), nullString(job.Result),
		nullString(job.ResultRef), nullString(job.ErrorMessage),
		nullTime(job.CompletedAt), job.ID)
	if err != nil {
		return err
	}
	return requireRow(res, "document job", job.ID)
}

func (s *Store) GetDocumentJob(ctx context.Context, id string) (*domain.DocumentJob, error) {
	row := s.db.QueryRowxContext(ctx, s.dialect.Rebind(
		`SELECT id, user_id, status, progress, processing_stage, file_name, file_size, file_type, purpose, options, upload_id, object_key, result_location, result, result_ref, error_message, created_at, completed_at
		 FROM document_jobs WHERE id = ?`), id)

	var job domain.DocumentJob
	var userID, stage, purpose, uploadID, objectKey, loc, result, resultRef, errMsg sql.NullString
	var options, status string
	var completedAt sql.NullTime
	if err := row.Scan(&job.ID, &userID, &status, &job.Progress, &stage,
		&job.FileName, &job.FileSize, &job.FileType, &purpose, &options,
		&uploadID, &objectKey, &loc, &result, &resultRef, &errMsg,
		&job.CreatedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("job not found: " + id)
		}
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.UserID = userID.String
	job.ProcessingStage = stage.String
	job.Purpose = purpose.String
	job.UploadID = uploadID.String
	job.ObjectKey = objectKey.String
	job.ResultLocation = domain.ResultLocation(loc.String)
	job.Result = result.String
	job.ResultRef = resultRef.String
	job.ErrorMessage = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(options), &job.Options); err != nil {
		return nil, fmt.Errorf("failed to decode job options: %w", err)
	}
	return &job, nil
}

// --- helpers ---

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func marshalUsage(u *domain.Usage) (sql.NullString, error) {
	if u == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(u)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound(kind + " not found: " + id)
	}
	return nil
}
