// Package audit persists plan execution outcomes to SQLite so every
// dispatched plan leaves an inspectable trail.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/haasonsaas/hopper/internal/observability"
	"github.com/haasonsaas/hopper/pkg/models"
)

// Store writes and reads plan execution records.
type Store struct {
	db *sql.DB
}

// PlanRecord is one persisted plan execution summary.
type PlanRecord struct {
	ExecutionID     string    `json:"execution_id"`
	UserID          string    `json:"user_id,omitempty"`
	Intent          string    `json:"intent"`
	Query           string    `json:"query,omitempty"`
	Success         bool      `json:"success"`
	Risk            string    `json:"risk"`
	ToolCallCount   int       `json:"tool_call_count"`
	DurationSeconds float64   `json:"duration_seconds"`
	Errors          []string  `json:"errors,omitempty"`
	FinalMessage    string    `json:"final_message,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`

	ToolResults []ToolRecord `json:"tool_results,omitempty"`
}

// ToolRecord is one persisted tool invocation within a plan.
type ToolRecord struct {
	Seq        int            `json:"seq"`
	ToolID     string         `json:"tool_id"`
	Capability string         `json:"capability"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	DurationMs float64        `json:"duration_ms"`
	Data       map[string]any `json:"data,omitempty"`
}

// Open creates a store backed by the SQLite file at path. An empty path
// uses an in-memory database.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS plan_executions (
			execution_id TEXT PRIMARY KEY,
			user_id TEXT,
			intent TEXT NOT NULL,
			query TEXT,
			success INTEGER NOT NULL,
			risk TEXT,
			tool_call_count INTEGER NOT NULL,
			duration_seconds REAL NOT NULL,
			errors TEXT,
			final_message TEXT,
			started_at DATETIME NOT NULL,
			completed_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create plan_executions table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tool_results (
			execution_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			tool_id TEXT NOT NULL,
			capability TEXT NOT NULL,
			success INTEGER NOT NULL,
			error TEXT,
			error_code TEXT,
			duration_ms REAL NOT NULL,
			data TEXT,
			PRIMARY KEY (execution_id, seq)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create tool_results table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_plan_executions_user ON plan_executions(user_id)",
		"CREATE INDEX IF NOT EXISTS idx_plan_executions_started ON plan_executions(started_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// RecordPlan persists the execution result and its per-call results in one
// transaction. The execution ID is taken from the context; a fresh one is
// generated when absent.
func (s *Store) RecordPlan(ctx context.Context, result *models.PlanExecutionResult) error {
	if result == nil || result.Plan == nil {
		return errors.New("audit: nil result or plan")
	}

	executionID := observability.GetExecutionID(ctx)
	if executionID == "" {
		executionID = uuid.NewString()
	}

	errorsJSON, err := json.Marshal(result.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO plan_executions
			(execution_id, user_id, intent, query, success, risk, tool_call_count,
			 duration_seconds, errors, final_message, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		executionID,
		nullString(result.Plan.UserID),
		string(result.Plan.Intent),
		nullString(result.Plan.OriginalQuery),
		result.Success,
		string(result.Plan.EffectiveRisk()),
		len(result.Plan.ToolCalls),
		result.ExecutionTimeSeconds,
		string(errorsJSON),
		nullString(result.FinalMessage),
		result.StartedAt,
		result.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert plan execution: %w", err)
	}

	if len(result.ToolResults) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO tool_results
				(execution_id, seq, tool_id, capability, success, error, error_code, duration_ms, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare tool result statement: %w", err)
		}
		defer stmt.Close()

		for i, tr := range result.ToolResults {
			dataJSON, err := json.Marshal(tr.Data)
			if err != nil {
				return fmt.Errorf("failed to marshal tool result data: %w", err)
			}
			if _, err := stmt.ExecContext(ctx,
				executionID,
				i,
				tr.ToolID,
				tr.CapabilityName,
				tr.Success,
				nullString(tr.Error),
				nullString(tr.ErrorCode),
				tr.ExecutionTimeMs,
				string(dataJSON),
			); err != nil {
				return fmt.Errorf("failed to insert tool result %d: %w", i, err)
			}
		}
	}

	return tx.Commit()
}

// GetPlan returns the record for one execution, including its tool results,
// or nil if no record exists.
func (s *Store) GetPlan(ctx context.Context, executionID string) (*PlanRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT execution_id, user_id, intent, query, success, risk, tool_call_count,
		       duration_seconds, errors, final_message, started_at, completed_at
		FROM plan_executions WHERE execution_id = ?
	`, executionID)

	rec, err := scanPlanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, tool_id, capability, success, error, error_code, duration_ms, data
		FROM tool_results WHERE execution_id = ? ORDER BY seq
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tr ToolRecord
		var errStr, errCode sql.NullString
		var dataJSON string
		if err := rows.Scan(&tr.Seq, &tr.ToolID, &tr.Capability, &tr.Success,
			&errStr, &errCode, &tr.DurationMs, &dataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan tool result: %w", err)
		}
		tr.Error = errStr.String
		tr.ErrorCode = errCode.String
		if dataJSON != "" && dataJSON != "null" {
			if err := json.Unmarshal([]byte(dataJSON), &tr.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool result data: %w", err)
			}
		}
		rec.ToolResults = append(rec.ToolResults, tr)
	}
	return rec, rows.Err()
}

// ListRecent returns plan summaries ordered newest first. Tool results are
// not loaded; fetch a single record with GetPlan for the detail.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*PlanRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, user_id, intent, query, success, risk, tool_call_count,
		       duration_seconds, errors, final_message, started_at, completed_at
		FROM plan_executions ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query plan executions: %w", err)
	}
	defer rows.Close()

	var records []*PlanRecord
	for rows.Next() {
		rec, err := scanPlanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune removes records older than the given age and returns how many plan
// executions were deleted.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM tool_results WHERE execution_id IN
			(SELECT execution_id FROM plan_executions WHERE started_at < ?)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to prune tool results: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM plan_executions WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune plan executions: %w", err)
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return pruned, tx.Commit()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlanRecord(row rowScanner) (*PlanRecord, error) {
	var rec PlanRecord
	var userID, query, finalMessage sql.NullString
	var errorsJSON string

	err := row.Scan(
		&rec.ExecutionID,
		&userID,
		&rec.Intent,
		&query,
		&rec.Success,
		&rec.Risk,
		&rec.ToolCallCount,
		&rec.DurationSeconds,
		&errorsJSON,
		&finalMessage,
		&rec.StartedAt,
		&rec.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan plan execution: %w", err)
	}

	rec.UserID = userID.String
	rec.Query = query.String
	rec.FinalMessage = finalMessage.String
	if errorsJSON != "" && errorsJSON != "null" {
		if err := json.Unmarshal([]byte(errorsJSON), &rec.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
		}
	}
	return &rec, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
