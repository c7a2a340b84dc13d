package runstore

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/qloopdev/qloop/internal/evidence"
	"github.com/qloopdev/qloop/internal/loop"
)

// ErrNotFound reports a run id with no stored record.
var ErrNotFound = errors.New("run not found")

// Store persists runs and iterations.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the store at path.
func Open(path string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// RunSummary is the list-view shape of a stored run.
type RunSummary struct {
	RunID           string
	CreatedAt       time.Time
	Task            string
	Status          string
	Reason          string
	FinalScore      float64
	TotalIterations int
	Duration        time.Duration
	Error           string
}

// IterationRecord is one stored iteration of a run.
type IterationRecord struct {
	Iteration    int
	Score        float64
	Passed       bool
	Degraded     bool
	Improvements []string
	Evidence     evidence.Snapshot
	Duration     time.Duration
}

// RunRecord is a fully hydrated run.
type RunRecord struct {
	RunSummary
	Iterations []IterationRecord
}

// SaveRun stores the result and its iteration history in one transaction and
// returns the generated run id.
func (s *Store) SaveRun(ctx context.Context, task string, res loop.LoopResult) (string, error) {
	runID, err := newRunID()
	if err != nil {
		return "", err
	}
	// Nanosecond precision keeps list ordering stable for runs saved within
	// the same second.
	createdAt := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("begin save run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(run_id, created_at, task, status, reason, final_score, total_iterations, duration_ms, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, createdAt, task, res.Status, string(res.Reason), res.FinalScore,
		res.TotalIterations, res.TotalDuration.Milliseconds(), nullableString(res.Error)); err != nil {
		_ = tx.Rollback()
		return "", fmt.Errorf("insert run: %w", err)
	}

	for _, it := range res.Iterations {
		improvements, err := json.Marshal(it.Assessment.ImprovementsNeeded)
		if err != nil {
			_ = tx.Rollback()
			return "", fmt.Errorf("marshal improvements: %w", err)
		}
		evidenceJSON, err := json.Marshal(it.Evidence)
		if err != nil {
			_ = tx.Rollback()
			return "", fmt.Errorf("marshal evidence: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO iterations(run_id, iteration, score, passed, degraded, improvements_json, evidence_json, duration_ms)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, it.Iteration, it.Score, boolInt(it.Assessment.Passed), boolInt(it.Assessment.Degraded),
			string(improvements), string(evidenceJSON), it.Duration.Milliseconds()); err != nil {
			_ = tx.Rollback()
			return "", fmt.Errorf("insert iteration %d: %w", it.Iteration, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit save run: %w", err)
	}
	return runID, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, created_at, task, status, reason, final_score, total_iterations, duration_ms, COALESCE(error, '')
		FROM runs ORDER BY created_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// GetRun hydrates one run with its iteration history.
func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT run_id, created_at, task, status, reason, final_score, total_iterations, duration_ms, COALESCE(error, '')
		FROM runs WHERE run_id = ?`, runID)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return RunRecord{}, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT iteration, score, passed, degraded, improvements_json, evidence_json, duration_ms
		FROM iterations WHERE run_id = ? ORDER BY iteration`, runID)
	if err != nil {
		return RunRecord{}, fmt.Errorf("list iterations: %w", err)
	}
	defer rows.Close()

	rec := RunRecord{RunSummary: sum}
	for rows.Next() {
		var it IterationRecord
		var passed, degraded int
		var improvementsJSON, evidenceJSON string
		var durationMS int64
		if err := rows.Scan(&it.Iteration, &it.Score, &passed, &degraded, &improvementsJSON, &evidenceJSON, &durationMS); err != nil {
			return RunRecord{}, fmt.Errorf("scan iteration: %w", err)
		}
		it.Passed = passed != 0
		it.Degraded = degraded != 0
		it.Duration = time.Duration(durationMS) * time.Millisecond
		if err := json.Unmarshal([]byte(improvementsJSON), &it.Improvements); err != nil {
			return RunRecord{}, fmt.Errorf("parse improvements: %w", err)
		}
		if err := json.Unmarshal([]byte(evidenceJSON), &it.Evidence); err != nil {
			return RunRecord{}, fmt.Errorf("parse evidence: %w", err)
		}
		rec.Iterations = append(rec.Iterations, it)
	}
	return rec, rows.Err()
}

// Prune deletes all but the newest keepLast runs. Iterations cascade.
func (s *Store) Prune(ctx context.Context, keepLast int) (int64, error) {
	if keepLast <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id NOT IN (
		SELECT run_id FROM runs ORDER BY created_at DESC, run_id DESC LIMIT ?)`, keepLast)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PruneBefore deletes runs created before the cutoff. Iterations cascade.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune runs by age: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (RunSummary, error) {
	var sum RunSummary
	var createdAt string
	var durationMS int64
	if err := row.Scan(&sum.RunID, &createdAt, &sum.Task, &sum.Status, &sum.Reason,
		&sum.FinalScore, &sum.TotalIterations, &durationMS, &sum.Error); err != nil {
		return RunSummary{}, err
	}
	sum.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	sum.Duration = time.Duration(durationMS) * time.Millisecond
	return sum, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func newRunID() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("run id: %w", err)
	}
	ts := time.Now().UTC().Format("20060102-150405")
	return fmt.Sprintf("%s-%s", ts, hex.EncodeToString(buf)), nil
}
