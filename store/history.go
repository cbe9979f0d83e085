// Package store persists rebuild outcomes in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"

	"github.com/moyoez/localswap/tool"
	"github.com/moyoez/localswap/types"
)

// HistoryStore records rebuild jobs. Job ids restart with every process, so
// rows are keyed by a per-process run id as well.
type HistoryStore struct {
	db    *sql.DB
	runID string
	mu    sync.RWMutex
}

// NewHistoryStore opens dbPath. Use ":memory:" for a throwaway database.
func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// a second pooled connection to ":memory:" would see an empty database
	db.SetMaxOpenConns(1)

	s := &HistoryStore{db: db, runID: tool.GenerateRandomUUID()}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *HistoryStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rebuilds (
		run_id TEXT NOT NULL,
		job_id INTEGER NOT NULL,
		apps TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, job_id)
	);
	CREATE INDEX IF NOT EXISTS idx_rebuilds_started ON rebuilds(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *HistoryStore) RecordStart(ctx context.Context, jobID uint64, apps []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if apps == nil {
		apps = []string{}
	}
	appsJSON, err := sonic.MarshalString(apps)
	if err != nil {
		return fmt.Errorf("marshal apps: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO rebuilds (run_id, job_id, apps, status, started_at) VALUES (?, ?, ?, ?, ?)",
		s.runID, int64(jobID), appsJSON, string(types.RebuildRunning), at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert rebuild: %w", err)
	}
	return nil
}

func (s *HistoryStore) RecordFinish(ctx context.Context, jobID uint64, status types.RebuildStatus, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE rebuilds SET status = ?, error = ?, finished_at = ? WHERE run_id = ? AND job_id = ?",
		string(status), errMsg, at.UnixMilli(), s.runID, int64(jobID),
	)
	if err != nil {
		return fmt.Errorf("update rebuild: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rebuild %d not recorded", jobID)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]types.RebuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT job_id, apps, status, error, started_at, finished_at FROM rebuilds ORDER BY started_at DESC, job_id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query rebuilds: %w", err)
	}
	defer rows.Close()

	records := make([]types.RebuildRecord, 0, limit)
	for rows.Next() {
		var (
			rec      types.RebuildRecord
			jobID    int64
			appsJSON string
			status   string
		)
		if err := rows.Scan(&jobID, &appsJSON, &status, &rec.Error, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan rebuild: %w", err)
		}
		if err := sonic.UnmarshalString(appsJSON, &rec.Apps); err != nil {
			return nil, fmt.Errorf("unmarshal apps: %w", err)
		}
		rec.JobID = uint64(jobID)
		rec.Status = types.RebuildStatus(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *HistoryStore) Close() error {
	return s.db.Close()
}
