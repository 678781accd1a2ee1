// Package store implements the Index Store (C4): a single-writer
// SQLite-backed relational store for items, latest_files, and meta, matching
// the data model and invariants in SPEC_FULL.md §3 / §4.4.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/bgpkit/broker/pkg/broker"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store holds a dedicated single-connection writer handle and a multi-
// connection WAL reader pool over the same SQLite file, matching §4.4's
// "single long-lived connection / short-lived reader pool" discipline.
type Store struct {
	path   string
	writer *sql.DB
	reader *sql.DB
	logger *zap.Logger
}

// Open opens (creating if absent) the SQLite file at path and ensures the
// schema is current.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	writerDSN := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=off", path)
	writer, err := sql.Open("sqlite3", writerDSN)
	if err != nil {
		return nil, &broker.StoreError{Op: "open writer", Cause: err}
	}
	writer.SetMaxOpenConns(1)

	readerDSN := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&mode=ro", path)
	reader, err := sql.Open("sqlite3", readerDSN)
	if err != nil {
		writer.Close()
		return nil, &broker.StoreError{Op: "open reader", Cause: err}
	}
	reader.SetMaxOpenConns(8)

	s := &Store{path: path, writer: writer, reader: reader, logger: logger}

	if err := s.ensureSchema(ctx); err != nil {
		writer.Close()
		reader.Close()
		return nil, err
	}

	if err := writer.PingContext(ctx); err != nil {
		writer.Close()
		reader.Close()
		return nil, &broker.StoreError{Op: "ping", Cause: err}
	}

	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	applied := make(map[int]bool)

	// schema_version may not exist yet on a brand new file; ignore that case.
	rows, err := s.writer.QueryContext(ctx, `SELECT version FROM schema_version`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var v int
			if err := rows.Scan(&v); err != nil {
				return &broker.StoreError{Op: "scan schema_version", Cause: err}
			}
			applied[v] = true
		}
	}

	for _, stmt := range schemaStatements {
		if applied[stmt.version] {
			continue
		}
		if _, err := s.writer.ExecContext(ctx, stmt.sql); err != nil {
			return &broker.StoreError{Op: fmt.Sprintf("apply schema v%d", stmt.version), Cause: err}
		}
		if stmt.version > 1 || tableExists(ctx, s.writer, "schema_version") {
			s.writer.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, stmt.version)
		}
	}
	return nil
}

func tableExists(ctx context.Context, db *sql.DB, name string) bool {
	var n int
	err := db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	return err == nil && n > 0
}

// Path returns the backing SQLite file path this Store was opened with.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	s.reader.Close()
	return s.writer.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.writer.PingContext(ctx)
}

// InsertItems upserts rows into items, doing nothing on a primary-key
// conflict (invariant 1). Returns the rows actually inserted (the subset that
// did not conflict). Transactional per batch.
func (s *Store) InsertItems(ctx context.Context, rows []broker.BrokerItem) ([]broker.BrokerItem, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, &broker.StoreError{Op: "begin insert_items", Cause: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO items (collector_id, ts_start, ts_end, data_type, url, rough_size, exact_size)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collector_id, ts_start, data_type) DO NOTHING`)
	if err != nil {
		return nil, &broker.StoreError{Op: "prepare insert_items", Cause: err}
	}
	defer stmt.Close()

	var inserted []broker.BrokerItem
	for _, r := range rows {
		res, err := stmt.ExecContext(ctx,
			r.CollectorID, r.TsStart.Unix(), r.TsEnd.Unix(), string(r.DataType), r.URL, r.RoughSize, r.ExactSize)
		if err != nil {
			return nil, &broker.StoreError{Op: "insert item", Cause: err}
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted = append(inserted, r)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, &broker.StoreError{Op: "commit insert_items", Cause: err}
	}

	return inserted, nil
}

// LatestPerCollector scans latest_files and returns one row per
// (collector_id, data_type).
func (s *Store) LatestPerCollector(ctx context.Context) ([]broker.LatestFile, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT collector_id, data_type, ts_start, ts_end, url, rough_size, exact_size
		FROM latest_files`)
	if err != nil {
		return nil, &broker.StoreError{Op: "latest_per_collector", Cause: err}
	}
	defer rows.Close()

	now := time.Now().UTC()
	var out []broker.LatestFile
	for rows.Next() {
		var lf broker.LatestFile
		var dataType string
		var tsStart, tsEnd int64
		if err := rows.Scan(&lf.CollectorID, &dataType, &tsStart, &tsEnd, &lf.URL, &lf.RoughSize, &lf.ExactSize); err != nil {
			return nil, &broker.StoreError{Op: "scan latest_files", Cause: err}
		}
		lf.DataType = broker.DataType(dataType)
		lf.TsStart = time.Unix(tsStart, 0).UTC()
		lf.TsEnd = time.Unix(tsEnd, 0).UTC()
		lf.DelaySeconds = int64(now.Sub(lf.TsEnd).Seconds())
		if lf.DelaySeconds < 0 {
			lf.DelaySeconds = 0
		}
		out = append(out, lf)
	}
	return out, rows.Err()
}

// RebuildLatestSnapshot recomputes latest_files from the max-ts_start-per-
// group of items, within a single transaction (delete-then-insert).
func (s *Store) RebuildLatestSnapshot(ctx context.Context) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return &broker.StoreError{Op: "begin rebuild_latest_snapshot", Cause: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM latest_files`); err != nil {
		return &broker.StoreError{Op: "clear latest_files", Cause: err}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO latest_files (collector_id, data_type, ts_start, ts_end, url, rough_size, exact_size)
		SELECT i.collector_id, i.data_type, i.ts_start, i.ts_end, i.url, i.rough_size, i.exact_size
		FROM items i
		JOIN (
			SELECT collector_id, data_type, MAX(ts_start) AS max_ts
			FROM items
			GROUP BY collector_id, data_type
		) m ON m.collector_id = i.collector_id AND m.data_type = i.data_type AND m.max_ts = i.ts_start`)
	if err != nil {
		return &broker.StoreError{Op: "rebuild latest_files", Cause: err}
	}

	if err := tx.Commit(); err != nil {
		return &broker.StoreError{Op: "commit rebuild_latest_snapshot", Cause: err}
	}
	return nil
}

// AppendMeta appends one row to the update-history log.
func (s *Store) AppendMeta(ctx context.Context, ts time.Time, duration time.Duration, inserted int) error {
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO meta (timestamp, update_duration_seconds, inserted_count) VALUES (?, ?, ?)`,
		ts.Unix(), duration.Seconds(), inserted)
	if err != nil {
		return &broker.StoreError{Op: "append_meta", Cause: err}
	}
	return nil
}

// PruneMeta deletes meta rows older than the given instant.
func (s *Store) PruneMeta(ctx context.Context, before time.Time) error {
	_, err := s.writer.ExecContext(ctx, `DELETE FROM meta WHERE timestamp < ?`, before.Unix())
	if err != nil {
		return &broker.StoreError{Op: "prune_meta", Cause: err}
	}
	return nil
}

// RunAnalyze refreshes SQLite's query-planner statistics. Invoked once at
// the start of `serve` and once per `backup` (§4.4).
func (s *Store) RunAnalyze(ctx context.Context) error {
	if _, err := s.writer.ExecContext(ctx, `ANALYZE`); err != nil {
		return &broker.StoreError{Op: "run_analyze", Cause: err}
	}
	return nil
}

// RecentMeta returns meta rows within the retention window, most recent
// first, for the doctor/monitoring surface.
func (s *Store) RecentMeta(ctx context.Context, since time.Time) ([]broker.Meta, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT timestamp, update_duration_seconds, inserted_count FROM meta WHERE timestamp >= ? ORDER BY timestamp DESC`,
		since.Unix())
	if err != nil {
		return nil, &broker.StoreError{Op: "recent_meta", Cause: err}
	}
	defer rows.Close()

	var out []broker.Meta
	for rows.Next() {
		var m broker.Meta
		var ts int64
		if err := rows.Scan(&ts, &m.UpdateDurationSeconds, &m.InsertedCount); err != nil {
			return nil, &broker.StoreError{Op: "scan meta", Cause: err}
		}
		m.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// DistinctCollectors returns every collector_id present in items, for the
// doctor "missing collectors" report.
func (s *Store) DistinctCollectors(ctx context.Context) ([]string, error) {
	rows, err := s.reader.QueryContext(ctx, `SELECT DISTINCT collector_id FROM items`)
	if err != nil {
		return nil, &broker.StoreError{Op: "distinct_collectors", Cause: err}
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &broker.StoreError{Op: "scan distinct_collectors", Cause: err}
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// BackupTo produces a consistent online snapshot of the live store at
// destPath, without stopping the writer, using SQLite's incremental backup
// API (§6 "store's online-backup facility").
func (s *Store) BackupTo(ctx context.Context, destPath string) error {
	destDSN := fmt.Sprintf("file:%s", destPath)
	destDB, err := sql.Open("sqlite3", destDSN)
	if err != nil {
		return &broker.StoreError{Op: "open backup destination", Cause: err}
	}
	defer destDB.Close()

	srcConn, err := s.writer.Conn(ctx)
	if err != nil {
		return &broker.StoreError{Op: "acquire source conn", Cause: err}
	}
	defer srcConn.Close()

	destConn, err := destDB.Conn(ctx)
	if err != nil {
		return &broker.StoreError{Op: "acquire dest conn", Cause: err}
	}
	defer destConn.Close()

	var backupErr error
	err = destConn.Raw(func(destDriverConn any) error {
		return srcConn.Raw(func(srcDriverConn any) error {
			destSQLite, ok := destDriverConn.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("unexpected destination driver connection type")
			}
			srcSQLite, ok := srcDriverConn.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("unexpected source driver connection type")
			}

			backup, err := destSQLite.Backup("main", srcSQLite, "main")
			if err != nil {
				return err
			}
			defer backup.Close()

			for {
				done, err := backup.Step(1024)
				if err != nil {
					backupErr = err
					return err
				}
				if done {
					return nil
				}
			}
		})
	})
	if err != nil {
		if backupErr != nil {
			err = backupErr
		}
		return &broker.StoreError{Op: "online backup", Cause: err}
	}

	return nil
}

func placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = "?"
	}
	return strings.Join(ph, ", ")
}
