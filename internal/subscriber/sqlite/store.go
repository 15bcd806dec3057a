// Package sqlite is a durable, shard-partitioned subscriber directory and
// audit trail: one database file per shard, WAL journaling, and an
// append-only audit log enforced by triggers that reject any UPDATE or
// DELETE against it.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"telecomrouter/internal/hashroute"
	"telecomrouter/internal/subscriber"

	_ "modernc.org/sqlite"
)

const (
	directorySchema = `
CREATE TABLE IF NOT EXISTS subscribers (
	msisdn TEXT PRIMARY KEY,
	imsi TEXT NOT NULL,
	serving_switch TEXT NOT NULL,
	serving_register TEXT NOT NULL,
	region_tag TEXT NOT NULL,
	updated_at_utc_ns INTEGER NOT NULL
);
`
	auditSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	corr_id INTEGER PRIMARY KEY,
	msisdn TEXT NOT NULL,
	op TEXT NOT NULL,
	status TEXT NOT NULL,
	route_group TEXT,
	latency_ms INTEGER NOT NULL,
	recorded_at_utc_ns INTEGER NOT NULL
);

CREATE TRIGGER IF NOT EXISTS trg_audit_no_update
BEFORE UPDATE ON audit_log
BEGIN
	SELECT RAISE(ABORT, 'audit_log is append-only: UPDATE forbidden');
END;

CREATE TRIGGER IF NOT EXISTS trg_audit_no_delete
BEFORE DELETE ON audit_log
BEGIN
	SELECT RAISE(ABORT, 'audit_log is append-only: DELETE forbidden');
END;
`
)

// AuditEntry is an alias of subscriber.AuditEntry so callers within this
// package don't need to import subscriber just to build one.
type AuditEntry = subscriber.AuditEntry

// Store is a shard-partitioned subscriber directory backed by SQLite,
// with an append-only audit log kept in a separate database file.
type Store struct {
	baseDir    string
	shardCount int

	mu     sync.Mutex
	shards map[int]*sql.DB
	audit  *sql.DB
}

// Open opens (creating as needed) the subscriber directory and audit log
// under baseDir, sharded into shardCount SQLite files.
func Open(baseDir string, shardCount int) (*Store, error) {
	if shardCount <= 0 {
		shardCount = hashroute.DefaultShardCount
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: mkdir base dir: %w", err)
	}
	audit, err := openDB(filepath.Join(baseDir, "audit.db"))
	if err != nil {
		return nil, err
	}
	if _, err := audit.Exec(auditSchema); err != nil {
		_ = audit.Close()
		return nil, fmt.Errorf("sqlite: init audit schema: %w", err)
	}
	return &Store{baseDir: baseDir, shardCount: shardCount, shards: make(map[int]*sql.DB), audit: audit}, nil
}

// Close closes every shard and the audit log.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, db := range s.shards {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.audit.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Lookup implements subscriber.Store.
func (s *Store) Lookup(ctx context.Context, msisdn string) (subscriber.Record, bool, error) {
	db, err := s.shardDB(msisdn)
	if err != nil {
		return subscriber.Record{}, false, err
	}
	row := db.QueryRowContext(ctx, `SELECT imsi, serving_switch, serving_register, region_tag FROM subscribers WHERE msisdn = ?`, msisdn)
	var rec subscriber.Record
	err = row.Scan(&rec.IMSI, &rec.ServingSwitch, &rec.ServingRegister, &rec.RegionTag)
	if errors.Is(err, sql.ErrNoRows) {
		return subscriber.Record{}, false, nil
	}
	if err != nil {
		return subscriber.Record{}, false, err
	}
	return rec, true, nil
}

// Upsert inserts or replaces a subscriber record. It is the only way
// records enter the directory; nothing in the Engine seeds it.
func (s *Store) Upsert(ctx context.Context, msisdn string, rec subscriber.Record) error {
	db, err := s.shardDB(msisdn)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
INSERT INTO subscribers(msisdn, imsi, serving_switch, serving_register, region_tag, updated_at_utc_ns)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(msisdn) DO UPDATE SET
	imsi=excluded.imsi, serving_switch=excluded.serving_switch,
	serving_register=excluded.serving_register, region_tag=excluded.region_tag,
	updated_at_utc_ns=excluded.updated_at_utc_ns`,
		msisdn, rec.IMSI, rec.ServingSwitch, rec.ServingRegister, rec.RegionTag, time.Now().UTC().UnixNano())
	return err
}

// RecordAudit implements subscriber.Auditor. It appends one completed
// transaction to the audit trail and is safe to call for every
// transaction, including synthesized failures; corr_id uniqueness makes a
// retried append of the same entry a no-op.
func (s *Store) RecordAudit(ctx context.Context, e AuditEntry) error {
	_, err := s.audit.ExecContext(ctx, `
INSERT INTO audit_log(corr_id, msisdn, op, status, route_group, latency_ms, recorded_at_utc_ns)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(corr_id) DO NOTHING`,
		int64(e.CorrID), e.MSISDN, e.Op, e.Status, e.RouteGroup, e.LatencyMS, time.Now().UTC().UnixNano())
	return err
}

func (s *Store) shardDB(msisdn string) (*sql.DB, error) {
	shard := hashroute.ShardForMSISDN(msisdn, s.shardCount)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.shards[shard]; ok {
		return db, nil
	}
	path := filepath.Join(s.baseDir, fmt.Sprintf("directory-shard%02d.db", shard))
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(directorySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: init directory schema: %w", err)
	}
	s.shards[shard] = db
	return db, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: pragma %q: %w", p, err)
		}
	}
	return db, nil
}
