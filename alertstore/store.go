// Package alertstore implements the alert store and the archive
// half of the alert lifecycle: append-only alert persistence,
// history/stats queries, and archive/rotate/cleanup.
//
// The schema ships embedded and is applied on Open; rows scan into
// plain domain structs, and every query runs under a bounded timeout.
package alertstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	safelink "github.com/Nagarohit29/Safelink"
	"go.uber.org/zap"
)

//go:embed sql/schema.sql
var schemaSQL string

const queryTimeout = 10 * time.Second

// Publisher is the non-blocking callback Store invokes after each
// commit. The broadcast hub's Publish satisfies it: the store enqueues
// into the hub's ingest channel and never blocks on subscriber fan-out.
type Publisher func(safelink.NewAlertEvent)

// Store is the durable alert log. A nil Publisher is allowed (tests, or
// a supervisor running without the broadcast hub wired in).
type Store struct {
	db        *sql.DB
	log       *zap.Logger
	publish   Publisher
}

// Open applies the embedded schema to db and returns a ready Store.
func Open(db *sql.DB, log *zap.Logger, publish Publisher) (*Store, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("alertstore: apply schema: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log, publish: publish}, nil
}

// Insert writes a into the alerts table, assigning its strictly
// increasing id, and on success publishes a NewAlertEvent. A write
// failure is logged and the row rolled back; the pipeline continues —
// the caller receives the error only to decide whether to retry
// upstream, never to halt.
func (s *Store) Insert(ctx context.Context, a safelink.Alert) (safelink.Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	detailJSON, err := marshalDetail(a.Detail)
	if err != nil {
		return safelink.Alert{}, fmt.Errorf("alertstore: marshal detail: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.log.Warn("alertstore: begin tx failed", zap.Error(err))
		return safelink.Alert{}, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO alerts (timestamp, module, reason, src_ip, src_mac, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		a.Timestamp, string(a.Module), a.Reason, a.SrcIP, a.SrcMAC, detailJSON)
	if err != nil {
		tx.Rollback()
		s.log.Warn("alertstore: insert failed, rolled back", zap.Error(err))
		return safelink.Alert{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return safelink.Alert{}, err
	}
	if err := tx.Commit(); err != nil {
		s.log.Warn("alertstore: commit failed", zap.Error(err))
		return safelink.Alert{}, err
	}

	a.ID = id
	if s.publish != nil {
		s.publish(safelink.NewAlertEvent{
			ID: a.ID, Timestamp: a.Timestamp, Module: a.Module,
			Reason: a.Reason, SrcIP: a.SrcIP, SrcMAC: a.SrcMAC,
		})
	}
	return a, nil
}

// Latest returns the most recent limit alerts, newest first.
func (s *Store) Latest(ctx context.Context, limit int) ([]safelink.Alert, error) {
	return s.query(ctx, `SELECT id, timestamp, module, reason, src_ip, src_mac, detail
FROM alerts ORDER BY id DESC LIMIT ?`, limit)
}

// History returns alerts ordered newest first with pagination.
func (s *Store) History(ctx context.Context, limit, offset int) ([]safelink.Alert, error) {
	return s.query(ctx, `SELECT id, timestamp, module, reason, src_ip, src_mac, detail
FROM alerts ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
}

// BySource returns the most recent limit alerts that carry a source IP
// or MAC, newest first.
func (s *Store) BySource(ctx context.Context, limit int) ([]safelink.Alert, error) {
	return s.query(ctx, `SELECT id, timestamp, module, reason, src_ip, src_mac, detail
FROM alerts WHERE src_ip IS NOT NULL OR src_mac IS NOT NULL ORDER BY id DESC LIMIT ?`, limit)
}

// Since returns up to max alerts with id > after, oldest first — the shape
// the continuous learner's collect step consumes.
func (s *Store) Since(ctx context.Context, after int64, max int) ([]safelink.Alert, error) {
	return s.query(ctx, `SELECT id, timestamp, module, reason, src_ip, src_mac, detail
FROM alerts WHERE id > ? ORDER BY id ASC LIMIT ?`, after, max)
}

// Stats is the shape returned by stats()/GET /alerts/stats.
type Stats struct {
	Total      int64
	ByModule   map[safelink.ModuleTag]int64
	OldestID   int64
	NewestID   int64
}

// Stats computes aggregate counters over the live alerts table.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	stats := Stats{ByModule: make(map[safelink.ModuleTag]int64)}

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(MIN(id),0), COALESCE(MAX(id),0) FROM alerts`)
	if err := row.Scan(&stats.Total, &stats.OldestID, &stats.NewestID); err != nil {
		return Stats{}, fmt.Errorf("alertstore: stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT module, COUNT(*) FROM alerts GROUP BY module`)
	if err != nil {
		return Stats{}, fmt.Errorf("alertstore: stats by module: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mod string
		var count int64
		if err := rows.Scan(&mod, &count); err != nil {
			return Stats{}, err
		}
		stats.ByModule[safelink.ModuleTag(mod)] = count
	}
	return stats, rows.Err()
}

func (s *Store) query(ctx context.Context, stmt string, args ...any) ([]safelink.Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("alertstore: query: %w", err)
	}
	defer rows.Close()

	var out []safelink.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(r scanner) (safelink.Alert, error) {
	var a safelink.Alert
	var module string
	var detailJSON sql.NullString
	if err := r.Scan(&a.ID, &a.Timestamp, &module, &a.Reason, &a.SrcIP, &a.SrcMAC, &detailJSON); err != nil {
		return safelink.Alert{}, fmt.Errorf("alertstore: scan alert: %w", err)
	}
	a.Module = safelink.ModuleTag(module)
	if detailJSON.Valid && detailJSON.String != "" {
		if err := json.Unmarshal([]byte(detailJSON.String), &a.Detail); err != nil {
			return safelink.Alert{}, fmt.Errorf("alertstore: unmarshal detail: %w", err)
		}
	}
	return a, nil
}

func marshalDetail(detail map[string]any) (any, error) {
	if detail == nil {
		return nil, nil
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	ph := make([]string, n)
	for i := range ph {
		ph[i] = "?"
	}
	return strings.Join(ph, ",")
}
