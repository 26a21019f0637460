// Package threatintel implements the threat-intel store: a local
// indicator table with TTL, hit-count, and lookup, consulted by the
// sniffer supervisor for each frame ahead of the analyzer chain and
// mutated by the operator API.
//
// The schema ships embedded and is applied on Open; rows scan into
// plain domain structs rather than ORM types.
package threatintel

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	safelink "github.com/Nagarohit29/Safelink"
)

//go:embed sql/schema.sql
var schemaSQL string

const queryTimeout = 10 * time.Second

// Store is the durable threat-indicator table.
type Store struct {
	db *sql.DB
}

// Open applies the embedded schema to db and returns a Store.
func Open(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("threatintel: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Add inserts a new indicator, or — if (type,value) already exists —
// refreshes its last_seen and returns the existing row.
func (s *Store) Add(ctx context.Context, ind safelink.ThreatIndicator) (safelink.ThreatIndicator, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	now := time.Now()
	if ind.FirstSeen.IsZero() {
		ind.FirstSeen = now
	}
	ind.LastSeen = now
	if ind.Severity == "" {
		ind.Severity = "medium"
	}

	existing, err := s.findByValue(ctx, ind.Type, ind.Value)
	if err == nil {
		if _, execErr := s.db.ExecContext(ctx, `UPDATE threat_indicators SET last_seen=? WHERE id=?`, now, existing.ID); execErr != nil {
			return safelink.ThreatIndicator{}, fmt.Errorf("threatintel: refresh last_seen: %w", execErr)
		}
		existing.LastSeen = now
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return safelink.ThreatIndicator{}, err
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO threat_indicators
  (indicator_type, indicator_value, severity, confidence, source, description, tags,
   first_seen, last_seen, expires_at, is_active, false_positive, hit_count, last_hit)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL)`,
		string(ind.Type), ind.Value, ind.Severity, ind.Confidence, ind.Source, ind.Description,
		strings.Join(ind.Tags, ","), ind.FirstSeen, ind.LastSeen, ind.ExpiresAt, true, ind.FalsePositive)
	if err != nil {
		return safelink.ThreatIndicator{}, fmt.Errorf("threatintel: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return safelink.ThreatIndicator{}, err
	}
	ind.ID = id
	ind.IsActive = true
	ind.HitCount = 0
	return ind, nil
}

func (s *Store) findByValue(ctx context.Context, typ safelink.IndicatorType, value string) (safelink.ThreatIndicator, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM threat_indicators WHERE indicator_type=? AND indicator_value=?`, string(typ), value)
	return scanIndicator(row)
}

const selectCols = `id, indicator_type, indicator_value, severity, confidence, source, description, tags,
first_seen, last_seen, expires_at, is_active, false_positive, hit_count, last_hit`

func scanIndicator(r interface{ Scan(dest ...any) error }) (safelink.ThreatIndicator, error) {
	var ind safelink.ThreatIndicator
	var typ, tags string
	var description, source sql.NullString
	var expiresAt, lastHit sql.NullTime

	if err := r.Scan(&ind.ID, &typ, &ind.Value, &ind.Severity, &ind.Confidence, &source, &description, &tags,
		&ind.FirstSeen, &ind.LastSeen, &expiresAt, &ind.IsActive, &ind.FalsePositive, &ind.HitCount, &lastHit); err != nil {
		return safelink.ThreatIndicator{}, err
	}
	ind.Type = safelink.IndicatorType(typ)
	if source.Valid {
		ind.Source = source.String
	}
	if description.Valid {
		ind.Description = description.String
	}
	if tags != "" {
		ind.Tags = strings.Split(tags, ",")
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		ind.ExpiresAt = &t
	}
	if lastHit.Valid {
		t := lastHit.Time
		ind.LastHit = &t
	}
	return ind, nil
}

// Lookup searches for an active, non-false-positive indicator matching
// value. A match that has expired is deactivated and reported as a
// miss. A genuine match increments hit_count and last_hit in the same
// transaction as the match test, so concurrent lookups never lose a
// hit.
func (s *Store) Lookup(ctx context.Context, value string) (safelink.ThreatIndicator, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return safelink.ThreatIndicator{}, false, fmt.Errorf("threatintel: begin lookup tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+selectCols+`
FROM threat_indicators WHERE indicator_value=? AND is_active=1 AND false_positive=0`, value)
	ind, err := scanIndicator(row)
	if err == sql.ErrNoRows {
		return safelink.ThreatIndicator{}, false, nil
	}
	if err != nil {
		return safelink.ThreatIndicator{}, false, fmt.Errorf("threatintel: lookup: %w", err)
	}

	now := time.Now()
	if ind.Expired(now) {
		if _, err := tx.ExecContext(ctx, `UPDATE threat_indicators SET is_active=0 WHERE id=?`, ind.ID); err != nil {
			return safelink.ThreatIndicator{}, false, err
		}
		if err := tx.Commit(); err != nil {
			return safelink.ThreatIndicator{}, false, fmt.Errorf("threatintel: commit expiry: %w", err)
		}
		return safelink.ThreatIndicator{}, false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE threat_indicators SET hit_count=hit_count+1, last_hit=? WHERE id=?`, now, ind.ID); err != nil {
		return safelink.ThreatIndicator{}, false, fmt.Errorf("threatintel: bump hit count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return safelink.ThreatIndicator{}, false, fmt.Errorf("threatintel: commit hit count bump: %w", err)
	}
	ind.HitCount++
	ind.LastHit = &now
	return ind, true, nil
}

// ListFilter narrows List's result set. A zero-value Type/Severity
// means "any".
type ListFilter struct {
	Type     safelink.IndicatorType
	Severity string
	Active   *bool
	Limit    int
	Offset   int
}

// List returns indicators matching filter, most-recently-seen first,
// excluding expired rows.
func (s *Store) List(ctx context.Context, f ListFilter) ([]safelink.ThreatIndicator, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var where []string
	var args []any
	if f.Type != "" {
		where = append(where, "indicator_type=?")
		args = append(args, string(f.Type))
	}
	if f.Severity != "" {
		where = append(where, "severity=?")
		args = append(args, f.Severity)
	}
	if f.Active != nil {
		where = append(where, "is_active=?")
		args = append(args, *f.Active)
	}
	where = append(where, "(expires_at IS NULL OR expires_at > ?)")
	args = append(args, time.Now())

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, f.Offset)

	stmt := fmt.Sprintf(`SELECT %s FROM threat_indicators WHERE %s ORDER BY last_seen DESC LIMIT ? OFFSET ?`,
		selectCols, strings.Join(where, " AND "))
	return s.queryList(ctx, stmt, args...)
}

// Search performs a free-text lookup over value and description.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]safelink.ThreatIndicator, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if limit <= 0 {
		limit = 100
	}
	like := "%" + query + "%"
	return s.queryList(ctx, `SELECT `+selectCols+`
FROM threat_indicators WHERE indicator_value LIKE ? OR description LIKE ?
ORDER BY last_seen DESC LIMIT ?`, like, like, limit)
}

func (s *Store) queryList(ctx context.Context, stmt string, args ...any) ([]safelink.ThreatIndicator, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("threatintel: query: %w", err)
	}
	defer rows.Close()

	var out []safelink.ThreatIndicator
	for rows.Next() {
		ind, err := scanIndicator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

// Update applies a partial patch to the indicator identified by id.
type Update struct {
	Severity      *string
	Confidence    *float64
	Description   *string
	Tags          []string
	IsActive      *bool
	FalsePositive *bool
}

// Update patches fields on the indicator with the given id.
func (s *Store) Update(ctx context.Context, id int64, u Update) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var sets []string
	var args []any
	if u.Severity != nil {
		sets = append(sets, "severity=?")
		args = append(args, *u.Severity)
	}
	if u.Confidence != nil {
		sets = append(sets, "confidence=?")
		args = append(args, *u.Confidence)
	}
	if u.Description != nil {
		sets = append(sets, "description=?")
		args = append(args, *u.Description)
	}
	if u.Tags != nil {
		sets = append(sets, "tags=?")
		args = append(args, strings.Join(u.Tags, ","))
	}
	if u.IsActive != nil {
		sets = append(sets, "is_active=?")
		args = append(args, *u.IsActive)
	}
	if u.FalsePositive != nil {
		sets = append(sets, "false_positive=?")
		args = append(args, *u.FalsePositive)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE threat_indicators SET %s WHERE id=?`, strings.Join(sets, ", ")), args...)
	return err
}

// Delete removes the indicator with the given id.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `DELETE FROM threat_indicators WHERE id=?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// BulkImportStats summarizes a BulkImport run.
type BulkImportStats struct {
	Added  int
	Failed int
}

// BulkImport adds every indicator in indicators, tolerating individual
// failures; one bad row never aborts the batch.
func (s *Store) BulkImport(ctx context.Context, indicators []safelink.ThreatIndicator) BulkImportStats {
	var stats BulkImportStats
	for _, ind := range indicators {
		if _, err := s.Add(ctx, ind); err != nil {
			stats.Failed++
			continue
		}
		stats.Added++
	}
	return stats
}

// CleanupExpired hard-deletes indicators whose TTL has elapsed.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `DELETE FROM threat_indicators WHERE expires_at IS NOT NULL AND expires_at < ?`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("threatintel: cleanup expired: %w", err)
	}
	return res.RowsAffected()
}

// Statistics mirrors get_statistics()'s shape.
type Statistics struct {
	Total        int64
	Active       int64
	ByType       map[safelink.IndicatorType]int64
	BySeverity   map[string]int64
}

// Statistics computes aggregate counters over the table.
func (s *Store) Statistics(ctx context.Context) (Statistics, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	stats := Statistics{ByType: map[safelink.IndicatorType]int64{}, BySeverity: map[string]int64{}}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threat_indicators`).Scan(&stats.Total); err != nil {
		return Statistics{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threat_indicators WHERE is_active=1`).Scan(&stats.Active); err != nil {
		return Statistics{}, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT indicator_type, COUNT(*) FROM threat_indicators WHERE is_active=1 GROUP BY indicator_type`)
	if err != nil {
		return Statistics{}, err
	}
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			rows.Close()
			return Statistics{}, err
		}
		stats.ByType[safelink.IndicatorType(typ)] = n
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT severity, COUNT(*) FROM threat_indicators WHERE is_active=1 GROUP BY severity`)
	if err != nil {
		return Statistics{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var sev string
		var n int64
		if err := rows.Scan(&sev, &n); err != nil {
			return Statistics{}, err
		}
		stats.BySeverity[sev] = n
	}
	return stats, rows.Err()
}
