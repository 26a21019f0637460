package alertstore

import (
	"context"
	"fmt"
	"time"

	safelink "github.com/Nagarohit29/Safelink"
)

// Archive moves rows to archived_alerts atomically (the copy and the
// delete share one transaction). A nil ids slice archives every live
// row.
func (s *Store) Archive(ctx context.Context, ids []int64, reason safelink.ArchiveReason) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("alertstore: archive begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	var selectStmt string
	var args []any
	if len(ids) == 0 {
		selectStmt = `SELECT id, timestamp, module, reason, src_ip, src_mac, detail FROM alerts`
	} else {
		selectStmt = fmt.Sprintf(`SELECT id, timestamp, module, reason, src_ip, src_mac, detail FROM alerts WHERE id IN (%s)`, placeholders(len(ids)))
		for _, id := range ids {
			args = append(args, id)
		}
	}

	rows, err := tx.QueryContext(ctx, selectStmt, args...)
	if err != nil {
		return 0, fmt.Errorf("alertstore: archive select: %w", err)
	}
	var toArchive []safelink.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		toArchive = append(toArchive, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, a := range toArchive {
		detailJSON, err := marshalDetail(a.Detail)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO archived_alerts (original_id, timestamp, module, reason, src_ip, src_mac, detail, archived_at, archive_reason)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.Timestamp, string(a.Module), a.Reason, a.SrcIP, a.SrcMAC, detailJSON, now, string(reason)); err != nil {
			return 0, fmt.Errorf("alertstore: archive insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE id=?`, a.ID); err != nil {
			return 0, fmt.Errorf("alertstore: archive delete: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("alertstore: archive commit: %w", err)
	}
	return int64(len(toArchive)), nil
}

// Rotate archives every alert older than days_to_keep days with reason
// auto_rotation.
func (s *Store) Rotate(ctx context.Context, daysToKeep int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -daysToKeep)
	ids, err := s.idsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return s.Archive(ctx, ids, safelink.ArchiveAutoRotation)
}

func (s *Store) idsOlderThan(ctx context.Context, cutoff time.Time) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM alerts WHERE timestamp < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("alertstore: rotate query: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CleanupArchives hard-deletes archived rows older than daysToKeep days
// (past their archived_at, not their original timestamp).
func (s *Store) CleanupArchives(ctx context.Context, daysToKeep int) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -daysToKeep)
	res, err := s.db.ExecContext(ctx, `DELETE FROM archived_alerts WHERE archived_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("alertstore: cleanup archives: %w", err)
	}
	return res.RowsAffected()
}
