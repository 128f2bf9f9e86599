// Package store implements C1 — the persistent, crash-safe record of every
// FileRecord and PeerCursor the engine has ever seen, backed by SQLite
// through gorm (the same ORM/driver pairing used by the retrieved
// project-tachyon and TG-FileStreamBot storage layers, chosen here for its
// pure-Go sqlite driver so the module needs no cgo toolchain).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/teleaudio/teleaudio/internal/core"
)

// Store is the single authoritative owner of FileRecord and PeerCursor
// persistence ("Ownership"). All mutation goes through its methods;
// every write here is fsynced by SQLite's default journal mode before the
// call returns, satisfying the crash-safety requirement
type Store struct {
	db *gorm.DB
}

// Open creates or attaches to the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&core.FileRecord{}, &core.PeerCursor{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertOutcome reports which branch UpsertFile took.
type UpsertOutcome int

const (
	Inserted UpsertOutcome = iota
	AlreadyExists
)

// UpsertFile inserts a new FileRecord idempotently by FileID .
func (s *Store) UpsertFile(ctx context.Context, rec core.FileRecord) (UpsertOutcome, *core.FileRecord, error) {
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = core.StatusPending
	}

	var outcome UpsertOutcome
	var existing core.FileRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("file_id = ?", rec.FileID).Take(&existing)
		if res.Error == nil {
			outcome = AlreadyExists
			return nil
		}
		if res.Error != gorm.ErrRecordNotFound {
			return res.Error
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		outcome = Inserted
		existing = rec
		return nil
	})
	if err != nil {
		return 0, nil, fmt.Errorf("store: upsert_file %s: %w", rec.FileID, err)
	}
	return outcome, &existing, nil
}

// ClaimOutcome reports the result of a TryClaim CAS attempt.
type ClaimOutcome int

const (
	Claimed ClaimOutcome = iota
	NotPending
	ClaimNotFound
)

// TryClaim performs the atomic PENDING→IN_PROGRESS transition
// It is implemented as a single conditional UPDATE inside a transaction:
// RowsAffected == 0 means the claim was not won, and a follow-up read then
// tells "not found" apart from "not pending", giving linearizable-per-key
// CAS without any in-process lock.
func (s *Store) TryClaim(ctx context.Context, fileID string) (ClaimOutcome, *core.FileRecord, error) {
	var rec core.FileRecord
	var outcome ClaimOutcome

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&core.FileRecord{}).
			Where("file_id = ? AND status = ?", fileID, core.StatusPending).
			Updates(map[string]any{"status": core.StatusInProgress, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.Where("file_id = ?", fileID).Take(&rec).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					outcome = ClaimNotFound
					return nil
				}
				return err
			}
			outcome = NotPending
			return nil
		}
		if err := tx.Where("file_id = ?", fileID).Take(&rec).Error; err != nil {
			return err
		}
		outcome = Claimed
		return nil
	})
	if err != nil {
		return 0, nil, fmt.Errorf("store: try_claim %s: %w", fileID, err)
	}
	return outcome, &rec, nil
}

// RecordProgress persists a validated offset + incremental checksum,
// enforcing the monotonic check declaredSize, when non-zero and
// the record's current DeclaredSize is 0, updates the discovered size
// (edge case).
func (s *Store) RecordProgress(ctx context.Context, fileID string, newOffset int64, partialChecksum string, declaredSize int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec core.FileRecord
		if err := tx.Where("file_id = ?", fileID).Take(&rec).Error; err != nil {
			return err
		}
		if newOffset < rec.DownloadedBytes {
			return core.ErrNonMonotonicOffset
		}
		updates := map[string]any{
			"downloaded_bytes": newOffset,
			"partial_checksum": partialChecksum,
			"updated_at":       time.Now(),
		}
		if rec.DeclaredSize == 0 && declaredSize > 0 {
			updates["declared_size"] = declaredSize
		}
		return tx.Model(&core.FileRecord{}).Where("file_id = ?", fileID).Updates(updates).Error
	})
}

// Complete transitions IN_PROGRESS→COMPLETED, idempotent when the record is
// already completed with an identical checksum .
func (s *Store) Complete(ctx context.Context, fileID, finalChecksum string, finalSize int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec core.FileRecord
		if err := tx.Where("file_id = ?", fileID).Take(&rec).Error; err != nil {
			return err
		}
		if rec.Status == core.StatusCompleted {
			if rec.FinalChecksum == finalChecksum {
				return nil
			}
			return core.ErrConflictingCompletion
		}
		return tx.Model(&core.FileRecord{}).Where("file_id = ?", fileID).Updates(map[string]any{
			"status":           core.StatusCompleted,
			"downloaded_bytes": finalSize,
			"declared_size":    finalSize,
			"final_checksum":   finalChecksum,
			"updated_at":       time.Now(),
		}).Error
	})
}

// Fail transitions IN_PROGRESS→FAILED, or back to PENDING when retriable and
// under the attempt cap .
func (s *Store) Fail(ctx context.Context, fileID string, kind core.ErrorKind, retriable bool, maxAttempts int, nextEligibleAt time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec core.FileRecord
		if err := tx.Where("file_id = ?", fileID).Take(&rec).Error; err != nil {
			return err
		}
		now := time.Now()
		attempts := rec.Attempts + 1
		updates := map[string]any{
			"attempts":        attempts,
			"last_error_kind": kind,
			"last_error_at":   &now,
			"updated_at":      now,
		}
		if retriable && attempts < maxAttempts {
			updates["status"] = core.StatusPending
			updates["next_eligible_at"] = &nextEligibleAt
		} else {
			updates["status"] = core.StatusFailed
		}
		return tx.Model(&core.FileRecord{}).Where("file_id = ?", fileID).Updates(updates).Error
	})
}

// RevertInProgress reverts every IN_PROGRESS record to PENDING. Called by the
// Coordinator on clean shutdown so no claim is left stranded.
func (s *Store) RevertInProgress(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&core.FileRecord{}).
		Where("status = ?", core.StatusInProgress).
		Update("status", core.StatusPending)
	return res.RowsAffected, res.Error
}

// GetPeerCursor returns the cursor for peerID, or the zero value if unseen.
func (s *Store) GetPeerCursor(ctx context.Context, peerID int64) (core.PeerCursor, error) {
	var cur core.PeerCursor
	err := s.db.WithContext(ctx).Where("peer_id = ?", peerID).Take(&cur).Error
	if err == gorm.ErrRecordNotFound {
		return core.PeerCursor{PeerID: peerID}, nil
	}
	return cur, err
}

// SetPeerCursor stores messageID as the new cursor, enforcing the strictly
// monotonic invariant
func (s *Store) SetPeerCursor(ctx context.Context, peerID, messageID int64, displayName string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur core.PeerCursor
		err := tx.Where("peer_id = ?", peerID).Take(&cur).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			return tx.Create(&core.PeerCursor{
				PeerID:               peerID,
				LastScannedMessageID: messageID,
				LastScanAt:           time.Now(),
				DisplayName:          displayName,
			}).Error
		case err != nil:
			return err
		}
		if messageID <= cur.LastScannedMessageID {
			return nil // monotonic: never move the cursor backward
		}
		updates := map[string]any{
			"last_scanned_message_id": messageID,
			"last_scan_at":            time.Now(),
		}
		if displayName != "" {
			updates["display_name"] = displayName
		}
		return tx.Model(&core.PeerCursor{}).Where("peer_id = ?", peerID).Updates(updates).Error
	})
}

// StatusFilter narrows IterByStatus to a peer and/or format.
type StatusFilter struct {
	PeerID int64
	Format core.Format
}

// IterByStatus returns a snapshot slice of records in the given status,
// optionally filtered — used by `search`/`stats`/`performance` (:
// "lazy sequence", satisfied here as a bounded snapshot read since the
// caller-facing CLI commands always want a finite report, not a live feed).
func (s *Store) IterByStatus(ctx context.Context, status core.Status, filter StatusFilter) ([]core.FileRecord, error) {
	q := s.db.WithContext(ctx).Where("status = ?", status)
	if filter.PeerID != 0 {
		q = q.Where("peer_id = ?", filter.PeerID)
	}
	if filter.Format != "" {
		q = q.Where("format = ?", filter.Format)
	}
	var recs []core.FileRecord
	if err := q.Order("updated_at desc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("store: iter_by_status: %w", err)
	}
	return recs, nil
}

// AllPeerCursors lists every known peer cursor, for `teleaudio groups`.
func (s *Store) AllPeerCursors(ctx context.Context) ([]core.PeerCursor, error) {
	var curs []core.PeerCursor
	if err := s.db.WithContext(ctx).Order("last_scan_at desc").Find(&curs).Error; err != nil {
		return nil, err
	}
	return curs, nil
}

// UpdateMetadata stores MetadataExtractor output on a completed record. Never
// fatal to call on a non-existent record — it is a best-effort enrichment.
func (s *Store) UpdateMetadata(ctx context.Context, fileID string, title, artist, album string, durationSeconds, bitrateKbps int) error {
	return s.db.WithContext(ctx).Model(&core.FileRecord{}).Where("file_id = ?", fileID).Updates(map[string]any{
		"title":            title,
		"artist":           artist,
		"album":            album,
		"duration_seconds": durationSeconds,
		"bitrate_kbps":     bitrateKbps,
	}).Error
}

// Get fetches a single record by id, used by `teleaudio metadata`.
func (s *Store) Get(ctx context.Context, fileID string) (core.FileRecord, error) {
	var rec core.FileRecord
	err := s.db.WithContext(ctx).Where("file_id = ?", fileID).Take(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return rec, core.ErrNotFound
	}
	return rec, err
}
