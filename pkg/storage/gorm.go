// Package storage provides storage implementations for the later package.
package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
)

const (
	defaultBatchSize = 100
	liveClause       = "(expires_at_ms IS NULL OR expires_at_ms > ?)"
)

var errCheckFailed = errors.New("check failed")

// GormStorage implements core.Storage using GORM.
type GormStorage struct {
	db  *gorm.DB
	now func() time.Time
	// pinErr is set when a SQLite handle could not be pinned. Migrate
	// reports it.
	pinErr error
}

// NewGormStorage creates a new GORM-backed storage. SQLite databases are
// pinned to a single connection so in-memory databases stay shared and
// writers never hit SQLITE_BUSY against each other.
func NewGormStorage(db *gorm.DB) *GormStorage {
	s := &GormStorage{db: db, now: time.Now}
	if s.IsSQLite() {
		if err := ConfigurePool(db, SingleConnection()); err != nil {
			s.pinErr = fmt.Errorf("storage: pin sqlite to one connection: %w", err)
			slog.Default().Warn("sqlite connection pin failed", "error", err)
		}
	}
	return s
}

// DB returns the underlying handle.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// IsSQLite reports whether the storage runs on SQLite.
func (s *GormStorage) IsSQLite() bool {
	return s.db.Dialector.Name() == "sqlite"
}

// Migrate creates the necessary tables and seeds the version row.
func (s *GormStorage) Migrate(ctx context.Context) error {
	if s.pinErr != nil {
		return s.pinErr
	}
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&entryRow{}, &messageRow{}, &metaRow{}); err != nil {
		return core.StorageFailure("migrate", err)
	}
	err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&metaRow{ID: metaRowID}).Error
	return core.StorageFailure("migrate", err)
}

// Close closes the underlying connection pool.
func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get returns the live entry at key, or nil.
func (s *GormStorage) Get(ctx context.Context, key core.Key) (*core.Entry, error) {
	row, err := liveEntry(s.db.WithContext(ctx), key.Pack(), s.now().UnixMilli())
	if err != nil {
		return nil, core.StorageFailure("get", err)
	}
	if row == nil {
		return nil, nil
	}
	return &core.Entry{Key: key, Value: row.Value, Versionstamp: core.Versionstamp(row.Versionstamp)}, nil
}

// List walks live entries under sel.Prefix one page at a time. Each page is
// fully read before entries are yielded, so callers may write to the store
// from inside the loop.
func (s *GormStorage) List(ctx context.Context, sel core.ListSelector) iter.Seq2[core.Entry, error] {
	return func(yield func(core.Entry, error) bool) {
		start, end := sel.Prefix.Range()
		batch := sel.BatchSize
		if batch <= 0 {
			batch = defaultBatchSize
		}

		cursor, op := start, "kv_key >= ?"
		seen := 0
		for {
			var rows []entryRow
			err := s.db.WithContext(ctx).
				Where(op, cursor).
				Where("kv_key < ?", end).
				Where(liveClause, s.now().UnixMilli()).
				Order("kv_key ASC").
				Limit(batch).
				Find(&rows).Error
			if err != nil {
				yield(core.Entry{}, core.StorageFailure("list", err))
				return
			}

			for _, row := range rows {
				key, err := core.UnpackKey(row.Key)
				if err != nil {
					if !yield(core.Entry{}, err) {
						return
					}
					continue
				}
				entry := core.Entry{Key: key, Value: row.Value, Versionstamp: core.Versionstamp(row.Versionstamp)}
				if !yield(entry, nil) {
					return
				}
				seen++
				if sel.Limit > 0 && seen >= sel.Limit {
					return
				}
			}

			if len(rows) < batch {
				return
			}
			cursor, op = rows[len(rows)-1].Key, "kv_key > ?"
		}
	}
}

// Commit applies op in one transaction. A failed check rolls back and
// reports OK=false without an error.
func (s *GormStorage) Commit(ctx context.Context, op *core.AtomicOperation) (core.CommitResult, error) {
	var result core.CommitResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bump := tx.Model(&metaRow{}).
			Where("id = ?", metaRowID).
			UpdateColumn("version", gorm.Expr("version + ?", 1))
		if bump.Error != nil {
			return bump.Error
		}
		if bump.RowsAffected == 0 {
			return errors.New("version row missing, run Migrate")
		}

		var meta metaRow
		if err := tx.Where("id = ?", metaRowID).Take(&meta).Error; err != nil {
			return err
		}

		now := s.now()
		nowMs := now.UnixMilli()

		for _, check := range op.Checks {
			row, err := liveEntry(tx, check.Key.Pack(), nowMs)
			if err != nil {
				return err
			}
			var current uint64
			if row != nil {
				current = row.Versionstamp
			}
			if current != uint64(check.Versionstamp) {
				return errCheckFailed
			}
		}

		for _, m := range op.Mutations {
			if err := applyMutation(tx, m, meta.Version, now); err != nil {
				return err
			}
		}

		for _, e := range op.Enqueues {
			msg := &messageRow{
				ID:          newMessageID(),
				Payload:     e.Payload,
				VisibleAtMs: now.Add(e.Delay).UnixMilli(),
			}
			if err := tx.Create(msg).Error; err != nil {
				return err
			}
		}

		result = core.CommitResult{OK: true, Versionstamp: core.Versionstamp(meta.Version)}
		return nil
	})

	if errors.Is(err, errCheckFailed) {
		return core.CommitResult{}, nil
	}
	if err != nil {
		return core.CommitResult{}, core.StorageFailure("commit", err)
	}
	return result, nil
}

// SweepExpired deletes entries whose TTL has passed. Reads already hide
// them; this reclaims the rows.
func (s *GormStorage) SweepExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at_ms IS NOT NULL AND expires_at_ms <= ?", s.now().UnixMilli()).
		Delete(&entryRow{})
	if result.Error != nil {
		return 0, core.StorageFailure("sweep", result.Error)
	}
	return result.RowsAffected, nil
}

func applyMutation(tx *gorm.DB, m core.Mutation, version uint64, now time.Time) error {
	packed := m.Key.Pack()
	switch m.Type {
	case core.MutationSet:
		row := &entryRow{Key: packed, Value: m.Value, Versionstamp: version}
		if m.ExpireIn > 0 {
			exp := now.Add(m.ExpireIn).UnixMilli()
			row.ExpiresAtMs = &exp
		}
		return upsertEntry(tx, row)

	case core.MutationDelete:
		return tx.Where("kv_key = ?", packed).Delete(&entryRow{}).Error

	case core.MutationSum:
		row, err := liveEntry(tx, packed, now.UnixMilli())
		if err != nil {
			return err
		}
		var current uint64
		if row != nil {
			if current, err = core.DecodeU64(row.Value); err != nil {
				return err
			}
		}
		return upsertEntry(tx, &entryRow{
			Key:          packed,
			Value:        core.EncodeU64(current + m.Delta),
			Versionstamp: version,
		})
	}
	return errors.New("unknown mutation type")
}

func upsertEntry(tx *gorm.DB, row *entryRow) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "versionstamp", "expires_at_ms"}),
	}).Create(row).Error
}

func liveEntry(db *gorm.DB, packed []byte, nowMs int64) (*entryRow, error) {
	var rows []entryRow
	err := db.Where("kv_key = ?", packed).
		Where(liveClause, nowMs).
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}
