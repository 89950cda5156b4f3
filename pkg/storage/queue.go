package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
)

const claimCandidates = 8

func newMessageID() string {
	return uuid.New().String()
}

// DequeueMessage leases the oldest visible message. Claiming is a
// conditional update on visible_at_ms, so two workers racing for the same
// row cannot both win.
func (s *GormStorage) DequeueMessage(ctx context.Context, workerID string, lease time.Duration) (*core.Message, error) {
	now := s.now()
	nowMs := now.UnixMilli()
	db := s.db.WithContext(ctx)

	var candidates []messageRow
	err := db.
		Where("visible_at_ms <= ?", nowMs).
		Order("visible_at_ms ASC, created_at ASC").
		Limit(claimCandidates).
		Find(&candidates).Error
	if err != nil {
		return nil, core.StorageFailure("dequeue", err)
	}

	for _, c := range candidates {
		result := db.Model(&messageRow{}).
			Where("id = ? AND visible_at_ms = ?", c.ID, c.VisibleAtMs).
			Updates(map[string]any{
				"visible_at_ms": now.Add(lease).UnixMilli(),
				"locked_by":     workerID,
				"deliveries":    c.Deliveries + 1,
			})
		if result.Error != nil {
			return nil, core.StorageFailure("dequeue", result.Error)
		}
		if result.RowsAffected == 1 {
			return &core.Message{
				ID:         c.ID,
				Payload:    c.Payload,
				ReadyAt:    time.UnixMilli(c.VisibleAtMs),
				Deliveries: c.Deliveries + 1,
			}, nil
		}
	}
	return nil, nil
}

// AckMessage deletes a message. Validates that the worker still holds it.
func (s *GormStorage) AckMessage(ctx context.Context, id, workerID string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND locked_by = ?", id, workerID).
		Delete(&messageRow{})
	if result.Error != nil {
		return core.StorageFailure("ack", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.ErrMessageNotOwned
	}
	return nil
}

// RetryMessage releases the lease and makes the message visible at readyAt.
func (s *GormStorage) RetryMessage(ctx context.Context, id, workerID string, readyAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&messageRow{}).
		Where("id = ? AND locked_by = ?", id, workerID).
		Updates(map[string]any{
			"visible_at_ms": readyAt.UnixMilli(),
			"locked_by":     "",
		})
	if result.Error != nil {
		return core.StorageFailure("retry", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.ErrMessageNotOwned
	}
	return nil
}

// ExtendLease moves visible_at_ms forward for a message workerID holds.
func (s *GormStorage) ExtendLease(ctx context.Context, id, workerID string, lease time.Duration) error {
	result := s.db.WithContext(ctx).
		Model(&messageRow{}).
		Where("id = ? AND locked_by = ?", id, workerID).
		Update("visible_at_ms", s.now().Add(lease).UnixMilli())
	if result.Error != nil {
		return core.StorageFailure("extend lease", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.ErrMessageNotOwned
	}
	return nil
}

// PendingMessages counts messages not yet acknowledged.
func (s *GormStorage) PendingMessages(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&messageRow{}).Count(&n).Error
	return n, core.StorageFailure("count", err)
}
