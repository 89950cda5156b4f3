package storage

import "time"

const metaRowID = 1

type entryRow struct {
	Key          []byte `gorm:"column:kv_key;primaryKey;type:bytes"`
	Value        []byte `gorm:"type:bytes"`
	Versionstamp uint64 `gorm:"not null"`
	ExpiresAtMs  *int64 `gorm:"column:expires_at_ms;index"`
}

func (entryRow) TableName() string { return "kv_entries" }

type messageRow struct {
	ID          string    `gorm:"primaryKey;size:36"`
	Payload     []byte    `gorm:"type:bytes"`
	VisibleAtMs int64     `gorm:"column:visible_at_ms;index;not null"`
	LockedBy    string    `gorm:"size:255"`
	Deliveries  int       `gorm:"default:0"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (messageRow) TableName() string { return "kv_messages" }

type metaRow struct {
	ID      uint   `gorm:"primaryKey;autoIncrement:false"`
	Version uint64 `gorm:"not null;default:0"`
}

func (metaRow) TableName() string { return "kv_meta" }
