// Package store persists the message and transfer history.
package store

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/rudransh-shrivastava/peer-link/internal/coordinator"
	"github.com/rudransh-shrivastava/peer-link/internal/db"
	"gorm.io/gorm"
)

// HistoryReader lists recorded history, oldest first.
type HistoryReader interface {
	Messages(ctx context.Context, limit int) ([]db.Message, error)
	Transfers(ctx context.Context, limit int) ([]db.Transfer, error)
	MessagesWith(ctx context.Context, peer string, limit int) ([]db.Message, error)
	TransfersWith(ctx context.Context, peer string, limit int) ([]db.Transfer, error)
}

type HistoryStore struct {
	db  *gorm.DB
	now func() time.Time
}

var (
	_ coordinator.History = (*HistoryStore)(nil)
	_ HistoryReader       = (*HistoryStore)(nil)
)

func NewHistoryStore(gdb *gorm.DB) *HistoryStore {
	return &HistoryStore{db: gdb, now: time.Now}
}

func (h *HistoryStore) RecordMessage(ctx context.Context, peer string, dir coordinator.Direction, text string) error {
	return h.db.WithContext(ctx).Create(&db.Message{
		Peer:      peer,
		Direction: dir.String(),
		Text:      text,
		CreatedAt: h.now().UnixMilli(),
	}).Error
}

func (h *HistoryStore) RecordTransfer(ctx context.Context, rec coordinator.TransferRecord) error {
	t := db.Transfer{
		PayloadID: strconv.FormatUint(uint64(rec.PayloadID), 10),
		Peer:      rec.Peer,
		Direction: rec.Direction.String(),
		Path:      rec.Path,
		Size:      rec.Size,
		CreatedAt: h.now().UnixMilli(),
	}
	if rec.Err != nil {
		t.Error = rec.Err.Error()
	}
	return h.db.WithContext(ctx).Create(&t).Error
}

// Messages returns the latest limit messages, or all of them when limit
// is not positive.
func (h *HistoryStore) Messages(ctx context.Context, limit int) ([]db.Message, error) {
	var out []db.Message
	if err := latest(h.db.WithContext(ctx), limit).Find(&out).Error; err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (h *HistoryStore) Transfers(ctx context.Context, limit int) ([]db.Transfer, error) {
	var out []db.Transfer
	if err := latest(h.db.WithContext(ctx), limit).Find(&out).Error; err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// MessagesWith is Messages restricted to one peer name.
func (h *HistoryStore) MessagesWith(ctx context.Context, peer string, limit int) ([]db.Message, error) {
	var out []db.Message
	if err := latest(h.db.WithContext(ctx).Where("peer = ?", peer), limit).Find(&out).Error; err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (h *HistoryStore) TransfersWith(ctx context.Context, peer string, limit int) ([]db.Transfer, error) {
	var out []db.Transfer
	if err := latest(h.db.WithContext(ctx).Where("peer = ?", peer), limit).Find(&out).Error; err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func latest(q *gorm.DB, limit int) *gorm.DB {
	q = q.Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}
