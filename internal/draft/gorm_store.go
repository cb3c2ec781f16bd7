package draft

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"VPN-Shop-bot/internal/db"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(gdb *gorm.DB) *GormStore {
	return &GormStore{db: gdb}
}

func (s *GormStore) GetOrCreate(ctx context.Context, telegramID int64) (*db.Draft, error) {
	d := db.Draft{TelegramID: telegramID}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "telegram_id"}}, DoNothing: true}).
		Create(&d).Error
	if err != nil {
		return nil, fmt.Errorf("create draft %d: %w", telegramID, err)
	}
	var out db.Draft
	if err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&out).Error; err != nil {
		return nil, fmt.Errorf("load draft %d: %w", telegramID, err)
	}
	return &out, nil
}

func (s *GormStore) Update(ctx context.Context, telegramID int64, p Patch) (*db.Draft, error) {
	if _, err := s.GetOrCreate(ctx, telegramID); err != nil {
		return nil, err
	}
	if cols := p.columns(); len(cols) > 0 {
		err := s.db.WithContext(ctx).Model(&db.Draft{}).
			Where("telegram_id = ?", telegramID).
			Updates(cols).Error
		if err != nil {
			return nil, fmt.Errorf("update draft %d: %w", telegramID, err)
		}
	}
	return s.GetOrCreate(ctx, telegramID)
}

func (s *GormStore) Clear(ctx context.Context, telegramID int64) error {
	return s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).Delete(&db.Draft{}).Error
}
