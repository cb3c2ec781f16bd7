package pricing

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"VPN-Shop-bot/internal/db"
)

// OverrideStore reads and writes the config_values table.
type OverrideStore struct {
	db *gorm.DB
}

func NewOverrideStore(gdb *gorm.DB) *OverrideStore {
	return &OverrideStore{db: gdb}
}

func (s *OverrideStore) Snapshot(ctx context.Context) (Overrides, error) {
	var rows []db.ConfigValue
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	ov := make(Overrides, len(rows))
	for _, r := range rows {
		ov[r.Key] = r.Value
	}
	return ov, nil
}

func (s *OverrideStore) Set(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&db.ConfigValue{Key: key, Value: value}).Error
}

func (s *OverrideStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&db.ConfigValue{}).Error
}

// Quote loads the current overrides and prices the selection.
func (s *OverrideStore) Quote(ctx context.Context, sel Selection) (Amount, error) {
	ov, err := s.Snapshot(ctx)
	if err != nil {
		return Amount{}, err
	}
	return PriceFor(sel, ov)
}
