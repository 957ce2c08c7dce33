package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Setting keys.
const (
	SettingDirectProxyPath = "direct_proxy_path"
)

type setting struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

func (setting) TableName() string {
	return "system_config"
}

// Setting is one runtime-editable configuration value.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	row, err := gorm.G[setting](s.db).Where("`key` = ?", key).First(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	} else if err != nil {
		return "", err
	}
	return row.Value, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	err := gorm.G[setting](
		s.db,
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		},
	).Create(ctx, &setting{Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// EnsureSetting stores value under key unless the key already exists, and
// returns whichever value is stored afterwards.
func (s *Store) EnsureSetting(ctx context.Context, key, value string) (string, error) {
	err := gorm.G[setting](
		s.db,
		clause.OnConflict{DoNothing: true},
	).Create(ctx, &setting{Key: key, Value: value})
	if err != nil {
		return "", fmt.Errorf("seed %s: %w", key, err)
	}
	return s.GetSetting(ctx, key)
}

func (s *Store) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := gorm.G[setting](s.db).Order("`key`").Find(ctx)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}

	settings := make([]Setting, 0, len(rows))
	for _, row := range rows {
		settings = append(settings, Setting{Key: row.Key, Value: row.Value, UpdatedAt: row.UpdatedAt.UTC()})
	}
	return settings, nil
}
