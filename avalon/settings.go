package avalon

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// settingCurrentModel is the key under which the active model
// identifier is stored.
const settingCurrentModel = "CURRENT_MODEL"

// BotSetting is a single named, mutable string setting. The only key
// currently used is [settingCurrentModel]; last write wins.
type BotSetting struct {
	Name  string `gorm:"primaryKey" json:"name"`
	Value string `gorm:"not null" json:"value"`
	ModelUnixTime
}

// SettingsStore is a narrow get/put interface over named string
// settings. Multiple process instances share the backing store, so the
// value is read at each use rather than cached.
type SettingsStore interface {
	Get(ctx context.Context, name string) (string, error)
	Put(ctx context.Context, name string, value string) error
}

// gormSettingsStore implements SettingsStore on the bot database.
type gormSettingsStore struct {
	db     *database
	logger *slog.Logger
}

func newSettingsStore(db *database, logger *slog.Logger) *gormSettingsStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &gormSettingsStore{
		db:     db,
		logger: logger.With(loggerNameKey, "settings"),
	}
}

// Get returns the stored value for name. A missing row is returned as
// [gorm.ErrRecordNotFound].
func (s *gormSettingsStore) Get(ctx context.Context, name string) (string, error) {
	var setting BotSetting
	err := s.db.DB().WithContext(ctx).Where(
		"name = ?", name,
	).First(&setting).Error
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

// Put upserts the value for name.
func (s *gormSettingsStore) Put(ctx context.Context, name string, value string) error {
	if !s.db.enableConcurrentWrites {
		s.db.mu.Lock()
		defer s.db.mu.Unlock()
	}
	return s.db.DB().WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		},
	).Create(&BotSetting{Name: name, Value: value}).Error
}

// currentModel returns the active model identifier, falling back to
// the configured default when the setting is absent or the store can't
// be read. The value is never cached: a /setmodel write is visible to
// the very next /chat invocation.
func (a *Avalon) currentModel(ctx context.Context) string {
	value, err := a.settings.Get(ctx, settingCurrentModel)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			a.logger.WarnContext(
				ctx,
				"error reading current model, using default",
				tint.Err(err),
			)
		}
		return a.config.LLM.DefaultModel
	}
	if value == "" {
		return a.config.LLM.DefaultModel
	}
	return value
}

// setCurrentModel stores a new active model identifier, then reads it
// back. Returning the read-back value (rather than the input) guards
// against silent store failures.
func (a *Avalon) setCurrentModel(ctx context.Context, model string) (string, error) {
	if err := a.settings.Put(ctx, settingCurrentModel, model); err != nil {
		return "", err
	}
	return a.settings.Get(ctx, settingCurrentModel)
}
