package avalon

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSettingsStoreRoundTrip(t *testing.T) {
	t.Parallel()
	bot, _ := newTestAvalon(t)
	ctx := context.Background()

	_, err := bot.settings.Get(ctx, settingCurrentModel)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	require.NoError(
		t,
		bot.settings.Put(ctx, settingCurrentModel, "openai/gpt-4o-mini"),
	)
	value, err := bot.settings.Get(ctx, settingCurrentModel)
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o-mini", value)

	// writing the same name again must overwrite, not duplicate
	require.NoError(
		t,
		bot.settings.Put(ctx, settingCurrentModel, "anthropic/claude-3-haiku"),
	)
	value, err = bot.settings.Get(ctx, settingCurrentModel)
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-3-haiku", value)

	var count int64
	require.NoError(
		t,
		bot.db.DB().Model(&BotSetting{}).Count(&count).Error,
	)
	assert.Equal(t, int64(1), count)
}

func TestCurrentModelDefault(t *testing.T) {
	t.Parallel()
	bot, _ := newTestAvalon(t)
	ctx := context.Background()

	assert.Equal(t, DefaultModel, bot.currentModel(ctx))

	stored, err := bot.setCurrentModel(ctx, "qwen/qwen-2.5-72b-instruct")
	require.NoError(t, err)
	assert.Equal(t, "qwen/qwen-2.5-72b-instruct", stored)
	assert.Equal(t, "qwen/qwen-2.5-72b-instruct", bot.currentModel(ctx))
}

// erroringSettingsStore fails every operation, standing in for a
// database outage.
type erroringSettingsStore struct {
	err error
}

func (e erroringSettingsStore) Get(context.Context, string) (string, error) {
	return "", e.err
}

func (e erroringSettingsStore) Put(context.Context, string, string) error {
	return e.err
}

func TestCurrentModelStoreError(t *testing.T) {
	t.Parallel()
	bot, _ := newTestAvalon(t)
	ctx := context.Background()

	bot.settings = erroringSettingsStore{err: errors.New("database is gone")}

	// a broken settings store must not break /chat
	assert.Equal(t, DefaultModel, bot.currentModel(ctx))

	_, err := bot.setCurrentModel(ctx, "openai/gpt-4o")
	require.Error(t, err)
}
