package avalon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCommands(t *testing.T) {
	t.Parallel()
	bot, _ := newTestAvalon(t)
	session := newMockDiscordSession()
	bot.session = session

	registered, err := bot.RegisterCommands()
	require.NoError(t, err)
	require.Len(t, registered, 2)

	sent := waitFor(t, session.bulkCh, 10*time.Second)
	names := make([]string, 0, len(sent))
	for _, c := range sent {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, DiscordSlashCommandChat)
	assert.Contains(t, names, DiscordSlashCommandSetModel)
}

func TestInteractionLogging(t *testing.T) {
	t.Parallel()
	bot, _ := newTestAvalon(t)

	user := newDiscordUser(t)
	interaction := newSetModelInteraction(t, user, "openai/gpt-4o-mini")
	handler := newStubInteractionHandler(t, interaction)
	bot.handleInteraction(context.Background(), handler)
	waitFor(t, handler.callRespond, 10*time.Second)

	var logged InteractionLog
	require.NoError(
		t,
		bot.db.DB().Where(
			"interaction_id = ?",
			interaction.ID,
		).First(&logged).Error,
	)
	assert.Equal(t, user.ID, logged.UserID)
	assert.Contains(t, logged.Payload, interaction.ID)
	assert.NotZero(t, logged.CreatedAt)
}

func TestNewInteractionLogNilUser(t *testing.T) {
	t.Parallel()
	interaction := newChatInteraction(t, nil, "hello")
	logged, err := newInteractionLog(interaction, nil)
	require.NoError(t, err)
	assert.Empty(t, logged.UserID)
	assert.Equal(t, interaction.ID, logged.InteractionID)
}
