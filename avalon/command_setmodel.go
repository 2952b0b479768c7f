package avalon

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleSetModelCommand implements /setmodel. The command is restricted
// to the configured owner and responds synchronously: there is no LLM
// call on this path, so the whole flow fits inside Discord's response
// window. Every response is ephemeral so the bot's configuration stays
// out of the channel.
func (a *Avalon) handleSetModelCommand(
	ctx context.Context,
	handler InteractionHandler,
	user *discordgo.User,
	data discordgo.ApplicationCommandInteractionData,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = a.logger
	}

	respond := func(content string) {
		if err := handler.Respond(ctx, ephemeralResponse(content)); err != nil {
			logger.ErrorContext(
				ctx,
				"error responding to interaction",
				tint.Err(err),
			)
		}
	}

	if user == nil || user.ID != a.config.Discord.OwnerUserID {
		userID := ""
		if user != nil {
			userID = user.ID
		}
		logger.WarnContext(
			ctx,
			"setmodel attempted by non-owner",
			"user_id", userID,
		)
		respond(DefaultDiscordPermissionDeniedMessage)
		return
	}

	if len(data.Options) == 0 {
		logger.WarnContext(ctx, "no options provided")
		respond(DefaultDiscordNoOptionsMessage)
		return
	}

	input, err := validateSetModelOptions(flattenOptions(data.Options))
	if err != nil {
		logger.WarnContext(
			ctx,
			"setmodel options failed validation",
			tint.Err(err),
		)
		respond(fmt.Sprintf("Invalid input: %s", err.Error()))
		return
	}

	// The confirmation echoes the value read back from storage, not the
	// submitted value, so a silent write failure can't be mistaken for
	// success.
	stored, err := a.setCurrentModel(ctx, input.ModelName)
	if err != nil {
		logger.ErrorContext(ctx, "error persisting model setting", tint.Err(err))
		respond(DefaultDiscordErrorMessage)
		return
	}

	logger.InfoContext(
		ctx,
		"current model updated",
		"model", stored,
		"user_id", user.ID,
	)
	respond(fmt.Sprintf("Model set to: `%s`.", stored))
}
