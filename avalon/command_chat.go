package avalon

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

// ChatCommandState indicates the lifecycle state of a /chat invocation.
type ChatCommandState string

const (
	// ChatCommandStateReceived is set when the command is first recorded
	ChatCommandStateReceived ChatCommandState = "received"

	// ChatCommandStateInProgress is set once the background task starts
	ChatCommandStateInProgress ChatCommandState = "in_progress"

	// ChatCommandStateCompleted indicates the reply was delivered
	ChatCommandStateCompleted ChatCommandState = "completed"

	// ChatCommandStateFailed indicates the command ended in an error
	ChatCommandStateFailed ChatCommandState = "failed"
)

const (
	columnChatCommandState      = "state"
	columnChatCommandResponse   = "response"
	columnChatCommandError      = "error"
	columnChatCommandFinishedAt = "finished_at"
)

// ChatCommand records a single /chat invocation: the prompt, the model
// used, and the outcome.
//
//nolint:lll // struct tags can't be split
type ChatCommand struct {
	ModelUintID
	ModelUnixTime
	InteractionID string           `json:"interaction_id" gorm:"not null;default:null;uniqueIndex"`
	Token         string           `json:"token" gorm:"type:string"`
	TokenExpires  int64            `json:"token_expires"`
	AppID         string           `json:"application_id"`
	UserID        string           `json:"user_id" gorm:"index"`
	Username      string           `json:"username" gorm:"type:string"`
	GuildID       string           `json:"guild_id"`
	ChannelID     string           `json:"channel_id"`
	Prompt        string           `json:"prompt" gorm:"type:string"`
	Model         string           `json:"model" gorm:"type:string"`
	State         ChatCommandState `json:"state" gorm:"type:string"`
	Response      *string          `json:"response" gorm:"type:string"`
	Error         string           `json:"error" gorm:"type:string"`
	FinishedAt    *time.Time       `json:"finished_at" gorm:"type:timestamp"`
}

func newChatCommand(
	i *discordgo.InteractionCreate,
	u *discordgo.User,
	prompt string,
) *ChatCommand {
	c := &ChatCommand{
		InteractionID: i.ID,
		Token:         i.Token,
		TokenExpires:  tokenExpiry(time.Now().UTC()),
		AppID:         i.AppID,
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
		Prompt:        prompt,
		State:         ChatCommandStateReceived,
	}
	if u != nil {
		c.UserID = u.ID
		c.Username = u.Username
	}
	return c
}

// Age returns the time elapsed since the command was created
func (c *ChatCommand) Age() time.Duration {
	return time.Since(time.UnixMilli(c.CreatedAt))
}

// handleChatCommand implements the /chat flow: immediately acknowledge
// with a deferred response, then finish in a detached background task
// that validates input, invokes the completion client, and delivers the
// chunked reply as webhook followups.
//
// The deferred acknowledgment must be written within Discord's
// synchronous response window, so nothing slow happens before it. The
// one exception is an options-less payload, which is rejected with a
// synchronous ephemeral message instead of a deferral.
func (a *Avalon) handleChatCommand(
	ctx context.Context,
	handler InteractionHandler,
	user *discordgo.User,
	data discordgo.ApplicationCommandInteractionData,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = a.logger
	}

	if len(data.Options) == 0 {
		logger.WarnContext(ctx, "no options provided")
		if err := handler.Respond(
			ctx,
			ephemeralResponse(DefaultDiscordNoOptionsMessage),
		); err != nil {
			logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
		}
		return
	}

	options := flattenOptions(data.Options)

	if err := handler.Respond(ctx, deferredResponse()); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}

	// The HTTP response is already written; everything past this point
	// runs detached, addressed by the interaction token.
	taskCtx := WithLogger(context.WithoutCancel(ctx), logger)
	a.tasks.Add(1)
	go func() {
		defer a.tasks.Done()
		defer func() {
			if rc := recover(); rc != nil {
				handleRecover(taskCtx, rc)
				a.sendErrorFollowup(taskCtx, handler, DefaultDiscordErrorMessage)
			}
		}()
		a.executeChatCommand(taskCtx, handler, user, options)
	}()
}

// executeChatCommand is the background phase of /chat. Every exit path
// ends in a user-visible followup; a failure to deliver that followup
// is logged and swallowed.
func (a *Avalon) executeChatCommand(
	ctx context.Context,
	handler InteractionHandler,
	user *discordgo.User,
	options map[string]string,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = a.logger
	}

	input, validationErr := validateChatOptions(options)
	if validationErr != nil {
		logger.WarnContext(
			ctx,
			"chat options failed validation",
			tint.Err(validationErr),
		)
		a.sendErrorFollowup(
			ctx,
			handler,
			fmt.Sprintf("Invalid input: %s", validationErr.Error()),
		)
		return
	}

	cmd := newChatCommand(handler.GetInteraction(), user, input.Query)
	cmd.Model = a.currentModel(ctx)
	cmd.State = ChatCommandStateInProgress
	if _, err := a.db.Create(cmd); err != nil {
		logger.ErrorContext(ctx, "error saving chat command", tint.Err(err))
	}

	logger.InfoContext(
		ctx,
		"processing chat command",
		"user_id", cmd.UserID,
		"query", truncate(input.Query, 100),
		"model", cmd.Model,
	)

	client, err := a.completionClient(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "error creating completion client", tint.Err(err))
		a.finalizeChatCommand(ctx, cmd, "", err)
		if _, followupErr := handler.Followup(
			ctx,
			followupParams(DefaultDiscordAgentInitFailedMessage),
		); followupErr != nil {
			logger.ErrorContext(
				ctx,
				"error sending init failure followup",
				tint.Err(followupErr),
			)
		}
		return
	}

	reply, err := client.Complete(ctx, input.Query)
	if err != nil {
		logger.ErrorContext(ctx, "error running completion", tint.Err(err))
		a.finalizeChatCommand(ctx, cmd, "", err)
		a.sendErrorFollowup(ctx, handler, DefaultDiscordErrorMessage)
		return
	}

	deliveryErr := a.deliverChunks(ctx, handler, reply)
	a.finalizeChatCommand(ctx, cmd, reply, deliveryErr)
	if deliveryErr != nil {
		a.sendErrorFollowup(ctx, handler, DefaultDiscordErrorMessage)
	}
}

// deliverChunks splits the reply under Discord's message length limit
// and sends each segment as a followup, in order. Sequential sends are
// paced to avoid webhook throttling.
func (a *Avalon) deliverChunks(
	ctx context.Context,
	handler InteractionHandler,
	reply string,
) error {
	chunks := chunkMessage(reply, discordMessageChunkSize)
	limiter := rate.NewLimiter(rate.Every(DefaultFollowupInterval), 1)
	for n, chunk := range chunks {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := handler.Followup(ctx, followupParams(chunk)); err != nil {
			return fmt.Errorf("error sending chunk %d/%d: %w", n+1, len(chunks), err)
		}
	}
	return nil
}

// finalizeChatCommand records the outcome of a chat command.
func (a *Avalon) finalizeChatCommand(
	ctx context.Context,
	cmd *ChatCommand,
	response string,
	err error,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = a.logger
	}

	finishedAt := time.Now()
	updates := map[string]any{
		columnChatCommandFinishedAt: &finishedAt,
	}
	if err != nil {
		updates[columnChatCommandState] = ChatCommandStateFailed
		updates[columnChatCommandError] = err.Error()
	} else {
		updates[columnChatCommandState] = ChatCommandStateCompleted
		updates[columnChatCommandResponse] = &response
	}
	if _, updateErr := a.db.Updates(cmd, updates); updateErr != nil {
		logger.ErrorContext(
			ctx,
			"error updating chat command",
			tint.Err(updateErr),
		)
	}

	logger.InfoContext(
		ctx,
		"chat command finished",
		"state", updates[columnChatCommandState],
		"age", cmd.Age(),
		tint.Err(err),
	)
}

// sendErrorFollowup makes a best-effort attempt to deliver an ephemeral
// error message. A secondary failure here is logged only, never
// re-raised; the user already can't be reached.
func (a *Avalon) sendErrorFollowup(
	ctx context.Context,
	handler InteractionHandler,
	content string,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = a.logger
	}
	if _, err := handler.Followup(
		ctx,
		ephemeralFollowupParams(content),
	); err != nil {
		logger.ErrorContext(ctx, "failed to send error followup", tint.Err(err))
	}
}
