package avalon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

// discordInteractionTokenLifespan defines the lifespan of a Discord
// interaction token. Discord interaction tokens currently expire after
// 15 minutes.
const discordInteractionTokenLifespan = 15 * time.Minute

// InteractionLog records details about each inbound interaction.
//
//nolint:lll // struct tags can't be split
type InteractionLog struct {
	ModelUintID
	InteractionID string `json:"interaction_id" gorm:"not null"`
	Type          string `json:"type" gorm:"type:string"`
	UserID        string `json:"user_id" gorm:"type:string"`
	Username      string `json:"username" gorm:"type:string"`
	AppID         string `json:"application_id" gorm:"type:string"`
	GuildID       string `json:"guild_id" gorm:"type:string"`
	ChannelID     string `json:"channel_id" gorm:"type:string"`
	Payload       string `json:"payload" gorm:"type:string"`
	CreatedAt     int64  `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

func newInteractionLog(
	i *discordgo.InteractionCreate,
	u *discordgo.User,
) (*InteractionLog, error) {
	p, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("error marshaling interaction: %w", err)
	}

	interactionLog := &InteractionLog{
		InteractionID: i.ID,
		Type:          i.Type.String(),
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
		Payload:       string(p),
	}
	if u != nil {
		interactionLog.UserID = u.ID
		interactionLog.Username = u.String()
	}
	return interactionLog, nil
}

// DiscordSessionHandler defines the methods from [discordgo.Session]
// used in this application, to enable testing/mocking. Interactions
// arrive over the webhook server, so no gateway connection is opened;
// the session is used only for its REST calls, addressed by the
// interaction token.
type DiscordSessionHandler interface {
	// FollowupMessageCreate sends a followup message for an interaction
	FollowupMessageCreate(
		interaction *discordgo.Interaction,
		wait bool,
		data *discordgo.WebhookParams,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// InteractionResponseEdit modifies the original deferred response
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ApplicationCommandBulkOverwrite overwrites the registered
	// application commands in bulk
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) FollowupMessageCreate(
	interaction *discordgo.Interaction,
	wait bool,
	data *discordgo.WebhookParams,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.FollowupMessageCreate(interaction, wait, data, options...)
	if err != nil {
		d.logger.Error("error creating followup message", tint.Err(err))
	}
	return msg, err
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command", c.Name)
	}

	return created, nil
}

// InteractionHandler defines the interface for handling a single
// Discord interaction: the synchronous response written back to the
// webhook request, and the token-addressed followups sent afterwards.
type InteractionHandler interface {
	// Respond writes the synchronous interaction response
	Respond(ctx context.Context, response *discordgo.InteractionResponse) error

	// RespondJSON writes an arbitrary JSON payload as the synchronous
	// response (used for "unknown type" errors)
	RespondJSON(ctx context.Context, payload any)

	// Followup sends a followup message addressed by the interaction
	// token
	Followup(
		ctx context.Context,
		params *discordgo.WebhookParams,
	) (*discordgo.Message, error)

	// Edit modifies the original deferred response
	Edit(
		ctx context.Context,
		edit *discordgo.WebhookEdit,
	) (*discordgo.Message, error)

	// GetInteraction returns the original InteractionCreate event
	GetInteraction() *discordgo.InteractionCreate

	// Logger returns the logger associated with this handler
	Logger() *slog.Logger
}

// WebhookHandler implements [InteractionHandler] for interactions
// received via the webhook server. The synchronous response is written
// to the HTTP response; followups go through the Discord REST API.
// See: https://discord.com/developers/docs/interactions/overview#setting-up-an-endpoint-validating-security-request-headers
//
//nolint:lll  // can't split link
type WebhookHandler struct {
	ginContext  *gin.Context
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
}

func (w WebhookHandler) Respond(
	_ context.Context,
	response *discordgo.InteractionResponse,
) error {
	w.ginContext.JSON(http.StatusOK, response)
	return nil
}

func (w WebhookHandler) RespondJSON(_ context.Context, payload any) {
	w.ginContext.JSON(http.StatusOK, payload)
}

func (w WebhookHandler) Followup(
	ctx context.Context,
	params *discordgo.WebhookParams,
) (*discordgo.Message, error) {
	msg, err := w.session.FollowupMessageCreate(
		w.interaction.Interaction,
		true,
		params,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error sending followup", tint.Err(err))
	}
	return msg, err
}

func (w WebhookHandler) Edit(
	ctx context.Context,
	edit *discordgo.WebhookEdit,
) (*discordgo.Message, error) {
	msg, err := w.session.InteractionResponseEdit(
		w.interaction.Interaction,
		edit,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	}
	return msg, err
}

func (w WebhookHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w WebhookHandler) Logger() *slog.Logger {
	return w.logger
}
