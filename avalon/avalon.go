package avalon

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

// Set at build time:
// -ldflags "-X github.com/yehezkieldio/avalon/avalon.Version=$$(date +'%Y%m%d')"
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// Avalon is a Discord bot that forwards slash-command queries to a
// hosted LLM provider and relays the response back through webhook
// followups. Interactions arrive over the signed webhook endpoint;
// the only mutable runtime state is the active model identifier,
// stored in the bot database so concurrent instances observe the
// same value.
type Avalon struct {
	config    *Config
	logger    *slog.Logger
	db        *database
	settings  SettingsStore
	llm       *LLM
	session   DiscordSessionHandler
	publicKey ed25519.PublicKey
	webhook   *WebhookServer

	// tasks tracks detached background work spawned after a deferred
	// acknowledgment, so shutdown can wait for in-flight chat commands
	// to deliver their followups.
	tasks sync.WaitGroup
}

// New validates the given config and assembles an Avalon instance.
// Missing required secrets are startup-fatal.
func New(config *Config) (*Avalon, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Discord == nil || config.Discord.Token == "" {
		return nil, errors.New("discord token required")
	}
	if config.Discord.ApplicationID == "" {
		return nil, errors.New("discord application ID required")
	}
	if config.Discord.OwnerUserID == "" {
		return nil, errors.New("discord owner user ID required")
	}
	if config.Discord.WebhookServer.PublicKey == "" {
		return nil, errors.New("discord webhook public key required")
	}
	if config.LLM == nil || config.LLM.OpenRouterAPIKey == "" {
		return nil, errors.New("openrouter API key required")
	}

	publicKey, err := hex.DecodeString(config.Discord.WebhookServer.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("error decoding public key: %w", err)
	}
	if len(publicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf(
			"invalid public key size: %d",
			len(publicKey),
		)
	}

	a := &Avalon{
		config:    config,
		logger:    newLogger("avalon", config.LogLevel),
		publicKey: publicKey,
	}

	gormDB, err := CreateDB(
		config.DatabaseType,
		config.Database,
		tint.NewHandler(
			defaultLogWriter,
			&tint.Options{Level: config.DatabaseLogLevel, AddSource: true},
		),
		config.DatabaseSlowThreshold,
	)
	if err != nil {
		return nil, err
	}
	a.db = newDatabase(
		gormDB,
		a.logger,
		config.DatabaseType == dbTypePostgres,
	)
	a.settings = newSettingsStore(a.db, a.logger)

	a.llm = newLLM(config.LLM, config.HTTPClient)

	session, err := newRESTSession(config.Discord)
	if err != nil {
		return nil, err
	}
	a.session = session

	webhook, err := newWebhookServer(a, config.Discord.WebhookServer)
	if err != nil {
		return nil, err
	}
	a.webhook = webhook

	return a, nil
}

// newRESTSession creates a discordgo session for REST calls only.
// Interactions arrive via webhook, so no gateway connection is opened.
func newRESTSession(config *DiscordConfig) (DiscordSessionHandler, error) {
	disc, err := discordgo.New("Bot " + config.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = false
	if config.httpClient != nil {
		disc.Client = config.httpClient
	}
	return DiscordSession{
		session: disc,
		logger:  newLogger("discord_session", config.LogLevel),
	}, nil
}

// Run starts the webhook server and blocks until the context is
// canceled, then drains in-flight background tasks before returning.
func (a *Avalon) Run(ctx context.Context) error {
	g, runCtx := errgroup.WithContext(ctx)

	g.Go(
		func() error {
			a.logger.Info(
				"starting webhook server",
				"listen", a.config.Discord.WebhookServer.Listen,
			)
			if err := a.webhook.Serve(runCtx); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	)

	g.Go(
		func() error {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				a.config.ShutdownTimeout,
			)
			defer cancel()
			if err := a.webhook.httpServer.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("error shutting down webhook server", tint.Err(err))
			}

			done := make(chan struct{})
			go func() {
				a.tasks.Wait()
				close(done)
			}()
			select {
			case <-done:
				a.logger.Info("background tasks finished")
			case <-shutdownCtx.Done():
				a.logger.Warn("timed out waiting for background tasks")
			}
			return nil
		},
	)

	return g.Wait()
}

// RegisterCommands sends the bot's slash commands to the Discord bulk
// overwrite endpoint. This is a one-shot setup operation, not part of
// serving.
func (a *Avalon) RegisterCommands() ([]*discordgo.ApplicationCommand, error) {
	created, err := a.session.ApplicationCommandBulkOverwrite(
		a.config.Discord.ApplicationID,
		a.config.Discord.GuildID,
		applicationCommands(),
	)
	if err != nil {
		return created, fmt.Errorf("error overwriting discord commands: %w", err)
	}
	return created, nil
}

// handleInteraction routes a verified interaction to the appropriate
// command handler. Ping gets an immediate pong; /chat defers and
// finishes in a background task; /setmodel completes synchronously.
// Anything else gets a generic error payload.
func (a *Avalon) handleInteraction(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger().With(
		slog.Group("interaction", interactionLogAttrs(*i)...),
	)
	ctx = WithLogger(ctx, logger)

	discordUser := getDiscordUser(i)
	logger.InfoContext(
		ctx,
		"received new interaction",
		"user", structToSlogValue(discordUser),
	)

	if interactionLog, err := newInteractionLog(i, discordUser); err != nil {
		logger.ErrorContext(ctx, "error marshaling interaction", tint.Err(err))
	} else if _, createErr := a.db.Create(interactionLog); createErr != nil {
		logger.ErrorContext(ctx, "error logging interaction", tint.Err(createErr))
	}

	if i.Type == discordgo.InteractionPing {
		_ = handler.Respond(ctx, pongResponse())
		return
	}

	if i.Type != discordgo.InteractionApplicationCommand {
		logger.WarnContext(ctx, "unknown interaction type")
		handler.RespondJSON(ctx, httpError{Error: "unknown type"})
		return
	}

	data := i.ApplicationCommandData()
	switch data.Name {
	case DiscordSlashCommandChat:
		a.handleChatCommand(ctx, handler, discordUser, data)
	case DiscordSlashCommandSetModel:
		a.handleSetModelCommand(ctx, handler, discordUser, data)
	default:
		logger.WarnContext(ctx, "unknown command", "command", data.Name)
		handler.RespondJSON(ctx, httpError{Error: "unknown type"})
	}
}

// completionClient builds a completion client for a single /chat
// invocation, reading the active model from the settings store at call
// time so a /setmodel write takes effect on the very next query.
func (a *Avalon) completionClient(ctx context.Context) (CompletionClient, error) {
	model := a.currentModel(ctx)
	if logger, ok := ContextLogger(ctx); ok {
		logger.InfoContext(ctx, "using model", "model", model)
	}
	if a.config.LLM.Agent.Enabled {
		return newSearchAgent(a.llm, model)
	}
	return newDirectCompletion(a.llm, model)
}

// handleRecover converts a panic in a background task into a logged
// error. Used via defer in the detached chat task so a panic there
// can't take the process down.
func handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	switch v := rc.(type) {
	case error:
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(v),
			"stack_trace", stackTrace,
		)
	case string:
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(errors.New(v)),
			"stack_trace", stackTrace,
		)
	default:
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			"panic_arg", rc,
			"stack_trace", stackTrace,
		)
	}
}

// tokenExpiry returns the time at which followups addressed by the
// interaction token stop working.
func tokenExpiry(created time.Time) int64 {
	return created.Add(discordInteractionTokenLifespan).UnixMilli()
}
