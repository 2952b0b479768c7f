package avalon

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
)

const testOwnerUserID = "test-owner-id"

// generateDiscordKey creates an ed25519 public/private key pair to be
// used when testing the webhook handler
func generateDiscordKey(t testing.TB) (string, ed25519.PrivateKey) {
	t.Helper()
	pubkey, privkey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("error generating key pair: %v", err)
	}
	return hex.EncodeToString(pubkey), privkey
}

func newTestConfig(t testing.TB) (*Config, ed25519.PrivateKey) {
	t.Helper()
	publicKey, privateKey := generateDiscordKey(t)

	cfg := DefaultConfig()
	cfg.Database = filepath.Join(t.TempDir(), "avalon.sqlite3")
	cfg.DatabaseType = dbTypeSQLite
	cfg.Discord.Token = fmt.Sprintf("token_%s", t.Name())
	cfg.Discord.ApplicationID = fmt.Sprintf("app_%s", t.Name())
	cfg.Discord.OwnerUserID = testOwnerUserID
	cfg.Discord.WebhookServer.PublicKey = publicKey
	cfg.LLM.OpenRouterAPIKey = fmt.Sprintf("openrouter_%s", t.Name())

	cfg.LogLevel.Set(slog.LevelError)
	cfg.DatabaseLogLevel.Set(slog.LevelError)
	cfg.Discord.LogLevel.Set(slog.LevelError)
	cfg.Discord.WebhookServer.LogLevel.Set(slog.LevelError)
	cfg.LLM.LogLevel.Set(slog.LevelError)

	return cfg, privateKey
}

func newTestAvalon(t testing.TB) (*Avalon, ed25519.PrivateKey) {
	t.Helper()
	cfg, privateKey := newTestConfig(t)
	bot, err := New(cfg)
	require.NoError(t, err)
	return bot, privateKey
}

// signRequest sets the signature headers Discord would send for the
// given body, signed with the given key.
func signRequest(
	t testing.TB,
	req *http.Request,
	privateKey ed25519.PrivateKey,
	body []byte,
) {
	t.Helper()
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	message := append([]byte(timestamp), body...)
	signature := ed25519.Sign(privateKey, message)

	req.Header.Set("X-Signature-Timestamp", timestamp)
	req.Header.Set("X-Signature-Ed25519", hex.EncodeToString(signature))
	req.Header.Set("Content-Type", "application/json")
}

// newDiscordUser creates a new discordgo.User with the test name as the
// user ID, with the user ID also included in the username
func newDiscordUser(t testing.TB) *discordgo.User {
	t.Helper()
	return &discordgo.User{
		ID:         t.Name(),
		Username:   fmt.Sprintf("u_%s", t.Name()),
		GlobalName: fmt.Sprintf("g_%s", t.Name()),
	}
}

// newCommandInteraction creates an application command interaction with
// a single string option, matching the payload Discord POSTs for /chat
// and /setmodel.
func newCommandInteraction(
	t testing.TB,
	u *discordgo.User,
	commandName string,
	optionName string,
	optionValue string,
) *discordgo.InteractionCreate {
	t.Helper()
	var options []*discordgo.ApplicationCommandInteractionDataOption
	if optionName != "" {
		options = append(
			options,
			&discordgo.ApplicationCommandInteractionDataOption{
				Name:  optionName,
				Type:  discordgo.ApplicationCommandOptionString,
				Value: optionValue,
			},
		)
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:  discordgo.InteractionApplicationCommand,
			ID:    fmt.Sprintf("interaction_%s", t.Name()),
			Token: fmt.Sprintf("interaction_token_%s", t.Name()),
			User:  u,
			Data: discordgo.ApplicationCommandInteractionData{
				CommandType: discordgo.ChatApplicationCommand,
				Name:        commandName,
				Options:     options,
			},
		},
	}
}

func newChatInteraction(
	t testing.TB,
	u *discordgo.User,
	prompt string,
) *discordgo.InteractionCreate {
	t.Helper()
	return newCommandInteraction(
		t,
		u,
		DiscordSlashCommandChat,
		chatCommandQueryOption,
		prompt,
	)
}

func newSetModelInteraction(
	t testing.TB,
	u *discordgo.User,
	model string,
) *discordgo.InteractionCreate {
	t.Helper()
	return newCommandInteraction(
		t,
		u,
		DiscordSlashCommandSetModel,
		setModelCommandModelOption,
		model,
	)
}

// mockDiscordSession implements [DiscordSessionHandler], capturing
// followup messages on a channel instead of calling the Discord API.
type mockDiscordSession struct {
	followupCh  chan *discordgo.WebhookParams
	editCh      chan *discordgo.WebhookEdit
	bulkCh      chan []*discordgo.ApplicationCommand
	followupErr error
}

func newMockDiscordSession() *mockDiscordSession {
	return &mockDiscordSession{
		followupCh: make(chan *discordgo.WebhookParams, 25),
		editCh:     make(chan *discordgo.WebhookEdit, 25),
		bulkCh:     make(chan []*discordgo.ApplicationCommand, 1),
	}
}

func (m *mockDiscordSession) FollowupMessageCreate(
	_ *discordgo.Interaction,
	_ bool,
	params *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.followupCh <- params
	if m.followupErr != nil {
		return nil, m.followupErr
	}
	return &discordgo.Message{Content: params.Content}, nil
}

func (m *mockDiscordSession) InteractionResponseEdit(
	_ *discordgo.Interaction,
	edit *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.editCh <- edit
	return &discordgo.Message{}, nil
}

func (m *mockDiscordSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	m.bulkCh <- commands
	return commands, nil
}

// stubInteractionHandler implements [InteractionHandler], capturing
// responses and followups on channels.
type stubInteractionHandler struct {
	interaction     *discordgo.InteractionCreate
	logger          *slog.Logger
	callRespond     chan *discordgo.InteractionResponse
	callRespondJSON chan any
	callFollowup    chan *discordgo.WebhookParams
	callEdit        chan *discordgo.WebhookEdit
	followupErr     error
}

func newStubInteractionHandler(
	t testing.TB,
	i *discordgo.InteractionCreate,
) *stubInteractionHandler {
	t.Helper()
	return &stubInteractionHandler{
		interaction:     i,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		callRespond:     make(chan *discordgo.InteractionResponse, 25),
		callRespondJSON: make(chan any, 25),
		callFollowup:    make(chan *discordgo.WebhookParams, 25),
		callEdit:        make(chan *discordgo.WebhookEdit, 25),
	}
}

func (s *stubInteractionHandler) Respond(
	_ context.Context,
	response *discordgo.InteractionResponse,
) error {
	s.callRespond <- response
	return nil
}

func (s *stubInteractionHandler) RespondJSON(_ context.Context, payload any) {
	s.callRespondJSON <- payload
}

func (s *stubInteractionHandler) Followup(
	_ context.Context,
	params *discordgo.WebhookParams,
) (*discordgo.Message, error) {
	s.callFollowup <- params
	if s.followupErr != nil {
		return nil, s.followupErr
	}
	return &discordgo.Message{Content: params.Content}, nil
}

func (s *stubInteractionHandler) Edit(
	_ context.Context,
	edit *discordgo.WebhookEdit,
) (*discordgo.Message, error) {
	s.callEdit <- edit
	return &discordgo.Message{}, nil
}

func (s *stubInteractionHandler) GetInteraction() *discordgo.InteractionCreate {
	return s.interaction
}

func (s *stubInteractionHandler) Logger() *slog.Logger {
	return s.logger
}

// waitFor receives from ch or fails the test after the timeout.
func waitFor[T any](t testing.TB, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %s waiting on channel", timeout)
	}
	var zero T
	return zero
}

// openAIResponse builds the JSON body for a minimal chat completion
// response with the given assistant message content.
func openAIResponse(t testing.TB, content string) []byte {
	t.Helper()
	body, err := json.Marshal(
		map[string]any{
			"id":     fmt.Sprintf("chatcmpl_%s", t.Name()),
			"object": "chat.completion",
			"choices": []map[string]any{
				{
					"index": 0,
					"message": map[string]any{
						"role":    "assistant",
						"content": content,
					},
					"finish_reason": "stop",
				},
			},
		},
	)
	require.NoError(t, err)
	return body
}
