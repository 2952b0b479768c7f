package avalon

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestWebhookServer starts the bot's webhook handler on an httptest
// server, bypassing ListenAndServe.
func newTestWebhookServer(t testing.TB, bot *Avalon) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(bot.webhook.httpServer.Handler)
	t.Cleanup(srv.Close)
	return srv
}

func pingInteractionBody(t testing.TB) []byte {
	t.Helper()
	body, err := json.Marshal(
		discordgo.InteractionCreate{
			Interaction: &discordgo.Interaction{
				Type: discordgo.InteractionPing,
				ID:   fmt.Sprintf("interaction_%s", t.Name()),
			},
		},
	)
	require.NoError(t, err)
	return body
}

func TestWebhookServerPing(t *testing.T) {
	t.Parallel()
	bot, privateKey := newTestAvalon(t)
	srv := newTestWebhookServer(t, bot)

	body := pingInteractionBody(t)
	req, err := http.NewRequest(http.MethodPost, srv.URL, bytes.NewReader(body))
	require.NoError(t, err)
	signRequest(t, req, privateKey, body)

	rv, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() {
		_ = rv.Body.Close()
	}()
	require.Equal(t, http.StatusOK, rv.StatusCode)

	var response discordgo.InteractionResponse
	require.NoError(t, json.NewDecoder(rv.Body).Decode(&response))
	assert.Equal(t, discordgo.InteractionResponsePong, response.Type)
}

func TestWebhookServerMissingSignatureHeaders(t *testing.T) {
	t.Parallel()
	bot, _ := newTestAvalon(t)
	srv := newTestWebhookServer(t, bot)

	body := pingInteractionBody(t)
	rv, err := srv.Client().Post(
		srv.URL,
		"application/json",
		bytes.NewReader(body),
	)
	require.NoError(t, err)
	defer func() {
		_ = rv.Body.Close()
	}()
	require.Equal(t, http.StatusUnauthorized, rv.StatusCode)

	var payload httpError
	require.NoError(t, json.NewDecoder(rv.Body).Decode(&payload))
	assert.Equal(t, "invalid request signature", payload.Error)
}

func TestWebhookServerTamperedBody(t *testing.T) {
	t.Parallel()
	bot, privateKey := newTestAvalon(t)
	srv := newTestWebhookServer(t, bot)

	body := pingInteractionBody(t)
	tampered := bytes.Replace(
		body,
		[]byte("interaction_"),
		[]byte("interception_"),
		1,
	)
	require.NotEqual(t, body, tampered)

	req, err := http.NewRequest(
		http.MethodPost,
		srv.URL,
		bytes.NewReader(tampered),
	)
	require.NoError(t, err)
	// sign the original body, send the modified one
	signRequest(t, req, privateKey, body)

	rv, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() {
		_ = rv.Body.Close()
	}()
	assert.Equal(t, http.StatusUnauthorized, rv.StatusCode)
}

func TestWebhookServerWrongKey(t *testing.T) {
	t.Parallel()
	bot, _ := newTestAvalon(t)
	srv := newTestWebhookServer(t, bot)

	_, otherKey := generateDiscordKey(t)
	body := pingInteractionBody(t)
	req, err := http.NewRequest(http.MethodPost, srv.URL, bytes.NewReader(body))
	require.NoError(t, err)
	signRequest(t, req, otherKey, body)

	rv, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() {
		_ = rv.Body.Close()
	}()
	assert.Equal(t, http.StatusUnauthorized, rv.StatusCode)
}

// A signature is only valid over the exact bytes received. Verifying a
// re-serialized copy of the payload must fail even though it parses to
// an identical interaction.
func TestWebhookServerReserializedBody(t *testing.T) {
	t.Parallel()
	bot, privateKey := newTestAvalon(t)
	srv := newTestWebhookServer(t, bot)

	body := pingInteractionBody(t)
	var indented bytes.Buffer
	require.NoError(t, json.Indent(&indented, body, "", "  "))
	require.NotEqual(t, body, indented.Bytes())

	req, err := http.NewRequest(http.MethodPost, srv.URL, &indented)
	require.NoError(t, err)
	signRequest(t, req, privateKey, body)

	rv, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() {
		_ = rv.Body.Close()
	}()
	assert.Equal(t, http.StatusUnauthorized, rv.StatusCode)
}

func TestWebhookServerLiveness(t *testing.T) {
	t.Parallel()
	bot, _ := newTestAvalon(t)
	srv := newTestWebhookServer(t, bot)

	rv, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer func() {
		_ = rv.Body.Close()
	}()
	require.Equal(t, http.StatusOK, rv.StatusCode)

	greeting, err := io.ReadAll(rv.Body)
	require.NoError(t, err)
	assert.Contains(t, string(greeting), bot.config.Discord.ApplicationID)
}

func TestWebhookServerUnknownInteractionType(t *testing.T) {
	t.Parallel()
	bot, privateKey := newTestAvalon(t)
	srv := newTestWebhookServer(t, bot)

	body, err := json.Marshal(
		discordgo.InteractionCreate{
			Interaction: &discordgo.Interaction{
				Type: discordgo.InteractionMessageComponent,
				ID:   fmt.Sprintf("interaction_%s", t.Name()),
			},
		},
	)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL, bytes.NewReader(body))
	require.NoError(t, err)
	signRequest(t, req, privateKey, body)

	rv, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() {
		_ = rv.Body.Close()
	}()
	require.Equal(t, http.StatusOK, rv.StatusCode)

	var payload httpError
	require.NoError(t, json.NewDecoder(rv.Body).Decode(&payload))
	assert.Equal(t, "unknown type", payload.Error)
}

func TestVerifyRequestRestoresBody(t *testing.T) {
	t.Parallel()
	publicKeyHex, privateKey := generateDiscordKey(t)
	publicKey, err := hex.DecodeString(publicKeyHex)
	require.NoError(t, err)

	body := []byte(`{"type":1}`)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	signRequest(t, req, privateKey, body)

	require.True(t, verifyRequest(req, publicKey))

	// downstream handlers must see the exact bytes that were verified
	restored, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, restored)
}

func TestVerifyRequestNonCanonicalSignature(t *testing.T) {
	t.Parallel()
	publicKeyHex, privateKey := generateDiscordKey(t)
	publicKey, err := hex.DecodeString(publicKeyHex)
	require.NoError(t, err)

	body := []byte(`{"type":1}`)
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	signature := ed25519.Sign(
		privateKey,
		append([]byte(timestamp), body...),
	)
	signature[63] |= 0xe0

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("X-Signature-Timestamp", timestamp)
	req.Header.Set("X-Signature-Ed25519", hex.EncodeToString(signature))

	assert.False(t, verifyRequest(req, publicKey))
}

func TestVerifyRequestBadSignatureEncoding(t *testing.T) {
	t.Parallel()
	publicKeyHex, _ := generateDiscordKey(t)
	publicKey, err := hex.DecodeString(publicKeyHex)
	require.NoError(t, err)

	for _, signature := range []string{
		"not-hex",
		hex.EncodeToString([]byte("too short")),
		strings.Repeat("ab", ed25519.SignatureSize+1),
	} {
		req := httptest.NewRequest(
			http.MethodPost,
			"/",
			bytes.NewReader([]byte(`{"type":1}`)),
		)
		req.Header.Set("X-Signature-Timestamp", "12345")
		req.Header.Set("X-Signature-Ed25519", signature)
		assert.False(t, verifyRequest(req, publicKey), signature)
	}
}
