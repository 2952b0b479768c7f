// Package avalon implements a Discord chat bot that answers slash
// commands with LLM completions from OpenRouter.
//
// Avalon runs as a Discord interactions webhook endpoint rather than a
// gateway bot: Discord POSTs each interaction to the bot's HTTPS
// endpoint, the request signature is verified against the application's
// ed25519 public key, and replies are delivered through the interaction
// webhook.
//
// Key components of the package include:
//
//   - Avalon: The main struct that wires configuration, storage, the
//     completion clients, and the webhook server together.
//   - WebhookServer: The gin HTTP server that authenticates and
//     receives interactions.
//   - LLM: The OpenRouter client, with an optional Groq fallback and an
//     optional web-search agent built on tool calls.
//   - SettingsStore: Persists bot settings, currently the active model.
//
// The bot supports two commands:
//
//   - /chat: Sends a query to the configured model and streams the
//     reply back as chunked followup messages.
//   - /setmodel: Owner-only; switches the model used for subsequent
//     /chat commands.
package avalon
