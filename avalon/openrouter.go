package avalon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
)

// systemPrompt is the persona sent as the system message on every
// direct completion. Each query is treated as standalone; no
// conversation history is kept.
const systemPrompt = `You are Avalon, a precise and efficient assistant operating within Discord.

Purpose:
- Provide accurate, concise, and relevant responses to user queries.
- Ensure clarity and utility in every interaction.

Tone & Behavior:
- Maintain a clear, direct, and respectful tone.
- Match the user's tone: professional for technical queries, casual for informal interactions.
- Keep responses concise and to the point. Expand only when requested.
- Ask clarifying questions when needed. Help refine user requests.

Formatting (Discord-specific):
- Use Discord formatting for emphasis:
    - *Italics* for subtle nuance.
    - **Bold** for key emphasis.
- Avoid large blocks of text. Use spacing and structure for readability.

Rules of Engagement:
- Do not explain your reasoning unless explicitly asked.
- Do not simulate personality or refer to your nature, design, or context.
- Stay on-topic and functional at all times.

System Info:
- You are maintained by Liz.
- Your default model is **Llama 3.3 70B Instruct**, but this may change.
- You do not retain memory across messages. Each input is treated as standalone.

When asked about yourself:
- You are Avalon, maintained by Liz. Your purpose is to assist with precision and efficiency.
`

// CompletionClient wraps a single chat-completion call. Implementations
// convert provider failures into user-deliverable reply text rather than
// surfacing raw errors; an error return is reserved for conditions where
// no reply could be produced at all.
type CompletionClient interface {
	Complete(ctx context.Context, query string) (string, error)
}

// LLM holds completion provider configuration and constructs
// per-invocation clients. The active model is resolved by the caller at
// invocation time, not held here.
type LLM struct {
	config     *LLMConfig
	logger     *slog.Logger
	httpClient *http.Client
}

func newLLM(config *LLMConfig, httpClient *http.Client) *LLM {
	return &LLM{
		config:     config,
		logger:     newLogger("llm", config.LogLevel),
		httpClient: httpClient,
	}
}

// openRouterHeaderTransport adds the attribution headers OpenRouter
// expects on every request.
type openRouterHeaderTransport struct {
	base    http.RoundTripper
	referer string
	title   string
}

func (t *openRouterHeaderTransport) RoundTrip(req *http.Request) (
	*http.Response,
	error,
) {
	if t.referer != "" {
		req.Header.Set("HTTP-Referer", t.referer)
	}
	if t.title != "" {
		req.Header.Set("X-Title", t.title)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// openRouterClient returns a client for the primary provider.
func (l *LLM) openRouterClient() (*openai.Client, error) {
	if l.config.OpenRouterAPIKey == "" {
		return nil, errors.New("openrouter api key not set")
	}
	clientCfg := openai.DefaultConfig(l.config.OpenRouterAPIKey)
	clientCfg.BaseURL = l.config.OpenRouterBaseURL

	httpClient := l.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	var base http.RoundTripper
	if httpClient.Transport != nil {
		base = httpClient.Transport
	}
	clientCfg.HTTPClient = &http.Client{
		Transport: &openRouterHeaderTransport{
			base:    base,
			referer: l.config.OpenRouterReferer,
			title:   l.config.OpenRouterTitle,
		},
		Timeout: httpClient.Timeout,
	}

	return openai.NewClientWithConfig(clientCfg), nil
}

// groqClient returns a client for the fallback provider, or nil if no
// Groq credentials are configured.
func (l *LLM) groqClient() *openai.Client {
	if l.config.GroqAPIKey == "" {
		return nil
	}
	clientCfg := openai.DefaultConfig(l.config.GroqAPIKey)
	clientCfg.BaseURL = l.config.GroqBaseURL
	if l.httpClient != nil {
		clientCfg.HTTPClient = l.httpClient
	}
	return openai.NewClientWithConfig(clientCfg)
}

// directCompletion sends the persona plus user query to OpenRouter in a
// single call, retrying once against Groq on failure when configured.
type directCompletion struct {
	llm   *LLM
	model string
}

// newDirectCompletion validates provider credentials before any
// completion is attempted, so construction failures can be reported to
// the user separately from call failures.
func newDirectCompletion(llm *LLM, model string) (*directCompletion, error) {
	if _, err := llm.openRouterClient(); err != nil {
		return nil, err
	}
	return &directCompletion{llm: llm, model: model}, nil
}

func completionMessages(query string) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: query},
	}
}

// Complete invokes the primary provider, then the fallback provider on
// failure. A failure of both synthesizes a descriptive reply containing
// fragments of both failure reasons; the user never receives silence
// because a model call failed.
func (d *directCompletion) Complete(ctx context.Context, query string) (
	string,
	error,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = d.llm.logger
	}

	client, err := d.llm.openRouterClient()
	if err != nil {
		return "", err
	}

	resp, primaryErr := client.CreateChatCompletion(
		ctx, openai.ChatCompletionRequest{
			Model:    d.model,
			Messages: completionMessages(query),
		},
	)
	if primaryErr == nil {
		if len(resp.Choices) == 0 {
			logger.WarnContext(ctx, "primary provider returned no choices")
			return "Sorry, I received an unexpected response format.", nil
		}
		return resp.Choices[0].Message.Content, nil
	}

	logger.ErrorContext(
		ctx,
		"error running chat with primary model",
		tint.Err(primaryErr),
		"model", d.model,
	)

	fallback := d.llm.groqClient()
	if fallback == nil {
		return fmt.Sprintf(
			"An error occurred with the primary AI model, and fallback is "+
				"not possible due to missing configuration. Details: %s",
			primaryErr.Error(),
		), nil
	}

	logger.InfoContext(ctx, "attempting fallback", "model", d.llm.config.GroqModel)
	fallbackResp, fallbackErr := fallback.CreateChatCompletion(
		ctx, openai.ChatCompletionRequest{
			Model:    d.llm.config.GroqModel,
			Messages: completionMessages(query),
		},
	)
	if fallbackErr == nil {
		if len(fallbackResp.Choices) == 0 {
			logger.WarnContext(ctx, "fallback provider returned no choices")
			return "Sorry, I received an unexpected response format from the fallback model.", nil
		}
		logger.InfoContext(ctx, "fallback successful")
		return fallbackResp.Choices[0].Message.Content, nil
	}

	logger.ErrorContext(
		ctx,
		"error running chat with fallback model",
		tint.Err(fallbackErr),
		"model", d.llm.config.GroqModel,
	)
	return fmt.Sprintf(
		"An error occurred with the primary AI model, and the fallback "+
			"attempt also failed. Initial Error: %s. Fallback Error: %s.",
		primaryErr.Error(),
		fallbackErr.Error(),
	), nil
}
