package avalon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
)

const (
	webSearchToolName = "web_search"

	agentSystemPrompt = systemPrompt + `
You have access to a web_search tool. Use it when a query needs current
or external information you don't already know. Otherwise answer
directly.
`
)

var webSearchToolParameters = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "The search query"
		}
	},
	"required": ["query"]
}`)

// searchAgent is the tool-augmented completion strategy: a reasoning
// loop bounded to a small iteration count, with web search as the only
// available tool. Unlike direct completion, any failure here produces a
// fixed fallback reply instead of error detail.
type searchAgent struct {
	llm    *LLM
	model  string
	search searchClient
}

func newSearchAgent(llm *LLM, model string) (*searchAgent, error) {
	if _, err := llm.openRouterClient(); err != nil {
		return nil, err
	}
	agentConfig := llm.config.Agent
	if agentConfig.TavilyAPIKey == "" {
		return nil, errors.New("tavily api key not set")
	}
	return &searchAgent{
		llm:   llm,
		model: model,
		search: &tavilyClient{
			apiKey:     agentConfig.TavilyAPIKey,
			baseURL:    agentConfig.TavilyBaseURL,
			maxResults: agentConfig.SearchMaxResults,
			httpClient: llm.httpClient,
		},
	}, nil
}

func webSearchTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        webSearchToolName,
			Description: "Search the web for current information",
			Parameters:  webSearchToolParameters,
		},
	}
}

// Complete runs the bounded tool-call loop. Exhausting the iteration
// budget, a provider error, or a tool error all yield the fixed
// fallback message.
func (s *searchAgent) Complete(ctx context.Context, query string) (
	string,
	error,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = s.llm.logger
	}

	client, err := s.llm.openRouterClient()
	if err != nil {
		return "", err
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: agentSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: query},
	}
	tools := []openai.Tool{webSearchTool()}

	maxIterations := s.llm.config.Agent.MaxIterations
	for iteration := 0; iteration < maxIterations; iteration++ {
		resp, completionErr := client.CreateChatCompletion(
			ctx, openai.ChatCompletionRequest{
				Model:    s.model,
				Messages: messages,
				Tools:    tools,
			},
		)
		if completionErr != nil {
			logger.ErrorContext(
				ctx,
				"error running agent completion",
				tint.Err(completionErr),
				"iteration", iteration,
			)
			return agentFallbackMessage, nil
		}
		if len(resp.Choices) == 0 {
			logger.WarnContext(ctx, "agent completion returned no choices")
			return agentFallbackMessage, nil
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			if msg.Content == "" {
				return agentFallbackMessage, nil
			}
			return msg.Content, nil
		}

		messages = append(messages, msg)
		for _, toolCall := range msg.ToolCalls {
			messages = append(
				messages,
				s.executeToolCall(ctx, logger, toolCall),
			)
		}
	}

	logger.WarnContext(
		ctx,
		"agent iteration budget exhausted",
		"max_iterations", maxIterations,
	)
	return agentFallbackMessage, nil
}

// executeToolCall runs a single requested tool call and returns the
// tool-role message to append to the conversation. Tool failures are
// reported back to the model rather than ending the loop, so it can
// still produce an answer without the search results.
func (s *searchAgent) executeToolCall(
	ctx context.Context,
	logger *slog.Logger,
	toolCall openai.ToolCall,
) openai.ChatCompletionMessage {
	toolMessage := openai.ChatCompletionMessage{
		Role:       openai.ChatMessageRoleTool,
		ToolCallID: toolCall.ID,
	}

	if toolCall.Function.Name != webSearchToolName {
		logger.WarnContext(
			ctx,
			"agent requested unknown tool",
			"tool", toolCall.Function.Name,
		)
		toolMessage.Content = fmt.Sprintf(
			"unknown tool: %s",
			toolCall.Function.Name,
		)
		return toolMessage
	}

	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &args); err != nil {
		logger.ErrorContext(ctx, "error decoding tool arguments", tint.Err(err))
		toolMessage.Content = "invalid tool arguments"
		return toolMessage
	}

	results, err := s.search.Search(ctx, args.Query)
	if err != nil {
		logger.ErrorContext(ctx, "web search failed", tint.Err(err))
		toolMessage.Content = "search failed, answer from your own knowledge"
		return toolMessage
	}
	toolMessage.Content = results
	return toolMessage
}

// searchClient performs a single web search, returning results as text
// for the model to consume.
type searchClient interface {
	Search(ctx context.Context, query string) (string, error)
}

// tavilyClient implements searchClient against the Tavily REST API.
type tavilyClient struct {
	apiKey     string
	baseURL    string
	maxResults int
	httpClient *http.Client
}

type tavilySearchRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	Topic      string `json:"topic"`
	MaxResults int    `json:"max_results"`
}

type tavilySearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type tavilySearchResponse struct {
	Results []tavilySearchResult `json:"results"`
}

func (t *tavilyClient) Search(ctx context.Context, query string) (string, error) {
	payload, err := json.Marshal(
		tavilySearchRequest{
			APIKey:     t.apiKey,
			Query:      query,
			Topic:      "general",
			MaxResults: t.maxResults,
		},
	)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		t.baseURL+"/search",
		bytes.NewReader(payload),
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := t.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf(
			"tavily search returned %d: %s",
			resp.StatusCode,
			string(body),
		)
	}

	var searchResponse tavilySearchResponse
	if err = json.NewDecoder(resp.Body).Decode(&searchResponse); err != nil {
		return "", fmt.Errorf("error decoding search response: %w", err)
	}

	if len(searchResponse.Results) == 0 {
		return "no results found", nil
	}

	var sb strings.Builder
	for n, result := range searchResponse.Results {
		if n >= t.maxResults {
			break
		}
		fmt.Fprintf(&sb, "%s (%s)\n%s\n\n", result.Title, result.URL, result.Content)
	}
	return strings.TrimSpace(sb.String()), nil
}
