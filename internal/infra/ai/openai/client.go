package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/vendor-compliance/internal/domain/ai"
	"github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
	"github.com/bryanwahyu/vendor-compliance/internal/infra/ai/prompt"
)

const (
	defaultModel        = "gpt-4o"
	documentMaxTokens   = 16000
	summaryMaxTokens    = 2000
	chatMaxTokens       = 2048
	analysisTemperature = 0.2
)

// Client implements analysis.DocumentAnalyzer, analysis.Summarizer and
// ai.ChatStreamer on top of the chat completions API.
type Client struct {
	api       *openai.Client
	Model     string
	MaxTokens int
}

// NewClient; baseURL kosong berarti endpoint default OpenAI.
func NewClient(apiKey, model, baseURL string, timeout time.Duration) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{api: openai.NewClientWithConfig(cfg), Model: model}
}

// reasoning models (o1/o3/o4/gpt-5*) take MaxCompletionTokens and no temperature
func isReasoningModel(model string) bool {
	return strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5")
}

func (c *Client) request(messages []openai.ChatCompletionMessage, maxTokens int, jsonMode bool) openai.ChatCompletionRequest {
	if c.MaxTokens > 0 && c.MaxTokens < maxTokens {
		maxTokens = c.MaxTokens
	}
	req := openai.ChatCompletionRequest{
		Model:    c.Model,
		Messages: messages,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if isReasoningModel(c.Model) {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
		req.Temperature = analysisTemperature
	}
	return req
}

func (c *Client) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(fmt.Errorf("failed to create chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// AnalyzeDocument implementasi analysis.DocumentAnalyzer. A reply that cannot
// be parsed is an unsuccessful analysis, not an error.
func (c *Client) AnalyzeDocument(ctx context.Context, req analysis.DocumentRequest) (analysis.DocumentAnalysis, error) {
	content, err := c.complete(ctx, c.request([]openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompt.GetSystemPrompt()},
		{Role: openai.ChatMessageRoleUser, Content: prompt.GetDocumentPrompt(req)},
	}, documentMaxTokens, true))
	if err != nil {
		return analysis.DocumentAnalysis{}, err
	}
	return ParseDocumentResponse(content), nil
}

// Summarize implementasi analysis.Summarizer.
func (c *Client) Summarize(ctx context.Context, in analysis.SummaryInput) (string, error) {
	content, err := c.complete(ctx, c.request([]openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt.GetSummaryPrompt(in)},
	}, summaryMaxTokens, false))
	if err != nil {
		return "", err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.New("empty summary")
	}
	return content, nil
}

// StreamChat implementasi ai.ChatStreamer.
func (c *Client) StreamChat(ctx context.Context, messages []ai.ChatMessage, onChunk func(string) error) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	stream, err := c.api.CreateChatCompletionStream(ctx, c.request(msgs, chatMaxTokens, false))
	if err != nil {
		return "", classify(fmt.Errorf("failed to open chat stream: %w", err))
	}
	defer stream.Close()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			return full.String(), classify(fmt.Errorf("chat stream: %w", err))
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		full.WriteString(chunk)
		if onChunk != nil {
			if err := onChunk(chunk); err != nil {
				return full.String(), err
			}
		}
	}
}

// classify maps provider status codes onto the transient sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ai.ErrQuotaExceeded, err)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, 529:
		return fmt.Errorf("%w: %w", ai.ErrUnavailable, err)
	}
	return err
}
