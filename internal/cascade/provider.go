package cascade

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/heartwood-builders/attribution/pkg/anthropic"
	"github.com/heartwood-builders/attribution/pkg/openai"
)

// Result is one model call's decoded output plus accounting.
type Result struct {
	Output    *Output
	ParseMode ParseMode
	Raw       json.RawMessage
	Tokens    int64
	CostUSD   float64
}

// Provider runs one attribution call against a specific model.
type Provider interface {
	Name() string
	Models() []string
	Attribute(ctx context.Context, modelID, system, user string, maxTokens int) (*Result, error)
}

// OpenAIProvider adapts the OpenAI chat API to the cascade.
type OpenAIProvider struct {
	client openai.Client
	models []string
}

func NewOpenAIProvider(client openai.Client, models []string) *OpenAIProvider {
	return &OpenAIProvider{client: client, models: models}
}

func (p *OpenAIProvider) Name() string     { return "openai" }
func (p *OpenAIProvider) Models() []string { return p.models }

func (p *OpenAIProvider) Attribute(ctx context.Context, modelID, system, user string, maxTokens int) (*Result, error) {
	temperature := 0.0
	resp, err := p.client.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: modelID,
		Messages: []openai.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    &temperature,
		MaxTokens:      &maxTokens,
		ResponseFormat: &openai.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("cascade: openai response had no choices")
	}

	raw := resp.Choices[0].Message.Content
	out, mode, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(modelID, "attribution")
	return &Result{
		Output:    out,
		ParseMode: mode,
		Raw:       rawJSON(raw),
		Tokens:    int64(resp.Usage.TotalTokens),
		CostUSD:   resp.Usage.EstimateCost(modelID),
	}, nil
}

// rawJSON keeps the response verbatim when it is already valid JSON and
// wraps it as a JSON string otherwise, so the audit column always holds
// valid JSON.
func rawJSON(raw string) json.RawMessage {
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	quoted, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	return quoted
}

// AnthropicProvider adapts the Anthropic messages API to the cascade. The
// system prompt is cached across spans.
type AnthropicProvider struct {
	client anthropic.Client
	models []string
}

func NewAnthropicProvider(client anthropic.Client, models []string) *AnthropicProvider {
	return &AnthropicProvider{client: client, models: models}
}

func (p *AnthropicProvider) Name() string     { return "anthropic" }
func (p *AnthropicProvider) Models() []string { return p.models }

func (p *AnthropicProvider) Attribute(ctx context.Context, modelID, system, user string, maxTokens int) (*Result, error) {
	temperature := 0.0
	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     modelID,
		MaxTokens: int64(maxTokens),
		System: []anthropic.SystemBlock{
			{Text: system, CacheControl: &anthropic.CacheControl{TTL: "5m"}},
		},
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: &temperature,
	})
	if err != nil {
		return nil, err
	}

	raw := resp.Text()
	out, mode, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if mode != ParseStrict {
		zap.L().Debug("response needed repair",
			zap.String("model", modelID),
			zap.String("parse_mode", string(mode)),
		)
	}
	resp.Usage.LogCost(modelID, "attribution")
	return &Result{
		Output:    out,
		ParseMode: mode,
		Raw:       rawJSON(raw),
		Tokens:    resp.Usage.Total(),
		CostUSD:   resp.Usage.EstimateCost(modelID),
	}, nil
}
