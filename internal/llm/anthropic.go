package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const anthropicVersion = "2023-06-01"

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type anthropicContent struct {
	Type string  `json:"type"`
	Text *string `json:"text"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
}

// AnthropicProvider talks to the Messages API.
type AnthropicProvider struct {
	cfg ProviderConfig
}

func NewAnthropicProvider(cfg ProviderConfig) *AnthropicProvider {
	return &AnthropicProvider{cfg: cfg.withDefaults(DefaultAnthropicConfig)}
}

func (p *AnthropicProvider) Name() string        { return "anthropic" }
func (p *AnthropicProvider) DisplayName() string { return "Anthropic" }
func (p *AnthropicProvider) ErrorPrefix() string { return "anthropic" }
func (p *AnthropicProvider) Model() string       { return p.cfg.Model }

func (p *AnthropicProvider) BuildRequest(ctx context.Context, apiKey string, payload Payload) (*http.Request, error) {
	body := anthropicRequest{
		Model:       payload.Model,
		System:      payload.SystemPrompt,
		Messages:    []Message{{Role: "user", Content: payload.UserContent}},
		MaxTokens:   payload.MaxOutputTokens,
		Temperature: payload.Temperature,
	}
	req, err := newJSONRequest(ctx, p.cfg.APIURL+"/messages", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	return req, nil
}

func (p *AnthropicProvider) ParseResponse(body []byte) (string, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", invalidResponseError(p)
	}
	if len(resp.Content) == 0 || resp.Content[0].Text == nil {
		return "", invalidResponseError(p)
	}
	return *resp.Content[0].Text, nil
}

// ErrorMessage formats `{"type":"error","error":{"type":..,"message":..}}`
// bodies as "(type) message".
func (p *AnthropicProvider) ErrorMessage(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil || env.Error.Message == "" {
		return ""
	}
	if env.Error.Type == "" {
		return env.Error.Message
	}
	return fmt.Sprintf("(%s) %s", env.Error.Type, env.Error.Message)
}
