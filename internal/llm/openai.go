package llm

import (
	"context"
	"encoding/json"
	"net/http"
)

// ChatCompletionsProvider serves any API that speaks the OpenAI chat
// completions protocol.
type ChatCompletionsProvider struct {
	name        string
	displayName string
	errorPrefix string
	cfg         ProviderConfig
}

func NewOpenAIProvider(cfg ProviderConfig) *ChatCompletionsProvider {
	return &ChatCompletionsProvider{
		name:        "openai",
		displayName: "OpenAI",
		errorPrefix: "openai",
		cfg:         cfg.withDefaults(DefaultOpenAIConfig),
	}
}

func NewDeepSeekProvider(cfg ProviderConfig) *ChatCompletionsProvider {
	return &ChatCompletionsProvider{
		name:        "deepseek",
		displayName: "DeepSeek",
		errorPrefix: "deepseek",
		cfg:         cfg.withDefaults(DefaultDeepSeekConfig),
	}
}

func (p *ChatCompletionsProvider) Name() string        { return p.name }
func (p *ChatCompletionsProvider) DisplayName() string { return p.displayName }
func (p *ChatCompletionsProvider) ErrorPrefix() string { return p.errorPrefix }
func (p *ChatCompletionsProvider) Model() string       { return p.cfg.Model }

func (p *ChatCompletionsProvider) BuildRequest(ctx context.Context, apiKey string, payload Payload) (*http.Request, error) {
	return NewChatCompletionsRequest(ctx, p.cfg.APIURL+"/chat/completions", apiKey, payload)
}

func (p *ChatCompletionsProvider) ParseResponse(body []byte) (string, error) {
	var resp ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", invalidResponseError(p)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == nil {
		return "", invalidResponseError(p)
	}
	return *resp.Choices[0].Message.Content, nil
}
