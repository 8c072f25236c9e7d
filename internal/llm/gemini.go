package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

type geminiPart struct {
	Text *string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// GeminiProvider talks to the generateContent API. The key travels as a
// query parameter.
type GeminiProvider struct {
	cfg ProviderConfig
}

func NewGeminiProvider(cfg ProviderConfig) *GeminiProvider {
	return &GeminiProvider{cfg: cfg.withDefaults(DefaultGeminiConfig)}
}

func (p *GeminiProvider) Name() string        { return "gemini" }
func (p *GeminiProvider) DisplayName() string { return "Google Gemini" }
func (p *GeminiProvider) ErrorPrefix() string { return "gemini" }
func (p *GeminiProvider) Model() string       { return p.cfg.Model }

func (p *GeminiProvider) BuildRequest(ctx context.Context, apiKey string, payload Payload) (*http.Request, error) {
	content := payload.UserContent
	body := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: &content}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     payload.Temperature,
			MaxOutputTokens: payload.MaxOutputTokens,
		},
	}
	if payload.SystemPrompt != "" {
		system := payload.SystemPrompt
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: &system}}}
	}

	endpoint := p.cfg.APIURL + "/models/" + url.PathEscape(payload.Model) + ":generateContent?key=" + url.QueryEscape(apiKey)
	return newJSONRequest(ctx, endpoint, body)
}

func (p *GeminiProvider) ParseResponse(body []byte) (string, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", invalidResponseError(p)
	}
	if len(resp.Candidates) > 0 {
		parts := resp.Candidates[0].Content.Parts
		if len(parts) > 0 && parts[0].Text != nil {
			return *parts[0].Text, nil
		}
		if resp.Candidates[0].FinishReason == "SAFETY" {
			return "", contentBlockedError(p, "SAFETY")
		}
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", contentBlockedError(p, resp.PromptFeedback.BlockReason)
	}
	return "", invalidResponseError(p)
}
