package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

const (
	DefaultTemperature     = 0.7
	DefaultMaxOutputTokens = 4000
)

// Payload is the provider-neutral description of one rewrite request.
type Payload struct {
	Model           string
	SystemPrompt    string
	UserContent     string
	Temperature     float64
	MaxOutputTokens int
}

// DefaultPayload builds the payload every provider sends for a rewrite.
func DefaultPayload(model, style, content string) Payload {
	return Payload{
		Model:           model,
		SystemPrompt:    SystemPrompt(style),
		UserContent:     content,
		Temperature:     DefaultTemperature,
		MaxOutputTokens: DefaultMaxOutputTokens,
	}
}

// Provider adapts one external rewrite API.
//
// BuildRequest must not perform I/O. ParseResponse is only called for 2xx
// responses and returns an *Error of KindInvalidResponse or KindContentBlocked
// when the body carries no rewritten text.
type Provider interface {
	Name() string
	DisplayName() string
	ErrorPrefix() string
	Model() string
	BuildRequest(ctx context.Context, apiKey string, payload Payload) (*http.Request, error)
	ParseResponse(body []byte) (string, error)
}

// errorMessageParser is implemented by providers whose error bodies differ
// from the common `{"error":{"message":...}}` shape.
type errorMessageParser interface {
	ErrorMessage(body []byte) string
}

// NewChatCompletionsRequest builds an OpenAI-shaped chat completion request
// authenticated with a Bearer token.
func NewChatCompletionsRequest(ctx context.Context, url, apiKey string, payload Payload) (*http.Request, error) {
	messages := make([]Message, 0, 2)
	if payload.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: payload.SystemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: payload.UserContent})

	req := ChatRequest{
		Model:       payload.Model,
		Messages:    messages,
		MaxTokens:   payload.MaxOutputTokens,
		Temperature: payload.Temperature,
	}
	httpReq, err := newJSONRequest(ctx, url, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	return httpReq, nil
}

func newJSONRequest(ctx context.Context, url string, body any) (*http.Request, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// extractErrorMessage reads `error.message` from an error body, falling back
// to the stripped raw body.
func extractErrorMessage(p Provider, body []byte) string {
	if parser, ok := p.(errorMessageParser); ok {
		if msg := parser.ErrorMessage(body); msg != "" {
			return msg
		}
	}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return rawErrorSnippet(body)
}

// Registry holds the providers known to a Gateway, keyed by Name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		_ = r.Register(p)
	}
	return r
}

// Register adds a provider. Registering the same name twice is an error.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return fmt.Errorf("provider is nil")
	}
	name := strings.ToLower(strings.TrimSpace(p.Name()))
	if name == "" {
		return fmt.Errorf("provider name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = p
	return nil
}

func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderConfigs carries per-provider endpoint overrides keyed by provider name.
type ProviderConfigs map[string]ProviderConfig

// NewDefaultRegistry registers the built-in providers, applying overrides
// from cfgs on top of each provider's defaults.
func NewDefaultRegistry(cfgs ProviderConfigs) *Registry {
	return NewRegistry(
		NewOpenAIProvider(cfgs["openai"]),
		NewDeepSeekProvider(cfgs["deepseek"]),
		NewAnthropicProvider(cfgs["anthropic"]),
		NewGeminiProvider(cfgs["gemini"]),
	)
}
