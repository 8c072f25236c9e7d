package llm

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
)

// ProviderConfig holds the endpoint settings for one rewrite provider.
// API keys are not part of it; they are read per call from a KeySource.
//
// APIURL: Base URL of the provider API, without the operation path
// Model: Model name sent with every request
type ProviderConfig struct {
	APIURL string `json:"api_url"`
	Model  string `json:"model"`
}

// Validate validates the configuration
func (c ProviderConfig) Validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("API URL is required")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("API URL %q must be an absolute http(s) URL", c.APIURL)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

func (c ProviderConfig) withDefaults(def ProviderConfig) ProviderConfig {
	if strings.TrimSpace(c.APIURL) == "" {
		c.APIURL = def.APIURL
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = def.Model
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	return c
}

// Default endpoints and models for the built-in providers.
var (
	DefaultOpenAIConfig = ProviderConfig{
		APIURL: "https://api.openai.com/v1",
		Model:  "gpt-4",
	}
	DefaultDeepSeekConfig = ProviderConfig{
		APIURL: "https://api.deepseek.com/v1",
		Model:  "deepseek-chat",
	}
	DefaultAnthropicConfig = ProviderConfig{
		APIURL: "https://api.anthropic.com/v1",
		Model:  "claude-3-opus-20240229",
	}
	DefaultGeminiConfig = ProviderConfig{
		APIURL: "https://generativelanguage.googleapis.com/v1beta",
		Model:  "gemini-1.5-pro",
	}
)

var defaultConfigs = map[string]ProviderConfig{
	"openai":    DefaultOpenAIConfig,
	"deepseek":  DefaultDeepSeekConfig,
	"anthropic": DefaultAnthropicConfig,
	"gemini":    DefaultGeminiConfig,
}

// Validate checks each override merged with its provider's defaults.
func (c ProviderConfigs) Validate() error {
	for _, name := range slices.Sorted(maps.Keys(c)) {
		def, ok := defaultConfigs[name]
		if !ok {
			return ErrInvalidProvider(name)
		}
		if err := c[name].withDefaults(def).Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
