package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MimeLyc/batch-rewriter/internal/telemetry"
	"github.com/MimeLyc/batch-rewriter/pkg/log"
)

// RequestTimeout bounds every provider call.
const RequestTimeout = 60 * time.Second

// KeySource supplies provider API keys. It is consulted on every call so
// keys changed at runtime take effect immediately.
type KeySource interface {
	APIKey(provider string) string
}

// StaticKeys is a KeySource backed by a fixed map.
type StaticKeys map[string]string

func (k StaticKeys) APIKey(provider string) string {
	return k[provider]
}

// Gateway routes rewrite calls to the registered providers
// Thread-safe for concurrent use
//
// registry: Providers keyed by name
// keys: Source of API keys, read per call
// httpClient: HTTP client for API requests
type Gateway struct {
	registry   *Registry
	keys       KeySource
	httpClient *http.Client
}

type GatewayOption func(*Gateway)

// WithHTTPClient replaces the default client. Calls stay bounded by
// RequestTimeout either way.
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *Gateway) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// NewGateway creates a gateway over registry
//
// Example:
//
//	gw := llm.NewGateway(llm.NewDefaultRegistry(nil), settingsStore)
//	text, err := gw.Rewrite(ctx, "openai", body, "formal")
func NewGateway(registry *Registry, keys KeySource, opts ...GatewayOption) *Gateway {
	if registry == nil {
		registry = NewRegistry()
	}
	if keys == nil {
		keys = StaticKeys{}
	}
	g := &Gateway{
		registry:   registry,
		keys:       keys,
		httpClient: &http.Client{Timeout: RequestTimeout},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Has reports whether provider is registered.
func (g *Gateway) Has(provider string) bool {
	_, ok := g.registry.Get(provider)
	return ok
}

// Providers returns the registered provider names.
func (g *Gateway) Providers() []string {
	return g.registry.Names()
}

// Rewrite sends content to provider with the system prompt for style and
// returns the rewritten text
//
// # Returns an *Error describing the failure otherwise
func (g *Gateway) Rewrite(ctx context.Context, provider, content, style string) (string, error) {
	p, ok := g.registry.Get(provider)
	if !ok {
		return "", ErrInvalidProvider(provider)
	}

	apiKey := strings.TrimSpace(g.keys.APIKey(p.Name()))
	if apiKey == "" {
		return "", newProviderError(p, KindAPIKeyMissing, fmt.Sprintf("%s API key is not configured.", p.DisplayName()))
	}

	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	start := time.Now()
	text, err := g.makeRequest(ctx, p, apiKey, DefaultPayload(p.Model(), style, content))
	telemetry.ProviderLatency.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
	telemetry.ProviderRequests.WithLabelValues(p.Name(), outcomeLabel(err)).Inc()
	if err != nil {
		log.Warn("rewrite via %s failed: %v", p.Name(), err)
		return "", err
	}
	return text, nil
}

// makeRequest makes a raw HTTP request to the provider and parses the reply
func (g *Gateway) makeRequest(ctx context.Context, p Provider, apiKey string, payload Payload) (string, error) {
	req, err := p.BuildRequest(ctx, apiKey, payload)
	if err != nil {
		e := newProviderError(p, KindRequestFailed, "API request failed.")
		e.Cause = err
		return "", e
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		msg := "API request failed."
		if os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			msg = "API request timed out."
		}
		e := newProviderError(p, KindRequestFailed, msg)
		e.Cause = err
		return "", e
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		e := newProviderError(p, KindRequestFailed, "failed to read response body.")
		e.Cause = err
		return "", e
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e := newProviderError(p, KindResponseError,
			fmt.Sprintf("%s API error: %d - %s", p.DisplayName(), resp.StatusCode, extractErrorMessage(p, body)))
		e.StatusCode = resp.StatusCode
		return "", e
	}

	return p.ParseResponse(body)
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Kind.String()
	}
	return "error"
}
