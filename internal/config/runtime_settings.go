package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MimeLyc/batch-rewriter/internal/llm"
)

const (
	MaxBatchSize = 100
	maskVisible  = 4
)

// RuntimeSettings are the operator-editable settings persisted next to the
// environment configuration.
type RuntimeSettings struct {
	DefaultProvider string            `json:"default_provider"`
	DefaultStyle    string            `json:"default_style"`
	BatchSize       int               `json:"batch_size"`
	SaveHistory     bool              `json:"save_history"`
	APIKeys         map[string]string `json:"api_keys"`
}

var knownProviders = llm.NewDefaultRegistry(nil).Names()

func isKnownProvider(name string) bool {
	for _, p := range knownProviders {
		if p == name {
			return true
		}
	}
	return false
}

func (s RuntimeSettings) Validate() error {
	if strings.TrimSpace(s.DefaultProvider) == "" {
		return fmt.Errorf("default_provider is required")
	}
	if !isKnownProvider(s.DefaultProvider) {
		return fmt.Errorf("unsupported default_provider %q", s.DefaultProvider)
	}
	if _, ok := llm.NormalizeStyle(s.DefaultStyle); !ok {
		return fmt.Errorf("unsupported default_style %q, want one of %v", s.DefaultStyle, llm.Styles())
	}
	if s.BatchSize < 1 || s.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch_size must be between 1 and %d", MaxBatchSize)
	}
	for name := range s.APIKeys {
		if !isKnownProvider(name) {
			return fmt.Errorf("api key for unsupported provider %q", name)
		}
	}
	return nil
}

// Masked returns a copy with every API key reduced to its last characters.
func (s RuntimeSettings) Masked() RuntimeSettings {
	out := s
	out.APIKeys = make(map[string]string, len(s.APIKeys))
	for name, key := range s.APIKeys {
		out.APIKeys[name] = MaskKey(key)
	}
	return out
}

func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= maskVisible {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-maskVisible) + key[len(key)-maskVisible:]
}

// MergeAPIKeys keeps the current key wherever next carries an empty or
// masked value, so a masked read can be written back unchanged.
func MergeAPIKeys(current, next RuntimeSettings) RuntimeSettings {
	merged := next
	merged.APIKeys = make(map[string]string, len(current.APIKeys))
	for name, key := range current.APIKeys {
		merged.APIKeys[name] = key
	}
	for name, key := range next.APIKeys {
		key = strings.TrimSpace(key)
		if key == "" || key == MaskKey(current.APIKeys[name]) {
			continue
		}
		merged.APIKeys[name] = key
	}
	return merged
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		DefaultProvider: c.Rewrite.DefaultProvider,
		DefaultStyle:    c.Rewrite.DefaultStyle,
		BatchSize:       c.Batch.ChunkSize,
		SaveHistory:     c.Rewrite.HistoryEnabled,
		APIKeys:         c.Providers.APIKeys(),
	}
}

func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(settings.DefaultProvider) != "" {
			c.Rewrite.DefaultProvider = settings.DefaultProvider
		}
		if strings.TrimSpace(settings.DefaultStyle) != "" {
			c.Rewrite.DefaultStyle = settings.DefaultStyle
		}
		if settings.BatchSize > 0 {
			c.Batch.ChunkSize = settings.BatchSize
		}
		c.Rewrite.HistoryEnabled = settings.SaveHistory
		for name, key := range settings.APIKeys {
			if strings.TrimSpace(key) == "" {
				continue
			}
			switch name {
			case "openai":
				c.Providers.OpenAI.APIKey = key
			case "deepseek":
				c.Providers.DeepSeek.APIKey = key
			case "anthropic":
				c.Providers.Anthropic.APIKey = key
			case "gemini":
				c.Providers.Gemini.APIKey = key
			}
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// RuntimeSettingsStore serves the current settings to the gateway (API
// keys), the runner (batch size) and the orchestrator (history toggle).
type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: cloneSettings(initial),
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSettings(s.current), nil
}

func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}

	s.mu.Lock()
	s.current = cloneSettings(next)
	s.mu.Unlock()
	return next, nil
}

func (s *RuntimeSettingsStore) APIKey(provider string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.APIKeys[provider]
}

func (s *RuntimeSettingsStore) ChunkSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.BatchSize
}

func (s *RuntimeSettingsStore) HistoryEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.SaveHistory
}

func (s *RuntimeSettingsStore) DefaultProvider() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.DefaultProvider
}

func (s *RuntimeSettingsStore) DefaultStyle() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.DefaultStyle
}

func cloneSettings(s RuntimeSettings) RuntimeSettings {
	out := s
	out.APIKeys = make(map[string]string, len(s.APIKeys))
	for k, v := range s.APIKeys {
		out.APIKeys[k] = v
	}
	return out
}
