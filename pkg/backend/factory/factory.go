package factory

import (
	"strings"

	"github.com/go-go-golems/docagent/pkg/backend"
	"github.com/go-go-golems/docagent/pkg/backend/anthropic"
	"github.com/go-go-golems/docagent/pkg/backend/assistant"
	"github.com/go-go-golems/docagent/pkg/backend/ollama"
	"github.com/go-go-golems/docagent/pkg/backend/openai"
	"github.com/go-go-golems/docagent/pkg/backend/rawhttp"
	"github.com/go-go-golems/docagent/pkg/settings"
	"github.com/pkg/errors"
)

// BackendFactory creates backends from an agent config.
// The provider is taken from cfg.Provider, falling back to DefaultProvider.
type BackendFactory interface {
	CreateBackend(cfg *settings.AgentConfig) (backend.Backend, error)

	// CreateFallback returns the hand-rolled client used when the regular
	// client of a provider fails internally, or false when the provider has
	// no fallback.
	CreateFallback(cfg *settings.AgentConfig) (backend.ChatBackend, bool)

	SupportedProviders() []string
	DefaultProvider() string
}

// StandardBackendFactory supports the openai, ollama, anthropic and
// assistant providers.
type StandardBackendFactory struct {
	AssistantOptions []assistant.Option
	RawHTTPOptions   []rawhttp.Option
}

var _ BackendFactory = (*StandardBackendFactory)(nil)

func NewStandardBackendFactory() *StandardBackendFactory {
	return &StandardBackendFactory{}
}

// resolve returns cfg with a lower-cased provider, defaulted when empty.
func (f *StandardBackendFactory) resolve(cfg *settings.AgentConfig) *settings.AgentConfig {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = f.DefaultProvider()
	}
	if provider == cfg.Provider {
		return cfg
	}
	cfg = cfg.Clone()
	cfg.Provider = provider
	return cfg
}

func (f *StandardBackendFactory) CreateBackend(cfg *settings.AgentConfig) (backend.Backend, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	cfg = f.resolve(cfg)
	provider := cfg.Provider
	if err := f.validateSettings(cfg, provider); err != nil {
		return nil, errors.Wrapf(err, "invalid settings for provider %s", provider)
	}

	var (
		b   backend.Backend
		err error
	)
	switch provider {
	case settings.ProviderOpenAI:
		b, err = openai.NewChat(cfg)
	case settings.ProviderOllama:
		b, err = ollama.NewChat(cfg)
	case settings.ProviderAnthropic:
		b, err = anthropic.NewChat(cfg)
	case settings.ProviderAssistant:
		b, err = assistant.New(cfg, f.AssistantOptions...)
	default:
		return nil, errors.Wrapf(backend.ErrUnsupportedProvider, "%s (supported: %s)", provider, strings.Join(f.SupportedProviders(), ", "))
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// CreateFallback only serves providers that speak the OpenAI API. The
// assistant provider falls back to plain chat completions with its model.
func (f *StandardBackendFactory) CreateFallback(cfg *settings.AgentConfig) (backend.ChatBackend, bool) {
	if cfg == nil {
		return nil, false
	}
	cfg = f.resolve(cfg)
	switch cfg.Provider {
	case settings.ProviderOpenAI:
		return rawhttp.New(cfg.ProviderSettings(), cfg.Model, f.RawHTTPOptions...), true
	case settings.ProviderAssistant:
		if cfg.Model == "" {
			return nil, false
		}
		ps := cfg.Providers[settings.ProviderAssistant]
		if ps.APIKey == "" {
			ps = cfg.Providers[settings.ProviderOpenAI]
		}
		return rawhttp.New(ps, cfg.Model, f.RawHTTPOptions...), true
	default:
		return nil, false
	}
}

func (f *StandardBackendFactory) SupportedProviders() []string {
	return []string{
		settings.ProviderOpenAI,
		settings.ProviderOllama,
		settings.ProviderAnthropic,
		settings.ProviderAssistant,
	}
}

func (f *StandardBackendFactory) DefaultProvider() string {
	return settings.DefaultProvider
}

func (f *StandardBackendFactory) validateSettings(cfg *settings.AgentConfig, provider string) error {
	switch provider {
	case settings.ProviderOpenAI, settings.ProviderAnthropic:
		if cfg.Model == "" {
			return errors.New("no model specified")
		}
		if cfg.Providers[provider].APIKey == "" {
			return errors.Errorf("missing API key for %s", provider)
		}
	case settings.ProviderOllama:
		if cfg.Model == "" {
			return errors.New("no model specified")
		}
	case settings.ProviderAssistant:
		if cfg.AssistantID == "" {
			return errors.New("missing assistant id")
		}
		if cfg.Providers[settings.ProviderAssistant].APIKey == "" && cfg.Providers[settings.ProviderOpenAI].APIKey == "" {
			return errors.New("missing API key for assistant")
		}
	}
	return nil
}
