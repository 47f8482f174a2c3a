package factory

import (
	"testing"

	"github.com/go-go-golems/docagent/pkg/backend"
	"github.com/go-go-golems/docagent/pkg/backend/anthropic"
	"github.com/go-go-golems/docagent/pkg/backend/assistant"
	"github.com/go-go-golems/docagent/pkg/backend/openai"
	"github.com/go-go-golems/docagent/pkg/settings"
	"github.com/stretchr/testify/require"
)

func config(t *testing.T, provider string) *settings.AgentConfig {
	t.Helper()
	cfg, err := settings.NewAgentConfig()
	require.NoError(t, err)
	cfg.Provider = provider
	cfg.Providers[settings.ProviderOpenAI] = settings.ProviderSettings{APIKey: "k"}
	cfg.Providers[settings.ProviderAnthropic] = settings.ProviderSettings{APIKey: "k"}
	return cfg
}

func TestCreateBackendByProvider(t *testing.T) {
	f := NewStandardBackendFactory()

	b, err := f.CreateBackend(config(t, settings.ProviderOpenAI))
	require.NoError(t, err)
	require.IsType(t, &openai.Chat{}, b)
	_, ok := b.(backend.ChatBackend)
	require.True(t, ok)

	b, err = f.CreateBackend(config(t, settings.ProviderAnthropic))
	require.NoError(t, err)
	require.IsType(t, &anthropic.Chat{}, b)

	cfg := config(t, settings.ProviderAssistant)
	cfg.AssistantID = "asst_1"
	b, err = f.CreateBackend(cfg)
	require.NoError(t, err)
	require.IsType(t, &assistant.Assistant{}, b)
	_, ok = b.(backend.StatefulBackend)
	require.True(t, ok)
}

func TestEmptyProviderUsesDefault(t *testing.T) {
	f := NewStandardBackendFactory()
	b, err := f.CreateBackend(config(t, ""))
	require.NoError(t, err)
	require.Equal(t, settings.ProviderOpenAI, b.Name())
}

func TestUnsupportedProvider(t *testing.T) {
	_, err := NewStandardBackendFactory().CreateBackend(config(t, "gemini"))
	require.ErrorIs(t, err, backend.ErrUnsupportedProvider)
}

func TestMissingAPIKey(t *testing.T) {
	cfg := config(t, settings.ProviderOpenAI)
	cfg.Providers = map[string]settings.ProviderSettings{}
	_, err := NewStandardBackendFactory().CreateBackend(cfg)
	require.Error(t, err)
}

func TestFallbackOnlyForOpenAICompatibleProviders(t *testing.T) {
	f := NewStandardBackendFactory()
	fb, ok := f.CreateFallback(config(t, settings.ProviderOpenAI))
	require.True(t, ok)
	require.Equal(t, "rawhttp", fb.Name())

	cfg := config(t, settings.ProviderAssistant)
	cfg.AssistantID = "asst_1"
	fb, ok = f.CreateFallback(cfg)
	require.True(t, ok)
	require.Equal(t, "rawhttp", fb.Name())

	cfg.Model = ""
	_, ok = f.CreateFallback(cfg)
	require.False(t, ok)

	_, ok = f.CreateFallback(config(t, settings.ProviderAnthropic))
	require.False(t, ok)
	_, ok = f.CreateFallback(config(t, settings.ProviderOllama))
	require.False(t, ok)
}
