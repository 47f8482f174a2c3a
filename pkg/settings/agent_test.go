package settings

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestNewAgentConfigDefaults(t *testing.T) {
	c, err := NewAgentConfig()
	require.NoError(t, err)
	require.Equal(t, ProviderOpenAI, c.Provider)
	require.Equal(t, 5, c.MaxRounds)
	require.Equal(t, 5*time.Second, c.DedupTTL)
	require.Equal(t, 60*time.Second, c.BackendTimeout)
	require.False(t, c.AllowWrite)
	require.NoError(t, c.Validate())
}

func TestCloneIsDeep(t *testing.T) {
	c, err := NewAgentConfig()
	require.NoError(t, err)
	temp := 0.3
	c.Temperature = &temp
	c.Tools = []string{"get_invoice"}
	c.Providers["openai"] = ProviderSettings{APIKey: "k"}

	cl := c.Clone()
	*cl.Temperature = 0.9
	cl.Tools[0] = "other"
	cl.Providers["openai"] = ProviderSettings{APIKey: "changed"}

	require.Equal(t, 0.3, *c.Temperature)
	require.Equal(t, "get_invoice", c.Tools[0])
	require.Equal(t, "k", c.Providers["openai"].APIKey)
}

func TestRenderInstructions(t *testing.T) {
	c, err := NewAgentConfig()
	require.NoError(t, err)

	out, err := c.RenderInstructions(map[string]interface{}{"app": "Acme CRM"})
	require.NoError(t, err)
	require.Contains(t, out, "Acme CRM")
	require.Contains(t, out, "preview only")

	c.AllowWrite = true
	out, err = c.RenderInstructions(nil)
	require.NoError(t, err)
	require.Contains(t, out, "the application")
	require.Contains(t, out, "You may create")

	c.Instructions = "plain text"
	out, err = c.RenderInstructions(nil)
	require.NoError(t, err)
	require.Equal(t, "plain text", out)

	c.Instructions = "{{ .broken"
	_, err = c.RenderInstructions(nil)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	c, err := NewAgentConfig()
	require.NoError(t, err)

	bad := c.Clone()
	bad.Provider = "nope"
	require.Error(t, bad.Validate())

	bad = c.Clone()
	bad.Provider = ProviderAssistant
	require.Error(t, bad.Validate())
	bad.AssistantID = "asst_1"
	require.NoError(t, bad.Validate())

	bad = c.Clone()
	topP := 1.5
	bad.TopP = &topP
	require.Error(t, bad.Validate())
}

func TestToolEnabled(t *testing.T) {
	c := &AgentConfig{}
	require.True(t, c.ToolEnabled("anything"))
	c.Tools = []string{"a"}
	require.True(t, c.ToolEnabled("a"))
	require.False(t, c.ToolEnabled("b"))
}

func TestViperSource(t *testing.T) {
	v := viper.New()
	v.Set("agent", map[string]interface{}{
		"provider":   "ollama",
		"model":      "llama3",
		"max_rounds": 3,
		"dedup_ttl":  "2s",
	})
	v.Set("conversations.c1", map[string]interface{}{
		"allow_write": true,
	})

	src := NewViperSource(v)
	cfg, err := src.AgentConfig(context.Background(), "c0")
	require.NoError(t, err)
	require.Equal(t, ProviderOllama, cfg.Provider)
	require.Equal(t, "llama3", cfg.Model)
	require.Equal(t, 3, cfg.MaxRounds)
	require.Equal(t, 2*time.Second, cfg.DedupTTL)
	require.False(t, cfg.AllowWrite)

	cfg, err = src.AgentConfig(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, cfg.AllowWrite)
	require.Equal(t, "llama3", cfg.Model)
}

func TestStaticSourceReturnsClones(t *testing.T) {
	c, err := NewAgentConfig()
	require.NoError(t, err)
	src := StaticSource{Config: c}

	got, err := src.AgentConfig(context.Background(), "x")
	require.NoError(t, err)
	got.Model = "changed"
	require.NotEqual(t, "changed", c.Model)
}
