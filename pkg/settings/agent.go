package settings

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderAssistant = "assistant"

	DefaultProvider = ProviderOpenAI
)

// ProviderSettings holds the credentials and endpoint of one backend provider.
type ProviderSettings struct {
	APIKey  string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url,omitempty" mapstructure:"base_url"`
}

// AgentConfig is resolved once per session and treated as read-only afterwards.
// Callers that need to tweak a shared config work on Clone().
type AgentConfig struct {
	Model        string   `yaml:"model" mapstructure:"model"`
	Provider     string   `yaml:"provider" mapstructure:"provider"`
	Temperature  *float64 `yaml:"temperature,omitempty" mapstructure:"temperature"`
	TopP         *float64 `yaml:"top_p,omitempty" mapstructure:"top_p"`
	Instructions string   `yaml:"instructions" mapstructure:"instructions"`
	// Tools lists the enabled tool names. Empty enables every registered tool.
	Tools []string `yaml:"tools,omitempty" mapstructure:"tools"`

	AllowWrite       bool          `yaml:"allow_write" mapstructure:"allow_write"`
	MaxRounds        int           `yaml:"max_rounds" mapstructure:"max_rounds"`
	HistoryLimit     int           `yaml:"history_limit" mapstructure:"history_limit"`
	HistoryMaxTokens int           `yaml:"history_max_tokens" mapstructure:"history_max_tokens"`
	BackendTimeout   time.Duration `yaml:"backend_timeout" mapstructure:"backend_timeout"`
	ToolTimeout      time.Duration `yaml:"tool_timeout" mapstructure:"tool_timeout"`
	DedupTTL         time.Duration `yaml:"dedup_ttl" mapstructure:"dedup_ttl"`
	ParallelReads    bool          `yaml:"parallel_reads" mapstructure:"parallel_reads"`

	AssistantID     string `yaml:"assistant_id,omitempty" mapstructure:"assistant_id"`
	CodeInterpreter bool   `yaml:"code_interpreter" mapstructure:"code_interpreter"`
	FileSearch      bool   `yaml:"file_search" mapstructure:"file_search"`

	Providers map[string]ProviderSettings `yaml:"providers,omitempty" mapstructure:"providers"`

	Debug bool `yaml:"debug" mapstructure:"debug"`
}

//go:embed defaults.yaml
var defaultsYAML []byte

// NewAgentConfig returns a config populated with the embedded defaults.
func NewAgentConfig() (*AgentConfig, error) {
	c := &AgentConfig{
		Providers: map[string]ProviderSettings{},
	}
	if err := yaml.Unmarshal(defaultsYAML, c); err != nil {
		return nil, errors.Wrap(err, "could not parse default agent settings")
	}
	return c, nil
}

func (c *AgentConfig) Clone() *AgentConfig {
	return clone.Clone(c).(*AgentConfig)
}

// ApplyDefaults fills zero values from the embedded defaults.
func (c *AgentConfig) ApplyDefaults() error {
	d, err := NewAgentConfig()
	if err != nil {
		return err
	}
	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Instructions == "" {
		c.Instructions = d.Instructions
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = d.MaxRounds
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.BackendTimeout <= 0 {
		c.BackendTimeout = d.BackendTimeout
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = d.ToolTimeout
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = d.DedupTTL
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderSettings{}
	}
	return nil
}

func (c *AgentConfig) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderOllama, ProviderAnthropic, ProviderAssistant:
	default:
		return errors.Errorf("unknown provider %q", c.Provider)
	}
	if c.Model == "" && c.Provider != ProviderAssistant {
		return errors.New("model must be set")
	}
	if c.Provider == ProviderAssistant && c.AssistantID == "" {
		return errors.New("assistant provider requires assistant_id")
	}
	if c.MaxRounds <= 0 {
		return errors.Errorf("max_rounds must be positive, got %d", c.MaxRounds)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return errors.Errorf("temperature %v out of range [0, 2]", *c.Temperature)
	}
	if c.TopP != nil && (*c.TopP < 0 || *c.TopP > 1) {
		return errors.Errorf("top_p %v out of range [0, 1]", *c.TopP)
	}
	return nil
}

// ToolEnabled reports whether the named tool passes the Tools filter.
func (c *AgentConfig) ToolEnabled(name string) bool {
	if len(c.Tools) == 0 {
		return true
	}
	for _, t := range c.Tools {
		if t == name {
			return true
		}
	}
	return false
}

func (c *AgentConfig) ProviderSettings() ProviderSettings {
	if c.Providers == nil {
		return ProviderSettings{}
	}
	return c.Providers[c.Provider]
}

// RenderInstructions executes the instruction text as a text/template with
// sprig functions against vars. The variables allow_write, model and provider
// are always available.
func (c *AgentConfig) RenderInstructions(vars map[string]interface{}) (string, error) {
	if !strings.Contains(c.Instructions, "{{") {
		return c.Instructions, nil
	}
	data := map[string]interface{}{
		"allow_write": c.AllowWrite,
		"model":       c.Model,
		"provider":    c.Provider,
	}
	for k, v := range vars {
		data[k] = v
	}

	tmpl, err := template.New("instructions").Funcs(sprig.TxtFuncMap()).Parse(c.Instructions)
	if err != nil {
		return "", errors.Wrap(err, "could not parse instructions template")
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "could not render instructions template")
	}
	return strings.TrimSpace(buf.String()), nil
}
