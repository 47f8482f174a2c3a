package settings

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Source supplies the AgentConfig for a conversation. It is read once at
// session start.
type Source interface {
	AgentConfig(ctx context.Context, conversationID string) (*AgentConfig, error)
}

// StaticSource hands out clones of a fixed config.
type StaticSource struct {
	Config *AgentConfig
}

func (s StaticSource) AgentConfig(_ context.Context, _ string) (*AgentConfig, error) {
	if s.Config == nil {
		return nil, errors.New("static settings source has no config")
	}
	return s.Config.Clone(), nil
}

// ViperSource reads the `agent` key of a viper instance. Conversation
// specific overrides live under `conversations.<id>` and are merged over
// the base config.
type ViperSource struct {
	v *viper.Viper
}

func NewViperSource(v *viper.Viper) *ViperSource {
	if v == nil {
		v = viper.GetViper()
	}
	return &ViperSource{v: v}
}

func (s *ViperSource) AgentConfig(_ context.Context, conversationID string) (*AgentConfig, error) {
	cfg, err := NewAgentConfig()
	if err != nil {
		return nil, err
	}

	if s.v.IsSet("agent") {
		if err := s.v.UnmarshalKey("agent", cfg); err != nil {
			return nil, errors.Wrap(err, "could not decode agent settings")
		}
	}

	if conversationID != "" {
		key := "conversations." + conversationID
		if s.v.IsSet(key) {
			if err := s.v.UnmarshalKey(key, cfg); err != nil {
				return nil, errors.Wrapf(err, "could not decode settings for conversation %s", conversationID)
			}
			log.Debug().Str("conversation_id", conversationID).Msg("applied conversation settings override")
		}
	}

	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid agent settings")
	}
	return cfg, nil
}

var _ Source = (*ViperSource)(nil)
var _ Source = StaticSource{}
