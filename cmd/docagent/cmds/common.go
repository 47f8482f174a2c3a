package cmds

import (
	"context"
	"os"

	"github.com/go-go-golems/docagent/pkg/docstore/sqlitestore"
	"github.com/go-go-golems/docagent/pkg/inference/tools"
	"github.com/go-go-golems/docagent/pkg/settings"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// storeFlags are shared by commands that open the document store.
type storeFlags struct {
	db        string
	driver    string
	functions string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.db, "db", "docagent.db", "Path of the SQLite document database")
	cmd.Flags().StringVar(&f.driver, "driver", sqlitestore.DriverCGO, "SQLite driver (sqlite3 or sqlite)")
	cmd.Flags().StringVar(&f.functions, "functions", "", "YAML file with the tool declarations")
}

func (f *storeFlags) openStore() (*sqlitestore.Store, error) {
	return sqlitestore.New(f.db, sqlitestore.WithDriver(f.driver))
}

func (f *storeFlags) loadSpecs() ([]tools.FunctionSpec, error) {
	if f.functions == "" {
		return nil, nil
	}
	return tools.LoadSpecsFile(f.functions)
}

// agentConfig reads the settings for a conversation and applies the flags
// the user set explicitly.
func agentConfig(ctx context.Context, cmd *cobra.Command, conversationID string) (*settings.AgentConfig, error) {
	cfg, err := settings.NewViperSource(viper.GetViper()).AgentConfig(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("provider") {
		cfg.Provider, _ = flags.GetString("provider")
	}
	if flags.Changed("model") {
		cfg.Model, _ = flags.GetString("model")
	}
	if flags.Changed("allow-write") {
		cfg.AllowWrite, _ = flags.GetBool("allow-write")
	}
	if flags.Changed("max-rounds") {
		cfg.MaxRounds, _ = flags.GetInt("max-rounds")
	}
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}
	if flags.Changed("assistant-id") {
		cfg.AssistantID, _ = flags.GetString("assistant-id")
	}

	for provider, env := range map[string]string{
		settings.ProviderOpenAI:    "OPENAI_API_KEY",
		settings.ProviderAnthropic: "ANTHROPIC_API_KEY",
	} {
		ps := cfg.Providers[provider]
		if ps.APIKey == "" {
			ps.APIKey = os.Getenv(env)
			cfg.Providers[provider] = ps
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid agent settings")
	}
	return cfg, nil
}
