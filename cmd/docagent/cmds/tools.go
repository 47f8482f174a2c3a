package cmds

import (
	"github.com/go-go-golems/docagent/pkg/inference/tools"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type catalogEntry struct {
	Name          string                 `yaml:"name"`
	Description   string                 `yaml:"description,omitempty"`
	RequiresWrite bool                   `yaml:"requires_write"`
	Parameters    map[string]interface{} `yaml:"parameters,omitempty"`
}

func NewToolsCommand() *cobra.Command {
	var sf storeFlags

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the tool catalog built from the tool declarations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sf.functions == "" {
				return errors.New("--functions is required")
			}
			specs, err := sf.loadSpecs()
			if err != nil {
				return err
			}
			registry, report := tools.Build(specs)

			entries := make([]catalogEntry, 0, registry.Len())
			for _, t := range registry.List() {
				entries = append(entries, catalogEntry{
					Name:          t.Name,
					Description:   t.Description,
					RequiresWrite: t.RequiresWrite,
					Parameters:    t.ParametersMap(),
				})
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(map[string]interface{}{"tools": entries}); err != nil {
				return err
			}
			if len(report.Skipped) > 0 {
				cmd.PrintErrln("skipped:", report.String())
			}
			return enc.Close()
		},
	}
	sf.register(cmd)
	return cmd
}
