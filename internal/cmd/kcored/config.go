package kcored

import (
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			format, _ := cmd.Flags().GetString("format")
			var out []byte
			switch format {
			case "yaml", "yml":
				out, err = yaml.Marshal(cfg)
			case "toml":
				out, err = toml.Marshal(cfg)
			default:
				return fmt.Errorf("unsupported format %q; use yaml|toml", format)
			}
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().String("format", "yaml", "Output format: yaml|toml")
	return cmd
}
