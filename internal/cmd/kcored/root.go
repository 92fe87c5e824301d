package kcored

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	apihttp "github.com/GriffinCanCode/kcore/internal/api/http"
	"github.com/GriffinCanCode/kcore/internal/infrastructure/config"
)

// NewRootCommand builds the kcored command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "kcored",
		Short:         "Kernel core daemon",
		Long:          "kcored boots the kernel core (work queues, pipes, timeouts) and exposes it over an admin HTTP API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", os.Getenv("KCORE_CONFIG"), "Config file (.yaml, .yml or .toml)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newBenchCommand())
	root.AddCommand(newConfigCommand())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "kcored", apihttp.Version)
		},
	})
	return root
}

// loadConfig reads --config and applies the flags shared by commands that
// boot a kernel.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Lookup("port") != nil && flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetString("port")
	}
	if flags.Lookup("host") != nil && flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Lookup("log-level") != nil && flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Lookup("dev") != nil && flags.Changed("dev") {
		cfg.Logging.Development, _ = flags.GetBool("dev")
	}
	if flags.Lookup("no-admin") != nil && flags.Changed("no-admin") {
		off, _ := flags.GetBool("no-admin")
		cfg.Server.Enabled = !off
	}
	if flags.Lookup("max-threads") != nil && flags.Changed("max-threads") {
		cfg.Kernel.MaxThreads, _ = flags.GetInt("max-threads")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
