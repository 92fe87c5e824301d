package kcored

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/kcore/internal/kernel"
	"github.com/GriffinCanCode/kcore/internal/kernel/bench"
)

func newBenchCommand() *cobra.Command {
	def := bench.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure work queue and pipe latency on a private kernel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			bc := bench.Config{}
			bc.Items, _ = cmd.Flags().GetInt("items")
			bc.Chunk, _ = cmd.Flags().GetInt("chunk")
			bc.PipeSize, _ = cmd.Flags().GetInt("pipe-size")
			asJSON, _ := cmd.Flags().GetBool("json")

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger, err := NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			k, err := kernel.New(cfg.Kernel, logger.Named("kernel"), nil, nil)
			if err != nil {
				return err
			}
			defer func() { _ = k.Shutdown(context.Background()) }()

			report, err := bench.Run(ctx, k, bc)
			if err != nil {
				return fmt.Errorf("bench: %w", err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			_, err = fmt.Fprint(out, report.String())
			return err
		},
	}
	cmd.Flags().Int("items", def.Items, "Work items and pipe chunks to time")
	cmd.Flags().Int("chunk", def.Chunk, "Pipe transfer size in bytes (at least 8)")
	cmd.Flags().Int("pipe-size", def.PipeSize, "Ring size of the benchmark pipe")
	cmd.Flags().Bool("json", false, "Print the report as JSON")
	cmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	return cmd
}
