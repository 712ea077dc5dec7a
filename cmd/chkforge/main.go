// chkforge creates execution-state checkpoints of simulator workloads at
// their region of interest, one sequential job per workload, with durable
// per-job progress so interrupted batches resume where they stopped.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/simforge/chkforge/internal/batch"
	"github.com/simforge/chkforge/internal/catalog"
	"github.com/simforge/chkforge/internal/metrics"
	"github.com/simforge/chkforge/internal/progress"
	"github.com/simforge/chkforge/internal/runner"
	"github.com/simforge/chkforge/internal/util/gracefulshutdown"
	"github.com/simforge/chkforge/internal/util/logging"
	"github.com/simforge/chkforge/pkg/vmm"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "chkforge",
		Short:         "ROI checkpoint creation for simulator workloads",
		Long:          "chkforge restores a base checkpoint, drives each workload to its region of interest over the serial console, and saves a verified per-workload checkpoint.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", os.Getenv(ConfigPathEnvKey), "path to a JSON config file")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newResetCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadSetup(cmd *cobra.Command, validate bool) (*Config, []catalog.Workload, error) {
	configPath, _ := cmd.Flags().GetString("config")

	var (
		cfg *Config
		err error
	)
	if validate {
		cfg, err = LoadConfig(configPath)
	} else {
		cfg, err = LoadConfigUnvalidated(configPath)
	}
	if err != nil {
		return nil, nil, err
	}

	if cfg.DevelopmentMode {
		logging.SetupDevelopment()
	} else {
		logging.Setup(logging.DefaultOptions())
	}

	workloads := catalog.Default()
	if cfg.CatalogPath != "" {
		workloads, err = catalog.Load(cfg.CatalogPath)
		if err != nil {
			return nil, nil, err
		}
	}

	return cfg, workloads, nil
}

func newRunCommand() *cobra.Command {
	var (
		workloadNames []string
		baseOverride  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create checkpoints for the catalog (or selected workloads)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, workloads, err := loadSetup(cmd, true)
			if err != nil {
				return err
			}

			workloads, err = catalog.Filter(workloads, workloadNames)
			if err != nil {
				return err
			}

			base := cfg.BaseCheckpoint
			if baseOverride != "" {
				base = baseOverride
			}

			gs := gracefulshutdown.New("chkforge")
			defer gs.Shutdown()

			store := progress.NewJSONStore(cfg.ProgressPath)
			newSession := func() runner.Session {
				return vmm.NewSession(cfg.SessionConfig())
			}
			jobs := runner.New(newSession, base)

			opts := []batch.Option{}
			if cfg.MetricsBind != "" {
				registry := prometheus.NewRegistry()
				opts = append(opts, batch.WithRecorder(metrics.NewRecorder(registry)))

				srv := metrics.Server(cfg.MetricsBind, registry)
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						slog.Error("metrics server failed", "error", err.Error())
					}
				}()
				defer srv.Close()
			}

			coord := batch.New(jobs, store, opts...)
			summary, err := coord.Run(gs.Context(), workloads)
			if err != nil {
				return err
			}

			if n := len(summary.Failed); n > 0 {
				return fmt.Errorf("%d of %d job(s) failed", n, summary.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&workloadNames, "workload", "w", nil, "restrict the batch to the named workload (repeatable)")
	cmd.Flags().StringVarP(&baseOverride, "base", "b", "", "base checkpoint to restore (overrides config)")
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the workload catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, workloads, err := loadSetup(cmd, false)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCHECKPOINT\tCOMMAND")
			for _, wl := range workloads {
				fmt.Fprintf(w, "%s\t%s\t%s\n", wl.Name, wl.CheckpointName(), wl.Command)
			}
			return w.Flush()
		},
	}
}

func newResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the progress file so the next run starts from scratch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadSetup(cmd, false)
			if err != nil {
				return err
			}

			if err := progress.NewJSONStore(cfg.ProgressPath).Reset(); err != nil {
				return err
			}
			fmt.Printf("progress reset: %s\n", cfg.ProgressPath)
			return nil
		},
	}
}
