package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/propstrack/maintenance-server/internal/app"
	"github.com/propstrack/maintenance-server/internal/cleanup"
	"github.com/propstrack/maintenance-server/internal/config"
	"github.com/propstrack/maintenance-server/internal/counters"
	"github.com/propstrack/maintenance-server/internal/reconcile"
	"github.com/propstrack/maintenance-server/pkg/crypto"
)

// opener builds the service components on first use, so commands that
// touch no backend run without configuration.
type opener struct {
	configFile string
	app        *app.App
}

func (o *opener) open(ctx context.Context) (*app.App, error) {
	if o.app != nil {
		return o.app, nil
	}
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	a, err := app.New(ctx, cfg, log.Logger)
	if err != nil {
		return nil, err
	}
	o.app = a
	return a, nil
}

func (o *opener) close() {
	if o.app != nil {
		o.app.Close()
		o.app = nil
	}
}

func newRootCmd() (*cobra.Command, *opener) {
	o := &opener{}

	rootCmd := &cobra.Command{
		Use:           "maintenance-job",
		Short:         "Run one maintenance pass and exit",
		Long:          "maintenance-job runs a single garbage collection pass, a manual cleanup, a database health check, a storage reconciliation or a usage counter sweep. It is meant for external schedulers and operators.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()})
		},
	}
	rootCmd.PersistentFlags().StringVar(&o.configFile, "config", os.Getenv("MAINTENANCE_CONFIG"), "Configuration file path; empty uses defaults and environment")

	rootCmd.AddCommand(
		newCleanupCmd(o),
		newManualCmd(o),
		newHealthCmd(o),
		newReconcileCmd(o),
		newSweepCmd(o),
		newGenKeyCmd(),
	)
	return rootCmd, o
}

func newCleanupCmd(o *opener) *cobra.Command {
	jobs := []string{cleanup.JobProcessed, cleanup.JobExpiredCodes, cleanup.JobFailed}
	return &cobra.Command{
		Use:       "cleanup <job>",
		Short:     "Run one automatic cleanup pass",
		Long:      "Run one automatic cleanup pass. Jobs: " + strings.Join(jobs, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: jobs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			results, err := a.Jobs.Run(cmd.Context(), args[0])
			a.Metrics.ObserveJob(args[0], err)
			if werr := writeJSON(cmd, results); werr != nil {
				return werr
			}
			return err
		},
	}
}

func newManualCmd(o *opener) *cobra.Command {
	var req cleanup.ManualRequest
	cmd := &cobra.Command{
		Use:   "manual",
		Short: "Delete documents of one collection older than --days-old",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			result, err := a.Manual.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd, result)
		},
	}
	cmd.Flags().StringVar(&req.Collection, "collection", "", "Collection to clean")
	cmd.Flags().IntVar(&req.DaysOld, "days-old", cleanup.DefaultManualDaysOld, "Delete documents older than this many days (1-365)")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", cleanup.DefaultManualDryRun, "Only count matching documents")
	return cmd
}

func newHealthCmd(o *opener) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report collection sizes and cleanup candidates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			report, err := a.Health.Check(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd, report)
		},
	}
}

func newReconcileCmd(o *opener) *cobra.Command {
	opts := reconcile.Options{
		MaxFiles:    reconcile.DefaultMaxFiles,
		Concurrency: reconcile.DefaultConcurrency,
		DryRun:      reconcile.DefaultDryRun,
	}
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare the object bucket against stored references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			report, err := a.Reconciler.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return writeJSON(cmd, report)
		},
	}
	cmd.Flags().IntVar(&opts.MaxFiles, "max-files", opts.MaxFiles, "Objects to list (1-10000)")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", opts.Concurrency, "Parallel existence checks (1-50)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", opts.DryRun, "Report only; false deletes re-checked orphans")
	return cmd
}

func newSweepCmd(o *opener) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-counters",
		Short: "Release usage counter charges of documents that no longer exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			released, err := a.Maintainer.Sweep(cmd.Context())
			a.Metrics.ObserveJob(counters.JobSweep, err)
			if err != nil {
				return err
			}
			return writeJSON(cmd, map[string]int{"released": released})
		},
	}
}

func newGenKeyCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "gen-key",
		Short: "Generate a service API key and the hash to configure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, hash, err := crypto.GenerateServiceKey()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key:  %s\n", key)
			fmt.Fprintf(out, "config:\n  auth:\n    service_keys:\n      - name: %s\n        hash: %q\n", name, hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "scheduler", "Service name recorded with the key")
	return cmd
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
