package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"apt_scrooper/models"
	"apt_scrooper/scheduler"
)

type rootOptions struct {
	logLevel  string
	logToFile bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "apt_scrooper",
		Short: "Rental unit availability scraper",
		Long: `apt_scrooper scrapes apartment building floor plan pages and keeps a
per-building table of units in sync with what each site currently lists.
Units that disappear from a site are marked unavailable, never deleted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&opts.logToFile, "log-file", true, "also write logs to LOG_FILE")

	rootCmd.AddCommand(
		newDaemonCmd(opts),
		newScrapeCmd(opts),
		newBuildingsCmd(opts),
		newUnitsCmd(opts),
		newQueueCmd(opts),
	)
	return rootCmd
}

func newDaemonCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run scheduled scrapes and process queued commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			a.logger.Info("loaded building configs", zap.Strings("buildings", orch.BuildingIDs()))

			sched := scheduler.New(a.cfg.Scheduler, orch, a.ops, a.logger)
			if err := sched.Start(ctx); err != nil {
				return fmt.Errorf("start scheduler: %w", err)
			}

			a.logger.Info("daemon running, press Ctrl+C to stop")
			<-ctx.Done()

			a.logger.Info("shutting down")
			sched.Stop()
			return nil
		},
	}
}

func newScrapeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scrape [building...]",
		Short: "Run one reconciliation pass and exit",
		Long:  `Scrape and reconcile the given buildings, or every configured building when none are named.`,
		Example: `  apt_scrooper scrape
  apt_scrooper scrape lyric 450k`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				return orch.RunAll(ctx)
			}

			var errs []error
			for _, id := range args {
				res, err := orch.RunBuilding(ctx, id)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", id, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d units, %d new, %d written, %d deactivated\n",
					id, len(res.Plan.Upserts), res.Plan.NewUnits, res.Applied.RowsWritten, res.Applied.RowsDeactivated)
			}
			return errors.Join(errs...)
		},
	}
}

func newBuildingsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "buildings",
		Short: "List configured buildings with their latest run stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSOURCE\tLAST RUN\tSTATUS\tUNITS\tAVAILABLE\tSUCCESS")
			for _, id := range a.cfg.BuildingIDs() {
				b := a.cfg.Buildings[id]
				stats, err := a.ops.GetBuildingStats(id)
				if err != nil {
					return err
				}
				if stats == nil {
					fmt.Fprintf(w, "%s\t%s\t%s\t-\t-\t-\t-\t-\n", id, b.Name, b.Source)
					continue
				}
				lastRun := "-"
				if stats.LastRunAt != nil {
					lastRun = stats.LastRunAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%.0f%%\n", id, b.Name, b.Source, lastRun,
					stats.LastRunStatus, stats.TotalUnits, stats.AvailableUnits, stats.SuccessRate*100)
			}
			return w.Flush()
		},
	}
}

func newUnitsCmd(opts *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "units <building>",
		Short: "List stored units for a building",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			units, err := a.units.ListUnits(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "UNIT\tBEDS\tBATHS\tSQFT\tPRICE\tPLAN\tAVAILABLE FROM\tLISTED")
			for _, u := range units {
				if !all && !u.Available {
					continue
				}
				fmt.Fprintf(w, "%s\t%g\t%g\t%d\t$%d\t%s\t%s\t%t\n", u.UnitNumber, u.Bedrooms, u.Bathrooms,
					u.SquareFeet, u.Price, u.FloorPlanType, u.DateAvailable, u.Available)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include units no longer listed")
	return cmd
}

func newQueueCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue <scrape_now|scrape_building|pause|resume> [building]",
		Short: "Send a command to a running daemon",
		Example: `  apt_scrooper queue scrape_building lyric
  apt_scrooper queue pause`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := models.CommandType(args[0])
			var params *models.CommandParams

			switch command {
			case models.CmdScrapeBuilding:
				if len(args) != 2 {
					return fmt.Errorf("%s needs a building id", command)
				}
				params = &models.CommandParams{Building: args[1]}
			case models.CmdScrapeNow, models.CmdPause, models.CmdResume:
				if len(args) != 1 {
					return fmt.Errorf("%s takes no building", command)
				}
			default:
				return fmt.Errorf("unknown command: %s", command)
			}

			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if params != nil {
				if _, ok := a.cfg.Buildings[params.Building]; !ok {
					return fmt.Errorf("unknown building: %s", params.Building)
				}
			}

			if err := a.ops.EnqueueCommand(command, params); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", command)
			return nil
		},
	}
}
