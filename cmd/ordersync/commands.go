package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/ordersync/internal/app"
	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/service/syncer"
	"github.com/vladislavdragonenkov/ordersync/internal/storage/postgres"
	"github.com/vladislavdragonenkov/ordersync/internal/version"
)

// cli хранит глобальные флаги и лениво создаёт Runtime.
type cli struct {
	configPath string
	driver     string
	dsn        string
	logLevel   string

	runtimeOpts []app.RuntimeOption
	rt          *app.Runtime
}

func newRootCommand(opts ...app.RuntimeOption) *cobra.Command {
	c := &cli{runtimeOpts: opts}

	root := &cobra.Command{
		Use:           "ordersync",
		Short:         "Incremental order synchronization from the OneSaas connector into PostgreSQL",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "path to YAML config file")
	flags.StringVar(&c.driver, "driver", "", "storage driver override: postgres|memory")
	flags.StringVar(&c.dsn, "dsn", "", "PostgreSQL DSN override")
	flags.StringVar(&c.logLevel, "log-level", "", "log level override")

	root.AddCommand(
		c.syncCommand(),
		c.runCommand(),
		c.testCommand(),
		c.clearCommand(),
		c.initCommand(),
		c.statusCommand(),
		c.migrateCommand(),
	)
	return root
}

func (c *cli) init(cmd *cobra.Command) error {
	cfg, err := app.LoadConfig(c.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Database.Driver = c.driver
	}
	if flags.Changed("dsn") {
		cfg.Database.DSN = c.dsn
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = c.logLevel
	}

	if err := app.ConfigureLogging(cfg.Log); err != nil {
		return err
	}

	rt, err := app.NewRuntime(cfg, c.runtimeOpts...)
	if err != nil {
		return err
	}
	c.rt = rt
	return nil
}

func (c *cli) syncCommand() *cobra.Command {
	var forceInitial bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a single synchronization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := c.rt.Sync(cmd.Context(), syncer.RunOptions{ForceInitial: forceInitial})
			if report.RunID != 0 {
				printReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&forceInitial, "force-initial", false, "ignore the stored watermark and fetch from the initial sync date")
	return cmd
}

func (c *cli) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run periodic synchronization with ops HTTP and gRPC health endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := c.rt.Config()
			log.WithFields(log.Fields{
				"interval":     cfg.Sync.Interval,
				"metrics_addr": cfg.Server.MetricsAddr,
				"grpc_addr":    cfg.Server.GRPCAddr,
			}).Info("starting ordersync daemon")

			err := app.Run(cmd.Context(), c.rt)
			if errors.Is(err, context.Canceled) {
				log.Info("ordersync daemon stopped")
				return nil
			}
			return err
		},
	}
}

func (c *cli) testCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Check upstream API and database connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			report := c.rt.TestConnection(cmd.Context())

			if report.APIErr != nil {
				fmt.Fprintf(out, "API connection: FAILED (%v)\n", report.APIErr)
			} else {
				fmt.Fprintf(out, "API connection: OK (version %s)\n", report.APIVersion)
			}
			if report.StorageErr != nil {
				fmt.Fprintf(out, "Database connection: FAILED (%v)\n", report.StorageErr)
			} else {
				fmt.Fprintln(out, "Database connection: OK")
			}

			if !report.OK() {
				return errors.New("connection test failed")
			}
			return nil
		},
	}
}

func (c *cli) clearCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all synchronized orders and sync history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if !yes && !confirm(cmd.InOrStdin(), out, "This will delete all synchronized data. Continue? [y/N]: ") {
				fmt.Fprintln(out, "Aborted.")
				return nil
			}
			if err := c.rt.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(out, "All synchronized data cleared.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func (c *cli) initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.rt.Init(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database schema is up to date.")
			return nil
		},
	}
}

func (c *cli) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last sync run and recently updated orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := c.rt.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func (c *cli) migrateCommand() *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:       "migrate up|down|status",
		Short:     "Apply, roll back or inspect database migrations",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{app.MigrateUp, app.MigrateDown, app.MigrateStatus},
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := c.rt.Migrate(cmd.Context(), args[0], steps)
			if err != nil {
				return err
			}
			printMigrationState(cmd.OutOrStdout(), args[0], state)
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	return cmd
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func printReport(out io.Writer, report domain.SyncReport) {
	fmt.Fprintf(out, "Run %d (%s since %s): %s\n", report.RunID, report.Mode, domain.FormatAPITime(report.Since), report.Status)
	fmt.Fprintf(out, "  fetched: %d, processed: %d, skipped: %d (parse %d, persist %d)\n",
		report.OrdersFetched, report.OrdersProcessed, report.Skipped(), report.ParseFailures, report.PersistFailures)
	fmt.Fprintf(out, "  credits: %d, replayed: %d\n", report.CreditsProcessed, report.Replayed)
	if report.Watermark != nil {
		fmt.Fprintf(out, "  watermark: %s\n", report.Watermark.Format(domain.TextTimeLayout))
	}
	if report.Err != nil {
		fmt.Fprintf(out, "  error: %v\n", report.Err)
	}
}

func printStatus(out io.Writer, status domain.StatusReport) {
	if status.LastRun == nil {
		fmt.Fprintln(out, "No sync runs recorded.")
	} else {
		run := status.LastRun
		fmt.Fprintf(out, "Last run: #%d %s %s, started %s\n", run.ID, run.Mode, run.Status, run.StartedAt.Format(domain.TextTimeLayout))
		if run.FinishedAt != nil {
			fmt.Fprintf(out, "  finished: %s (%s)\n", run.FinishedAt.Format(domain.TextTimeLayout), run.FinishedAt.Sub(run.StartedAt).Truncate(time.Millisecond))
		}
		fmt.Fprintf(out, "  fetched: %d, processed: %d, skipped: %d, credits: %d\n",
			run.OrdersFetched, run.OrdersProcessed, run.OrdersSkipped, run.CreditsProcessed)
		if run.LastOrderDate != nil {
			fmt.Fprintf(out, "  last order date: %s\n", run.LastOrderDate.Format(domain.TextTimeLayout))
		}
		if run.ErrorMessage != "" {
			fmt.Fprintf(out, "  error: %s\n", run.ErrorMessage)
		}
	}

	fmt.Fprintf(out, "Total orders: %d\n", status.TotalOrders)
	fmt.Fprintf(out, "Pending dead letters: %d\n", status.PendingLetter)
	if len(status.RecentOrders) == 0 {
		return
	}

	fmt.Fprintln(out, "Recent orders:")
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tNUMBER\tSTATUS\tTOTAL\tUPDATED")
	for _, order := range status.RecentOrders {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s %s\t%s\n",
			order.ExternalID, order.OrderNumber, order.Status, order.Total.StringFixed(2), order.Currency,
			order.LastUpdatedAt.Format(domain.TextTimeLayout))
	}
	_ = tw.Flush()
}

func printMigrationState(out io.Writer, direction string, state postgres.MigrationState) {
	fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d\n", direction, state.Version, state.Applied)
	for _, name := range state.Pending {
		fmt.Fprintf(out, "  pending: %s\n", name)
	}
}
