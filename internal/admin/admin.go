// Package admin implements the codedrop-admin operator commands.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"codedrop/internal/server/app"
	"codedrop/internal/server/config"
	"codedrop/internal/server/events"
	"codedrop/internal/server/service"
)

// Execute runs the root command with configuration from the environment.
func Execute() {
	if err := NewRootCmd(config.Load).Execute(); err != nil {
		os.Exit(1)
	}
}

type env struct {
	load func() (*config.Config, error)
	cfg  *config.Config
}

// NewRootCmd builds the command tree. load supplies the configuration.
func NewRootCmd(load func() (*config.Config, error)) *cobra.Command {
	e := &env{load: load}

	root := &cobra.Command{
		Use:           "codedrop-admin",
		Short:         "Operator tools for a codedrop deployment",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.load()
			if err != nil {
				return err
			}
			app.SetupLogger(cfg)
			e.cfg = cfg
			return nil
		},
	}

	root.AddCommand(e.migrateCmd(), e.sweepCmd(), e.statsCmd())
	return root
}

// withServices opens the stores, builds the services and runs fn.
func (e *env) withServices(ctx context.Context, fn func(*app.Stores, *app.Services) error) error {
	stores, err := app.OpenStores(ctx, e.cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	svcs, err := app.NewServices(e.cfg, stores, events.Nop{}, nil)
	if err != nil {
		return err
	}
	return fn(stores, svcs)
}

func (e *env) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the metadata schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withServices(cmd.Context(), func(stores *app.Stores, _ *app.Services) error {
				if err := stores.Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", e.cfg.MetadataBackend)
				return nil
			})
		},
	}
}

func (e *env) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Purge every expired share now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withServices(cmd.Context(), func(_ *app.Stores, svcs *app.Services) error {
				n, err := svcs.Shares.SweepExpired(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired share(s)\n", n)
				return nil
			})
		},
	}
}

func (e *env) statsCmd() *cobra.Command {
	var (
		rangeName string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show usage statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := service.ParseTimeRange(rangeName)
			if err != nil {
				return err
			}
			return e.withServices(cmd.Context(), func(_ *app.Stores, svcs *app.Services) error {
				rep, err := svcs.Stats.Report(cmd.Context(), r)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(rep)
				}
				printReport(cmd.OutOrStdout(), rep)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&rangeName, "range", "r", "all", "time range: all, week or month")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printReport(out io.Writer, rep *service.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Range:\t%s\n", rep.Range)
	fmt.Fprintf(w, "Files:\t%d (%d protected)\n", rep.TotalFiles, rep.ProtectedFiles)
	fmt.Fprintf(w, "Total size:\t%s\n", humanizeBytes(rep.TotalBytes))
	fmt.Fprintf(w, "Downloads:\t%d\n", rep.TotalDownloads)
	fmt.Fprintf(w, "Storage used:\t%s, %.2f%% of %s\n", humanizeBytes(rep.StoredBytes), rep.StorageUsedPercent, humanizeBytes(rep.StorageLimit))
	if rep.ExpiredFiles > 0 {
		fmt.Fprintf(w, "Awaiting sweep:\t%d expired (%s)\n", rep.ExpiredFiles, humanizeBytes(rep.ExpiredBytes))
	}
	if rep.NearLimit {
		fmt.Fprintf(w, "Warning:\tstorage is near its limit\n")
	}
	w.Flush()

	if len(rep.PopularFiles) > 0 {
		fmt.Fprintln(out, "\nMost downloaded:")
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, f := range rep.PopularFiles {
			fmt.Fprintf(w, "  %s\t%s\t%s\t%d\n", f.ShareCode, f.FileName, humanizeBytes(f.FileSize), f.DownloadsCount)
		}
		w.Flush()
	}
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
