package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/zwartekraai/dealsync/internal/config"
	"github.com/zwartekraai/dealsync/internal/model"
	"github.com/zwartekraai/dealsync/internal/reconcile"
	"github.com/zwartekraai/dealsync/pkg/hubspot"
	"github.com/zwartekraai/dealsync/pkg/multipress"
)

const maxPrintedErrors = 5

var (
	syncExecute bool
	syncStage   string
	syncJSON    bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass",
	Long: `Run one reconciliation pass against HubSpot and MultiPress.

By default this is a dry run: every decision is computed and reported, but no
deal is moved and no task is deleted. Pass --execute to apply the changes.
The default --stage voorstel only covers the "Voorstel verstuurd" stage;
--stage all covers every active pipeline stage.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("sync"); err != nil {
			return err
		}
		scope, err := reconcile.ParseScope(syncStage)
		if err != nil {
			return err
		}

		engine, err := buildEngine(cfg)
		if err != nil {
			return err
		}

		report, err := engine.Run(ctx, reconcile.RunOpts{Scope: scope, DryRun: !syncExecute})
		if err != nil {
			return eris.Wrap(err, "sync")
		}

		if syncJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		formatReport(os.Stdout, report)
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncExecute, "execute", false, "apply changes instead of the default dry run")
	syncCmd.Flags().StringVar(&syncStage, "stage", "voorstel", "stage scope: all or voorstel")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "print the report as JSON instead of a summary")
	rootCmd.AddCommand(syncCmd)
}

// buildEngine wires the API clients and mapping tables from configuration.
// Shared with the serve command.
func buildEngine(cfg *config.Config) (*reconcile.Engine, error) {
	mapping, err := reconcile.LoadMapping(cfg.Sync.MappingFile)
	if err != nil {
		return nil, err
	}

	hs := hubspot.NewClient(cfg.HubSpot.APIKey,
		hubspot.WithBaseURL(cfg.HubSpot.BaseURL),
		hubspot.WithRateLimit(cfg.HubSpot.RequestsPerSec),
	)

	mpOpts := []multipress.Option{
		multipress.WithTimeout(time.Duration(cfg.MultiPress.TimeoutSecs) * time.Second),
	}
	if cfg.MultiPress.InsecureSkipVerify {
		mpOpts = append(mpOpts, multipress.WithInsecureTLS())
	}
	mp := multipress.NewClient(cfg.MultiPress.BaseURL, cfg.MultiPress.Username, cfg.MultiPress.Password, mpOpts...)

	return reconcile.New(cfg, mapping, hs, mp), nil
}

// formatReport writes the human-readable run summary.
func formatReport(out io.Writer, r *model.Report) {
	mode := "live"
	if r.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(out, "Reconciliation %s (%s, %s)\n\n",
		r.RunID, mode, r.Finished.Sub(r.Started).Round(time.Millisecond))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Deals checked\t%d\n", r.DealsChecked)
	fmt.Fprintf(w, "No quotation number\t%d\n", r.NoQuotationNumber)
	fmt.Fprintf(w, "Lookup errors\t%d\n", r.APIErrors)
	fmt.Fprintf(w, "Unchanged\t%d\n", r.Unchanged)
	fmt.Fprintf(w, "Won\t%d\n", r.Won)
	fmt.Fprintf(w, "Lost\t%d\n", r.Lost)
	fmt.Fprintf(w, "Tasks deleted\t%d\n", r.TasksDeleted)
	if r.WriteErrors > 0 {
		fmt.Fprintf(w, "Write errors\t%d\n", r.WriteErrors)
	}
	w.Flush()

	for _, d := range r.WonDetails {
		fmt.Fprintf(out, "  won:  #%s %s (uit %s)\n", d.QuotationNumber, d.Company, d.FromStage)
	}
	for _, d := range r.LostDetails {
		fmt.Fprintf(out, "  lost: #%s %s [%s] (uit %s)\n", d.QuotationNumber, d.Company, d.Status, d.FromStage)
	}

	if len(r.Errors) > 0 {
		if len(r.Errors) > maxPrintedErrors {
			fmt.Fprintf(out, "\nLookup errors (first %d):\n", maxPrintedErrors)
		} else {
			fmt.Fprintln(out, "\nLookup errors:")
		}
		for i, e := range r.Errors {
			if i == maxPrintedErrors {
				fmt.Fprintf(out, "  ... and %d more\n", len(r.Errors)-maxPrintedErrors)
				break
			}
			fmt.Fprintf(out, "  #%s (%s): %s\n", e.QuotationNumber, e.DealName, e.Error)
		}
	}

	if r.DryRun {
		fmt.Fprintln(out, "\nDry run only. Re-run with --execute to apply these changes.")
	}
}
