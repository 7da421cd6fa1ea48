package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/claimwatch/claimwatch/internal/model"
)

var (
	findingsTenant string
	findingsSince  time.Duration
	findingsOutput string
)

var findingsCmd = &cobra.Command{
	Use:   "findings",
	Short: "List drift findings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		since := time.Now().UTC().Add(-findingsSince)
		findings, err := st.ListFindings(ctx, findingsTenant, since)
		if err != nil {
			return eris.Wrap(err, "list findings")
		}

		if len(findings) == 0 {
			fmt.Fprintln(os.Stderr, "No findings.")
			return nil
		}

		switch findingsOutput {
		case "json":
			return printJSON(findings)
		case "yaml":
			return yaml.NewEncoder(os.Stdout).Encode(findings)
		case "table":
			formatFindingsTable(os.Stdout, findings)
			return nil
		default:
			return eris.Errorf("unsupported output format: %s", findingsOutput)
		}
	},
}

func formatFindingsTable(w io.Writer, findings []model.DriftFinding) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tTENANT\tPAYER\tGROUP\tTYPE\tSEVERITY\tBASELINE\tCURRENT\tCLAIMS\tAMOUNT")
	for _, f := range findings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%.3f\t%.3f\t%d\t$%.2f\n",
			f.CreatedAt.Format("2006-01-02 15:04"),
			f.TenantID, f.Payer, f.ProcedureGroup,
			f.DriftType, f.Severity,
			f.Evidence.BaselineValue, f.Evidence.CurrentValue,
			f.Evidence.AffectedClaims, f.Evidence.AffectedAmountUSD,
		)
	}
	tw.Flush()
}

func init() {
	findingsCmd.Flags().StringVar(&findingsTenant, "tenant", "", "tenant to list (default all)")
	findingsCmd.Flags().DurationVar(&findingsSince, "since", 7*24*time.Hour, "lookback window")
	findingsCmd.Flags().StringVar(&findingsOutput, "output", "table", "output format: table, json, yaml")
	rootCmd.AddCommand(findingsCmd)
}
