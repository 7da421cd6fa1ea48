package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/claimwatch/claimwatch/internal/model"
)

var (
	baselinesTenant string
	baselinesOutput string
)

var baselinesCmd = &cobra.Command{
	Use:   "baselines",
	Short: "List stored baselines for a tenant",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if baselinesTenant == "" {
			return eris.New("--tenant is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		baselines, err := st.ListBaselines(ctx, baselinesTenant)
		if err != nil {
			return eris.Wrap(err, "list baselines")
		}

		if len(baselines) == 0 {
			fmt.Fprintln(os.Stderr, "No baselines.")
			return nil
		}

		switch baselinesOutput {
		case "json":
			return printJSON(baselines)
		case "yaml":
			return yaml.NewEncoder(os.Stdout).Encode(baselines)
		case "table":
			formatBaselinesTable(os.Stdout, baselines)
			return nil
		default:
			return eris.Errorf("unsupported output format: %s", baselinesOutput)
		}
	},
}

func formatBaselinesTable(w io.Writer, baselines []model.Baseline) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PAYER\tGROUP\tDENIAL RATE\tLATENCY (DAYS)\tSAMPLE\tCONFIDENCE\tCOMPUTED")
	for _, b := range baselines {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.1f\t%d\t%s\t%s\n",
			b.Payer, b.ProcedureGroup,
			b.DenialRate, b.MeanDecisionLatencyDays,
			b.SampleSize, b.ConfidenceTier,
			b.ComputedAt.Format("2006-01-02"),
		)
	}
	tw.Flush()
}

func init() {
	baselinesCmd.Flags().StringVar(&baselinesTenant, "tenant", "", "tenant to list")
	baselinesCmd.Flags().StringVar(&baselinesOutput, "output", "table", "output format: table, json, yaml")
	rootCmd.AddCommand(baselinesCmd)
}
