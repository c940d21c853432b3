package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/leasebee/leasebee-cli/internal/model"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how often reviewers accept extracted values",
	Long:  "Prints overall review accuracy and the fields reviewers correct most, weakest first.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		client := initClient()
		m, err := client.GetAccuracyMetrics(ctx)
		if err != nil {
			return eris.Wrap(err, "stats")
		}
		fields, err := client.GetFieldAccuracy(ctx)
		if err != nil {
			return eris.Wrap(err, "stats")
		}

		formatMetrics(os.Stdout, m)
		if len(fields) == 0 {
			fmt.Fprintln(os.Stderr, "No corrections submitted yet.") //nolint:errcheck
			return nil
		}
		fmt.Fprintln(os.Stdout) //nolint:errcheck
		formatFieldAccuracy(os.Stdout, fields, limit)
		return nil
	},
}

func init() {
	statsCmd.Flags().Int("limit", 20, "max fields to list (0 for all)")
	rootCmd.AddCommand(statsCmd)
}

func formatMetrics(out io.Writer, m *model.AccuracyMetrics) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Accuracy:\t%.1f%% (%s)\n", m.OverallAccuracy*100, m.Trend)
	_, _ = fmt.Fprintf(w, "Corrections:\t%d\n", m.TotalCorrections)
	_, _ = fmt.Fprintf(w, "Extractions:\t%d\n", m.TotalExtractions)
	_, _ = fmt.Fprintf(w, "Avg confidence:\t%.1f%%\n", m.AvgConfidence*100)
	_ = w.Flush()
}

// formatFieldAccuracy writes up to limit fields in the order given.
func formatFieldAccuracy(out io.Writer, fields []model.FieldAccuracy, limit int) {
	if limit > 0 && len(fields) > limit {
		fields = fields[:limit]
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FIELD\tACCURACY\tCORRECTIONS\tAVG CONFIDENCE")
	for _, f := range fields {
		_, _ = fmt.Fprintf(w, "%s\t%.0f%%\t%d\t%.0f%%\n", f.Field, f.Accuracy*100, f.Corrections, f.AvgConfidence*100)
	}
	_ = w.Flush()
}
