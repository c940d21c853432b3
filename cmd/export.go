package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/leasebee/leasebee-cli/internal/export"
	"github.com/leasebee/leasebee-cli/internal/model"
	"github.com/leasebee/leasebee-cli/internal/progress"
	"github.com/leasebee/leasebee-cli/internal/projection"
	"github.com/leasebee/leasebee-cli/pkg/leasebee"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a lease's latest extraction and review decisions to Excel",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		leaseID, _ := cmd.Flags().GetInt64("lease")
		outPath, _ := cmd.Flags().GetString("out")
		if outPath == "" {
			outPath = fmt.Sprintf("lease-%d.xlsx", leaseID)
		}

		backend, err := initKV(ctx)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		client := initClient()
		sheet, err := buildSheet(ctx, client, initProgressStore(backend), leaseID)
		if err != nil {
			return err
		}

		f, err := os.Create(outPath)
		if err != nil {
			return eris.Wrapf(err, "export: create %s", outPath)
		}
		if err := export.WriteXLSX(f, *sheet); err != nil {
			f.Close() //nolint:errcheck
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "export: close %s", outPath)
		}

		fmt.Fprintf(os.Stdout, "Wrote %d fields to %s\n", len(sheet.Fields), outPath) //nolint:errcheck
		return nil
	},
}

// buildSheet projects the latest extraction and attaches decisions. Local
// in-progress decisions win; otherwise the corrections already submitted to
// the server are used.
func buildSheet(ctx context.Context, client leasebee.Client, ps *progress.Store, leaseID int64) (*export.Sheet, error) {
	ext, err := client.GetLatestExtraction(ctx, leaseID)
	if err != nil {
		return nil, eris.Wrapf(err, "export: load extraction for lease %d", leaseID)
	}
	if ext == nil {
		return nil, eris.Errorf("export: lease %d has no extraction", leaseID)
	}

	defs, err := loadFields(ctx, client)
	if err != nil {
		return nil, err
	}

	var feedback model.FeedbackMap
	if snap := ps.Restore(ctx, leaseID, ext.ID); snap != nil {
		feedback = snap.Feedback.Clone()
	} else {
		corrections, err := client.ListCorrections(ctx, ext.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "export: load corrections for extraction %d", ext.ID)
		}
		feedback = feedbackFromCorrections(corrections)
	}

	return &export.Sheet{
		LeaseID:      leaseID,
		ExtractionID: ext.ID,
		Fields:       projection.Project(defs, ext),
		Feedback:     feedback,
	}, nil
}

// feedbackFromCorrections folds submitted corrections into decisions. Later
// corrections for the same field win.
func feedbackFromCorrections(list []model.FieldCorrection) model.FeedbackMap {
	out := make(model.FeedbackMap, len(list))
	for _, c := range list {
		fb := model.FieldFeedback{
			FieldPath: c.FieldPath,
			IsCorrect: c.CorrectionType == model.CorrectionAccept,
		}
		if c.CorrectionType == model.CorrectionEdit && c.CorrectedValue != nil {
			fb.CorrectedValue = *c.CorrectedValue
		}
		if c.Notes != nil {
			fb.Notes = *c.Notes
		}
		out[c.FieldPath] = fb
	}
	return out
}

func init() {
	exportCmd.Flags().Int64("lease", 0, "lease ID to export")
	exportCmd.Flags().String("out", "", "output file (default lease-<id>.xlsx)")
	_ = exportCmd.MarkFlagRequired("lease")
	rootCmd.AddCommand(exportCmd)
}
