package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leasebee/leasebee-cli/internal/model"
	"github.com/leasebee/leasebee-cli/internal/poller"
	"github.com/leasebee/leasebee-cli/pkg/leasebee"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow an extraction until its results are ready",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		leaseID, _ := cmd.Flags().GetInt64("lease")
		start, _ := cmd.Flags().GetBool("start")

		ext, err := watchLease(ctx, initClient(), leaseID, start, os.Stdout, pollOptions()...)
		if err != nil {
			var failed *poller.ExtractionFailedError
			if errors.As(err, &failed) {
				zap.L().Debug("extraction failed", zap.Int64("lease_id", leaseID),
					zap.String("category", string(failed.Category)), zap.String("raw", failed.Raw))
				return eris.New(failed.Message)
			}
			return err
		}
		fmt.Fprintf(os.Stdout, "Extraction %d ready. Review it with `leasebee review --lease %d`.\n", ext.ID, leaseID) //nolint:errcheck
		return nil
	},
}

func pollOptions() []poller.Option {
	return []poller.Option{
		poller.WithInterval(time.Duration(cfg.Poll.ProgressIntervalMS) * time.Millisecond),
		poller.WithStatusInterval(time.Duration(cfg.Poll.StatusIntervalMS) * time.Millisecond),
		poller.WithGrace(time.Duration(cfg.Poll.CompletionGraceMS) * time.Millisecond),
	}
}

// watchLease polls a lease until its extraction is loaded. With start set it
// first triggers a new extraction, ignoring extractions that already exist.
func watchLease(ctx context.Context, client leasebee.Client, leaseID int64, start bool, out io.Writer, opts ...poller.Option) (*model.Extraction, error) {
	if _, err := client.GetLease(ctx, leaseID); err != nil {
		return nil, eris.Wrapf(err, "watch: load lease %d", leaseID)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if start {
		latest, err := client.GetLatestExtraction(ctx, leaseID)
		if err != nil {
			return nil, eris.Wrapf(err, "watch: load extractions for lease %d", leaseID)
		}
		if latest != nil {
			opts = append(opts, poller.WithBaseline(latest.ID))
		}

		// The start call blocks for the whole run; the poller reports on it.
		go func() {
			_, err := client.StartExtraction(context.WithoutCancel(ctx), leaseID)
			if err == nil {
				return
			}
			var apiErr *leasebee.APIError
			if !errors.As(err, &apiErr) {
				// Client timeouts leave the server running; keep polling.
				zap.L().Debug("watch: start request ended early", zap.Error(err))
				return
			}
			switch apiErr.StatusCode {
			case http.StatusInternalServerError:
				// The lease is marked failed and the poller reports it.
			case http.StatusBadRequest:
				fmt.Fprintf(out, "%s; following the running extraction.\n", apiErr.Detail()) //nolint:errcheck
			default:
				cancel(eris.Wrapf(err, "watch: start extraction for lease %d", leaseID))
			}
		}()
	}

	lastStage := model.Stage("")
	opts = append(opts, poller.WithHandlers(poller.Handlers{
		OnProgress: func(d model.ProgressDetail) {
			if d.Stage != lastStage {
				lastStage = d.Stage
				if d.Tip != "" {
					fmt.Fprintf(out, "  tip: %s\n", d.Tip) //nolint:errcheck
				}
			}
			fmt.Fprintf(out, "[%3d%%] %s (%ds elapsed, ~%ds left)\n", //nolint:errcheck
				d.Percentage, d.StageDescription, d.ElapsedSeconds, d.EstimatedRemainingSeconds)
		},
		OnPhase: func(p poller.Phase) {
			if p == poller.PhaseLoading {
				fmt.Fprintln(out, "Loading results...") //nolint:errcheck
			}
		},
	}))

	ext, err := poller.New(client, leaseID, opts...).Run(ctx)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			return nil, cause
		}
		return nil, err
	}
	return ext, nil
}

func init() {
	watchCmd.Flags().Int64("lease", 0, "lease ID to watch")
	watchCmd.Flags().Bool("start", false, "start a new extraction before watching")
	_ = watchCmd.MarkFlagRequired("lease")
	rootCmd.AddCommand(watchCmd)
}
