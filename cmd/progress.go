package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/leasebee/leasebee-cli/internal/model"
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Inspect locally saved review progress",
	Long:  "Commands for listing, viewing and clearing review progress saved on this machine.",
}

// -- progress list --

var progressListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved review progress",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		backend, err := initKV(ctx)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		ps := initProgressStore(backend)
		snaps, err := ps.List(ctx)
		if err != nil {
			return eris.Wrap(err, "progress list")
		}
		if len(snaps) == 0 {
			fmt.Fprintln(os.Stderr, "No saved progress.") //nolint:errcheck
			return nil
		}

		formatProgressList(os.Stdout, snaps, time.Now(), ps.MaxAge())
		return nil
	},
}

// -- progress show --

var progressShowCmd = &cobra.Command{
	Use:   "show <lease-id>",
	Short: "Show the saved progress for a lease",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		leaseID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "progress show: invalid lease id %q", args[0])
		}

		backend, err := initKV(ctx)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		snap, err := initProgressStore(backend).Peek(ctx, leaseID)
		if err != nil {
			return eris.Wrap(err, "progress show")
		}
		if snap == nil {
			return eris.Errorf("progress show: no saved progress for lease %d", leaseID)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

// -- progress clear --

var progressClearCmd = &cobra.Command{
	Use:   "clear <lease-id>",
	Short: "Delete the saved progress for a lease",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		leaseID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "progress clear: invalid lease id %q", args[0])
		}

		backend, err := initKV(ctx)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		initProgressStore(backend).Clear(ctx, leaseID)
		fmt.Fprintf(os.Stdout, "Cleared saved progress for lease %d.\n", leaseID) //nolint:errcheck
		return nil
	},
}

func init() {
	progressCmd.AddCommand(progressListCmd)
	progressCmd.AddCommand(progressShowCmd)
	progressCmd.AddCommand(progressClearCmd)
	rootCmd.AddCommand(progressCmd)
}

// formatProgressList writes a tabular list of snapshots to out, newest first.
// Snapshots older than maxAge are flagged as expired.
func formatProgressList(out io.Writer, snaps []model.ProgressSnapshot, now time.Time, maxAge time.Duration) {
	sorted := make([]model.ProgressSnapshot, len(snaps))
	copy(sorted, snaps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp > sorted[j].Timestamp })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LEASE\tEXTRACTION\tDECISIONS\tSAVED\tSTATE")
	for _, s := range sorted {
		state := "restorable"
		if now.Sub(s.SavedAt()) > maxAge {
			state = "expired"
		}
		_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\n",
			s.LeaseID, s.ExtractionID, len(s.Feedback),
			s.SavedAt().UTC().Format("2006-01-02 15:04"), state)
	}
	_ = w.Flush()
}
