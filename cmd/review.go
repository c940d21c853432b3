package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leasebee/leasebee-cli/internal/model"
	"github.com/leasebee/leasebee-cli/internal/projection"
	"github.com/leasebee/leasebee-cli/internal/review"
	"github.com/leasebee/leasebee-cli/internal/viewer"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review the latest extraction of a lease",
	Long:  "Loads the latest extraction for a lease and opens an interactive review. Decisions are saved locally as you go and restored if the review is interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		leaseID, _ := cmd.Flags().GetInt64("lease")
		pdfPath, _ := cmd.Flags().GetString("pdf")

		client := initClient()
		lease, err := client.GetLease(ctx, leaseID)
		if err != nil {
			return eris.Wrapf(err, "review: load lease %d", leaseID)
		}
		ext, err := client.GetLatestExtraction(ctx, leaseID)
		if err != nil {
			return eris.Wrapf(err, "review: load extraction for lease %d", leaseID)
		}
		if ext == nil {
			return eris.Errorf("review: lease %d has no extraction yet (status %s); run `leasebee watch --lease %d --start`",
				leaseID, lease.Status, leaseID)
		}

		defs, err := loadFields(ctx, client)
		if err != nil {
			return err
		}
		fields := projection.Project(defs, ext)

		backend, err := initKV(ctx)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		pages := 0
		if lease.PageCount != nil {
			pages = *lease.PageCount
		}
		if pdfPath != "" {
			n, err := viewer.PageCount(pdfPath)
			if err != nil {
				zap.L().Warn("review: page count unavailable", zap.String("pdf", pdfPath), zap.Error(err))
			} else {
				pages = n
			}
		}
		term := viewer.NewTerminal(os.Stdout, pages)
		term.SetOverlay(viewer.NewOverlay(projection.Heatmap(fields)))

		sess := review.New(initProgressStore(backend), client, term,
			review.WithDebounce(cfg.Review.Debounce()),
			review.WithConcurrency(cfg.Review.SubmitConcurrency),
		)
		// Unload signal: whatever is pending is written before exit.
		defer sess.Close()

		restored := sess.Initialize(ctx, lease.ID, ext.ID, fields)

		sh := &reviewShell{sess: sess, term: term, out: os.Stdout}
		sh.banner(lease, ext, restored)
		return sh.run(ctx, os.Stdin)
	},
}

// reviewShell is the line-oriented review loop.
type reviewShell struct {
	sess *review.Session
	term *viewer.Terminal
	out  io.Writer
}

func (sh *reviewShell) printf(format string, args ...any) {
	fmt.Fprintf(sh.out, format, args...) //nolint:errcheck
}

func (sh *reviewShell) banner(lease *model.Lease, ext *model.Extraction, restored bool) {
	sum := projection.Summarize(sh.sess.Fields())
	sh.printf("Lease %d (%s), extraction %d\n", lease.ID, lease.OriginalFilename, ext.ID)
	sh.printf("%d fields with values, avg confidence %.0f%%, %d below %.0f%%\n",
		sum.Count, sum.Average*100, sum.LowConfidence, projection.LowConfidenceThreshold*100)
	if restored {
		sh.printf("Restored %d saved decisions. Type 'discard' to start over.\n", len(sh.sess.Feedback()))
	}
	sh.printf("Type 'help' for commands.\n")
}

// run reads commands until quit, EOF or ctx is done.
func (sh *reviewShell) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		sh.printf("> ")
		select {
		case <-ctx.Done():
			sh.printf("\n")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if sh.exec(ctx, line) {
				return nil
			}
		}
	}
}

// exec runs one command and reports whether the shell should exit.
func (sh *reviewShell) exec(ctx context.Context, line string) bool {
	cmd, rest := splitCommand(line)
	path, arg := splitCommand(rest)

	var err error
	switch cmd {
	case "":
	case "help", "?":
		sh.help()
	case "list", "ls":
		sh.list()
	case "show":
		err = sh.show(path)
	case "select":
		err = sh.sess.SelectField(path)
	case "accept":
		err = sh.sess.Accept(path)
	case "reject":
		err = sh.sess.Reject(path)
	case "edit":
		if arg == "" {
			err = eris.New("usage: edit <path> <value>")
			break
		}
		err = sh.sess.Edit(path, arg)
	case "note":
		err = sh.sess.Annotate(path, arg)
	case "accept-all":
		sh.sess.AcceptAll()
	case "reject-all":
		sh.sess.RejectAll()
	case "discard":
		sh.sess.DiscardRestored(ctx)
		sh.printf("Saved progress discarded.\n")
	case "page":
		n, convErr := strconv.Atoi(path)
		if convErr != nil {
			err = eris.New("usage: page <n>")
			break
		}
		sh.term.ScrollToPage(n)
	case "status":
		sh.status()
	case "submit":
		err = sh.submit(ctx)
	case "quit", "exit", "q":
		return true
	default:
		err = eris.Errorf("unknown command %q (try 'help')", cmd)
	}

	if err != nil {
		sh.printf("error: %s\n", friendly(err))
	}
	return false
}

func (sh *reviewShell) help() {
	sh.printf(`Commands:
  list                   list fields with value, confidence and decision
  show <path>            show a field's reasoning and citation
  select <path>          jump to a field's citation
  accept <path>          mark a field correct
  reject <path>          mark a field incorrect
  edit <path> <value>    replace a field's value
  note <path> <text>     attach notes to a decision
  accept-all             mark every field correct (overwrites edits and notes)
  reject-all             mark every field incorrect (overwrites edits and notes)
  discard                drop all decisions and the saved progress
  page <n>               go to a page
  status                 show review completeness
  submit                 send all decisions once every field has one
  quit                   save and exit
`)
}

func (sh *reviewShell) list() {
	formatFieldList(sh.out, sh.sess.Fields(), sh.sess.Feedback(), sh.sess.Active())
}

func (sh *reviewShell) show(path string) error {
	f, ok := sh.sess.Field(path)
	if !ok {
		return eris.Wrapf(review.ErrUnknownField, "show %q", path)
	}
	sh.printf("%s (%s)\n", f.Label, f.Path)
	sh.printf("  category:   %s\n", f.Category)
	sh.printf("  value:      %s\n", displayValue(f.Value))
	sh.printf("  confidence: %.0f%% (%s)\n", f.Confidence*100, viewer.Band(f.Confidence))
	if f.Reasoning != "" {
		sh.printf("  reasoning:  %s\n", f.Reasoning)
	}
	if f.Citation != nil {
		sh.printf("  citation:   page %d: %q\n", f.Citation.Page, f.Citation.Quote)
	}
	if fb, ok := sh.sess.Feedback()[path]; ok {
		sh.printf("  decision:   %s\n", fb.CorrectionType())
		if fb.HasCorrection() {
			sh.printf("  corrected:  %s\n", displayValue(fb.CorrectedValue))
		}
		if fb.Notes != "" {
			sh.printf("  notes:      %s\n", fb.Notes)
		}
	}
	return nil
}

func (sh *reviewShell) status() {
	fields := sh.sess.Fields()
	fb := sh.sess.Feedback()
	sh.printf("%d of %d fields reviewed", len(fb), len(fields))
	if sh.sess.Complete() {
		sh.printf(" (complete)")
	}
	if sh.sess.Pending() {
		sh.printf(", saving")
	}
	sh.printf("\n")
}

func (sh *reviewShell) submit(ctx context.Context) error {
	n := len(sh.sess.Feedback())
	if n > 0 && !sh.sess.Complete() {
		total := len(sh.sess.Fields())
		return eris.Errorf("%d of %d fields still need a decision (see 'list')", total-n, total)
	}
	if err := sh.sess.Submit(ctx); err != nil {
		return err
	}
	sh.printf("Submitted %d corrections.\n", n)
	return nil
}

// friendly trims wrapped errors down to what a reviewer can act on.
func friendly(err error) string {
	var se *review.SubmitError
	switch {
	case errors.As(err, &se):
		sort.Strings(se.Failed)
		return fmt.Sprintf("%d of %d corrections failed (%s); your decisions are kept, run submit again",
			len(se.Failed), se.Total, strings.Join(se.Failed, ", "))
	case errors.Is(err, review.ErrNothingToSubmit):
		return "nothing to submit"
	case errors.Is(err, review.ErrUnknownField):
		return "unknown field: " + err.Error()
	case errors.Is(err, review.ErrNoDecision):
		return "accept, reject or edit the field before adding notes"
	default:
		return err.Error()
	}
}

// formatFieldList writes a tabular view of fields and their decisions to out.
func formatFieldList(out io.Writer, fields []model.FieldValue, fb model.FeedbackMap, active string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, " \tPATH\tVALUE\tCONF\tDECISION")
	for _, f := range fields {
		mark := " "
		if f.Path == active {
			mark = "*"
		}
		decision := "-"
		if d, ok := fb[f.Path]; ok {
			decision = string(d.CorrectionType())
		}
		conf := "-"
		if f.HasValue() {
			conf = fmt.Sprintf("%.0f%% %s", f.Confidence*100, viewer.Band(f.Confidence))
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", mark, f.Path, truncate(displayValue(f.Value), 40), conf, decision)
	}
	_ = w.Flush()
}

func displayValue(v any) string {
	s := model.Stringify(v)
	if s == nil {
		return "(none)"
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func splitCommand(s string) (string, string) {
	s = strings.TrimSpace(s)
	head, tail, _ := strings.Cut(s, " ")
	return head, strings.TrimSpace(tail)
}

func init() {
	reviewCmd.Flags().Int64("lease", 0, "lease ID to review")
	reviewCmd.Flags().String("pdf", "", "local copy of the lease PDF (for page bounds)")
	_ = reviewCmd.MarkFlagRequired("lease")
	rootCmd.AddCommand(reviewCmd)
}
