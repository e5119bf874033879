package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/osvaldoandrade/domainscan/internal/tracker"
	"github.com/osvaldoandrade/domainscan/pkg/analysisapi"
	"github.com/osvaldoandrade/domainscan/pkg/domain"
)

func scanCmd(s *settings, ui *ui) *cobra.Command {
	var (
		file     string
		saveName string
		asJSON   bool
		view     tableOptions
	)
	cmd := &cobra.Command{
		Use:     "scan [domains...]",
		Short:   "Submit domains and follow the task to completion",
		Example: "domainscan scan example.com expired-domain.org --save weekly",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readDomains(args, file, os.Stdin)
			if err != nil {
				return err
			}
			api, err := s.api()
			if err != nil {
				return err
			}
			tr := s.tracker(api)
			defer tr.Close()
			updates, unsubscribe := tr.Subscribe()
			defer unsubscribe()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			spin := newSpinner(" Submitting domains...")
			st, err := tr.Submit(ctx, text)
			spin.Stop()
			if err != nil {
				return describeError(err)
			}
			fmt.Printf("%s Task %s created for %d domains\n", ui.ok("[OK]"), st.TaskID, len(st.Domains))
			if st.Degraded {
				fmt.Printf("%s The service returned no task id; tracking a local placeholder\n", ui.warn("[WARN]"))
			}

			final, finished := follow(ctx, tr, updates, st.Generation, ui)
			if !finished {
				return nil
			}
			if err := finishView(final, view, asJSON, ui); err != nil {
				return err
			}
			if saveName != "" {
				return saveReport(cmd.Context(), api, final, saveName, ui)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read domains from a file, one per line (- for stdin)")
	cmd.Flags().StringVar(&saveName, "save", "", "Save the results as a named report")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	bindTableFlags(cmd, &view)
	return cmd
}

func taskCmd(s *settings, ui *ui) *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Inspect a single task",
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show the task status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := s.api()
			if err != nil {
				return err
			}
			spin := newSpinner(" Fetching task...")
			t, err := api.GetTask(cmd.Context(), args[0])
			spin.Stop()
			if err != nil {
				return describeError(err)
			}
			printTask(os.Stdout, t, ui)
			return nil
		},
	}

	var (
		asJSON bool
		view   tableOptions
	)
	results := &cobra.Command{
		Use:   "results <id>",
		Short: "Show the results of a completed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := s.api()
			if err != nil {
				return err
			}
			spin := newSpinner(" Fetching results...")
			res, err := api.GetResults(cmd.Context(), args[0])
			spin.Stop()
			if err != nil {
				return describeError(err)
			}
			return printResults(os.Stdout, res, view, asJSON, ui)
		},
	}
	results.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	bindTableFlags(results, &view)

	var (
		watchJSON bool
		watchView tableOptions
	)
	watch := &cobra.Command{
		Use:   "watch <id>",
		Short: "Follow an existing task to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := s.api()
			if err != nil {
				return err
			}
			tr := s.tracker(api)
			defer tr.Close()
			updates, unsubscribe := tr.Subscribe()
			defer unsubscribe()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			st, err := tr.Watch(args[0])
			if err != nil {
				return describeError(err)
			}
			final, finished := follow(ctx, tr, updates, st.Generation, ui)
			if !finished {
				return nil
			}
			return finishView(final, watchView, watchJSON, ui)
		},
	}
	watch.Flags().BoolVar(&watchJSON, "json", false, "Print results as JSON")
	bindTableFlags(watch, &watchView)

	task.AddCommand(get, results, watch)
	return task
}

func tasksCmd(s *settings, ui *ui) *cobra.Command {
	var (
		page     int
		pageSize int
	)
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Task listing",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks known to the service",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := s.api()
			if err != nil {
				return err
			}
			spin := newSpinner(" Listing tasks...")
			out, err := api.ListTasks(cmd.Context(), page, pageSize)
			spin.Stop()
			if err != nil {
				return describeError(err)
			}
			if len(out.Items) == 0 {
				fmt.Printf("%s No tasks\n", ui.info("[INFO]"))
				return nil
			}
			if err := renderTasks(os.Stdout, out.Items); err != nil {
				return err
			}
			fmt.Printf("%s page %d, %d of %d\n", ui.dim("•"), out.Page, len(out.Items), out.Total)
			return nil
		},
	}
	list.Flags().IntVar(&page, "page", 1, "Page number")
	list.Flags().IntVar(&pageSize, "page-size", 20, "Tasks per page")
	cmd.AddCommand(list)
	return cmd
}

// follow renders progress for generation gen until it is terminal. It
// returns false when the user interrupted or the tracker closed.
func follow(ctx context.Context, tr *tracker.Tracker, updates <-chan tracker.State, gen uint64, ui *ui) (tracker.State, bool) {
	p := newProgress()
	defer p.finish()
	for {
		select {
		case <-ctx.Done():
			st := tr.Cancel()
			p.finish()
			fmt.Printf("%s Stopped watching task %s; it keeps running on the service\n", ui.warn("[WARN]"), st.TaskID)
			return st, false
		case st, ok := <-updates:
			if !ok {
				return tr.Snapshot(), false
			}
			if st.Generation != gen {
				continue
			}
			p.update(st)
			if st.Phase.IsTerminal() {
				return st, true
			}
		}
	}
}

func finishView(st tracker.State, view tableOptions, asJSON bool, ui *ui) error {
	if st.Phase == tracker.PhaseFailed {
		return describeError(st.Err)
	}
	fmt.Printf("%s Task %s completed with %d results\n", ui.ok("[OK]"), st.TaskID, len(st.Results))
	return printResults(os.Stdout, st.Results, view, asJSON, ui)
}

func saveReport(ctx context.Context, api analysisapi.API, st tracker.State, name string, ui *ui) error {
	if st.Degraded {
		fmt.Printf("%s Task id is a local placeholder; the service cannot store this report\n", ui.warn("[WARN]"))
		return nil
	}
	spin := newSpinner(" Saving report...")
	id, err := api.SaveReport(ctx, analysisapi.ReportRequest{
		TaskID:  st.TaskID,
		Name:    name,
		Domains: st.Domains,
		Results: st.Results,
	})
	spin.Stop()
	if err != nil {
		return fmt.Errorf("save report: %w", describeError(err))
	}
	fmt.Printf("%s Report '%s' saved as %s\n", ui.ok("[OK]"), name, id)
	return nil
}

// readDomains joins positional arguments and the optional file into the
// newline separated text the submitter parses.
func readDomains(args []string, file string, stdin io.Reader) (string, error) {
	var parts []string
	parts = append(parts, args...)
	switch file {
	case "":
	case "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		parts = append(parts, string(b))
	default:
		b, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		parts = append(parts, string(b))
	}
	text := strings.Join(parts, "\n")
	if strings.TrimSpace(text) == "" {
		return "", errors.New("no domains given (pass them as arguments or with --file)")
	}
	return text, nil
}

// describeError turns the error taxonomy into a single actionable line.
func describeError(err error) error {
	var (
		verr *domain.ValidationError
		cerr *domain.CreationError
		perr *domain.PollingTransportError
		ferr *domain.TaskFailedError
		herr *analysisapi.HTTPError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &verr):
		return fmt.Errorf("invalid input: %s", verr.Error())
	case errors.As(err, &cerr):
		return cerr
	case errors.As(err, &perr):
		return fmt.Errorf("%w (check the service with `domainscan task get %s`)", perr, perr.TaskID)
	case errors.As(err, &ferr):
		return ferr
	case errors.As(err, &herr):
		return fmt.Errorf("service answered %d: %s", herr.StatusCode, herr.Detail)
	default:
		return err
	}
}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func newSpinner(suffix string) *spinner.Spinner {
	spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(os.Stderr))
	spin.Suffix = suffix
	if isInteractive() {
		spin.Start()
	}
	return spin
}

// progress shows a bar once the service reports a domain total and a
// spinner while the total is unknown.
type progress struct {
	interactive bool
	spin        *spinner.Spinner
	bar         *progressbar.ProgressBar
	lastStatus  domain.TaskStatus
}

func newProgress() *progress {
	return &progress{interactive: isInteractive()}
}

func (p *progress) update(st tracker.State) {
	if st.Task == nil {
		return
	}
	if !p.interactive {
		if st.Task.Status != p.lastStatus {
			fmt.Fprintf(os.Stderr, "%s %s\n", time.Now().Format("15:04:05"), describeProgress(st))
			p.lastStatus = st.Task.Status
		}
		return
	}
	prog := st.Task.Progress
	if prog == nil || prog.Total <= 0 {
		if p.spin == nil {
			p.spin = newSpinner("")
		}
		p.spin.Suffix = " " + describeProgress(st)
		return
	}
	if p.spin != nil {
		p.spin.Stop()
		p.spin = nil
	}
	if p.bar == nil {
		p.bar = progressbar.NewOptions(prog.Total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetWidth(24),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	if p.bar.GetMax() != prog.Total {
		p.bar.ChangeMax(prog.Total)
	}
	p.bar.Describe(describeProgress(st))
	_ = p.bar.Set(prog.Current)
}

func (p *progress) finish() {
	if p.spin != nil {
		p.spin.Stop()
		p.spin = nil
	}
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}

func describeProgress(st tracker.State) string {
	if st.Task == nil {
		return string(st.Phase)
	}
	out := string(st.Task.Status)
	if pct, ok := st.Percent(); ok {
		out += fmt.Sprintf(" %.0f%%", pct)
	}
	if st.Task.CurrentDomain != "" {
		out += " " + st.Task.CurrentDomain
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
