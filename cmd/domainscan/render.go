package main

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/osvaldoandrade/domainscan/pkg/domain"
)

type tableOptions struct {
	filter domain.ResultFilter
	sortBy string
	desc   bool
	limit  int
}

type column struct {
	header string
	key    string
	alias  string
}

// resultColumns are the metrics shown in the results table, in order.
var resultColumns = []column{
	{header: "SNAPSHOTS", key: "total_snapshots", alias: "snapshots"},
	{header: "YEARS", key: "years_covered", alias: "years"},
	{header: "AVG INTERVAL", key: "avg_interval_days", alias: "interval"},
	{header: "MAX GAP", key: "max_gap_days", alias: "gap"},
	{header: "TIMEMAP", key: "timemap_count", alias: "timemap"},
	{header: "SCORE", key: "assessment_score", alias: "score"},
}

func bindTableFlags(cmd *cobra.Command, o *tableOptions) {
	f := cmd.Flags()
	f.Float64Var(&o.filter.MinSnapshots, "min-snapshots", 0, "Hide results with fewer snapshots")
	f.Float64Var(&o.filter.MinYears, "min-years", 0, "Hide results covering fewer years")
	f.Float64Var(&o.filter.MaxAvgInterval, "max-interval", 0, "Hide results with a longer average snapshot interval (days)")
	f.Float64Var(&o.filter.MaxGap, "max-gap", 0, "Hide results with a longer snapshot gap (days)")
	f.Float64Var(&o.filter.MinTimemap, "min-timemap", 0, "Hide results with a smaller timemap")
	f.BoolVar(&o.filter.RecommendedOnly, "recommended", false, "Only recommended domains")
	f.BoolVar(&o.filter.LongLiveOnly, "long-live", false, "Only long-lived domains")
	f.StringVar(&o.sortBy, "sort", "", "Sort by domain, snapshots, years, interval, gap, timemap or score")
	f.BoolVar(&o.desc, "desc", false, "Sort descending")
	f.IntVar(&o.limit, "limit", 0, "Show at most this many rows")
}

// sortKey resolves a --sort value to a result field; "" means domain name.
func sortKey(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "", "domain", "name":
		return "", nil
	}
	for _, c := range resultColumns {
		if name == c.alias || name == c.key {
			return c.key, nil
		}
	}
	return "", fmt.Errorf("unknown sort field %q", name)
}

// sortResults orders results by a metric. Results missing the metric sort
// last in either direction.
func sortResults(results []domain.AnalysisResult, by string, desc bool) ([]domain.AnalysisResult, error) {
	key, err := sortKey(by)
	if err != nil {
		return nil, err
	}
	out := append([]domain.AnalysisResult(nil), results...)
	if by == "" {
		return out, nil
	}
	sort.SliceStable(out, func(i, j int) bool {
		if key == "" {
			if desc {
				return out[i].DomainName > out[j].DomainName
			}
			return out[i].DomainName < out[j].DomainName
		}
		a, okA := out[i].Float(key)
		b, okB := out[j].Float(key)
		switch {
		case okA && !okB:
			return true
		case !okA:
			return false
		case desc:
			return a > b
		default:
			return a < b
		}
	})
	return out, nil
}

func printResults(w io.Writer, results []domain.AnalysisResult, o tableOptions, asJSON bool, ui *ui) error {
	shown := o.filter.Apply(results)
	shown, err := sortResults(shown, o.sortBy, o.desc)
	if err != nil {
		return err
	}
	if o.limit > 0 && len(shown) > o.limit {
		shown = shown[:o.limit]
	}
	if asJSON {
		return printJSON(w, shown)
	}
	if len(shown) == 0 {
		fmt.Fprintf(w, "%s No results to show (%d hidden by filters)\n", ui.info("[INFO]"), len(results))
		return nil
	}
	if err := renderResults(w, shown); err != nil {
		return err
	}
	if hidden := len(results) - len(shown); hidden > 0 {
		fmt.Fprintf(w, "%s %d of %d results shown\n", ui.dim("•"), len(shown), len(results))
	}
	return nil
}

func renderResults(w io.Writer, results []domain.AnalysisResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	headers := []string{"DOMAIN"}
	for _, c := range resultColumns {
		headers = append(headers, c.header)
	}
	headers = append(headers, "LONG-LIVE")
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, r := range results {
		row := []string{r.DomainName}
		for _, c := range resultColumns {
			row = append(row, formatMetric(r, c.key))
		}
		longLive := "no"
		if domain.IsLongLive(r) {
			longLive = "yes"
		}
		row = append(row, longLive)
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func formatMetric(r domain.AnalysisResult, key string) string {
	if v, ok := r.Float(key); ok {
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	if s, ok := r.String(key); ok && s != "" {
		return s
	}
	return "-"
}

func renderTasks(w io.Writer, tasks []domain.AnalysisTask) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tMESSAGE")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Status, formatProgress(t.Progress), t.Message)
	}
	return tw.Flush()
}

func renderReports(w io.Writer, reports []domain.Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTASK\tDOMAINS\tCREATED")
	for _, r := range reports {
		created := "-"
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", firstNonEmpty(r.RemoteID, r.ID), r.Name, r.TaskID, len(r.Domains), created)
	}
	return tw.Flush()
}

func formatProgress(p *domain.Progress) string {
	if p == nil {
		return "-"
	}
	if pct, ok := p.Percent(); ok {
		return fmt.Sprintf("%d/%d (%.0f%%)", p.Current, p.Total, pct)
	}
	return fmt.Sprintf("%d/?", p.Current)
}

func printTask(w io.Writer, t domain.AnalysisTask, ui *ui) {
	status := string(t.Status)
	switch t.Status {
	case domain.StatusCompleted:
		status = ui.ok(status)
	case domain.StatusFailed:
		status = ui.err(status)
	default:
		status = ui.info(status)
	}
	fmt.Fprintf(w, "%s Task:     %s\n", ui.info("•"), t.ID)
	fmt.Fprintf(w, "%s Status:   %s\n", ui.info("•"), status)
	fmt.Fprintf(w, "%s Progress: %s\n", ui.info("•"), formatProgress(t.Progress))
	if t.CurrentDomain != "" {
		fmt.Fprintf(w, "%s Current:  %s\n", ui.info("•"), t.CurrentDomain)
	}
	if t.Message != "" {
		fmt.Fprintf(w, "%s Message:  %s\n", ui.info("•"), t.Message)
	}
}
