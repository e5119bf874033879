package analysisapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/osvaldoandrade/domainscan/internal/normalize"
	"github.com/osvaldoandrade/domainscan/pkg/domain"
)

// Common implements the endpoints every contract version shares. Version
// clients embed it.
type Common struct {
	*Client
}

func (c Common) GetTask(ctx context.Context, id string) (domain.AnalysisTask, error) {
	v, err := c.Call(ctx, "get_task", http.MethodGet, "/analysis/tasks/"+PathID(id), nil)
	if err != nil {
		return domain.AnalysisTask{}, err
	}
	if v.Data == nil {
		return domain.AnalysisTask{}, &domain.MalformedResponseError{Reason: "empty task status body"}
	}
	task, tr := normalize.Task(v)
	c.Note("get_task", "status", tr)
	if task.ID == "" {
		task.ID = id
	}
	return task, nil
}

// Results fetches a result list from path and normalizes it. A 2xx body
// that is not JSON degrades to an empty list with a warning; the task status
// is already known at this point.
func (c Common) Results(ctx context.Context, op, path string) ([]domain.AnalysisResult, error) {
	v, err := c.Call(ctx, op, http.MethodGet, path, nil)
	var malformed *domain.MalformedResponseError
	if errors.As(err, &malformed) {
		res, tr := normalize.Results(normalize.Value{})
		tr.Warnings = append([]string{malformed.Error()}, tr.Warnings...)
		c.Note(op, "results", tr)
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	res, tr := normalize.Results(v)
	c.Note(op, "results", tr)
	return res, nil
}

func (c Common) SaveReport(ctx context.Context, req ReportRequest) (string, error) {
	domains := req.Domains
	if len(domains) == 0 {
		domains = domain.ResultDomains(req.Results)
	}
	body := map[string]any{
		"task_id": req.TaskID,
		"domains": strings.Join(domains, ","),
		"results": req.Results,
	}
	if req.Name != "" {
		body["name"] = req.Name
	}
	v, err := c.Call(ctx, "save_report", http.MethodPost, "/reports/", body)
	if err != nil {
		return "", err
	}
	id, ok := normalize.LookupString(v, "report_id", "reportId", "id")
	if !ok {
		return "", &domain.MalformedResponseError{Reason: "save report response carried no report id"}
	}
	return id, nil
}

func (c Common) ListReports(ctx context.Context) ([]domain.Report, error) {
	v, err := c.Call(ctx, "list_reports", http.MethodGet, "/reports/", nil)
	if err != nil {
		return nil, err
	}
	items, _ := normalize.Items(v, "items", "reports")
	out := make([]domain.Report, 0, len(items))
	for _, m := range items {
		out = append(out, reportFromMap(m))
	}
	return out, nil
}

func (c Common) GetReport(ctx context.Context, id string) (domain.Report, error) {
	v, err := c.Call(ctx, "get_report", http.MethodGet, "/reports/"+PathID(id), nil)
	if err != nil {
		return domain.Report{}, err
	}
	m, ok := v.Object()
	if !ok {
		return domain.Report{}, &domain.MalformedResponseError{Reason: "report is not an object"}
	}
	if inner, ok := m["data"].(map[string]any); ok {
		m = inner
	}
	r := reportFromMap(m)
	if r.RemoteID == "" {
		r.RemoteID = id
	}
	return r, nil
}

func (c Common) ListTasks(ctx context.Context, page, pageSize int) (TaskPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	path := fmt.Sprintf("/analysis?page=%d&page_size=%d", page, pageSize)
	v, err := c.Call(ctx, "list_tasks", http.MethodGet, path, nil)
	if err != nil {
		return TaskPage{}, err
	}
	items, _ := normalize.Items(v, "items", "tasks")
	out := TaskPage{Page: page, PageSize: pageSize, Items: make([]domain.AnalysisTask, 0, len(items))}
	for _, m := range items {
		task, _ := normalize.Task(normalize.FromAny(m))
		out.Items = append(out.Items, task)
	}
	out.Total = len(out.Items)
	if f, ok := normalize.Lookup(v, "total", "count"); ok {
		if n, ok := f.(float64); ok {
			out.Total = int(n)
		}
	}
	return out, nil
}

// HealthTimeout bounds the availability check regardless of Options.Timeout.
const HealthTimeout = 5 * time.Second

// Health requests the API root. Any 2xx answer counts as healthy.
func (c Common) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()
	_, err := c.Call(ctx, "health", http.MethodGet, "", nil)
	return err
}

func reportFromMap(m map[string]any) domain.Report {
	v := normalize.FromAny(m)
	r := domain.Report{}
	r.RemoteID, _ = normalize.LookupString(v, "report_id", "reportId", "id")
	r.ID = r.RemoteID
	if s, ok := m["name"].(string); ok {
		r.Name = s
	}
	r.TaskID, _ = normalize.LookupString(v, "task_id", "taskId")
	switch d := m["domains"].(type) {
	case string:
		for _, part := range strings.Split(d, ",") {
			if part = strings.TrimSpace(part); part != "" {
				r.Domains = append(r.Domains, part)
			}
		}
	case []any:
		for _, part := range d {
			if s, ok := part.(string); ok && strings.TrimSpace(s) != "" {
				r.Domains = append(r.Domains, strings.TrimSpace(s))
			}
		}
	}
	if _, ok := m["results"]; ok {
		r.Results, _ = normalize.Results(v)
	}
	if len(r.Domains) == 0 {
		r.Domains = domain.ResultDomains(r.Results)
	}
	if s, ok := m["created_at"].(string); ok {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				r.CreatedAt = t
				break
			}
		}
	}
	return r
}
