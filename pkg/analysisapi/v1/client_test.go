package v1

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/osvaldoandrade/domainscan/internal/fakeanalysis"
	"github.com/osvaldoandrade/domainscan/pkg/analysisapi"
	"github.com/osvaldoandrade/domainscan/pkg/domain"
)

func newTestClient(t *testing.T) (analysisapi.API, *fakeanalysis.Server) {
	t.Helper()
	srv := fakeanalysis.New()
	t.Cleanup(srv.Close)
	api, err := analysisapi.New(Version, analysisapi.Options{BaseURL: srv.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return api, srv
}

func TestCreateTaskSendsPlainDomains(t *testing.T) {
	api, srv := newTestClient(t)
	ctx := context.Background()

	id, err := api.CreateTask(ctx, []string{"a.com", "b.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "task-1" {
		t.Fatalf("expected task-1, got %s", id)
	}
	got := srv.Domains(id)
	if len(got) != 2 || got[0] != "a.com" || got[1] != "b.com" {
		t.Fatalf("unexpected submitted domains %v", got)
	}
	if srv.Count("POST /analysis/tasks") != 1 {
		t.Fatalf("expected exactly one create call, got %v", srv.Requests())
	}
}

func TestCreateTaskWrappedAndPlaceholderIDs(t *testing.T) {
	api, srv := newTestClient(t)
	ctx := context.Background()

	srv.OnCreate(func(id string, _ []string) fakeanalysis.Step {
		return fakeanalysis.Step{Status: http.StatusCreated, Body: map[string]any{"data": map[string]any{"id": id}}}
	})
	id, err := api.CreateTask(ctx, []string{"a.com"})
	if err != nil || id != "task-1" {
		t.Fatalf("expected wrapped id task-1, got %q %v", id, err)
	}

	srv.OnCreate(func(string, []string) fakeanalysis.Step {
		return fakeanalysis.Step{Body: map[string]any{"ok": true}}
	})
	id, err = api.CreateTask(ctx, []string{"a.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(id) < len("local-") || id[:6] != "local-" {
		t.Fatalf("expected placeholder id, got %q", id)
	}
}

func TestCreateTaskErrorCarriesDetail(t *testing.T) {
	api, srv := newTestClient(t)
	srv.OnCreate(func(string, []string) fakeanalysis.Step {
		return fakeanalysis.Fail(http.StatusInternalServerError, "analysis queue unavailable")
	})
	_, err := api.CreateTask(context.Background(), []string{"a.com"})
	var ce *domain.CreationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CreationError, got %T %v", err, err)
	}
	if ce.StatusCode != http.StatusInternalServerError || ce.Detail != "analysis queue unavailable" {
		t.Fatalf("unexpected error %+v", ce)
	}
}

func TestGetTaskAndResults(t *testing.T) {
	api, srv := newTestClient(t)
	ctx := context.Background()
	srv.Script(
		fakeanalysis.Step{Body: fakeanalysis.Snapshot("processing", 1, 2)},
		fakeanalysis.Step{Body: map[string]any{"data": fakeanalysis.Snapshot("completed", 2, 2)}},
	)
	srv.Results(fakeanalysis.Step{Body: map[string]any{"data": map[string]any{"results": []any{
		map[string]any{"domain_name": "a.com", "assessment_score": 7},
		map[string]any{"domain_name": "b.com"},
	}}}})

	id, err := api.CreateTask(ctx, []string{"a.com", "b.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	task, err := api.GetTask(ctx, id)
	if err != nil || task.Status != domain.StatusProcessing || task.ID != id {
		t.Fatalf("unexpected task %+v %v", task, err)
	}
	task, err = api.GetTask(ctx, id)
	if err != nil || task.Status != domain.StatusCompleted {
		t.Fatalf("unexpected task %+v %v", task, err)
	}
	res, err := api.GetResults(ctx, id)
	if err != nil || len(res) != 2 || res[0].DomainName != "a.com" {
		t.Fatalf("unexpected results %+v %v", res, err)
	}
	if srv.Count("GET /analysis/tasks/"+id+"/report") != 1 {
		t.Fatalf("expected report endpoint, got %v", srv.Requests())
	}
}

func TestGetTaskNotFound(t *testing.T) {
	api, _ := newTestClient(t)
	_, err := api.GetTask(context.Background(), "missing")
	var he *analysisapi.HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 HTTPError, got %v", err)
	}
	if !analysisapi.Permanent(err) {
		t.Fatalf("404 should be permanent")
	}
}

func TestStreamStatus(t *testing.T) {
	api, srv := newTestClient(t)
	ctx := context.Background()
	srv.Script(
		fakeanalysis.Step{Body: fakeanalysis.Snapshot("processing", 1, 2)},
		fakeanalysis.Step{Body: fakeanalysis.Snapshot("completed", 2, 2)},
	)
	id, err := api.CreateTask(ctx, []string{"a.com", "b.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stream, err := api.StreamStatus(ctx, id)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Close()

	var events []analysisapi.Event
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %+v", events)
	}
	if !events[1].Complete || events[1].Task.Status != domain.StatusCompleted {
		t.Fatalf("expected final complete event, got %+v", events[1])
	}
}

func TestReportsAndTasks(t *testing.T) {
	api, _ := newTestClient(t)
	ctx := context.Background()

	id, err := api.CreateTask(ctx, []string{"a.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rid, err := api.SaveReport(ctx, analysisapi.ReportRequest{
		TaskID:  id,
		Domains: []string{"a.com", "b.com"},
		Results: []domain.AnalysisResult{{DomainName: "a.com", Fields: map[string]any{"score": 1.0}}},
	})
	if err != nil || rid != "report-1" {
		t.Fatalf("save report: %q %v", rid, err)
	}
	reports, err := api.ListReports(ctx)
	if err != nil || len(reports) != 1 {
		t.Fatalf("list reports: %+v %v", reports, err)
	}
	if got := reports[0].Domains; len(got) != 2 || got[1] != "b.com" {
		t.Fatalf("expected comma-joined domains split back, got %v", got)
	}
	rep, err := api.GetReport(ctx, rid)
	if err != nil || rep.RemoteID != rid || rep.TaskID != id || len(rep.Results) != 1 {
		t.Fatalf("get report: %+v %v", rep, err)
	}
	if rep.CreatedAt.IsZero() {
		t.Fatalf("expected created_at parsed")
	}

	page, err := api.ListTasks(ctx, 1, 10)
	if err != nil || page.Total != 1 || len(page.Items) != 1 || page.Items[0].ID != id {
		t.Fatalf("list tasks: %+v %v", page, err)
	}
	if err := api.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
}
