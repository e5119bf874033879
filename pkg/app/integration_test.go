package app

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/osvaldoandrade/domainscan/internal/fakeanalysis"
	_ "github.com/osvaldoandrade/domainscan/pkg/analysisapi/v1"
	_ "github.com/osvaldoandrade/domainscan/pkg/auth/static"
	"github.com/osvaldoandrade/domainscan/pkg/config"
	_ "github.com/osvaldoandrade/domainscan/pkg/persistence/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
)

const testToken = "integration-token"

func newTestApp(t *testing.T, remote *fakeanalysis.Server, hookURL string) *Application {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := &config.Config{
		Env:                   "test",
		LogLevel:              "error",
		LogFormat:             "json",
		RedisAddr:             mr.Addr(),
		APIBaseURL:            remote.URL,
		APIVersion:            "v1",
		ObserveMode:           "poll",
		PollIntervalMillis:    10,
		RequestTimeoutSeconds: 2,
		MaxTransportRetries:   1,
		ResultFetchAttempts:   1,
		BackoffPolicy:         "fixed",
		BackoffBaseMillis:     1,
		BackoffMaxMillis:      1,
		ReportStore:           "redis",
		AuthProvider:          "static",
		AuthConfig:            `"` + testToken + `"`,
		RateLimit: config.RateLimitConfig{
			Submit: config.RateLimitBucketConfig{RequestsPerMinute: 60, BurstSize: 2},
		},
		WebhookURL:                hookURL,
		WebhookHmacSecret:         "hook-secret",
		WebhookMaxAttempts:        2,
		WebhookBaseBackoffSeconds: 1,
		WebhookMaxBackoffSeconds:  1,
	}

	application, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	t.Cleanup(func() { _ = application.Close() })
	SetupMappings(application)
	return application
}

func call(t *testing.T, h http.Handler, method, path string, body any, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHTTPIntegrationFlow(t *testing.T) {
	remote := fakeanalysis.New()
	t.Cleanup(remote.Close)
	remote.Script(
		fakeanalysis.Step{Body: fakeanalysis.Snapshot("processing", 1, 2)},
		fakeanalysis.Step{Body: fakeanalysis.Snapshot("completed", 2, 2)},
	)
	remote.Results(fakeanalysis.Step{Body: map[string]any{"results": []any{
		map[string]any{"domain_name": "example.com", "snapshots": 12},
		map[string]any{"domain_name": "other.org", "snapshots": 1},
	}}})

	hooks := make(chan map[string]any, 1)
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(b, &payload)
		select {
		case hooks <- payload:
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(hookSrv.Close)

	a := newTestApp(t, remote, hookSrv.URL)
	h := a.Engine

	if w := call(t, h, http.MethodPost, "/v1/scans", map[string]any{"domains": "example.com"}, false); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := call(t, h, http.MethodPost, "/v1/reports", map[string]any{"name": "early"}, true); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 before any scan completed, got %d", w.Code)
	}

	w := call(t, h, http.MethodPost, "/v1/scans", map[string]any{"domains": []string{"example.com", "Other.org"}}, true)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	deadline := time.Now().Add(3 * time.Second)
	var st struct {
		Phase   string           `json:"phase"`
		TaskID  string           `json:"taskId"`
		Results []map[string]any `json:"results"`
	}
	for {
		w = call(t, h, http.MethodGet, "/v1/scans/current", nil, true)
		if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
			t.Fatalf("decode state: %v", err)
		}
		if st.Phase == "completed" || st.Phase == "failed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scan did not finish: %s", w.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st.Phase != "completed" || st.TaskID != "task-1" || len(st.Results) != 2 {
		t.Fatalf("unexpected final state %+v", st)
	}
	if got := remote.Domains("task-1"); strings.Join(got, ",") != "example.com,other.org" {
		t.Fatalf("unexpected submitted domains %v", got)
	}

	select {
	case payload := <-hooks:
		if payload["event"] != "scan.completed" || payload["taskId"] != "task-1" {
			t.Fatalf("unexpected webhook payload %v", payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("completion webhook not delivered")
	}

	w = call(t, h, http.MethodPost, "/v1/reports", map[string]any{"name": "weekly"}, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var rep struct {
		ID       string `json:"id"`
		RemoteID string `json:"remoteId"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &rep)
	if rep.RemoteID != "report-1" {
		t.Fatalf("expected remote report id, got %+v", rep)
	}
	if _, ok := remote.Report("report-1"); !ok {
		t.Fatalf("remote service did not receive the report")
	}

	w = call(t, h, http.MethodGet, "/v1/reports", nil, true)
	var page struct {
		Total int64 `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil || page.Total != 1 {
		t.Fatalf("unexpected listing %s", w.Body.String())
	}
	if w = call(t, h, http.MethodGet, "/v1/reports/"+rep.ID, nil, true); w.Code != http.StatusOK {
		t.Fatalf("expected archived report, got %d", w.Code)
	}
	if w = call(t, h, http.MethodDelete, "/v1/reports/"+rep.ID, nil, true); w.Code != http.StatusNoContent {
		t.Fatalf("expected report deleted, got %d", w.Code)
	}
	if w = call(t, h, http.MethodGet, "/v1/reports/"+rep.ID, nil, true); w.Code != http.StatusNotFound {
		t.Fatalf("expected deleted report gone, got %d", w.Code)
	}

	if w = call(t, h, http.MethodGet, "/healthz", nil, false); w.Code != http.StatusOK {
		t.Fatalf("expected healthy gateway, got %d: %s", w.Code, w.Body.String())
	}
	w = call(t, h, http.MethodGet, "/metrics", nil, false)
	if !strings.Contains(w.Body.String(), "domainscan_observations_finished_total") {
		t.Fatalf("expected tracker metrics to be exported")
	}
}

func TestHTTPSubmitValidationAndRateLimit(t *testing.T) {
	remote := fakeanalysis.New()
	t.Cleanup(remote.Close)
	h := newTestApp(t, remote, "").Engine

	if w := call(t, h, http.MethodPost, "/v1/scans", map[string]any{"domains": " \n "}, true); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty list, got %d", w.Code)
	}
	if n := remote.Count("POST /analysis/tasks"); n != 0 {
		t.Fatalf("expected no create call, got %d", n)
	}

	// Burst is 2 and one token went to the rejected submission above.
	if w := call(t, h, http.MethodPost, "/v1/scans", map[string]any{"domains": "a.com"}, true); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	w := call(t, h, http.MethodPost, "/v1/scans", map[string]any{"domains": "b.com"}, true)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", w.Code)
	}
}

func TestHTTPCreationFailure(t *testing.T) {
	remote := fakeanalysis.New()
	t.Cleanup(remote.Close)
	remote.OnCreate(func(string, []string) fakeanalysis.Step {
		return fakeanalysis.Fail(http.StatusUnprocessableEntity, "domain list too long")
	})
	h := newTestApp(t, remote, "").Engine

	w := call(t, h, http.MethodPost, "/v1/scans", map[string]any{"domains": "a.com"}, true)
	if w.Code != http.StatusBadGateway || !strings.Contains(w.Body.String(), "domain list too long") {
		t.Fatalf("expected 502 with detail, got %d: %s", w.Code, w.Body.String())
	}
	if n := remote.Count("GET /analysis/tasks/"); n != 0 {
		t.Fatalf("expected no polling after failed create, got %d", n)
	}
}
