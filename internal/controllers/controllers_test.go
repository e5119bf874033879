package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/osvaldoandrade/domainscan/internal/services"
	"github.com/osvaldoandrade/domainscan/internal/tracker"
	"github.com/osvaldoandrade/domainscan/pkg/domain"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type stubScans struct {
	submitted [][]string
	st        tracker.State
	err       error
	updates   []tracker.State
}

func (s *stubScans) Submit(_ context.Context, domains []string) (tracker.State, error) {
	s.submitted = append(s.submitted, domains)
	return s.st, s.err
}

func (s *stubScans) Current() tracker.State { return s.st }

func (s *stubScans) Cancel() tracker.State {
	s.st.Phase = tracker.PhaseIdle
	return s.st
}

func (s *stubScans) Subscribe() (<-chan tracker.State, func()) {
	ch := make(chan tracker.State, len(s.updates))
	for _, u := range s.updates {
		ch <- u
	}
	return ch, func() {}
}

func (s *stubScans) Close() {}

type stubReports struct {
	saveErr error
	saved   []string
	deleted []string
}

func (r *stubReports) Save(_ context.Context, name string) (*domain.Report, error) {
	if r.saveErr != nil {
		return nil, r.saveErr
	}
	r.saved = append(r.saved, name)
	return &domain.Report{ID: "r1", Name: name}, nil
}

func (r *stubReports) Get(_ context.Context, id string) (*domain.Report, error) {
	if id != "r1" {
		return nil, services.ErrReportNotFound
	}
	return &domain.Report{ID: "r1"}, nil
}

func (r *stubReports) Delete(_ context.Context, id string) error {
	if id != "r1" {
		return services.ErrReportNotFound
	}
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *stubReports) List(_ context.Context, offset, limit int) ([]domain.ReportSummary, int64, error) {
	return []domain.ReportSummary{{ID: "r1"}}, 1, nil
}

type stubHealth struct{ err error }

func (h stubHealth) Health(context.Context) error { return h.err }

func newRouter(scans *stubScans, reports *stubReports) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/scans", NewCreateScanController(scans).Handle)
	cur := NewCurrentScanController(scans)
	r.GET("/v1/scans/current", cur.Get)
	r.DELETE("/v1/scans/current", cur.Cancel)
	r.GET("/v1/scans/current/events", NewScanEventsController(scans).Handle)
	r.GET("/v1/scans/current/ws", NewScanWSController(scans, nil).Handle)
	rc := NewReportsController(reports)
	r.POST("/v1/reports", rc.Save)
	r.GET("/v1/reports", rc.List)
	r.GET("/v1/reports/:id", rc.Get)
	r.DELETE("/v1/reports/:id", rc.Delete)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateScan(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantSub  []string
	}{
		{name: "string", body: `{"domains":"a.com\nb.com"}`, wantCode: http.StatusAccepted, wantSub: []string{"a.com\nb.com"}},
		{name: "list", body: `{"domains":["a.com","b.com"]}`, wantCode: http.StatusAccepted, wantSub: []string{"a.com", "b.com"}},
		{name: "missing", body: `{}`, wantCode: http.StatusBadRequest},
		{name: "wrong type", body: `{"domains":42}`, wantCode: http.StatusBadRequest},
		{name: "validation", body: `{"domains":" "}`, err: &domain.ValidationError{Field: "domains", Reason: "empty"}, wantCode: http.StatusBadRequest, wantSub: []string{" "}},
		{name: "creation", body: `{"domains":"a.com"}`, err: &domain.CreationError{StatusCode: 422, Detail: "bad domain"}, wantCode: http.StatusBadGateway, wantSub: []string{"a.com"}},
		{name: "closed", body: `{"domains":"a.com"}`, err: tracker.ErrClosed, wantCode: http.StatusServiceUnavailable, wantSub: []string{"a.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scans := &stubScans{st: tracker.State{Phase: tracker.PhasePolling, TaskID: "t1"}, err: tt.err}
			w := do(newRouter(scans, &stubReports{}), http.MethodPost, "/v1/scans", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if tt.wantSub == nil {
				if len(scans.submitted) != 0 {
					t.Fatalf("expected no submission, got %v", scans.submitted)
				}
				return
			}
			if len(scans.submitted) != 1 || strings.Join(scans.submitted[0], "|") != strings.Join(tt.wantSub, "|") {
				t.Fatalf("unexpected submission %v", scans.submitted)
			}
		})
	}
}

func TestCreateScanCarriesCreationDetail(t *testing.T) {
	scans := &stubScans{err: &domain.CreationError{StatusCode: 422, Detail: "bad domain"}}
	w := do(newRouter(scans, &stubReports{}), http.MethodPost, "/v1/scans", `{"domains":"a.com"}`)
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["detail"] != "bad domain" {
		t.Fatalf("expected detail passthrough, got %v", body)
	}
}

func TestCurrentScan(t *testing.T) {
	scans := &stubScans{st: tracker.State{
		Phase: tracker.PhaseFailed,
		Err:   &domain.PollingTransportError{TaskID: "t1", Attempts: 3, Err: errors.New("eof")},
	}}
	r := newRouter(scans, &stubReports{})
	if w := do(r, http.MethodGet, "/v1/scans/current", ""); w.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 for lost observation, got %d", w.Code)
	}
	scans.st.Err = &domain.TaskFailedError{TaskID: "t1"}
	if w := do(r, http.MethodGet, "/v1/scans/current", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for remote failure, got %d", w.Code)
	}
	w := do(r, http.MethodDelete, "/v1/scans/current", "")
	var st tracker.State
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil || st.Phase != tracker.PhaseIdle {
		t.Fatalf("expected idle after cancel, got %s %v", w.Body.String(), err)
	}
}

func TestScanEventsStreamUntilTerminal(t *testing.T) {
	scans := &stubScans{updates: []tracker.State{
		{Generation: 1, Phase: tracker.PhasePolling},
		{Generation: 1, Phase: tracker.PhaseCompleted},
	}}
	srv := httptest.NewServer(newRouter(scans, &stubReports{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/scans/current/events")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	body := string(raw)
	if strings.Count(body, "event:update") != 2 || !strings.Contains(body, "event:complete") {
		t.Fatalf("unexpected event stream:\n%s", body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestScanWebsocketPushesStates(t *testing.T) {
	scans := &stubScans{updates: []tracker.State{{Generation: 2, Phase: tracker.PhasePolling, TaskID: "t2"}}}
	srv := httptest.NewServer(newRouter(scans, &stubReports{}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/scans/current/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var st tracker.State
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("read: %v", err)
	}
	if st.TaskID != "t2" || st.Generation != 2 {
		t.Fatalf("unexpected state %+v", st)
	}

	if w := do(newRouter(scans, &stubReports{}), http.MethodGet, "/v1/scans/current/ws", ""); w.Code != http.StatusUpgradeRequired {
		t.Fatalf("expected 426 without upgrade, got %d", w.Code)
	}
}

func TestReports(t *testing.T) {
	tests := []struct {
		name     string
		saveErr  error
		wantCode int
	}{
		{name: "saved", wantCode: http.StatusCreated},
		{name: "no completed scan", saveErr: services.ErrNoCompletedScan, wantCode: http.StatusConflict},
		{name: "remote failure", saveErr: &services.RemoteSaveError{Err: errors.New("500")}, wantCode: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(newRouter(&stubScans{}, &stubReports{saveErr: tt.saveErr}), http.MethodPost, "/v1/reports", `{"name":"weekly"}`)
			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
		})
	}

	reports := &stubReports{}
	r := newRouter(&stubScans{}, reports)
	if w := do(r, http.MethodPost, "/v1/reports", ""); w.Code != http.StatusCreated || len(reports.saved) != 1 || reports.saved[0] != "" {
		t.Fatalf("expected empty body to save with default name, got %d %v", w.Code, reports.saved)
	}
	if w := do(r, http.MethodGet, "/v1/reports/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := do(r, http.MethodDelete, "/v1/reports/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting a missing report, got %d", w.Code)
	}
	if w := do(r, http.MethodDelete, "/v1/reports/r1", ""); w.Code != http.StatusNoContent || len(reports.deleted) != 1 {
		t.Fatalf("expected 204, got %d %v", w.Code, reports.deleted)
	}
	if w := do(r, http.MethodGet, "/v1/reports?limit=0", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero limit, got %d", w.Code)
	}
	w := do(r, http.MethodGet, "/v1/reports?limit=500", "")
	var page struct {
		Total int64 `json:"total"`
		Limit int   `json:"limit"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil || page.Total != 1 || page.Limit != maxReportPageSize {
		t.Fatalf("unexpected page %s", w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	scans := &stubScans{st: tracker.State{Phase: tracker.PhaseIdle}}
	r.GET("/ok", NewHealthController(stubHealth{}, stubHealth{}, scans).Handle)
	r.GET("/bad", NewHealthController(stubHealth{err: errors.New("down")}, stubHealth{}, scans).Handle)

	if w := do(r, http.MethodGet, "/ok", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/bad", ""); w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "down") {
		t.Fatalf("expected 503 with reason, got %d %s", w.Code, w.Body.String())
	}
}

func TestScanWebsocketOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		wantOK  bool
	}{
		{name: "no origin header", origin: "", wantOK: true},
		{name: "cross origin rejected by default", origin: "https://elsewhere.example", wantOK: false},
		{name: "listed origin", allowed: []string{"https://app.example/"}, origin: "https://APP.example", wantOK: true},
		{name: "unlisted origin", allowed: []string{"https://app.example"}, origin: "http://app.example", wantOK: false},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://elsewhere.example", wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			r := gin.New()
			r.GET("/ws", NewScanWSController(&stubScans{}, tt.allowed).Handle)
			srv := httptest.NewServer(r)
			defer srv.Close()

			hdr := http.Header{}
			if tt.origin != "" {
				hdr.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", hdr)
			if tt.wantOK {
				if err != nil {
					t.Fatalf("expected upgrade, got %v", err)
				}
				conn.Close()
				return
			}
			if err == nil {
				conn.Close()
				t.Fatalf("expected origin %q to be rejected", tt.origin)
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Fatalf("expected 403, got %v", resp)
			}
		})
	}

	// Same origin as the gateway itself.
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", NewScanWSController(&stubScans{}, nil).Handle)
	srv := httptest.NewServer(r)
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", http.Header{"Origin": {srv.URL}})
	if err != nil {
		t.Fatalf("expected same-origin upgrade, got %v", err)
	}
	conn.Close()
}
