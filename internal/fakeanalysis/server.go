// Package fakeanalysis is an in-process stand-in for the remote analysis
// service. Tests script the status sequence each new task walks through.
package fakeanalysis

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Step is one scripted answer. Status 0 means 200.
type Step struct {
	Status int
	Body   any
	Delay  time.Duration
}

// Snapshot builds a conventional status body.
func Snapshot(status string, current, total int) map[string]any {
	return map[string]any{
		"status":   status,
		"progress": map[string]any{"current": current, "total": total},
	}
}

// Fail is a step answering with an HTTP error.
func Fail(status int, detail string) Step {
	return Step{Status: status, Body: map[string]any{"detail": detail}}
}

type task struct {
	domains []string
	steps   []Step
	served  int
	results Step
}

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	seq      int
	tasks    map[string]*task
	reports  map[string]map[string]any
	requests []string
	aborted  int

	create  func(id string, domains []string) Step
	script  []Step
	results Step
	health  Step
}

func New() *Server {
	s := &Server{
		tasks:   map[string]*task{},
		reports: map[string]map[string]any{},
		script:  []Step{{Body: Snapshot("completed", 1, 1)}},
		results: Step{Body: map[string]any{"results": []any{}}},
		health:  Step{Body: map[string]any{"status": "ok"}},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("POST /analysis/tasks", s.handleCreate)
	mux.HandleFunc("POST /analysis/tasks/{$}", s.handleCreate)
	mux.HandleFunc("GET /analysis/tasks/{id}", s.handleStatus)
	mux.HandleFunc("GET /analysis/tasks/{id}/report", s.handleResults)
	mux.HandleFunc("GET /analysis/tasks/{id}/stream-status", s.handleStream)
	mux.HandleFunc("GET /analysis/results/{id}", s.handleResults)
	mux.HandleFunc("GET /analysis", s.handleListTasks)
	mux.HandleFunc("POST /reports/{$}", s.handleSaveReport)
	mux.HandleFunc("GET /reports/", s.handleReports)
	s.Server = httptest.NewServer(s.record(mux))
	return s
}

// OnCreate overrides the creation answer.
func (s *Server) OnCreate(fn func(id string, domains []string) Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.create = fn
}

// Script sets the status sequence for tasks created afterwards. The last
// step repeats once the sequence is exhausted.
func (s *Server) Script(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append([]Step(nil), steps...)
}

// Results sets the results answer for tasks created afterwards.
func (s *Server) Results(step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = step
}

func (s *Server) Health(step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = step
}

// Requests returns "METHOD /path" for every request served so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Count returns how many requests started with prefix.
func (s *Server) Count(prefix string) int {
	n := 0
	for _, r := range s.Requests() {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

// StreamsAborted counts status streams the client closed before the server
// sent every scripted step.
func (s *Server) StreamsAborted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// Domains returns the domains submitted for a task.
func (s *Server) Domains(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return append([]string(nil), t.domains...)
	}
	return nil
}

// Report returns a saved report body.
func (s *Server) Report(id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	return r, ok
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	step := s.health
	s.mu.Unlock()
	write(w, step)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Domains []json.RawMessage `json:"domains"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		write(w, Fail(http.StatusUnprocessableEntity, "invalid body"))
		return
	}
	domains := make([]string, 0, len(body.Domains))
	for _, raw := range body.Domains {
		var name string
		if json.Unmarshal(raw, &name) == nil {
			domains = append(domains, name)
			continue
		}
		var entry struct {
			DomainName string `json:"domain_name"`
		}
		if json.Unmarshal(raw, &entry) == nil {
			domains = append(domains, entry.DomainName)
		}
	}

	s.mu.Lock()
	s.seq++
	id := fmt.Sprintf("task-%d", s.seq)
	s.tasks[id] = &task{domains: domains, steps: s.script, results: s.results}
	create := s.create
	s.mu.Unlock()

	step := Step{Body: map[string]any{"task_id": id, "status": "pending"}}
	if create != nil {
		step = create(id, domains)
	}
	write(w, step)
}

func (s *Server) nextStep(id string) (Step, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || len(t.steps) == 0 {
		return Step{}, false
	}
	i := t.served
	if i >= len(t.steps) {
		i = len(t.steps) - 1
	}
	t.served++
	return t.steps[i], true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	step, ok := s.nextStep(r.PathValue("id"))
	if !ok {
		write(w, Fail(http.StatusNotFound, "task not found"))
		return
	}
	write(w, step)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	t, ok := s.tasks[r.PathValue("id")]
	var step Step
	if ok {
		step = t.results
	}
	s.mu.Unlock()
	if !ok {
		write(w, Fail(http.StatusNotFound, "task not found"))
		return
	}
	write(w, step)
}

// handleStream pushes every scripted step as an SSE event, then closes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	t, ok := s.tasks[r.PathValue("id")]
	var steps []Step
	if ok {
		steps = append(steps, t.steps...)
	}
	s.mu.Unlock()
	if !ok {
		write(w, Fail(http.StatusNotFound, "task not found"))
		return
	}
	if len(steps) > 0 && steps[0].Status >= 400 {
		write(w, steps[0])
		return
	}
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	for _, step := range steps {
		if step.Status >= 400 {
			return
		}
		if step.Delay > 0 {
			select {
			case <-r.Context().Done():
				s.mu.Lock()
				s.aborted++
				s.mu.Unlock()
				return
			case <-time.After(step.Delay):
			}
		}
		b, _ := json.Marshal(step.Body)
		fmt.Fprintf(w, "event: status\ndata: %s\n\n", b)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	items := make([]any, 0, len(s.tasks))
	for i := 1; i <= s.seq; i++ {
		id := fmt.Sprintf("task-%d", i)
		if t, ok := s.tasks[id]; ok {
			items = append(items, map[string]any{"id": id, "status": "pending", "domains": t.domains})
		}
	}
	s.mu.Unlock()
	write(w, Step{Body: map[string]any{"items": items, "total": len(items)}})
}

func (s *Server) handleSaveReport(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		write(w, Fail(http.StatusUnprocessableEntity, "invalid body"))
		return
	}
	s.mu.Lock()
	id := fmt.Sprintf("report-%d", len(s.reports)+1)
	body["report_id"] = id
	body["created_at"] = time.Now().UTC().Format(time.RFC3339)
	s.reports[id] = body
	s.mu.Unlock()
	write(w, Step{Body: map[string]any{"report_id": id}})
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/reports/"), "/"); id != "" {
		s.handleGetReport(w, id)
		return
	}
	s.handleListReports(w)
}

func (s *Server) handleListReports(w http.ResponseWriter) {
	s.mu.Lock()
	items := make([]any, 0, len(s.reports))
	for i := 1; i <= len(s.reports); i++ {
		if rep, ok := s.reports[fmt.Sprintf("report-%d", i)]; ok {
			items = append(items, rep)
		}
	}
	s.mu.Unlock()
	write(w, Step{Body: map[string]any{"items": items}})
}

func (s *Server) handleGetReport(w http.ResponseWriter, id string) {
	rep, ok := s.Report(id)
	if !ok {
		write(w, Fail(http.StatusNotFound, "report not found"))
		return
	}
	write(w, Step{Body: rep})
}

func write(w http.ResponseWriter, step Step) {
	if step.Delay > 0 {
		time.Sleep(step.Delay)
	}
	status := step.Status
	if status == 0 {
		status = http.StatusOK
	}
	switch b := step.Body.(type) {
	case nil:
		w.WriteHeader(status)
	case string:
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(b))
	case json.RawMessage:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(b)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(b)
	}
}
