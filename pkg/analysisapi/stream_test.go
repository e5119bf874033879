package analysisapi

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/osvaldoandrade/domainscan/pkg/domain"
)

func TestEventStreamNext(t *testing.T) {
	body := ": connected\n\n" +
		"event: status\ndata: {\"status\":\"processing\",\"progress\":{\"current\":1,\"total\":3}}\n\n" +
		"event: status\r\ndata: not json\r\n\r\n" +
		"data: {\"status\":\"processing\",\"current_domain\":\"b.com\"}\n\n" +
		"event: complete\ndata: {\"task_id\":\"t1\"}\n\n" +
		"event: status\ndata: {\"status\":\"pending\"}\n\n"
	s := NewEventStream(io.NopCloser(strings.NewReader(body)), nil)

	ev, err := s.Next()
	if err != nil || ev.Task.Status != domain.StatusProcessing || ev.Task.Progress == nil || ev.Task.Progress.Current != 1 {
		t.Fatalf("unexpected first event %+v %v", ev, err)
	}
	ev, err = s.Next()
	if err != nil || ev.Task.CurrentDomain != "b.com" || ev.Complete {
		t.Fatalf("unexpected second event %+v %v", ev, err)
	}
	ev, err = s.Next()
	if err != nil || !ev.Complete || ev.Task.Status != domain.StatusCompleted {
		t.Fatalf("unexpected complete event %+v %v", ev, err)
	}
	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after complete, got %v", err)
	}
}

func TestEventStreamTerminalStatusCompletes(t *testing.T) {
	body := "event: status\ndata: {\"status\":\"failed\",\"message\":\"boom\"}"
	s := NewEventStream(io.NopCloser(strings.NewReader(body)), nil)
	ev, err := s.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ev.Complete || ev.Task.Status != domain.StatusFailed || ev.Task.Message != "boom" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestEventStreamEOFWithoutComplete(t *testing.T) {
	body := "event: status\ndata: {\"status\":\"processing\"}\n\n"
	s := NewEventStream(io.NopCloser(strings.NewReader(body)), nil)
	if _, err := s.Next(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

// endless never ends a line.
type endless struct{ reads int }

func (e *endless) Read(p []byte) (int, error) {
	e.reads++
	for i := range p {
		p[i] = 'x'
	}
	return len(p), nil
}

func TestEventStreamLineLimit(t *testing.T) {
	src := &endless{}
	s := NewEventStream(io.NopCloser(src), nil)
	if _, err := s.Next(); !errors.Is(err, errEventTooLarge) {
		t.Fatalf("expected errEventTooLarge, got %v", err)
	}

	body := "data: " + strings.Repeat("y", maxEventBytes) + "\n\n"
	s = NewEventStream(io.NopCloser(strings.NewReader(body)), nil)
	if _, err := s.Next(); !errors.Is(err, errEventTooLarge) {
		t.Fatalf("expected errEventTooLarge for an oversized data line, got %v", err)
	}
}
