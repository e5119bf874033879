package analysisapi

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/gin-contrib/sse"
	"github.com/osvaldoandrade/domainscan/internal/normalize"
	"github.com/osvaldoandrade/domainscan/pkg/domain"
)

const maxEventBytes = 1 << 20

var errEventTooLarge = errors.New("event exceeds size limit")

// EventStream reads a text/event-stream body one event block at a time.
type EventStream struct {
	body io.ReadCloser
	rd   *bufio.Reader
	note func(normalize.Trace)
	done bool
}

func NewEventStream(body io.ReadCloser, note func(normalize.Trace)) *EventStream {
	if note == nil {
		note = func(normalize.Trace) {}
	}
	return &EventStream{body: body, rd: bufio.NewReader(body), note: note}
}

// Next returns the next status event. Comment-only blocks and events whose
// data is not a status document are skipped. After a complete event, Next
// returns io.EOF.
func (s *EventStream) Next() (Event, error) {
	for {
		if s.done {
			return Event{}, io.EOF
		}
		block, err := s.readBlock()
		if len(block) > 0 {
			if ev, ok := s.parse(block); ok {
				if ev.Complete {
					s.done = true
				}
				return ev, nil
			}
		}
		if err != nil {
			return Event{}, err
		}
	}
}

func (s *EventStream) Close() error {
	return s.body.Close()
}

func (s *EventStream) readBlock() ([]byte, error) {
	var buf bytes.Buffer
	for {
		line, err := s.readLine(maxEventBytes - buf.Len())
		if errors.Is(err, errEventTooLarge) {
			return nil, err
		}
		buf.Write(line)
		trimmed := bytes.TrimRight(line, "\r\n")
		if len(trimmed) == 0 && len(line) > 0 && buf.Len() > len(line) {
			return buf.Bytes(), nil
		}
		if len(trimmed) == 0 && len(line) > 0 {
			buf.Reset()
			continue
		}
		if err != nil {
			if err == io.EOF && buf.Len() > 0 {
				buf.WriteString("\n\n")
				return buf.Bytes(), io.EOF
			}
			return nil, err
		}
	}
}

// readLine reads through the next newline, giving up once the line would
// pass limit bytes.
func (s *EventStream) readLine(limit int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := s.rd.ReadSlice('\n')
		if len(line)+len(chunk) > limit {
			return nil, errEventTooLarge
		}
		line = append(line, chunk...)
		if !errors.Is(err, bufio.ErrBufferFull) {
			return line, err
		}
	}
}

func (s *EventStream) parse(block []byte) (Event, bool) {
	events, err := sse.Decode(bytes.NewReader(block))
	if err != nil || len(events) == 0 {
		return Event{}, false
	}
	ev := events[len(events)-1]
	name := strings.ToLower(strings.TrimSpace(ev.Event))
	data, _ := ev.Data.(string)

	out := Event{}
	if strings.TrimSpace(data) != "" {
		v, err := normalize.Decode([]byte(data))
		if err == nil {
			task, tr := normalize.Task(v)
			s.note(tr)
			out.Task = task
		} else if name == "" || name == "message" || name == "status" {
			return Event{}, false
		}
	}
	switch name {
	case "complete", "completed", "done", "end":
		out.Complete = true
		if out.Task.Status == "" || !out.Task.Status.IsTerminal() {
			out.Task.Status = domain.StatusCompleted
		}
	case "error", "failed":
		out.Complete = true
		out.Task.Status = domain.StatusFailed
	}
	if out.Task.Status.IsTerminal() {
		out.Complete = true
	}
	if out.Task.Status == "" {
		return Event{}, false
	}
	return out, true
}
