package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// AnalysisResult is one analysed domain as produced by the remote service.
// Only the name is interpreted; every other field is carried through as-is.
type AnalysisResult struct {
	DomainName string
	Fields     map[string]any
}

// ResultNameKeys are the keys accepted as a result's domain name, in order.
var ResultNameKeys = []string{"domain_name", "domain", "domainName", "host"}

// ResultFromMap builds a result from a decoded JSON object. ok is false when
// the object carries no recognisable domain name.
func ResultFromMap(m map[string]any) (AnalysisResult, bool) {
	r := AnalysisResult{Fields: make(map[string]any, len(m))}
	for k, v := range m {
		r.Fields[k] = v
	}
	for _, k := range ResultNameKeys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			r.DomainName = strings.TrimSpace(s)
			return r, true
		}
	}
	return r, false
}

func (r AnalysisResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	if r.DomainName != "" {
		out["domain_name"] = r.DomainName
	}
	return json.Marshal(out)
}

func (r *AnalysisResult) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*r, _ = ResultFromMap(m)
	return nil
}

// Float returns a numeric field. Numbers encoded as strings are accepted.
func (r AnalysisResult) Float(key string) (float64, bool) {
	switch v := r.Fields[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func (r AnalysisResult) String(key string) (string, bool) {
	switch v := r.Fields[key].(type) {
	case string:
		return v, true
	case nil:
		return "", false
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

func (r AnalysisResult) Bool(key string) (bool, bool) {
	v, ok := r.Fields[key].(bool)
	return v, ok
}

// Report is a named, persisted set of results for a finished task.
type Report struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	TaskID    string           `json:"taskId"`
	Domains   []string         `json:"domains"`
	Results   []AnalysisResult `json:"results"`
	RemoteID  string           `json:"remoteId,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// ReportSummary is the listing view of a Report.
type ReportSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	TaskID      string    `json:"taskId"`
	DomainCount int       `json:"domainCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (r Report) Summary() ReportSummary {
	return ReportSummary{
		ID:          r.ID,
		Name:        r.Name,
		TaskID:      r.TaskID,
		DomainCount: len(r.Results),
		CreatedAt:   r.CreatedAt,
	}
}

// ResultDomains lists the domain names of results in order.
func ResultDomains(results []AnalysisResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.DomainName)
	}
	return out
}
