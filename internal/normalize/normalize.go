// Package normalize extracts task ids, statuses and results from analysis
// service responses whose envelope shape is not fixed.
//
// Each extraction is an ordered list of rules tried first-match-wins:
// a direct field, the same field under a "data" or "task" wrapper, a
// heuristic scan of top-level keys, a bare array, and finally a degraded
// fallback that never fails.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/osvaldoandrade/domainscan/pkg/domain"
)

const (
	RuleDirect      = "direct"
	RuleWrapped     = "wrapped"
	RuleHeuristic   = "heuristic"
	RuleArray       = "array"
	RulePlaceholder = "placeholder"
	RuleEmpty       = "empty"
)

// Wrappers are the envelope fields searched one level deep.
var Wrappers = []string{"data", "task"}

const maxIDLength = 128

// Rule is a tagged extraction strategy.
type Rule[T any] struct {
	Name    string
	Extract func(Value) (T, bool)
}

// Trace records which rule produced a value and any degradation warnings.
type Trace struct {
	Rule     string
	Warnings []string
}

func (t *Trace) warn(format string, args ...any) {
	t.Warnings = append(t.Warnings, fmt.Sprintf(format, args...))
}

func first[T any](rules []Rule[T], v Value) (T, string, bool) {
	for _, r := range rules {
		if out, ok := r.Extract(v); ok {
			return out, r.Name, true
		}
	}
	var zero T
	return zero, "", false
}

// wrapped applies extract to each wrapper object in turn.
func wrapped[T any](extract func(Value) (T, bool)) func(Value) (T, bool) {
	return func(v Value) (T, bool) {
		for _, w := range Wrappers {
			inner, ok := v.field(w)
			if !ok {
				continue
			}
			if _, isObj := inner.(map[string]any); !isObj {
				continue
			}
			if out, ok := extract(FromAny(inner)); ok {
				return out, true
			}
		}
		var zero T
		return zero, false
	}
}

// fieldRules looks a field up directly, then under the wrappers.
func fieldRules(keys ...string) []Rule[any] {
	direct := func(v Value) (any, bool) {
		for _, k := range keys {
			if f, ok := v.field(k); ok {
				return f, true
			}
		}
		return nil, false
	}
	return []Rule[any]{
		{Name: RuleDirect, Extract: direct},
		{Name: RuleWrapped, Extract: wrapped(direct)},
	}
}

var idKeys = []string{"task_id", "taskId", "id"}

func idString(f any) (string, bool) {
	switch x := f.(type) {
	case string:
		s := strings.TrimSpace(x)
		return s, s != "" && len(s) <= maxIDLength
	case float64:
		if x == math.Trunc(x) && x >= 0 {
			return fmt.Sprintf("%.0f", x), true
		}
	}
	return "", false
}

func directID(v Value) (string, bool) {
	for _, k := range idKeys {
		if f, ok := v.field(k); ok {
			if s, ok := idString(f); ok {
				return s, true
			}
		}
	}
	return "", false
}

func heuristicID(v Value) (string, bool) {
	m, ok := v.Object()
	if !ok {
		return "", false
	}
	for _, k := range v.Keys {
		lk := strings.ToLower(k)
		if !strings.Contains(lk, "task") && !strings.Contains(lk, "id") {
			continue
		}
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" && len(s) <= maxIDLength {
				return s, true
			}
		}
	}
	return "", false
}

// IDRules are the ordered strategies for locating a task id.
var IDRules = []Rule[string]{
	{Name: RuleDirect, Extract: directID},
	{Name: RuleWrapped, Extract: wrapped(directID)},
	{Name: RuleHeuristic, Extract: heuristicID},
}

var newPlaceholderID = func() string {
	return fmt.Sprintf("local-%d-%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// TaskID locates the task id. When no rule matches it synthesises a
// locally-unique placeholder so the caller can continue degraded.
func TaskID(v Value) (string, Trace) {
	if id, rule, ok := first(IDRules, v); ok {
		return id, Trace{Rule: rule}
	}
	tr := Trace{Rule: RulePlaceholder}
	id := newPlaceholderID()
	tr.warn("no task id in response; using placeholder %s", id)
	return id, tr
}

// IsPlaceholderID reports whether id was synthesised by TaskID.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, "local-")
}

func toResults(items []any) []domain.AnalysisResult {
	out := make([]domain.AnalysisResult, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		r, _ := domain.ResultFromMap(m)
		out = append(out, r)
	}
	return out
}

func objectArray(f any) ([]any, bool) {
	items, ok := f.([]any)
	if !ok || len(items) == 0 {
		return nil, false
	}
	for _, it := range items {
		if _, ok := it.(map[string]any); !ok {
			return nil, false
		}
	}
	return items, true
}

func directResults(v Value) ([]domain.AnalysisResult, bool) {
	f, ok := v.field("results")
	if !ok {
		return nil, false
	}
	items, ok := f.([]any)
	if !ok {
		return nil, false
	}
	return toResults(items), true
}

func heuristicResults(v Value) ([]domain.AnalysisResult, bool) {
	m, ok := v.Object()
	if !ok {
		return nil, false
	}
	for _, k := range v.Keys {
		lk := strings.ToLower(k)
		if !strings.Contains(lk, "result") && !strings.Contains(lk, "domain") {
			continue
		}
		if items, ok := objectArray(m[k]); ok {
			return toResults(items), true
		}
	}
	return nil, false
}

func arrayResults(v Value) ([]domain.AnalysisResult, bool) {
	items, ok := objectArray(v.Data)
	if !ok {
		return nil, false
	}
	results := toResults(items)
	for _, r := range results {
		if r.DomainName != "" {
			return results, true
		}
	}
	return nil, false
}

// ResultRules are the ordered strategies for locating the results list.
var ResultRules = []Rule[[]domain.AnalysisResult]{
	{Name: RuleDirect, Extract: directResults},
	{Name: RuleWrapped, Extract: wrapped(directResults)},
	{Name: RuleHeuristic, Extract: heuristicResults},
	{Name: RuleArray, Extract: arrayResults},
}

// Results locates the result list. It never fails: with nothing usable it
// reports an empty list and a warning.
func Results(v Value) ([]domain.AnalysisResult, Trace) {
	if res, rule, ok := first(ResultRules, v); ok {
		return res, Trace{Rule: rule}
	}
	tr := Trace{Rule: RuleEmpty}
	tr.warn("no results in response; reporting an empty result set")
	return []domain.AnalysisResult{}, tr
}

// Task fields prefer the wrapped object: an envelope status such as
// {"status":"ok","data":{...}} describes the response, not the task.
var (
	statusRules  = taskFieldRules("status", "state", "task_status")
	progressRule = taskFieldRules("progress")
	currentRules = taskFieldRules("current_domain", "currentDomain", "processing_domain")
	messageRules = taskFieldRules("message", "status_message", "error", "detail")
	doneRules    = taskFieldRules("processed_domains", "domains_processed", "completed_domains", "processed")
	totalRules   = taskFieldRules("total_domains", "domains_count", "total")
)

func taskFieldRules(keys ...string) []Rule[any] {
	r := fieldRules(keys...)
	return []Rule[any]{r[1], r[0]}
}

// Task extracts a status snapshot. The id is left empty when absent; status
// snapshots are always read for a known task.
func Task(v Value) (domain.AnalysisTask, Trace) {
	var tr Trace
	task := domain.AnalysisTask{Status: domain.StatusPending}

	if id, rule, ok := first(IDRules[:2], v); ok {
		task.ID = id
		tr.Rule = rule
	}

	if f, _, ok := first(statusRules, v); ok {
		s, _ := f.(string)
		st, known := domain.ParseStatus(s)
		if !known {
			tr.warn("unrecognised status %v; treating as pending", f)
		}
		task.Status = st
	} else {
		tr.warn("no status in response; treating as pending")
	}

	task.Progress = extractProgress(v)

	if f, _, ok := first(currentRules, v); ok {
		if s, ok := f.(string); ok {
			task.CurrentDomain = strings.TrimSpace(s)
		}
	}
	if f, _, ok := first(messageRules, v); ok {
		task.Message = messageText(f)
	}
	if tr.Rule == "" {
		tr.Rule = RuleEmpty
	}
	return task, tr
}

func extractProgress(v Value) *domain.Progress {
	if f, _, ok := first(progressRule, v); ok {
		switch p := f.(type) {
		case map[string]any:
			cur, ok1 := number(p["current"], p["processed"], p["done"])
			tot, ok2 := number(p["total"], p["count"])
			if ok1 || ok2 {
				return &domain.Progress{Current: cur, Total: tot}
			}
		case float64:
			pct := p
			if pct > 0 && pct <= 1 {
				pct *= 100
			}
			return &domain.Progress{Current: int(math.Round(pct)), Total: 100}
		}
	}
	done, _, okDone := first(doneRules, v)
	total, _, okTotal := first(totalRules, v)
	if okDone && okTotal {
		cur, _ := number(done)
		tot, _ := number(total)
		return &domain.Progress{Current: cur, Total: tot}
	}
	return nil
}

func number(candidates ...any) (int, bool) {
	for _, c := range candidates {
		switch n := c.(type) {
		case float64:
			return int(n), true
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return int(i), true
			}
		}
	}
	return 0, false
}

func messageText(f any) string {
	switch m := f.(type) {
	case string:
		return strings.TrimSpace(m)
	case nil:
		return ""
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// ErrorDetail pulls a human readable message out of an error response body,
// falling back to the trimmed body text.
func ErrorDetail(raw []byte) string {
	v, err := Decode(raw)
	if err == nil {
		for _, k := range []string{"detail", "message", "error"} {
			if f, ok := v.field(k); ok {
				if s := messageText(f); s != "" {
					return s
				}
			}
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > maxDetailBytes {
		cut := maxDetailBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

const maxDetailBytes = 512

// Lookup finds the first of keys directly on v or under a wrapper.
func Lookup(v Value, keys ...string) (any, bool) {
	f, _, ok := first(fieldRules(keys...), v)
	return f, ok
}

// LookupString is Lookup restricted to non-empty strings and whole numbers.
func LookupString(v Value, keys ...string) (string, bool) {
	for _, k := range keys {
		if f, ok := Lookup(v, k); ok {
			if s, ok := idString(f); ok {
				return s, true
			}
		}
	}
	return "", false
}

// Items locates a list of objects: under one of keys (directly or wrapped),
// or the document itself when it is an array. Non-object elements are
// skipped.
func Items(v Value, keys ...string) ([]map[string]any, bool) {
	var raw []any
	if arr, ok := v.Data.([]any); ok {
		raw = arr
	} else if f, ok := Lookup(v, keys...); ok {
		arr, ok := f.([]any)
		if !ok {
			return nil, false
		}
		raw = arr
	} else {
		return nil, false
	}
	out := make([]map[string]any, 0, len(raw))
	for _, it := range raw {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, true
}
