package domain

// Long-live thresholds over the archive metrics the remote service reports.
const (
	LongLiveMinSnapshots   = 5
	LongLiveMinYears       = 3
	LongLiveMaxAvgInterval = 90
	LongLiveMaxGap         = 180
	LongLiveMinTimemap     = 200
)

// IsLongLive reports whether a result's snapshot history is dense and old
// enough to count as a long-lived domain. Missing metrics never qualify.
func IsLongLive(r AnalysisResult) bool {
	snapshots, ok1 := r.Float("total_snapshots")
	years, ok2 := r.Float("years_covered")
	interval, ok3 := r.Float("avg_interval_days")
	gap, ok4 := r.Float("max_gap_days")
	timemap, ok5 := r.Float("timemap_count")
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return false
	}
	return snapshots >= LongLiveMinSnapshots &&
		years >= LongLiveMinYears &&
		interval < LongLiveMaxAvgInterval &&
		gap < LongLiveMaxGap &&
		timemap > LongLiveMinTimemap
}

// ResultFilter narrows a result list for display. Zero values disable a bound.
// A result lacking a metric is not excluded by that metric's bound.
type ResultFilter struct {
	MinSnapshots    float64
	MinYears        float64
	MaxAvgInterval  float64
	MaxGap          float64
	MinTimemap      float64
	RecommendedOnly bool
	LongLiveOnly    bool
}

func (f ResultFilter) Match(r AnalysisResult) bool {
	if v, ok := r.Float("total_snapshots"); ok && f.MinSnapshots > 0 && v < f.MinSnapshots {
		return false
	}
	if v, ok := r.Float("years_covered"); ok && f.MinYears > 0 && v < f.MinYears {
		return false
	}
	if v, ok := r.Float("avg_interval_days"); ok && f.MaxAvgInterval > 0 && v > f.MaxAvgInterval {
		return false
	}
	if v, ok := r.Float("max_gap_days"); ok && f.MaxGap > 0 && v > f.MaxGap {
		return false
	}
	if v, ok := r.Float("timemap_count"); ok && f.MinTimemap > 0 && v < f.MinTimemap {
		return false
	}
	if f.RecommendedOnly {
		if rec, ok := r.Bool("recommended"); !ok || !rec {
			return false
		}
	}
	if f.LongLiveOnly && !IsLongLive(r) {
		return false
	}
	return true
}

func (f ResultFilter) Apply(results []AnalysisResult) []AnalysisResult {
	out := make([]AnalysisResult, 0, len(results))
	for _, r := range results {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}
