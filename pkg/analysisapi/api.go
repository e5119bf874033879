// Package analysisapi talks to the remote domain analysis service.
//
// The service has shipped more than one contract. Each version lives in its
// own subpackage and registers itself here; callers pick one by name and
// never try alternative paths at runtime.
package analysisapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/osvaldoandrade/domainscan/pkg/domain"
)

// ErrStreamUnsupported is returned by StreamStatus when the contract has no
// push channel.
var ErrStreamUnsupported = errors.New("status stream not supported by this api version")

type API interface {
	Version() string

	// CreateTask submits domains and returns the task id. Failures are
	// always *domain.CreationError.
	CreateTask(ctx context.Context, domains []string) (string, error)
	GetTask(ctx context.Context, id string) (domain.AnalysisTask, error)
	GetResults(ctx context.Context, id string) ([]domain.AnalysisResult, error)
	StreamStatus(ctx context.Context, id string) (Stream, error)

	SaveReport(ctx context.Context, req ReportRequest) (string, error)
	ListReports(ctx context.Context) ([]domain.Report, error)
	GetReport(ctx context.Context, id string) (domain.Report, error)
	ListTasks(ctx context.Context, page, pageSize int) (TaskPage, error)
	Health(ctx context.Context) error
}

// Event is one pushed status update. Complete is set on the last event of a
// stream.
type Event struct {
	Task     domain.AnalysisTask
	Complete bool
}

// Stream yields status events until the server closes it (io.EOF).
type Stream interface {
	Next() (Event, error)
	Close() error
}

type ReportRequest struct {
	TaskID  string
	Name    string
	Domains []string
	Results []domain.AnalysisResult
}

type TaskPage struct {
	Items    []domain.AnalysisTask
	Total    int
	Page     int
	PageSize int
}

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	// Timeout bounds each request/response exchange. Streams are bounded
	// only by their context.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Factory builds a client for one contract version.
type Factory func(opts Options) (API, error)

var (
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

// Register makes a contract version available to New.
func Register(version string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[version] = factory
}

func New(version string, opts Options) (API, error) {
	mu.RLock()
	factory, ok := registry[version]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown analysis api version: %s", version)
	}
	return factory(opts)
}

// Versions returns the registered versions, sorted.
func Versions() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(registry))
	for v := range registry {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
