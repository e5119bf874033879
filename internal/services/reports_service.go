package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/osvaldoandrade/domainscan/internal/metrics"
	"github.com/osvaldoandrade/domainscan/internal/tracker"
	"github.com/osvaldoandrade/domainscan/pkg/analysisapi"
	"github.com/osvaldoandrade/domainscan/pkg/domain"
	"github.com/osvaldoandrade/domainscan/pkg/persistence"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNoCompletedScan is returned when saving while the current scan has
	// not completed with results.
	ErrNoCompletedScan = errors.New("no completed scan to save")
	ErrReportNotFound  = errors.New("report not found")
)

// RemoteSaveError is a report the remote service refused to store.
type RemoteSaveError struct {
	Err error
}

func (e *RemoteSaveError) Error() string { return "remote report save failed: " + e.Err.Error() }
func (e *RemoteSaveError) Unwrap() error { return e.Err }

type ReportsService interface {
	// Save stores the current completed scan under name, remotely and in the
	// local archive.
	Save(ctx context.Context, name string) (*domain.Report, error)
	Get(ctx context.Context, id string) (*domain.Report, error)
	List(ctx context.Context, offset, limit int) ([]domain.ReportSummary, int64, error)
	// Delete drops the archived copy. The remote service keeps its own.
	Delete(ctx context.Context, id string) error
}

type reportsService struct {
	api     analysisapi.API
	scans   ScanService
	archive persistence.ReportStorage
	store   string
	logger  *slog.Logger
	now     func() time.Time
}

func NewReportsService(api analysisapi.API, scans ScanService, archive persistence.ReportStorage, store string, logger *slog.Logger, now func() time.Time) ReportsService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &reportsService{api: api, scans: scans, archive: archive, store: store, logger: logger, now: now}
}

func (s *reportsService) Save(ctx context.Context, name string) (*domain.Report, error) {
	st := s.scans.Current()
	if st.Phase != tracker.PhaseCompleted {
		return nil, ErrNoCompletedScan
	}

	ctx, span := otel.Tracer("domainscan/reports").Start(ctx, "domainscan.report.save",
		trace.WithAttributes(
			attribute.String("domainscan.task_id", st.TaskID),
			attribute.Int("domainscan.result_count", len(st.Results)),
		),
	)
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("scan %s", s.now().UTC().Format("2006-01-02 15:04"))
	}
	rep := domain.Report{
		ID:        uuid.NewString(),
		Name:      name,
		TaskID:    st.TaskID,
		Domains:   st.Domains,
		Results:   st.Results,
		CreatedAt: s.now().UTC(),
	}

	// A placeholder id is unknown to the remote service; keep such reports local.
	if st.Degraded {
		metrics.ReportsSavedTotal.WithLabelValues("remote", "skipped").Inc()
		s.logger.Warn("saving report locally only; task id is a placeholder", "taskId", st.TaskID)
	} else {
		remoteID, err := s.api.SaveReport(ctx, analysisapi.ReportRequest{
			TaskID:  st.TaskID,
			Name:    name,
			Domains: st.Domains,
			Results: st.Results,
		})
		if err != nil {
			metrics.ReportsSavedTotal.WithLabelValues("remote", "error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, &RemoteSaveError{Err: err}
		}
		metrics.ReportsSavedTotal.WithLabelValues("remote", "ok").Inc()
		rep.RemoteID = remoteID
	}

	if err := s.archive.Save(ctx, rep); err != nil {
		metrics.ReportsSavedTotal.WithLabelValues(s.store, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("archive report: %w", err)
	}
	metrics.ReportsSavedTotal.WithLabelValues(s.store, "ok").Inc()
	s.logger.Info("report saved", "reportId", rep.ID, "remoteId", rep.RemoteID, "taskId", rep.TaskID, "results", len(rep.Results))
	return &rep, nil
}

func (s *reportsService) Get(ctx context.Context, id string) (*domain.Report, error) {
	rep, err := s.archive.Get(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrReportNotFound
	}
	return rep, err
}

func (s *reportsService) List(ctx context.Context, offset, limit int) ([]domain.ReportSummary, int64, error) {
	items, err := s.archive.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.archive.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *reportsService) Delete(ctx context.Context, id string) error {
	err := s.archive.Delete(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrReportNotFound
	}
	if err != nil {
		return fmt.Errorf("delete report %s: %w", id, err)
	}
	s.logger.Info("report deleted", "reportId", id)
	return nil
}
