package persistence

import (
	"context"
	"errors"

	"github.com/osvaldoandrade/domainscan/pkg/domain"
)

var (
	// ErrNotFound is returned when a report does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a report id is already taken
	ErrAlreadyExists = errors.New("already exists")
)

// PluginPersistence is implemented by every report archive backend.
type PluginPersistence interface {
	// ReportStorage returns the report storage implementation
	ReportStorage() ReportStorage

	// Health checks if the persistence backend is healthy
	Health(ctx context.Context) error

	// Close releases resources held by the persistence backend
	Close() error
}

// ReportStorage archives saved scan reports.
type ReportStorage interface {
	// Save stores a new report. ErrAlreadyExists when the id is taken.
	Save(ctx context.Context, rep domain.Report) error

	// Get retrieves a report by id. ErrNotFound when missing.
	Get(ctx context.Context, id string) (*domain.Report, error)

	// List returns report summaries, newest first.
	List(ctx context.Context, offset, limit int) ([]domain.ReportSummary, error)

	Count(ctx context.Context) (int64, error)

	// Delete removes a report. ErrNotFound when missing.
	Delete(ctx context.Context, id string) error
}
