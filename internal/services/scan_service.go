package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/osvaldoandrade/domainscan/internal/tracker"
	"github.com/osvaldoandrade/domainscan/pkg/analysisapi"
)

// ScanService owns the single tracked scan of the gateway.
type ScanService interface {
	Submit(ctx context.Context, domains []string) (tracker.State, error)
	Current() tracker.State
	Cancel() tracker.State
	Subscribe() (<-chan tracker.State, func())
	Close()
}

type scanService struct {
	tracker *tracker.Tracker
	webhook WebhookService
	logger  *slog.Logger
}

// NewScanService builds the tracker. When webhook is non-nil every
// terminal scan is announced through it.
func NewScanService(api analysisapi.API, opts tracker.Options, webhook WebhookService, logger *slog.Logger) ScanService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &scanService{webhook: webhook, logger: logger}
	opts.Logger = logger
	next := opts.OnFinish
	opts.OnFinish = func(st tracker.State) {
		if s.webhook != nil {
			s.webhook.Notify(st)
		}
		if next != nil {
			next(st)
		}
	}
	s.tracker = tracker.New(api, opts)
	return s
}

// Submit accepts the domains as list entries; each entry may itself hold
// several newline separated names.
func (s *scanService) Submit(ctx context.Context, domains []string) (tracker.State, error) {
	return s.tracker.Submit(ctx, strings.Join(domains, "\n"))
}

func (s *scanService) Current() tracker.State { return s.tracker.Snapshot() }

func (s *scanService) Cancel() tracker.State { return s.tracker.Cancel() }

func (s *scanService) Subscribe() (<-chan tracker.State, func()) { return s.tracker.Subscribe() }

func (s *scanService) Close() {
	s.tracker.Close()
	if s.webhook != nil {
		s.webhook.Close()
	}
}
