package submitter

import (
	"context"
	"log/slog"
	"strings"

	"github.com/osvaldoandrade/domainscan/internal/metrics"
	"github.com/osvaldoandrade/domainscan/pkg/analysisapi"
	"github.com/osvaldoandrade/domainscan/pkg/domain"
	"golang.org/x/net/idna"
)

const maxDomainLength = 253

// ParseDomains turns newline-separated user text into a domain list. Entries
// are trimmed, blank lines dropped, names canonicalised to lower-case ASCII
// and duplicates removed keeping the first occurrence. An empty result is a
// *domain.ValidationError.
func ParseDomains(text string) ([]string, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		name := Canonical(line)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, &domain.ValidationError{Field: "domains", Reason: "at least one domain is required"}
	}
	return out, nil
}

// Canonical trims a single entry and converts it to its ASCII form. Input the
// IDNA profile rejects is kept as typed (lower-cased); the analysis service is
// the authority on what it accepts.
func Canonical(entry string) string {
	name := strings.TrimSpace(entry)
	if name == "" {
		return ""
	}
	name = strings.TrimSuffix(name, ".")
	if ascii, err := idna.Lookup.ToASCII(name); err == nil && ascii != "" && len(ascii) <= maxDomainLength {
		return ascii
	}
	return strings.ToLower(name)
}

// Submitter creates analysis tasks.
type Submitter struct {
	api    analysisapi.API
	logger *slog.Logger
}

func New(api analysisapi.API, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{api: api, logger: logger}
}

// Submit validates text and issues exactly one create request. Validation
// failures make no network call. Creation is never retried.
func (s *Submitter) Submit(ctx context.Context, text string) (string, []string, error) {
	domains, err := s.Parse(text)
	if err != nil {
		return "", nil, err
	}
	id, err := s.Create(ctx, domains)
	return id, domains, err
}

// Parse is ParseDomains with submission metrics.
func (s *Submitter) Parse(text string) ([]string, error) {
	domains, err := ParseDomains(text)
	if err != nil {
		metrics.TasksSubmittedTotal.WithLabelValues("validation_error").Inc()
		return nil, err
	}
	return domains, nil
}

// Create issues the create request for an already parsed list.
func (s *Submitter) Create(ctx context.Context, domains []string) (string, error) {
	id, err := s.api.CreateTask(ctx, domains)
	if err != nil {
		metrics.TasksSubmittedTotal.WithLabelValues("creation_error").Inc()
		s.logger.Warn("create task failed", "domains", len(domains), "err", err)
		return "", analysisapi.CreationFailure(err)
	}
	metrics.TasksSubmittedTotal.WithLabelValues("created").Inc()
	s.logger.Info("task created", "taskId", id, "domains", len(domains))
	return id, nil
}
