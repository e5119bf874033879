// Package legacy is the first analysis service contract: domains are sent as
// objects, results live under /analysis/results and there is no push
// channel.
package legacy

import (
	"context"
	"net/http"

	"github.com/osvaldoandrade/domainscan/internal/normalize"
	"github.com/osvaldoandrade/domainscan/pkg/analysisapi"
	"github.com/osvaldoandrade/domainscan/pkg/domain"
)

const Version = "legacy"

type client struct {
	analysisapi.Common
}

func New(opts analysisapi.Options) (analysisapi.API, error) {
	c, err := analysisapi.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &client{Common: analysisapi.Common{Client: c}}, nil
}

func init() {
	analysisapi.Register(Version, New)
}

func (c *client) Version() string { return Version }

type domainEntry struct {
	DomainName string `json:"domain_name"`
}

type createRequest struct {
	Domains []domainEntry `json:"domains"`
}

func (c *client) CreateTask(ctx context.Context, domains []string) (string, error) {
	req := createRequest{Domains: make([]domainEntry, 0, len(domains))}
	for _, d := range domains {
		req.Domains = append(req.Domains, domainEntry{DomainName: d})
	}
	v, err := c.Call(ctx, "create_task", http.MethodPost, "/analysis/tasks/", req)
	if err != nil {
		return "", analysisapi.CreationFailure(err)
	}
	id, tr := normalize.TaskID(v)
	c.Note("create_task", "task_id", tr)
	return id, nil
}

func (c *client) GetResults(ctx context.Context, id string) ([]domain.AnalysisResult, error) {
	return c.Results(ctx, "get_results", "/analysis/results/"+analysisapi.PathID(id))
}

func (c *client) StreamStatus(context.Context, string) (analysisapi.Stream, error) {
	return nil, analysisapi.ErrStreamUnsupported
}
