// Package v1 is the current analysis service contract: JSON task creation
// with a plain domain list, a report endpoint per task and a server-sent
// status stream.
package v1

import (
	"context"
	"net/http"

	"github.com/osvaldoandrade/domainscan/internal/normalize"
	"github.com/osvaldoandrade/domainscan/pkg/analysisapi"
	"github.com/osvaldoandrade/domainscan/pkg/domain"
)

const Version = "v1"

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

type createRequest struct {
	Domains []string `json:"domains"`
}

func (c *client) CreateTask(ctx context.Context, domains []string) (string, error) {
	v, err := c.Call(ctx, "create_task", http.MethodPost, "/analysis/tasks", createRequest{Domains: domains})
	if err != nil {
		return "", analysisapi.CreationFailure(err)
	}
	id, tr := normalize.TaskID(v)
	c.Note("create_task", "task_id", tr)
	return id, nil
}

func (c *client) GetResults(ctx context.Context, id string) ([]domain.AnalysisResult, error) {
	return c.Results(ctx, "get_results", "/analysis/tasks/"+analysisapi.PathID(id)+"/report")
}

func (c *client) StreamStatus(ctx context.Context, id string) (analysisapi.Stream, error) {
	resp, err := c.Open(ctx, "stream_status", "/analysis/tasks/"+analysisapi.PathID(id)+"/stream-status", "text/event-stream")
	if err != nil {
		return nil, err
	}
	return analysisapi.NewEventStream(resp.Body, func(tr normalize.Trace) {
		c.Note("stream_status", "status", tr)
	}), nil
}
