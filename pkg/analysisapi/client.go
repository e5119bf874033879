package analysisapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/osvaldoandrade/domainscan/internal/metrics"
	"github.com/osvaldoandrade/domainscan/internal/normalize"
	"github.com/osvaldoandrade/domainscan/internal/tracing"
	"github.com/osvaldoandrade/domainscan/pkg/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxBodyBytes = 16 << 20

// Client is the HTTP transport shared by every contract version.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Timeout time.Duration
	Logger  *slog.Logger

	tracer trace.Tracer
}

func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid analysis api base url %q", opts.BaseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: base,
		HTTP:    hc,
		Timeout: opts.Timeout,
		Logger:  logger,
		tracer:  otel.Tracer("domainscan/analysisapi"),
	}, nil
}

// Call performs one JSON exchange and decodes the 2xx body. An empty 2xx
// body decodes to a nil Value.
func (c *Client) Call(ctx context.Context, op, method, path string, body any) (normalize.Value, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	ctx, span := c.tracer.Start(ctx, "analysisapi."+op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		))
	defer span.End()

	start := time.Now()
	v, status, err := c.call(ctx, method, path, body)
	metrics.RemoteRequestLatencySeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if status > 0 {
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	if err != nil {
		metrics.RemoteRequestsTotal.WithLabelValues(op, outcome(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return normalize.Value{}, err
	}
	metrics.RemoteRequestsTotal.WithLabelValues(op, "ok").Inc()
	return v, nil
}

func (c *Client) call(ctx context.Context, method, path string, body any) (normalize.Value, int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return normalize.Value{}, 0, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return normalize.Value{}, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tracing.InjectHeaders(ctx, req.Header)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return normalize.Value{}, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return normalize.Value{}, resp.StatusCode, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return normalize.Value{}, resp.StatusCode, &HTTPError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Detail:     normalize.ErrorDetail(raw),
		}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return normalize.Value{}, resp.StatusCode, nil
	}
	v, err := normalize.Decode(raw)
	if err != nil {
		return normalize.Value{}, resp.StatusCode, &domain.MalformedResponseError{Reason: fmt.Sprintf("%s %s: %v", method, path, err)}
	}
	return v, resp.StatusCode, nil
}

// Open starts a long-lived GET, typically an event stream. The caller owns
// the response body.
func (c *Client) Open(ctx context.Context, op, path, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Cache-Control", "no-cache")
	tracing.InjectHeaders(ctx, req.Header)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		metrics.RemoteRequestsTotal.WithLabelValues(op, "transport_error").Inc()
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		herr := &HTTPError{Method: http.MethodGet, Path: path, StatusCode: resp.StatusCode, Detail: normalize.ErrorDetail(raw)}
		metrics.RemoteRequestsTotal.WithLabelValues(op, outcome(herr)).Inc()
		return nil, herr
	}
	metrics.RemoteRequestsTotal.WithLabelValues(op, "ok").Inc()
	return resp, nil
}

// Note logs the warnings of a degraded extraction.
func (c *Client) Note(op, field string, tr normalize.Trace) {
	if len(tr.Warnings) == 0 {
		return
	}
	metrics.NormalizerFallbacksTotal.WithLabelValues(field, tr.Rule).Inc()
	for _, w := range tr.Warnings {
		c.Logger.Warn("analysis response degraded", "op", op, "field", field, "rule", tr.Rule, "warning", w)
	}
}

func outcome(err error) string {
	var he *HTTPError
	if errors.As(err, &he) {
		return fmt.Sprintf("http_%dxx", he.StatusCode/100)
	}
	var me *domain.MalformedResponseError
	if errors.As(err, &me) {
		return "malformed"
	}
	return "transport_error"
}

// CreationFailure wraps any CreateTask error as *domain.CreationError.
func CreationFailure(err error) error {
	var ce *domain.CreationError
	if errors.As(err, &ce) {
		return err
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return &domain.CreationError{StatusCode: he.StatusCode, Detail: he.Detail, Err: err}
	}
	return &domain.CreationError{Detail: err.Error(), Err: err}
}

// PathID escapes a task or report id for use as a path segment.
func PathID(id string) string {
	return url.PathEscape(strings.TrimSpace(id))
}
