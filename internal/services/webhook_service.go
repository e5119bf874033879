package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/osvaldoandrade/domainscan/internal/metrics"
	"github.com/osvaldoandrade/domainscan/internal/tracing"
	"github.com/osvaldoandrade/domainscan/internal/tracker"
)

const (
	SignatureHeader = "X-Domainscan-Signature"
	TimestampHeader = "X-Domainscan-Timestamp"
)

// WebhookService posts a signed JSON event when a scan reaches a terminal
// phase. Delivery runs in the background and is retried with exponential
// backoff.
type WebhookService interface {
	Notify(st tracker.State)
	// Close waits for in-flight deliveries and aborts their retries.
	Close()
}

// ScanEvent is the webhook body.
type ScanEvent struct {
	Event       string    `json:"event"`
	Generation  uint64    `json:"generation"`
	TaskID      string    `json:"taskId"`
	Phase       string    `json:"phase"`
	Status      string    `json:"status,omitempty"`
	Domains     []string  `json:"domains"`
	ResultCount int       `json:"resultCount"`
	Error       string    `json:"error,omitempty"`
	FinishedAt  time.Time `json:"finishedAt"`
}

type webhookService struct {
	logger      *slog.Logger
	url         string
	secret      string
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	client      *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWebhookService returns nil when url is empty.
func NewWebhookService(logger *slog.Logger, url string, secret string, maxAttempts int, baseDelay time.Duration, maxDelay time.Duration, client *http.Client) WebhookService {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &webhookService{
		logger:      logger,
		url:         url,
		secret:      secret,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		client:      client,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func eventFor(st tracker.State) ScanEvent {
	ev := ScanEvent{
		Event:       "scan." + string(st.Phase),
		Generation:  st.Generation,
		TaskID:      st.TaskID,
		Phase:       string(st.Phase),
		Domains:     st.Domains,
		ResultCount: len(st.Results),
		Error:       st.Error,
		FinishedAt:  st.UpdatedAt.UTC(),
	}
	if st.Task != nil {
		ev.Status = string(st.Task.Status)
	}
	return ev
}

func (s *webhookService) Notify(st tracker.State) {
	if !st.Phase.IsTerminal() {
		return
	}
	b, err := json.Marshal(eventFor(st))
	if err != nil {
		s.logger.Warn("webhook payload encode failed", "err", err)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sendWithRetry(s.ctx, string(st.Phase), b)
	}()
}

func (s *webhookService) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *webhookService) sendWithRetry(ctx context.Context, kind string, body []byte) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			s.logger.Warn("webhook request build failed", "err", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		tracing.InjectHeaders(ctx, req.Header)
		s.addSignature(req, body)
		resp, err := s.client.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			_ = resp.Body.Close()
			metrics.WebhookDeliveriesTotal.WithLabelValues(kind, "success").Inc()
			return
		}
		if resp != nil {
			_ = resp.Body.Close()
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < s.maxAttempts {
			if sleepOrDone(ctx, s.backoffDelay(attempt)) != nil {
				break
			}
		}
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues(kind, "failure").Inc()
	s.logger.Warn("scan webhook failed", "url", s.url, "attempts", s.maxAttempts)
}

func (s *webhookService) backoffDelay(attempt int) time.Duration {
	if attempt > 30 {
		return s.maxDelay
	}
	d := s.baseDelay * time.Duration(1<<uint(attempt-1))
	if d > s.maxDelay || d <= 0 {
		d = s.maxDelay
	}
	return d
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *webhookService) addSignature(req *http.Request, body []byte) {
	if strings.TrimSpace(s.secret) == "" {
		return
	}
	ts := time.Now().UTC().Unix()
	req.Header.Set(TimestampHeader, fmt.Sprintf("%d", ts))
	req.Header.Set(SignatureHeader, Sign(s.secret, ts, body))
}

// Sign is the hex HMAC-SHA256 of "<unix ts>.<body>" under secret.
func Sign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.", ts)))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
