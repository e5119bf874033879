package bench

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/domainscan/internal/fakeanalysis"
	"github.com/osvaldoandrade/domainscan/internal/tracker"
	_ "github.com/osvaldoandrade/domainscan/pkg/analysisapi/v1" // Register v1 contract.
	"github.com/osvaldoandrade/domainscan/pkg/app"
	_ "github.com/osvaldoandrade/domainscan/pkg/auth/static" // Register static auth provider.
	"github.com/osvaldoandrade/domainscan/pkg/config"
	_ "github.com/osvaldoandrade/domainscan/pkg/persistence/redis" // Register redis report store.
)

const benchToken = "bench-token"

func newBenchApp(b *testing.B) *app.Application {
	b.Helper()
	gin.SetMode(gin.ReleaseMode)

	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis start: %v", err)
	}
	b.Cleanup(mr.Close)

	remote := fakeanalysis.New()
	b.Cleanup(remote.Close)
	remote.Results(fakeanalysis.Step{Body: map[string]any{"results": []any{
		map[string]any{"domain_name": "bench.example", "snapshots": 10},
	}}})

	authCfg, _ := json.Marshal(map[string]any{"token": benchToken, "subject": "bench"})
	cfg := &config.Config{
		Env:                   "dev",
		LogLevel:              "error",
		LogFormat:             "json",
		RedisAddr:             mr.Addr(),
		APIBaseURL:            remote.URL,
		APIVersion:            "v1",
		ObserveMode:           "poll",
		PollIntervalMillis:    1,
		RequestTimeoutSeconds: 5,
		MaxTransportRetries:   1,
		ResultFetchAttempts:   1,
		BackoffPolicy:         "fixed",
		BackoffBaseMillis:     1,
		BackoffMaxMillis:      1,
		ReportStore:           "redis",
		AuthProvider:          "static",
		AuthConfig:            string(authCfg),

		// Benchmarks keep rate limiting disabled.
		RateLimit: config.RateLimitConfig{},
	}

	a, err := app.NewApplication(cfg)
	if err != nil {
		b.Fatalf("app init: %v", err)
	}
	app.SetupMappings(a)
	b.Cleanup(func() {
		_ = a.Close()
		_ = a.TracingShutdown(context.Background())
	})
	return a
}

func doJSONRequest(b *testing.B, h http.Handler, method, path, bearerToken string, body []byte) (int, []byte) {
	b.Helper()

	var rbody *bytes.Reader
	if body == nil {
		rbody = bytes.NewReader([]byte{})
	} else {
		rbody = bytes.NewReader(body)
	}

	req := httptest.NewRequest(method, path, rbody)
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code, w.Body.Bytes()
}

func waitTerminal(b *testing.B, a *app.Application) tracker.State {
	b.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st := a.Scans.Current(); st.Phase.IsTerminal() {
			return st
		}
		time.Sleep(100 * time.Microsecond)
	}
	b.Fatalf("scan did not finish")
	return tracker.State{}
}

func BenchmarkHTTP_SubmitObserveSave(b *testing.B) {
	a := newBenchApp(b)
	submitBody := []byte(`{"domains":["bench.example","other.example"]}`)
	saveBody := []byte(`{"name":"bench"}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		status, resp := doJSONRequest(b, a.Engine, http.MethodPost, "/v1/scans", benchToken, submitBody)
		if status != http.StatusAccepted {
			b.Fatalf("submit status %d body=%s", status, string(resp))
		}
		if st := waitTerminal(b, a); st.Phase != tracker.PhaseCompleted {
			b.Fatalf("scan ended in %s: %s", st.Phase, st.Error)
		}
		status, resp = doJSONRequest(b, a.Engine, http.MethodPost, "/v1/reports", benchToken, saveBody)
		if status != http.StatusCreated {
			b.Fatalf("save status %d body=%s", status, string(resp))
		}
	}
}

func BenchmarkHTTP_CurrentScan(b *testing.B) {
	a := newBenchApp(b)
	if _, err := a.Scans.Submit(context.Background(), []string{"bench.example"}); err != nil {
		b.Fatalf("submit: %v", err)
	}
	waitTerminal(b, a)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		status, resp := doJSONRequest(b, a.Engine, http.MethodGet, "/v1/scans/current", benchToken, nil)
		if status != http.StatusOK {
			b.Fatalf("current status %d body=%s", status, string(resp))
		}
	}
}
