package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/osvaldoandrade/domainscan/internal/repository"
	"github.com/osvaldoandrade/domainscan/pkg/domain"
	"github.com/osvaldoandrade/domainscan/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

// Config holds Redis-specific configuration. Empty fields fall back to the
// shared redisAddr and redisPassword settings.
type Config struct {
	Addr      string `json:"addr"`
	Password  string `json:"password,omitempty"`
	KeyPrefix string `json:"keyPrefix,omitempty"`
}

// Plugin implements PluginPersistence for Redis/KVRocks
type Plugin struct {
	client *redis.Client
	repo   repository.ReportRepository
}

// NewPlugin creates a new Redis persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	var cfg Config
	if err := persistence.DecodeConfig(config.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Addr == "" {
		cfg.Addr = config.RedisAddr
	}
	if cfg.Password == "" {
		cfg.Password = config.RedisPassword
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis persistence: addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
	})
	return NewPluginWithClient(client, cfg.KeyPrefix), nil
}

// NewPluginWithClient wraps an existing client. Close closes the client.
func NewPluginWithClient(client *redis.Client, keyPrefix string) *Plugin {
	return &Plugin{client: client, repo: repository.NewReportRepository(client, keyPrefix)}
}

func (p *Plugin) ReportStorage() persistence.ReportStorage {
	return &reportStorageAdapter{repo: p.repo}
}

// Health checks if Redis is healthy
func (p *Plugin) Health(ctx context.Context) error {
	return p.repo.Ping(ctx)
}

// Close releases Redis connection
func (p *Plugin) Close() error {
	return p.client.Close()
}

func init() {
	persistence.RegisterProvider("redis", NewPlugin)
}

// reportStorageAdapter maps repository errors onto the persistence ones.
type reportStorageAdapter struct {
	repo repository.ReportRepository
}

func (a *reportStorageAdapter) Save(ctx context.Context, rep domain.Report) error {
	return mapErr(a.repo.Save(ctx, rep))
}

func (a *reportStorageAdapter) Get(ctx context.Context, id string) (*domain.Report, error) {
	rep, err := a.repo.Get(ctx, id)
	return rep, mapErr(err)
}

func (a *reportStorageAdapter) List(ctx context.Context, offset, limit int) ([]domain.ReportSummary, error) {
	return a.repo.List(ctx, offset, limit)
}

func (a *reportStorageAdapter) Count(ctx context.Context) (int64, error) {
	return a.repo.Count(ctx)
}

func (a *reportStorageAdapter) Delete(ctx context.Context, id string) error {
	return mapErr(a.repo.Delete(ctx, id))
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrReportNotFound):
		return persistence.ErrNotFound
	case errors.Is(err, repository.ErrReportExists):
		return persistence.ErrAlreadyExists
	}
	return err
}
