package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/osvaldoandrade/domainscan/pkg/domain"

	"github.com/go-redis/redis/v8"
)

var (
	ErrReportNotFound = errors.New("report not found")
	ErrReportExists   = errors.New("report already exists")
)

// ReportRepository archives reports in Redis: one hash holding the JSON of
// every report and a sorted set indexing ids by creation time.
type ReportRepository interface {
	Save(ctx context.Context, rep domain.Report) error
	Get(ctx context.Context, id string) (*domain.Report, error)
	List(ctx context.Context, offset, limit int) ([]domain.ReportSummary, error)
	Count(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

type reportRedisRepo struct {
	rdb    *redis.Client
	prefix string
}

func NewReportRepository(rdb *redis.Client, prefix string) ReportRepository {
	if prefix == "" {
		prefix = "domainscan"
	}
	return &reportRedisRepo{rdb: rdb, prefix: prefix}
}

func (r *reportRedisRepo) keyReportsHash() string { return r.prefix + ":reports" }
func (r *reportRedisRepo) keyReportsIndex() string {
	return r.prefix + ":reports:idx"
}

// saveReportScript stores the report only when the id is new.
var saveReportScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
return 1
`)

func (r *reportRedisRepo) Save(ctx context.Context, rep domain.Report) error {
	if rep.ID == "" {
		return fmt.Errorf("report id is required")
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	res, err := saveReportScript.Run(ctx, r.rdb,
		[]string{r.keyReportsHash(), r.keyReportsIndex()},
		rep.ID, string(b), rep.CreatedAt.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("redis save report: %w", err)
	}
	if res == 0 {
		return ErrReportExists
	}
	return nil
}

func (r *reportRedisRepo) Get(ctx context.Context, id string) (*domain.Report, error) {
	js, err := r.rdb.HGet(ctx, r.keyReportsHash(), id).Result()
	if err == redis.Nil || (err == nil && js == "") {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis HGET report: %w", err)
	}
	var rep domain.Report
	if err := json.Unmarshal([]byte(js), &rep); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &rep, nil
}

// List returns summaries newest first.
func (r *reportRedisRepo) List(ctx context.Context, offset, limit int) ([]domain.ReportSummary, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 50
	}
	ids, err := r.rdb.ZRevRange(ctx, r.keyReportsIndex(), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ZREVRANGE reports: %w", err)
	}
	if len(ids) == 0 {
		return []domain.ReportSummary{}, nil
	}
	vals, err := r.rdb.HMGet(ctx, r.keyReportsHash(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HMGET reports: %w", err)
	}
	out := make([]domain.ReportSummary, 0, len(vals))
	for _, v := range vals {
		js, ok := v.(string)
		if !ok || js == "" {
			// index entry without a body; skipped until the next Delete
			continue
		}
		var rep domain.Report
		if err := json.Unmarshal([]byte(js), &rep); err != nil {
			return nil, fmt.Errorf("unmarshal report: %w", err)
		}
		out = append(out, rep.Summary())
	}
	return out, nil
}

func (r *reportRedisRepo) Count(ctx context.Context) (int64, error) {
	n, err := r.rdb.ZCard(ctx, r.keyReportsIndex()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ZCARD reports: %w", err)
	}
	return n, nil
}

func (r *reportRedisRepo) Delete(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	del := pipe.HDel(ctx, r.keyReportsHash(), id)
	pipe.ZRem(ctx, r.keyReportsIndex(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete report: %w", err)
	}
	if del.Val() == 0 {
		return ErrReportNotFound
	}
	return nil
}

func (r *reportRedisRepo) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
