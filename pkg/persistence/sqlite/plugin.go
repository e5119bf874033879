// Package sqlite archives reports in a local SQLite database through the
// pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/osvaldoandrade/domainscan/pkg/domain"
	"github.com/osvaldoandrade/domainscan/pkg/persistence"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed schema.sql
var schemaSQL string

// Config holds SQLite-specific configuration. An empty path falls back to
// the shared sqlitePath setting.
type Config struct {
	Path string `json:"path"`
}

type Plugin struct {
	db *sql.DB
}

func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	var cfg Config
	if err := persistence.DecodeConfig(config.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		cfg.Path = config.SQLitePath
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite persistence: path is required")
	}
	return Open(cfg.Path)
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Plugin, error) {
	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; the driver serialises anyway.
	db.SetMaxOpenConns(1)
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Plugin{db: db}, nil
}

func applySchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func (p *Plugin) ReportStorage() persistence.ReportStorage {
	return &reportStorage{db: p.db}
}

func (p *Plugin) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Plugin) Close() error {
	return p.db.Close()
}

func init() {
	persistence.RegisterProvider("sqlite", NewPlugin)
}

type reportStorage struct {
	db *sql.DB
}

func (s *reportStorage) Save(ctx context.Context, rep domain.Report) error {
	if rep.ID == "" {
		return fmt.Errorf("report id is required")
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (id, name, task_id, remote_id, domain_count, created_at, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		rep.ID, rep.Name, rep.TaskID, rep.RemoteID, len(rep.Results), rep.CreatedAt.UnixMilli(), string(body),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return persistence.ErrAlreadyExists
	}
	return nil
}

func (s *reportStorage) Get(ctx context.Context, id string) (*domain.Report, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM reports WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select report: %w", err)
	}
	var rep domain.Report
	if err := json.Unmarshal([]byte(body), &rep); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &rep, nil
}

func (s *reportStorage) List(ctx context.Context, offset, limit int) ([]domain.ReportSummary, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, task_id, domain_count, created_at FROM reports
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	out := []domain.ReportSummary{}
	for rows.Next() {
		var sum domain.ReportSummary
		var created int64
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.TaskID, &sum.DomainCount, &created); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		sum.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *reportStorage) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	return n, nil
}

func (s *reportStorage) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
