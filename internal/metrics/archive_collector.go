package metrics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Archive is the part of the report archive the collector reads on scrape.
type Archive interface {
	Count(ctx context.Context) (int64, error)
	Health(ctx context.Context) error
}

// Phases lists every tracker phase so the phase gauge is one-hot.
var Phases = []string{"idle", "submitting", "polling", "completed", "failed"}

type archiveCollector struct {
	store   string
	archive Archive
	phase   func() string
	logger  *slog.Logger

	reportsDesc *prometheus.Desc
	upDesc      *prometheus.Desc
	phaseDesc   *prometheus.Desc
}

func newArchiveCollector(store string, archive Archive, phase func() string, logger *slog.Logger) *archiveCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &archiveCollector{
		store:   store,
		archive: archive,
		phase:   phase,
		logger:  logger,
		reportsDesc: prometheus.NewDesc(
			namespace+"_archive_reports",
			"Reports currently held by the local archive.",
			[]string{"store"},
			nil,
		),
		upDesc: prometheus.NewDesc(
			namespace+"_archive_up",
			"Whether the local archive answered its health check.",
			[]string{"store"},
			nil,
		),
		phaseDesc: prometheus.NewDesc(
			namespace+"_scan_phase",
			"Current phase of the tracked scan (1 for the active phase).",
			[]string{"phase"},
			nil,
		),
	}
}

func (c *archiveCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.reportsDesc
	ch <- c.upDesc
	ch <- c.phaseDesc
}

func (c *archiveCollector) Collect(ch chan<- prometheus.Metric) {
	if c.phase != nil {
		current := c.phase()
		for _, p := range Phases {
			v := 0.0
			if p == current {
				v = 1
			}
			emitGauge(ch, c.phaseDesc, v, p)
		}
	}
	if c.archive == nil {
		return
	}

	// Keep archive reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	up := 1.0
	if err := c.archive.Health(ctx); err != nil {
		c.logger.Warn("prometheus archive collector health failed", "store", c.store, "err", err)
		up = 0
	}
	emitGauge(ch, c.upDesc, up, c.store)
	if up == 0 {
		return
	}
	n, err := c.archive.Count(ctx)
	if err != nil {
		c.logger.Warn("prometheus archive collector count failed", "store", c.store, "err", err)
		return
	}
	emitGauge(ch, c.reportsDesc, float64(n), c.store)
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var (
	collectorsMu sync.Mutex
	collectors   = map[prometheus.Registerer]*archiveCollector{}
)

// RegisterArchiveCollector registers the archive and phase gauges with reg,
// replacing a collector an earlier application left there. The returned
// func unregisters it unless a newer collector has taken its place.
func RegisterArchiveCollector(reg prometheus.Registerer, store string, archive Archive, phase func() string, logger *slog.Logger) (func(), error) {
	c := newArchiveCollector(store, archive, phase, logger)

	collectorsMu.Lock()
	defer collectorsMu.Unlock()
	if err := reg.Register(c); err != nil {
		var dup prometheus.AlreadyRegisteredError
		if !errors.As(err, &dup) {
			return func() {}, err
		}
		reg.Unregister(dup.ExistingCollector)
		if err := reg.Register(c); err != nil {
			return func() {}, err
		}
	}
	collectors[reg] = c

	return func() {
		collectorsMu.Lock()
		defer collectorsMu.Unlock()
		if collectors[reg] != c {
			return
		}
		reg.Unregister(c)
		delete(collectors, reg)
	}, nil
}
