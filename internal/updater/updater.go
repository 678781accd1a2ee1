// Package updater implements the Updater (C5): the periodic loop that
// crawls every collector, writes newly discovered files into the Index
// Store, rebuilds the latest-files snapshot, and fans inserted rows out to
// the Notifier.
package updater

import (
	"context"
	"os"
	"time"

	"github.com/bgpkit/broker/internal/catalog"
	"github.com/bgpkit/broker/internal/crawl"
	"github.com/bgpkit/broker/internal/metrics"
	"github.com/bgpkit/broker/internal/notify"
	"github.com/bgpkit/broker/internal/snapshot"
	"github.com/bgpkit/broker/internal/store"
	"github.com/bgpkit/broker/pkg/broker"
	"go.uber.org/zap"
)

// safetyWindowDefault is one update cadence (15 minutes), used to rediscover
// late-arriving files per §4.5 step 2.
const safetyWindowDefault = 15 * time.Minute

// Config controls the Updater's loop cadence and cold-start behavior.
type Config struct {
	Interval      time.Duration
	SafetyWindow  time.Duration
	MetaRetention time.Duration
	HeartbeatURL  string
	Bootstrap     bool
	BootstrapURL  string
	CrawlLimits   crawl.Limits
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 300 * time.Second
	}
	if c.SafetyWindow <= 0 {
		c.SafetyWindow = safetyWindowDefault
	}
	if c.MetaRetention <= 0 {
		c.MetaRetention = 30 * 24 * time.Hour
	}
	return c
}

// Updater owns one crawl-insert-notify cycle per project and runs it on a
// ticker.
type Updater struct {
	cfg      Config
	store    *store.Store
	notifier *notify.Notifier
	riperis  crawl.Crawler
	rviews   crawl.Crawler
	logger   *zap.Logger
}

// EnsureBootstrapped downloads bootstrapURL to path if no file exists there
// yet. Must be called before store.Open, since Open creates an empty file
// when the path is absent. No-op if a file is already present.
func EnsureBootstrapped(ctx context.Context, path, bootstrapURL string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	logger.Info("updater: store file absent, bootstrapping", zap.String("path", path), zap.String("source", bootstrapURL))
	return snapshot.Bootstrap(ctx, bootstrapURL, path, true)
}

func New(cfg Config, s *store.Store, notifier *notify.Notifier, riperis, rviews crawl.Crawler, logger *zap.Logger) *Updater {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{
		cfg:      cfg.withDefaults(),
		store:    s,
		notifier: notifier,
		riperis:  riperis,
		rviews:   rviews,
		logger:   logger,
	}
}

// Run blocks, executing one cycle immediately and then every cfg.Interval,
// until ctx is canceled. A panic inside a crawl goroutine is not recovered
// anywhere: it terminates the whole process with a non-zero exit status
// instead of returning from Run, leaving the restart to the process
// supervisor (§4.5 panic semantics).
//
// Bootstrap mode (downloading a remote snapshot when the store file is
// absent) runs before the Store is opened, since Store.Open creates the
// file if missing — see EnsureBootstrapped, called from cmd/broker before
// constructing the Updater.
func (u *Updater) Run(ctx context.Context) error {
	ticker := time.NewTicker(u.cfg.Interval)
	defer ticker.Stop()

	if err := u.runCycle(ctx); err != nil {
		u.logger.Error("updater: cycle failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := u.runCycle(ctx); err != nil {
				u.logger.Error("updater: cycle failed", zap.Error(err))
			}
		}
	}
}

func (u *Updater) runCycle(ctx context.Context) error {
	start := time.Now()

	latest, err := u.store.LatestPerCollector(ctx)
	if err != nil {
		u.logger.Error("updater: reading latest_per_collector failed", zap.Error(err))
		_ = u.store.AppendMeta(ctx, start, time.Since(start), 0)
		return err
	}
	lastTsByCollector := make(map[string]time.Time, len(latest))
	for _, lf := range latest {
		if existing, ok := lastTsByCollector[lf.CollectorID]; !ok || lf.TsStart.After(existing) {
			lastTsByCollector[lf.CollectorID] = lf.TsStart
		}
	}

	allCollectors := catalog.All()
	riperisCollectors := make([]broker.Collector, 0, len(allCollectors))
	rviewsCollectors := make([]broker.Collector, 0, len(allCollectors))
	for _, c := range allCollectors {
		switch c.Project {
		case broker.ProjectRIPERIS:
			riperisCollectors = append(riperisCollectors, c)
		case broker.ProjectRouteViews:
			rviewsCollectors = append(rviewsCollectors, c)
		}
	}

	fromTS := func(c broker.Collector) time.Time {
		from := c.ActivatedOn
		if last, ok := lastTsByCollector[c.Name]; ok {
			candidate := last.Add(-u.cfg.SafetyWindow)
			if candidate.After(from) {
				from = candidate
			}
		}
		return from
	}

	items := make(map[string][]broker.BrokerItem)
	projectOf := make(map[string]broker.Project)

	if u.riperis != nil && len(riperisCollectors) > 0 {
		res, errs := crawl.CrawlAll(ctx, u.riperis, riperisCollectors, fromTS, u.cfg.CrawlLimits, u.logger)
		for name, rows := range res {
			items[name] = rows
			projectOf[name] = broker.ProjectRIPERIS
		}
		for name, err := range errs {
			metrics.CrawlErrorsTotal.WithLabelValues(name, "crawl").Inc()
			u.logger.Warn("updater: riperis collector failed", zap.String("collector", name), zap.Error(err))
		}
	}
	if u.rviews != nil && len(rviewsCollectors) > 0 {
		res, errs := crawl.CrawlAll(ctx, u.rviews, rviewsCollectors, fromTS, u.cfg.CrawlLimits, u.logger)
		for name, rows := range res {
			items[name] = rows
			projectOf[name] = broker.ProjectRouteViews
		}
		for name, err := range errs {
			metrics.CrawlErrorsTotal.WithLabelValues(name, "crawl").Inc()
			u.logger.Warn("updater: route-views collector failed", zap.String("collector", name), zap.Error(err))
		}
	}

	insertedTotal := 0
	for name, rows := range items {
		if len(rows) == 0 {
			continue
		}
		byDataType := make(map[broker.DataType]int, 2)
		for _, row := range rows {
			byDataType[row.DataType]++
		}
		for dt, n := range byDataType {
			metrics.CrawlItemsTotal.WithLabelValues(name, string(dt)).Add(float64(n))
		}

		inserted, err := u.store.InsertItems(ctx, rows)
		if err != nil {
			u.logger.Error("updater: insert failed, aborting cycle", zap.String("collector", name), zap.Error(err))
			_ = u.store.AppendMeta(ctx, start, time.Since(start), 0)
			return err
		}
		insertedTotal += len(inserted)
		metrics.StoreInsertedTotal.WithLabelValues(name).Add(float64(len(inserted)))

		project := projectOf[name]
		for _, row := range inserted {
			u.notifier.Publish(ctx, project, row)
		}
	}

	if err := u.store.RebuildLatestSnapshot(ctx); err != nil {
		u.logger.Error("updater: rebuild_latest_snapshot failed, aborting cycle", zap.Error(err))
		_ = u.store.AppendMeta(ctx, start, time.Since(start), 0)
		return err
	}

	duration := time.Since(start)
	if err := u.store.AppendMeta(ctx, start, duration, insertedTotal); err != nil {
		u.logger.Error("updater: append_meta failed", zap.Error(err))
	}
	if err := u.store.PruneMeta(ctx, start.Add(-u.cfg.MetaRetention)); err != nil {
		u.logger.Error("updater: prune_meta failed", zap.Error(err))
	}

	metrics.UpdateCycleDuration.WithLabelValues().Observe(duration.Seconds())

	if u.cfg.HeartbeatURL != "" {
		snapshot.PingHeartbeat(ctx, u.cfg.HeartbeatURL, u.logger)
	}

	u.logger.Info("updater: cycle complete",
		zap.Duration("duration", duration),
		zap.Int("inserted", insertedTotal),
	)
	return nil
}
