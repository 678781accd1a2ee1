package crawl

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bgpkit/broker/internal/httpfetch"
	"github.com/bgpkit/broker/pkg/broker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// RIPE RIS files live in one flat per-month directory: bview.YYYYMMDD.HHMM.gz
// (RIB) and updates.YYYYMMDD.HHMM.gz.
var (
	risRibPattern     = regexp.MustCompile(`^bview\.(\d{8})\.(\d{4})\.gz$`)
	risUpdatesPattern = regexp.MustCompile(`^updates\.(\d{8})\.(\d{4})\.gz$`)
)

// RIPERISCrawler scrapes the <data_url>/YYYY.MM/ directory layout.
type RIPERISCrawler struct {
	fetcher *httpfetch.Fetcher
	limits  Limits
	logger  *zap.Logger
}

func NewRIPERISCrawler(fetcher *httpfetch.Fetcher, limits Limits, logger *zap.Logger) *RIPERISCrawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RIPERISCrawler{fetcher: fetcher, limits: limits.withDefaults(), logger: logger}
}

func (c *RIPERISCrawler) Crawl(ctx context.Context, collector broker.Collector, fromTS time.Time) ([]broker.BrokerItem, error) {
	months := monthRange(fromTS, time.Now().UTC())
	sem := semaphore.NewWeighted(c.limits.MonthConcurrency)

	var mu sync.Mutex
	var all []broker.BrokerItem

	g, gctx := errgroup.WithContext(ctx)
	for _, month := range months {
		month := month
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			rows, err := c.crawlMonth(gctx, collector, month, fromTS)
			if err != nil {
				c.logger.Warn("month crawl failed",
					zap.String("collector", collector.Name),
					zap.Time("month", month),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			all = append(all, rows...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return all, nil
}

func (c *RIPERISCrawler) crawlMonth(ctx context.Context, collector broker.Collector, month, fromTS time.Time) ([]broker.BrokerItem, error) {
	monthDir := month.Format("2006.01")
	dirURL := fmt.Sprintf("%s/%s/", strings.TrimRight(collector.DataURL, "/"), monthDir)

	body, err := c.fetcher.Get(ctx, dirURL)
	if err != nil {
		return nil, err
	}

	anchors, err := parseAnchors(body)
	if err != nil {
		return nil, err
	}

	var out []broker.BrokerItem
	for name, row := range anchors {
		if ts, ok := parseFilenameTimestamp(risRibPattern, name); ok {
			if ts.Before(fromTS) {
				continue
			}
			out = append(out, broker.BrokerItem{
				TsStart:     ts,
				TsEnd:       ts,
				CollectorID: collector.Name,
				DataType:    broker.DataTypeRib,
				URL:         dirURL + name,
				RoughSize:   roughSizeFromRow(row),
			})
			continue
		}
		if ts, ok := parseFilenameTimestamp(risUpdatesPattern, name); ok {
			if ts.Before(fromTS) {
				continue
			}
			out = append(out, broker.BrokerItem{
				TsStart:     ts,
				TsEnd:       ts.Add(collector.UpdatesCadence),
				CollectorID: collector.Name,
				DataType:    broker.DataTypeUpdates,
				URL:         dirURL + name,
				RoughSize:   roughSizeFromRow(row),
			})
		}
	}
	return out, nil
}
