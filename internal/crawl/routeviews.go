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

// rvRibPattern and rvUpdatesPattern match RouteViews MRT filenames:
// rib.YYYYMMDD.HHMM.bz2 and updates.YYYYMMDD.HHMM.bz2.
var (
	rvRibPattern     = regexp.MustCompile(`^rib\.(\d{8})\.(\d{4})\.bz2$`)
	rvUpdatesPattern = regexp.MustCompile(`^updates\.(\d{8})\.(\d{4})\.bz2$`)
)

// RouteViewsCrawler scrapes the <data_url>/bgpdata/YYYY.MM/{RIBS,UPDATES}/
// directory layout.
type RouteViewsCrawler struct {
	fetcher *httpfetch.Fetcher
	limits  Limits
	logger  *zap.Logger
}

func NewRouteViewsCrawler(fetcher *httpfetch.Fetcher, limits Limits, logger *zap.Logger) *RouteViewsCrawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RouteViewsCrawler{fetcher: fetcher, limits: limits.withDefaults(), logger: logger}
}

func (c *RouteViewsCrawler) Crawl(ctx context.Context, collector broker.Collector, fromTS time.Time) ([]broker.BrokerItem, error) {
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
				// A failed month does not abort the collector (§4.3.4):
				// log and move on, the next cycle's safety window will
				// pick it back up.
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

func (c *RouteViewsCrawler) crawlMonth(ctx context.Context, collector broker.Collector, month, fromTS time.Time) ([]broker.BrokerItem, error) {
	monthDir := month.Format("2006.01")
	var out []broker.BrokerItem

	ribURL := fmt.Sprintf("%s/bgpdata/%s/RIBS/", strings.TrimRight(collector.DataURL, "/"), monthDir)
	ribRows, err := c.listMonth(ctx, ribURL, collector, broker.DataTypeRib, fromTS)
	if err != nil {
		c.logger.Debug("RIBS listing unavailable", zap.String("url", ribURL), zap.Error(err))
	} else {
		out = append(out, ribRows...)
	}

	updatesURL := fmt.Sprintf("%s/bgpdata/%s/UPDATES/", strings.TrimRight(collector.DataURL, "/"), monthDir)
	updatesRows, err := c.listMonth(ctx, updatesURL, collector, broker.DataTypeUpdates, fromTS)
	if err != nil {
		c.logger.Debug("UPDATES listing unavailable", zap.String("url", updatesURL), zap.Error(err))
	} else {
		out = append(out, updatesRows...)
	}

	return out, nil
}

func (c *RouteViewsCrawler) listMonth(ctx context.Context, dirURL string, collector broker.Collector, dataType broker.DataType, fromTS time.Time) ([]broker.BrokerItem, error) {
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
		var ts time.Time
		var ok bool
		var pattern *regexp.Regexp
		if dataType == broker.DataTypeRib {
			pattern = rvRibPattern
		} else {
			pattern = rvUpdatesPattern
		}

		ts, ok = parseFilenameTimestamp(pattern, name)
		if !ok {
			continue
		}
		if ts.Before(fromTS) {
			continue
		}

		tsEnd := ts
		if dataType == broker.DataTypeUpdates {
			tsEnd = ts.Add(collector.UpdatesCadence)
		}

		out = append(out, broker.BrokerItem{
			TsStart:     ts,
			TsEnd:       tsEnd,
			CollectorID: collector.Name,
			DataType:    dataType,
			URL:         dirURL + name,
			RoughSize:   roughSizeFromRow(row),
		})
	}
	return out, nil
}

func parseFilenameTimestamp(pattern *regexp.Regexp, name string) (time.Time, bool) {
	m := pattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse("200601021504", m[1]+m[2])
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
