// Package crawl implements the per-project scraping of month directories
// into candidate BrokerItem rows (C3). Two sibling crawlers — RouteViews and
// RIPE RIS — share the Crawler interface; concurrency across months and
// across collectors is bounded by caller-supplied semaphores.
package crawl

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/bgpkit/broker/pkg/broker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Crawler produces the set of files whose ts_start >= fromTS for a single
// collector.
type Crawler interface {
	Crawl(ctx context.Context, collector broker.Collector, fromTS time.Time) ([]broker.BrokerItem, error)
}

// monthRange returns the first-of-month instants from the month containing
// from through the month containing to, inclusive.
func monthRange(from, to time.Time) []time.Time {
	from = time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	to = time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)
	var out []time.Time
	for m := from; !m.After(to); m = m.AddDate(0, 1, 0) {
		out = append(out, m)
	}
	return out
}

// parseAnchors extracts every href from a directory listing page's anchor
// tags, along with the raw text of that row (used to recover an
// upstream-reported size when the listing includes one).
func parseAnchors(html []byte) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(byteReader(html))
	if err != nil {
		return nil, &broker.ParseError{Context: "directory listing", Cause: err}
	}
	out := make(map[string]string)
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		row := s.Parent().Text()
		out[href] = row
	})
	return out, nil
}

// roughSizeFromRow extracts a plausible byte count from a directory listing
// row's rendered text (e.g. Apache/nginx autoindex rows embed "12K", "3.4M",
// or a raw byte count). Returns 0 when no size could be recovered — rough
// size is explicitly allowed to be absent (§3).
var sizePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([KMG]?)\b`)

func roughSizeFromRow(row string) int64 {
	matches := sizePattern.FindAllStringSubmatch(row, -1)
	if len(matches) == 0 {
		return 0
	}
	last := matches[len(matches)-1]
	var mult float64 = 1
	switch last[2] {
	case "K":
		mult = 1024
	case "M":
		mult = 1024 * 1024
	case "G":
		mult = 1024 * 1024 * 1024
	}
	var val float64
	fmt.Sscanf(last[1], "%f", &val)
	return int64(val * mult)
}

// MonthConcurrency and CollectorConcurrency are the two bounded-parallelism
// knobs named in §4.3.3.
type Limits struct {
	CollectorConcurrency int64
	MonthConcurrency     int64
}

func (l Limits) withDefaults() Limits {
	if l.CollectorConcurrency <= 0 {
		l.CollectorConcurrency = 2
	}
	if l.MonthConcurrency <= 0 {
		l.MonthConcurrency = 2
	}
	return l
}

// CrawlAll runs crawler.Crawl for every collector concurrently, bounded by
// limits.CollectorConcurrency. A failed collector does not abort the others:
// its error is recorded in the returned map but every other collector's
// items are still returned.
func CrawlAll(ctx context.Context, crawler Crawler, collectors []broker.Collector, fromTS func(broker.Collector) time.Time, limits Limits, logger *zap.Logger) (map[string][]broker.BrokerItem, map[string]error) {
	limits = limits.withDefaults()
	sem := semaphore.NewWeighted(limits.CollectorConcurrency)

	items := make(map[string][]broker.BrokerItem, len(collectors))
	errs := make(map[string]error)

	g, gctx := errgroup.WithContext(context.Background())
	type result struct {
		name  string
		items []broker.BrokerItem
		err   error
	}
	results := make(chan result, len(collectors))

	for _, c := range collectors {
		c := c
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				results <- result{name: c.Name, err: err}
				return nil
			}
			defer sem.Release(1)

			rows, err := crawler.Crawl(ctx, c, fromTS(c))
			results <- result{name: c.Name, items: rows, err: err}
			return nil
		})
	}

	go func() {
		g.Wait()
		close(results)
	}()

	for r := range results {
		if r.err != nil {
			errs[r.name] = r.err
			logger.Warn("collector crawl failed", zap.String("collector", r.name), zap.Error(r.err))
		}
		if len(r.items) > 0 {
			items[r.name] = r.items
		}
	}

	return items, errs
}
