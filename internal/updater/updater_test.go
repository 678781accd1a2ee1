package updater

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bgpkit/broker/internal/notify"
	"github.com/bgpkit/broker/internal/store"
	"github.com/bgpkit/broker/pkg/broker"
)

// fakeCrawler returns a fixed set of rows regardless of fromTS, so tests can
// assert on what the Updater does with crawl output without touching the
// network.
type fakeCrawler struct {
	rowsByCollector map[string][]broker.BrokerItem
	calls           map[string]time.Time
}

func (f *fakeCrawler) Crawl(_ context.Context, c broker.Collector, fromTS time.Time) ([]broker.BrokerItem, error) {
	if f.calls == nil {
		f.calls = make(map[string]time.Time)
	}
	f.calls[c.Name] = fromTS
	return f.rowsByCollector[c.Name], nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.Context(), filepath.Join(t.TempDir(), "broker.sqlite3"), nil)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunCycle_InsertsCrawledRowsAndRebuildsSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	riperis := &fakeCrawler{rowsByCollector: map[string][]broker.BrokerItem{
		"rrc00": {
			{CollectorID: "rrc00", DataType: broker.DataTypeRib, TsStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), TsEnd: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), URL: "https://example.org/rib.gz"},
		},
	}}
	rviews := &fakeCrawler{}

	n, err := notify.New(notify.Config{}, nil)
	if err != nil {
		t.Fatalf("building notifier: %v", err)
	}

	u := New(Config{Interval: time.Hour}, s, n, riperis, rviews, nil)
	if err := u.runCycle(ctx); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	pageSize := 10
	count, err := s.Count(ctx, broker.Filter{Page: 1, PageSize: &pageSize}, nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 item inserted, got %d", count)
	}

	latest, err := s.LatestPerCollector(ctx)
	if err != nil {
		t.Fatalf("latest_per_collector: %v", err)
	}
	if len(latest) != 1 {
		t.Fatalf("expected rebuild_latest_snapshot to produce 1 row, got %d", len(latest))
	}
}

func TestRunCycle_AppendsMetaRowEvenWithNoNewItems(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	u := New(Config{Interval: time.Hour}, s, mustNoopNotifier(t), &fakeCrawler{}, &fakeCrawler{}, nil)
	if err := u.runCycle(ctx); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	meta, err := s.RecentMeta(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("recent_meta: %v", err)
	}
	if len(meta) != 1 {
		t.Fatalf("expected 1 meta row, got %d", len(meta))
	}
	if meta[0].InsertedCount != 0 {
		t.Errorf("expected inserted_count=0, got %d", meta[0].InsertedCount)
	}
}

func TestRunCycle_ComputesFromTSWithSafetyWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	seed := []broker.BrokerItem{
		{CollectorID: "rrc00", DataType: broker.DataTypeRib, TsStart: base, TsEnd: base, URL: "seed"},
	}
	if _, err := s.InsertItems(ctx, seed); err != nil {
		t.Fatalf("seeding: %v", err)
	}
	if err := s.RebuildLatestSnapshot(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	riperis := &fakeCrawler{}
	u := New(Config{Interval: time.Hour, SafetyWindow: 15 * time.Minute}, s, mustNoopNotifier(t), riperis, &fakeCrawler{}, nil)
	if err := u.runCycle(ctx); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	got, ok := riperis.calls["rrc00"]
	if !ok {
		t.Fatal("expected rrc00 to be crawled")
	}
	want := base.Add(-15 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("fromTS for rrc00 = %v, want %v (latest ts_start minus safety window)", got, want)
	}
}

func mustNoopNotifier(t *testing.T) *notify.Notifier {
	t.Helper()
	n, err := notify.New(notify.Config{}, nil)
	if err != nil {
		t.Fatalf("building notifier: %v", err)
	}
	return n
}
