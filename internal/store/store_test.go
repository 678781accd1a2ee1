package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/bgpkit/broker/pkg/broker"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(t.Context(), filepath.Join(dir, "broker.sqlite3"), nil)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func item(collector string, ts time.Time, dt broker.DataType, url string) broker.BrokerItem {
	end := ts
	if dt == broker.DataTypeUpdates {
		end = ts.Add(5 * time.Minute)
	}
	return broker.BrokerItem{
		TsStart:     ts,
		TsEnd:       end,
		CollectorID: collector,
		DataType:    dt,
		URL:         url,
	}
}

func TestInsertItems_DedupsOnConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	row := item("rrc00", ts, broker.DataTypeRib, "https://example.org/a.gz")

	inserted, err := s.InsertItems(ctx, []broker.BrokerItem{row})
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if len(inserted) != 1 {
		t.Fatalf("expected 1 inserted, got %d", len(inserted))
	}

	inserted, err = s.InsertItems(ctx, []broker.BrokerItem{row})
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if len(inserted) != 0 {
		t.Fatalf("expected 0 inserted on re-run (invariant 1), got %d", len(inserted))
	}
}

func TestRebuildLatestSnapshot_PicksMaxTsStart(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []broker.BrokerItem{
		item("rrc00", base, broker.DataTypeRib, "https://example.org/rib1.gz"),
		item("rrc00", base.Add(8*time.Hour), broker.DataTypeRib, "https://example.org/rib2.gz"),
	}
	if _, err := s.InsertItems(ctx, rows); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.RebuildLatestSnapshot(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	latest, err := s.LatestPerCollector(ctx)
	if err != nil {
		t.Fatalf("latest_per_collector: %v", err)
	}
	if len(latest) != 1 {
		t.Fatalf("expected 1 latest row, got %d", len(latest))
	}
	want := base.Add(8 * time.Hour)
	if !latest[0].TsStart.Equal(want) {
		t.Fatalf("latest ts_start = %v, want %v", latest[0].TsStart, want)
	}
}

func TestQuery_PaginationIsStableAndDeterministic(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var rows []broker.BrokerItem
	for i := 0; i < 250; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		rows = append(rows, item("rrc00", ts, broker.DataTypeUpdates, fmt.Sprintf("https://example.org/u%d.gz", i)))
	}
	if _, err := s.InsertItems(ctx, rows); err != nil {
		t.Fatalf("insert: %v", err)
	}

	pageSize := 100
	f := broker.Filter{Page: 3, PageSize: &pageSize}
	page1, err := s.Query(ctx, f, nil)
	if err != nil {
		t.Fatalf("query page 3: %v", err)
	}
	if len(page1) != 50 {
		t.Fatalf("expected rows 201-250 (50 rows), got %d", len(page1))
	}

	page1Again, err := s.Query(ctx, f, nil)
	if err != nil {
		t.Fatalf("query page 3 again: %v", err)
	}
	for i := range page1 {
		if page1[i].URL != page1Again[i].URL {
			t.Fatalf("repeated query returned different order at index %d: %s vs %s", i, page1[i].URL, page1Again[i].URL)
		}
	}

	f4 := broker.Filter{Page: 4, PageSize: &pageSize}
	page4, err := s.Query(ctx, f4, nil)
	if err != nil {
		t.Fatalf("query page 4: %v", err)
	}
	if len(page4) != 0 {
		t.Fatalf("expected page 4 to be empty, got %d rows", len(page4))
	}
}

func TestGetSnapshotFiles_StrictlyBetweenRibAndTarget(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	d := func(h, m int) time.Time {
		return time.Date(2024, 1, 1, h, m, 0, 0, time.UTC)
	}

	rows := []broker.BrokerItem{
		item("rrc00", d(0, 0), broker.DataTypeRib, "rib-0000"),
		item("rrc00", d(8, 0), broker.DataTypeRib, "rib-0800"),
		item("rrc00", d(0, 5), broker.DataTypeUpdates, "u-0005"),
		item("rrc00", d(0, 10), broker.DataTypeUpdates, "u-0010"),
		item("rrc00", d(8, 5), broker.DataTypeUpdates, "u-0805"),
		item("rrc00", d(8, 10), broker.DataTypeUpdates, "u-0810"),
	}
	if _, err := s.InsertItems(ctx, rows); err != nil {
		t.Fatalf("insert: %v", err)
	}

	snaps, err := s.GetSnapshotFiles(ctx, []string{"rrc00"}, d(8, 7))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	snap := snaps["rrc00"]
	if snap.RibURL != "rib-0800" {
		t.Fatalf("expected rib-0800, got %s", snap.RibURL)
	}
	if len(snap.UpdatesURLs) != 1 || snap.UpdatesURLs[0] != "u-0805" {
		t.Fatalf("expected exactly [u-0805], got %v", snap.UpdatesURLs)
	}
}

func TestAppendAndPruneMeta(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	old := time.Now().UTC().AddDate(0, 0, -40)
	recent := time.Now().UTC().AddDate(0, 0, -1)

	if err := s.AppendMeta(ctx, old, time.Second, 5); err != nil {
		t.Fatalf("append old: %v", err)
	}
	if err := s.AppendMeta(ctx, recent, time.Second, 7); err != nil {
		t.Fatalf("append recent: %v", err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -30)
	if err := s.PruneMeta(ctx, cutoff); err != nil {
		t.Fatalf("prune: %v", err)
	}

	rows, err := s.RecentMeta(ctx, time.Now().UTC().AddDate(0, 0, -60))
	if err != nil {
		t.Fatalf("recent_meta: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row to survive pruning, got %d", len(rows))
	}
	if rows[0].InsertedCount != 7 {
		t.Fatalf("expected the recent row to survive, got inserted_count=%d", rows[0].InsertedCount)
	}
}

func TestBackupTo_ProducesQueryableCopy(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	row := item("rrc00", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), broker.DataTypeRib, "https://example.org/a.gz")
	if _, err := s.InsertItems(ctx, []broker.BrokerItem{row}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "backup.sqlite3")
	if err := s.BackupTo(ctx, dest); err != nil {
		t.Fatalf("backup: %v", err)
	}

	restored, err := Open(ctx, dest, nil)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer restored.Close()

	count, err := restored.Count(ctx, broker.Filter{}, nil)
	if err != nil {
		t.Fatalf("count on restored store: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row in restored store, got %d", count)
	}
}

func TestDistinctCollectors(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	rows := []broker.BrokerItem{
		item("rrc00", time.Now().UTC(), broker.DataTypeRib, "a"),
		item("route-views2", time.Now().UTC(), broker.DataTypeRib, "b"),
	}
	if _, err := s.InsertItems(ctx, rows); err != nil {
		t.Fatalf("insert: %v", err)
	}

	names, err := s.DistinctCollectors(ctx)
	if err != nil {
		t.Fatalf("distinct_collectors: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 distinct collectors, got %d", len(names))
	}
}
