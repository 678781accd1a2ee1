package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bgpkit/broker/pkg/broker"
)

// buildWhere translates a validated Filter into a SQL WHERE clause and its
// bind arguments. collectorNames is the already-expanded set from
// Filter.CollectorsForProject (the store has no knowledge of the Archive
// Catalog).
func buildWhere(f broker.Filter, collectorNames []string) (string, []any) {
	var clauses []string
	var args []any

	if f.TsStart != nil {
		clauses = append(clauses, "ts_start >= ?")
		args = append(args, f.TsStart.Unix())
	}
	if f.TsEnd != nil {
		clauses = append(clauses, "ts_start <= ?")
		args = append(args, f.TsEnd.Unix())
	}
	if f.DataType != "" {
		clauses = append(clauses, "data_type = ?")
		args = append(args, f.DataType)
	}
	if len(collectorNames) > 0 {
		clauses = append(clauses, fmt.Sprintf("collector_id IN (%s)", placeholders(len(collectorNames))))
		for _, c := range collectorNames {
			args = append(args, c)
		}
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// orderClause implements the strict total order from §3 invariant 4:
// ts_start, then data_type (rib before updates), then collector_id.
func orderClause(order broker.Order) string {
	dir := "ASC"
	if order == broker.OrderDesc {
		dir = "DESC"
	}
	return fmt.Sprintf(
		"ORDER BY ts_start %s, CASE data_type WHEN 'rib' THEN 0 ELSE 1 END %s, collector_id %s",
		dir, dir, dir,
	)
}

// Query returns one page of items matching f, in the canonical order.
// collectorNames is the caller-expanded project+explicit collector set.
func (s *Store) Query(ctx context.Context, f broker.Filter, collectorNames []string) ([]broker.BrokerItem, error) {
	where, args := buildWhere(f, collectorNames)
	sql := fmt.Sprintf(`
		SELECT collector_id, ts_start, ts_end, data_type, url, rough_size, exact_size
		FROM items
		%s
		%s
		LIMIT ? OFFSET ?`, where, orderClause(f.Order))

	args = append(args, *f.PageSize, (f.Page-1)*(*f.PageSize))

	rows, err := s.reader.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, &broker.StoreError{Op: "query", Cause: err}
	}
	defer rows.Close()

	var out []broker.BrokerItem
	for rows.Next() {
		var it broker.BrokerItem
		var dataType string
		var tsStart, tsEnd int64
		if err := rows.Scan(&it.CollectorID, &tsStart, &tsEnd, &dataType, &it.URL, &it.RoughSize, &it.ExactSize); err != nil {
			return nil, &broker.StoreError{Op: "scan query row", Cause: err}
		}
		it.DataType = broker.DataType(dataType)
		it.TsStart = time.Unix(tsStart, 0).UTC()
		it.TsEnd = time.Unix(tsEnd, 0).UTC()
		out = append(out, it)
	}
	return out, rows.Err()
}

// Count returns the number of items matching f, ignoring Page/PageSize.
func (s *Store) Count(ctx context.Context, f broker.Filter, collectorNames []string) (int64, error) {
	where, args := buildWhere(f, collectorNames)
	sql := fmt.Sprintf(`SELECT COUNT(*) FROM items %s`, where)

	var n int64
	if err := s.reader.QueryRowContext(ctx, sql, args...).Scan(&n); err != nil {
		return 0, &broker.StoreError{Op: "count", Cause: err}
	}
	return n, nil
}

// GetSnapshotFiles implements the routing-table snapshot reconstruction
// named in §4.6: for each collector, the most recent RIB with
// ts_start <= targetTs, plus every updates row whose ts_start is after that
// RIB's ts_start and at or before targetTs, chronologically ordered.
func (s *Store) GetSnapshotFiles(ctx context.Context, collectors []string, targetTs time.Time) (map[string]broker.Snapshot, error) {
	out := make(map[string]broker.Snapshot, len(collectors))

	for _, collector := range collectors {
		var ribURL string
		var ribTsStart int64
		err := s.reader.QueryRowContext(ctx, `
			SELECT url, ts_start FROM items
			WHERE collector_id = ? AND data_type = 'rib' AND ts_start <= ?
			ORDER BY ts_start DESC LIMIT 1`,
			collector, targetTs.Unix(),
		).Scan(&ribURL, &ribTsStart)
		if err != nil {
			// No RIB found for this collector at or before the target
			// instant; report an empty snapshot rather than erroring the
			// whole batch.
			out[collector] = broker.Snapshot{Collector: collector}
			continue
		}

		rows, err := s.reader.QueryContext(ctx, `
			SELECT url FROM items
			WHERE collector_id = ? AND data_type = 'updates' AND ts_start > ? AND ts_start <= ?
			ORDER BY ts_start ASC`,
			collector, ribTsStart, targetTs.Unix(),
		)
		if err != nil {
			return nil, &broker.StoreError{Op: "snapshot updates query", Cause: err}
		}

		var updatesURLs []string
		for rows.Next() {
			var u string
			if err := rows.Scan(&u); err != nil {
				rows.Close()
				return nil, &broker.StoreError{Op: "scan snapshot updates", Cause: err}
			}
			updatesURLs = append(updatesURLs, u)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, &broker.StoreError{Op: "iterate snapshot updates", Cause: err}
		}

		out[collector] = broker.Snapshot{Collector: collector, RibURL: ribURL, UpdatesURLs: updatesURLs}
	}

	return out, nil
}
