package broker

import (
	"sort"
	"time"
)

// DailyRibsFilter returns the Filter for daily_ribs(): RIB files whose
// ts_start falls exactly on 00:00:00 UTC. The engine has no "time of day"
// predicate, so the Filter only selects data_type=rib and callers apply
// IsMidnightUTC as a post-filter over the query result (see Client.DailyRibs
// in client.go).
func DailyRibsFilter() Filter {
	return Filter{DataType: string(DataTypeRib)}
}

// IsMidnightUTC reports whether t falls exactly on a UTC day boundary,
// the daily_ribs() predicate from §4.6.
func IsMidnightUTC(t time.Time) bool {
	u := t.UTC()
	return u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0
}

// RecentUpdatesFilter returns the Filter for recent_updates(h): updates
// files with ts_start >= now-h.
func RecentUpdatesFilter(now time.Time, h time.Duration) Filter {
	since := now.Add(-h)
	return Filter{DataType: string(DataTypeUpdates), TsStart: &since}
}

// MostDiverseCollectors implements the §4.6 greedy-cover shortcut: repeatedly
// pick the candidate collector that adds the most new full-feed peer ASNs,
// until n collectors are chosen or no candidate adds anything new. Ties are
// broken alphabetically by collector name.
func MostDiverseCollectors(peers []BrokerPeer, candidates []string, n int) []string {
	if n <= 0 {
		return nil
	}

	asnsByCollector := make(map[string]map[uint32]bool, len(candidates))
	for _, c := range candidates {
		asnsByCollector[c] = make(map[uint32]bool)
	}
	for _, p := range peers {
		if !p.IsFullFeed() {
			continue
		}
		if set, ok := asnsByCollector[p.Collector]; ok {
			set[p.ASN] = true
		}
	}

	covered := make(map[uint32]bool)
	remaining := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		remaining[c] = true
	}

	var chosen []string
	for len(chosen) < n && len(remaining) > 0 {
		best := ""
		bestNew := 0
		names := make([]string, 0, len(remaining))
		for c := range remaining {
			names = append(names, c)
		}
		sort.Strings(names)

		for _, c := range names {
			newCount := 0
			for asn := range asnsByCollector[c] {
				if !covered[asn] {
					newCount++
				}
			}
			if newCount > bestNew {
				bestNew = newCount
				best = c
			}
		}

		if best == "" {
			break
		}

		for asn := range asnsByCollector[best] {
			covered[asn] = true
		}
		chosen = append(chosen, best)
		delete(remaining, best)
	}

	return chosen
}
