package broker

import (
	"testing"
	"time"
)

func TestIsMidnightUTC(t *testing.T) {
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"exact midnight UTC", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"noon", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), false},
		{"midnight in a non-UTC zone normalizes away", time.Date(2024, 1, 1, 0, 0, 0, 0, time.FixedZone("X", 3600)), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsMidnightUTC(tc.t); got != tc.want {
				t.Errorf("IsMidnightUTC(%v) = %v, want %v", tc.t, got, tc.want)
			}
		})
	}
}

func TestRecentUpdatesFilter(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	f := RecentUpdatesFilter(now, 2*time.Hour)
	if f.DataType != string(DataTypeUpdates) {
		t.Errorf("expected data_type=updates, got %q", f.DataType)
	}
	want := now.Add(-2 * time.Hour)
	if f.TsStart == nil || !f.TsStart.Equal(want) {
		t.Errorf("ts_start = %v, want %v", f.TsStart, want)
	}
}

func TestMostDiverseCollectors_GreedyCoverWithTieBreak(t *testing.T) {
	peers := []BrokerPeer{
		{Collector: "a", ASN: 1, NumV4Pfxs: 800_000},
		{Collector: "a", ASN: 2, NumV4Pfxs: 800_000},
		{Collector: "b", ASN: 2, NumV4Pfxs: 800_000},
		{Collector: "b", ASN: 3, NumV4Pfxs: 800_000},
		{Collector: "c", ASN: 1, NumV4Pfxs: 800_000},
	}
	// a covers {1,2}, b covers {2,3}, c covers {1}. Picking 2 should choose
	// a first (covers the most, alphabetically first among 2-ASN tie with b
	// only if counts are equal; a and b both cover 2 new ASNs first round).
	got := MostDiverseCollectors(peers, []string{"a", "b", "c"}, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 collectors chosen, got %v", got)
	}
	if got[0] != "a" {
		t.Errorf("expected alphabetical tie-break to pick 'a' first, got %q", got[0])
	}
}

func TestMostDiverseCollectors_StopsWhenNoNewCoverage(t *testing.T) {
	peers := []BrokerPeer{
		{Collector: "a", ASN: 1, NumV4Pfxs: 800_000},
		{Collector: "b", ASN: 1, NumV4Pfxs: 800_000},
	}
	got := MostDiverseCollectors(peers, []string{"a", "b"}, 5)
	if len(got) != 1 {
		t.Fatalf("expected to stop after 1 collector (no new coverage left), got %v", got)
	}
}

func TestMostDiverseCollectors_ZeroNReturnsNil(t *testing.T) {
	if got := MostDiverseCollectors(nil, []string{"a"}, 0); got != nil {
		t.Errorf("expected nil for n=0, got %v", got)
	}
}
