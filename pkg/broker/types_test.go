package broker

import (
	"testing"
	"time"
)

func TestIsFullFeed(t *testing.T) {
	cases := []struct {
		name string
		peer BrokerPeer
		want bool
	}{
		{"full v4 feed", BrokerPeer{NumV4Pfxs: 800_000}, true},
		{"full v6 feed", BrokerPeer{NumV6Pfxs: 150_000}, true},
		{"partial feed", BrokerPeer{NumV4Pfxs: 10, NumV6Pfxs: 5}, false},
		{"just under both thresholds", BrokerPeer{NumV4Pfxs: 699_999, NumV6Pfxs: 99_999}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.peer.IsFullFeed(); got != tc.want {
				t.Errorf("IsFullFeed() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLess_OrdersByTsStartThenDataTypeThenCollector(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	cases := []struct {
		name string
		a, b BrokerItem
		want bool
	}{
		{
			name: "earlier ts_start sorts first",
			a:    BrokerItem{TsStart: t0},
			b:    BrokerItem{TsStart: t1},
			want: true,
		},
		{
			name: "rib sorts before updates at the same ts_start",
			a:    BrokerItem{TsStart: t0, DataType: DataTypeRib},
			b:    BrokerItem{TsStart: t0, DataType: DataTypeUpdates},
			want: true,
		},
		{
			name: "collector_id breaks remaining ties",
			a:    BrokerItem{TsStart: t0, DataType: DataTypeRib, CollectorID: "rrc00"},
			b:    BrokerItem{TsStart: t0, DataType: DataTypeRib, CollectorID: "rrc01"},
			want: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Less(tc.a, tc.b); got != tc.want {
				t.Errorf("Less(a, b) = %v, want %v", got, tc.want)
			}
			if got := Less(tc.b, tc.a); got != false {
				t.Errorf("Less(b, a) = %v, want false (antisymmetric)", got)
			}
		})
	}
}
