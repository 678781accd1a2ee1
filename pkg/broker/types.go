// Package broker holds the data types and query SDK shared by the broker's
// HTTP API and its in-process client: BrokerItem, Collector, LatestFile,
// BrokerPeer, Filter, and the error taxonomy. It has no dependency on the
// crawler or store internals so it can be imported standalone.
package broker

import "time"

// DataType identifies whether an archive file is a RIB snapshot or an
// updates stream.
type DataType string

const (
	DataTypeRib     DataType = "rib"
	DataTypeUpdates DataType = "updates"
)

// Project identifies a route-collector family.
type Project string

const (
	ProjectRIPERIS    Project = "riperis"
	ProjectRouteViews Project = "route-views"
)

// BrokerItem is one indexed archive file.
type BrokerItem struct {
	TsStart     time.Time `json:"ts_start"`
	TsEnd       time.Time `json:"ts_end"`
	CollectorID string    `json:"collector_id"`
	DataType    DataType  `json:"data_type"`
	URL         string    `json:"url"`
	RoughSize   int64     `json:"rough_size"`
	ExactSize   int64     `json:"exact_size"`
}

// Collector is a route collector known to the Archive Catalog.
type Collector struct {
	Name          string    `json:"name"`
	Project       Project   `json:"project"`
	DataURL       string    `json:"data_url"`
	ActivatedOn   time.Time `json:"activated_on"`
	UpdatesCadence time.Duration `json:"-"`
}

// LatestFile is the most recent BrokerItem for a (collector, data_type) pair.
type LatestFile struct {
	BrokerItem
	DelaySeconds int64 `json:"delay_seconds"`
}

// BrokerPeer is a collector's BGP peer, served read-through from an upstream
// secondary index (bgpkit-commons). The core never produces these rows.
type BrokerPeer struct {
	Date             time.Time `json:"date"`
	IP               string    `json:"ip"`
	ASN              uint32    `json:"asn"`
	Collector        string    `json:"collector"`
	NumV4Pfxs        int64     `json:"num_v4_pfxs"`
	NumV6Pfxs        int64     `json:"num_v6_pfxs"`
	NumConnectedASNs int64     `json:"num_connected_asns"`
}

// IsFullFeed reports whether this peer advertises the full global routing
// table, per the heuristic in the glossary: >=700k IPv4 prefixes or >=100k
// IPv6 prefixes.
func (p BrokerPeer) IsFullFeed() bool {
	return p.NumV4Pfxs >= 700_000 || p.NumV6Pfxs >= 100_000
}

// Meta is one row of the update-history log.
type Meta struct {
	Timestamp             time.Time `json:"timestamp"`
	UpdateDurationSeconds float64   `json:"update_duration_seconds"`
	InsertedCount         int       `json:"inserted_count"`
}

// Snapshot is the result of a routing-table reconstruction query: one RIB
// plus the chain of updates files needed to replay forward to the target
// instant.
type Snapshot struct {
	Collector   string   `json:"collector"`
	RibURL      string   `json:"rib_url"`
	UpdatesURLs []string `json:"updates_urls"`
}

// Less implements the strict total order from the data model: ts_start
// ascending, then data_type (rib before updates), then collector_id
// ascending.
func Less(a, b BrokerItem) bool {
	if !a.TsStart.Equal(b.TsStart) {
		return a.TsStart.Before(b.TsStart)
	}
	if a.DataType != b.DataType {
		return a.DataType == DataTypeRib
	}
	return a.CollectorID < b.CollectorID
}
