package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Store is the subset of *store.Store a local Client needs. Defined here
// rather than imported from internal/store so pkg/broker stays free of any
// internal/ dependency — a *store.Store satisfies this interface implicitly.
type Store interface {
	Query(ctx context.Context, f Filter, collectorNames []string) ([]BrokerItem, error)
	Count(ctx context.Context, f Filter, collectorNames []string) (int64, error)
	GetSnapshotFiles(ctx context.Context, collectors []string, targetTs time.Time) (map[string]Snapshot, error)
}

// PeerSource is the subset of peer-listing behavior MostDiverseCollectors
// needs to rank candidates; satisfied by anything that can list BrokerPeer
// rows for a project (local cache, upstream API mirror, etc).
type PeerSource interface {
	Peers(ctx context.Context, project string) ([]BrokerPeer, error)
}

// Client is the in-process SDK surface (§3.1): either a direct wrapper
// around an already-open local Store, or an HTTP client against a remote
// broker API, selected at construction time rather than via package-level
// globals.
type Client struct {
	local      Store
	peers      PeerSource
	httpClient *http.Client
	baseURL    string
	catalog    func(project string) []string
}

// NewLocalClient wraps an already-open Store for in-process queries, with no
// network calls. catalogNames resolves a project name to its collector
// names for Project-based filters and MostDiverseCollectors; pass
// catalog.Names when wiring a full deployment.
func NewLocalClient(s Store, peers PeerSource, catalogNames func(project string) []string) *Client {
	return &Client{local: s, peers: peers, catalog: catalogNames}
}

// NewRemoteClient builds a Client that queries a broker HTTP API at baseURL
// (the BGPKIT_BROKER_URL value), with httpClient defaulting to a 30s
// timeout if nil.
func NewRemoteClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

func (c *Client) isRemote() bool {
	return c.local == nil
}

// Query validates f once, up front (Validate fills in the default Page,
// PageSize and Order), and returns a ResultIterator over the configured
// backend that starts at f.Page. No rows are fetched until the first Next.
func (c *Client) Query(ctx context.Context, f Filter) (*ResultIterator, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &ResultIterator{client: c, filter: f, page: f.Page, exhausted: false}, nil
}

// DailyRibs returns every RIB row whose ts_start falls on a UTC day
// boundary, across every page.
func (c *Client) DailyRibs(ctx context.Context) ([]BrokerItem, error) {
	it, err := c.Query(ctx, DailyRibsFilter())
	if err != nil {
		return nil, err
	}
	var out []BrokerItem
	for it.Next(ctx) {
		for _, item := range it.Page() {
			if IsMidnightUTC(item.TsStart) {
				out = append(out, item)
			}
		}
	}
	return out, it.Err()
}

// RecentUpdates returns every updates row with ts_start within h of now,
// across every page.
func (c *Client) RecentUpdates(ctx context.Context, h time.Duration) ([]BrokerItem, error) {
	it, err := c.Query(ctx, RecentUpdatesFilter(time.Now().UTC(), h))
	if err != nil {
		return nil, err
	}
	var out []BrokerItem
	for it.Next(ctx) {
		out = append(out, it.Page()...)
	}
	return out, it.Err()
}

// MostDiverseCollectors ranks project's collectors by distinct full-feed
// peer ASN coverage and returns the n that together cover the most peers,
// per §4.6's greedy-cover shortcut. Requires a PeerSource; returns a
// ConfigurationError if none was configured.
func (c *Client) MostDiverseCollectors(ctx context.Context, n int, project string) ([]string, error) {
	if c.peers == nil {
		return nil, &ConfigurationError{Field: "peers", Got: "none", Valid: []string{"a configured PeerSource"}}
	}
	if c.catalog == nil {
		return nil, &ConfigurationError{Field: "catalog", Got: "none", Valid: []string{"a configured catalog resolver"}}
	}

	peers, err := c.peers.Peers(ctx, project)
	if err != nil {
		return nil, err
	}
	candidates := c.catalog(project)
	return MostDiverseCollectors(peers, candidates, n), nil
}

// GetSnapshotFiles resolves, for each collector, the RIB covering targetTs
// plus the updates files needed to replay forward to it (§4.6 worked
// example). Local mode delegates straight to the store; remote mode calls
// the matching REST endpoint.
func (c *Client) GetSnapshotFiles(ctx context.Context, collectors []string, targetTs time.Time) (map[string]Snapshot, error) {
	if !c.isRemote() {
		return c.local.GetSnapshotFiles(ctx, collectors, targetTs)
	}

	q := url.Values{}
	for _, name := range collectors {
		q.Add("collectors", name)
	}
	q.Set("ts", strconv.FormatInt(targetTs.Unix(), 10))

	var out map[string]Snapshot
	if err := c.getJSON(ctx, "/snapshot?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) queryPage(ctx context.Context, f Filter) ([]BrokerItem, error) {
	if !c.isRemote() {
		catalogNames := c.catalog
		var names []string
		if f.Project != "" && catalogNames != nil {
			names = catalogNames(f.Project)
		}
		return c.local.Query(ctx, f, f.CollectorsForProject(names))
	}
	return c.queryPageRemote(ctx, f)
}

func (c *Client) queryPageRemote(ctx context.Context, f Filter) ([]BrokerItem, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, &ParseError{Context: "encoding filter", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, &NetworkError{URL: c.baseURL, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: c.baseURL, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: buf.String()}
	}

	var decoded struct {
		Data struct {
			Items []BrokerItem `json:"items"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &ParseError{Context: "decoding search response", Cause: err}
	}
	return decoded.Data.Items, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &NetworkError{URL: c.baseURL, Cause: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{URL: c.baseURL, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		return &UpstreamError{StatusCode: resp.StatusCode, Body: buf.String()}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ParseError{Context: fmt.Sprintf("decoding %s response", path), Cause: err}
	}
	return nil
}

// ResultIterator walks Query results one page at a time, advancing Page
// until a short page (len(items) < PageSize) signals exhaustion — the
// in-process SDK contract named in §4.6.
type ResultIterator struct {
	client    *Client
	filter    Filter
	page      int
	current   []BrokerItem
	exhausted bool
	err       error
}

// Next fetches the next page, returning false once exhausted or on error.
func (it *ResultIterator) Next(ctx context.Context) bool {
	if it.exhausted || it.err != nil {
		return false
	}

	f := it.filter
	f.Page = it.page
	items, err := it.client.queryPage(ctx, f)
	if err != nil {
		it.err = err
		return false
	}

	it.current = items
	it.page++
	if len(items) < *f.PageSize {
		it.exhausted = true
	}
	return len(items) > 0
}

// Page returns the rows fetched by the most recent call to Next.
func (it *ResultIterator) Page() []BrokerItem {
	return it.current
}

// Err returns the error, if any, that stopped iteration.
func (it *ResultIterator) Err() error {
	return it.err
}
