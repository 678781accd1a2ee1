package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bgpkit/broker/pkg/broker"
)

type fakeQuerier struct {
	items  []broker.BrokerItem
	count  int64
	latest []broker.LatestFile
	snaps  map[string]broker.Snapshot
	err    error
}

func (f *fakeQuerier) Query(_ context.Context, _ broker.Filter, _ []string) ([]broker.BrokerItem, error) {
	return f.items, f.err
}

func (f *fakeQuerier) Count(_ context.Context, _ broker.Filter, _ []string) (int64, error) {
	return f.count, f.err
}

func (f *fakeQuerier) LatestPerCollector(_ context.Context) ([]broker.LatestFile, error) {
	return f.latest, f.err
}

func (f *fakeQuerier) GetSnapshotFiles(_ context.Context, _ []string, _ time.Time) (map[string]broker.Snapshot, error) {
	return f.snaps, f.err
}

type fakePeersSource struct {
	peers []broker.BrokerPeer
	err   error
}

func (f *fakePeersSource) Peers(_ context.Context) ([]broker.BrokerPeer, error) {
	return f.peers, f.err
}

func newTestServer(q *fakeQuerier, p PeersSource) *Server {
	return NewServer(":0", "/", q, p, nil)
}

func TestHandleHealth_OKWithoutThreshold(t *testing.T) {
	s := newTestServer(&fakeQuerier{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleHealth_ServiceUnavailableWhenStale(t *testing.T) {
	q := &fakeQuerier{latest: []broker.LatestFile{
		{BrokerItem: broker.BrokerItem{CollectorID: "rrc00"}, DelaySeconds: 9999},
	}}
	s := newTestServer(q, nil)
	req := httptest.NewRequest(http.MethodGet, "/health?max_delay_secs=60", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHandleSearch_InvalidPageSizeReturns400(t *testing.T) {
	s := newTestServer(&fakeQuerier{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/search?page_size=0", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleSearch_ReturnsItemsAndMeta(t *testing.T) {
	q := &fakeQuerier{
		items: []broker.BrokerItem{{CollectorID: "rrc00", URL: "https://example.org/a.gz"}},
		count: 1,
	}
	s := newTestServer(q, nil)
	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Data struct {
			Items []broker.BrokerItem `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(body.Data.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(body.Data.Items))
	}
}

func TestHandleLatest_FiltersByCollector(t *testing.T) {
	q := &fakeQuerier{latest: []broker.LatestFile{
		{BrokerItem: broker.BrokerItem{CollectorID: "rrc00"}},
		{BrokerItem: broker.BrokerItem{CollectorID: "route-views2"}},
	}}
	s := newTestServer(q, nil)
	req := httptest.NewRequest(http.MethodGet, "/latest?collector=rrc00", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	var body struct {
		Data struct {
			Items []broker.LatestFile `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(body.Data.Items) != 1 || body.Data.Items[0].CollectorID != "rrc00" {
		t.Fatalf("expected only rrc00, got %+v", body.Data.Items)
	}
}

func TestHandleSnapshot_ReturnsPerCollectorSnapshot(t *testing.T) {
	q := &fakeQuerier{snaps: map[string]broker.Snapshot{
		"rrc00": {Collector: "rrc00", RibURL: "https://example.org/rib.gz", UpdatesURLs: []string{"https://example.org/u1.gz"}},
	}}
	s := newTestServer(q, nil)
	req := httptest.NewRequest(http.MethodGet, "/snapshot?collectors=rrc00&ts=1704153600", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body map[string]broker.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["rrc00"].RibURL != "https://example.org/rib.gz" {
		t.Fatalf("expected rrc00's snapshot, got %+v", body)
	}
}

func TestHandleSnapshot_MissingCollectorsReturns400(t *testing.T) {
	s := newTestServer(&fakeQuerier{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/snapshot?ts=1704153600", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandlePeers_NoSourceReturnsEmpty(t *testing.T) {
	s := newTestServer(&fakeQuerier{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/peers", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandlePeers_FiltersOnlyFullFeed(t *testing.T) {
	peers := &fakePeersSource{peers: []broker.BrokerPeer{
		{Collector: "rrc00", ASN: 1, NumV4Pfxs: 900_000},
		{Collector: "rrc00", ASN: 2, NumV4Pfxs: 10},
	}}
	s := newTestServer(&fakeQuerier{}, peers)
	req := httptest.NewRequest(http.MethodGet, "/peers?peers_only_full_feed=true", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	var body struct {
		Data struct {
			Items []broker.BrokerPeer `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(body.Data.Items) != 1 || body.Data.Items[0].ASN != 1 {
		t.Fatalf("expected only ASN 1, got %+v", body.Data.Items)
	}
}

func TestCachedPeers_ReusesWithinWindow(t *testing.T) {
	calls := 0
	peers := &countingPeersSource{peers: []broker.BrokerPeer{{ASN: 1}}, calls: &calls}
	s := newTestServer(&fakeQuerier{}, peers)

	ctx := t.Context()
	if _, err := s.cachedPeers(ctx); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := s.cachedPeers(ctx); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected the upstream to be called once within the cache window, got %d", calls)
	}
}

type countingPeersSource struct {
	peers []broker.BrokerPeer
	calls *int
}

func (c *countingPeersSource) Peers(_ context.Context) ([]broker.BrokerPeer, error) {
	*c.calls++
	return c.peers, nil
}
