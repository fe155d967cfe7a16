package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ritzau/kg-explorer/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/graph/search", func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Mode != ModeKeyword {
			http.Error(w, `{"detail":"unexpected mode"}`, http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{
			"nodes": [
				{"id": "PMC1", "label": "Publication", "properties": {"pmcid": "PMC1", "search_score": 0.9}},
				{"id": "Mus musculus", "category": "Organism", "properties": {"name": "mouse"}}
			],
			"edges": [{"source": "PMC1", "target": "Mus musculus", "type": "STUDIES", "weight": 0.7}]
		}`))
	})
	mux.HandleFunc("POST /api/graph/filter", func(w http.ResponseWriter, r *http.Request) {
		var req FilterRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Organism != "mouse" {
			http.Error(w, "bad organism", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"nodes": [], "edges": null}`))
	})
	mux.HandleFunc("GET /api/graph/full", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "25" || r.URL.Query().Get("include_isolated") != "true" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"nodes": [{"id": "a", "category": "Finding", "properties": {}}]}`))
	})
	mux.HandleFunc("GET /api/publications/{id}/title", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "PMC1":
			w.Write([]byte(`{"title": "Microgravity and bone"}`))
		case "PMC-empty":
			w.Write([]byte(`{"title": ""}`))
		case "PMC-slow":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail": "publication not found"}`))
		}
	})
	mux.HandleFunc("GET /api/publications/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"title": "Microgravity and bone", "authors": ["Doe J"], "journal": "NPJ Microgravity",
			"externalIds": {"pmcid": "PMC1", "doi": "10.1/xyz"}, "entities": [{"category": "Organism", "name": "mouse"}]}`))
	})
	mux.HandleFunc("GET /api/graph/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "unhealthy"}`))
	})
	mux.HandleFunc("GET /api/graph/node/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail": "neo4j down"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientSearch(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, WithRateLimit(0, 0))

	req := NewSearchRequest("bone loss")
	req.Mode = ModeKeyword
	snap, err := Fetch(context.Background(), c, req)
	require.NoError(t, err)

	require.Len(t, snap.Nodes, 2)
	assert.Equal(t, model.CategoryPublication, snap.Nodes[0].Category)
	assert.Equal(t, []string{"pmcid", "search_score"}, snap.Nodes[0].Properties.Keys())
	require.Len(t, snap.Edges, 1)
	assert.InDelta(t, 0.7, snap.Edges[0].W(), 1e-9)
}

func TestClientFilterAndFull(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, WithRateLimit(0, 0))

	snap, err := c.Filter(context.Background(), FilterRequest{Organism: "mouse", Limit: 100})
	require.NoError(t, err)
	assert.NotNil(t, snap.Edges, "nil edges are normalized")
	assert.LessOrEqual(t, len(snap.Nodes), 100)

	snap, err = c.Full(context.Background(), FullRequest{Limit: 25, IncludeIsolated: true})
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 1)
}

func TestClientResolveTitle(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, WithRateLimit(0, 0))
	ctx := context.Background()

	title, err := c.ResolveTitle(ctx, "PMC1")
	require.NoError(t, err)
	assert.Equal(t, "Microgravity and bone", title)

	_, err = c.ResolveTitle(ctx, "PMC-missing")
	assert.True(t, IsNotFound(err), "expected not found, got %v", err)

	_, err = c.ResolveTitle(ctx, "PMC-empty")
	assert.ErrorIs(t, err, ErrInvalidResponse)

	_, err = c.ResolveTitle(ctx, "PMC-slow")
	assert.True(t, IsRateLimited(err))
}

func TestClientResolveRecordSendsAPIKey(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, err := NewClient(srv.URL, WithRateLimit(0, 0)).ResolveRecord(ctx, "PMC1")
	assert.ErrorIs(t, err, ErrAuthError)

	rec, err := NewClient(srv.URL, WithAPIKey("secret"), WithRateLimit(0, 0)).ResolveRecord(ctx, "PMC1")
	require.NoError(t, err)
	assert.Equal(t, "10.1/xyz", rec.ExternalIDs["doi"])
	require.Len(t, rec.Entities, 1)
	assert.Equal(t, model.CategoryOrganism, rec.Entities[0].Category)
}

func TestClientBrowserErrors(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, WithRateLimit(0, 0))

	err := c.Health(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = c.NodeDetails(context.Background(), "PMC1", 0)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "neo4j down", apiErr.Message)
	assert.True(t, IsUnavailable(err))
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, WithRateLimit(0, 0)).Full(context.Background(), FullRequest{Limit: 1})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFetchValidatesBeforeIO(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"empty query", SearchRequest{Mode: ModeHybrid, Limit: 10}},
		{"bad mode", SearchRequest{Query: "x", Mode: "fuzzy", Limit: 10}},
		{"deep search", SearchRequest{Query: "x", Mode: ModeHybrid, Limit: 10, MaxDepth: 9}},
		{"zero limit", FullRequest{}},
		{"bad date", FilterRequest{Limit: 5, DateFrom: "2020/01/01"}},
		{"inverted dates", FilterRequest{Limit: 5, DateFrom: "2021-01-01", DateTo: "2020-01-01"}},
		{"bad category", FilterRequest{Limit: 5, Categories: []model.Category{"Planet"}}},
		{"nil", nil},
	}

	// A client pointing nowhere: any I/O would fail with ErrUnavailable
	c := NewClient("http://127.0.0.1:1", WithRateLimit(0, 0))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fetch(context.Background(), c, tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}
