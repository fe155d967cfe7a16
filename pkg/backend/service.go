// Package backend defines the contract of the backing query service that
// produces graph snapshots, and an HTTP client implementing it.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ritzau/kg-explorer/pkg/model"
)

// Service is the set of backing operations the graph view consumes
type Service interface {
	// Search returns the publications matching a query plus, optionally,
	// their related entities
	Search(ctx context.Context, req SearchRequest) (*model.Snapshot, error)

	// Filter returns the nodes matching attribute filters
	Filter(ctx context.Context, req FilterRequest) (*model.Snapshot, error)

	// Full returns the best-connected part of the whole graph
	Full(ctx context.Context, req FullRequest) (*model.Snapshot, error)

	// ResolveTitle looks up the display title of a publication
	ResolveTitle(ctx context.Context, externalID string) (string, error)

	// ResolveRecord looks up the full catalogue record of a publication
	ResolveRecord(ctx context.Context, externalID string) (*model.Record, error)
}

// Browser is implemented by services that also expose graph-wide browsing
// endpoints
type Browser interface {
	Stats(ctx context.Context) (*Stats, error)
	NodeDetails(ctx context.Context, id string, maxNeighbors int) (*NodeDetails, error)
	Health(ctx context.Context) error
}

// Stats summarizes the backing graph
type Stats struct {
	TotalNodes int               `json:"total_nodes"`
	TotalEdges int               `json:"total_edges"`
	NodeTypes  map[string]int    `json:"node_types"`
	EdgeTypes  map[string]int    `json:"edge_types"`
	Colors     map[string]string `json:"node_colors,omitempty"`
}

// NodeDetails is a node with its immediate neighborhood
type NodeDetails struct {
	Node          model.Node   `json:"node"`
	Neighbors     []model.Node `json:"neighbors"`
	Relationships []model.Edge `json:"relationships"`
}

// SearchMode selects how search queries are matched
type SearchMode string

const (
	ModeSemantic SearchMode = "semantic"
	ModeKeyword  SearchMode = "keyword"
	ModeHybrid   SearchMode = "hybrid"
)

// ParseSearchMode parses a search mode name
func ParseSearchMode(s string) (SearchMode, error) {
	switch SearchMode(s) {
	case ModeSemantic, ModeKeyword, ModeHybrid:
		return SearchMode(s), nil
	}
	return "", fmt.Errorf("%w: unknown search mode %q", ErrInvalidRequest, s)
}

const (
	DefaultSearchLimit  = 10
	DefaultMaxDepth     = 2
	MaxDepthLimit       = 5
	DefaultFilterLimit  = 100
	DefaultFullLimit    = 100
	RelatedEntityLimit  = 200
	FullEdgeLimit       = 500
	DefaultMaxNeighbors = 20
)

// Request is one of SearchRequest, FilterRequest or FullRequest
type Request interface {
	Kind() string
	Validate() error
}

// SearchRequest asks for publications matching a free-text query
type SearchRequest struct {
	Query          string     `json:"query"`
	Mode           SearchMode `json:"search_mode"`
	Limit          int        `json:"limit"`
	IncludeRelated bool       `json:"include_related"`
	MaxDepth       int        `json:"max_depth"`
}

// NewSearchRequest returns a search request with the usual defaults
func NewSearchRequest(query string) SearchRequest {
	return SearchRequest{
		Query:          query,
		Mode:           ModeHybrid,
		Limit:          DefaultSearchLimit,
		IncludeRelated: true,
		MaxDepth:       DefaultMaxDepth,
	}
}

func (r SearchRequest) Kind() string { return "search" }

// Validate checks the request before any I/O is issued
func (r SearchRequest) Validate() error {
	if r.Query == "" {
		return fmt.Errorf("%w: empty search query", ErrInvalidRequest)
	}
	if _, err := ParseSearchMode(string(r.Mode)); err != nil {
		return err
	}
	if r.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidRequest, r.Limit)
	}
	if r.MaxDepth < 0 || r.MaxDepth > MaxDepthLimit {
		return fmt.Errorf("%w: max depth must be in [0, %d], got %d", ErrInvalidRequest, MaxDepthLimit, r.MaxDepth)
	}
	return nil
}

// FilterRequest asks for nodes matching attribute filters. Empty strings
// mean "no filter".
type FilterRequest struct {
	Categories    []model.Category     `json:"node_types,omitempty"`
	RelationTypes []model.RelationType `json:"relation_types,omitempty"`
	Organism      string               `json:"organism,omitempty"`
	Phenomenon    string               `json:"phenomenon,omitempty"`
	Platform      string               `json:"platform,omitempty"`
	DateFrom      string               `json:"date_from,omitempty"` // YYYY-MM-DD
	DateTo        string               `json:"date_to,omitempty"`   // YYYY-MM-DD
	Limit         int                  `json:"limit"`
}

func (r FilterRequest) Kind() string { return "filter" }

// Validate checks the request before any I/O is issued
func (r FilterRequest) Validate() error {
	if r.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidRequest, r.Limit)
	}
	for _, c := range r.Categories {
		if !c.Valid() {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidRequest, c)
		}
	}
	for _, rt := range r.RelationTypes {
		if _, err := model.ParseRelationType(string(rt)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	for _, d := range []string{r.DateFrom, r.DateTo} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidRequest, d)
		}
	}
	if r.DateFrom != "" && r.DateTo != "" && r.DateFrom > r.DateTo {
		return fmt.Errorf("%w: date range %s..%s is empty", ErrInvalidRequest, r.DateFrom, r.DateTo)
	}
	return nil
}

// FullRequest asks for the best-connected nodes of the whole graph
type FullRequest struct {
	Limit           int  `json:"limit"`
	IncludeIsolated bool `json:"include_isolated"`
}

func (r FullRequest) Kind() string { return "full" }

// Validate checks the request before any I/O is issued
func (r FullRequest) Validate() error {
	if r.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidRequest, r.Limit)
	}
	return nil
}

// Fetch validates req and dispatches it to the matching service operation
func Fetch(ctx context.Context, svc Service, req Request) (*model.Snapshot, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	switch r := req.(type) {
	case SearchRequest:
		return svc.Search(ctx, r)
	case *SearchRequest:
		return svc.Search(ctx, *r)
	case FilterRequest:
		return svc.Filter(ctx, r)
	case *FilterRequest:
		return svc.Filter(ctx, *r)
	case FullRequest:
		return svc.Full(ctx, r)
	case *FullRequest:
		return svc.Full(ctx, *r)
	default:
		return nil, fmt.Errorf("%w: unsupported request kind %q", ErrInvalidRequest, req.Kind())
	}
}

// DecodeRequest parses a JSON load request of the form {"kind": ..., fields}.
// Fields left out keep the defaults of their kind.
func DecodeRequest(data []byte) (Request, error) {
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var req Request
	var err error
	switch head.Kind {
	case "search":
		r := NewSearchRequest("")
		err = json.Unmarshal(data, &r)
		req = r
	case "filter":
		r := FilterRequest{Limit: DefaultFilterLimit}
		err = json.Unmarshal(data, &r)
		req = r
	case "full", "":
		r := FullRequest{Limit: DefaultFullLimit}
		err = json.Unmarshal(data, &r)
		req = r
	default:
		return nil, fmt.Errorf("%w: unknown request kind %q", ErrInvalidRequest, head.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}
