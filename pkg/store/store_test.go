package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ritzau/kg-explorer/pkg/backend"
	"github.com/ritzau/kg-explorer/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSeeded(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "kg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	res, err := s.Import(context.Background(), filepath.Join("testdata", "seed.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Publications)
	assert.Equal(t, 11, res.Nodes)
	assert.Equal(t, 8, res.Edges)
	assert.Equal(t, 1, res.SkippedEdges)
	return s
}

func nodeIDs(snap *model.Snapshot) []string {
	ids := make([]string, len(snap.Nodes))
	for i, n := range snap.Nodes {
		ids[i] = n.ID
	}
	return ids
}

func TestImportAssignsFallbackIDs(t *testing.T) {
	s := openSeeded(t)
	ix, byExternal := s.index()

	for _, id := range []string{"PMC1", "Mus musculus", "ISS", "A. Smith", "bone-loss"} {
		_, ok := ix.Lookup(id)
		assert.True(t, ok, "missing node %q", id)
	}
	assert.Contains(t, byExternal, "PMC3")

	i, _ := ix.Lookup("PMC1")
	assert.Equal(t, "2020-05-01", ix.Node(i).Properties.String("publication_date"))
	assert.Equal(t, []string{"pmcid", "publication_date"}, ix.Node(i).Properties.Keys())
}

func TestImportSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kg.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Import(context.Background(), filepath.Join("testdata", "seed.yaml"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	ix, _ := s.index()
	assert.Equal(t, 11, ix.Len())
	assert.Len(t, ix.Links(), 8)
}

func TestImportRejectsBadDataset(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "kg.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ImportDataset(context.Background(), &Dataset{
		Nodes: []SeedNode{{ID: "x", Category: "Spaceship"}},
	})
	assert.Error(t, err)

	_, err = s.ImportDataset(context.Background(), &Dataset{
		Nodes: []SeedNode{{ID: "x", Category: "Platform"}, {ID: "x", Category: "Platform"}},
	})
	assert.ErrorContains(t, err, "duplicate")

	_, err = s.Import(context.Background(), filepath.Join("testdata", "missing.yaml"))
	assert.Error(t, err)
}

func TestSearchIncludesRelatedEntities(t *testing.T) {
	s := openSeeded(t)

	snap, err := s.Search(context.Background(), backend.NewSearchRequest("bone"))
	require.NoError(t, err)

	ids := nodeIDs(snap)
	assert.ElementsMatch(t, []string{"PMC1", "Mus musculus", "bone-loss", "ISS", "A. Smith"}, ids)
	assert.NotContains(t, ids, "PMC2", "related publications are not included")
	assert.Len(t, snap.Edges, 4)

	pub := snap.Nodes[0]
	assert.Equal(t, "PMC1", pub.ID)
	rank, ok := pub.Properties.Float("search_rank")
	assert.True(t, ok)
	assert.Equal(t, 1.0, rank)
	score, ok := pub.Properties.Float("search_score")
	assert.True(t, ok)
	assert.Greater(t, score, 0.0)

	assert.Equal(t, "bone", snap.Stats["search_query"])
	assert.Equal(t, "hybrid", snap.Stats["search_mode"])
	assert.Equal(t, 1, snap.Stats["publications_found"])
}

func TestSearchWithoutRelated(t *testing.T) {
	s := openSeeded(t)

	req := backend.NewSearchRequest("microgravity spaceflight")
	req.IncludeRelated = false
	snap, err := s.Search(context.Background(), req)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"PMC1", "PMC2"}, nodeIDs(snap))
	for _, n := range snap.Nodes {
		assert.True(t, n.IsPublication())
	}
}

func TestSearchRejectsInvalidRequest(t *testing.T) {
	s := openSeeded(t)

	_, err := s.Search(context.Background(), backend.NewSearchRequest(""))
	assert.ErrorIs(t, err, backend.ErrInvalidRequest)

	_, err = s.Search(context.Background(), backend.NewSearchRequest("   "))
	assert.ErrorIs(t, err, backend.ErrInvalidRequest)
}

func TestFilterRespectsLimit(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "kg.db"))
	require.NoError(t, err)
	defer s.Close()

	ds := &Dataset{}
	for i := range 150 {
		ds.Nodes = append(ds.Nodes, SeedNode{
			ID:       fmt.Sprintf("org-%d", i),
			Category: "Organism",
		})
		ds.Nodes[i].Properties.Encode(map[string]string{"name": fmt.Sprintf("mouse strain %d", i)})
	}
	ds.Nodes = append(ds.Nodes, SeedNode{ID: "rat", Category: "Organism"})
	ds.Nodes[150].Properties.Encode(map[string]string{"name": "rat"})
	_, err = s.ImportDataset(context.Background(), ds)
	require.NoError(t, err)

	snap, err := s.Filter(context.Background(), backend.FilterRequest{Organism: "mouse", Limit: 100})
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 100)
	for _, n := range snap.Nodes {
		assert.Contains(t, n.Properties.String("name"), "mouse")
	}

	snap, err = s.Filter(context.Background(), backend.FilterRequest{Organism: "_", Limit: 100})
	require.NoError(t, err)
	assert.Empty(t, snap.Nodes, "LIKE wildcards are matched literally")
}

func TestFilterByAttributes(t *testing.T) {
	s := openSeeded(t)
	ctx := context.Background()

	snap, err := s.Filter(ctx, backend.FilterRequest{
		Categories: []model.Category{model.CategoryPublication},
		DateFrom:   "2021-01-01",
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"PMC2"}, nodeIDs(snap))

	snap, err = s.Filter(ctx, backend.FilterRequest{
		Categories:    []model.Category{model.CategoryPublication, model.CategoryOrganism},
		RelationTypes: []model.RelationType{model.RelationStudies},
		Limit:         10,
	})
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 5)
	assert.Len(t, snap.Edges, 3)
	for _, e := range snap.Edges {
		assert.Equal(t, "STUDIES", e.Type)
	}
	applied := snap.Stats["filters_applied"].(map[string]any)
	assert.Contains(t, applied, "relation_types")

	snap, err = s.Filter(ctx, backend.FilterRequest{Platform: "iss", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"ISS"}, nodeIDs(snap))

	_, err = s.Filter(ctx, backend.FilterRequest{Limit: 0})
	assert.ErrorIs(t, err, backend.ErrInvalidRequest)
}

func TestFullExcludesIsolatedNodes(t *testing.T) {
	s := openSeeded(t)
	ctx := context.Background()

	snap, err := s.Full(ctx, backend.FullRequest{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 10)
	assert.NotContains(t, nodeIDs(snap), "f-lonely")
	assert.Equal(t, "PMC1", snap.Nodes[0].ID, "most connected first")
	assert.Len(t, snap.Edges, 8)

	snap, err = s.Full(ctx, backend.FullRequest{Limit: 100, IncludeIsolated: true})
	require.NoError(t, err)
	assert.Contains(t, nodeIDs(snap), "f-lonely")

	snap, err = s.Full(ctx, backend.FullRequest{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 3)
}

func TestNodeSizeGrowsWithLinks(t *testing.T) {
	s := openSeeded(t)

	snap, err := s.Full(context.Background(), backend.FullRequest{Limit: 100, IncludeIsolated: true})
	require.NoError(t, err)

	sizes := map[string]float64{}
	for _, n := range snap.Nodes {
		sizes[n.ID] = n.Size
	}
	assert.Equal(t, 28.0, sizes["PMC1"])
	assert.Equal(t, 19.0, sizes["Mus musculus"])
	assert.Equal(t, 10.0, sizes["f-lonely"])
	assert.Equal(t, 50.0, nodeSize(model.CategoryPublication, 100))
}

func TestResolveTitle(t *testing.T) {
	s := openSeeded(t)
	ctx := context.Background()

	title, err := s.ResolveTitle(ctx, "PMC2")
	require.NoError(t, err)
	assert.Equal(t, "Muscle atrophy under simulated microgravity", title)

	title, err = s.ResolveTitle(ctx, "PMC3")
	require.NoError(t, err)
	assert.Equal(t, "Radiation response in Arabidopsis seedlings", title)

	_, err = s.ResolveTitle(ctx, "PMC9")
	assert.True(t, backend.IsNotFound(err))
}

func TestResolveRecord(t *testing.T) {
	s := openSeeded(t)
	ctx := context.Background()

	rec, err := s.ResolveRecord(ctx, "PMC1")
	require.NoError(t, err)
	assert.Equal(t, "Bone loss in mice after long-duration spaceflight", rec.Title)
	assert.Equal(t, []string{"A. Smith", "B. Jones"}, rec.Authors)
	assert.Equal(t, "2020-05-01", rec.Date)
	assert.Equal(t, "10.1038/s41526-020-0001", rec.ExternalIDs["doi"])
	assert.Equal(t, []model.Entity{
		{Category: model.CategoryOrganism, Name: "mouse"},
		{Category: model.CategoryPhenomenon, Name: "bone loss"},
		{Category: model.CategoryPlatform, Name: "ISS"},
	}, rec.Entities)

	rec, err = s.ResolveRecord(ctx, "PMC2")
	require.NoError(t, err)
	assert.NotContains(t, rec.ExternalIDs, "doi")

	_, err = s.ResolveRecord(ctx, "PMC3")
	assert.True(t, backend.IsNotFound(err))
}

func TestBrowsing(t *testing.T) {
	s := openSeeded(t)
	ctx := context.Background()

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 11, st.TotalNodes)
	assert.Equal(t, 8, st.TotalEdges)
	assert.Equal(t, 3, st.NodeTypes["Publication"])
	assert.Equal(t, 3, st.EdgeTypes["STUDIES"])
	assert.True(t, strings.HasPrefix(st.Colors["Organism"], "#"))

	d, err := s.NodeDetails(ctx, "Mus musculus", 20)
	require.NoError(t, err)
	assert.Equal(t, "Mus musculus", d.Node.ID)
	assert.ElementsMatch(t, []string{"PMC1", "PMC2"}, nodeIDs(&model.Snapshot{Nodes: d.Neighbors}))
	assert.Len(t, d.Relationships, 2)
	for _, e := range d.Relationships {
		assert.Equal(t, "Mus musculus", e.Target, "direction is preserved")
	}

	d, err = s.NodeDetails(ctx, "PMC1", 2)
	require.NoError(t, err)
	assert.Len(t, d.Neighbors, 2)

	_, err = s.NodeDetails(ctx, "nope", 20)
	assert.True(t, backend.IsNotFound(err))

	assert.NoError(t, s.Health(ctx))
}
