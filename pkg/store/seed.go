package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ritzau/kg-explorer/pkg/logging"
	"github.com/ritzau/kg-explorer/pkg/model"
	"gopkg.in/yaml.v3"
)

// Dataset is the YAML seed format: a publication catalogue plus the graph
type Dataset struct {
	Publications []Publication `yaml:"publications"`
	Nodes        []SeedNode    `yaml:"nodes"`
	Edges        []SeedEdge    `yaml:"edges"`
}

// Publication is one catalogue entry
type Publication struct {
	PMCID    string   `yaml:"pmcid"`
	Title    string   `yaml:"title"`
	Abstract string   `yaml:"abstract"`
	Journal  string   `yaml:"journal"`
	Date     string   `yaml:"date"`
	DOI      string   `yaml:"doi"`
	PMID     string   `yaml:"pmid"`
	Authors  []string `yaml:"authors"`
}

// SeedNode is a graph node. Properties keep their order from the file.
type SeedNode struct {
	ID         string    `yaml:"id"`
	Category   string    `yaml:"category"`
	Properties yaml.Node `yaml:"properties"`
}

// SeedEdge is a graph relationship
type SeedEdge struct {
	Source string   `yaml:"source"`
	Target string   `yaml:"target"`
	Type   string   `yaml:"type"`
	Weight *float64 `yaml:"weight"`
}

// ImportResult summarizes an import
type ImportResult struct {
	Publications int
	Nodes        int
	Edges        int
	SkippedEdges int // Edges with a missing endpoint
}

// idProperty is the property that identifies a node of a category when the
// seed gives no explicit id
func idProperty(c model.Category) string {
	switch c {
	case model.CategoryPublication:
		return "pmcid"
	case model.CategoryOrganism:
		return "scientific_name"
	}
	return "name"
}

// ReadDataset parses a YAML seed file
func ReadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	return &ds, nil
}

// decodeProperties converts a YAML mapping into ordered properties
func decodeProperties(n *yaml.Node) (model.Properties, error) {
	var props model.Properties
	if n.Kind == 0 {
		return props, nil
	}
	if n.Kind != yaml.MappingNode {
		return props, fmt.Errorf("line %d: properties must be a mapping", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		var v any
		if err := n.Content[i+1].Decode(&v); err != nil {
			return props, fmt.Errorf("line %d: %w", n.Content[i+1].Line, err)
		}
		if t, ok := v.(time.Time); ok {
			v = t.Format(time.DateOnly)
		}
		props.Set(n.Content[i].Value, v)
	}
	return props, nil
}

// nodes converts the seed nodes, assigning fallback ids
func (ds *Dataset) nodes() ([]model.Node, error) {
	out := make([]model.Node, 0, len(ds.Nodes))
	seen := make(map[string]bool, len(ds.Nodes))
	for i, sn := range ds.Nodes {
		c, err := model.ParseCategory(sn.Category)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		props, err := decodeProperties(&sn.Properties)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		id := sn.ID
		if id == "" {
			id = props.String(idProperty(c))
		}
		if id == "" {
			return nil, fmt.Errorf("node %d: no id and no %s property", i, idProperty(c))
		}
		if seen[id] {
			return nil, fmt.Errorf("node %d: duplicate id %q", i, id)
		}
		seen[id] = true
		out = append(out, model.Node{ID: id, Category: c, Properties: props})
	}
	return out, nil
}

// Import replaces the store's contents with the dataset at path
func (s *Store) Import(ctx context.Context, path string) (*ImportResult, error) {
	ds, err := ReadDataset(path)
	if err != nil {
		return nil, err
	}
	res, err := s.ImportDataset(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("importing %s: %w", path, err)
	}
	logging.InfoContext(ctx, "dataset imported",
		"path", path,
		"publications", res.Publications,
		"nodes", res.Nodes,
		"edges", res.Edges,
		"skippedEdges", res.SkippedEdges,
	)
	return res, nil
}

// ImportDataset replaces the store's contents with ds in one transaction
func (s *Store) ImportDataset(ctx context.Context, ds *Dataset) (*ImportResult, error) {
	nodes, err := ds.nodes()
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"nodes", "edges", "publications", "publications_fts"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return nil, fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	res := &ImportResult{}

	pubStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO publications (pmcid, title, abstract, journal, date, doi, pmid, authors_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("preparing publication insert: %w", err)
	}
	defer pubStmt.Close()

	ftsStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO publications_fts (pmcid, title, abstract, authors_text)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("preparing fts insert: %w", err)
	}
	defer ftsStmt.Close()

	for _, p := range ds.Publications {
		if p.PMCID == "" || p.Title == "" {
			return nil, fmt.Errorf("publication %q needs a pmcid and a title", p.PMCID)
		}
		authors := p.Authors
		if authors == nil {
			authors = []string{}
		}
		authorsJSON, err := json.Marshal(authors)
		if err != nil {
			return nil, fmt.Errorf("encoding authors of %s: %w", p.PMCID, err)
		}
		if _, err := pubStmt.ExecContext(ctx, p.PMCID, p.Title, p.Abstract, p.Journal, p.Date, p.DOI, p.PMID, string(authorsJSON)); err != nil {
			return nil, fmt.Errorf("inserting publication %s: %w", p.PMCID, err)
		}
		if _, err := ftsStmt.ExecContext(ctx, p.PMCID, p.Title, p.Abstract, strings.Join(p.Authors, " ")); err != nil {
			return nil, fmt.Errorf("indexing publication %s: %w", p.PMCID, err)
		}
		res.Publications++
	}

	nodeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (id, category, name, scientific_name, publication_date, properties_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("preparing node insert: %w", err)
	}
	defer nodeStmt.Close()

	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		propsJSON, err := json.Marshal(n.Properties)
		if err != nil {
			return nil, fmt.Errorf("encoding properties of %s: %w", n.ID, err)
		}
		_, err = nodeStmt.ExecContext(ctx, n.ID, string(n.Category),
			n.Properties.String("name"),
			n.Properties.String("scientific_name"),
			n.Properties.String("publication_date"),
			string(propsJSON),
		)
		if err != nil {
			return nil, fmt.Errorf("inserting node %s: %w", n.ID, err)
		}
		ids[n.ID] = true
		res.Nodes++
	}

	edgeStmt, err := tx.PrepareContext(ctx, `INSERT INTO edges (source, target, type, weight) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("preparing edge insert: %w", err)
	}
	defer edgeStmt.Close()

	for _, e := range ds.Edges {
		if !ids[e.Source] || !ids[e.Target] {
			res.SkippedEdges++
			logging.DebugContext(ctx, "skipping edge with missing endpoint", "source", e.Source, "target", e.Target)
			continue
		}
		relType := e.Type
		if relType == "" {
			relType = "RELATED"
		}
		var weight any
		if e.Weight != nil {
			weight = *e.Weight
		}
		if _, err := edgeStmt.ExecContext(ctx, e.Source, e.Target, relType, weight); err != nil {
			return nil, fmt.Errorf("inserting edge %s->%s: %w", e.Source, e.Target, err)
		}
		res.Edges++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing import: %w", err)
	}
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return res, nil
}
