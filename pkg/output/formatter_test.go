package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/ritzau/kg-explorer/pkg/graph"
	"github.com/ritzau/kg-explorer/pkg/model"
)

func TestPrintSnapshotSummary(t *testing.T) {
	color.NoColor = true

	s := model.NewSnapshot()
	s.AddNode(model.Node{ID: "PMC2", Category: model.CategoryPublication,
		Properties: model.NewProperties("pmcid", "PMC2", "title", "Muscle atrophy", "search_rank", 2)})
	s.AddNode(model.Node{ID: "PMC1", Category: model.CategoryPublication,
		Properties: model.NewProperties("pmcid", "PMC1", "title", "Bone loss", "search_rank", 1, "search_score", 0.91)})
	s.AddNode(model.Node{ID: "PMC3", Category: model.CategoryPublication,
		Properties: model.NewProperties("pmcid", "PMC3", "title", model.TitlePlaceholder)})
	s.AddNode(model.Node{ID: "mouse", Category: model.CategoryOrganism})
	s.AddEdge(model.Edge{Source: "PMC1", Target: "mouse", Type: "STUDIES"})
	s.AddEdge(model.Edge{Source: "PMC2", Target: "mouse", Type: "STUDIES"})
	s.AddEdge(model.Edge{Source: "PMC3", Target: "ghost"})

	var buf bytes.Buffer
	PrintSnapshotSummary(&buf, "Search: bone", graph.Build(s))
	out := buf.String()

	for _, want := range []string{
		"Search: bone",
		"Nodes: 4  Edges: 2",
		"Dropped: 1 edge(s)",
		"Publication  3",
		"STUDIES",
		"(0.910)",
		model.TitlePlaceholder,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	if strings.Index(out, "Bone loss") > strings.Index(out, "Muscle atrophy") {
		t.Error("publications should be listed by search rank")
	}
	if strings.Contains(out, "All listed titles resolved") {
		t.Error("a pending title should suppress the resolved check mark")
	}
}

func TestPrintImportReport(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	PrintImportReport(&buf, "seed.yaml", 12, 30, 2)
	out := buf.String()
	if !strings.Contains(out, "Imported: 12 nodes, 30 edges") || !strings.Contains(out, "Skipped: 2") {
		t.Errorf("unexpected report:\n%s", out)
	}
}
