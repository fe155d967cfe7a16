package output

import (
	"cmp"
	"fmt"
	"io"
	"slices"

	"github.com/fatih/color"
	"github.com/ritzau/kg-explorer/pkg/graph"
	"github.com/ritzau/kg-explorer/pkg/model"
)

// maxListed bounds the publications listed in a summary
const maxListed = 10

// categoryColors approximates the view palette on a terminal
var categoryColors = map[model.Category]*color.Color{
	model.CategoryPublication: color.New(color.FgBlue),
	model.CategoryOrganism:    color.New(color.FgGreen),
	model.CategoryPhenomenon:  color.New(color.FgRed),
	model.CategoryFinding:     color.New(color.FgYellow),
	model.CategoryPlatform:    color.New(color.FgMagenta),
	model.CategoryStressor:    color.New(color.FgHiYellow),
	model.CategoryAuthor:      color.New(color.FgHiBlack),
}

// PrintSnapshotSummary prints a colored overview of a loaded snapshot:
// counts per category and relation, dropped edges and the top publications
func PrintSnapshotSummary(w io.Writer, title string, ix *graph.Index) {
	bold := color.New(color.Bold)
	yellow := color.New(color.FgYellow)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	bold.Fprintln(w, title)
	bold.Fprintln(w, "====================================")

	snap := ix.Snapshot()
	fmt.Fprintf(w, "Nodes: %d  Edges: %d  Components: %d\n", ix.Len(), len(ix.Links()), ix.Components())
	if d := ix.DroppedEdges() + ix.DroppedNodes(); d > 0 {
		yellow.Fprintf(w, "Dropped: %d edge(s) with missing endpoints, %d duplicate node(s)\n", ix.DroppedEdges(), ix.DroppedNodes())
	}
	fmt.Fprintln(w)

	counts := snap.CountByCategory()
	if len(counts) > 0 {
		bold.Fprintln(w, "Categories:")
		for _, c := range model.Categories {
			if n := counts[c]; n > 0 {
				categoryColor(c).Fprintf(w, "  %-12s %d\n", c, n)
			}
		}
		for c, n := range counts {
			if !c.Valid() {
				fmt.Fprintf(w, "  %-12s %d\n", c, n)
			}
		}
		fmt.Fprintln(w)
	}

	if rels := snap.CountByRelation(); len(rels) > 0 {
		bold.Fprintln(w, "Relations:")
		names := make([]string, 0, len(rels))
		for r := range rels {
			names = append(names, r)
		}
		slices.Sort(names)
		for _, r := range names {
			cyan.Fprintf(w, "  %-14s %d\n", r, rels[r])
		}
		fmt.Fprintln(w)
	}

	pubs := topPublications(ix)
	if len(pubs) > 0 {
		bold.Fprintln(w, "Publications:")
		pending := 0
		for _, i := range pubs {
			n := ix.Node(i)
			label, ok := n.Title()
			if !ok {
				pending++
				yellow.Fprintf(w, "  %-12s %s\n", n.ExternalID(), model.TitlePlaceholder)
				continue
			}
			fmt.Fprintf(w, "  %-12s %s", n.ExternalID(), label)
			if score, ok := n.Properties.Float("search_score"); ok {
				cyan.Fprintf(w, "  (%.3f)", score)
			}
			fmt.Fprintf(w, "  degree %d\n", ix.Degree(i))
		}
		if pending == 0 {
			green.Fprintln(w, "✓ All listed titles resolved")
		}
	}
}

func categoryColor(c model.Category) *color.Color {
	if col, ok := categoryColors[c]; ok {
		return col
	}
	return color.New(color.Reset)
}

// topPublications returns publication indices by search rank, then degree
func topPublications(ix *graph.Index) []int {
	var pubs []int
	for i := range ix.Len() {
		if ix.Node(i).IsPublication() {
			pubs = append(pubs, i)
		}
	}
	slices.SortStableFunc(pubs, func(a, b int) int {
		ra, okA := ix.Node(a).Properties.Float("search_rank")
		rb, okB := ix.Node(b).Properties.Float("search_rank")
		switch {
		case okA && okB && ra != rb:
			return cmp.Compare(ra, rb)
		case okA != okB:
			if okA {
				return -1
			}
			return 1
		}
		return cmp.Compare(ix.Degree(b), ix.Degree(a))
	})
	if len(pubs) > maxListed {
		pubs = pubs[:maxListed]
	}
	return pubs
}

// PrintImportReport prints the result of importing a dataset
func PrintImportReport(w io.Writer, path string, nodes, edges, skipped int) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	bold.Fprintln(w, "Dataset import")
	fmt.Fprintf(w, "Source: %s\n", path)
	green.Fprintf(w, "Imported: %d nodes, %d edges\n", nodes, edges)
	if skipped > 0 {
		yellow.Fprintf(w, "Skipped: %d edge(s) with missing endpoints\n", skipped)
	}
}
