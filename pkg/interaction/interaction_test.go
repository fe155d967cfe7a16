package interaction

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/ritzau/kg-explorer/pkg/model"
	"gonum.org/v1/gonum/spatial/r2"
)

func TestPlaceNeverViolatesMargins(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 5000; i++ {
		vp := Size{W: 450 + rng.Float64()*1550, H: 400 + rng.Float64()*900}
		size := InfoSize
		if rng.Intn(2) == 0 {
			size = DetailSize
		}
		cursor := r2.Vec{X: rng.Float64() * vp.W, Y: rng.Float64() * vp.H}

		p := Place(cursor, AnchorOffset, size, vp, Margin)
		if p.X < Margin || p.Y < Margin || p.X+size.W > vp.W-Margin || p.Y+size.H > vp.H-Margin {
			t.Fatalf("popover %v at %v in %v violates margin %v (cursor %v)", size, p, vp, Margin, cursor)
		}
	}
}

func TestPlacePrefersRightOfCursor(t *testing.T) {
	p := Place(r2.Vec{X: 100, Y: 200}, AnchorOffset, InfoSize, Size{W: 1000, H: 800}, Margin)
	if p != (r2.Vec{X: 110, Y: 190}) {
		t.Errorf("expected cursor+(10,-10), got %v", p)
	}
}

func TestPlaceFlipsAtRightEdge(t *testing.T) {
	vp := Size{W: 1000, H: 800}
	cursor := r2.Vec{X: 800, Y: 300}

	p := Place(cursor, AnchorOffset, DetailSize, vp, Margin)
	// Right-anchored would end at 800+10+420 = 1230 > 990
	want := cursor.X - AnchorOffset.X - DetailSize.W
	if p.X != want {
		t.Errorf("expected left-anchored x=%v, got %v", want, p.X)
	}
	if p.X+DetailSize.W > cursor.X {
		t.Error("flipped popover should sit left of the cursor")
	}
}

func TestPlaceFlipsAtBottomEdge(t *testing.T) {
	vp := Size{W: 1000, H: 800}
	cursor := r2.Vec{X: 100, Y: 750}

	p := Place(cursor, AnchorOffset, InfoSize, vp, Margin)
	// Below-anchored would end at 750-10+160 = 900 > 790
	want := cursor.Y - AnchorOffset.Y - InfoSize.H
	if p.Y != want {
		t.Errorf("expected flipped y=%v, got %v", want, p.Y)
	}
	if p.X != cursor.X+AnchorOffset.X {
		t.Errorf("x should stay right of the cursor, got %v", p.X)
	}
}

func TestPlaceOversizedPinsToMargin(t *testing.T) {
	p := Place(r2.Vec{X: 50, Y: 50}, AnchorOffset, DetailSize, Size{W: 300, H: 200}, Margin)
	if p != (r2.Vec{X: Margin, Y: Margin}) {
		t.Errorf("expected oversized popover at the margin, got %v", p)
	}
}

type recordingDragger struct {
	calls []string
	last  r2.Vec
}

func (d *recordingDragger) DragStart(id string) error {
	if id == "missing" {
		return errors.New("unknown node")
	}
	d.calls = append(d.calls, "start "+id)
	return nil
}

func (d *recordingDragger) DragMove(id string, p r2.Vec) error {
	d.calls = append(d.calls, "move "+id)
	d.last = p
	return nil
}

func (d *recordingDragger) DragEnd(id string) error {
	d.calls = append(d.calls, "end "+id)
	return nil
}

func drain(l *Layer) []Event {
	var out []Event
	for {
		select {
		case ev := <-l.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func organism() *model.Node {
	return &model.Node{
		ID:         "mouse",
		Category:   model.CategoryOrganism,
		Properties: model.NewProperties("name", "mouse", "scientific_name", "Mus musculus", "search_score", 0.75),
	}
}

func publication() *model.Node {
	return &model.Node{
		ID:         "PMC1",
		Category:   model.CategoryPublication,
		Properties: model.NewProperties("pmcid", "PMC1", "title", "Bone loss"),
	}
}

func TestHoverAnchorAndScale(t *testing.T) {
	l := New(nil, 1000, 800)
	now := time.Now()
	pointer := r2.Vec{X: 320, Y: 240}

	l.Hover(organism(), pointer, now)
	events := drain(l)
	if len(events) != 1 || events[0].Type != EventHover {
		t.Fatalf("expected one hover event, got %+v", events)
	}
	if events[0].Anchor != (Point{X: 330, Y: 230}) {
		t.Errorf("expected anchor pointer+(10,-10), got %+v", events[0].Anchor)
	}

	if f := l.HoverFactor("mouse", now.Add(HoverDuration/2)); f <= 1 || f >= HoverScale {
		t.Errorf("expected factor mid-transition, got %v", f)
	}
	if f := l.HoverFactor("mouse", now.Add(HoverDuration)); f != HoverScale {
		t.Errorf("expected factor %v after %v, got %v", HoverScale, HoverDuration, f)
	}

	later := now.Add(time.Second)
	l.Hover(nil, pointer, later)
	events = drain(l)
	if len(events) != 1 || events[0].Type != EventHoverEnd {
		t.Fatalf("expected hover_end, got %+v", events)
	}
	if !l.Advance(later.Add(HoverDuration / 2)) {
		t.Error("revert transition should be active")
	}
	l.Advance(later.Add(HoverDuration))
	if f := l.HoverFactor("mouse", later.Add(HoverDuration)); f != 1 {
		t.Errorf("expected factor back to 1, got %v", f)
	}
}

func TestClickInfoPopover(t *testing.T) {
	l := New(nil, 1000, 800)
	l.Click(organism(), r2.Vec{X: 100, Y: 100})

	sel := l.Selection()
	if sel.NodeID != "mouse" || sel.Popover == nil || sel.Popover.Kind != PopoverInfo {
		t.Fatalf("expected info popover for mouse, got %+v", sel)
	}
	labels := map[string]string{}
	for _, f := range sel.Popover.Fields {
		labels[f.Label] = f.Value
	}
	if labels["Scientific name"] != "Mus musculus" || labels["Relevance"] != "0.750" {
		t.Errorf("unexpected fields: %+v", sel.Popover.Fields)
	}

	events := drain(l)
	if len(events) != 1 || events[0].Type != EventClick {
		t.Errorf("expected one click event, got %+v", events)
	}
}

func TestPublicationDetailLifecycle(t *testing.T) {
	l := New(nil, 1000, 800)
	l.Click(publication(), r2.Vec{X: 800, Y: 100})

	sel := l.Selection()
	if sel.Popover.Kind != PopoverDetail || sel.Popover.State != DetailLoading {
		t.Fatalf("expected loading detail popover, got %+v", sel.Popover)
	}
	if sel.Popover.Position.X+DetailSize.W > 800 {
		t.Errorf("expected left-anchored detail popover near the right edge, got x=%v", sel.Popover.Position.X)
	}

	var requested Event
	for _, ev := range drain(l) {
		if ev.Type == EventDetailRequested {
			requested = ev
		}
	}
	if requested.ExternalID != "PMC1" || requested.Token == 0 {
		t.Fatalf("expected detail request for PMC1, got %+v", requested)
	}

	if l.ResolveDetail(requested.Token+1, &model.Record{Title: "wrong"}, nil) {
		t.Error("a foreign token must be ignored")
	}
	if !l.ResolveDetail(requested.Token, nil, errors.New("timeout")) {
		t.Fatal("expected the matching token to resolve")
	}
	p := l.Selection().Popover
	if p.State != DetailError || p.Error == "" {
		t.Errorf("expected error state, got %+v", p)
	}
	if sel.Popover.State != DetailLoading {
		t.Error("a previously returned selection must not change")
	}
}

func TestStaleDetailIgnoredAfterDismiss(t *testing.T) {
	l := New(nil, 1000, 800)
	l.Click(publication(), r2.Vec{X: 100, Y: 100})
	token := l.Selection().Popover.Token

	if !l.Key("Escape") {
		t.Fatal("escape should dismiss")
	}
	if l.ResolveDetail(token, &model.Record{Title: "late"}, nil) {
		t.Error("result for a dismissed popover must be ignored")
	}
	if !l.Selection().Empty() {
		t.Error("selection should stay empty")
	}
}

func TestDismissIsAtomic(t *testing.T) {
	reasons := []DismissReason{DismissClose, DismissOutside, DismissEscape, DismissNavigate}
	for _, reason := range reasons {
		t.Run(string(reason), func(t *testing.T) {
			l := New(nil, 1000, 800)
			l.Click(organism(), r2.Vec{X: 10, Y: 10})
			drain(l)

			if !l.Dismiss(reason) {
				t.Fatal("expected dismissal")
			}
			sel := l.Selection()
			if sel.NodeID != "" || sel.Popover != nil {
				t.Errorf("selection partially cleared: %+v", sel)
			}
			events := drain(l)
			if len(events) != 1 || events[0].Type != EventSelectionCleared || events[0].Reason != reason {
				t.Errorf("expected selection_cleared(%s), got %+v", reason, events)
			}
			if l.Dismiss(reason) {
				t.Error("dismissing twice should be a no-op")
			}
		})
	}
}

func TestClickBackgroundDismisses(t *testing.T) {
	l := New(nil, 1000, 800)
	l.Click(organism(), r2.Vec{X: 10, Y: 10})
	l.Click(nil, r2.Vec{X: 500, Y: 500})
	if !l.Selection().Empty() {
		t.Error("background click should clear the selection")
	}
}

func TestDragForwarding(t *testing.T) {
	d := &recordingDragger{}
	l := New(d, 1000, 800)
	now := time.Now()

	if err := l.DragStart("mouse", r2.Vec{X: 1, Y: 2}); err != nil {
		t.Fatal(err)
	}
	if err := l.DragMove(r2.Vec{X: 5, Y: 6}); err != nil {
		t.Fatal(err)
	}
	l.Hover(publication(), r2.Vec{}, now)
	if l.Hovered() != "" {
		t.Error("hover should not change during a drag")
	}
	if err := l.DragEnd(); err != nil {
		t.Fatal(err)
	}

	want := []string{"start mouse", "move mouse", "end mouse"}
	if len(d.calls) != len(want) {
		t.Fatalf("expected %v, got %v", want, d.calls)
	}
	for i := range want {
		if d.calls[i] != want[i] {
			t.Errorf("call %d: expected %q, got %q", i, want[i], d.calls[i])
		}
	}
	if d.last != (r2.Vec{X: 5, Y: 6}) {
		t.Errorf("expected last move at (5,6), got %v", d.last)
	}

	if err := l.DragStart("missing", r2.Vec{}); err == nil {
		t.Error("expected error for unknown node")
	}
	if l.Dragging() != "" {
		t.Error("failed drag start should not mark a drag")
	}
}

func TestEventsNeverBlock(t *testing.T) {
	l := New(nil, 1000, 800)
	for i := 0; i < EventBuffer+10; i++ {
		l.Click(organism(), r2.Vec{})
	}
	if l.Dropped() != 10 {
		t.Errorf("expected 10 dropped events, got %d", l.Dropped())
	}
}
