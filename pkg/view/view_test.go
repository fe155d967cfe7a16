package view

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ritzau/kg-explorer/pkg/backend"
	"github.com/ritzau/kg-explorer/pkg/interaction"
	"github.com/ritzau/kg-explorer/pkg/loader"
	"github.com/ritzau/kg-explorer/pkg/model"
	"github.com/ritzau/kg-explorer/pkg/pubsub"
	"gonum.org/v1/gonum/spatial/r2"
)

type fakeService struct {
	snapshot *model.Snapshot
	loadErr  error
	titles   map[string]string

	mu      sync.Mutex
	records int
}

func (f *fakeService) snap() (*model.Snapshot, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.snapshot.Clone(), nil
}

func (f *fakeService) Search(ctx context.Context, req backend.SearchRequest) (*model.Snapshot, error) {
	return f.snap()
}

func (f *fakeService) Filter(ctx context.Context, req backend.FilterRequest) (*model.Snapshot, error) {
	return f.snap()
}

func (f *fakeService) Full(ctx context.Context, req backend.FullRequest) (*model.Snapshot, error) {
	return f.snap()
}

func (f *fakeService) ResolveTitle(ctx context.Context, externalID string) (string, error) {
	title, ok := f.titles[externalID]
	if !ok {
		return "", backend.ErrNotFound
	}
	return title, nil
}

func (f *fakeService) ResolveRecord(ctx context.Context, externalID string) (*model.Record, error) {
	f.mu.Lock()
	f.records++
	f.mu.Unlock()
	return &model.Record{Title: f.titles[externalID], Journal: "Astrobiology"}, nil
}

func testSnapshot() *model.Snapshot {
	s := model.NewSnapshot()
	s.AddNode(model.Node{ID: "PMC1", Category: model.CategoryPublication, Properties: model.NewProperties("pmcid", "PMC1")})
	s.AddNode(model.Node{ID: "PMC2", Category: model.CategoryPublication, Properties: model.NewProperties("pmcid", "PMC2")})
	s.AddNode(model.Node{ID: "mouse", Category: model.CategoryOrganism, Properties: model.NewProperties("name", "Mus musculus")})
	s.AddEdge(model.Edge{Source: "PMC1", Target: "mouse", Type: "STUDIES"})
	s.AddEdge(model.Edge{Source: "PMC2", Target: "mouse", Type: "STUDIES"})
	s.AddEdge(model.Edge{Source: "PMC2", Target: "ghost"})
	return s
}

func newTestView(svc *fakeService) (*View, *pubsub.SSEPublisher) {
	pub := NewPublisher()
	v := New(svc, loader.New(svc), pub, DefaultOptions())
	return v, pub
}

// stepUntil runs frames until cond holds, acting as the view's loop
func stepUntil(t *testing.T, v *View, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached, state %s: %s", v.state, v.message)
		}
		v.Step(time.Now())
		time.Sleep(time.Millisecond)
	}
}

func loaded(t *testing.T, v *View) {
	t.Helper()
	if err := v.Load(backend.FullRequest{Limit: 50}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	stepUntil(t, v, func() bool { return v.state == StateRendered && v.index.Len() > 0 })
	v.engine.Settle(1000)
}

func screenOf(v *View, id string) r2.Vec {
	i, _ := v.index.Lookup(id)
	return v.viewport.Transform().Apply(v.engine.Position(i))
}

func TestLoadRendersThenEnrichesTitles(t *testing.T) {
	svc := &fakeService{snapshot: testSnapshot(), titles: map[string]string{"PMC1": "Bone loss in mice", "PMC2": "Muscle atrophy"}}
	v, pub := newTestView(svc)

	if err := v.Load(backend.FullRequest{Limit: 50}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	stepUntil(t, v, func() bool { return v.status.Resolved == 2 && v.state == StateRendered })

	if v.status.Nodes != 3 || v.status.Edges != 2 || v.status.DroppedEdges != 1 {
		t.Errorf("unexpected status counts: %+v", v.status)
	}

	v.Step(time.Now())
	labels := map[string]string{}
	for _, n := range v.lastFrame.Nodes {
		labels[n.ID] = n.Label
		if n.Placeholder {
			t.Errorf("node %s still shows a placeholder", n.ID)
		}
	}
	if labels["PMC1"] != "Bone loss in mice" || labels["mouse"] != "Mus musculus" {
		t.Errorf("unexpected labels: %v", labels)
	}
	if len(v.lastFrame.Edges) != 2 {
		t.Errorf("expected 2 drawn edges, got %d", len(v.lastFrame.Edges))
	}

	ev, ok := pub.Latest(pubsub.TopicViewStatus)
	if !ok {
		t.Fatal("expected a published status")
	}
	var status pubsub.ViewStatus
	if err := json.Unmarshal(ev.Data, &status); err != nil {
		t.Fatal(err)
	}
	if status.State != string(StateRendered) {
		t.Errorf("expected rendered status, got %s", status.State)
	}
	if _, ok := pub.Latest(pubsub.TopicFrame); !ok {
		t.Error("expected a published frame")
	}
}

func TestFailedTitleKeepsPlaceholder(t *testing.T) {
	svc := &fakeService{snapshot: testSnapshot(), titles: map[string]string{"PMC1": "Bone loss in mice"}}
	v, _ := newTestView(svc)

	v.Load(backend.FullRequest{Limit: 50})
	stepUntil(t, v, func() bool { return v.status.Resolved+v.status.Failed == 2 && v.state == StateRendered })

	i, _ := v.index.Lookup("PMC2")
	if got := v.index.Node(i).DisplayLabel(); got != model.TitlePlaceholder {
		t.Errorf("expected placeholder for failed lookup, got %q", got)
	}
}

func TestLoadFailureShowsError(t *testing.T) {
	svc := &fakeService{loadErr: errors.New("backend down")}
	v, _ := newTestView(svc)

	v.Load(backend.FullRequest{Limit: 50})
	stepUntil(t, v, func() bool { return v.state == StateFailed })
	v.Step(time.Now())

	if v.lastFrame.Error == "" || len(v.lastFrame.Nodes) != 0 {
		t.Errorf("expected an empty frame with an error, got %+v", v.lastFrame)
	}
}

func TestReloadRepeatsLastRequest(t *testing.T) {
	svc := &fakeService{snapshot: testSnapshot(), titles: map[string]string{}}
	v, _ := newTestView(svc)

	v.Reload()
	v.Step(time.Now())
	if v.state != StateIdle {
		t.Fatalf("reload before load should do nothing, got %s", v.state)
	}

	loaded(t, v)
	gen := v.status.Generation
	v.Reload()
	stepUntil(t, v, func() bool { return v.status.Generation > gen && v.state == StateRendered })
}

func TestClickPublicationFetchesDetail(t *testing.T) {
	svc := &fakeService{snapshot: testSnapshot(), titles: map[string]string{"PMC1": "Bone loss in mice"}}
	v, _ := newTestView(svc)
	loaded(t, v)

	p := screenOf(v, "PMC1")
	v.handlePointer(PointerMessage{Type: PointerDown, X: p.X, Y: p.Y}, time.Now())
	v.handlePointer(PointerMessage{Type: PointerUp, X: p.X, Y: p.Y}, time.Now())

	sel := v.layer.Selection()
	if sel.NodeID != "PMC1" || sel.Popover == nil || sel.Popover.State != interaction.DetailLoading {
		t.Fatalf("expected loading detail popover, got %+v", sel)
	}

	stepUntil(t, v, func() bool {
		pop := v.layer.Selection().Popover
		return pop != nil && pop.State == interaction.DetailLoaded
	})
	if rec := v.layer.Selection().Popover.Record; rec == nil || rec.Journal != "Astrobiology" {
		t.Errorf("unexpected record %+v", rec)
	}

	v.handlePointer(PointerMessage{Type: PointerKey, Key: "Escape"}, time.Now())
	if !v.layer.Selection().Empty() {
		t.Error("escape should clear the selection")
	}
}

func TestDragPinsAndReleasesNode(t *testing.T) {
	svc := &fakeService{snapshot: testSnapshot(), titles: map[string]string{}}
	v, _ := newTestView(svc)
	loaded(t, v)

	p := screenOf(v, "mouse")
	i, _ := v.index.Lookup("mouse")
	now := time.Now()

	v.handlePointer(PointerMessage{Type: PointerDown, X: p.X, Y: p.Y}, now)
	v.handlePointer(PointerMessage{Type: PointerMove, X: p.X + 50, Y: p.Y + 20}, now)

	if !v.engine.Pinned(i) {
		t.Fatal("dragged node should be pinned")
	}
	v.engine.Tick()
	want := v.viewport.Transform().Invert(r2.Vec{X: p.X + 50, Y: p.Y + 20})
	if got := v.engine.Position(i); r2.Norm(r2.Sub(got, want)) > 1e-6 {
		t.Errorf("dragged node at %v, want %v", got, want)
	}

	v.handlePointer(PointerMessage{Type: PointerUp, X: p.X + 50, Y: p.Y + 20}, now)
	if v.engine.Pinned(i) {
		t.Error("released node should be unpinned")
	}
	if !v.layer.Selection().Empty() {
		t.Error("a drag should not select the node")
	}
}

func TestDragKeepsGrabOffset(t *testing.T) {
	svc := &fakeService{snapshot: testSnapshot(), titles: map[string]string{}}
	v, _ := newTestView(svc)
	loaded(t, v)

	i, _ := v.index.Lookup("mouse")
	before := v.engine.Position(i)
	k := v.viewport.Transform().K
	off := r2.Vec{X: 0.5 * v.engine.Radius(i) * k}
	p := r2.Add(screenOf(v, "mouse"), off)
	now := time.Now()

	v.handlePointer(PointerMessage{Type: PointerDown, X: p.X, Y: p.Y}, now)
	if !v.engine.Pinned(i) {
		t.Fatal("pressed node should be pinned")
	}
	v.engine.Tick()
	if got := v.engine.Position(i); r2.Norm(r2.Sub(got, before)) > 1e-6 {
		t.Fatalf("press moved the node from %v to %v", before, got)
	}

	v.handlePointer(PointerMessage{Type: PointerMove, X: p.X + 30, Y: p.Y}, now)
	v.engine.Tick()
	want := r2.Add(before, r2.Vec{X: 30 / k})
	if got := v.engine.Position(i); r2.Norm(r2.Sub(got, want)) > 1e-6 {
		t.Errorf("dragged node at %v, want %v", got, want)
	}
	v.handlePointer(PointerMessage{Type: PointerUp, X: p.X + 30, Y: p.Y}, now)
}

func TestPressHeldAcrossReloadIsDropped(t *testing.T) {
	svc := &fakeService{snapshot: testSnapshot(), titles: map[string]string{}}
	v, _ := newTestView(svc)
	loaded(t, v)

	p := screenOf(v, "mouse")
	v.handlePointer(PointerMessage{Type: PointerDown, X: p.X, Y: p.Y}, time.Now())

	gen := v.status.Generation
	v.Reload()
	stepUntil(t, v, func() bool { return v.status.Generation > gen && v.state == StateRendered })

	v.handlePointer(PointerMessage{Type: PointerUp, X: 5, Y: 5}, time.Now())
	if sel := v.layer.Selection(); !sel.Empty() {
		t.Errorf("release after a reload should not select, got %+v", sel)
	}
	i, _ := v.index.Lookup("mouse")
	if v.engine.Pinned(i) {
		t.Error("node from the earlier graph should not stay pinned")
	}
}

func TestBackgroundDragPans(t *testing.T) {
	svc := &fakeService{snapshot: testSnapshot(), titles: map[string]string{}}
	v, _ := newTestView(svc)
	loaded(t, v)

	before := v.viewport.Transform()
	now := time.Now()
	v.handlePointer(PointerMessage{Type: PointerDown, X: 5, Y: 5}, now)
	v.handlePointer(PointerMessage{Type: PointerMove, X: 45, Y: 25}, now)
	v.handlePointer(PointerMessage{Type: PointerUp, X: 45, Y: 25}, now)

	after := v.viewport.Transform()
	if after.X != before.X+40 || after.Y != before.Y+20 || after.K != before.K {
		t.Errorf("expected pan by (40,20), got %+v -> %+v", before, after)
	}
}

func TestWheelZoomsWithinClamp(t *testing.T) {
	svc := &fakeService{snapshot: testSnapshot(), titles: map[string]string{}}
	v, _ := newTestView(svc)

	for range 50 {
		v.handlePointer(PointerMessage{Type: PointerWheel, X: 100, Y: 100, Delta: -500}, time.Now())
	}
	if k := v.viewport.Transform().K; k != 10 {
		t.Errorf("expected scale clamped at 10, got %v", k)
	}
}

func TestFitWithoutNodesIsNoop(t *testing.T) {
	svc := &fakeService{snapshot: model.NewSnapshot()}
	v, _ := newTestView(svc)

	before := v.viewport.Transform()
	v.handlePointer(PointerMessage{Type: PointerFit}, time.Now())
	if v.viewport.Animating() || v.viewport.Transform() != before {
		t.Error("zoom to fit with no nodes should do nothing")
	}
}

func TestResizeKeepsTransformAndPositions(t *testing.T) {
	svc := &fakeService{snapshot: testSnapshot(), titles: map[string]string{}}
	v, _ := newTestView(svc)
	loaded(t, v)

	v.viewport.Pan(30, 40)
	before := v.viewport.Transform()
	i, _ := v.index.Lookup("mouse")
	pos := v.engine.Position(i)

	v.handlePointer(PointerMessage{Type: PointerResize, Width: 800, Height: 600}, time.Now())

	if v.viewport.Transform() != before {
		t.Error("resize should keep the transform")
	}
	if v.engine.Position(i) != pos {
		t.Error("resize should keep node positions")
	}
	if c := v.engine.Center(); c.X != 400 || c.Y != 300 {
		t.Errorf("expected centering target at the new canvas center, got %v", c)
	}
}

func TestPointerMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     PointerMessage
		wantErr bool
	}{
		{"move", PointerMessage{Type: PointerMove, X: 1, Y: 2}, false},
		{"resize", PointerMessage{Type: PointerResize, Width: 10, Height: 10}, false},
		{"empty resize", PointerMessage{Type: PointerResize}, true},
		{"unknown", PointerMessage{Type: "tap"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunStopsWithContext(t *testing.T) {
	svc := &fakeService{snapshot: testSnapshot(), titles: map[string]string{}}
	v, _ := newTestView(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- v.Run(ctx) }()

	status, _, err := v.Status(ctx)
	if err != nil || status.State != string(StateIdle) {
		t.Fatalf("expected idle status, got %+v (%v)", status, err)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := v.Center(); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after the loop ended, got %v", err)
	}
}
