// Package interaction turns pointer input on drawn nodes into hover
// transitions, drags, popovers and selection changes. Everything it decides
// leaves as an Event on a channel.
package interaction

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ritzau/kg-explorer/pkg/logging"
	"github.com/ritzau/kg-explorer/pkg/model"
	"gonum.org/v1/gonum/spatial/r2"
)

// Hover transition parameters
const (
	HoverScale    = 1.3
	HoverDuration = 200 * time.Millisecond
)

// EventBuffer is the capacity of the event channel
const EventBuffer = 256

// Dragger receives drag gestures in layout coordinates
type Dragger interface {
	DragStart(id string) error
	DragMove(id string, p r2.Vec) error
	DragEnd(id string) error
}

// Point is a JSON-friendly screen or layout coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt converts a vector to a Point
func Pt(v r2.Vec) Point {
	return Point{X: v.X, Y: v.Y}
}

// PopoverKind distinguishes the lightweight and the detailed popover
type PopoverKind string

const (
	PopoverInfo   PopoverKind = "info"
	PopoverDetail PopoverKind = "detail"
)

// DetailState is the progress of a detail fetch
type DetailState string

const (
	DetailLoading DetailState = "loading"
	DetailError   DetailState = "error"
	DetailLoaded  DetailState = "loaded"
)

// Field is one labelled line of an info popover
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Popover is an open popover with its final on-screen position
type Popover struct {
	Kind       PopoverKind   `json:"kind"`
	NodeID     string        `json:"nodeId"`
	Position   Point         `json:"position"`
	Size       Size          `json:"size"`
	Fields     []Field       `json:"fields,omitempty"`
	State      DetailState   `json:"state,omitempty"`
	ExternalID string        `json:"externalId,omitempty"`
	Record     *model.Record `json:"record,omitempty"`
	Error      string        `json:"error,omitempty"`
	Token      uint64        `json:"token,omitempty"`
}

// Selection is the selected node and its popover. The zero value means
// nothing is selected.
type Selection struct {
	NodeID  string   `json:"nodeId,omitempty"`
	Popover *Popover `json:"popover,omitempty"`
}

// Empty reports whether nothing is selected
func (s Selection) Empty() bool {
	return s.NodeID == "" && s.Popover == nil
}

// DismissReason says why a selection was cleared
type DismissReason string

const (
	DismissClose    DismissReason = "close"
	DismissOutside  DismissReason = "outside"
	DismissEscape   DismissReason = "escape"
	DismissNavigate DismissReason = "navigate"
)

// EventType names an interaction event
type EventType string

const (
	EventHover            EventType = "hover"
	EventHoverEnd         EventType = "hover_end"
	EventClick            EventType = "click"
	EventDetailRequested  EventType = "detail_requested"
	EventDetailResolved   EventType = "detail_resolved"
	EventSelectionCleared EventType = "selection_cleared"
	EventDragStart        EventType = "drag_start"
	EventDragEnd          EventType = "drag_end"
)

// Event is emitted by the layer for the view and for subscribers
type Event struct {
	Type       EventType      `json:"type"`
	NodeID     string         `json:"nodeId,omitempty"`
	Category   model.Category `json:"category,omitempty"`
	Pointer    Point          `json:"pointer"`
	Anchor     Point          `json:"anchor"`
	ExternalID string         `json:"externalId,omitempty"`
	Token      uint64         `json:"token,omitempty"`
	Reason     DismissReason  `json:"reason,omitempty"`
}

// transition animates one node's hover factor
type transition struct {
	from, to float64
	start    time.Time
	settled  bool
}

func (t *transition) at(now time.Time) (float64, bool) {
	p := float64(now.Sub(t.start)) / float64(HoverDuration)
	if p >= 1 {
		return t.to, true
	}
	if p < 0 {
		p = 0
	}
	// Cubic in-out
	if p *= 2; p <= 1 {
		p = p * p * p / 2
	} else {
		p -= 2
		p = (p*p*p + 2) / 2
	}
	return t.from + (t.to-t.from)*p, false
}

// Layer holds hover, drag and selection state for one view
type Layer struct {
	dragger  Dragger
	viewport Size
	margin   float64

	hovered     string
	transitions map[string]*transition
	dragging    string
	selection   Selection
	token       uint64

	events  chan Event
	dropped int
}

// New creates a layer forwarding drags to dragger
func New(dragger Dragger, width, height float64) *Layer {
	return &Layer{
		dragger:     dragger,
		viewport:    Size{W: width, H: height},
		margin:      Margin,
		transitions: make(map[string]*transition),
		events:      make(chan Event, EventBuffer),
	}
}

// Events returns the channel interaction events are sent on
func (l *Layer) Events() <-chan Event {
	return l.events
}

// Dropped returns how many events were discarded because nobody drained
// the channel
func (l *Layer) Dropped() int {
	return l.dropped
}

// Resize updates the viewport used for popover placement
func (l *Layer) Resize(width, height float64) {
	l.viewport = Size{W: width, H: height}
}

// Hovered returns the id of the hovered node, if any
func (l *Layer) Hovered() string {
	return l.hovered
}

// Dragging returns the id of the dragged node, if any
func (l *Layer) Dragging() string {
	return l.dragging
}

// Selection returns the current selection
func (l *Layer) Selection() Selection {
	return l.selection
}

func (l *Layer) emit(ev Event) {
	select {
	case l.events <- ev:
	default:
		l.dropped++
		logging.Debug("interaction event dropped", "type", string(ev.Type), "node", ev.NodeID)
	}
}

// Hover moves the pointer over node (nil for the background). It starts
// the enlarge and revert transitions and emits hover and hover_end.
func (l *Layer) Hover(node *model.Node, pointer r2.Vec, now time.Time) {
	id := ""
	if node != nil {
		id = node.ID
	}
	if l.dragging != "" || id == l.hovered {
		return
	}

	if l.hovered != "" {
		prev := l.hovered
		l.startTransition(prev, 1, now)
		l.hovered = ""
		l.emit(Event{Type: EventHoverEnd, NodeID: prev, Pointer: Pt(pointer)})
	}
	if node == nil {
		return
	}

	l.hovered = id
	l.startTransition(id, HoverScale, now)
	l.emit(Event{
		Type:     EventHover,
		NodeID:   id,
		Category: node.Category,
		Pointer:  Pt(pointer),
		Anchor:   Pt(Anchor(pointer)),
	})
}

func (l *Layer) startTransition(id string, to float64, now time.Time) {
	from := l.HoverFactor(id, now)
	l.transitions[id] = &transition{from: from, to: to, start: now}
}

// HoverFactor returns the radius multiplier of node id at now
func (l *Layer) HoverFactor(id string, now time.Time) float64 {
	t, ok := l.transitions[id]
	if !ok {
		return 1
	}
	f, _ := t.at(now)
	return f
}

// Advance drops finished transitions. It returns true when any hover
// factor changed since the previous call.
func (l *Layer) Advance(now time.Time) bool {
	changed := false
	for id, t := range l.transitions {
		f, done := t.at(now)
		if !done {
			changed = true
			continue
		}
		if !t.settled {
			t.settled = true
			changed = true
		}
		if f == 1 {
			delete(l.transitions, id)
		}
	}
	return changed
}

// Click selects node and opens its popover. Publications get a detail
// popover in the loading state and a detail_requested event; other nodes
// get an info popover.
func (l *Layer) Click(node *model.Node, pointer r2.Vec) {
	if node == nil {
		l.Dismiss(DismissOutside)
		return
	}

	l.token++
	p := &Popover{NodeID: node.ID, Token: l.token}
	if node.IsPublication() {
		p.Kind = PopoverDetail
		p.Size = DetailSize
		p.State = DetailLoading
		p.ExternalID = node.ExternalID()
	} else {
		p.Kind = PopoverInfo
		p.Size = InfoSize
		p.Fields = infoFields(node)
	}
	p.Position = Pt(Place(pointer, AnchorOffset, p.Size, l.viewport, l.margin))

	l.selection = Selection{NodeID: node.ID, Popover: p}
	l.emit(Event{
		Type:     EventClick,
		NodeID:   node.ID,
		Category: node.Category,
		Pointer:  Pt(pointer),
		Anchor:   p.Position,
		Token:    p.Token,
	})
	if p.Kind == PopoverDetail {
		l.emit(Event{
			Type:       EventDetailRequested,
			NodeID:     node.ID,
			ExternalID: p.ExternalID,
			Token:      p.Token,
		})
	}
}

func infoFields(n *model.Node) []Field {
	fields := []Field{
		{Label: "Category", Value: string(n.Category)},
		{Label: "Name", Value: n.DisplayLabel()},
	}
	if v := n.Properties.String("scientific_name"); v != "" {
		fields = append(fields, Field{Label: "Scientific name", Value: v})
	}
	if v := n.Properties.String("journal"); v != "" {
		fields = append(fields, Field{Label: "Journal", Value: v})
	}
	if score, ok := n.Properties.Float("search_score"); ok {
		fields = append(fields, Field{Label: "Relevance", Value: strconv.FormatFloat(score, 'f', 3, 64)})
	}
	return fields
}

// ResolveDetail completes the detail fetch identified by token. It is
// ignored when the popover was dismissed or replaced in the meantime.
func (l *Layer) ResolveDetail(token uint64, rec *model.Record, err error) bool {
	p := l.selection.Popover
	if p == nil || p.Kind != PopoverDetail || p.Token != token {
		return false
	}

	// Published selections are never mutated
	resolved := *p
	if err != nil {
		resolved.State = DetailError
		resolved.Error = fmt.Sprintf("could not load %s: %v", p.ExternalID, err)
	} else {
		resolved.State = DetailLoaded
		resolved.Record = rec
	}
	l.selection = Selection{NodeID: l.selection.NodeID, Popover: &resolved}
	l.emit(Event{
		Type:       EventDetailResolved,
		NodeID:     resolved.NodeID,
		ExternalID: resolved.ExternalID,
		Token:      token,
	})
	return true
}

// Key handles a key press; Escape dismisses the selection
func (l *Layer) Key(key string) bool {
	if key == "Escape" || key == "Esc" {
		return l.Dismiss(DismissEscape)
	}
	return false
}

// Dismiss clears the selection and its popover together
func (l *Layer) Dismiss(reason DismissReason) bool {
	if l.selection.Empty() {
		return false
	}
	prev := l.selection.NodeID
	l.selection = Selection{}
	l.emit(Event{Type: EventSelectionCleared, NodeID: prev, Reason: reason})
	return true
}

// Reset forgets hover, drag and selection, as when the graph is replaced
func (l *Layer) Reset() {
	l.Dismiss(DismissNavigate)
	l.hovered = ""
	l.dragging = ""
	clear(l.transitions)
}

// DragStart pins node id where it is. p is the pointer in layout space.
func (l *Layer) DragStart(id string, p r2.Vec) error {
	if l.dragger == nil {
		return nil
	}
	if err := l.dragger.DragStart(id); err != nil {
		return err
	}
	l.dragging = id
	l.emit(Event{Type: EventDragStart, NodeID: id, Pointer: Pt(p)})
	return nil
}

// DragMove follows the pointer with the dragged node
func (l *Layer) DragMove(p r2.Vec) error {
	if l.dragger == nil || l.dragging == "" {
		return nil
	}
	return l.dragger.DragMove(l.dragging, p)
}

// DragEnd releases the dragged node
func (l *Layer) DragEnd() error {
	if l.dragger == nil || l.dragging == "" {
		return nil
	}
	id := l.dragging
	l.dragging = ""
	l.emit(Event{Type: EventDragEnd, NodeID: id})
	return l.dragger.DragEnd(id)
}
