// Package scene holds the retained node graph handed to the external renderer.
//
// The tracking core never draws anything. It builds nodes (groups, polylines,
// markers), attaches them to one another and toggles their visibility; the
// render loop walks the graph once per frame. Every Node is safe for
// concurrent use because the render loop and the tracker run on different
// goroutines.
package scene

import (
	"slices"
	"sync"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Kind identifies what a node draws.
type Kind uint8

const (
	KindGroup Kind = iota
	KindPolyline
	KindMarker
	KindAxisLine
	KindAxisMarker
)

func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindPolyline:
		return "polyline"
	case KindMarker:
		return "marker"
	case KindAxisLine:
		return "axis_line"
	case KindAxisMarker:
		return "axis_marker"
	default:
		return "unknown"
	}
}

// Identity is the rotation that leaves every vector unchanged.
var Identity = r3.Rotation{Real: 1}

// Node is an opaque scene handle: a named object with an orientation, a
// position, optional geometry and child nodes.
type Node struct {
	mu          sync.RWMutex
	name        string
	kind        Kind
	orientation r3.Rotation
	position    r3.Vec
	points      []r3.Vec
	visible     bool
	parent      *Node
	children    []*Node
}

func newNode(name string, kind Kind) *Node {
	return &Node{
		name:        name,
		kind:        kind,
		orientation: Identity,
		visible:     true,
	}
}

// NewGroup creates an empty container node.
func NewGroup(name string) *Node {
	return newNode(name, KindGroup)
}

// NewPolyline creates a line strip through points. The slice is copied.
func NewPolyline(name string, points []r3.Vec) *Node {
	n := newNode(name, KindPolyline)
	n.points = slices.Clone(points)
	return n
}

// NewMarker creates a point marker at the given position.
func NewMarker(name string, at r3.Vec) *Node {
	n := newNode(name, KindMarker)
	n.position = at
	return n
}

// NewAxisLine creates a segment from the origin to tip.
func NewAxisLine(name string, tip r3.Vec) *Node {
	n := newNode(name, KindAxisLine)
	n.points = []r3.Vec{{}, tip}
	return n
}

// NewAxisMarker creates a marker sitting on an axis tip.
func NewAxisMarker(name string, at r3.Vec) *Node {
	n := newNode(name, KindAxisMarker)
	n.position = at
	return n
}

// Name returns the node's name.
func (n *Node) Name() string { return n.name }

// Kind returns what the node draws.
func (n *Node) Kind() Kind { return n.kind }

// Orientation returns the node's current rotation.
func (n *Node) Orientation() r3.Rotation {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.orientation
}

// SetOrientation replaces the node's rotation. The quaternion is normalised.
func (n *Node) SetOrientation(r r3.Rotation) {
	n.mu.Lock()
	n.orientation = normalize(r)
	n.mu.Unlock()
}

// Position returns the node's position relative to its parent.
func (n *Node) Position() r3.Vec {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.position
}

// SetPosition moves the node.
func (n *Node) SetPosition(p r3.Vec) {
	n.mu.Lock()
	n.position = p
	n.mu.Unlock()
}

// Points returns a copy of the node's vertices.
func (n *Node) Points() []r3.Vec {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Clone(n.points)
}

// Visible reports whether the renderer should draw the node and its subtree.
func (n *Node) Visible() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.visible
}

// SetVisible shows or hides the node. Idempotent.
func (n *Node) SetVisible(v bool) {
	n.mu.Lock()
	n.visible = v
	n.mu.Unlock()
}

// Parent returns the node this one is attached to, or nil.
func (n *Node) Parent() *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parent
}

// Children returns a snapshot of the direct children.
func (n *Node) Children() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Clone(n.children)
}

// Attach makes child a child of n, detaching it from any previous parent.
// Attaching the same child twice is a no-op.
func (n *Node) Attach(child *Node) {
	if child == nil || child == n {
		return
	}
	if old := child.Parent(); old != nil && old != n {
		old.Detach(child)
	}

	n.mu.Lock()
	if !slices.Contains(n.children, child) {
		n.children = append(n.children, child)
	}
	n.mu.Unlock()

	child.mu.Lock()
	child.parent = n
	child.mu.Unlock()
}

// Detach removes child from n. Returns false if child was not attached to n.
func (n *Node) Detach(child *Node) bool {
	if child == nil {
		return false
	}

	n.mu.Lock()
	i := slices.Index(n.children, child)
	if i >= 0 {
		n.children = slices.Delete(n.children, i, i+1)
	}
	n.mu.Unlock()

	if i < 0 {
		return false
	}

	child.mu.Lock()
	if child.parent == n {
		child.parent = nil
	}
	child.mu.Unlock()
	return true
}

// ReplaceChildren swaps the whole child set in one step, so a concurrent
// reader sees either the old set or the new one.
func (n *Node) ReplaceChildren(children ...*Node) {
	n.mu.Lock()
	old := n.children
	n.children = slices.Clone(children)
	n.mu.Unlock()

	for _, c := range old {
		if !slices.Contains(children, c) {
			c.mu.Lock()
			if c.parent == n {
				c.parent = nil
			}
			c.mu.Unlock()
		}
	}
	for _, c := range children {
		c.mu.Lock()
		c.parent = n
		c.mu.Unlock()
	}
}

// RotateBy composes a rotation of angle radians about the world-space axis
// on the left of the node's current orientation. The position is untouched.
func (n *Node) RotateBy(axis r3.Vec, angle float64) {
	if angle == 0 || r3.Norm(axis) == 0 {
		return
	}
	delta := r3.NewRotation(angle, axis)

	n.mu.Lock()
	n.orientation = Compose(delta, n.orientation)
	n.mu.Unlock()
}

// Walk visits n and its descendants depth-first. Returning false from fn
// skips the subtree below the visited node.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children() {
		c.Walk(fn)
	}
}

// Compose returns the rotation that applies b first and then a.
func Compose(a, b r3.Rotation) r3.Rotation {
	return normalize(r3.Rotation(quat.Mul(quat.Number(a), quat.Number(b))))
}

func normalize(r r3.Rotation) r3.Rotation {
	q := quat.Number(r)
	l := quat.Abs(q)
	if l == 0 {
		return Identity
	}
	if l != 1 {
		q = quat.Scale(1/l, q)
	}
	return r3.Rotation(q)
}
