// Package view provides a listener tree that implements session.View.
//
// A Tree is a rooted hierarchy of Nodes, each carrying zero or more
// Listeners. Deliver visits the tree breadth-first: the root's listeners
// run first, then every child of the root, then every grandchild, and so
// on. Any listener can call Payload.Stop to end the traversal.
//
// Deliveries to one Tree are serialized across goroutines. A listener that
// causes a nested delivery to its own Tree on the same goroutine, such as a
// broadcast reaching its own connection, re-enters the Tree instead of
// waiting for itself.
package view

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vango-dev/wspush/internal/goid"
	"github.com/vango-dev/wspush/pkg/event"
)

// Listener reacts to payloads delivered to its node.
type Listener interface {
	OnEvent(ctx context.Context, p *event.Payload) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, p *event.Payload) error

// OnEvent calls f.
func (f ListenerFunc) OnEvent(ctx context.Context, p *event.Payload) error {
	return f(ctx, p)
}

// Node is one element of a listener tree.
type Node struct {
	name      string
	listeners []Listener
	children  []*Node
}

// NewNode creates a node with the given listeners.
func NewNode(name string, listeners ...Listener) *Node {
	return &Node{name: name, listeners: listeners}
}

// Name returns the node name used in error messages.
func (n *Node) Name() string { return n.name }

// Add appends children and returns n for chaining.
func (n *Node) Add(children ...*Node) *Node {
	n.children = append(n.children, children...)
	return n
}

// Listen appends a listener to n.
func (n *Node) Listen(l Listener) *Node {
	n.listeners = append(n.listeners, l)
	return n
}

// Children returns the direct children of n.
func (n *Node) Children() []*Node { return n.children }

// ListenerError reports the node whose listener failed.
type ListenerError struct {
	Node string
	Err  error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("view: listener on %q: %v", e.Node, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }

// Tree is a view backed by a listener tree.
type Tree struct {
	id   string
	root *Node

	mu    sync.Mutex    // Serializes deliveries across goroutines
	owner atomic.Uint64 // Goroutine holding mu, 0 when free
}

// New creates a view with the given ID and root node. A nil root creates an
// empty root node.
func New(id string, root *Node) *Tree {
	if root == nil {
		root = NewNode("root")
	}
	return &Tree{id: id, root: root}
}

// ID returns the view ID.
func (t *Tree) ID() string { return t.id }

// Root returns the root node.
func (t *Tree) Root() *Node { return t.root }

// Deliver visits the tree breadth-first until every listener has run, a
// listener stops propagation, a listener fails, or ctx is done.
func (t *Tree) Deliver(ctx context.Context, p *event.Payload) error {
	gid := goid.ID()
	if t.owner.Load() == gid {
		return t.deliver(ctx, p)
	}

	t.mu.Lock()
	t.owner.Store(gid)
	defer func() {
		t.owner.Store(0)
		t.mu.Unlock()
	}()
	return t.deliver(ctx, p)
}

func (t *Tree) deliver(ctx context.Context, p *event.Payload) error {
	queue := []*Node{t.root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		for _, l := range n.listeners {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := l.OnEvent(ctx, p); err != nil {
				return &ListenerError{Node: n.name, Err: err}
			}
			if p.Stopped() {
				return nil
			}
		}
		queue = append(queue, n.children...)
	}
	return nil
}
