// Package tree implements the rooted tree topologies underlying tree tensor
// networks. A topology is fixed input: it is created once before any
// construction call and never mutated during one.
package tree

import (
	"fmt"
	"iter"
	"slices"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidTopology indicates a malformed tree, such as a cycle,
	// multiple roots, or a duplicate node identifier.
	ErrInvalidTopology = errors.New("tree: invalid topology")
)

type node struct {
	id       string
	parent   string
	children []string
	physDim  int
}

// Tree is a rooted tree of identified nodes with ordered children.
// Nodes with a positive physical dimension are sites; nodes with physical
// dimension zero are purely virtual.
type Tree struct {
	root  string
	nodes map[string]*node
}

// New returns a tree consisting of a single root node.
func New(root string, physDim int) *Tree {
	t := &Tree{root: root, nodes: map[string]*node{}}
	t.nodes[root] = &node{id: root, physDim: physDim}
	return t
}

// AddChild attaches a new node below parent. Children keep their insertion
// order.
func (t *Tree) AddChild(parent, id string, physDim int) error {
	p, ok := t.nodes[parent]
	if !ok {
		return errors.Wrap(ErrInvalidTopology, fmt.Sprintf("unknown parent %q", parent))
	}
	if _, ok := t.nodes[id]; ok {
		return errors.Wrap(ErrInvalidTopology, fmt.Sprintf("duplicate node %q", id))
	}
	t.nodes[id] = &node{id: id, parent: parent, physDim: physDim}
	p.children = append(p.children, id)
	return nil
}

// FromParents builds a tree from a node to parent mapping. The root is the
// single node whose parent is the empty string. Children are ordered by
// identifier to keep construction deterministic.
func FromParents(parents map[string]string, physDims map[string]int) (*Tree, error) {
	var root string
	for id, p := range parents {
		if p == "" {
			if root != "" {
				return nil, errors.Wrap(ErrInvalidTopology, fmt.Sprintf("multiple roots %q %q", root, id))
			}
			root = id
		}
	}
	if root == "" {
		return nil, errors.Wrap(ErrInvalidTopology, "no root")
	}

	t := New(root, physDims[root])
	ids := make([]string, 0, len(parents))
	for id := range parents {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	// Attach nodes whose parent is already present, repeatedly. Nodes on a
	// cycle or disconnected from the root are never attached.
	remaining := len(parents) - 1
	for remaining > 0 {
		attached := 0
		for _, id := range ids {
			if _, ok := t.nodes[id]; ok {
				continue
			}
			if _, ok := t.nodes[parents[id]]; !ok {
				continue
			}
			if err := t.AddChild(parents[id], id, physDims[id]); err != nil {
				return nil, err
			}
			attached++
			remaining--
		}
		if attached == 0 {
			return nil, errors.Wrap(ErrInvalidTopology, fmt.Sprintf("%d nodes unreachable from root %q", remaining, root))
		}
	}
	return t, nil
}

// Root returns the root identifier.
func (t *Tree) Root() string { return t.root }

// Has reports whether id names a node of the tree.
func (t *Tree) Has(id string) bool {
	_, ok := t.nodes[id]
	return ok
}

// Parent returns the parent of id, or "" for the root.
func (t *Tree) Parent(id string) string {
	return t.nodes[id].parent
}

// Children returns the ordered children of id.
func (t *Tree) Children(id string) []string {
	return t.nodes[id].children
}

// PhysDim returns the open physical leg dimension of id, 0 for virtual nodes.
func (t *Tree) PhysDim(id string) int {
	return t.nodes[id].physDim
}

// IsLeaf reports whether id has no children.
func (t *Tree) IsLeaf(id string) bool { return len(t.nodes[id].children) == 0 }

// IsRoot reports whether id is the root.
func (t *Tree) IsRoot(id string) bool { return id == t.root }

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// PreOrder iterates node identifiers root first. The sequence is finite and
// restartable.
func (t *Tree) PreOrder() iter.Seq[string] {
	return func(yield func(string) bool) {
		t.pre(t.root, yield)
	}
}

func (t *Tree) pre(id string, yield func(string) bool) bool {
	if !yield(id) {
		return false
	}
	for _, c := range t.nodes[id].children {
		if !t.pre(c, yield) {
			return false
		}
	}
	return true
}

// PostOrder iterates node identifiers leaves first.
func (t *Tree) PostOrder() iter.Seq[string] {
	return func(yield func(string) bool) {
		t.post(t.root, yield)
	}
}

func (t *Tree) post(id string, yield func(string) bool) bool {
	for _, c := range t.nodes[id].children {
		if !t.post(c, yield) {
			return false
		}
	}
	return yield(id)
}

// Edges returns the tree edges in pre-order, each named by its child node.
func (t *Tree) Edges() []string {
	edges := make([]string, 0, len(t.nodes)-1)
	for id := range t.PreOrder() {
		if id != t.root {
			edges = append(edges, id)
		}
	}
	return edges
}

// Sites returns the identifiers with a positive physical dimension, in
// post-order. This order fixes the leg order of all dense materializations.
func (t *Tree) Sites() []string {
	sites := make([]string, 0, len(t.nodes))
	for id := range t.PostOrder() {
		if t.nodes[id].physDim > 0 {
			sites = append(sites, id)
		}
	}
	return sites
}

// SubtreeSites returns the sites of the subtree rooted at id, in post-order.
func (t *Tree) SubtreeSites(id string) []string {
	sites := make([]string, 0)
	var rec func(string)
	rec = func(n string) {
		for _, c := range t.nodes[n].children {
			rec(c)
		}
		if t.nodes[n].physDim > 0 {
			sites = append(sites, n)
		}
	}
	rec(id)
	return sites
}

// InSubtree reports whether id lies in the subtree rooted at ancestor.
func (t *Tree) InSubtree(ancestor, id string) bool {
	for n := id; n != ""; n = t.nodes[n].parent {
		if n == ancestor {
			return true
		}
	}
	return false
}

// Depth returns the number of edges between id and the root.
func (t *Tree) Depth(id string) int {
	d := 0
	for n := t.nodes[id].parent; n != ""; n = t.nodes[n].parent {
		d++
	}
	return d
}
