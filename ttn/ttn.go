// Package ttn implements tree tensor networks for operators.
//
// Every node tensor has leg order (parent, child_1...child_k, out, in),
// where out and in are the physical legs of the node. The root carries a
// dummy parent leg of dimension 1, and purely virtual nodes carry physical
// legs of dimension 1, so that all tensors are handled uniformly.
//
// References:
//   - The density-matrix renormalization group in the age of matrix product states, Ulrich Schollwock
package ttn

import (
	"fmt"
	"slices"
	"sort"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"ttno/tree"
)

var (
	// ErrDimensionMismatch indicates shared virtual legs of unequal size.
	ErrDimensionMismatch = errors.New("ttn: dimension mismatch")
)

// TTN associates each node of a topology with a tensor.
type TTN struct {
	Tree    *tree.Tree
	Tensors map[string]*tensor.Dense
}

// New returns a TTN over the given topology with no tensors attached.
func New(tr *tree.Tree) *TTN {
	return &TTN{Tree: tr, Tensors: map[string]*tensor.Dense{}}
}

// Identity returns the bond dimension 1 TTN representing the identity
// operator on the topology's sites.
func Identity(tr *tree.Tree) *TTN {
	t := New(tr)
	for id := range tr.PreOrder() {
		d := PhysDim(tr, id)
		w := tensor.Zeros(onesShape(1+len(tr.Children(id)), d)...)
		for i := 0; i < d; i++ {
			idx := make([]int, 1+len(tr.Children(id)), 3+len(tr.Children(id)))
			idx = append(idx, i, i)
			w.SetAt(idx, 1)
		}
		t.Tensors[id] = w
	}
	return t
}

func onesShape(virtLegs, d int) []int {
	shape := make([]int, virtLegs, virtLegs+2)
	for i := range shape {
		shape[i] = 1
	}
	return append(shape, d, d)
}

// PhysDim returns the physical leg dimension used in tensors for id, which
// is 1 for virtual nodes.
func PhysDim(tr *tree.Tree, id string) int {
	if d := tr.PhysDim(id); d > 0 {
		return d
	}
	return 1
}

// BondDim returns the virtual dimension of the edge above child.
func (t *TTN) BondDim(child string) int {
	return t.Tensors[child].Shape()[0]
}

// BondDims returns the virtual dimension of every edge, keyed by child node.
func (t *TTN) BondDims() map[string]int {
	dims := map[string]int{}
	for _, e := range t.Tree.Edges() {
		dims[e] = t.BondDim(e)
	}
	return dims
}

// physAxes returns the out and in axes of id's tensor.
func (t *TTN) physAxes(id string) (int, int) {
	k := len(t.Tree.Children(id))
	return 1 + k, 2 + k
}

// childAxis returns the axis of child's bond in the tensor of its parent.
func (t *TTN) childAxis(parent, child string) int {
	return 1 + slices.Index(t.Tree.Children(parent), child)
}

// CheckBonds verifies that every edge's two endpoint tensors agree on the
// shared virtual leg size.
func (t *TTN) CheckBonds() error {
	for _, e := range t.Tree.Edges() {
		p := t.Tree.Parent(e)
		pd := t.Tensors[p].Shape()[t.childAxis(p, e)]
		cd := t.Tensors[e].Shape()[0]
		if pd != cd {
			return errors.Wrap(ErrDimensionMismatch, fmt.Sprintf("edge %q-%q: %d %d", p, e, pd, cd))
		}
	}
	return nil
}

// SubtreeOperator contracts the subtree rooted at id into a single tensor
// of shape (bond, out, in), where out and in run over the subtree's sites
// in post-order.
func (t *TTN) SubtreeOperator(id string) (*tensor.Dense, error) {
	if err := t.CheckBonds(); err != nil {
		return nil, err
	}
	return t.subtreeOperator(id), nil
}

func (t *TTN) subtreeOperator(id string) *tensor.Dense {
	children := t.Tree.Children(id)
	cur := t.Tensors[id]

	// Contract the children's subtree operators one by one. The consumed
	// bond is always at axis 1, and the children's combined physical legs
	// accumulate at the end.
	bufs := [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)}
	for i, c := range children {
		op := t.subtreeOperator(c)
		cur = tensor.Product(bufs[i%2], cur, op, [][2]int{{1, 0}})
	}

	// cur is of shape (bond, out, in, O_1, I_1, ..., O_k, I_k).
	// Bring it to (bond, O_1...O_k, out, I_1...I_k, in).
	k := len(children)
	perm := make([]int, 0, 3+2*k)
	perm = append(perm, 0)
	for i := 0; i < k; i++ {
		perm = append(perm, 3+2*i)
	}
	perm = append(perm, 1)
	for i := 0; i < k; i++ {
		perm = append(perm, 4+2*i)
	}
	perm = append(perm, 2)

	out := resetCopy(tensor.Zeros(1), cur.Transpose(perm...))
	bond := out.Shape()[0]
	return out.Reshape(bond, -1, prodDims(t.Tree, id))
}

func prodDims(tr *tree.Tree, id string) int {
	d := 1
	for _, s := range tr.SubtreeSites(id) {
		d *= tr.PhysDim(s)
	}
	return d
}

// CompletelyContract contracts the whole network into the dense matrix it
// represents, with rows and columns over the sites in post-order.
// It grows exponentially in the number of sites and is meant for
// validation on small systems only.
func (t *TTN) CompletelyContract() (*tensor.Dense, error) {
	op, err := t.SubtreeOperator(t.Tree.Root())
	if err != nil {
		return nil, err
	}
	s := op.Shape()
	if s[0] != 1 {
		return nil, errors.Wrap(ErrDimensionMismatch, fmt.Sprintf("root bond %d", s[0]))
	}
	return op.Reshape(s[1], s[2]), nil
}

// ScalarProduct returns the Frobenius inner product <b, a> of two operator
// networks sharing a topology, contracting b's conjugate against a.
func ScalarProduct(a, b *TTN) (complex64, error) {
	if a.Tree != b.Tree {
		return 0, errors.Wrap(ErrDimensionMismatch, "topologies differ")
	}
	if err := a.CheckBonds(); err != nil {
		return 0, err
	}
	if err := b.CheckBonds(); err != nil {
		return 0, err
	}
	env, err := environment(a, b, a.Tree.Root())
	if err != nil {
		return 0, err
	}
	if !slices.Equal(env.Shape(), []int{1, 1}) {
		panic(fmt.Sprintf("%#v", env.Shape()))
	}
	return env.At(0, 0), nil
}

// environment contracts the subtrees of a and conj(b) below id into a
// tensor of shape (bond_a, bond_b).
func environment(a, b *TTN, id string) (*tensor.Dense, error) {
	children := a.Tree.Children(id)
	k := len(children)

	cur := a.Tensors[id]
	bufs := [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)}
	for i, c := range children {
		env, err := environment(a, b, c)
		if err != nil {
			return nil, err
		}
		// The consumed a-side bond is always at axis 1; the freed b-side
		// bonds accumulate at the end.
		cur = tensor.Product(bufs[i%2], cur, env, [][2]int{{1, 0}})
	}

	// cur is of shape (pa, out, in, pb_1...pb_k).
	// bt is of shape (pb, b_1...b_k, out, in).
	bt := b.Tensors[id]
	if bt.Shape()[1+k] != cur.Shape()[1] || bt.Shape()[2+k] != cur.Shape()[2] {
		return nil, errors.Wrap(ErrDimensionMismatch, fmt.Sprintf("node %q: %v %v", id, cur.Shape(), bt.Shape()))
	}
	axes := [][2]int{{1, 1 + k}, {2, 2 + k}}
	for i := 0; i < k; i++ {
		axes = append(axes, [2]int{3 + i, 1 + i})
	}
	out := tensor.Product(tensor.Zeros(1), cur, bt.Conj(), axes)
	return out, nil
}

// Canonicalize brings the network into canonical form with respect to the
// given orthogonality center: after the call, every other node is
// orthogonal on its center-facing leg. The represented operator is
// unchanged.
func (t *TTN) Canonicalize(center string) error {
	if !t.Tree.Has(center) {
		return errors.Wrap(ErrDimensionMismatch, fmt.Sprintf("unknown center %q", center))
	}
	if err := t.CheckBonds(); err != nil {
		return err
	}

	// Sweep from the outside in: nodes farther from the center first.
	dist := distances(t.Tree, center)
	order := make([]string, 0, t.Tree.Len())
	pre := map[string]int{}
	i := 0
	for id := range t.Tree.PreOrder() {
		pre[id] = i
		i++
		if id != center {
			order = append(order, id)
		}
	}
	sort.Slice(order, func(i, j int) bool {
		if dist[order[i]] != dist[order[j]] {
			return dist[order[i]] > dist[order[j]]
		}
		return pre[order[i]] < pre[order[j]]
	})

	bufs := [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)}
	for _, id := range order {
		t.orthogonalizeToward(id, t.towardCenter(id, dist), bufs)
	}
	return nil
}

// towardCenter returns the neighbour of id on the path to the center.
func (t *TTN) towardCenter(id string, dist map[string]int) string {
	for _, c := range t.Tree.Children(id) {
		if dist[c] == dist[id]-1 {
			return c
		}
	}
	return t.Tree.Parent(id)
}

// orthogonalizeToward QR-decomposes id's tensor with the toward-facing leg
// separated, keeps the orthogonal factor, and absorbs the triangular factor
// into the neighbour.
func (t *TTN) orthogonalizeToward(id, toward string, bufs [2]*tensor.Dense) {
	w := t.Tensors[id]
	shape := w.Shape()
	j := 0
	if toward != t.Tree.Parent(id) {
		j = t.childAxis(id, toward)
	}

	// Matricize with axis j last.
	perm := make([]int, 0, len(shape))
	for ax := range shape {
		if ax != j {
			perm = append(perm, ax)
		}
	}
	perm = append(perm, j)
	m := resetCopy(tensor.Zeros(1), w.Transpose(perm...))
	restDim := 1
	restShape := make([]int, 0, len(shape)-1)
	for _, ax := range perm[:len(perm)-1] {
		restDim *= shape[ax]
		restShape = append(restShape, shape[ax])
	}

	q := tensor.Zeros(1)
	r := tensor.QR(q, m.Reshape(restDim, shape[j]), bufs)
	kk := r.Shape()[0]

	// Restore the original leg order, with the toward leg of size kk.
	inv := make([]int, len(shape))
	for newAx, oldAx := range perm {
		inv[oldAx] = newAx
	}
	t.Tensors[id] = resetCopy(tensor.Zeros(1), q.Reshape(append(restShape, kk)...).Transpose(inv...))

	// Absorb r into the neighbour's facing leg.
	nb := toward
	jj := 0
	if toward == t.Tree.Parent(id) {
		jj = t.childAxis(nb, id)
	}
	nbT := t.Tensors[nb]
	res := tensor.Product(bufs[0], r, nbT, [][2]int{{1, jj}})
	// res is of shape (kk, neighbour legs except jj); move kk back to jj.
	perm2 := make([]int, 0, len(nbT.Shape()))
	for ax := 1; ax <= jj; ax++ {
		perm2 = append(perm2, ax)
	}
	perm2 = append(perm2, 0)
	for ax := jj + 1; ax < len(nbT.Shape()); ax++ {
		perm2 = append(perm2, ax)
	}
	t.Tensors[nb] = resetCopy(tensor.Zeros(1), res.Transpose(perm2...))
}

// distances returns the undirected path length from the center to every
// node.
func distances(tr *tree.Tree, center string) map[string]int {
	dist := map[string]int{center: 0}
	queue := []string{center}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		nbs := make([]string, 0, len(tr.Children(id))+1)
		if !tr.IsRoot(id) {
			nbs = append(nbs, tr.Parent(id))
		}
		nbs = append(nbs, tr.Children(id)...)
		for _, nb := range nbs {
			if _, ok := dist[nb]; ok {
				continue
			}
			dist[nb] = dist[id] + 1
			queue = append(queue, nb)
		}
	}
	return dist
}

func resetCopy(dst, src *tensor.Dense) *tensor.Dense {
	shape := src.Shape()
	zeroDigit := make([]int, len(shape))
	dst.Reset(shape...).Set(zeroDigit, src)
	return dst
}
