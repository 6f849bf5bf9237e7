package ttno

import (
	"fmt"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"ttno/operators"
	"ttno/tree"
	"ttno/ttn"
)

var (
	// ErrInvalidTolerance indicates a truncation tolerance outside its
	// valid range.
	ErrInvalidTolerance = errors.New("ttno: invalid tolerance")
)

// Singular values below the largest one times epsilon are regarded as
// numerical noise and always discarded.
const epsilon = 0x1p-23

// BuildSVDOptions are options for BuildSVD.
type BuildSVDOptions struct {
	tol      float64
	absolute bool
}

// NewBuildSVDOptions returns the default options, which discard only
// numerically negligible singular values.
func NewBuildSVDOptions() *BuildSVDOptions {
	return &BuildSVDOptions{tol: 0, absolute: false}
}

// Tol sets the truncation tolerance. By default it is relative: at every
// split, singular values not larger than tol times the largest one are
// discarded, and it must lie in [0, 1].
func (o *BuildSVDOptions) Tol(tol float64) *BuildSVDOptions {
	o.tol = tol
	return o
}

// Absolute makes Tol an absolute threshold on singular values instead of a
// fraction of the largest one.
func (o *BuildSVDOptions) Absolute(absolute bool) *BuildSVDOptions {
	o.absolute = absolute
	return o
}

// BuildSVD constructs the operator network of a Hamiltonian by recursively
// splitting its dense matrix with truncated singular value decompositions.
// Larger tolerances give smaller bond dimensions at the price of a larger
// reconstruction error. Since the dense matrix is formed first, it is only
// feasible for small systems.
func BuildSVD(h *operators.Hamiltonian, ops operators.Matrices, options *BuildSVDOptions) (*ttn.TTN, error) {
	if options == nil {
		options = NewBuildSVDOptions()
	}
	switch {
	case options.absolute && options.tol < 0:
		return nil, errors.Wrap(ErrInvalidTolerance, fmt.Sprintf("%f", options.tol))
	case !options.absolute && (options.tol < 0 || options.tol > 1):
		return nil, errors.Wrap(ErrInvalidTolerance, fmt.Sprintf("%f", options.tol))
	}

	tr := h.Tree()
	full, err := fullTensor(h, ops)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	t := ttn.New(tr)
	if err := splitNode(t, tr.Root(), full, options); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := t.CheckBonds(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return t, nil
}

// fullTensor returns the Hamiltonian's dense matrix as a tensor of shape
// (1, o_1, i_1, ..., o_n, i_n), one out and in leg pair per tree node in
// post-order, virtual nodes carrying pairs of dimension 1.
func fullTensor(h *operators.Hamiltonian, ops operators.Matrices) (*tensor.Dense, error) {
	tr := h.Tree()
	ref, err := ReferenceMatrix(h, ops)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	full := tensor.Zeros(ref.Rows(), ref.Cols())
	for i := 0; i < ref.Rows(); i++ {
		for j := 0; j < ref.Cols(); j++ {
			if v := ref.At(i, j); v != 0 {
				full.SetAt([]int{i, j}, v)
			}
		}
	}

	// Reshape to (1, o_1...o_n, i_1...i_n), then interleave the pairs.
	n := tr.Len()
	shape := make([]int, 0, 1+2*n)
	shape = append(shape, 1)
	for id := range tr.PostOrder() {
		shape = append(shape, ttn.PhysDim(tr, id))
	}
	for id := range tr.PostOrder() {
		shape = append(shape, ttn.PhysDim(tr, id))
	}
	full = full.Reshape(shape...)

	perm := make([]int, 0, 1+2*n)
	perm = append(perm, 0)
	for k := 0; k < n; k++ {
		perm = append(perm, 1+k, 1+n+k)
	}
	return resetCopy(tensor.Zeros(1), full.Transpose(perm...)), nil
}

// splitNode peels id's tensor off a subtree block of shape
// (bond, o_j1, i_j1, ..., o_jm, i_jm), whose leg pairs run over the nodes
// of id's subtree in post-order, id itself last. Every child's legs are
// split off by a truncated singular value decomposition; the orthogonal
// factor stays with id and the rest seeds the child's recursion.
func splitNode(t *ttn.TTN, id string, block *tensor.Dense, options *BuildSVDOptions) error {
	children := t.Tree.Children(id)
	for _, c := range children {
		// The pairs of c's subtree occupy axes 1..2m: earlier siblings
		// have been split off already and their bond legs sit at the end.
		m := subtreeLen(t.Tree, c)
		shape := block.Shape()
		perm := make([]int, 0, len(shape))
		perm = append(perm, 0)
		perm = append(perm, rangeInts(1+2*m, len(shape))...)
		perm = append(perm, rangeInts(1, 1+2*m)...)

		restShape := make([]int, 0, len(shape)-2*m)
		restShape = append(restShape, shape[0])
		restShape = append(restShape, shape[1+2*m:]...)
		restDim := prod(restShape)
		childShape := shape[1 : 1+2*m]
		childDim := prod(childShape)

		mT := resetCopy(tensor.Zeros(1), block.Transpose(perm...)).Reshape(restDim, childDim)
		u, sv, err := truncatedSVD(mT, options)
		if err != nil {
			return errors.Wrap(err, "")
		}
		r := u.Shape()[1]

		block = u.Reshape(append(restShape, r)...)
		childBlock := sv.Reshape(append([]int{r}, childShape...)...)
		if err := splitNode(t, c, childBlock, options); err != nil {
			return errors.Wrap(err, "")
		}
	}

	// block is of shape (bond, o, i, r_1...r_k); the node tensor wants
	// (bond, r_1...r_k, o, i).
	k := len(children)
	perm := make([]int, 0, 3+k)
	perm = append(perm, 0)
	perm = append(perm, rangeInts(3, 3+k)...)
	perm = append(perm, 1, 2)
	t.Tensors[id] = resetCopy(tensor.Zeros(1), block.Transpose(perm...))
	return nil
}

// truncatedSVD computes a thin singular value decomposition a = u * sv
// with orthonormal columns in u, discarding singular values below the
// truncation threshold. At least one singular value is always kept.
// The input matrix is consumed.
func truncatedSVD(a *tensor.Dense, options *BuildSVDOptions) (u, sv *tensor.Dense, err error) {
	shape := a.Shape()
	rows, cols := shape[0], shape[1]

	uf, vf := tensor.Zeros(1), tensor.Zeros(1)
	bufs := [3]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1), tensor.Zeros(1)}
	s, err := tensor.SVD(uf, vf, a, bufs)
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}

	// Singular values come back in decreasing order.
	minD := s.Shape()[0]
	sigma := make([]float64, minD)
	for i := range sigma {
		sigma[i] = float64(real(s.At(i, i)))
	}

	max := sigma[0]
	thresh := options.tol
	if !options.absolute {
		thresh = options.tol * max
	}
	if floor := max * epsilon; thresh < floor {
		thresh = floor
	}
	rank := 0
	for _, sg := range sigma {
		if sg <= thresh {
			break
		}
		rank++
	}
	if rank == 0 {
		rank = 1
	}

	u = resetCopy(tensor.Zeros(1), uf.Slice([][2]int{{0, rows}, {0, rank}}))
	sv = tensor.Zeros(rank, cols)
	vh := vf.H()
	for i := 0; i < rank; i++ {
		for j := 0; j < cols; j++ {
			if x := vh.At(i, j); x != 0 {
				sv.SetAt([]int{i, j}, complex(float32(sigma[i]), 0)*x)
			}
		}
	}
	return u, sv, nil
}

func subtreeLen(tr *tree.Tree, id string) int {
	n := 1
	for _, c := range tr.Children(id) {
		n += subtreeLen(tr, c)
	}
	return n
}

func rangeInts(lo, hi int) []int {
	s := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		s = append(s, i)
	}
	return s
}

func prod(dims []int) int {
	p := 1
	for _, d := range dims {
		p *= d
	}
	return p
}

func resetCopy(dst, src *tensor.Dense) *tensor.Dense {
	shape := src.Shape()
	zeroDigit := make([]int, len(shape))
	dst.Reset(shape...).Set(zeroDigit, src)
	return dst
}
