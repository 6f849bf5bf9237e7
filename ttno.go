// Package ttno constructs tree tensor network operators from symbolic sums
// of local terms.
//
// A Hamiltonian such as
//
//	H = -Z_a Z_b - Z_a Z_c - h X_a - h X_b - h X_c
//
// acting on the sites of a tree is turned into one tensor per tree node,
// connected along the tree's edges by virtual bonds. Two constructions are
// provided: BuildStateDiagram reduces a symbolic transition diagram and is
// exact, while BuildSVD factorizes the dense operator with truncated
// singular value decompositions and trades accuracy for smaller bonds.
//
// References:
//   - Automatic construction of tree tensor network operators, Richard M. Milbradt et al.
//   - A tensor network library for quantum computing and quantum chemistry, Jakob S. Kottmann et al.
package ttno

import (
	"math"

	"github.com/pkg/errors"

	"ttno/mat"
	"ttno/operators"
	"ttno/statediagram"
	"ttno/ttn"
)

// BuildStateDiagram constructs the operator network of a Hamiltonian by
// state diagram reduction. The result reproduces the Hamiltonian exactly,
// and its bond dimensions do not depend on the order in which terms were
// added. An empty Hamiltonian yields the identity network of bond
// dimension 1.
func BuildStateDiagram(h *operators.Hamiltonian, ops operators.Matrices) (*ttn.TTN, error) {
	d := statediagram.New(h)
	if err := d.Reduce(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	t, err := d.ToTTN(ops)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return t, nil
}

// ReferenceMatrix returns the dense matrix of a Hamiltonian, with rows and
// columns running over the tree's sites in post-order. It grows
// exponentially in the number of sites and is meant for validation on
// small systems only. An empty Hamiltonian yields the identity.
func ReferenceMatrix(h *operators.Hamiltonian, ops operators.Matrices) (*mat.COO, error) {
	tr := h.Tree()
	dim := 1
	for _, s := range tr.Sites() {
		dim *= tr.PhysDim(s)
	}
	if h.Len() == 0 {
		return mat.COOIdentity(dim), nil
	}

	total := mat.COOZeros(dim, dim)
	buf := mat.COOZeros(1, 1)
	for _, t := range h.Terms() {
		buf.Scalar(t.Coeff)
		for _, s := range tr.Sites() {
			m, err := ops.Resolve(t.Label(s), tr.PhysDim(s))
			if err != nil {
				return nil, errors.Wrap(err, "")
			}
			buf.Kron(mat.M(m))
		}
		total.Add(1, buf)
	}
	return total, nil
}

// ReconstructionError contracts a network completely and returns the
// relative Frobenius distance to the Hamiltonian's dense matrix.
func ReconstructionError(t *ttn.TTN, h *operators.Hamiltonian, ops operators.Matrices) (float64, error) {
	ref, err := ReferenceMatrix(h, ops)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	full, err := t.CompletelyContract()
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	shape := full.Shape()
	if shape[0] != ref.Rows() || shape[1] != ref.Cols() {
		return 0, errors.Wrap(ttn.ErrDimensionMismatch, "")
	}

	var diff, norm float64
	for i := 0; i < ref.Rows(); i++ {
		for j := 0; j < ref.Cols(); j++ {
			rv := ref.At(i, j)
			d := full.At(i, j) - rv
			diff += float64(real(d)*real(d) + imag(d)*imag(d))
			norm += float64(real(rv)*real(rv) + imag(rv)*imag(rv))
		}
	}
	if norm == 0 {
		return 0, nil
	}
	return math.Sqrt(diff / norm), nil
}
