package ttno

import (
	"fmt"

	"github.com/pkg/errors"

	"ttno/mat"
	"ttno/operators"
	"ttno/tree"
)

// Ising returns the transverse field Ising Hamiltonian on a topology of
// spin 1/2 sites,
//
//	H = -sum_{edges} Z_i Z_j - h*sum_{sites} X_i,
//
// where the coupling runs over tree edges whose both endpoints are sites.
// The returned matrices resolve the "X" and "Z" labels.
func Ising(tr *tree.Tree, h float64) (*operators.Hamiltonian, operators.Matrices, error) {
	ham := operators.NewHamiltonian(tr)
	for _, e := range tr.Edges() {
		p := tr.Parent(e)
		if tr.PhysDim(p) == 0 || tr.PhysDim(e) == 0 {
			continue
		}
		if tr.PhysDim(p) != 2 || tr.PhysDim(e) != 2 {
			return nil, nil, errors.Wrap(operators.ErrDimensionMismatch, fmt.Sprintf("edge %q-%q", p, e))
		}
		if err := ham.Add(operators.NewTerm(-1).On(p, "Z").On(e, "Z")); err != nil {
			return nil, nil, errors.Wrap(err, "")
		}
	}
	for _, s := range tr.Sites() {
		if tr.PhysDim(s) != 2 {
			return nil, nil, errors.Wrap(operators.ErrDimensionMismatch, fmt.Sprintf("site %q", s))
		}
		if err := ham.Add(operators.NewTerm(complex(float32(-h), 0)).On(s, "X")); err != nil {
			return nil, nil, errors.Wrap(err, "")
		}
	}

	ops := operators.Matrices{"X": mat.PauliX, "Z": mat.PauliZ}
	return ham, ops, nil
}
