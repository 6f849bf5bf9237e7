package statediagram

import (
	"fmt"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"ttno/operators"
	"ttno/ttn"
)

// ToTTN materialises the diagram as a tree tensor network operator.
// Every node tensor has legs (parent, child_1 ... child_k, out, in), the
// parent leg of the root having dimension one. At each node, terms sharing
// the same row on every adjacent edge write to the same tensor entry: the
// non-designated ones agree on a single symbolic label that seeds the
// entry, and the designated ones add their coefficient times their matrix
// on top of it.
func (d *Diagram) ToTTN(ops operators.Matrices) (*ttn.TTN, error) {
	if d.ham.Len() == 0 {
		return ttn.Identity(d.tr), nil
	}

	t := ttn.New(d.tr)
	for id := range d.tr.PreOrder() {
		w, err := d.nodeTensor(id, ops)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		t.Tensors[id] = w
	}
	if err := t.CheckBonds(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return t, nil
}

type cell struct {
	idx   []int
	base  operators.Label
	seed  bool
	terms []int
}

func (d *Diagram) nodeTensor(id string, ops operators.Matrices) (*tensor.Dense, error) {
	children := d.tr.Children(id)
	dim := ttn.PhysDim(d.tr, id)

	shape := make([]int, 0, 3+len(children))
	if d.tr.IsRoot(id) {
		shape = append(shape, 1)
	} else {
		shape = append(shape, d.nRows[id])
	}
	for _, c := range children {
		shape = append(shape, d.nRows[c])
	}
	shape = append(shape, dim, dim)
	w := tensor.Zeros(shape...)

	cells := map[string]*cell{}
	for t := 0; t < d.ham.Len(); t++ {
		idx := make([]int, 0, 1+len(children))
		if d.tr.IsRoot(id) {
			idx = append(idx, 0)
		} else {
			idx = append(idx, d.rowOf[id][t])
		}
		for _, c := range children {
			idx = append(idx, d.rowOf[c][t])
		}

		key := fmt.Sprint(idx)
		cl, ok := cells[key]
		if !ok {
			cl = &cell{idx: idx}
			cells[key] = cl
		}

		label := operators.Identity
		if d.tr.PhysDim(id) > 0 {
			label = d.ham.Terms()[t].Label(id)
		}
		if d.designated[t] == id {
			cl.terms = append(cl.terms, t)
			continue
		}
		if cl.seed && cl.base != label {
			return nil, errors.Wrap(ErrInconsistentTerm,
				fmt.Sprintf("node %q entry %v: labels %q and %q", id, idx, cl.base, label))
		}
		cl.base, cl.seed = label, true
	}

	for _, cl := range cells {
		entry := make([][]complex64, dim)
		for i := range entry {
			entry[i] = make([]complex64, dim)
		}
		if cl.seed {
			m, err := ops.Resolve(cl.base, dim)
			if err != nil {
				return nil, errors.Wrap(err, "")
			}
			for i := range entry {
				for j := range entry[i] {
					entry[i][j] += m[i][j]
				}
			}
		}
		for _, t := range cl.terms {
			term := d.ham.Terms()[t]
			label := operators.Identity
			if d.tr.PhysDim(id) > 0 {
				label = term.Label(id)
			}
			m, err := ops.Resolve(label, dim)
			if err != nil {
				return nil, errors.Wrap(err, "")
			}
			for i := range entry {
				for j := range entry[i] {
					entry[i][j] += term.Coeff * m[i][j]
				}
			}
		}

		at := make([]int, len(cl.idx), len(cl.idx)+2)
		copy(at, cl.idx)
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				if entry[i][j] == 0 {
					continue
				}
				w.SetAt(append(at[:len(cl.idx)], i, j), entry[i][j])
			}
		}
	}
	return w, nil
}
