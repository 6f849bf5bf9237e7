// Package operators implements the symbolic description of a Hamiltonian as
// a sum of tensor products of labeled local operators.
//
// Operators are identified by opaque labels, never by their matrix content.
// During construction two operators are the same exactly when their labels
// are; the label to matrix resolution happens only when concrete tensors
// are emitted.
package operators

import (
	"fmt"

	"github.com/pkg/errors"

	"ttno/mat"
	"ttno/tree"
)

var (
	// ErrUnknownSite indicates a term referencing a node that is not a
	// site of the topology.
	ErrUnknownSite = errors.New("operators: unknown site")
	// ErrDimensionMismatch indicates an operator matrix inconsistent with
	// the physical dimension of a site.
	ErrDimensionMismatch = errors.New("operators: dimension mismatch")
	// ErrUnknownOperator indicates a label with no matrix in the map.
	ErrUnknownOperator = errors.New("operators: unknown operator")
)

// Label names a local operator. Labels compare by name only.
type Label string

// Identity is the distinguished label of the identity operator. It resolves
// to the identity matrix of any requested dimension.
const Identity Label = "I"

// Term is a single product-of-local-operators contribution to a
// Hamiltonian: one label per touched site, identity elsewhere, and a scalar
// coefficient. Terms are immutable once added to a Hamiltonian.
type Term struct {
	Coeff complex64
	ops   map[string]Label
}

// NewTerm returns a term with the given coefficient acting as the identity
// everywhere.
func NewTerm(coeff complex64) Term {
	return Term{Coeff: coeff, ops: map[string]Label{}}
}

// On assigns a label to a site and returns the term for chaining.
func (t Term) On(site string, l Label) Term {
	t.ops[site] = l
	return t
}

// Label returns the label at site, Identity if the term does not touch it.
func (t Term) Label(site string) Label {
	l, ok := t.ops[site]
	if !ok {
		return Identity
	}
	return l
}

// Touches reports whether the term assigns a non-identity label to site.
func (t Term) Touches(site string) bool {
	l, ok := t.ops[site]
	return ok && l != Identity
}

func (t Term) clone() Term {
	ops := make(map[string]Label, len(t.ops))
	for s, l := range t.ops {
		ops[s] = l
	}
	return Term{Coeff: t.Coeff, ops: ops}
}

// Hamiltonian is an ordered sequence of terms over the sites of a fixed
// topology. The order is semantically irrelevant but preserved, so that
// construction is deterministic and diagrams are reproducible.
type Hamiltonian struct {
	tr    *tree.Tree
	terms []Term
}

// NewHamiltonian returns an empty Hamiltonian over the given topology.
func NewHamiltonian(tr *tree.Tree) *Hamiltonian {
	return &Hamiltonian{tr: tr}
}

// Add appends a term. The term is validated eagerly: every touched site
// must be a node of the topology with a positive physical dimension.
func (h *Hamiltonian) Add(t Term) error {
	for site := range t.ops {
		if !h.tr.Has(site) {
			return errors.Wrap(ErrUnknownSite, fmt.Sprintf("term %d site %q", len(h.terms), site))
		}
		if h.tr.PhysDim(site) <= 0 {
			return errors.Wrap(ErrUnknownSite, fmt.Sprintf("term %d node %q is virtual", len(h.terms), site))
		}
	}
	h.terms = append(h.terms, t.clone())
	return nil
}

// Terms returns the terms in insertion order. The returned slice is shared;
// callers must not modify it.
func (h *Hamiltonian) Terms() []Term { return h.terms }

// Len returns the number of terms.
func (h *Hamiltonian) Len() int { return len(h.terms) }

// Tree returns the topology the Hamiltonian is defined over.
func (h *Hamiltonian) Tree() *tree.Tree { return h.tr }

// Matrices resolves labels to concrete square matrices. It is caller owned
// and read only during construction calls.
type Matrices map[Label][][]complex64

// Resolve returns the matrix of l at the given physical dimension.
// Identity resolves without an entry in the map.
func (m Matrices) Resolve(l Label, dim int) ([][]complex64, error) {
	if l == Identity {
		return mat.Identity(dim), nil
	}
	mx, ok := m[l]
	if !ok {
		return nil, errors.Wrap(ErrUnknownOperator, string(l))
	}
	if len(mx) != dim {
		return nil, errors.Wrap(ErrDimensionMismatch, fmt.Sprintf("%s: %d rows, site dimension %d", l, len(mx), dim))
	}
	for i, row := range mx {
		if len(row) != dim {
			return nil, errors.Wrap(ErrDimensionMismatch, fmt.Sprintf("%s: row %d has %d columns, site dimension %d", l, i, len(row), dim))
		}
	}
	return mx, nil
}
