package statediagram

import (
	"flag"
	"log"
	"math"
	"testing"

	"ttno/mat"
	"ttno/operators"
	"ttno/tree"
)

var testOps = operators.Matrices{"X": mat.PauliX, "Z": mat.PauliZ}

func star(t *testing.T) *tree.Tree {
	tr, err := tree.FromParents(
		map[string]string{"a": "", "b": "a", "c": "a"},
		map[string]int{"a": 2, "b": 2, "c": 2})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return tr
}

func chain3(t *testing.T) *tree.Tree {
	tr, err := tree.FromParents(
		map[string]string{"a": "", "b": "a", "c": "b"},
		map[string]int{"a": 2, "b": 2, "c": 2})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return tr
}

func ising(t *testing.T, tr *tree.Tree, h complex64) *operators.Hamiltonian {
	ham := operators.NewHamiltonian(tr)
	for _, e := range tr.Edges() {
		if err := ham.Add(operators.NewTerm(-1).On(tr.Parent(e), "Z").On(e, "Z")); err != nil {
			t.Fatalf("%+v", err)
		}
	}
	for _, s := range tr.Sites() {
		if err := ham.Add(operators.NewTerm(-h).On(s, "X")); err != nil {
			t.Fatalf("%+v", err)
		}
	}
	return ham
}

func TestBondDims(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		tr       func(*testing.T) *tree.Tree
		ham      func(*testing.T, *tree.Tree) *operators.Hamiltonian
		expected map[string]int
	}{
		{
			name: "empty",
			tr:   star,
			ham: func(t *testing.T, tr *tree.Tree) *operators.Hamiltonian {
				return operators.NewHamiltonian(tr)
			},
			expected: map[string]int{"b": 1, "c": 1},
		},
		{
			name: "single term",
			tr:   star,
			ham: func(t *testing.T, tr *tree.Tree) *operators.Hamiltonian {
				ham := operators.NewHamiltonian(tr)
				if err := ham.Add(operators.NewTerm(-1).On("a", "Z").On("b", "Z")); err != nil {
					t.Fatalf("%+v", err)
				}
				return ham
			},
			expected: map[string]int{"b": 1, "c": 1},
		},
		{
			name: "disjoint terms",
			tr:   star,
			ham: func(t *testing.T, tr *tree.Tree) *operators.Hamiltonian {
				ham := operators.NewHamiltonian(tr)
				if err := ham.Add(operators.NewTerm(1).On("b", "X")); err != nil {
					t.Fatalf("%+v", err)
				}
				if err := ham.Add(operators.NewTerm(1).On("c", "X")); err != nil {
					t.Fatalf("%+v", err)
				}
				return ham
			},
			expected: map[string]int{"b": 2, "c": 2},
		},
		{
			// The first and last term act identically below edge b, so
			// they share a row there, while the middle terms merge from
			// outside and carry their coefficients below.
			name: "shared subtree content",
			tr:   chain3,
			ham: func(t *testing.T, tr *tree.Tree) *operators.Hamiltonian {
				ham := operators.NewHamiltonian(tr)
				for _, term := range []operators.Term{
					operators.NewTerm(-0.5).On("c", "X"),
					operators.NewTerm(0.7).On("b", "Z").On("c", "X"),
					operators.NewTerm(0.1).On("b", "Y").On("c", "Z"),
					operators.NewTerm(-0.8).On("a", "X").On("c", "X"),
				} {
					if err := ham.Add(term); err != nil {
						t.Fatalf("%+v", err)
					}
				}
				return ham
			},
			expected: map[string]int{"b": 2, "c": 2},
		},
		{
			name: "ising star",
			tr:   star,
			ham: func(t *testing.T, tr *tree.Tree) *operators.Hamiltonian {
				return ising(t, tr, 0.5)
			},
			expected: map[string]int{"b": 3, "c": 3},
		},
		{
			name: "ising chain",
			tr:   chain3,
			ham: func(t *testing.T, tr *tree.Tree) *operators.Hamiltonian {
				return ising(t, tr, 0.5)
			},
			expected: map[string]int{"b": 3, "c": 3},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			tr := test.tr(t)
			d := New(test.ham(t, tr))
			if err := d.Reduce(); err != nil {
				t.Fatalf("%+v", err)
			}
			for e, dim := range test.expected {
				if d.BondDim(e) != dim {
					t.Fatalf("%q: %d, expected %d\n%s", e, d.BondDim(e), dim, d)
				}
			}
		})
	}
}

func TestReduceIdempotent(t *testing.T) {
	t.Parallel()
	tr := star(t)
	d := New(ising(t, tr, 1))
	if err := d.Reduce(); err != nil {
		t.Fatalf("%+v", err)
	}
	before := d.BondDims()
	if err := d.Reduce(); err != nil {
		t.Fatalf("%+v", err)
	}
	for e, dim := range d.BondDims() {
		if dim != before[e] {
			t.Fatalf("%q: %d, expected %d", e, dim, before[e])
		}
	}
}

func TestOrderIndependence(t *testing.T) {
	t.Parallel()
	tr := star(t)

	forward := ising(t, tr, 0.7)
	backward := operators.NewHamiltonian(tr)
	terms := forward.Terms()
	for i := len(terms) - 1; i >= 0; i-- {
		reversed := operators.NewTerm(terms[i].Coeff)
		for _, s := range tr.Sites() {
			if l := terms[i].Label(s); l != operators.Identity {
				reversed = reversed.On(s, l)
			}
		}
		if err := backward.Add(reversed); err != nil {
			t.Fatalf("%+v", err)
		}
	}

	df, db := New(forward), New(backward)
	if err := df.Reduce(); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := db.Reduce(); err != nil {
		t.Fatalf("%+v", err)
	}
	for e, dim := range df.BondDims() {
		if db.BondDim(e) != dim {
			t.Fatalf("%q: %d, expected %d", e, db.BondDim(e), dim)
		}
	}
}

func TestToTTNContract(t *testing.T) {
	t.Parallel()
	tr, err := tree.FromParents(map[string]string{"a": "", "b": "a"}, map[string]int{"a": 2, "b": 2})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	ham := ising(t, tr, 0.5)

	d := New(ham)
	if err := d.Reduce(); err != nil {
		t.Fatalf("%+v", err)
	}
	if d.BondDim("b") != 3 {
		t.Fatalf("%d\n%s", d.BondDim("b"), d)
	}
	network, err := d.ToTTN(testOps)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	full, err := network.CompletelyContract()
	if err != nil {
		t.Fatalf("%+v", err)
	}

	// Rows and columns run over the sites in post-order, b before a.
	expected := mat.COOZeros(4, 4)
	buf := mat.COOZeros(1, 1)
	for _, term := range ham.Terms() {
		buf.Scalar(term.Coeff)
		for _, s := range []string{"b", "a"} {
			m, err := testOps.Resolve(term.Label(s), 2)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			buf.Kron(mat.M(m))
		}
		expected.Add(1, buf)
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			diff := complex128(full.At(y, x) - expected.At(y, x))
			if math.Hypot(real(diff), imag(diff)) > 1e-5 {
				t.Fatalf("%d %d: %f, expected %f", y, x, full.At(y, x), expected.At(y, x))
			}
		}
	}
}

func TestToTTNEmpty(t *testing.T) {
	t.Parallel()
	tr := star(t)
	d := New(operators.NewHamiltonian(tr))
	if err := d.Reduce(); err != nil {
		t.Fatalf("%+v", err)
	}
	network, err := d.ToTTN(testOps)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	full, err := network.CompletelyContract()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			expected := complex64(0)
			if y == x {
				expected = 1
			}
			if full.At(y, x) != expected {
				t.Fatalf("%d %d %f", y, x, full.At(y, x))
			}
		}
	}
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	m.Run()
}
