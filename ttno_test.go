package ttno

import (
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"testing"

	"github.com/pkg/errors"

	"ttno/mat"
	"ttno/operators"
	"ttno/tree"
	"ttno/ttn"
)

func chain(t *testing.T, n int) *tree.Tree {
	parents := map[string]string{"s0": ""}
	physDims := map[string]int{"s0": 2}
	for i := 1; i < n; i++ {
		parents[fmt.Sprintf("s%d", i)] = fmt.Sprintf("s%d", i-1)
		physDims[fmt.Sprintf("s%d", i)] = 2
	}
	tr, err := tree.FromParents(parents, physDims)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return tr
}

func binaryDepth2(t *testing.T) *tree.Tree {
	tr, err := tree.FromParents(
		map[string]string{"a": "", "b": "a", "c": "a", "d": "b", "e": "b", "f": "c", "g": "c"},
		map[string]int{"a": 2, "b": 2, "c": 2, "d": 2, "e": 2, "f": 2, "g": 2})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return tr
}

func virtualRootTree(t *testing.T) *tree.Tree {
	tr, err := tree.FromParents(
		map[string]string{"v": "", "b": "v", "c": "v", "d": "v"},
		map[string]int{"v": 0, "b": 2, "c": 2, "d": 2})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return tr
}

func TestBuildReconstruction(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		tr   func(*testing.T) *tree.Tree
		h    float64
		bond int
	}{
		{name: "chain2", tr: func(t *testing.T) *tree.Tree { return chain(t, 2) }, h: 0.5, bond: 3},
		{name: "chain4", tr: func(t *testing.T) *tree.Tree { return chain(t, 4) }, h: 1, bond: 3},
		{name: "binary", tr: binaryDepth2, h: 0.3, bond: 3},
		{name: "virtual root", tr: virtualRootTree, h: 0.7, bond: 2},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			tr := test.tr(t)
			ham, ops, err := Ising(tr, test.h)
			if err != nil {
				t.Fatalf("%+v", err)
			}

			diagram, err := BuildStateDiagram(ham, ops)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			relErr, err := ReconstructionError(diagram, ham, ops)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if relErr > 1e-5 {
				t.Fatalf("%g", relErr)
			}

			svd, err := BuildSVD(ham, ops, NewBuildSVDOptions().Tol(1e-5))
			if err != nil {
				t.Fatalf("%+v", err)
			}
			relErr, err = ReconstructionError(svd, ham, ops)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if relErr > 1e-4 {
				t.Fatalf("%g", relErr)
			}

			// For this model both constructions reach the known bond
			// dimension at every edge.
			for _, e := range tr.Edges() {
				if diagram.BondDim(e) != test.bond {
					t.Fatalf("%q: %d, expected %d", e, diagram.BondDim(e), test.bond)
				}
				if svd.BondDim(e) != test.bond {
					t.Fatalf("%q: %d, expected %d", e, svd.BondDim(e), test.bond)
				}
			}
		})
	}
}

// TestBuildMixedTerms covers terms that overlap on a site under different
// labels and coefficients. The first and last term act identically on the
// lower half of the chain, so their rows coincide there while only part of
// the remaining rows merge from outside.
func TestBuildMixedTerms(t *testing.T) {
	t.Parallel()
	tr := chain(t, 4)
	ops := operators.Matrices{"X": mat.PauliX, "Y": mat.PauliY, "Z": mat.PauliZ}
	ham := operators.NewHamiltonian(tr)
	for _, term := range []operators.Term{
		operators.NewTerm(-0.509).On("s2", "X"),
		operators.NewTerm(0.666).On("s1", "Z").On("s2", "X"),
		operators.NewTerm(0.128).On("s1", "Y").On("s2", "Z"),
		operators.NewTerm(-0.789).On("s0", "X").On("s2", "X"),
	} {
		if err := ham.Add(term); err != nil {
			t.Fatalf("%+v", err)
		}
	}

	diagram, err := BuildStateDiagram(ham, ops)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	relErr, err := ReconstructionError(diagram, ham, ops)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if relErr > 1e-5 {
		t.Fatalf("%g", relErr)
	}
	for e, expected := range map[string]int{"s1": 2, "s2": 2, "s3": 1} {
		if diagram.BondDim(e) != expected {
			t.Fatalf("%q: %d, expected %d", e, diagram.BondDim(e), expected)
		}
	}

	svd, err := BuildSVD(ham, ops, nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	relErr, err = ReconstructionError(svd, ham, ops)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if relErr > 1e-5 {
		t.Fatalf("%g", relErr)
	}
}

func TestBuildRandomHamiltonians(t *testing.T) {
	t.Parallel()
	topologies := []struct {
		name string
		tr   func(*testing.T) *tree.Tree
	}{
		{name: "chain4", tr: func(t *testing.T) *tree.Tree { return chain(t, 4) }},
		{name: "binary", tr: binaryDepth2},
		{name: "virtual root", tr: virtualRootTree},
	}
	labels := []operators.Label{"X", "Y", "Z"}
	ops := operators.Matrices{"X": mat.PauliX, "Y": mat.PauliY, "Z": mat.PauliZ}
	for ti, topology := range topologies {
		t.Run(topology.name, func(t *testing.T) {
			t.Parallel()
			tr := topology.tr(t)
			sites := tr.Sites()
			rnd := rand.New(rand.NewPCG(uint64(29+ti), 0))
			for trial := 0; trial < 50; trial++ {
				ham := operators.NewHamiltonian(tr)
				for i, n := 0, 2+rnd.IntN(4); i < n; i++ {
					term := operators.NewTerm(complex(float32(2*rnd.Float64()-1), 0))
					touched := 0
					for _, s := range sites {
						if rnd.IntN(2) == 0 {
							continue
						}
						term = term.On(s, labels[rnd.IntN(len(labels))])
						touched++
					}
					if touched == 0 {
						term = term.On(sites[rnd.IntN(len(sites))], labels[rnd.IntN(len(labels))])
					}
					if err := ham.Add(term); err != nil {
						t.Fatalf("%+v", err)
					}
				}

				diagram, err := BuildStateDiagram(ham, ops)
				if err != nil {
					t.Fatalf("trial %d: %+v\n%v", trial, err, ham.Terms())
				}
				relErr, err := ReconstructionError(diagram, ham, ops)
				if err != nil {
					t.Fatalf("trial %d: %+v", trial, err)
				}
				if relErr > 1e-4 {
					t.Fatalf("trial %d: %g\n%v", trial, relErr, ham.Terms())
				}

				svd, err := BuildSVD(ham, ops, nil)
				if err != nil {
					t.Fatalf("trial %d: %+v", trial, err)
				}
				relErr, err = ReconstructionError(svd, ham, ops)
				if err != nil {
					t.Fatalf("trial %d: %+v", trial, err)
				}
				if relErr > 1e-4 {
					t.Fatalf("trial %d: %g\n%v", trial, relErr, ham.Terms())
				}
			}
		})
	}
}

func TestBuildSVDMonotone(t *testing.T) {
	t.Parallel()
	tr := chain(t, 4)
	ham, ops, err := Ising(tr, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	prevBonds := -1
	prevErr := -1.0
	for _, tol := range []float64{0, 1e-3, 0.5} {
		network, err := BuildSVD(ham, ops, NewBuildSVDOptions().Tol(tol))
		if err != nil {
			t.Fatalf("%+v", err)
		}
		bonds := 0
		for _, e := range tr.Edges() {
			bonds += network.BondDim(e)
		}
		relErr, err := ReconstructionError(network, ham, ops)
		if err != nil {
			t.Fatalf("%+v", err)
		}

		// Looser tolerances can only shrink bonds and lose accuracy.
		if prevBonds >= 0 && bonds > prevBonds {
			t.Fatalf("tol %f: %d > %d", tol, bonds, prevBonds)
		}
		if prevErr >= 0 && relErr < prevErr-1e-6 {
			t.Fatalf("tol %f: error %g below %g", tol, relErr, prevErr)
		}
		prevBonds, prevErr = bonds, relErr
	}
}

func TestBuildSVDInvalidTolerance(t *testing.T) {
	t.Parallel()
	tr := chain(t, 2)
	ham, ops, err := Ising(tr, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for _, tol := range []float64{-0.1, 1.5} {
		if _, err := BuildSVD(ham, ops, NewBuildSVDOptions().Tol(tol)); !errors.Is(err, ErrInvalidTolerance) {
			t.Fatalf("tol %f: %+v", tol, err)
		}
	}
	if _, err := BuildSVD(ham, ops, NewBuildSVDOptions().Tol(-1).Absolute(true)); !errors.Is(err, ErrInvalidTolerance) {
		t.Fatalf("%+v", err)
	}
	// An absolute tolerance above 1 is valid.
	if _, err := BuildSVD(ham, ops, NewBuildSVDOptions().Tol(1.5).Absolute(true)); err != nil {
		t.Fatalf("%+v", err)
	}
}

func TestEmptyHamiltonian(t *testing.T) {
	t.Parallel()
	tr := chain(t, 3)
	ham := operators.NewHamiltonian(tr)
	ops := operators.Matrices{}

	for name, build := range map[string]func() (*ttn.TTN, error){
		"statediagram": func() (*ttn.TTN, error) { return BuildStateDiagram(ham, ops) },
		"svd":          func() (*ttn.TTN, error) { return BuildSVD(ham, ops, nil) },
	} {
		network, err := build()
		if err != nil {
			t.Fatalf("%s: %+v", name, err)
		}
		for _, e := range tr.Edges() {
			if network.BondDim(e) != 1 {
				t.Fatalf("%s %q: %d", name, e, network.BondDim(e))
			}
		}
		relErr, err := ReconstructionError(network, ham, ops)
		if err != nil {
			t.Fatalf("%s: %+v", name, err)
		}
		if relErr > 1e-6 {
			t.Fatalf("%s: %g", name, relErr)
		}
	}
}

func TestOrderIndependentAction(t *testing.T) {
	t.Parallel()
	tr := binaryDepth2(t)
	forward, ops, err := Ising(tr, 0.8)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	backward := operators.NewHamiltonian(tr)
	terms := forward.Terms()
	for i := len(terms) - 1; i >= 0; i-- {
		term := operators.NewTerm(terms[i].Coeff)
		for _, s := range tr.Sites() {
			if l := terms[i].Label(s); l != operators.Identity {
				term = term.On(s, l)
			}
		}
		if err := backward.Add(term); err != nil {
			t.Fatalf("%+v", err)
		}
	}

	nf, err := BuildStateDiagram(forward, ops)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	nb, err := BuildStateDiagram(backward, ops)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for _, e := range tr.Edges() {
		if nf.BondDim(e) != nb.BondDim(e) {
			t.Fatalf("%q: %d, expected %d", e, nb.BondDim(e), nf.BondDim(e))
		}
	}

	ff, err := nf.CompletelyContract()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	fb, err := nb.CompletelyContract()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	dim := 1 << len(tr.Sites())
	for y := 0; y < dim; y++ {
		for x := 0; x < dim; x++ {
			d := ff.At(y, x) - fb.At(y, x)
			if real(d)*real(d)+imag(d)*imag(d) > 1e-8 {
				t.Fatalf("%d %d: %f %f", y, x, ff.At(y, x), fb.At(y, x))
			}
		}
	}
}

func TestCanonicalizedReconstruction(t *testing.T) {
	t.Parallel()
	tr := chain(t, 3)
	ham, ops, err := Ising(tr, 0.5)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	network, err := BuildStateDiagram(ham, ops)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := network.Canonicalize("s1"); err != nil {
		t.Fatalf("%+v", err)
	}
	relErr, err := ReconstructionError(network, ham, ops)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if relErr > 1e-4 {
		t.Fatalf("%g", relErr)
	}
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	m.Run()
}
