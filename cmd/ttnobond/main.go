// Command ttnobond builds the transverse field Ising Hamiltonian on a tree
// and reports the bond dimensions and accuracy of its tensor network
// operator, constructed both by state diagram reduction and by truncated
// singular value decomposition.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/pkg/errors"

	"ttno"
	"ttno/operators"
	"ttno/store"
	"ttno/tree"
	"ttno/ttn"
)

var (
	parentsFlag = flag.String("tree", "a:,b:a,c:a,d:b,e:b", "topology as comma separated child:parent pairs, the root having an empty parent")
	hx          = flag.Float64("hx", 0.5, "transverse field strength")
	tol         = flag.Float64("tol", 0, "relative truncation tolerance of the SVD construction")
	dbPath      = flag.String("db", "", "optional sqlite path to persist the networks to")
	energy      = flag.Bool("energy", false, "additionally report the three lowest eigenvalues by exact diagonalization")
)

func parseTree(s string) (*tree.Tree, error) {
	parents := map[string]string{}
	physDims := map[string]int{}
	for _, pair := range strings.Split(s, ",") {
		childParent := strings.SplitN(pair, ":", 2)
		if len(childParent) != 2 || childParent[0] == "" {
			return nil, errors.Errorf("malformed pair %q", pair)
		}
		parents[childParent[0]] = childParent[1]
		physDims[childParent[0]] = 2
	}
	tr, err := tree.FromParents(parents, physDims)
	if err != nil {
		return nil, errors.Wrap(err, s)
	}
	return tr, nil
}

func printBonds(name string, t *ttn.TTN, h *operators.Hamiltonian, ops operators.Matrices) error {
	relErr, err := ttno.ReconstructionError(t, h, ops)
	if err != nil {
		return errors.Wrap(err, "")
	}
	for _, e := range t.Tree.Edges() {
		fmt.Printf("%s,%s,%s,%d\n", name, t.Tree.Parent(e), e, t.BondDim(e))
	}
	log.Printf("%s: reconstruction error %g", name, relErr)
	return nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	tr, err := parseTree(*parentsFlag)
	if err != nil {
		return errors.Wrap(err, "")
	}
	ham, ops, err := ttno.Ising(tr, *hx)
	if err != nil {
		return errors.Wrap(err, "")
	}

	diagram, err := ttno.BuildStateDiagram(ham, ops)
	if err != nil {
		return errors.Wrap(err, "")
	}
	svd, err := ttno.BuildSVD(ham, ops, ttno.NewBuildSVDOptions().Tol(*tol))
	if err != nil {
		return errors.Wrap(err, "")
	}

	fmt.Printf("method,parent,child,bond\n")
	if err := printBonds("statediagram", diagram, ham, ops); err != nil {
		return errors.Wrap(err, "")
	}
	if err := printBonds("svd", svd, ham, ops); err != nil {
		return errors.Wrap(err, "")
	}

	if *dbPath != "" {
		db, err := store.Open(*dbPath)
		if err != nil {
			return errors.Wrap(err, "")
		}
		defer db.Close()
		if err := db.Save("statediagram", diagram); err != nil {
			return errors.Wrap(err, "")
		}
		if err := db.Save("svd", svd); err != nil {
			return errors.Wrap(err, "")
		}
	}

	if *energy {
		ref, err := ttno.ReferenceMatrix(ham, ops)
		if err != nil {
			return errors.Wrap(err, "")
		}
		vvs := ref.Eigen()
		for i := 0; i < 3 && i < len(vvs); i++ {
			log.Printf("e%d %f", i, real(vvs[i].Val))
		}
	}
	return nil
}
