// Package statediagram builds tree tensor network operators by reducing
// labeled transition diagrams.
//
// For every tree edge, each Hamiltonian term initially occupies one diagram
// row. Reduction repeatedly merges rows that are indistinguishable from one
// side of their edge, alternating a leaves-to-root sweep with a
// root-to-leaves sweep until a fixed point is reached. The surviving row
// count at an edge is the bond dimension of the constructed operator there.
//
// Rows are addressed by integer index within per-edge arenas, and terms by
// their insertion index, so that the whole reduction is plain integer
// bookkeeping over the symbolic labels; no matrix is ever compared.
package statediagram

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"ttno/operators"
	"ttno/tree"
)

var (
	// ErrInconsistentTerm indicates that a term's per-site assignments no
	// longer form a single path through the diagrams. It is an internal
	// invariant violation, not a user error.
	ErrInconsistentTerm = errors.New("statediagram: inconsistent term")
)

// Diagram holds, for every tree edge, the row occupied by each term.
// Edges are named by their child node.
type Diagram struct {
	tr  *tree.Tree
	ham *operators.Hamiltonian

	// rowOf[e][t] is the row of term t at edge e, an index below nRows[e].
	rowOf map[string][]int
	nRows map[string]int

	// designated[t] is the node where term t's coefficient is injected.
	// It starts at the root and descends one edge at a time, exactly when
	// the term's row takes part in a root-to-leaves merge at that edge:
	// the merged rows are interchangeable outside only once their scalars
	// ride inside. Within any row, either every term's coefficient sits
	// inside the subtree or every term's sits outside.
	designated []string
}

// New returns the unreduced diagram of a Hamiltonian, one row per term at
// every edge.
func New(h *operators.Hamiltonian) *Diagram {
	tr := h.Tree()
	d := &Diagram{tr: tr, ham: h, rowOf: map[string][]int{}, nRows: map[string]int{}}
	for _, e := range tr.Edges() {
		rows := make([]int, h.Len())
		for t := range rows {
			rows[t] = t
		}
		d.rowOf[e] = rows
		d.nRows[e] = h.Len()
	}
	for t := 0; t < h.Len(); t++ {
		d.designated = append(d.designated, tr.Root())
	}
	return d
}

// BondDim returns the current row count at the edge above child.
func (d *Diagram) BondDim(child string) int {
	if d.ham.Len() == 0 {
		return 1
	}
	return d.nRows[child]
}

// BondDims returns the row count of every edge, keyed by child node.
func (d *Diagram) BondDims() map[string]int {
	dims := map[string]int{}
	for _, e := range d.tr.Edges() {
		dims[e] = d.BondDim(e)
	}
	return dims
}

// Reduce merges rows until no merge-equivalent pair remains at any edge.
// Reducing an already reduced diagram performs no merge.
func (d *Diagram) Reduce() error {
	if d.ham.Len() == 0 {
		return nil
	}

	post := make([]string, 0, d.tr.Len())
	for id := range d.tr.PostOrder() {
		if !d.tr.IsRoot(id) {
			post = append(post, id)
		}
	}
	pre := d.tr.Edges()

	for {
		merged := 0
		for _, e := range post {
			merged += d.mergeDown(e)
		}
		for _, e := range pre {
			merged += d.mergeUp(e)
		}
		if merged == 0 {
			break
		}
	}
	return nil
}

// mergeDown merges the rows of edge e whose subtree content is
// indistinguishable. A row whose terms carry their coefficient inside the
// subtree never merges here: its subtree value is scaled by the
// coefficients and matches no other row's.
func (d *Diagram) mergeDown(e string) int {
	profiles := d.profiles(e, false)
	rep := map[string]int{}
	remap := make([]int, d.nRows[e])
	next, merges := 0, 0
	for r, p := range profiles {
		if tgt, ok := rep[p]; ok {
			remap[r] = tgt
			merges++
			continue
		}
		rep[p] = next
		remap[r] = next
		next++
	}
	if merges == 0 {
		return 0
	}
	rows := d.rowOf[e]
	for t := range rows {
		rows[t] = remap[rows[t]]
	}
	d.nRows[e] = next
	return merges
}

// mergeUp merges the rows of edge e that are interchangeable from outside
// the subtree, and moves the coefficient of every term flowing through the
// merged rows below the edge. A group whose coefficients cannot all be
// carried below stays unmerged.
func (d *Diagram) mergeUp(e string) int {
	profiles := d.profiles(e, true)
	members := map[string][]int{}
	for r, p := range profiles {
		members[p] = append(members[p], r)
	}

	byRow := make([][]int, d.nRows[e])
	for t := 0; t < d.ham.Len(); t++ {
		r := d.rowOf[e][t]
		byRow[r] = append(byRow[r], t)
	}

	target := make([]int, d.nRows[e])
	for r := range target {
		target[r] = r
	}
	merges := 0
	for r, p := range profiles {
		group := members[p]
		if len(group) < 2 || group[0] != r {
			continue
		}
		terms := map[int]bool{}
		for _, gr := range group {
			for _, t := range byRow[gr] {
				terms[t] = true
			}
		}
		if !d.admissible(e, terms) {
			continue
		}
		for t := range terms {
			if !d.tr.InSubtree(e, d.designated[t]) {
				d.designated[t] = e
			}
		}
		for _, gr := range group {
			target[gr] = r
		}
		merges += len(group) - 1
	}
	if merges == 0 {
		return 0
	}

	remap := make([]int, d.nRows[e])
	next := 0
	for r, tgt := range target {
		if tgt == r {
			remap[r] = next
			next++
		}
	}
	for r, tgt := range target {
		if tgt != r {
			remap[r] = remap[tgt]
		}
	}
	rows := d.rowOf[e]
	for t := range rows {
		rows[t] = remap[rows[t]]
	}
	d.nRows[e] = next
	return merges
}

// admissible reports whether every term in the set can carry its
// coefficient below edge e. A coefficient already inside the subtree stays
// put. One sitting at the edge's parent node moves one edge down, provided
// every term writing to the same tensor entry at the parent moves with it
// and agrees on the symbolic label there; a coefficient anywhere else
// cannot reach the subtree.
func (d *Diagram) admissible(e string, terms map[int]bool) bool {
	parent := d.tr.Parent(e)
	for t := range terms {
		w := d.designated[t]
		if d.tr.InSubtree(e, w) {
			continue
		}
		if w != parent {
			return false
		}
		for _, u := range d.cellSharers(w, t) {
			if u == t {
				continue
			}
			if !terms[u] {
				return false
			}
			if d.tr.PhysDim(w) > 0 && d.ham.Terms()[u].Label(w) != d.ham.Terms()[t].Label(w) {
				return false
			}
		}
	}
	return true
}

// cellSharers returns the terms whose rows coincide with term t's on every
// edge incident to node w: exactly the terms writing to t's entry of the
// tensor at w.
func (d *Diagram) cellSharers(w string, t int) []int {
	edges := make([]string, 0, 1+len(d.tr.Children(w)))
	if !d.tr.IsRoot(w) {
		edges = append(edges, w)
	}
	edges = append(edges, d.tr.Children(w)...)

	var sharers []int
	for u := 0; u < d.ham.Len(); u++ {
		same := true
		for _, a := range edges {
			if d.rowOf[a][u] != d.rowOf[a][t] {
				same = false
				break
			}
		}
		if same {
			sharers = append(sharers, u)
		}
	}
	return sharers
}

// profiles returns, for every row of edge e, the canonical string of the
// row's per-term keys on the chosen side. Two rows are merge-equivalent
// exactly when their profiles are equal.
func (d *Diagram) profiles(e string, up bool) []string {
	perRow := make([][]string, d.nRows[e])
	for t := 0; t < d.ham.Len(); t++ {
		r := d.rowOf[e][t]
		perRow[r] = append(perRow[r], d.termProfile(e, t, up))
	}
	profiles := make([]string, len(perRow))
	for r, keys := range perRow {
		slices.Sort(keys)
		profiles[r] = strings.Join(slices.Compact(keys), ";")
	}
	return profiles
}

// termProfile is the view of term t at edge e from one side: the symbolic
// label at the adjacent node together with the term's rows on that node's
// other edges. On the subtree side the adjacent node is the edge's child;
// on the outside it is the parent, whose own parent edge is included.
// A subtree-side key additionally pins the term whenever its coefficient
// is injected inside the subtree.
func (d *Diagram) termProfile(e string, t int, up bool) string {
	term := d.ham.Terms()[t]
	n := e
	if up {
		n = d.tr.Parent(e)
	}

	var b strings.Builder
	if !up && d.tr.InSubtree(e, d.designated[t]) {
		b.WriteByte('#')
		b.WriteString(strconv.Itoa(t))
		b.WriteByte('|')
	}
	if d.tr.PhysDim(n) > 0 {
		b.WriteString(string(term.Label(n)))
	}
	b.WriteByte('|')
	if up {
		if d.tr.IsRoot(n) {
			b.WriteByte('-')
		} else {
			b.WriteString(strconv.Itoa(d.rowOf[n][t]))
		}
		b.WriteByte('|')
	}
	for _, c := range d.tr.Children(n) {
		if up && c == e {
			continue
		}
		b.WriteString(strconv.Itoa(d.rowOf[c][t]))
		b.WriteByte(',')
	}
	return b.String()
}

// String summarises the diagram as one line per edge.
func (d *Diagram) String() string {
	lines := make([]string, 0, len(d.nRows))
	for _, e := range d.tr.Edges() {
		rows := make([][]int, d.nRows[e])
		for t, r := range d.rowOf[e] {
			rows[r] = append(rows[r], t)
		}
		lines = append(lines, fmt.Sprintf("%s->%s: %v", d.tr.Parent(e), e, rows))
	}
	return strings.Join(lines, "\n")
}
