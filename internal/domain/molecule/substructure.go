package molecule

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cespare/xxhash/v2"

	"github.com/GUI0609/rdkit/pkg/errors"
)

// SubstructureMatcher decides whether a molecule contains a pattern.
type SubstructureMatcher interface {
	Match(m *Molecule) bool
}

// QueryMatcher matches a query graph by backtracking over atom mappings.
type QueryMatcher struct {
	q     *Molecule
	order []int
	// anchor[k] is an earlier position in order bonded to order[k], or -1.
	anchor []int
}

// NewQueryMatcher prepares q for matching.
func NewQueryMatcher(q *Molecule) (*QueryMatcher, error) {
	if q == nil || q.NumAtoms() == 0 {
		return nil, errors.New(errors.ErrCodeSubstructureSearchFailed, "empty substructure query")
	}
	qm := &QueryMatcher{q: q}
	pos := make([]int, q.NumAtoms())
	for i := range pos {
		pos[i] = -1
	}
	for start := 0; start < q.NumAtoms(); start++ {
		if pos[start] >= 0 {
			continue
		}
		pos[start] = len(qm.order)
		qm.order = append(qm.order, start)
		qm.anchor = append(qm.anchor, -1)
		for k := pos[start]; k < len(qm.order); k++ {
			at := qm.order[k]
			for _, b := range q.AtomBonds(at) {
				nb := q.Bonds[b].Other(at)
				if pos[nb] >= 0 {
					continue
				}
				pos[nb] = len(qm.order)
				qm.order = append(qm.order, nb)
				qm.anchor = append(qm.anchor, k)
			}
		}
	}
	return qm, nil
}

// Query returns the query graph.
func (qm *QueryMatcher) Query() *Molecule { return qm.q }

// Match reports whether m contains the query.
func (qm *QueryMatcher) Match(m *Molecule) bool {
	if m == nil || m.NumAtoms() < qm.q.NumAtoms() {
		return false
	}
	st := &matchState{
		qm:     qm,
		m:      m,
		mapped: make([]int, qm.q.NumAtoms()),
		used:   make([]bool, m.NumAtoms()),
	}
	for i := range st.mapped {
		st.mapped[i] = -1
	}
	return st.extend(0)
}

type matchState struct {
	qm     *QueryMatcher
	m      *Molecule
	mapped []int
	used   []bool
}

func (st *matchState) extend(k int) bool {
	if k == len(st.qm.order) {
		return true
	}
	qa := st.qm.order[k]

	try := func(t int) bool {
		if st.used[t] || !st.feasible(qa, t) {
			return false
		}
		st.mapped[qa], st.used[t] = t, true
		if st.extend(k + 1) {
			return true
		}
		st.mapped[qa], st.used[t] = -1, false
		return false
	}

	if a := st.qm.anchor[k]; a >= 0 {
		from := st.mapped[st.qm.order[a]]
		for _, b := range st.m.AtomBonds(from) {
			if try(st.m.Bonds[b].Other(from)) {
				return true
			}
		}
		return false
	}
	for t := 0; t < st.m.NumAtoms(); t++ {
		if try(t) {
			return true
		}
	}
	return false
}

func (st *matchState) feasible(qa, t int) bool {
	if !atomMatches(st.qm.q.Atoms[qa], st.m.Atoms[t]) {
		return false
	}
	for _, qb := range st.qm.q.AtomBonds(qa) {
		qn := st.qm.q.Bonds[qb].Other(qa)
		tn := st.mapped[qn]
		if tn < 0 {
			continue
		}
		tb := st.m.BondBetween(t, tn)
		if tb < 0 || !bondMatches(st.qm.q.Bonds[qb].Order, st.m.Bonds[tb].Order) {
			return false
		}
	}
	return true
}

func atomMatches(q, t Atom) bool {
	switch {
	case q.Wildcard:
		return true
	case q.Element != t.Element:
		return false
	case !q.AnyAromaticity && q.Aromatic != t.Aromatic:
		return false
	case q.Charge != 0 && q.Charge != t.Charge:
		return false
	case q.Isotope != 0 && q.Isotope != t.Isotope:
		return false
	}
	return true
}

func bondMatches(q, t BondOrder) bool {
	switch q {
	case BondAny:
		return true
	case BondSingleOrAromatic:
		return t == BondSingle || t == BondAromatic
	default:
		return q == t
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Layered screen
// ─────────────────────────────────────────────────────────────────────────────

// ScreenBuilder computes the substructure screen: a bitmap of hashed atom
// and path features.  Every feature of a substructure is a feature of the
// molecules containing it, so a molecule whose screen lacks any query bit
// cannot match.  Features involving query-only atoms or bonds are left out
// of query screens.
type ScreenBuilder struct {
	MaxPath int
	NumBits int
}

// Screen returns the screen bitmap of m.
func (b ScreenBuilder) Screen(m *Molecule) *roaring.Bitmap {
	bm := roaring.New()
	if m == nil || b.NumBits < 1 {
		return bm
	}
	mod := uint64(b.NumBits)
	al, bl := elementLabel(m), orderLabel(m)
	for i, a := range m.Atoms {
		if a.Concrete() {
			bm.Add(uint32(xxhash.Sum64String(al(i)) % mod))
		}
	}
	walkPaths(m, b.MaxPath, func(atoms, bonds []int) {
		for _, i := range atoms {
			if !m.Atoms[i].Concrete() {
				return
			}
		}
		for _, bi := range bonds {
			if !m.Bonds[bi].Order.Concrete() {
				return
			}
		}
		bm.Add(uint32(xxhash.Sum64String(pathKey(atoms, bonds, al, bl)) % mod))
	})
	return bm
}

// ScreenPasses reports whether every bit of query is present in mol.
func ScreenPasses(mol, query *roaring.Bitmap) bool {
	if query == nil || query.IsEmpty() {
		return true
	}
	if mol == nil {
		return false
	}
	return query.AndCardinality(mol) == query.GetCardinality()
}

// EncodeScreen serializes a screen bitmap.
func EncodeScreen(bm *roaring.Bitmap) ([]byte, error) {
	data, err := bm.ToBytes()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "encode screen bitmap")
	}
	return data, nil
}

// DecodeScreen parses the output of EncodeScreen.
func DecodeScreen(data []byte) (*roaring.Bitmap, error) {
	bm := roaring.New()
	if err := bm.UnmarshalBinary(data); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFingerprintDecodeFailed, "decode screen bitmap")
	}
	return bm, nil
}
