// Package molecule holds the chemistry side of searchdb: a small molecular
// graph model with SMILES and molfile readers, the fingerprint builders and
// similarity metrics used to score pool entries, the bounded top-N neighbor
// accumulator, and the single-pass neighbor scan that drives it.
//
// The toolkit here is deliberately minimal.  It parses the organic subset of
// SMILES, bracket atoms, branches and ring closures, and computes hashed
// path, circular, atom-pair and torsion fingerprints.  It does not perceive
// aromaticity, canonicalize, or handle stereochemistry beyond carrying the
// chirality marks through to output.
package molecule

// BondOrder classifies a bond.  Query-only orders never appear in molecules
// read from a database.
type BondOrder int

const (
	// BondAny matches every bond (SMARTS "~").
	BondAny      BondOrder = 0
	BondSingle   BondOrder = 1
	BondDouble   BondOrder = 2
	BondTriple   BondOrder = 3
	BondAromatic BondOrder = 4

	// BondSingleOrAromatic is the implicit SMARTS bond.
	BondSingleOrAromatic BondOrder = 5
)

// Concrete reports whether the order is a real bond type rather than a query
// expression.
func (o BondOrder) Concrete() bool {
	return o >= BondSingle && o <= BondAromatic
}

// Symbol returns the SMILES bond symbol, "" for single and implicit bonds.
func (o BondOrder) Symbol() string {
	switch o {
	case BondDouble:
		return "="
	case BondTriple:
		return "#"
	case BondAromatic:
		return ":"
	case BondAny:
		return "~"
	default:
		return ""
	}
}

// Atom is a node of the molecular graph.
type Atom struct {
	// Element is the element symbol with standard capitalization ("C", "Cl").
	// Empty for wildcard query atoms.
	Element  string
	Aromatic bool
	Charge   int
	Isotope  int
	// HCount is the explicit hydrogen count from a bracket atom; -1 when
	// hydrogens are implicit.
	HCount int
	// Chiral holds "@" or "@@" when the input carried a tetrahedral mark.
	Chiral string

	// Wildcard marks "*" query atoms.
	Wildcard bool
	// AnyAromaticity marks "[#n]" query atoms that match either form.
	AnyAromaticity bool
	// Bracket records that the atom was written in brackets.
	Bracket bool
}

// Concrete reports whether the atom carries no query-only semantics.
func (a Atom) Concrete() bool {
	return !a.Wildcard && !a.AnyAromaticity
}

// Bond is an edge of the molecular graph.
type Bond struct {
	Begin int
	End   int
	Order BondOrder
}

// Other returns the atom on the opposite end of the bond.
func (b Bond) Other(atom int) int {
	if b.Begin == atom {
		return b.End
	}
	return b.Begin
}

// Molecule is an undirected molecular graph with optional name and SD
// properties.
type Molecule struct {
	Name  string
	Atoms []Atom
	Bonds []Bond
	// Props holds SD data fields in file order of first appearance.
	Props     map[string]string
	PropOrder []string

	adj [][]int
}

// NewMolecule returns an empty molecule.
func NewMolecule() *Molecule {
	return &Molecule{Props: make(map[string]string)}
}

// AddAtom appends an atom and returns its index.
func (m *Molecule) AddAtom(a Atom) int {
	m.Atoms = append(m.Atoms, a)
	m.adj = append(m.adj, nil)
	return len(m.Atoms) - 1
}

// AddBond connects two existing atoms and returns the bond index.  A second
// bond between the same pair is ignored and the existing index returned.
func (m *Molecule) AddBond(begin, end int, order BondOrder) int {
	if idx := m.BondBetween(begin, end); idx >= 0 {
		return idx
	}
	m.Bonds = append(m.Bonds, Bond{Begin: begin, End: end, Order: order})
	idx := len(m.Bonds) - 1
	m.adj[begin] = append(m.adj[begin], idx)
	m.adj[end] = append(m.adj[end], idx)
	return idx
}

// NumAtoms returns the atom count.
func (m *Molecule) NumAtoms() int { return len(m.Atoms) }

// NumBonds returns the bond count.
func (m *Molecule) NumBonds() int { return len(m.Bonds) }

// AtomBonds returns the indices of the bonds incident to atom i.
func (m *Molecule) AtomBonds(i int) []int {
	m.ensureAdjacency()
	return m.adj[i]
}

// Degree returns the number of explicit neighbors of atom i.
func (m *Molecule) Degree(i int) int {
	return len(m.AtomBonds(i))
}

// BondBetween returns the index of the bond joining i and j, or -1.
func (m *Molecule) BondBetween(i, j int) int {
	m.ensureAdjacency()
	for _, b := range m.adj[i] {
		if m.Bonds[b].Other(i) == j {
			return b
		}
	}
	return -1
}

// SetProp records an SD data field, keeping first-seen order.
func (m *Molecule) SetProp(key, value string) {
	if m.Props == nil {
		m.Props = make(map[string]string)
	}
	if _, ok := m.Props[key]; !ok {
		m.PropOrder = append(m.PropOrder, key)
	}
	m.Props[key] = value
}

// Prop returns an SD data field.  "_Name" resolves to the molecule name.
func (m *Molecule) Prop(key string) (string, bool) {
	if key == "_Name" {
		return m.Name, m.Name != ""
	}
	v, ok := m.Props[key]
	return v, ok
}

// ensureAdjacency rebuilds the adjacency lists for molecules assembled by
// direct slice manipulation.
func (m *Molecule) ensureAdjacency() {
	if len(m.adj) == len(m.Atoms) {
		return
	}
	m.adj = make([][]int, len(m.Atoms))
	for idx, b := range m.Bonds {
		m.adj[b.Begin] = append(m.adj[b.Begin], idx)
		m.adj[b.End] = append(m.adj[b.End], idx)
	}
}

// elementNumbers maps the symbols the toolkit knows about to atomic numbers.
var elementNumbers = map[string]int{
	"H": 1, "He": 2, "Li": 3, "Be": 4, "B": 5, "C": 6, "N": 7, "O": 8, "F": 9, "Ne": 10,
	"Na": 11, "Mg": 12, "Al": 13, "Si": 14, "P": 15, "S": 16, "Cl": 17, "Ar": 18, "K": 19, "Ca": 20,
	"Ti": 22, "Cr": 24, "Mn": 25, "Fe": 26, "Co": 27, "Ni": 28, "Cu": 29, "Zn": 30,
	"Ga": 31, "Ge": 32, "As": 33, "Se": 34, "Br": 35, "Kr": 36, "Rb": 37, "Sr": 38,
	"Pd": 46, "Ag": 47, "Cd": 48, "Sn": 50, "Sb": 51, "Te": 52, "I": 53, "Xe": 54,
	"Cs": 55, "Ba": 56, "Pt": 78, "Au": 79, "Hg": 80, "Pb": 82, "Bi": 83,
}

var elementSymbols = func() map[int]string {
	out := make(map[int]string, len(elementNumbers))
	for sym, n := range elementNumbers {
		out[n] = sym
	}
	return out
}()

// AtomicNumber returns the atomic number of a symbol, 0 when unknown.
func AtomicNumber(symbol string) int {
	return elementNumbers[symbol]
}
