package molecule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/GUI0609/rdkit/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Reader
// ─────────────────────────────────────────────────────────────────────────────

// ParseSMILES parses a SMILES string.  Anything after the first whitespace
// is ignored.  "/" and "\" are read as single bonds.
func ParseSMILES(s string) (*Molecule, error) {
	return parseLineNotation(s, false)
}

// ParseSMARTS parses the SMARTS subset the toolkit supports: SMILES syntax
// plus "*" atoms, "~" bonds and "[#n]" atoms.  Unwritten bonds match single
// or aromatic bonds.
func ParseSMARTS(s string) (*Molecule, error) {
	return parseLineNotation(s, true)
}

type ringOpening struct {
	atom     int
	order    BondOrder
	explicit bool
}

type smilesParser struct {
	src    string
	pos    int
	smarts bool

	mol     *Molecule
	prev    int
	pending BondOrder
	hasBond bool
	branch  []int
	rings   map[int]ringOpening
}

func parseLineNotation(s string, smarts bool) (*Molecule, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return nil, errors.New(errors.ErrCodeMoleculeInvalidSMILES, "empty SMILES")
	}
	p := &smilesParser{
		src:    s,
		smarts: smarts,
		mol:    NewMolecule(),
		prev:   -1,
		rings:  make(map[int]ringOpening),
	}
	if err := p.parse(); err != nil {
		return nil, err
	}
	return p.mol, nil
}

func (p *smilesParser) fail(msg string) error {
	return errors.New(errors.ErrCodeMoleculeInvalidSMILES, msg).
		WithDetail(fmt.Sprintf("position %d in %q", p.pos, p.src))
}

func (p *smilesParser) parse() error {
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '(':
			if p.prev < 0 {
				return p.fail("branch without preceding atom")
			}
			p.branch = append(p.branch, p.prev)
			p.pos++
		case c == ')':
			if len(p.branch) == 0 {
				return p.fail("unbalanced ')'")
			}
			if p.hasBond {
				return p.fail("dangling bond before ')'")
			}
			p.prev = p.branch[len(p.branch)-1]
			p.branch = p.branch[:len(p.branch)-1]
			p.pos++
		case c == '.':
			if p.hasBond {
				return p.fail("bond before '.'")
			}
			p.prev = -1
			p.pos++
		case c == '-' || c == '/' || c == '\\':
			p.setBond(BondSingle)
		case c == '=':
			p.setBond(BondDouble)
		case c == '#':
			p.setBond(BondTriple)
		case c == ':':
			p.setBond(BondAromatic)
		case c == '~':
			if !p.smarts {
				return p.fail("'~' is only valid in SMARTS")
			}
			p.setBond(BondAny)
		case c == '%':
			if p.pos+2 >= len(p.src) || !isDigit(p.src[p.pos+1]) || !isDigit(p.src[p.pos+2]) {
				return p.fail("'%' must be followed by two digits")
			}
			n, _ := strconv.Atoi(p.src[p.pos+1 : p.pos+3])
			p.pos += 3
			if err := p.ringClosure(n); err != nil {
				return err
			}
		case isDigit(c):
			p.pos++
			if err := p.ringClosure(int(c - '0')); err != nil {
				return err
			}
		case c == '[':
			a, err := p.bracketAtom()
			if err != nil {
				return err
			}
			p.addAtom(a)
		case c == '*':
			p.pos++
			p.addAtom(Atom{Wildcard: true, HCount: -1})
		default:
			a, ok := p.organicAtom()
			if !ok {
				return p.fail(fmt.Sprintf("unexpected character %q", c))
			}
			p.addAtom(a)
		}
	}

	switch {
	case len(p.rings) > 0:
		return p.fail("unclosed ring")
	case len(p.branch) > 0:
		return p.fail("unclosed branch")
	case p.hasBond:
		return p.fail("dangling bond")
	case p.mol.NumAtoms() == 0:
		return p.fail("no atoms")
	}
	return nil
}

func (p *smilesParser) setBond(o BondOrder) {
	p.pending = o
	p.hasBond = true
	p.pos++
}

func (p *smilesParser) takeBond() (BondOrder, bool) {
	o, ok := p.pending, p.hasBond
	p.pending, p.hasBond = BondSingle, false
	return o, ok
}

func (p *smilesParser) implicitBond(a, b int) BondOrder {
	if p.smarts {
		return BondSingleOrAromatic
	}
	if p.mol.Atoms[a].Aromatic && p.mol.Atoms[b].Aromatic {
		return BondAromatic
	}
	return BondSingle
}

func (p *smilesParser) addAtom(a Atom) {
	idx := p.mol.AddAtom(a)
	order, explicit := p.takeBond()
	if p.prev >= 0 {
		if !explicit {
			order = p.implicitBond(p.prev, idx)
		}
		p.mol.AddBond(p.prev, idx, order)
	}
	p.prev = idx
}

func (p *smilesParser) ringClosure(n int) error {
	if p.prev < 0 {
		return p.fail("ring closure without preceding atom")
	}
	order, explicit := p.takeBond()
	open, ok := p.rings[n]
	if !ok {
		p.rings[n] = ringOpening{atom: p.prev, order: order, explicit: explicit}
		return nil
	}
	delete(p.rings, n)
	if open.atom == p.prev {
		return p.fail("ring closure to the same atom")
	}
	if !explicit {
		if open.explicit {
			order = open.order
		} else {
			order = p.implicitBond(open.atom, p.prev)
		}
	}
	p.mol.AddBond(open.atom, p.prev, order)
	return nil
}

var organicSubset = map[string]bool{
	"B": true, "C": true, "N": true, "O": true, "P": true, "S": true,
	"F": true, "Cl": true, "Br": true, "I": true,
}

var aromaticSubset = map[string]bool{
	"b": true, "c": true, "n": true, "o": true, "p": true, "s": true,
}

func (p *smilesParser) organicAtom() (Atom, bool) {
	rest := p.src[p.pos:]
	for _, two := range []string{"Cl", "Br"} {
		if strings.HasPrefix(rest, two) {
			p.pos += 2
			return Atom{Element: two, HCount: -1}, true
		}
	}
	one := rest[:1]
	if organicSubset[one] {
		p.pos++
		return Atom{Element: one, HCount: -1}, true
	}
	if aromaticSubset[one] {
		p.pos++
		return Atom{Element: strings.ToUpper(one), Aromatic: true, HCount: -1}, true
	}
	return Atom{}, false
}

func (p *smilesParser) bracketAtom() (Atom, error) {
	end := strings.IndexByte(p.src[p.pos:], ']')
	if end < 0 {
		return Atom{}, p.fail("unterminated bracket atom")
	}
	body := p.src[p.pos+1 : p.pos+end]
	start := p.pos
	p.pos += end + 1

	a := Atom{HCount: 0, Bracket: true}
	i := 0
	for i < len(body) && isDigit(body[i]) {
		i++
	}
	if i > 0 {
		a.Isotope, _ = strconv.Atoi(body[:i])
	}

	bad := func(msg string) error {
		return errors.New(errors.ErrCodeMoleculeInvalidSMILES, msg).
			WithDetail(fmt.Sprintf("position %d in %q", start, p.src))
	}

	switch {
	case i < len(body) && body[i] == '*':
		a.Wildcard = true
		i++
	case i < len(body) && body[i] == '#':
		j := i + 1
		for j < len(body) && isDigit(body[j]) {
			j++
		}
		n, err := strconv.Atoi(body[i+1 : j])
		if err != nil || elementSymbols[n] == "" {
			return Atom{}, bad("invalid atomic number in bracket atom")
		}
		a.Element = elementSymbols[n]
		a.AnyAromaticity = true
		i = j
	default:
		sym, aromatic, width := bracketSymbol(body[i:])
		if width == 0 {
			return Atom{}, bad("unknown element in bracket atom")
		}
		a.Element, a.Aromatic = sym, aromatic
		i += width
	}

	if i < len(body) && body[i] == '@' {
		if i+1 < len(body) && body[i+1] == '@' {
			a.Chiral = "@@"
			i += 2
		} else {
			a.Chiral = "@"
			i++
		}
	}
	if i < len(body) && body[i] == 'H' {
		i++
		j := i
		for j < len(body) && isDigit(body[j]) {
			j++
		}
		a.HCount = 1
		if j > i {
			a.HCount, _ = strconv.Atoi(body[i:j])
		}
		i = j
	}
	if i < len(body) && (body[i] == '+' || body[i] == '-') {
		sign := 1
		if body[i] == '-' {
			sign = -1
		}
		sym := body[i]
		i++
		j := i
		for j < len(body) && isDigit(body[j]) {
			j++
		}
		if j > i {
			n, _ := strconv.Atoi(body[i:j])
			a.Charge = sign * n
			i = j
		} else {
			n := 1
			for i < len(body) && body[i] == sym {
				n++
				i++
			}
			a.Charge = sign * n
		}
	}
	if i < len(body) && body[i] == ':' {
		i++
		for i < len(body) && isDigit(body[i]) {
			i++
		}
	}
	if i != len(body) {
		return Atom{}, bad(fmt.Sprintf("unexpected %q in bracket atom", body[i:]))
	}
	return a, nil
}

// bracketSymbol reads an element symbol at the start of s.
func bracketSymbol(s string) (symbol string, aromatic bool, width int) {
	if s == "" {
		return "", false, 0
	}
	for _, arom := range []string{"se", "as"} {
		if strings.HasPrefix(s, arom) {
			return strings.ToUpper(arom[:1]) + arom[1:], true, 2
		}
	}
	c := s[0]
	if c >= 'a' && c <= 'z' {
		if aromaticSubset[s[:1]] {
			return strings.ToUpper(s[:1]), true, 1
		}
		return "", false, 0
	}
	if len(s) >= 2 && s[1] >= 'a' && s[1] <= 'z' {
		if _, ok := elementNumbers[s[:2]]; ok {
			return s[:2], false, 2
		}
	}
	if _, ok := elementNumbers[s[:1]]; ok {
		return s[:1], false, 1
	}
	return "", false, 0
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// ─────────────────────────────────────────────────────────────────────────────
// Writer
// ─────────────────────────────────────────────────────────────────────────────

// WriteSMILES renders m as SMILES.  The output is not canonical.  With
// chiral false tetrahedral marks are dropped and atoms that no longer need
// brackets are written in the organic subset.
func WriteSMILES(m *Molecule, chiral bool) string {
	w := &smilesWriter{
		m:          m,
		chiral:     chiral,
		visited:    make([]bool, m.NumAtoms()),
		parentBond: make([]int, m.NumAtoms()),
		closures:   make([][]int, m.NumAtoms()),
		isClosure:  make(map[int]bool),
		ringNum:    make(map[int]int),
	}
	for i := range w.parentBond {
		w.parentBond[i] = -1
	}

	var parts []string
	for start := 0; start < m.NumAtoms(); start++ {
		if w.visited[start] {
			continue
		}
		w.mark(start, -1)
		var sb strings.Builder
		w.buf = &sb
		w.emit(start, -1)
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, ".")
}

type smilesWriter struct {
	m      *Molecule
	chiral bool

	visited    []bool
	parentBond []int
	closures   [][]int
	isClosure  map[int]bool
	ringNum    map[int]int
	inUse      []bool
	buf        *strings.Builder
}

// mark runs the spanning-tree pass, sorting non-tree bonds into closures.
func (w *smilesWriter) mark(atom, from int) {
	w.visited[atom] = true
	for _, b := range w.m.AtomBonds(atom) {
		if b == from || w.isClosure[b] {
			continue
		}
		nb := w.m.Bonds[b].Other(atom)
		if !w.visited[nb] {
			w.parentBond[nb] = b
			w.mark(nb, b)
			continue
		}
		if w.parentBond[atom] != b && w.parentBond[nb] != b {
			w.isClosure[b] = true
			w.closures[atom] = append(w.closures[atom], b)
			w.closures[nb] = append(w.closures[nb], b)
		}
	}
}

func (w *smilesWriter) emit(atom, from int) {
	if from >= 0 {
		w.buf.WriteString(w.bondSymbol(from))
	}
	w.buf.WriteString(w.atomToken(atom))

	cl := append([]int(nil), w.closures[atom]...)
	sort.Ints(cl)
	for _, b := range cl {
		if n, open := w.ringNum[b]; open {
			w.buf.WriteString(w.bondSymbol(b))
			w.buf.WriteString(ringLabel(n))
			w.inUse[n] = false
			delete(w.ringNum, b)
			continue
		}
		n := w.allocRing()
		w.ringNum[b] = n
		w.buf.WriteString(ringLabel(n))
	}

	var children []int
	for _, b := range w.m.AtomBonds(atom) {
		nb := w.m.Bonds[b].Other(atom)
		if b != from && w.parentBond[nb] == b {
			children = append(children, b)
		}
	}
	for i, b := range children {
		nb := w.m.Bonds[b].Other(atom)
		if i < len(children)-1 {
			w.buf.WriteByte('(')
			w.emit(nb, b)
			w.buf.WriteByte(')')
		} else {
			w.emit(nb, b)
		}
	}
}

func (w *smilesWriter) allocRing() int {
	for n := 1; n < len(w.inUse); n++ {
		if !w.inUse[n] {
			w.inUse[n] = true
			return n
		}
	}
	if len(w.inUse) == 0 {
		w.inUse = append(w.inUse, true)
	}
	w.inUse = append(w.inUse, true)
	return len(w.inUse) - 1
}

func ringLabel(n int) string {
	if n < 10 {
		return strconv.Itoa(n)
	}
	return fmt.Sprintf("%%%02d", n)
}

func (w *smilesWriter) bondSymbol(b int) string {
	bond := w.m.Bonds[b]
	bothAromatic := w.m.Atoms[bond.Begin].Aromatic && w.m.Atoms[bond.End].Aromatic
	switch bond.Order {
	case BondSingle:
		if bothAromatic {
			return "-"
		}
		return ""
	case BondAromatic:
		if bothAromatic {
			return ""
		}
		return ":"
	default:
		return bond.Order.Symbol()
	}
}

func (w *smilesWriter) atomToken(i int) string {
	a := w.m.Atoms[i]
	if a.Wildcard {
		return "*"
	}
	sym := a.Element
	if a.Aromatic {
		sym = strings.ToLower(sym)
	}
	chiral := a.Chiral
	if !w.chiral {
		chiral = ""
	}

	organic := (organicSubset[a.Element] || aromaticSubset[sym]) &&
		a.Charge == 0 && a.Isotope == 0 && chiral == "" && !a.AnyAromaticity
	if organic && (a.HCount < 0 || a.HCount == implicitHydrogens(w.m, i)) {
		return sym
	}

	var sb strings.Builder
	sb.WriteByte('[')
	if a.Isotope > 0 {
		sb.WriteString(strconv.Itoa(a.Isotope))
	}
	if a.AnyAromaticity {
		sb.WriteString("#" + strconv.Itoa(AtomicNumber(a.Element)))
	} else {
		sb.WriteString(sym)
	}
	sb.WriteString(chiral)
	h := hydrogenCount(w.m, i)
	switch {
	case h == 1:
		sb.WriteByte('H')
	case h > 1:
		sb.WriteString("H" + strconv.Itoa(h))
	}
	switch {
	case a.Charge == 1:
		sb.WriteByte('+')
	case a.Charge == -1:
		sb.WriteByte('-')
	case a.Charge > 1:
		sb.WriteString("+" + strconv.Itoa(a.Charge))
	case a.Charge < -1:
		sb.WriteString(strconv.Itoa(a.Charge))
	}
	sb.WriteByte(']')
	return sb.String()
}

// ─────────────────────────────────────────────────────────────────────────────
// Valence
// ─────────────────────────────────────────────────────────────────────────────

var defaultValence = map[string]int{
	"B": 3, "C": 4, "N": 3, "O": 2, "P": 3, "S": 2,
	"F": 1, "Cl": 1, "Br": 1, "I": 1,
}

// hydrogenCount returns the explicit hydrogen count of a bracket atom, or
// the valence estimate otherwise.
func hydrogenCount(m *Molecule, i int) int {
	if a := m.Atoms[i]; a.Bracket && a.HCount >= 0 {
		return a.HCount
	}
	return implicitHydrogens(m, i)
}

// implicitHydrogens estimates the hydrogen count of atom i from its default
// valence.
func implicitHydrogens(m *Molecule, i int) int {
	a := m.Atoms[i]
	v, ok := defaultValence[a.Element]
	if !ok {
		return 0
	}
	switch a.Element {
	case "N", "O", "P", "S":
		v += a.Charge
	default:
		v -= abs(a.Charge)
	}
	used := 0
	for _, b := range m.AtomBonds(i) {
		switch m.Bonds[b].Order {
		case BondDouble:
			used += 2
		case BondTriple:
			used += 3
		default:
			used++
		}
	}
	if a.Aromatic {
		used++
	}
	if h := v - used; h > 0 {
		return h
	}
	return 0
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
