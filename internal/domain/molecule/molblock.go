package molecule

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/GUI0609/rdkit/pkg/errors"
)

// SDRecordSeparator terminates every record of an SD file.
const SDRecordSeparator = "$$$$"

// ParseMolBlock reads a V2000 molfile.  Coordinates are read and discarded;
// "M  CHG" and "M  ISO" properties are honoured.
func ParseMolBlock(block string) (*Molecule, error) {
	lines := strings.Split(strings.ReplaceAll(block, "\r\n", "\n"), "\n")
	if len(lines) < 4 {
		return nil, errors.New(errors.ErrCodeMoleculeInvalidFormat, "molfile too short")
	}
	counts := lines[3]
	if strings.Contains(counts, "V3000") {
		return nil, errors.New(errors.ErrCodeMoleculeInvalidFormat, "V3000 molfiles are not supported")
	}
	if len(counts) < 6 {
		return nil, errors.New(errors.ErrCodeMoleculeInvalidFormat, "malformed counts line").WithDetail(counts)
	}
	nAtoms, err1 := strconv.Atoi(strings.TrimSpace(counts[0:3]))
	nBonds, err2 := strconv.Atoi(strings.TrimSpace(counts[3:6]))
	if err1 != nil || err2 != nil || nAtoms < 0 || nBonds < 0 {
		return nil, errors.New(errors.ErrCodeMoleculeInvalidFormat, "malformed counts line").WithDetail(counts)
	}
	if len(lines) < 4+nAtoms+nBonds {
		return nil, errors.New(errors.ErrCodeMoleculeInvalidFormat, "molfile truncated in atom or bond block")
	}

	m := NewMolecule()
	m.Name = strings.TrimSpace(lines[0])

	for i := 0; i < nAtoms; i++ {
		l := lines[4+i]
		if len(l) < 34 {
			return nil, errors.New(errors.ErrCodeMoleculeInvalidFormat, "short atom line").
				WithDetail(fmt.Sprintf("atom %d", i+1))
		}
		sym := strings.TrimSpace(l[31:34])
		a := Atom{Element: sym, HCount: -1}
		switch {
		case sym == "*" || sym == "A" || sym == "R#":
			a = Atom{Wildcard: true, HCount: -1}
		case AtomicNumber(sym) == 0:
			return nil, errors.New(errors.ErrCodeMoleculeInvalidFormat, "unknown element").WithDetail(sym)
		}
		if len(l) >= 39 {
			if code, err := strconv.Atoi(strings.TrimSpace(l[36:39])); err == nil && code > 0 && code < 8 {
				a.Charge = 4 - code
			}
		}
		m.AddAtom(a)
	}

	for i := 0; i < nBonds; i++ {
		l := lines[4+nAtoms+i]
		if len(l) < 9 {
			return nil, errors.New(errors.ErrCodeMoleculeInvalidFormat, "short bond line").
				WithDetail(fmt.Sprintf("bond %d", i+1))
		}
		a1, e1 := strconv.Atoi(strings.TrimSpace(l[0:3]))
		a2, e2 := strconv.Atoi(strings.TrimSpace(l[3:6]))
		t, e3 := strconv.Atoi(strings.TrimSpace(l[6:9]))
		if e1 != nil || e2 != nil || e3 != nil || a1 < 1 || a2 < 1 || a1 > nAtoms || a2 > nAtoms || a1 == a2 {
			return nil, errors.New(errors.ErrCodeMoleculeInvalidFormat, "malformed bond line").WithDetail(l)
		}
		m.AddBond(a1-1, a2-1, molfileBondOrder(t))
	}

	for _, l := range lines[4+nAtoms+nBonds:] {
		if strings.HasPrefix(l, "M  END") {
			break
		}
		switch {
		case strings.HasPrefix(l, "M  CHG"):
			applyAtomList(m, l, func(a *Atom, v int) { a.Charge = v })
		case strings.HasPrefix(l, "M  ISO"):
			applyAtomList(m, l, func(a *Atom, v int) { a.Isotope = v })
		}
	}

	for _, b := range m.Bonds {
		if b.Order == BondAromatic {
			m.Atoms[b.Begin].Aromatic = true
			m.Atoms[b.End].Aromatic = true
		}
	}
	return m, nil
}

func molfileBondOrder(t int) BondOrder {
	switch t {
	case 2:
		return BondDouble
	case 3:
		return BondTriple
	case 4:
		return BondAromatic
	case 8:
		return BondAny
	default:
		return BondSingle
	}
}

// applyAtomList decodes "M  XXX  n aaa vvv ..." property lines.
func applyAtomList(m *Molecule, line string, set func(*Atom, int)) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return
	}
	n, err := strconv.Atoi(fields[2])
	if err != nil {
		return
	}
	for k := 0; k < n && 4+2*k < len(fields); k++ {
		idx, e1 := strconv.Atoi(fields[3+2*k])
		val, e2 := strconv.Atoi(fields[4+2*k])
		if e1 != nil || e2 != nil || idx < 1 || idx > m.NumAtoms() {
			continue
		}
		set(&m.Atoms[idx-1], val)
	}
}

// WriteMolBlock renders m as a V2000 molfile with zero coordinates.
func WriteMolBlock(m *Molecule) string {
	var sb strings.Builder
	sb.WriteString(m.Name + "\n")
	sb.WriteString("     searchdb\n")
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%3d%3d  0  0  0  0  0  0  0  0999 V2000\n", m.NumAtoms(), m.NumBonds())

	var charged, isotopes []int
	for i, a := range m.Atoms {
		sym := a.Element
		if a.Wildcard {
			sym = "*"
		}
		fmt.Fprintf(&sb, "%10.4f%10.4f%10.4f %-3s 0  0  0  0  0  0  0  0  0  0  0  0\n", 0.0, 0.0, 0.0, sym)
		if a.Charge != 0 {
			charged = append(charged, i)
		}
		if a.Isotope != 0 {
			isotopes = append(isotopes, i)
		}
	}
	for _, b := range m.Bonds {
		t := int(b.Order)
		switch b.Order {
		case BondAny, BondSingleOrAromatic:
			t = 8
		}
		fmt.Fprintf(&sb, "%3d%3d%3d  0\n", b.Begin+1, b.End+1, t)
	}
	writeAtomList(&sb, "CHG", charged, func(i int) int { return m.Atoms[i].Charge })
	writeAtomList(&sb, "ISO", isotopes, func(i int) int { return m.Atoms[i].Isotope })
	sb.WriteString("M  END\n")
	return sb.String()
}

func writeAtomList(sb *strings.Builder, tag string, atoms []int, value func(int) int) {
	for start := 0; start < len(atoms); start += 8 {
		end := start + 8
		if end > len(atoms) {
			end = len(atoms)
		}
		fmt.Fprintf(sb, "M  %s%3d", tag, end-start)
		for _, i := range atoms[start:end] {
			fmt.Fprintf(sb, " %3d %3d", i+1, value(i))
		}
		sb.WriteString("\n")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// SD files
// ─────────────────────────────────────────────────────────────────────────────

// SDRecord is one raw record of an SD file.  Mol is nil and Err set when the
// molfile part could not be parsed; Props are populated either way.
type SDRecord struct {
	Index     int
	Mol       *Molecule
	Err       error
	Props     map[string]string
	PropOrder []string
}

// SDReader iterates over the records of an SD file.
type SDReader struct {
	sc    *bufio.Scanner
	rec   SDRecord
	index int
	err   error
}

// NewSDReader wraps r.
func NewSDReader(r io.Reader) *SDReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &SDReader{sc: sc}
}

// Next advances to the next record.
func (r *SDReader) Next() bool {
	var lines []string
	for r.sc.Scan() {
		line := strings.TrimRight(r.sc.Text(), "\r")
		if strings.HasPrefix(line, SDRecordSeparator) {
			r.rec = parseSDRecord(r.index, lines)
			r.index++
			return true
		}
		lines = append(lines, line)
	}
	if err := r.sc.Err(); err != nil {
		r.err = err
		return false
	}
	if len(strings.TrimSpace(strings.Join(lines, ""))) > 0 {
		r.rec = parseSDRecord(r.index, lines)
		r.index++
		return true
	}
	return false
}

// Record returns the current record.
func (r *SDReader) Record() SDRecord { return r.rec }

// Err returns the first read error.
func (r *SDReader) Err() error { return r.err }

func parseSDRecord(index int, lines []string) SDRecord {
	rec := SDRecord{Index: index, Props: make(map[string]string)}

	end := len(lines)
	for i, l := range lines {
		if strings.HasPrefix(l, "M  END") {
			end = i + 1
			break
		}
	}

	for i := end; i < len(lines); i++ {
		l := lines[i]
		if !strings.HasPrefix(l, ">") {
			continue
		}
		name := dataHeaderName(l)
		var vals []string
		for i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != "" {
			i++
			vals = append(vals, lines[i])
		}
		if name == "" {
			continue
		}
		if _, seen := rec.Props[name]; !seen {
			rec.PropOrder = append(rec.PropOrder, name)
		}
		rec.Props[name] = strings.Join(vals, "\n")
	}

	mol, err := ParseMolBlock(strings.Join(lines[:end], "\n"))
	if err != nil {
		rec.Err = err
		return rec
	}
	for _, k := range rec.PropOrder {
		mol.SetProp(k, rec.Props[k])
	}
	rec.Mol = mol
	return rec
}

// dataHeaderName extracts NAME from a "> <NAME>" data header line.
func dataHeaderName(line string) string {
	open := strings.IndexByte(line, '<')
	if open < 0 {
		return ""
	}
	n := strings.IndexByte(line[open+1:], '>')
	if n < 0 {
		return ""
	}
	return line[open+1 : open+1+n]
}

// WriteSDRecord writes a molblock, the given data fields and the record
// separator to w.
func WriteSDRecord(w io.Writer, molBlock string, fields []string, values map[string]string) error {
	if !strings.HasSuffix(molBlock, "\n") {
		molBlock += "\n"
	}
	if _, err := io.WriteString(w, molBlock); err != nil {
		return err
	}
	for _, f := range fields {
		if _, err := fmt.Fprintf(w, "> <%s>\n%s\n\n", f, values[f]); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, SDRecordSeparator+"\n")
	return err
}
