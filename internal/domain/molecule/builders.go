package molecule

import (
	"encoding/binary"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/GUI0609/rdkit/pkg/errors"
)

// FingerprintBuilder turns a molecule into a fingerprint.
type FingerprintBuilder interface {
	Build(m *Molecule) (Fingerprint, error)
}

func checkBuildable(m *Molecule) error {
	if m == nil || m.NumAtoms() == 0 {
		return errors.New(errors.ErrCodeFingerprintGenerationFailed, "molecule has no atoms")
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Path walking
// ─────────────────────────────────────────────────────────────────────────────

// walkPaths calls visit once for every simple path of 1..maxBonds bonds.
// atoms has len(bonds)+1 entries.  The slices are reused between calls.
func walkPaths(m *Molecule, maxBonds int, visit func(atoms, bonds []int)) {
	if maxBonds < 1 {
		return
	}
	inPath := make([]bool, m.NumAtoms())
	atoms := make([]int, 0, maxBonds+1)
	bonds := make([]int, 0, maxBonds)

	var extend func(at int)
	extend = func(at int) {
		for _, b := range m.AtomBonds(at) {
			nb := m.Bonds[b].Other(at)
			if inPath[nb] {
				continue
			}
			atoms = append(atoms, nb)
			bonds = append(bonds, b)
			inPath[nb] = true
			// Each undirected path is reached from both ends; keep one.
			if atoms[0] < nb {
				visit(atoms, bonds)
			}
			if len(bonds) < maxBonds {
				extend(nb)
			}
			inPath[nb] = false
			atoms = atoms[:len(atoms)-1]
			bonds = bonds[:len(bonds)-1]
		}
	}

	for start := 0; start < m.NumAtoms(); start++ {
		atoms = append(atoms[:0], start)
		bonds = bonds[:0]
		inPath[start] = true
		extend(start)
		inPath[start] = false
	}
}

// pathKey renders a path direction-independently from atom and bond labels.
func pathKey(atoms, bonds []int, atomLabel func(int) string, bondLabel func(int) string) string {
	var fwd, rev strings.Builder
	n := len(atoms)
	for k := 0; k < n; k++ {
		fwd.WriteString(atomLabel(atoms[k]))
		rev.WriteString(atomLabel(atoms[n-1-k]))
		if k < len(bonds) {
			fwd.WriteString(bondLabel(bonds[k]))
			rev.WriteString(bondLabel(bonds[len(bonds)-1-k]))
		}
	}
	if f, r := fwd.String(), rev.String(); r < f {
		return r
	}
	return fwd.String()
}

func elementLabel(m *Molecule) func(int) string {
	return func(i int) string {
		a := m.Atoms[i]
		if a.Aromatic {
			return strings.ToLower(a.Element)
		}
		if a.Element == "" {
			return "*"
		}
		return a.Element
	}
}

func orderLabel(m *Molecule) func(int) string {
	return func(b int) string {
		return strconv.Itoa(int(m.Bonds[b].Order))
	}
}

// hashInts mixes a sequence of small integers with xxhash.
func hashInts(vals ...uint64) uint64 {
	buf := make([]byte, 0, 8*len(vals))
	for _, v := range vals {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}
	return xxhash.Sum64(buf)
}

// ─────────────────────────────────────────────────────────────────────────────
// RDK path fingerprint
// ─────────────────────────────────────────────────────────────────────────────

// RDKBuilder hashes every linear bond path of MinPath..MaxPath bonds into a
// NumBits-long bit vector.  Molecules without bonds get one bit per atom.
type RDKBuilder struct {
	MinPath int
	MaxPath int
	NumBits int
}

func (b RDKBuilder) Build(m *Molecule) (Fingerprint, error) {
	if err := checkBuildable(m); err != nil {
		return nil, err
	}
	if b.NumBits < 1 || b.MinPath < 1 || b.MaxPath < b.MinPath {
		return nil, errors.InvalidParam("invalid RDK fingerprint parameters")
	}
	bv := NewBitVector(b.NumBits)
	al, bl := elementLabel(m), orderLabel(m)
	if m.NumBonds() == 0 {
		for i := range m.Atoms {
			bv.Set(int(xxhash.Sum64String(al(i)) % uint64(b.NumBits)))
		}
		return bv, nil
	}
	walkPaths(m, b.MaxPath, func(atoms, bonds []int) {
		if len(bonds) < b.MinPath {
			return
		}
		key := pathKey(atoms, bonds, al, bl)
		bv.Set(int(xxhash.Sum64String(key) % uint64(b.NumBits)))
	})
	return bv, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Morgan circular fingerprint
// ─────────────────────────────────────────────────────────────────────────────

// MorganBuilder counts circular atom environments up to Radius bonds,
// hashed into Size features.
type MorganBuilder struct {
	Radius int
	Size   int
}

func (b MorganBuilder) Build(m *Molecule) (Fingerprint, error) {
	if err := checkBuildable(m); err != nil {
		return nil, err
	}
	if b.Size < 1 || b.Radius < 0 {
		return nil, errors.InvalidParam("invalid Morgan fingerprint parameters")
	}
	features := make(map[uint32]uint32)
	add := func(h uint64) { features[uint32(h%uint64(b.Size))]++ }

	inv := make([]uint64, m.NumAtoms())
	for i, a := range m.Atoms {
		inv[i] = hashInts(
			uint64(AtomicNumber(a.Element)),
			uint64(m.Degree(i)),
			uint64(hydrogenCount(m, i)),
			uint64(int64(a.Charge)),
			boolBit(a.Aromatic),
			uint64(a.Isotope),
		)
		add(inv[i])
	}

	next := make([]uint64, len(inv))
	for r := 1; r <= b.Radius; r++ {
		for i := range m.Atoms {
			env := make([][2]uint64, 0, m.Degree(i))
			for _, bi := range m.AtomBonds(i) {
				nb := m.Bonds[bi].Other(i)
				env = append(env, [2]uint64{uint64(m.Bonds[bi].Order), inv[nb]})
			}
			sort.Slice(env, func(x, y int) bool {
				if env[x][0] != env[y][0] {
					return env[x][0] < env[y][0]
				}
				return env[x][1] < env[y][1]
			})
			vals := []uint64{uint64(r), inv[i]}
			for _, e := range env {
				vals = append(vals, e[0], e[1])
			}
			next[i] = hashInts(vals...)
			add(next[i])
		}
		inv, next = next, inv
	}
	return NewCountVector(b.Size, features), nil
}

func boolBit(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

// atomTypeCode is the atom typing shared by the atom-pair and torsion
// fingerprints: element, heavy degree and aromaticity.
func atomTypeCode(m *Molecule, i int) uint64 {
	a := m.Atoms[i]
	deg := m.Degree(i)
	if deg > 7 {
		deg = 7
	}
	return uint64(AtomicNumber(a.Element))<<4 | uint64(deg)<<1 | boolBit(a.Aromatic)
}

// ─────────────────────────────────────────────────────────────────────────────
// Atom pairs
// ─────────────────────────────────────────────────────────────────────────────

// AtomPairBuilder counts (type, distance, type) triples over all atom pairs
// within MaxDistance bonds, hashed into Size features.
type AtomPairBuilder struct {
	Size        int
	MaxDistance int
}

func (b AtomPairBuilder) Build(m *Molecule) (Fingerprint, error) {
	if err := checkBuildable(m); err != nil {
		return nil, err
	}
	if b.Size < 1 {
		return nil, errors.InvalidParam("invalid atom-pair fingerprint parameters")
	}
	maxDist := b.MaxDistance
	if maxDist < 1 {
		maxDist = 30
	}
	features := make(map[uint32]uint32)
	codes := make([]uint64, m.NumAtoms())
	for i := range codes {
		codes[i] = atomTypeCode(m, i)
	}
	for i := range m.Atoms {
		dist := bfsDistances(m, i)
		for j := i + 1; j < m.NumAtoms(); j++ {
			d := dist[j]
			if d < 1 || d > maxDist {
				continue
			}
			c1, c2 := codes[i], codes[j]
			if c2 < c1 {
				c1, c2 = c2, c1
			}
			features[uint32(hashInts(c1, uint64(d), c2)%uint64(b.Size))]++
		}
	}
	return NewCountVector(b.Size, features), nil
}

// bfsDistances returns topological distances from src; -1 marks
// unreachable atoms.
func bfsDistances(m *Molecule, src int) []int {
	dist := make([]int, m.NumAtoms())
	for i := range dist {
		dist[i] = -1
	}
	dist[src] = 0
	queue := []int{src}
	for len(queue) > 0 {
		at := queue[0]
		queue = queue[1:]
		for _, b := range m.AtomBonds(at) {
			nb := m.Bonds[b].Other(at)
			if dist[nb] < 0 {
				dist[nb] = dist[at] + 1
				queue = append(queue, nb)
			}
		}
	}
	return dist
}

// ─────────────────────────────────────────────────────────────────────────────
// Topological torsions
// ─────────────────────────────────────────────────────────────────────────────

// TorsionBuilder counts four-atom linear paths by atom type, hashed into
// Size features.
type TorsionBuilder struct {
	Size int
}

func (b TorsionBuilder) Build(m *Molecule) (Fingerprint, error) {
	if err := checkBuildable(m); err != nil {
		return nil, err
	}
	if b.Size < 1 {
		return nil, errors.InvalidParam("invalid torsion fingerprint parameters")
	}
	features := make(map[uint32]uint32)
	label := func(i int) string { return strconv.FormatUint(atomTypeCode(m, i), 36) + "." }
	noBond := func(int) string { return "" }
	walkPaths(m, 3, func(atoms, bonds []int) {
		if len(bonds) != 3 {
			return
		}
		key := pathKey(atoms, bonds, label, noBond)
		features[uint32(xxhash.Sum64String(key)%uint64(b.Size))]++
	})
	return NewCountVector(b.Size, features), nil
}
