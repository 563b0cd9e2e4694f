package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GUI0609/rdkit/internal/domain/molecule"
)

// WriteFile writes content to name inside a fresh temporary directory and
// returns the path.
func WriteFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// ReadFile returns the contents of path.
func ReadFile(t testing.TB, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// MustParseSMILES parses smi and names the molecule.
func MustParseSMILES(t testing.TB, smi, name string) *molecule.Molecule {
	t.Helper()
	m, err := molecule.ParseSMILES(smi)
	require.NoError(t, err, smi)
	m.Name = name
	return m
}

// MustBuild fingerprints m with b.
func MustBuild(t testing.TB, b molecule.FingerprintBuilder, m *molecule.Molecule) molecule.Fingerprint {
	t.Helper()
	fp, err := b.Build(m)
	require.NoError(t, err)
	return fp
}

// SDFile renders molecules as an SD file.  props, when given, holds the
// data fields of each molecule; they are written in name order.
func SDFile(t testing.TB, mols []*molecule.Molecule, props []map[string]string) string {
	t.Helper()
	var out bytes.Buffer
	for i, m := range mols {
		var fields []string
		var values map[string]string
		if i < len(props) {
			values = props[i]
			for k := range values {
				fields = append(fields, k)
			}
			sort.Strings(fields)
		}
		require.NoError(t, molecule.WriteSDRecord(&out, molecule.WriteMolBlock(m), fields, values))
	}
	return out.String()
}
