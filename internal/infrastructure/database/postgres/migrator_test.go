package postgres

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GUI0609/rdkit/internal/config"
)

func TestMigrationSource_Embedded(t *testing.T) {
	src, err := MigrationSource()
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	up, ident, err := src.ReadUp(first)
	require.NoError(t, err)
	defer up.Close()
	assert.Equal(t, "create_search_schemas", ident)

	body, err := io.ReadAll(up)
	require.NoError(t, err)
	for _, table := range []string{
		"compounds.molecules", "fingerprints.rdkitfps", "fingerprints.layeredfps",
		"fingerprints.morganfps", "atompairs.atompairs",
	} {
		assert.Contains(t, string(body), table)
	}

	down, _, err := src.ReadDown(first)
	require.NoError(t, err)
	down.Close()
}

func TestMigrator_DownRejectsNonPositiveSteps(t *testing.T) {
	m := NewMigrator(config.NewDefaultConfig().Database, nil)
	err := m.Down(0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "greater than 0")
}
