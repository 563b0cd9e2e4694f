package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GUI0609/rdkit/internal/config"
	"github.com/GUI0609/rdkit/internal/domain/molecule"
	"github.com/GUI0609/rdkit/pkg/errors"
)

func TestResolveProfile(t *testing.T) {
	cfg := config.NewDefaultConfig()

	tests := []struct {
		simType string
		metric  string
		schema  string
		table   string
		column  string
	}{
		{TypeAtomPairs, molecule.MetricDice, "atompairs", "atompairs", "atompairfp"},
		{TypeTopologicalTorsions, molecule.MetricDice, "atompairs", "atompairs", "torsionfp"},
		{TypeRDK, molecule.MetricFingerprint, "fingerprints", "rdkitfps", "rdkfp"},
		{TypeMorgan, molecule.MetricDice, "fingerprints", "morganfps", "morganfp"},
	}
	for _, tt := range tests {
		t.Run(tt.simType, func(t *testing.T) {
			opts := cfg.Search
			opts.SimilarityType = tt.simType
			p, err := ResolveProfile(opts, cfg.Fingerprints)
			require.NoError(t, err)
			assert.Equal(t, tt.simType, p.Type)
			assert.Equal(t, tt.metric, p.Similarity.Name())
			assert.Equal(t, tt.schema, p.Table.Schema)
			assert.Equal(t, tt.table, p.Table.Table)
			assert.Equal(t, tt.column, p.Table.FPColumn)
			assert.Equal(t, "compound_id", p.Table.IDColumn)
			assert.NotNil(t, p.Builder)
		})
	}
}

func TestResolveProfile_RDKColumnOverride(t *testing.T) {
	cfg := config.NewDefaultConfig()
	opts := cfg.Search
	opts.FpColName = "pathfp"
	p, err := ResolveProfile(opts, cfg.Fingerprints)
	require.NoError(t, err)
	assert.Equal(t, "pathfp", p.Table.FPColumn)
}

func TestResolveProfile_PharmacophoresUnsupported(t *testing.T) {
	cfg := config.NewDefaultConfig()
	for _, simType := range []string{TypePharm2D, TypeGobbi2D} {
		opts := cfg.Search
		opts.SimilarityType = simType
		_, err := ResolveProfile(opts, cfg.Fingerprints)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeFingerprintTypeUnsupported), simType)
		assert.Equal(t, 2, errors.ExitCode(err))
	}
}

func TestResolveProfile_Unknown(t *testing.T) {
	cfg := config.NewDefaultConfig()
	opts := cfg.Search
	opts.SimilarityType = "MACCS"
	_, err := ResolveProfile(opts, cfg.Fingerprints)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}
