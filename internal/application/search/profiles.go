package search

import (
	"github.com/GUI0609/rdkit/internal/config"
	"github.com/GUI0609/rdkit/internal/domain/molecule"
	"github.com/GUI0609/rdkit/internal/infrastructure/database/postgres/repositories"
	"github.com/GUI0609/rdkit/pkg/errors"
)

// Similarity types.
const (
	TypeAtomPairs           = "AtomPairs"
	TypeTopologicalTorsions = "TopologicalTorsions"
	TypeRDK                 = "RDK"
	TypePharm2D             = "Pharm2D"
	TypeGobbi2D             = "Gobbi2D"
	TypeMorgan              = "Morgan"
)

const defaultRDKColumn = "rdkfp"

// Profile ties a similarity type to its fingerprint builder, metric and
// pool table.
type Profile struct {
	Type       string
	Builder    molecule.FingerprintBuilder
	Similarity molecule.Similarity
	Table      repositories.FingerprintTable
}

// ResolveProfile builds the profile selected by opts.SimilarityType.
// Pharmacophore types are recognized but have no builder.
func ResolveProfile(opts config.SearchConfig, fps config.FingerprintConfig) (*Profile, error) {
	idCol := opts.MolIDName
	switch opts.SimilarityType {
	case TypeAtomPairs:
		return &Profile{
			Type:       TypeAtomPairs,
			Builder:    molecule.AtomPairBuilder{Size: fps.CountSize, MaxDistance: fps.AtomPairMaxDist},
			Similarity: molecule.Dice{},
			Table:      repositories.FingerprintTable{Schema: opts.PairDBName, Table: opts.PairTableName, IDColumn: idCol, FPColumn: opts.PairColName},
		}, nil
	case TypeTopologicalTorsions:
		return &Profile{
			Type:       TypeTopologicalTorsions,
			Builder:    molecule.TorsionBuilder{Size: fps.CountSize},
			Similarity: molecule.Dice{},
			Table:      repositories.FingerprintTable{Schema: opts.TorsionsDBName, Table: opts.TorsionsTableName, IDColumn: idCol, FPColumn: opts.TorsionsColName},
		}, nil
	case TypeRDK:
		col := opts.FpColName
		if col == "" {
			col = defaultRDKColumn
		}
		return &Profile{
			Type:       TypeRDK,
			Builder:    molecule.RDKBuilder{MinPath: fps.RDKMinPath, MaxPath: fps.RDKMaxPath, NumBits: fps.RDKNumBits},
			Similarity: molecule.FoldedTanimoto{},
			Table:      repositories.FingerprintTable{Schema: opts.FpDBName, Table: opts.FpTableName, IDColumn: idCol, FPColumn: col},
		}, nil
	case TypeMorgan:
		return &Profile{
			Type:       TypeMorgan,
			Builder:    molecule.MorganBuilder{Radius: fps.MorganRadius, Size: fps.CountSize},
			Similarity: molecule.Dice{},
			Table:      repositories.FingerprintTable{Schema: opts.MorganFpDBName, Table: opts.MorganFpTableName, IDColumn: idCol, FPColumn: opts.MorganFpColName},
		}, nil
	case TypePharm2D, TypeGobbi2D:
		return nil, errors.New(errors.ErrCodeFingerprintTypeUnsupported, "pharmacophore fingerprints are not available").
			WithDetail(opts.SimilarityType)
	default:
		return nil, errors.InvalidParam("unknown similarity type: " + opts.SimilarityType)
	}
}
