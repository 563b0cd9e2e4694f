// Package search runs one searchdb invocation: it reads the query molecules,
// narrows the compound table with property and substructure filters, scans
// the fingerprint pool for each probe's nearest neighbors and writes the
// neighbor lists and exported molecules to their sinks.
package search

import (
	"context"
	"io"

	"github.com/GUI0609/rdkit/internal/domain/molecule"
	"github.com/GUI0609/rdkit/internal/infrastructure/database/postgres/repositories"
	"github.com/GUI0609/rdkit/internal/infrastructure/messaging/kafka"
)

// ---------------------------------------------------------------------------
// Port interfaces
// ---------------------------------------------------------------------------

// StructureStream iterates (id, molpkl, screen) rows of the molecule table.
type StructureStream interface {
	Next() bool
	Row() (id string, molPkl, screen []byte, err error)
	Screened() bool
	Err() error
	Close() error
}

// MoleculeStore reads the compound table.
type MoleculeStore interface {
	Count(ctx context.Context, t repositories.MoleculeTable, cond string) (int64, error)
	PropertyQuery(ctx context.Context, t repositories.MoleculeTable, cond string) ([]string, error)
	TableExists(ctx context.Context, schema, table string) (bool, error)
	StreamStructures(ctx context.Context, t repositories.MoleculeTable, q repositories.StructureQuery) (StructureStream, error)
	ExportColumns(ctx context.Context, t repositories.MoleculeTable) ([]string, error)
	ExportMolecules(ctx context.Context, t repositories.MoleculeTable, cols []string, ids []string, fn func(repositories.ExportRecord) error) error
}

// ClosablePool is a fingerprint pool holding database resources.
type ClosablePool interface {
	molecule.Pool
	Close() error
}

// FingerprintStore opens fingerprint pools.  A nil ids scans the whole
// table; an empty non-nil ids yields an empty pool.
type FingerprintStore interface {
	OpenPool(ctx context.Context, t repositories.FingerprintTable, ids []string) (ClosablePool, error)
}

// HitCache memoizes filter hit lists.
type HitCache interface {
	GetOrLoad(ctx context.Context, key string, loader func(ctx context.Context) ([]string, error)) ([]string, bool, error)
}

// ObjectUploader stores finished output files.
type ObjectUploader interface {
	Upload(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
}

// NeighborPublisher publishes neighbor lists.
type NeighborPublisher interface {
	PublishBatch(ctx context.Context, msgs []kafka.Message) (*kafka.BatchResult, error)
}

// ---------------------------------------------------------------------------
// Repository adapters
// ---------------------------------------------------------------------------

type moleculeStore struct {
	*repositories.MoleculeRepository
}

// NewMoleculeStore exposes repo as a MoleculeStore.
func NewMoleculeStore(repo *repositories.MoleculeRepository) MoleculeStore {
	return moleculeStore{repo}
}

func (s moleculeStore) StreamStructures(ctx context.Context, t repositories.MoleculeTable, q repositories.StructureQuery) (StructureStream, error) {
	rows, err := s.MoleculeRepository.StreamStructures(ctx, t, q)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type fingerprintStore struct {
	repo *repositories.FingerprintRepository
}

// NewFingerprintStore exposes repo as a FingerprintStore.
func NewFingerprintStore(repo *repositories.FingerprintRepository) FingerprintStore {
	return fingerprintStore{repo: repo}
}

func (s fingerprintStore) OpenPool(ctx context.Context, t repositories.FingerprintTable, ids []string) (ClosablePool, error) {
	pool, err := s.repo.OpenPool(ctx, t, ids)
	if err != nil {
		return nil, err
	}
	return pool, nil
}
