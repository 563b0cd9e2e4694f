package search

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/GUI0609/rdkit/internal/domain/molecule"
	"github.com/GUI0609/rdkit/internal/infrastructure/database/postgres/repositories"
	"github.com/GUI0609/rdkit/internal/infrastructure/messaging/kafka"
)

// ---------------------------------------------------------------------------
// Molecule store
// ---------------------------------------------------------------------------

type structureRow struct {
	id     string
	pkl    []byte
	screen []byte
	err    error
}

type mockStructureStream struct {
	rows     []structureRow
	pos      int
	screened bool
	err      error
	closed   bool
}

func (m *mockStructureStream) Next() bool {
	if m.pos >= len(m.rows) {
		return false
	}
	m.pos++
	return true
}

func (m *mockStructureStream) Row() (string, []byte, []byte, error) {
	r := m.rows[m.pos-1]
	return r.id, r.pkl, r.screen, r.err
}

func (m *mockStructureStream) Screened() bool { return m.screened }
func (m *mockStructureStream) Err() error     { return m.err }
func (m *mockStructureStream) Close() error   { m.closed = true; return nil }

type mockMoleculeStore struct {
	countFn         func(ctx context.Context, t repositories.MoleculeTable, cond string) (int64, error)
	propertyQueryFn func(ctx context.Context, t repositories.MoleculeTable, cond string) ([]string, error)
	tableExistsFn   func(ctx context.Context, schema, table string) (bool, error)
	streamFn        func(ctx context.Context, t repositories.MoleculeTable, q repositories.StructureQuery) (StructureStream, error)
	exportColumnsFn func(ctx context.Context, t repositories.MoleculeTable) ([]string, error)
	exportFn        func(ctx context.Context, t repositories.MoleculeTable, cols []string, ids []string, fn func(repositories.ExportRecord) error) error

	tableExistsCalls int
	streamQueries    []repositories.StructureQuery
	exportedIDs      []string
}

func (m *mockMoleculeStore) Count(ctx context.Context, t repositories.MoleculeTable, cond string) (int64, error) {
	if m.countFn != nil {
		return m.countFn(ctx, t, cond)
	}
	return 0, nil
}

func (m *mockMoleculeStore) PropertyQuery(ctx context.Context, t repositories.MoleculeTable, cond string) ([]string, error) {
	if m.propertyQueryFn != nil {
		return m.propertyQueryFn(ctx, t, cond)
	}
	return []string{}, nil
}

func (m *mockMoleculeStore) TableExists(ctx context.Context, schema, table string) (bool, error) {
	m.tableExistsCalls++
	if m.tableExistsFn != nil {
		return m.tableExistsFn(ctx, schema, table)
	}
	return false, nil
}

func (m *mockMoleculeStore) StreamStructures(ctx context.Context, t repositories.MoleculeTable, q repositories.StructureQuery) (StructureStream, error) {
	m.streamQueries = append(m.streamQueries, q)
	if m.streamFn != nil {
		return m.streamFn(ctx, t, q)
	}
	return &mockStructureStream{screened: q.Screen != nil}, nil
}

func (m *mockMoleculeStore) ExportColumns(ctx context.Context, t repositories.MoleculeTable) ([]string, error) {
	if m.exportColumnsFn != nil {
		return m.exportColumnsFn(ctx, t)
	}
	return []string{t.IDColumn, repositories.MolPklColumn}, nil
}

func (m *mockMoleculeStore) ExportMolecules(ctx context.Context, t repositories.MoleculeTable, cols []string, ids []string, fn func(repositories.ExportRecord) error) error {
	m.exportedIDs = append(m.exportedIDs, ids...)
	if m.exportFn != nil {
		return m.exportFn(ctx, t, cols, ids, fn)
	}
	return nil
}

// exportFrom serves ExportMolecules from a fixed set of records.
func exportFrom(records map[string]repositories.ExportRecord) func(context.Context, repositories.MoleculeTable, []string, []string, func(repositories.ExportRecord) error) error {
	return func(_ context.Context, _ repositories.MoleculeTable, _ []string, ids []string, fn func(repositories.ExportRecord) error) error {
		for _, id := range ids {
			rec, ok := records[id]
			if !ok {
				continue
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	}
}

// ---------------------------------------------------------------------------
// Fingerprint store
// ---------------------------------------------------------------------------

type closingPool struct {
	*molecule.SlicePool
	closed bool
}

func (p *closingPool) Close() error { p.closed = true; return nil }

type mockFingerprintStore struct {
	entries []molecule.PoolEntry
	openErr error

	opened   bool
	table    repositories.FingerprintTable
	ids      []string
	lastPool *closingPool
}

// OpenPool serves the configured entries, restricted to ids like the
// repository does.
func (m *mockFingerprintStore) OpenPool(_ context.Context, t repositories.FingerprintTable, ids []string) (ClosablePool, error) {
	m.opened, m.table, m.ids = true, t, ids
	if m.openErr != nil {
		return nil, m.openErr
	}
	entries := m.entries
	if ids != nil {
		keep := make(map[string]bool, len(ids))
		for _, id := range ids {
			keep[id] = true
		}
		entries = nil
		for _, e := range m.entries {
			if keep[e.ID] {
				entries = append(entries, e)
			}
		}
	}
	m.lastPool = &closingPool{SlicePool: molecule.NewSlicePool(entries...)}
	return m.lastPool, nil
}

// ---------------------------------------------------------------------------
// Cache, uploader, publisher
// ---------------------------------------------------------------------------

type mockHitCache struct {
	mu     sync.Mutex
	values map[string][]string
	keys   []string
}

func newMockHitCache() *mockHitCache {
	return &mockHitCache{values: make(map[string][]string)}
}

func (m *mockHitCache) GetOrLoad(ctx context.Context, key string, loader func(ctx context.Context) ([]string, error)) ([]string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	if v, ok := m.values[key]; ok {
		return v, true, nil
	}
	v, err := loader(ctx)
	if err != nil {
		return nil, false, err
	}
	m.values[key] = v
	return v, false, nil
}

type uploadedObject struct {
	bucket, key, contentType string
	body                     string
}

type mockUploader struct {
	uploads []uploadedObject
	err     error
}

func (m *mockUploader) Upload(_ context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	if m.err != nil {
		return m.err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	if int64(buf.Len()) != size {
		return io.ErrShortWrite
	}
	m.uploads = append(m.uploads, uploadedObject{bucket: bucket, key: key, contentType: contentType, body: buf.String()})
	return nil
}

type mockPublisher struct {
	publishFn func(ctx context.Context, msgs []kafka.Message) (*kafka.BatchResult, error)
	messages  []kafka.Message
}

func (m *mockPublisher) PublishBatch(ctx context.Context, msgs []kafka.Message) (*kafka.BatchResult, error) {
	m.messages = append(m.messages, msgs...)
	if m.publishFn != nil {
		return m.publishFn(ctx, msgs)
	}
	return &kafka.BatchResult{Succeeded: len(msgs)}, nil
}
