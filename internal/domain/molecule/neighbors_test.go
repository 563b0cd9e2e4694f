package molecule

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
	"github.com/GUI0609/rdkit/pkg/errors"
)

// pairwiseOnly hides the bulk form of a metric.
type pairwiseOnly struct{ Similarity }

// countingBulk records which entry point the scan used.
type countingBulk struct {
	Tanimoto
	bulkCalls, pairCalls int
}

func (c *countingBulk) Compare(a, b Fingerprint) (float64, error) {
	c.pairCalls++
	return c.Tanimoto.Compare(a, b)
}

func (c *countingBulk) BulkCompare(fp Fingerprint, others []Fingerprint) ([]float64, error) {
	c.bulkCalls++
	return c.Tanimoto.BulkCompare(fp, others)
}

func bits8(on ...int) *BitVector { return BitVectorFromOnBits(8, on...) }

func samplePool() *SlicePool {
	return NewSlicePool(
		PoolEntry{ID: "m1", FP: bits8(0, 1, 2, 3)},
		PoolEntry{ID: "m2", FP: bits8(0, 1)},
		PoolEntry{ID: "m3", FP: bits8(4, 5, 6, 7)},
		PoolEntry{ID: "m4", FP: bits8(0, 1, 2)},
		PoolEntry{ID: "m5", FP: bits8(7)},
	)
}

func TestGetNeighborLists_ProbeWithoutFingerprint(t *testing.T) {
	probes := []Fingerprint{bits8(0, 1, 2, 3), nil}

	accs, err := GetNeighborLists(context.Background(), probes, 2, samplePool(), Tanimoto{})
	require.NoError(t, err)
	require.Len(t, accs, 2)

	assert.Equal(t, 0, accs[1].Len())

	accs[0].Reverse()
	assert.Equal(t, []string{"m1", "m4"}, accs[0].Identifiers())
	assert.Equal(t, []float64{1, 0.75}, accs[0].Scores())
}

func TestGetNeighborLists_PoolSmallerThanTopN(t *testing.T) {
	accs, err := GetNeighborLists(context.Background(), []Fingerprint{bits8(0)}, 20, samplePool(), Dice{})
	require.NoError(t, err)
	require.Len(t, accs, 1)
	assert.Equal(t, 5, accs[0].Len())
	assert.Equal(t, 20, accs[0].Cap())
}

func TestGetNeighborLists_BulkAndPairwiseAgree(t *testing.T) {
	probes := []Fingerprint{bits8(0, 1), bits8(4, 7), bits8(2)}

	bulk, err := GetNeighborLists(context.Background(), probes, 3, samplePool(), Tanimoto{})
	require.NoError(t, err)
	pair, err := GetNeighborLists(context.Background(), probes, 3, samplePool(), pairwiseOnly{Tanimoto{}})
	require.NoError(t, err)

	for i := range probes {
		assert.Equal(t, bulk[i].Items(), pair[i].Items(), "probe %d", i)
	}
}

func TestGetNeighborLists_PrefersBulkForm(t *testing.T) {
	sim := &countingBulk{}
	_, err := GetNeighborLists(context.Background(), []Fingerprint{bits8(0), bits8(1)}, 1, samplePool(), sim)
	require.NoError(t, err)
	assert.Equal(t, 5, sim.bulkCalls)
	assert.Equal(t, 0, sim.pairCalls)
}

func TestGetNeighborLists_DegradedEntriesAreSkipped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	pool := NewSlicePool(
		PoolEntry{ID: "good", FP: bits8(0)},
		PoolEntry{ID: "broken", Err: errors.New(errors.ErrCodeFingerprintDecodeFailed, "bad blob")},
		PoolEntry{ID: "empty"},
		PoolEntry{ID: "wrong-size", FP: BitVectorFromOnBits(16, 0)},
		PoolEntry{ID: "also-good", FP: bits8(0, 1)},
	)
	var stats ScanStats

	accs, err := GetNeighborLists(context.Background(), []Fingerprint{bits8(0)}, 10, pool, Tanimoto{},
		WithLogger(logging.NewLoggerFromCore(core)), WithStats(&stats))
	require.NoError(t, err)

	accs[0].Reverse()
	assert.Equal(t, []string{"good", "also-good"}, accs[0].Identifiers())
	assert.EqualValues(t, 5, stats.Rows)
	assert.EqualValues(t, 3, stats.Degraded)
	assert.Equal(t, 3, logs.Len())
}

// blobPool decodes stored blobs lazily, the way the table-backed pools do.
type blobPool struct {
	ids   []string
	blobs [][]byte
	pos   int
}

func (p *blobPool) Next() bool {
	p.pos++
	return p.pos <= len(p.blobs)
}

func (p *blobPool) Entry() (string, Fingerprint, error) {
	fp, err := DecodeFingerprint(p.blobs[p.pos-1])
	return p.ids[p.pos-1], fp, err
}

func (p *blobPool) Err() error { return nil }

func TestGetNeighborLists_OversizedBitLengthBlobIsSkipped(t *testing.T) {
	valid, err := EncodeFingerprint(bits8(0, 1))
	require.NoError(t, err)
	pool := &blobPool{
		ids:   []string{"corrupt", "valid"},
		blobs: [][]byte{binary.AppendUvarint([]byte{'B'}, ^uint64(0)), valid},
	}
	var stats ScanStats

	accs, err := GetNeighborLists(context.Background(), []Fingerprint{bits8(0)}, 5, pool, Tanimoto{}, WithStats(&stats))
	require.NoError(t, err)
	require.Len(t, accs, 1)
	assert.Equal(t, []string{"valid"}, accs[0].Identifiers())
	assert.EqualValues(t, 2, stats.Rows)
	assert.EqualValues(t, 1, stats.Degraded)
}

func TestGetNeighborLists_ConfigurationErrorsFailBeforeScanning(t *testing.T) {
	pool := samplePool()

	_, err := GetNeighborLists(context.Background(), []Fingerprint{bits8(0)}, 0, pool, Tanimoto{})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))

	_, err = GetNeighborLists(context.Background(), []Fingerprint{bits8(0)}, 5, pool, nil)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))

	assert.Equal(t, -1, pool.pos, "pool must not be read")
}

func TestGetNeighborLists_NoUsableProbes(t *testing.T) {
	pool := samplePool()
	accs, err := GetNeighborLists(context.Background(), []Fingerprint{nil, nil}, 3, pool, Tanimoto{})
	require.NoError(t, err)
	require.Len(t, accs, 2)
	assert.Equal(t, 0, accs[0].Len())
	assert.Equal(t, 0, accs[1].Len())
}

func TestGetNeighborLists_PoolErrorIsFatal(t *testing.T) {
	cause := stderrors.New("connection reset")
	pool := samplePool().FailWith(cause)

	accs, err := GetNeighborLists(context.Background(), []Fingerprint{bits8(0)}, 3, pool, Tanimoto{})
	assert.Nil(t, accs)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSimilaritySearchFailed))
}

func TestGetNeighborLists_CancellationAtProgressCadence(t *testing.T) {
	entries := make([]PoolEntry, 50)
	for i := range entries {
		entries[i] = PoolEntry{ID: strconv.Itoa(i), FP: bits8(i % 8)}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := GetNeighborLists(ctx, []Fingerprint{bits8(0)}, 3, NewSlicePool(entries...), Tanimoto{})
	assert.ErrorIs(t, err, context.Canceled)

	ctx2, cancel2 := context.WithCancel(context.Background())
	pool := &cancellingPool{SlicePool: NewSlicePool(entries...), cancelAt: 12, cancel: cancel2}
	var stats ScanStats
	_, err = GetNeighborLists(ctx2, []Fingerprint{bits8(0)}, 3, pool, Tanimoto{},
		WithProgressInterval(10), WithStats(&stats))
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 20, stats.Rows)
}

func TestGetNeighborLists_ProgressLogging(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	entries := make([]PoolEntry, 25)
	for i := range entries {
		entries[i] = PoolEntry{ID: strconv.Itoa(i), FP: bits8(i % 8)}
	}
	_, err := GetNeighborLists(context.Background(), []Fingerprint{bits8(0)}, 3, NewSlicePool(entries...), Dice{},
		WithLogger(logging.NewLoggerFromCore(core)), WithProgressInterval(10))
	require.NoError(t, err)
	assert.Equal(t, 2, logs.FilterMessage("searching fingerprint pool").Len())
}

type cancellingPool struct {
	*SlicePool
	cancelAt int
	cancel   context.CancelFunc
}

func (p *cancellingPool) Next() bool {
	ok := p.SlicePool.Next()
	if p.pos+1 == p.cancelAt {
		p.cancel()
	}
	return ok
}
