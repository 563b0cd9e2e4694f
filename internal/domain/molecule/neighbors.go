package molecule

import (
	"context"

	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
	"github.com/GUI0609/rdkit/pkg/errors"
)

// DefaultProgressInterval is the row cadence of progress logging and
// cancellation checks during a scan.
const DefaultProgressInterval = 1000

// Pool is a single-pass stream of candidate fingerprints, consumed in the
// style of database/sql.Rows.
type Pool interface {
	// Next advances to the next entry and reports whether one exists.
	Next() bool
	// Entry returns the current entry.  A non-nil error marks an entry whose
	// fingerprint could not be decoded; the scan skips it.
	Entry() (id string, fp Fingerprint, err error)
	// Err returns the error, if any, that ended iteration early.
	Err() error
}

// PoolEntry is one element of a SlicePool.
type PoolEntry struct {
	ID  string
	FP  Fingerprint
	Err error
}

// SlicePool serves entries from memory.
type SlicePool struct {
	entries []PoolEntry
	pos     int
	err     error
}

// NewSlicePool returns a pool over entries.
func NewSlicePool(entries ...PoolEntry) *SlicePool {
	return &SlicePool{entries: entries, pos: -1}
}

// FailWith makes the pool report err from Err after the entries run out.
func (p *SlicePool) FailWith(err error) *SlicePool {
	p.err = err
	return p
}

func (p *SlicePool) Next() bool {
	p.pos++
	return p.pos < len(p.entries)
}

func (p *SlicePool) Entry() (string, Fingerprint, error) {
	e := p.entries[p.pos]
	return e.ID, e.FP, e.Err
}

func (p *SlicePool) Err() error {
	if p.pos >= len(p.entries) {
		return p.err
	}
	return nil
}

// ScanStats summarises one neighbor scan.
type ScanStats struct {
	Rows     int64
	Degraded int64
}

type scanOptions struct {
	logger   logging.Logger
	interval int
	stats    *ScanStats
}

// ScanOption customises GetNeighborLists.
type ScanOption func(*scanOptions)

// WithLogger routes progress and degraded-entry messages to l.
func WithLogger(l logging.Logger) ScanOption {
	return func(o *scanOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithProgressInterval overrides the logging and cancellation cadence.
func WithProgressInterval(rows int) ScanOption {
	return func(o *scanOptions) {
		if rows > 0 {
			o.interval = rows
		}
	}
}

// WithStats collects row counters into s.
func WithStats(s *ScanStats) ScanOption {
	return func(o *scanOptions) { o.stats = s }
}

// GetNeighborLists scans pool once and returns, for every probe in input
// order, an accumulator holding its topN most similar pool entries in
// ascending score order.
//
// Probes with a nil fingerprint get an empty accumulator.  Pool entries that
// fail to decode or compare are skipped with a warning.  topN < 1 and a nil
// similarity fail before the pool is read.  A cancelled ctx is noticed at the
// progress cadence.
func GetNeighborLists(
	ctx context.Context,
	probes []Fingerprint,
	topN int,
	pool Pool,
	sim Similarity,
	opts ...ScanOption,
) ([]*TopNAccumulator, error) {
	o := scanOptions{logger: logging.NewNopLogger(), interval: DefaultProgressInterval, stats: &ScanStats{}}
	for _, opt := range opts {
		opt(&o)
	}

	if topN < 1 {
		return nil, errors.InvalidParam("top-N capacity must be at least 1")
	}
	if sim == nil {
		return nil, errors.InvalidParam("similarity metric is required")
	}
	if pool == nil {
		return nil, errors.InvalidParam("fingerprint pool is required")
	}

	accs := make([]*TopNAccumulator, len(probes))
	var active []int
	var activeFPs []Fingerprint
	for i, fp := range probes {
		acc, err := NewTopNAccumulator(topN)
		if err != nil {
			return nil, err
		}
		accs[i] = acc
		if fp == nil {
			o.logger.Warn("probe has no fingerprint, skipping", logging.Int("probe", i))
			continue
		}
		active = append(active, i)
		activeFPs = append(activeFPs, fp)
	}
	if len(active) == 0 {
		return accs, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bulkSim, isBulk := sim.(BulkSimilarity)
	scores := make([]float64, len(activeFPs))

	for pool.Next() {
		o.stats.Rows++
		if o.stats.Rows%int64(o.interval) == 0 {
			o.logger.Info("searching fingerprint pool", logging.Int64("rows", o.stats.Rows))
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		id, fp, err := pool.Entry()
		if err == nil && fp == nil {
			err = errors.Degraded("pool entry has no fingerprint")
		}
		if err != nil {
			o.stats.Degraded++
			o.logger.Warn("skipping undecodable pool entry", logging.String("id", id), logging.Err(err))
			continue
		}

		if isBulk {
			var got []float64
			got, err = bulkSim.BulkCompare(fp, activeFPs)
			if err == nil {
				copy(scores, got)
			}
		} else {
			for j, probe := range activeFPs {
				if scores[j], err = sim.Compare(probe, fp); err != nil {
					break
				}
			}
		}
		if err != nil {
			o.stats.Degraded++
			o.logger.Warn("skipping incomparable pool entry", logging.String("id", id), logging.Err(err))
			continue
		}

		for j, s := range scores {
			accs[active[j]].Insert(s, id)
		}
	}

	if err := pool.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSimilaritySearchFailed, "fingerprint pool scan failed")
	}
	o.logger.Debug("fingerprint pool exhausted",
		logging.Int64("rows", o.stats.Rows),
		logging.Int64("degraded", o.stats.Degraded),
		logging.Int("probes", len(active)),
	)
	return accs, nil
}
