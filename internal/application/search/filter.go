package search

import (
	"context"
	"strconv"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/GUI0609/rdkit/internal/domain/molecule"
	"github.com/GUI0609/rdkit/internal/infrastructure/database/postgres/repositories"
	"github.com/GUI0609/rdkit/internal/infrastructure/database/redis"
	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/prometheus"
	"github.com/GUI0609/rdkit/pkg/errors"
)

// Filter kinds, used as metric labels and cache key namespaces.
const (
	QueryTypeSubstructure = "substructure"
	QueryTypeProperty     = "property"
)

const substructureProgressInterval = 500

// FilterStats summarizes a substructure scan.
type FilterStats struct {
	Total       int64
	Checked     int64
	ScreenedOut int64
	Degraded    int64
	Screened    bool
}

// structureQuery is a parsed substructure query.
type structureQuery struct {
	text    string
	smarts  bool
	mol     *molecule.Molecule
	matcher molecule.SubstructureMatcher
}

// parseStructureQuery builds the query molecule from the SMILES or SMARTS
// option.  It returns nil when neither is set.
func parseStructureQuery(smiles, smarts string) (*structureQuery, error) {
	var (
		q   = &structureQuery{}
		err error
	)
	switch {
	case smiles != "":
		q.text = smiles
		q.mol, err = molecule.ParseSMILES(smiles)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeMoleculeInvalidSMILES, "could not build query molecule from smiles").WithDetail(smiles)
		}
	case smarts != "":
		q.text, q.smarts = smarts, true
		q.mol, err = molecule.ParseSMARTS(smarts)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeMoleculeInvalidSMILES, "could not build query molecule from smarts").WithDetail(smarts)
		}
	default:
		return nil, nil
	}
	matcher, err := molecule.NewQueryMatcher(q.mol)
	if err != nil {
		return nil, err
	}
	q.matcher = matcher
	return q, nil
}

func (s *serviceImpl) molTable() repositories.MoleculeTable {
	return repositories.MoleculeTable{
		Schema:   s.opts.MolDBName,
		Table:    s.opts.MolTableName,
		IDColumn: s.opts.MolIDName,
	}
}

// runFilters applies the substructure or property filter.  filtered is false
// when neither is configured, in which case ids is nil.
func (s *serviceImpl) runFilters(ctx context.Context, q *structureQuery) (ids []string, filtered bool, err error) {
	switch {
	case q != nil:
		ids, err = s.cached(ctx, QueryTypeSubstructure, func(ctx context.Context) ([]string, error) {
			ids, _, err := s.substructureFilter(ctx, q)
			return ids, err
		}, q.text, strconv.FormatBool(q.smarts), strconv.FormatBool(s.opts.NegateQuery), s.opts.PropQuery,
			strconv.FormatBool(s.opts.ZipMols))
	case s.opts.PropQuery != "":
		s.logger.Info("doing property query")
		ids, err = s.cached(ctx, QueryTypeProperty, func(ctx context.Context) ([]string, error) {
			timer := prometheus.NewTimer(s.metrics.FilterDuration.WithLabelValues(QueryTypeProperty))
			defer timer.ObserveDuration()
			return s.molecules.PropertyQuery(ctx, s.molTable(), s.opts.PropQuery)
		}, s.opts.PropQuery)
	default:
		return nil, false, nil
	}
	if err != nil {
		return nil, true, err
	}
	s.logger.Info("found molecules matching the query", logging.Int("count", len(ids)))
	return ids, true, nil
}

// cached runs load through the hit-list cache when one is configured.
func (s *serviceImpl) cached(ctx context.Context, kind string, load func(context.Context) ([]string, error), parts ...string) ([]string, error) {
	var (
		ids []string
		err error
	)
	if s.cache == nil || !s.opts.Cache {
		ids, err = load(ctx)
	} else {
		t := s.molTable()
		key := redis.HitListKey(kind, append([]string{t.Schema, t.Table, t.IDColumn}, parts...)...)
		var hit bool
		ids, hit, err = s.cache.GetOrLoad(ctx, key, load)
		if err == nil {
			prometheus.RecordCacheAccess(s.metrics, kind, hit)
			if hit {
				s.logger.Debug("hit list served from cache", logging.String("key", key), logging.Int("count", len(ids)))
			}
		}
	}
	if err != nil {
		return nil, err
	}
	s.metrics.FilterHits.WithLabelValues(kind).Set(float64(len(ids)))
	return ids, nil
}

// substructureFilter streams the molecule table and keeps the ids whose
// structure matches q (or does not, when negating).  The layered screen is
// used when its table exists and the query is not negated.
func (s *serviceImpl) substructureFilter(ctx context.Context, q *structureQuery) ([]string, FilterStats, error) {
	s.logger.Info("doing substructure query", logging.String("query", q.text), logging.Bool("negate", s.opts.NegateQuery))
	timer := prometheus.NewTimer(s.metrics.FilterDuration.WithLabelValues(QueryTypeSubstructure))
	defer timer.ObserveDuration()

	var stats FilterStats
	t := s.molTable()
	if !s.opts.Silent {
		n, err := s.molecules.Count(ctx, t, s.opts.PropQuery)
		if err != nil {
			return nil, stats, err
		}
		stats.Total = n
	}

	sq := repositories.StructureQuery{Cond: s.opts.PropQuery}
	queryScreen := s.screenQuery(ctx, q)
	if queryScreen != nil {
		sq.Screen = &repositories.ScreenTable{Schema: s.opts.FpDBName, Table: s.opts.LayeredTableName}
	}

	rows, err := s.molecules.StreamStructures(ctx, t, sq)
	if err != nil {
		return nil, stats, err
	}
	defer rows.Close()
	stats.Screened = rows.Screened()

	ids := make([]string, 0)
	var seen int64
	for rows.Next() {
		seen++
		if seen%substructureProgressInterval == 0 {
			s.logSubstructureProgress(seen, stats, len(ids))
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
		}

		id, pkl, screen, rowErr := rows.Row()
		if rowErr != nil {
			stats.Degraded++
			s.logger.Warn("skipping unreadable molecule row", logging.String("id", id), logging.Err(rowErr))
			continue
		}
		if stats.Screened && queryScreen != nil {
			bm, derr := molecule.DecodeScreen(screen)
			if derr == nil && !molecule.ScreenPasses(bm, queryScreen) {
				stats.ScreenedOut++
				continue
			}
		}
		m, derr := DecodeMolPkl(pkl, s.opts.ZipMols)
		if derr != nil {
			stats.Degraded++
			s.logger.Warn("skipping undecodable molecule", logging.String("id", id), logging.Err(derr))
			continue
		}
		stats.Checked++
		matched := q.matcher.Match(m)
		if s.opts.NegateQuery {
			matched = !matched
		}
		if matched {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, stats, errors.Wrap(err, errors.ErrCodeSubstructureSearchFailed, "molecule scan failed")
	}

	s.metrics.SubstructureRowsScanned.WithLabelValues(QueryTypeSubstructure).Add(float64(seen))
	s.metrics.ScreenedOut.WithLabelValues(QueryTypeSubstructure).Add(float64(stats.ScreenedOut))
	if stats.Screened && stats.Total > 0 {
		filtered := stats.ScreenedOut
		s.logger.Info("fingerprint screenout rate",
			logging.Int64("filtered", filtered),
			logging.Int64("total", stats.Total),
			logging.Float64("percent", 100*float64(filtered)/float64(stats.Total)))
	}
	return ids, stats, nil
}

// screenQuery returns the query's screen bitmap, or nil when the layered
// table should not be joined.
func (s *serviceImpl) screenQuery(ctx context.Context, q *structureQuery) *roaring.Bitmap {
	if s.opts.NegateQuery || s.opts.LayeredTableName == "" {
		return nil
	}
	ok, err := s.molecules.TableExists(ctx, s.opts.FpDBName, s.opts.LayeredTableName)
	if err != nil {
		s.logger.Warn("could not look up layered fingerprint table", logging.Err(err))
		return nil
	}
	if !ok {
		return nil
	}
	b := molecule.ScreenBuilder{MaxPath: s.fpCfg.LayeredMaxPath, NumBits: s.fpCfg.LayeredNumBits}
	return b.Screen(q.mol)
}

func (s *serviceImpl) logSubstructureProgress(seen int64, stats FilterStats, hits int) {
	if stats.Screened || stats.Total == 0 {
		s.logger.Info("searched through molecules", logging.Int64("searched", seen), logging.Int("hits", hits))
		return
	}
	s.logger.Info("searched molecules",
		logging.Int64("searched", seen), logging.Int64("of", stats.Total), logging.Int("hits", hits))
}
