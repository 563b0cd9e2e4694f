package search

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/GUI0609/rdkit/internal/config"
	"github.com/GUI0609/rdkit/internal/domain/molecule"
	"github.com/GUI0609/rdkit/internal/infrastructure/messaging/kafka"
	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/prometheus"
	"github.com/GUI0609/rdkit/pkg/errors"
)

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Request is one search invocation.
type Request struct {
	// QueryFile holds the probe molecules; empty for a pure filter run.
	QueryFile string
}

// Result summarizes a completed run.
type Result struct {
	RunID     string
	Probes    int
	Neighbors []NeighborList
	// FilterIDs holds the filter hits; Filtered is false when no filter ran.
	FilterIDs []string
	Filtered  bool
	Exported  int
	Scan      molecule.ScanStats
	Published int
	Duration  time.Duration
}

// NeighborMessage is the published form of a neighbor list.
type NeighborMessage struct {
	RunID          string                `json:"run_id"`
	Probe          string                `json:"probe"`
	Index          int                   `json:"index"`
	SimilarityType string                `json:"similarity_type"`
	Neighbors      []molecule.ScoredItem `json:"neighbors"`
}

// ---------------------------------------------------------------------------
// Service interface
// ---------------------------------------------------------------------------

// Service runs searches.
type Service interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// ---------------------------------------------------------------------------
// Dependencies
// ---------------------------------------------------------------------------

// Deps holds everything a Service needs.  Cache, Uploader and Publisher are
// optional.
type Deps struct {
	Options      config.SearchConfig
	Fingerprints config.FingerprintConfig

	Molecules MoleculeStore
	Pools     FingerprintStore
	Cache     HitCache
	Uploader  ObjectUploader
	Publisher NeighborPublisher

	Metrics *prometheus.SearchMetrics
	Logger  logging.Logger
	Stdout  io.Writer
}

// ---------------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------------

type serviceImpl struct {
	opts      config.SearchConfig
	fpCfg     config.FingerprintConfig
	molecules MoleculeStore
	pools     FingerprintStore
	cache     HitCache
	uploader  ObjectUploader
	publisher NeighborPublisher
	metrics   *prometheus.SearchMetrics
	logger    logging.Logger
	stdout    io.Writer
}

// NewService creates a search Service.
func NewService(deps Deps) (Service, error) {
	if deps.Molecules == nil {
		return nil, errors.InvalidParam("molecule store is required")
	}
	if deps.Pools == nil {
		return nil, errors.InvalidParam("fingerprint store is required")
	}
	if deps.Options.TopN < 1 {
		return nil, errors.InvalidParam("top_n must be at least 1")
	}
	s := &serviceImpl{
		opts:      deps.Options,
		fpCfg:     deps.Fingerprints,
		molecules: deps.Molecules,
		pools:     deps.Pools,
		cache:     deps.Cache,
		uploader:  deps.Uploader,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		stdout:    deps.Stdout,
	}
	if s.metrics == nil {
		s.metrics = prometheus.NewNopSearchMetrics()
	}
	if s.logger == nil {
		s.logger = logging.NewNopLogger()
	}
	if s.stdout == nil {
		s.stdout = os.Stdout
	}
	return s, nil
}

func (s *serviceImpl) Run(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	opts := s.opts
	if req.QueryFile == "" && opts.SmilesQuery == "" && opts.SmartsQuery == "" && opts.PropQuery == "" {
		return nil, errors.InvalidParam("a query file or a smiles, smarts or property query is required")
	}
	res = &Result{RunID: uuid.NewString()}
	log := s.logger.With(logging.String("run_id", res.RunID))

	var profile *Profile
	if req.QueryFile != "" {
		if profile, err = ResolveProfile(opts, s.fpCfg); err != nil {
			return nil, err
		}
	}
	q, err := parseStructureQuery(opts.SmilesQuery, opts.SmartsQuery)
	if err != nil {
		return nil, err
	}

	sinks := newSinkSet(s.stdout, s.uploader, log)
	defer func() {
		if cerr := sinks.CloseAll(ctx); cerr != nil && err == nil {
			res, err = nil, cerr
		}
	}()
	out, err := sinks.Open(opts.OutFile, contentTypeText)
	if err != nil {
		return nil, err
	}
	sdfOut, err := sinks.Open(opts.SDFOut, contentTypeSDF)
	if err != nil {
		return nil, err
	}
	smiOut, err := sinks.Open(opts.SmilesOut, contentTypeText)
	if err != nil {
		return nil, err
	}

	var probes []Probe
	if req.QueryFile != "" {
		if probes, err = s.readProbes(req.QueryFile, profile, log); err != nil {
			return nil, err
		}
		res.Probes = len(probes)
	}

	res.FilterIDs, res.Filtered, err = s.runFilters(ctx, q)
	if err != nil {
		return nil, err
	}

	exportIDs := res.FilterIDs
	if len(probes) > 0 {
		res.Neighbors, res.Scan, err = s.findNeighbors(ctx, probes, profile, res.FilterIDs, res.Filtered, log)
		if err != nil {
			return nil, err
		}
		log.Info("creating output")
		if out != nil {
			if err = WriteNeighborLists(out, res.Neighbors, opts.OutputDelim, opts.Transpose); err != nil {
				return nil, err
			}
		}
		if s.publisher != nil {
			res.Published = s.publish(ctx, res.RunID, profile.Type, res.Neighbors, log)
		}
		exportIDs = neighborIDs(res.Neighbors)
	} else {
		log.Info("creating output")
		if out != nil {
			if err = WriteIDs(out, res.FilterIDs); err != nil {
				return nil, err
			}
		}
	}

	if res.Exported, err = s.exportMolecules(ctx, exportIDs, writerOf(sdfOut), writerOf(smiOut)); err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	log.Info("done", logging.Duration("took", res.Duration))
	return res, nil
}

func writerOf(s *Sink) io.Writer {
	if s == nil {
		return nil
	}
	return s
}

func (s *serviceImpl) readProbes(path string, profile *Profile, log logging.Logger) ([]Probe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeQueryFileError, "could not open query file").WithDetail(path)
	}
	defer f.Close()

	log.Info("reading query molecules and generating fingerprints", logging.String("file", path))
	probes, err := ReadProbes(f, s.opts.MolFormat, s.opts.NameProp, profile.Builder, log)
	if err != nil {
		return nil, err
	}
	for _, p := range probes {
		status := "ok"
		if p.FP == nil {
			status = "degraded"
		}
		s.metrics.ProbesTotal.WithLabelValues(status).Inc()
	}
	return probes, nil
}

// findNeighbors scans the profile's pool, restricted to ids when filtered.
func (s *serviceImpl) findNeighbors(ctx context.Context, probes []Probe, profile *Profile, ids []string, filtered bool,
	log logging.Logger) ([]NeighborList, molecule.ScanStats, error) {
	var stats molecule.ScanStats
	log.Info("finding neighbors", logging.String("pool", profile.Table.String()), logging.Int("probes", len(probes)))
	timer := prometheus.NewTimer(s.metrics.NeighborDuration.WithLabelValues(profile.Type))

	var restrict []string
	if filtered {
		restrict = ids
		if restrict == nil {
			restrict = []string{}
		}
	}
	pool, err := s.pools.OpenPool(ctx, profile.Table, restrict)
	if err != nil {
		return nil, stats, err
	}
	defer pool.Close()

	accs, err := molecule.GetNeighborLists(ctx, probeFingerprints(probes), s.opts.TopN, pool, profile.Similarity,
		molecule.WithLogger(log), molecule.WithStats(&stats))
	if err != nil {
		return nil, stats, err
	}
	prometheus.RecordScan(s.metrics, profile.Type, stats.Rows, stats.Degraded)

	lists := make([]NeighborList, len(probes))
	for i, acc := range accs {
		acc.Reverse()
		lists[i] = NeighborList{Index: i, Probe: probes[i].Name, Neighbors: acc.Items()}
		s.metrics.NeighborsFound.WithLabelValues(profile.Type).Observe(float64(acc.Len()))
	}
	took := timer.ObserveDuration()
	log.Info("neighbor search finished", logging.Duration("took", took), logging.Int64("rows", stats.Rows))
	return lists, stats, nil
}

// publish sends each neighbor list to the publisher, keyed by probe name.
// Failures are logged and counted; they do not fail the run.
func (s *serviceImpl) publish(ctx context.Context, runID, simType string, lists []NeighborList, log logging.Logger) int {
	msgs := make([]kafka.Message, 0, len(lists))
	for _, l := range lists {
		value, err := json.Marshal(NeighborMessage{
			RunID:          runID,
			Probe:          l.Probe,
			Index:          l.Index,
			SimilarityType: simType,
			Neighbors:      l.Neighbors,
		})
		if err != nil {
			log.Warn("failed to encode neighbor list", logging.String("probe", l.Probe), logging.Err(err))
			prometheus.RecordPublish(s.metrics, err)
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(l.Probe),
			Value:   value,
			Headers: map[string]string{"run_id": runID},
		})
	}
	result, err := s.publisher.PublishBatch(ctx, msgs)
	if result == nil {
		log.Warn("failed to publish neighbor lists", logging.Err(err))
		for range msgs {
			prometheus.RecordPublish(s.metrics, err)
		}
		return 0
	}
	for i := 0; i < result.Succeeded; i++ {
		prometheus.RecordPublish(s.metrics, nil)
	}
	for _, item := range result.Errors {
		log.Warn("failed to publish neighbor list", logging.Int("index", item.Index), logging.Err(item.Error))
		prometheus.RecordPublish(s.metrics, item.Error)
	}
	return result.Succeeded
}
