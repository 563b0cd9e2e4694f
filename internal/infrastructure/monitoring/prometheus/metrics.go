package prometheus

// SearchMetrics holds the metrics of one searchdb run.
type SearchMetrics struct {
	// Neighbor search
	PoolRowsScanned  CounterVec
	DegradedRows     CounterVec
	ProbesTotal      CounterVec
	NeighborsFound   HistogramVec
	NeighborDuration HistogramVec

	// Filtering
	SubstructureRowsScanned CounterVec
	ScreenedOut             CounterVec
	FilterHits              GaugeVec
	FilterDuration          HistogramVec

	// Infrastructure
	CacheHitsTotal    CounterVec
	CacheMissesTotal  CounterVec
	PublishedMessages CounterVec
	MoleculesExported CounterVec
}

var DefaultNeighborCountBuckets = []float64{0, 1, 5, 10, 20, 50, 100, 500}

// NewSearchMetrics registers every search metric with collector.
func NewSearchMetrics(collector MetricsCollector) *SearchMetrics {
	m := &SearchMetrics{}

	m.PoolRowsScanned = collector.RegisterCounter("pool_rows_scanned_total", "Fingerprint pool rows read", "similarity_type")
	m.DegradedRows = collector.RegisterCounter("degraded_rows_total", "Pool rows skipped as undecodable or incomparable", "similarity_type")
	m.ProbesTotal = collector.RegisterCounter("probes_total", "Query molecules processed", "status")
	m.NeighborsFound = collector.RegisterHistogram("neighbors_per_probe", "Neighbors retained per probe", DefaultNeighborCountBuckets, "similarity_type")
	m.NeighborDuration = collector.RegisterHistogram("neighbor_search_duration_seconds", "Neighbor search duration", nil, "similarity_type")

	m.SubstructureRowsScanned = collector.RegisterCounter("substructure_rows_scanned_total", "Molecules checked by the substructure filter", "query_type")
	m.ScreenedOut = collector.RegisterCounter("screened_out_total", "Molecules rejected by the layered screen", "query_type")
	m.FilterHits = collector.RegisterGauge("filter_hits", "Molecule ids selected by the last filter", "query_type")
	m.FilterDuration = collector.RegisterHistogram("filter_duration_seconds", "Property and substructure filter duration", nil, "query_type")

	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Hit-list cache hits", "query_type")
	m.CacheMissesTotal = collector.RegisterCounter("cache_misses_total", "Hit-list cache misses", "query_type")
	m.PublishedMessages = collector.RegisterCounter("published_messages_total", "Neighbor lists published", "status")
	m.MoleculesExported = collector.RegisterCounter("molecules_exported_total", "Molecules written to SD or SMILES output", "format")

	return m
}

// NewNopSearchMetrics returns metrics that record nothing.
func NewNopSearchMetrics() *SearchMetrics {
	return &SearchMetrics{
		PoolRowsScanned:         noopCounterVec{},
		DegradedRows:            noopCounterVec{},
		ProbesTotal:             noopCounterVec{},
		NeighborsFound:          noopHistogramVec{},
		NeighborDuration:        noopHistogramVec{},
		SubstructureRowsScanned: noopCounterVec{},
		ScreenedOut:             noopCounterVec{},
		FilterHits:              noopGaugeVec{},
		FilterDuration:          noopHistogramVec{},
		CacheHitsTotal:          noopCounterVec{},
		CacheMissesTotal:        noopCounterVec{},
		PublishedMessages:       noopCounterVec{},
		MoleculesExported:       noopCounterVec{},
	}
}

// Helpers

func RecordScan(m *SearchMetrics, simType string, rows, degraded int64) {
	m.PoolRowsScanned.WithLabelValues(simType).Add(float64(rows))
	m.DegradedRows.WithLabelValues(simType).Add(float64(degraded))
}

func RecordCacheAccess(m *SearchMetrics, queryType string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(queryType).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(queryType).Inc()
	}
}

func RecordPublish(m *SearchMetrics, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.PublishedMessages.WithLabelValues(status).Inc()
}
