package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AliasMetrics contains Prometheus metrics for the alias index
type AliasMetrics struct {
	registry *prometheus.Registry

	queriesTotal  *prometheus.CounterVec
	queryDuration prometheus.Histogram

	aliasAddsTotal *prometheus.CounterVec

	flushesTotal    *prometheus.CounterVec
	flushDuration   prometheus.Histogram
	flushBatchSize  prometheus.Histogram
	pendingGauge    prometheus.Gauge
	recordsGauge    prometheus.Gauge
	generationGauge prometheus.Gauge

	loadsTotal          *prometheus.CounterVec
	loadDuration        prometheus.Histogram
	cacheRebuildsTotal  *prometheus.CounterVec
	masterReloadsTotal  *prometheus.CounterVec
	catalogSpeciesGauge prometheus.Gauge

	collectors []prometheus.Collector
}

// NewAliasMetrics creates and registers new alias index metrics
func NewAliasMetrics(registry *prometheus.Registry) (*AliasMetrics, error) {
	m := &AliasMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *AliasMetrics) initMetrics() {
	m.queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldalias_queries_total",
			Help: "Total number of token queries by best match kind",
		},
		[]string{"kind"}, // exact, phonetic, signature, miss
	)

	m.queryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fieldalias_query_duration_seconds",
		Help:    "Time taken to resolve a token",
		Buckets: prometheus.ExponentialBuckets(BucketStart10us, BucketFactor2, BucketCount15),
	})

	m.aliasAddsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldalias_alias_adds_total",
			Help: "Total number of alias additions by result",
		},
		[]string{"result"}, // added, blank, duplicate, conflict
	)

	m.flushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldalias_flushes_total",
			Help: "Total number of write-behind flushes",
		},
		[]string{"status"},
	)

	m.flushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fieldalias_flush_duration_seconds",
		Help:    "Time taken to persist a write-behind batch",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
	})

	m.flushBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fieldalias_flush_batch_size",
		Help:    "Number of aliases per write-behind batch",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
	})

	m.pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fieldalias_pending_aliases",
		Help: "Number of taught aliases not yet persisted",
	})

	m.recordsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fieldalias_index_records",
		Help: "Number of alias records in the in-memory index",
	})

	m.generationGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fieldalias_index_generation",
		Help: "Change counter of the in-memory index",
	})

	m.loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldalias_index_loads_total",
			Help: "Total number of index loads by origin and outcome",
		},
		[]string{"origin", "outcome"},
	)

	m.loadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fieldalias_index_load_duration_seconds",
		Help:    "Time taken to load or seed the index",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
	})

	m.cacheRebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldalias_cache_rebuilds_total",
			Help: "Total number of binary cache rebuilds",
		},
		[]string{"status"},
	)

	m.masterReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldalias_master_reloads_total",
			Help: "Total number of reloads triggered by external master edits",
		},
		[]string{"status"},
	)

	m.catalogSpeciesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fieldalias_catalog_species",
		Help: "Number of species in the seed catalog",
	})

	m.collectors = []prometheus.Collector{
		m.queriesTotal,
		m.queryDuration,
		m.aliasAddsTotal,
		m.flushesTotal,
		m.flushDuration,
		m.flushBatchSize,
		m.pendingGauge,
		m.recordsGauge,
		m.generationGauge,
		m.loadsTotal,
		m.loadDuration,
		m.cacheRebuildsTotal,
		m.masterReloadsTotal,
		m.catalogSpeciesGauge,
	}
}

// Describe implements the Collector interface
func (m *AliasMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *AliasMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordQuery records a resolved token and its duration in seconds
func (m *AliasMetrics) RecordQuery(kind string, duration float64) {
	m.queriesTotal.WithLabelValues(kind).Inc()
	m.queryDuration.Observe(duration)
}

// RecordAliasAdd records the result of an alias addition
func (m *AliasMetrics) RecordAliasAdd(result string) {
	m.aliasAddsTotal.WithLabelValues(result).Inc()
}

// RecordFlush records a write-behind flush
func (m *AliasMetrics) RecordFlush(status string, batchSize int, duration float64) {
	m.flushesTotal.WithLabelValues(status).Inc()
	m.flushDuration.Observe(duration)
	m.flushBatchSize.Observe(float64(batchSize))
}

// SetPending sets the number of unpersisted aliases
func (m *AliasMetrics) SetPending(n int) {
	m.pendingGauge.Set(float64(n))
}

// SetIndexSize sets the record count and generation of the in-memory index
func (m *AliasMetrics) SetIndexSize(records int, generation uint64) {
	m.recordsGauge.Set(float64(records))
	m.generationGauge.Set(float64(generation))
}

// RecordLoad records an index load
func (m *AliasMetrics) RecordLoad(origin, outcome string, duration float64) {
	m.loadsTotal.WithLabelValues(origin, outcome).Inc()
	m.loadDuration.Observe(duration)
}

// RecordCacheRebuild records a cache rebuild
func (m *AliasMetrics) RecordCacheRebuild(status string) {
	m.cacheRebuildsTotal.WithLabelValues(status).Inc()
}

// RecordMasterReload records a reload caused by an external master edit
func (m *AliasMetrics) RecordMasterReload(status string) {
	m.masterReloadsTotal.WithLabelValues(status).Inc()
}

// SetCatalogSpecies sets the number of catalog species
func (m *AliasMetrics) SetCatalogSpecies(n int) {
	m.catalogSpeciesGauge.Set(float64(n))
}
