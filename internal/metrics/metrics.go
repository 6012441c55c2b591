package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts pipeline and store events on a private registry. It
// satisfies application.Recorder and persistence.StoreObserver.
type Metrics struct {
	registry *prometheus.Registry

	imagesNormalized  prometheus.Counter
	normalizeFailures prometheus.Counter
	documents         prometheus.Counter
	pages             prometheus.Counter
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	storeCorruptions  prometheus.Counter
	storeWriteErrors  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		imagesNormalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "testprint_images_normalized_total",
			Help: "Images decoded, bounded and re-encoded successfully.",
		}),
		normalizeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "testprint_image_normalize_failures_total",
			Help: "Inputs rejected because they could not be decoded.",
		}),
		documents: factory.NewCounter(prometheus.CounterOpts{
			Name: "testprint_documents_generated_total",
			Help: "PDF documents assembled.",
		}),
		pages: factory.NewCounter(prometheus.CounterOpts{
			Name: "testprint_document_pages_total",
			Help: "Pages written across all assembled documents.",
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "testprint_document_cache_hits_total",
			Help: "Documents served from the document cache.",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "testprint_document_cache_misses_total",
			Help: "Document cache lookups that had to assemble.",
		}),
		storeCorruptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "testprint_store_corrupt_reads_total",
			Help: "Stored documents that could not be parsed and were treated as empty.",
		}),
		storeWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "testprint_store_write_failures_total",
			Help: "Failed writes to the record store.",
		}),
	}
}

func (m *Metrics) ImageNormalized()  { m.imagesNormalized.Inc() }
func (m *Metrics) NormalizeFailed()  { m.normalizeFailures.Inc() }
func (m *Metrics) CacheHit()         { m.cacheHits.Inc() }
func (m *Metrics) CacheMiss()        { m.cacheMisses.Inc() }
func (m *Metrics) StoreCorrupted()   { m.storeCorruptions.Inc() }
func (m *Metrics) StoreWriteFailed() { m.storeWriteErrors.Inc() }

func (m *Metrics) DocumentGenerated(pages int) {
	m.documents.Inc()
	m.pages.Add(float64(pages))
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteToFile dumps every metric in the text exposition format, suitable
// for the node_exporter textfile collector.
func (m *Metrics) WriteToFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
