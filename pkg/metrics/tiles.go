package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiles_cache_lookups_total",
		Help: "Response cache lookups, partitioned by tier and result",
	}, []string{"tier", "result"})

	cacheWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiles_cache_writes_total",
		Help: "Deferred response cache writes, partitioned by result",
	}, []string{"result"})

	rangeReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiles_range_reads_total",
		Help: "Object store range reads, partitioned by source type and result",
	}, []string{"source", "result"})

	rangeReadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tiles_range_read_bytes_total",
		Help: "Bytes returned by object store range reads",
	})

	rangeReadDur = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tiles_range_read_duration_seconds",
		Help:    "Object store range read latencies in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"source"})

	handlesBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tiles_archive_handles_built_total",
		Help: "Archive handles constructed by the registry",
	})

	credentialsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiles_credentials_issued_total",
		Help: "Credentials issued by the broker, partitioned by mode",
	}, []string{"mode"})
)

func CacheLookup(tier, result string) {
	cacheLookups.WithLabelValues(tier, result).Inc()
}

func CacheWrite(result string) {
	cacheWrites.WithLabelValues(result).Inc()
}

func RangeRead(source, result string, bytes int, seconds float64) {
	rangeReads.WithLabelValues(source, result).Inc()
	rangeReadDur.WithLabelValues(source).Observe(seconds)
	if bytes > 0 {
		rangeReadBytes.Add(float64(bytes))
	}
}

func HandleBuilt() {
	handlesBuilt.Inc()
}

func CredentialIssued(mode string) {
	credentialsIssued.WithLabelValues(mode).Inc()
}
