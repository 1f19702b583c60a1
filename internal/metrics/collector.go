package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// FetchStats provides the metrics collector access to fetch concurrency.
type FetchStats interface {
	InFlight() int // fetches currently talking to upstream
	Waiting() int  // requests queued on the fetch semaphore
}

// UploadStats is implemented by the async S3 uploader.
type UploadStats interface {
	Stats() (uploaded, failed, dropped int64)
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool    *pgxpool.Pool
	stats   FetchStats
	uploads UploadStats

	// Descriptors for scrape-time gauges.
	fetchesInFlight *prometheus.Desc
	fetchesWaiting  *prometheus.Desc
	uploadsTotal    *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// Any argument may be nil; its metrics then report 0.
func NewCollector(pool *pgxpool.Pool, stats FetchStats, uploads UploadStats) *Collector {
	return &Collector{
		pool:    pool,
		stats:   stats,
		uploads: uploads,
		fetchesInFlight: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "fetches_in_flight"),
			"Current number of upstream fetches in progress.",
			nil, nil,
		),
		fetchesWaiting: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "fetches_waiting"),
			"Current number of requests waiting for a fetch slot.",
			nil, nil,
		),
		uploadsTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "s3", "async_uploads_total"),
			"Async S3 uploads by result.",
			[]string{"result"}, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.fetchesInFlight
	ch <- c.fetchesWaiting
	ch <- c.uploadsTotal
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	// Fetch stats
	var inFlight, waiting float64
	if c.stats != nil {
		inFlight = float64(c.stats.InFlight())
		waiting = float64(c.stats.Waiting())
	}
	ch <- prometheus.MustNewConstMetric(c.fetchesInFlight, prometheus.GaugeValue, inFlight)
	ch <- prometheus.MustNewConstMetric(c.fetchesWaiting, prometheus.GaugeValue, waiting)

	// Upload stats
	var uploaded, failed, dropped int64
	if c.uploads != nil {
		uploaded, failed, dropped = c.uploads.Stats()
	}
	ch <- prometheus.MustNewConstMetric(c.uploadsTotal, prometheus.CounterValue, float64(uploaded), "ok")
	ch <- prometheus.MustNewConstMetric(c.uploadsTotal, prometheus.CounterValue, float64(failed), "error")
	ch <- prometheus.MustNewConstMetric(c.uploadsTotal, prometheus.CounterValue, float64(dropped), "dropped")

	// Database pool stats
	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
