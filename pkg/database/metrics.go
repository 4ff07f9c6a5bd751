package database

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
)

// DBStatsCollector implements prometheus.Collector for database/sql pool
// statistics.
type DBStatsCollector struct {
	db      *sql.DB
	service string

	openConns     *prometheus.Desc
	inUseConns    *prometheus.Desc
	idleConns     *prometheus.Desc
	maxOpenConns  *prometheus.Desc
	waitCount     *prometheus.Desc
	waitDuration  *prometheus.Desc
	maxIdleClosed *prometheus.Desc
	maxLifeClosed *prometheus.Desc
}

// NewDBStatsCollector creates a collector exporting db's pool statistics.
func NewDBStatsCollector(db *sql.DB, service string) *DBStatsCollector {
	labels := []string{"service"}
	return &DBStatsCollector{
		db:      db,
		service: service,
		openConns: prometheus.NewDesc(
			"db_pool_open_connections",
			"Number of established connections, in use and idle",
			labels, nil,
		),
		inUseConns: prometheus.NewDesc(
			"db_pool_in_use_connections",
			"Number of connections currently in use",
			labels, nil,
		),
		idleConns: prometheus.NewDesc(
			"db_pool_idle_connections",
			"Number of idle connections",
			labels, nil,
		),
		maxOpenConns: prometheus.NewDesc(
			"db_pool_max_open_connections",
			"Maximum number of open connections allowed",
			labels, nil,
		),
		waitCount: prometheus.NewDesc(
			"db_pool_wait_count_total",
			"Total number of connections waited for",
			labels, nil,
		),
		waitDuration: prometheus.NewDesc(
			"db_pool_wait_duration_seconds_total",
			"Total time blocked waiting for a connection in seconds",
			labels, nil,
		),
		maxIdleClosed: prometheus.NewDesc(
			"db_pool_max_idle_closed_total",
			"Total connections closed due to the idle limit",
			labels, nil,
		),
		maxLifeClosed: prometheus.NewDesc(
			"db_pool_max_lifetime_closed_total",
			"Total connections closed due to max lifetime",
			labels, nil,
		),
	}
}

// Describe sends the descriptors of all metrics to the provided channel.
func (c *DBStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.openConns
	ch <- c.inUseConns
	ch <- c.idleConns
	ch <- c.maxOpenConns
	ch <- c.waitCount
	ch <- c.waitDuration
	ch <- c.maxIdleClosed
	ch <- c.maxLifeClosed
}

// Collect reads current pool statistics and sends them as Prometheus metrics.
func (c *DBStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.db.Stats()

	ch <- prometheus.MustNewConstMetric(c.openConns, prometheus.GaugeValue, float64(stat.OpenConnections), c.service)
	ch <- prometheus.MustNewConstMetric(c.inUseConns, prometheus.GaugeValue, float64(stat.InUse), c.service)
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(stat.Idle), c.service)
	ch <- prometheus.MustNewConstMetric(c.maxOpenConns, prometheus.GaugeValue, float64(stat.MaxOpenConnections), c.service)
	ch <- prometheus.MustNewConstMetric(c.waitCount, prometheus.CounterValue, float64(stat.WaitCount), c.service)
	ch <- prometheus.MustNewConstMetric(c.waitDuration, prometheus.CounterValue, stat.WaitDuration.Seconds(), c.service)
	ch <- prometheus.MustNewConstMetric(c.maxIdleClosed, prometheus.CounterValue, float64(stat.MaxIdleClosed), c.service)
	ch <- prometheus.MustNewConstMetric(c.maxLifeClosed, prometheus.CounterValue, float64(stat.MaxLifetimeClosed), c.service)
}
