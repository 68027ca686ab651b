package postgres

import (
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultPoolLabel = "default"

// poolStatter is satisfied by *pgxpool.Pool.
type poolStatter interface {
	Stat() *pgxpool.Stat
}

// poolCollector exports pgxpool statistics as prometheus gauges and counters.
type poolCollector struct {
	pool         poolStatter
	open         *prometheus.Desc
	inUse        *prometheus.Desc
	idle         *prometheus.Desc
	maxConns     *prometheus.Desc
	emptyAcquire *prometheus.Desc
	waitSeconds  *prometheus.Desc
}

func newPoolCollector(pool poolStatter, label string) *poolCollector {
	labels := prometheus.Labels{"pool": label}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("taskdeck_postgres_"+name, help, nil, labels)
	}
	return &poolCollector{
		pool:         pool,
		open:         desc("connections_open", "Open connections in the pool"),
		inUse:        desc("connections_in_use", "Connections currently acquired"),
		idle:         desc("connections_idle", "Idle connections in the pool"),
		maxConns:     desc("connections_max", "Configured maximum pool size"),
		emptyAcquire: desc("empty_acquire_total", "Acquires that had to wait for a connection"),
		waitSeconds:  desc("acquire_wait_seconds_total", "Time spent waiting for a connection"),
	}
}

// Collector returns a prometheus collector for the store's pool.
func (s *Store) Collector() prometheus.Collector {
	return newPoolCollector(s.pool, s.label)
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.open
	ch <- c.inUse
	ch <- c.idle
	ch <- c.maxConns
	ch <- c.emptyAcquire
	ch <- c.waitSeconds
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(stat.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(stat.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquire, prometheus.CounterValue, float64(stat.EmptyAcquireCount()))
	ch <- prometheus.MustNewConstMetric(
		c.waitSeconds,
		prometheus.CounterValue,
		stat.EmptyAcquireWaitTime().Seconds(),
	)
}

func poolLabel(cfg *Config) string {
	name := strings.TrimSpace(cfg.DBName)
	host := strings.TrimSpace(cfg.Host)
	switch {
	case name != "" && host != "":
		return host + "/" + name
	case name != "":
		return name
	case host != "":
		return host
	}
	return defaultPoolLabel
}
