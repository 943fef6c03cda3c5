package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// poolMetric reads one value off a pool snapshot.
type poolMetric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(*pgxpool.Stat) float64
}

// PoolStatsCollector exports pgxpool statistics, read fresh on each scrape.
type PoolStatsCollector struct {
	pool    *pgxpool.Pool
	metrics []poolMetric
}

// NewPoolStatsCollector builds the collector. With a nil pool it describes
// its metrics but collects none.
func NewPoolStatsCollector(pool *pgxpool.Pool, namespace string) *PoolStatsCollector {
	gauge := func(name, help string, v func(*pgxpool.Stat) int32) poolMetric {
		return poolMetric{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "db_pool", name), help, nil, nil),
			kind:  prometheus.GaugeValue,
			value: func(s *pgxpool.Stat) float64 { return float64(v(s)) },
		}
	}
	counter := func(name, help string, v func(*pgxpool.Stat) int64) poolMetric {
		return poolMetric{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "db_pool", name), help, nil, nil),
			kind:  prometheus.CounterValue,
			value: func(s *pgxpool.Stat) float64 { return float64(v(s)) },
		}
	}

	return &PoolStatsCollector{
		pool: pool,
		metrics: []poolMetric{
			gauge("total_conns", "Connections currently open in the pool.", (*pgxpool.Stat).TotalConns),
			gauge("idle_conns", "Idle connections in the pool.", (*pgxpool.Stat).IdleConns),
			gauge("acquired_conns", "Connections currently checked out of the pool.", (*pgxpool.Stat).AcquiredConns),
			gauge("max_conns", "Configured upper bound on pool connections.", (*pgxpool.Stat).MaxConns),
			counter("acquires_total", "Successful connection acquisitions.", (*pgxpool.Stat).AcquireCount),
			counter("empty_acquires_total", "Acquisitions that had to wait for a connection.", (*pgxpool.Stat).EmptyAcquireCount),
		},
	}
}

func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool == nil {
		return
	}
	st := c.pool.Stat()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(st))
	}
}

// RegisterPoolStats registers a collector for pool. A collector already
// registered under the same names is not an error.
func RegisterPoolStats(reg prometheus.Registerer, pool *pgxpool.Pool, namespace string) (*PoolStatsCollector, error) {
	c := NewPoolStatsCollector(pool, namespace)
	err := reg.Register(c)
	var dup prometheus.AlreadyRegisteredError
	if err != nil && !errors.As(err, &dup) {
		return nil, err
	}
	return c, nil
}
