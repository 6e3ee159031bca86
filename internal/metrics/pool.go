package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// poolMetric reads one value from a pool snapshot.
type poolMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(*pgxpool.Stat) float64
}

type poolCollector struct {
	pool    *pgxpool.Pool
	metrics []poolMetric
}

// RegisterPoolMetrics registers collectors that report live pgxpool statistics
// on every scrape. Only used with the postgres blob store.
func RegisterPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) {
	gauge := func(name, help string, value func(*pgxpool.Stat) float64) poolMetric {
		return poolMetric{desc: prometheus.NewDesc(name, help, nil, nil), valueType: prometheus.GaugeValue, value: value}
	}
	counter := func(name, help string, value func(*pgxpool.Stat) float64) poolMetric {
		return poolMetric{desc: prometheus.NewDesc(name, help, nil, nil), valueType: prometheus.CounterValue, value: value}
	}

	reg.MustRegister(&poolCollector{
		pool: pool,
		metrics: []poolMetric{
			gauge("flagdeck_db_pool_acquired", "Number of currently acquired database connections.",
				func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }),
			gauge("flagdeck_db_pool_idle", "Number of idle database connections in the pool.",
				func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }),
			gauge("flagdeck_db_pool_total", "Total number of database connections in the pool.",
				func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }),
			gauge("flagdeck_db_pool_max", "Maximum number of database connections allowed in the pool.",
				func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }),
			counter("flagdeck_db_pool_acquires_total", "Total number of successful connection acquisitions.",
				func(s *pgxpool.Stat) float64 { return float64(s.AcquireCount()) }),
			counter("flagdeck_db_pool_empty_acquires_total", "Acquisitions that had to wait for a connection.",
				func(s *pgxpool.Stat) float64 { return float64(s.EmptyAcquireCount()) }),
			counter("flagdeck_db_pool_acquire_seconds_total", "Cumulative time spent acquiring connections.",
				func(s *pgxpool.Stat) float64 { return s.AcquireDuration().Seconds() }),
		},
	})
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.valueType, m.value(stat))
	}
}
