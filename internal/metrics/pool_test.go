package metrics

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newLazyPool returns a pool that never connects; its stats are all zero.
func newLazyPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pool, err := pgxpool.New(context.Background(), "postgres://flagdeck@127.0.0.1:1/flagdeck")
	if err != nil {
		t.Skipf("unable to create pgxpool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestRegisterPoolMetrics(t *testing.T) {
	pool := newLazyPool(t)

	reg := prometheus.NewPedanticRegistry()
	RegisterPoolMetrics(reg, pool)

	expected := fmt.Sprintf(`
# HELP flagdeck_db_pool_acquired Number of currently acquired database connections.
# TYPE flagdeck_db_pool_acquired gauge
flagdeck_db_pool_acquired 0
# HELP flagdeck_db_pool_max Maximum number of database connections allowed in the pool.
# TYPE flagdeck_db_pool_max gauge
flagdeck_db_pool_max %d
# HELP flagdeck_db_pool_acquires_total Total number of successful connection acquisitions.
# TYPE flagdeck_db_pool_acquires_total counter
flagdeck_db_pool_acquires_total 0
`, pool.Stat().MaxConns())

	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"flagdeck_db_pool_acquired",
		"flagdeck_db_pool_max",
		"flagdeck_db_pool_acquires_total",
	); err != nil {
		t.Errorf("unexpected metrics output:\n%v", err)
	}
}

func TestRegisterPoolMetrics_AllFamilies(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	RegisterPoolMetrics(reg, newLazyPool(t))

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if len(mfs) != 7 {
		t.Errorf("expected 7 metric families, got %d", len(mfs))
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n != 7 {
		t.Errorf("GatherAndCount() = %d, %v; want 7", n, err)
	}
}
