package db

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPoolStatsCollector_Describe(t *testing.T) {
	collector := NewPoolStatsCollector(nil, "turnscribe")

	ch := make(chan *prometheus.Desc, 10)
	go func() {
		collector.Describe(ch)
		close(ch)
	}()

	expected := []string{
		"turnscribe_db_pool_total_conns",
		"turnscribe_db_pool_idle_conns",
		"turnscribe_db_pool_acquired_conns",
		"turnscribe_db_pool_max_conns",
		"turnscribe_db_pool_acquires_total",
		"turnscribe_db_pool_empty_acquires_total",
	}
	i := 0
	for desc := range ch {
		if i >= len(expected) {
			t.Fatalf("unexpected extra descriptor %s", desc)
		}
		if !strings.Contains(desc.String(), `"`+expected[i]+`"`) {
			t.Errorf("descriptor %d = %s, want %s", i, desc, expected[i])
		}
		i++
	}
	if i != len(expected) {
		t.Errorf("got %d descriptors, want %d", i, len(expected))
	}
}

func TestPoolStatsCollector_Collect_NilPool(t *testing.T) {
	collector := NewPoolStatsCollector(nil, "turnscribe")

	if n := testutil.CollectAndCount(collector); n != 0 {
		t.Errorf("expected 0 metrics for nil pool, got %d", n)
	}
}

func TestRegisterPoolStats_DoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()

	if _, err := RegisterPoolStats(reg, nil, "turnscribe"); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if _, err := RegisterPoolStats(reg, nil, "turnscribe"); err != nil {
		t.Fatalf("second registration should not error: %v", err)
	}
}

func TestPoolStatsCollector_Lint(t *testing.T) {
	problems, err := testutil.CollectAndLint(NewPoolStatsCollector(nil, "turnscribe"))
	if err != nil {
		t.Fatalf("CollectAndLint failed: %v", err)
	}
	for _, p := range problems {
		t.Errorf("lint problem: %s", p.Text)
	}
}
