package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthStatus is the database part of a health report.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Latency       time.Duration `json:"latency_ns"`
	TotalConns    int32         `json:"total_conns"`
	IdleConns     int32         `json:"idle_conns"`
	AcquiredConns int32         `json:"acquired_conns"`
	Error         string        `json:"error,omitempty"`
}

// Check pings pool and, when it answers, reports its connection counts.
func Check(ctx context.Context, pool *pgxpool.Pool) *HealthStatus {
	if pool == nil {
		return &HealthStatus{Error: "pool is nil"}
	}

	start := time.Now()
	err := pool.Ping(ctx)
	hs := &HealthStatus{Latency: time.Since(start)}
	if err != nil {
		hs.Error = "ping failed: " + err.Error()
		return hs
	}

	st := pool.Stat()
	hs.Healthy = true
	hs.TotalConns, hs.IdleConns, hs.AcquiredConns = st.TotalConns(), st.IdleConns(), st.AcquiredConns()
	return hs
}
