package metrics

import (
	"database/sql"
	"sync"
	"time"
)

// =============================================================================
// Connection pool stats for the health endpoint
// =============================================================================

// PoolStats is a snapshot of one sql.DB pool, shaped for the stats
// endpoint.
type PoolStats struct {
	Open     int   `json:"open"`
	InUse    int   `json:"in_use"`
	Idle     int   `json:"idle"`
	MaxOpen  int   `json:"max_open"`
	Waits    int64 `json:"waits"`
	WaitedMs int64 `json:"waited_ms"`
}

// PoolHealth grades a pool snapshot. Utilization runs 0..1 against the
// configured ceiling.
type PoolHealth struct {
	Status      string  `json:"status"`
	Utilization float64 `json:"utilization"`
	Message     string  `json:"message,omitempty"`
}

var (
	poolMu sync.RWMutex
	pools  = make(map[string]*sql.DB)
)

// RegisterPool makes the pool visible to the stats endpoint under name.
// Registering the same name again replaces the previous pool.
func RegisterPool(name string, db *sql.DB) {
	poolMu.Lock()
	pools[name] = db
	poolMu.Unlock()
}

// GetAllPoolStats snapshots every registered pool.
func GetAllPoolStats() map[string]PoolStats {
	poolMu.RLock()
	defer poolMu.RUnlock()

	out := make(map[string]PoolStats, len(pools))
	for name, db := range pools {
		out[name] = snapshot(db)
	}
	return out
}

// GetAllPoolHealth grades every registered pool.
func GetAllPoolHealth() map[string]PoolHealth {
	poolMu.RLock()
	defer poolMu.RUnlock()

	out := make(map[string]PoolHealth, len(pools))
	for name, db := range pools {
		out[name] = grade(snapshot(db))
	}
	return out
}

func snapshot(db *sql.DB) PoolStats {
	if db == nil {
		return PoolStats{}
	}
	s := db.Stats()
	return PoolStats{
		Open:     s.OpenConnections,
		InUse:    s.InUse,
		Idle:     s.Idle,
		MaxOpen:  s.MaxOpenConnections,
		Waits:    s.WaitCount,
		WaitedMs: s.WaitDuration.Milliseconds(),
	}
}

func grade(s PoolStats) PoolHealth {
	if s.MaxOpen == 0 {
		return PoolHealth{Status: "healthy", Message: "no connection ceiling"}
	}

	h := PoolHealth{
		Status:      "healthy",
		Utilization: float64(s.InUse) / float64(s.MaxOpen),
	}
	switch {
	case h.Utilization >= 0.95:
		h.Status = "unhealthy"
		h.Message = "pool nearly exhausted"
	case h.Utilization >= 0.80:
		h.Status = "degraded"
		h.Message = "high pool utilization"
	}

	// Long accumulated waits point at an undersized pool even when the
	// instantaneous utilization looks fine.
	if s.Waits > 0 && time.Duration(s.WaitedMs)*time.Millisecond > 5*time.Second && h.Status == "healthy" {
		h.Status = "degraded"
		h.Message = "elevated connection wait times"
	}

	return h
}
