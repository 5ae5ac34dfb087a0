package database

import (
	"context"
	"time"
)

// HealthStatus is the health-endpoint view of the store: connectivity plus
// pool pressure numbers useful when diagnosing stuck sessions.
type HealthStatus struct {
	Status       string `json:"status"`
	PingMillis   int64  `json:"ping_ms"`
	OpenConns    int    `json:"open_connections"`
	InUse        int    `json:"in_use"`
	Idle         int    `json:"idle"`
	WaitCount    int64  `json:"wait_count"`
	WaitMillis   int64  `json:"wait_ms"`
	MaxOpenConns int    `json:"max_open_conns"`
}

// Health pings the database and reports pool statistics. The returned status
// is "unhealthy" together with the ping error when connectivity is lost.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	if err := c.db.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:     "unhealthy",
			PingMillis: time.Since(start).Milliseconds(),
		}, err
	}

	stats := c.db.Stats()
	return &HealthStatus{
		Status:       "healthy",
		PingMillis:   time.Since(start).Milliseconds(),
		OpenConns:    stats.OpenConnections,
		InUse:        stats.InUse,
		Idle:         stats.Idle,
		WaitCount:    stats.WaitCount,
		WaitMillis:   stats.WaitDuration.Milliseconds(),
		MaxOpenConns: stats.MaxOpenConnections,
	}, nil
}
