package model

import "time"

// HubStats reports a dashboard.Hub's connection count and uptime. Adapted
// from the teacher's per-user, sharded registry.Hub stats: a dashboard
// Hub has no per-identity routing and no shards, so TotalUsers/Shards are
// dropped rather than left unpopulated.
type HubStats struct {
	TotalConnections int           `json:"total_connections"`
	Uptime           time.Duration `json:"uptime"`
}
