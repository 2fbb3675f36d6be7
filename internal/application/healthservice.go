package application

import (
	"context"
	"log/slog"

	"github.com/ericfisherdev/shelfsync/internal/domain/port/driven"
)

// Pinger is satisfied by the storage adapter.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthReport summarizes readiness for the health endpoint.
type HealthReport struct {
	Status         string `json:"status"`
	Database       string `json:"database"`
	Connections    int    `json:"connections"`
	NeedsReconnect int    `json:"needs_reconnect"`
}

// Healthy reports whether every dependency answered.
func (r HealthReport) Healthy() bool {
	return r.Status == "ok"
}

// HealthService checks storage reachability and tallies connections.
type HealthService struct {
	db    Pinger
	conns driven.ConnectionStore
}

// NewHealthService creates a new HealthService with the required dependencies.
func NewHealthService(db Pinger, conns driven.ConnectionStore) *HealthService {
	return &HealthService{
		db:    db,
		conns: conns,
	}
}

// Check builds a HealthReport. It never fails; problems are reported in the
// returned value.
func (s *HealthService) Check(ctx context.Context) HealthReport {
	report := HealthReport{Status: "ok", Database: "ok"}

	if err := s.db.Ping(ctx); err != nil {
		slog.Error("health check: database unreachable", "error", err)
		report.Status = "degraded"
		report.Database = "unreachable"
		return report
	}

	conns, err := s.conns.List(ctx)
	if err != nil {
		slog.Error("health check: listing connections failed", "error", err)
		report.Status = "degraded"
		report.Database = "error"
		return report
	}

	report.Connections = len(conns)
	for _, c := range conns {
		if c.NeedsReconnect {
			report.NeedsReconnect++
		}
	}
	return report
}
