package storage

import (
	"context"
	"fmt"

	"github.com/rocketweb/squirrelops-sensor/internal/logging"
)

// PurgeResult reports the per-table row counts removed by one retention pass.
type PurgeResult struct {
	AlertsRemoved             int64
	IncidentsRemoved          int64
	EventsRemoved             int64
	DecoyConnectionsRemoved   int64
	CanaryObservationsRemoved int64
}

// Purge runs the daily retention sweep. Stages commit independently, in FK
// order, so a failure in one stage does not block the others — mirroring
// the teacher's janitor rollup/cleanup pattern of isolated per-stage SQL.
func (s *Store) Purge(ctx context.Context, retentionDays int) PurgeResult {
	log := logging.WithComponent("storage.retention")
	cutoffExpr := fmt.Sprintf("-%d days", retentionDays)
	var result PurgeResult

	s.mu.Lock()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM alerts WHERE created_at < datetime(?, ?)
		 AND (incident_id IS NULL OR incident_id NOT IN (SELECT id FROM incidents WHERE status = 'active'))`,
		nowStr(), cutoffExpr,
	)
	s.mu.Unlock()
	if err != nil {
		log.Error("purge alerts stage failed", "error", err)
	} else {
		result.AlertsRemoved, _ = res.RowsAffected()
	}

	s.mu.Lock()
	res, err = s.db.ExecContext(ctx,
		`DELETE FROM incidents WHERE status = 'closed' AND closed_at < datetime(?, ?)`,
		nowStr(), cutoffExpr,
	)
	s.mu.Unlock()
	if err != nil {
		log.Error("purge incidents stage failed", "error", err)
	} else {
		result.IncidentsRemoved, _ = res.RowsAffected()
	}

	s.mu.Lock()
	res, err = s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < datetime(?, ?)`, nowStr(), cutoffExpr)
	s.mu.Unlock()
	if err != nil {
		log.Error("purge events stage failed", "error", err)
	} else {
		result.EventsRemoved, _ = res.RowsAffected()
	}

	s.mu.Lock()
	res, err = s.db.ExecContext(ctx, `DELETE FROM decoy_connections WHERE timestamp < datetime(?, ?)`, nowStr(), cutoffExpr)
	s.mu.Unlock()
	if err != nil {
		log.Error("purge decoy_connections stage failed", "error", err)
	} else {
		result.DecoyConnectionsRemoved, _ = res.RowsAffected()
	}

	s.mu.Lock()
	res, err = s.db.ExecContext(ctx, `DELETE FROM canary_observations WHERE observed_at < datetime(?, ?)`, nowStr(), cutoffExpr)
	s.mu.Unlock()
	if err != nil {
		log.Error("purge canary_observations stage failed", "error", err)
	} else {
		result.CanaryObservationsRemoved, _ = res.RowsAffected()
	}

	return result
}
