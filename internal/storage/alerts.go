package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// FindActiveIncident returns the active incident for sourceIP whose
// last_alert_at is within windowMinutes of now, or ErrNotFound.
func (s *Store) FindActiveIncident(ctx context.Context, sourceIP string, windowMinutes int) (*Incident, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_ip, source_mac, status, severity, alert_count, first_alert_at, last_alert_at, closed_at, summary
		 FROM incidents
		 WHERE source_ip = ? AND status = 'active' AND last_alert_at >= datetime(?, ?)
		 ORDER BY last_alert_at DESC LIMIT 1`,
		sourceIP, nowStr(), fmt.Sprintf("-%d minutes", windowMinutes),
	)
	return scanIncident(row)
}

// CreateIncident inserts a new active incident.
func (s *Store) CreateIncident(ctx context.Context, inc *Incident) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO incidents (source_ip, source_mac, status, severity, alert_count, first_alert_at, last_alert_at, summary)
		 VALUES (?, ?, 'active', ?, ?, ?, ?, ?)`,
		inc.SourceIP, nullIfEmpty(inc.SourceMAC), string(inc.Severity), inc.AlertCount,
		inc.FirstAlertAt.UTC().Format(rfc3339nanoLayout), inc.LastAlertAt.UTC().Format(rfc3339nanoLayout), nullIfEmpty(inc.Summary),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: create incident: %v", ErrTransient, err)
	}
	id, _ := res.LastInsertId()
	inc.ID = id
	return id, nil
}

// BumpIncident links a new alert to an existing incident: increments
// alert_count, advances last_alert_at, and escalates severity to the max
// of current and the new alert's severity.
func (s *Store) BumpIncident(ctx context.Context, incidentID int64, alertTime string, newSeverity Severity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current Severity
	if err := s.db.QueryRowContext(ctx, `SELECT severity FROM incidents WHERE id = ?`, incidentID).Scan(&current); err != nil {
		return fmt.Errorf("%w: read incident severity: %v", ErrTransient, err)
	}
	escalated := MaxSeverity(current, newSeverity)

	_, err := s.db.ExecContext(ctx,
		`UPDATE incidents SET alert_count = alert_count + 1, last_alert_at = ?, severity = ? WHERE id = ?`,
		alertTime, string(escalated), incidentID,
	)
	if err != nil {
		return fmt.Errorf("%w: bump incident: %v", ErrTransient, err)
	}
	return nil
}

// CloseStaleIncidents closes every active incident whose last_alert_at is
// older than closeWindowMinutes, setting closed_at = now. Closed incidents
// are terminal and never reopened.
func (s *Store) CloseStaleIncidents(ctx context.Context, closeWindowMinutes int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE incidents SET status = 'closed', closed_at = ?
		 WHERE status = 'active' AND last_alert_at < datetime(?, ?)`,
		nowStr(), nowStr(), fmt.Sprintf("-%d minutes", closeWindowMinutes),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: close stale incidents: %v", ErrTransient, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanIncident(row *sql.Row) (*Incident, error) {
	var inc Incident
	var sourceMAC, summary sql.NullString
	var firstAlert, lastAlert string
	var closedAt sql.NullString
	err := row.Scan(&inc.ID, &inc.SourceIP, &sourceMAC, &inc.Status, &inc.Severity, &inc.AlertCount, &firstAlert, &lastAlert, &closedAt, &summary)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan incident: %v", ErrStateCorruption, err)
	}
	inc.SourceMAC = sourceMAC.String
	inc.Summary = summary.String
	inc.FirstAlertAt = parseTime(firstAlert)
	inc.LastAlertAt = parseTime(lastAlert)
	inc.ClosedAt = parseTimePtr(closedAt)
	return &inc, nil
}

// InsertAlert inserts a new alert row, optionally linked to an incident.
func (s *Store) InsertAlert(ctx context.Context, a *Alert) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (incident_id, alert_type, severity, title, detail, source_ip, source_mac, device_id, decoy_id, event_seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableInt64(a.IncidentID), a.AlertType, string(a.Severity), a.Title, nullIfEmpty(a.Detail),
		nullIfEmpty(a.SourceIP), nullIfEmpty(a.SourceMAC), nullableInt64(a.DeviceID), nullableInt64(a.DecoyID),
		nullableInt64(a.EventSeq), nowStr(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert alert: %v", ErrTransient, err)
	}
	id, _ := res.LastInsertId()
	a.ID = id
	return id, nil
}

func nullableInt64(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
