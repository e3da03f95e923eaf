package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// UpsertBaseline records an observed (device, dest_ip, dest_port) during
// learning mode, incrementing hit_count on repeat observation.
func (s *Store) UpsertBaseline(ctx context.Context, deviceID int64, destIP string, destPort int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowStr()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connection_baselines (device_id, dest_ip, dest_port, hit_count, first_seen, last_seen)
		 VALUES (?, ?, ?, 1, ?, ?)
		 ON CONFLICT(device_id, dest_ip, dest_port) DO UPDATE SET hit_count = hit_count + 1, last_seen = excluded.last_seen`,
		deviceID, destIP, destPort, now, now,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert baseline: %v", ErrTransient, err)
	}
	return nil
}

// HasBaseline reports whether any baseline rows exist for a device (a
// device with no rows was never learned and must never be flagged).
func (s *Store) HasBaseline(ctx context.Context, deviceID int64) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM connection_baselines WHERE device_id = ?`, deviceID).Scan(&n); err != nil {
		return false, fmt.Errorf("%w: check baseline: %v", ErrTransient, err)
	}
	return n > 0, nil
}

// BaselineHit reports whether (dest_ip, dest_port) is within a device's baseline.
func (s *Store) BaselineHit(ctx context.Context, deviceID int64, destIP string, destPort int) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM connection_baselines WHERE device_id = ? AND dest_ip = ? AND dest_port = ?`,
		deviceID, destIP, destPort,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%w: check baseline hit: %v", ErrTransient, err)
	}
	return n > 0, nil
}

// ListBaselineDestinations returns a device's learned destinations as
// "ip:port" strings, used by the matcher to score connection-pattern
// similarity against a candidate device.
func (s *Store) ListBaselineDestinations(ctx context.Context, deviceID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT dest_ip, dest_port FROM connection_baselines WHERE device_id = ?`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: list baseline destinations: %v", ErrTransient, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var ip string
		var port int
		if err := rows.Scan(&ip, &port); err != nil {
			return nil, fmt.Errorf("%w: scan baseline destination: %v", ErrStateCorruption, err)
		}
		out = append(out, fmt.Sprintf("%s:%d", ip, port))
	}
	return out, rows.Err()
}

// UpsertOpenPort records an observed open port for a device.
func (s *Store) UpsertOpenPort(ctx context.Context, p *DeviceOpenPort) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowStr()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_open_ports (device_id, port, protocol, service_name, banner, first_seen, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(device_id, port, protocol) DO UPDATE SET service_name = excluded.service_name, banner = excluded.banner, last_seen = excluded.last_seen`,
		p.DeviceID, p.Port, p.Protocol, nullIfEmpty(p.ServiceName), nullIfEmpty(p.Banner), now, now,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert open port: %v", ErrTransient, err)
	}
	return nil
}

// ListOpenPorts returns the currently-known open ports for a device.
func (s *Store) ListOpenPorts(ctx context.Context, deviceID int64) ([]*DeviceOpenPort, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, port, protocol, service_name, banner, first_seen, last_seen FROM device_open_ports WHERE device_id = ?`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: list open ports: %v", ErrTransient, err)
	}
	defer rows.Close()
	var out []*DeviceOpenPort
	for rows.Next() {
		var p DeviceOpenPort
		var serviceName, banner sql.NullString
		var firstSeen, lastSeen string
		if err := rows.Scan(&p.ID, &p.DeviceID, &p.Port, &p.Protocol, &serviceName, &banner, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("%w: scan open port: %v", ErrStateCorruption, err)
		}
		p.ServiceName, p.Banner = serviceName.String, banner.String
		p.FirstSeen, p.LastSeen = parseTime(firstSeen), parseTime(lastSeen)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// GetInsightState returns the dedup row for (device, insight_key), or ErrNotFound.
func (s *Store) GetInsightState(ctx context.Context, deviceID int64, insightKey string) (*SecurityInsightState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, device_id, insight_key, alert_id, dismissed, created_at, resolved_at FROM security_insight_state WHERE device_id = ? AND insight_key = ?`,
		deviceID, insightKey,
	)
	var st SecurityInsightState
	var dismissed int
	var createdAt string
	var resolvedAt sql.NullString
	err := row.Scan(&st.ID, &st.DeviceID, &st.InsightKey, &st.AlertID, &dismissed, &createdAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan insight state: %v", ErrStateCorruption, err)
	}
	st.Dismissed = dismissed != 0
	st.CreatedAt = parseTime(createdAt)
	st.ResolvedAt = parseTimePtr(resolvedAt)
	return &st, nil
}

// InsertInsightState inserts a new dedup row after emitting an alert.
func (s *Store) InsertInsightState(ctx context.Context, deviceID int64, insightKey string, alertID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO security_insight_state (device_id, insight_key, alert_id, dismissed, created_at) VALUES (?, ?, ?, 0, ?)`,
		deviceID, insightKey, alertID, nowStr(),
	)
	if err != nil {
		return fmt.Errorf("%w: insert insight state: %v", ErrTransient, err)
	}
	return nil
}

// ReactivateInsightState clears resolved_at without emitting a new alert.
func (s *Store) ReactivateInsightState(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE security_insight_state SET resolved_at = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: reactivate insight state: %v", ErrTransient, err)
	}
	return nil
}

// ResolveInsightStates sets resolved_at=now for every row of a device whose
// insight_key is not in keep (findings no longer present this cycle).
func (s *Store) ResolveInsightStates(ctx context.Context, deviceID int64, keep []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, insight_key FROM security_insight_state WHERE device_id = ? AND resolved_at IS NULL`, deviceID)
	if err != nil {
		return fmt.Errorf("%w: list insight states: %v", ErrTransient, err)
	}
	keepSet := make(map[string]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}
	type row struct {
		id  int64
		key string
	}
	var toResolve []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.key); err != nil {
			rows.Close()
			return fmt.Errorf("%w: scan insight state: %v", ErrStateCorruption, err)
		}
		if !keepSet[r.key] {
			toResolve = append(toResolve, r)
		}
	}
	rows.Close()

	for _, r := range toResolve {
		if _, err := s.db.ExecContext(ctx, `UPDATE security_insight_state SET resolved_at = ? WHERE id = ?`, nowStr(), r.id); err != nil {
			return fmt.Errorf("%w: resolve insight state: %v", ErrTransient, err)
		}
	}
	return nil
}
