package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// UpsertDevice inserts a new device or, if d.ID is set, updates the
// existing row. custom_name is passed through as-is; callers (devicemgr)
// are responsible for never overwriting an already-set custom_name.
func (s *Store) UpsertDevice(ctx context.Context, d *Device) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == 0 {
		now := nowStr()
		if d.FirstSeen.IsZero() {
			d.FirstSeen = parseTime(now)
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO devices (ip_address, mac_address, hostname, vendor, device_type, model_name, area, custom_name, notes, is_online, first_seen, last_seen)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.IPAddress, nullIfEmpty(d.MACAddress), nullIfEmpty(d.Hostname), nullIfEmpty(d.Vendor),
			d.DeviceType, nullIfEmpty(d.ModelName), nullIfEmpty(d.Area), nullIfEmpty(d.CustomName), nullIfEmpty(d.Notes),
			boolToInt(d.IsOnline), d.FirstSeen.UTC().Format(rfc3339nanoLayout), now,
		)
		if err != nil {
			return 0, fmt.Errorf("%w: insert device: %v", ErrTransient, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("%w: read device id: %v", ErrStateCorruption, err)
		}
		d.ID = id
		return id, nil
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE devices SET ip_address=?, mac_address=?, hostname=?, vendor=?, device_type=?, model_name=?, area=?, custom_name=?, notes=?, is_online=?, last_seen=? WHERE id=?`,
		d.IPAddress, nullIfEmpty(d.MACAddress), nullIfEmpty(d.Hostname), nullIfEmpty(d.Vendor),
		d.DeviceType, nullIfEmpty(d.ModelName), nullIfEmpty(d.Area), nullIfEmpty(d.CustomName), nullIfEmpty(d.Notes),
		boolToInt(d.IsOnline), nowStr(), d.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: update device: %v", ErrTransient, err)
	}
	return d.ID, nil
}

// GetDevice fetches a device by id.
func (s *Store) GetDevice(ctx context.Context, id int64) (*Device, error) {
	row := s.db.QueryRowContext(ctx, deviceSelect+` WHERE id = ?`, id)
	return scanDevice(row)
}

// GetDeviceByMAC fetches a device by its normalized MAC address.
func (s *Store) GetDeviceByMAC(ctx context.Context, mac string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, deviceSelect+` WHERE mac_address = ?`, mac)
	return scanDevice(row)
}

// ListDevices returns every device row.
func (s *Store) ListDevices(ctx context.Context) ([]*Device, error) {
	rows, err := s.db.QueryContext(ctx, deviceSelect)
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %v", ErrTransient, err)
	}
	defer rows.Close()

	var out []*Device
	for rows.Next() {
		d, err := scanDeviceRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const deviceSelect = `SELECT id, ip_address, mac_address, hostname, vendor, device_type, model_name, area, custom_name, notes, is_online, first_seen, last_seen FROM devices`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row *sql.Row) (*Device, error) {
	d, err := scanDeviceRows(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func scanDeviceRows(row rowScanner) (*Device, error) {
	var d Device
	var mac, hostname, vendor, modelName, area, customName, notes sql.NullString
	var firstSeen, lastSeen string
	var isOnline int
	err := row.Scan(&d.ID, &d.IPAddress, &mac, &hostname, &vendor, &d.DeviceType, &modelName, &area, &customName, &notes, &isOnline, &firstSeen, &lastSeen)
	if err != nil {
		return nil, fmt.Errorf("%w: scan device: %v", ErrStateCorruption, err)
	}
	d.MACAddress = mac.String
	d.Hostname = hostname.String
	d.Vendor = vendor.String
	d.ModelName = modelName.String
	d.Area = area.String
	d.CustomName = customName.String
	d.Notes = notes.String
	d.IsOnline = isOnline != 0
	d.FirstSeen = parseTime(firstSeen)
	d.LastSeen = parseTime(lastSeen)
	return &d, nil
}

// UpsertFingerprint inserts or updates the single fingerprint row owned by
// a device (one active composite fingerprint per device).
func (s *Store) UpsertFingerprint(ctx context.Context, f *DeviceFingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM device_fingerprints WHERE device_id = ?`, f.DeviceID).Scan(&existing)
	now := nowStr()
	if err == sql.ErrNoRows {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO device_fingerprints (device_id, mac, mdns_hostname, dhcp_hash, connection_pattern_hash, open_ports_hash, composite_hash, signal_count, confidence, first_seen, last_seen)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.DeviceID, nullIfEmpty(f.MAC), nullIfEmpty(f.MDNSHostname), nullIfEmpty(f.DHCPHash),
			nullIfEmpty(f.ConnectionPatternHash), nullIfEmpty(f.OpenPortsHash), nullIfEmpty(f.CompositeHash),
			f.SignalCount, f.Confidence, now, now,
		)
		if err != nil {
			return fmt.Errorf("%w: insert fingerprint: %v", ErrTransient, err)
		}
		id, _ := res.LastInsertId()
		f.ID = id
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: lookup fingerprint: %v", ErrTransient, err)
	}
	f.ID = existing
	_, err = s.db.ExecContext(ctx,
		`UPDATE device_fingerprints SET mac=?, mdns_hostname=?, dhcp_hash=?, connection_pattern_hash=?, open_ports_hash=?, composite_hash=?, signal_count=?, confidence=?, last_seen=? WHERE id=?`,
		nullIfEmpty(f.MAC), nullIfEmpty(f.MDNSHostname), nullIfEmpty(f.DHCPHash),
		nullIfEmpty(f.ConnectionPatternHash), nullIfEmpty(f.OpenPortsHash), nullIfEmpty(f.CompositeHash),
		f.SignalCount, f.Confidence, now, existing,
	)
	if err != nil {
		return fmt.Errorf("%w: update fingerprint: %v", ErrTransient, err)
	}
	return nil
}

// ListFingerprints returns every device's current fingerprint, used by the
// matcher to score a new scan result against known devices.
func (s *Store) ListFingerprints(ctx context.Context) ([]*DeviceFingerprint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, mac, mdns_hostname, dhcp_hash, connection_pattern_hash, open_ports_hash, composite_hash, signal_count, confidence, first_seen, last_seen FROM device_fingerprints`)
	if err != nil {
		return nil, fmt.Errorf("%w: list fingerprints: %v", ErrTransient, err)
	}
	defer rows.Close()

	var out []*DeviceFingerprint
	for rows.Next() {
		var f DeviceFingerprint
		var mac, mdns, dhcp, conn, ports, composite sql.NullString
		var firstSeen, lastSeen string
		if err := rows.Scan(&f.ID, &f.DeviceID, &mac, &mdns, &dhcp, &conn, &ports, &composite, &f.SignalCount, &f.Confidence, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("%w: scan fingerprint: %v", ErrStateCorruption, err)
		}
		f.MAC, f.MDNSHostname, f.DHCPHash, f.ConnectionPatternHash, f.OpenPortsHash, f.CompositeHash =
			mac.String, mdns.String, dhcp.String, conn.String, ports.String, composite.String
		f.FirstSeen, f.LastSeen = parseTime(firstSeen), parseTime(lastSeen)
		out = append(out, &f)
	}
	return out, rows.Err()
}

// GetTrust returns a device's trust row, or TrustUnknown if none exists.
func (s *Store) GetTrust(ctx context.Context, deviceID int64) (*DeviceTrust, error) {
	row := s.db.QueryRowContext(ctx, `SELECT device_id, status, approved_by, updated_at FROM device_trust WHERE device_id = ?`, deviceID)
	var t DeviceTrust
	var approvedBy sql.NullString
	var updatedAt string
	err := row.Scan(&t.DeviceID, &t.Status, &approvedBy, &updatedAt)
	if err == sql.ErrNoRows {
		return &DeviceTrust{DeviceID: deviceID, Status: TrustUnknown}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get trust: %v", ErrTransient, err)
	}
	t.ApprovedBy = approvedBy.String
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

// SetTrust upserts a device's trust status.
func (s *Store) SetTrust(ctx context.Context, t *DeviceTrust) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_trust (device_id, status, approved_by, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(device_id) DO UPDATE SET status=excluded.status, approved_by=excluded.approved_by, updated_at=excluded.updated_at`,
		t.DeviceID, string(t.Status), nullIfEmpty(t.ApprovedBy), nowStr(),
	)
	if err != nil {
		return fmt.Errorf("%w: set trust: %v", ErrTransient, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const rfc3339nanoLayout = "2006-01-02T15:04:05.999999999Z07:00"
