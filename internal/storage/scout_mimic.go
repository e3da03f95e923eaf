package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// UpsertServiceProfile records a scout probe result for one (device, port, protocol).
func (s *Store) UpsertServiceProfile(ctx context.Context, p *ServiceProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowStr()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO service_profiles (device_id, port, protocol, http_status, headers, body_snippet, favicon_hash, tls_common_name, tls_issuer, tls_not_after, banner, first_seen, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(device_id, port, protocol) DO UPDATE SET
		   http_status=excluded.http_status, headers=excluded.headers, body_snippet=excluded.body_snippet,
		   favicon_hash=excluded.favicon_hash, tls_common_name=excluded.tls_common_name, tls_issuer=excluded.tls_issuer,
		   tls_not_after=excluded.tls_not_after, banner=excluded.banner, last_seen=excluded.last_seen`,
		p.DeviceID, p.Port, p.Protocol, p.HTTPStatus, nullIfEmpty(p.Headers), nullIfEmpty(p.BodySnippet),
		nullIfEmpty(p.FaviconHash), nullIfEmpty(p.TLSCommonName), nullIfEmpty(p.TLSIssuer), timePtrStr(p.TLSNotAfter),
		nullIfEmpty(p.Banner), now, now,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert service profile: %v", ErrTransient, err)
	}
	return nil
}

// ListServiceProfiles returns every probed service for a device.
func (s *Store) ListServiceProfiles(ctx context.Context, deviceID int64) ([]*ServiceProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, port, protocol, http_status, headers, body_snippet, favicon_hash, tls_common_name, tls_issuer, tls_not_after, banner, first_seen, last_seen
		 FROM service_profiles WHERE device_id = ?`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: list service profiles: %v", ErrTransient, err)
	}
	defer rows.Close()
	var out []*ServiceProfile
	for rows.Next() {
		var p ServiceProfile
		var headers, body, favicon, cn, issuer, banner sql.NullString
		var notAfter sql.NullString
		var httpStatus sql.NullInt64
		var firstSeen, lastSeen string
		err := rows.Scan(&p.ID, &p.DeviceID, &p.Port, &p.Protocol, &httpStatus, &headers, &body, &favicon, &cn, &issuer, &notAfter, &banner, &firstSeen, &lastSeen)
		if err != nil {
			return nil, fmt.Errorf("%w: scan service profile: %v", ErrStateCorruption, err)
		}
		p.HTTPStatus = int(httpStatus.Int64)
		p.Headers, p.BodySnippet, p.FaviconHash, p.TLSCommonName, p.TLSIssuer, p.Banner =
			headers.String, body.String, favicon.String, cn.String, issuer.String, banner.String
		p.TLSNotAfter = parseTimePtr(notAfter)
		p.FirstSeen, p.LastSeen = parseTime(firstSeen), parseTime(lastSeen)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// AllocateVirtualIP persists a newly-aliased virtual IP.
func (s *Store) AllocateVirtualIP(ctx context.Context, v *VirtualIP) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO virtual_ips (ip_address, interface, decoy_id, created_at) VALUES (?, ?, ?, ?)`,
		v.IPAddress, v.Interface, nullableInt64(v.DecoyID), nowStr(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: allocate virtual ip: %v", ErrTransient, err)
	}
	id, _ := res.LastInsertId()
	v.ID = id
	return id, nil
}

// ReleaseVirtualIP marks a virtual IP row released, returning it to the pool.
func (s *Store) ReleaseVirtualIP(ctx context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE virtual_ips SET released_at = ? WHERE ip_address = ? AND released_at IS NULL`, nowStr(), ip)
	if err != nil {
		return fmt.Errorf("%w: release virtual ip: %v", ErrTransient, err)
	}
	return nil
}

// ListLiveVirtualIPs returns every virtual IP row not yet released — these
// correspond exactly to live OS-level aliases per the invariant.
func (s *Store) ListLiveVirtualIPs(ctx context.Context) ([]*VirtualIP, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ip_address, interface, decoy_id, created_at, released_at FROM virtual_ips WHERE released_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("%w: list virtual ips: %v", ErrTransient, err)
	}
	defer rows.Close()
	var out []*VirtualIP
	for rows.Next() {
		v, err := scanVirtualIP(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVirtualIP(row rowScanner) (*VirtualIP, error) {
	var v VirtualIP
	var decoyID sql.NullInt64
	var createdAt string
	var releasedAt sql.NullString
	if err := row.Scan(&v.ID, &v.IPAddress, &v.Interface, &decoyID, &createdAt, &releasedAt); err != nil {
		return nil, fmt.Errorf("%w: scan virtual ip: %v", ErrStateCorruption, err)
	}
	if decoyID.Valid {
		id := decoyID.Int64
		v.DecoyID = &id
	}
	v.CreatedAt = parseTime(createdAt)
	v.ReleasedAt = parseTimePtr(releasedAt)
	return &v, nil
}

// InsertMimicTemplate stores a generated mimic blueprint for a device.
func (s *Store) InsertMimicTemplate(ctx context.Context, t *MimicTemplate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO mimic_templates (device_id, category, route_table, server_header, credential_strategy, mdns_service_type, mdns_name, ports, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.DeviceID, t.Category, t.RouteTable, nullIfEmpty(t.ServerHeader), t.CredentialStrategy, t.MDNSServiceType, t.MDNSName, t.Ports, nowStr(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert mimic template: %v", ErrTransient, err)
	}
	id, _ := res.LastInsertId()
	t.ID = id
	return id, nil
}
