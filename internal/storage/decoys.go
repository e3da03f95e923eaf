package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// UpsertDecoy inserts a new decoy row or updates an existing one by ID.
func (s *Store) UpsertDecoy(ctx context.Context, d *Decoy) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == 0 {
		now := nowStr()
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO decoys (name, decoy_type, bind_address, port, status, config, connection_count, credential_trip_count, failure_count, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0, ?, ?)`,
			d.Name, d.DecoyType, d.BindAddress, d.Port, string(d.Status), d.Config, now, now,
		)
		if err != nil {
			return 0, fmt.Errorf("%w: insert decoy: %v", ErrTransient, err)
		}
		id, _ := res.LastInsertId()
		d.ID = id
		return id, nil
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE decoys SET name=?, decoy_type=?, bind_address=?, port=?, status=?, config=?, connection_count=?, credential_trip_count=?, failure_count=?, last_failure_at=?, updated_at=? WHERE id=?`,
		d.Name, d.DecoyType, d.BindAddress, d.Port, string(d.Status), d.Config,
		d.ConnectionCount, d.CredentialTripCount, d.FailureCount, timePtrStr(d.LastFailureAt), nowStr(), d.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: update decoy: %v", ErrTransient, err)
	}
	return d.ID, nil
}

const decoySelect = `SELECT id, name, decoy_type, bind_address, port, status, config, connection_count, credential_trip_count, failure_count, last_failure_at, created_at, updated_at FROM decoys`

// ListDecoys returns every decoy row.
func (s *Store) ListDecoys(ctx context.Context) ([]*Decoy, error) {
	rows, err := s.db.QueryContext(ctx, decoySelect)
	if err != nil {
		return nil, fmt.Errorf("%w: list decoys: %v", ErrTransient, err)
	}
	defer rows.Close()
	var out []*Decoy
	for rows.Next() {
		d, err := scanDecoy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListDecoysByStatus returns decoys in the given status (e.g. "active").
func (s *Store) ListDecoysByStatus(ctx context.Context, status DecoyStatus) ([]*Decoy, error) {
	rows, err := s.db.QueryContext(ctx, decoySelect+` WHERE status = ?`, string(status))
	if err != nil {
		return nil, fmt.Errorf("%w: list decoys by status: %v", ErrTransient, err)
	}
	defer rows.Close()
	var out []*Decoy
	for rows.Next() {
		d, err := scanDecoy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDecoy(row rowScanner) (*Decoy, error) {
	var d Decoy
	var config sql.NullString
	var lastFailure sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&d.ID, &d.Name, &d.DecoyType, &d.BindAddress, &d.Port, &d.Status, &config,
		&d.ConnectionCount, &d.CredentialTripCount, &d.FailureCount, &lastFailure, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: scan decoy: %v", ErrStateCorruption, err)
	}
	d.Config = config.String
	d.LastFailureAt = parseTimePtr(lastFailure)
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}

// CountDecoys reports whether any decoy row exists at all, active or
// stopped — the boot-time idempotency guard for auto_deploy.
func (s *Store) CountDecoys(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decoys`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count decoys: %v", ErrTransient, err)
	}
	return n, nil
}

// InsertCredential plants a new synthetic credential, optionally tied to a decoy.
func (s *Store) InsertCredential(ctx context.Context, c *PlantedCredential) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO planted_credentials (credential_type, credential_value, canary_hostname, planted_location, decoy_id, tripped, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		c.CredentialType, c.CredentialValue, nullIfEmpty(c.CanaryHostname), nullIfEmpty(c.PlantedLocation), nullableInt64(c.DecoyID), nowStr(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert credential: %v", ErrTransient, err)
	}
	id, _ := res.LastInsertId()
	c.ID = id
	return id, nil
}

// ListCredentialsForDecoy returns the planted credentials attached to a decoy.
func (s *Store) ListCredentialsForDecoy(ctx context.Context, decoyID int64) ([]*PlantedCredential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, credential_type, credential_value, canary_hostname, planted_location, decoy_id, tripped, first_tripped_at, created_at
		 FROM planted_credentials WHERE decoy_id = ?`, decoyID)
	if err != nil {
		return nil, fmt.Errorf("%w: list credentials: %v", ErrTransient, err)
	}
	defer rows.Close()
	var out []*PlantedCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCanaryCredentials returns every credential carrying a canary hostname.
func (s *Store) ListCanaryCredentials(ctx context.Context) ([]*PlantedCredential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, credential_type, credential_value, canary_hostname, planted_location, decoy_id, tripped, first_tripped_at, created_at
		 FROM planted_credentials WHERE canary_hostname IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("%w: list canary credentials: %v", ErrTransient, err)
	}
	defer rows.Close()
	var out []*PlantedCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCredential(row rowScanner) (*PlantedCredential, error) {
	var c PlantedCredential
	var canary, location sql.NullString
	var decoyID sql.NullInt64
	var tripped int
	var firstTripped sql.NullString
	var createdAt string
	err := row.Scan(&c.ID, &c.CredentialType, &c.CredentialValue, &canary, &location, &decoyID, &tripped, &firstTripped, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("%w: scan credential: %v", ErrStateCorruption, err)
	}
	c.CanaryHostname = canary.String
	c.PlantedLocation = location.String
	if decoyID.Valid {
		v := decoyID.Int64
		c.DecoyID = &v
	}
	c.Tripped = tripped != 0
	c.FirstTrippedAt = parseTimePtr(firstTripped)
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

// MarkCredentialTripped sets tripped=true and first_tripped_at, once.
func (s *Store) MarkCredentialTripped(ctx context.Context, credentialID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE planted_credentials SET tripped = 1, first_tripped_at = COALESCE(first_tripped_at, ?) WHERE id = ?`,
		nowStr(), credentialID,
	)
	if err != nil {
		return fmt.Errorf("%w: mark credential tripped: %v", ErrTransient, err)
	}
	return nil
}

// InsertDecoyConnection records an inbound connection and increments the
// decoy's connection_count.
func (s *Store) InsertDecoyConnection(ctx context.Context, c *DecoyConnection) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO decoy_connections (decoy_id, source_ip, source_mac, port, protocol, request_path, credential_used, credential_id, event_seq, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.DecoyID, c.SourceIP, nullIfEmpty(c.SourceMAC), c.Port, nullIfEmpty(c.Protocol), nullIfEmpty(c.RequestPath),
		nullIfEmpty(c.CredentialUsed), nullableInt64(c.CredentialID), nullableInt64(c.EventSeq), nowStr(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert decoy connection: %v", ErrTransient, err)
	}
	id, _ := res.LastInsertId()
	c.ID = id

	if _, err := s.db.ExecContext(ctx, `UPDATE decoys SET connection_count = connection_count + 1, updated_at = ? WHERE id = ?`, nowStr(), c.DecoyID); err != nil {
		return id, fmt.Errorf("%w: bump connection_count: %v", ErrTransient, err)
	}
	return id, nil
}

// BumpCredentialTripCount increments a decoy's credential_trip_count.
func (s *Store) BumpCredentialTripCount(ctx context.Context, decoyID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE decoys SET credential_trip_count = credential_trip_count + 1, updated_at = ? WHERE id = ?`, nowStr(), decoyID)
	if err != nil {
		return fmt.Errorf("%w: bump credential_trip_count: %v", ErrTransient, err)
	}
	return nil
}

// InsertCanaryObservation records a DNS lookup of a planted canary hostname.
func (s *Store) InsertCanaryObservation(ctx context.Context, o *CanaryObservation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO canary_observations (credential_id, canary_hostname, queried_by_ip, queried_by_mac, event_seq, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.CredentialID, o.CanaryHost, o.QueriedByIP, nullIfEmpty(o.QueriedByMAC), nullableInt64(o.EventSeq), nowStr(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert canary observation: %v", ErrTransient, err)
	}
	id, _ := res.LastInsertId()
	o.ID = id
	return id, nil
}

// RecordDecoyFailure increments failure_count and sets status/last_failure_at.
func (s *Store) RecordDecoyFailure(ctx context.Context, decoyID int64, newStatus DecoyStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE decoys SET failure_count = failure_count + 1, status = ?, last_failure_at = ?, updated_at = ? WHERE id = ?`,
		string(newStatus), nowStr(), nowStr(), decoyID,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: record decoy failure: %v", ErrTransient, err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT failure_count FROM decoys WHERE id = ?`, decoyID).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: read failure_count: %v", ErrTransient, err)
	}
	return count, nil
}

// ResetDecoy clears failure_count and sets status, used by restart_decoy.
func (s *Store) ResetDecoy(ctx context.Context, decoyID int64, status DecoyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE decoys SET failure_count = 0, status = ?, updated_at = ? WHERE id = ?`, string(status), nowStr(), decoyID)
	if err != nil {
		return fmt.Errorf("%w: reset decoy: %v", ErrTransient, err)
	}
	return nil
}
