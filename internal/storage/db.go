// Package storage is the embedded relational store for the sensor core. It
// holds devices, fingerprints, trust, the event log, alerts, incidents,
// decoys, credentials, connections, baselines, port scans, service
// profiles, virtual IPs, and mimic templates behind a single schema-
// versioned SQLite database.
package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite "modernc.org/sqlite" // pure-Go driver, no CGO

	"github.com/rocketweb/squirrelops-sensor/internal/clock"
)

// SchemaVersion is the current additive schema version. Migrations only
// ever ADD COLUMN or CREATE TABLE IF NOT EXISTS; nothing is ever dropped
// or renamed in place.
const SchemaVersion = 7

func init() {
	_ = sqlite.RegisterScalarFunction("datetime", -1, datetimeFunc)
	_ = sqlite.RegisterScalarFunction("strftime", -1, strftimeFunc)
}

// datetimeFunc makes SQLite's datetime('now', ...) respect clock.Now()
// instead of the system clock, so retention and incident-window tests can
// control time deterministically. Non-"now" base times are parsed and the
// same relative modifiers (e.g. "-5 minutes", "-30 days") are applied, so
// window comparisons like datetime(last_alert_at, '-N minutes') still work.
func datetimeFunc(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	base := clock.Now().UTC()
	start := 0
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			if !strings.EqualFold(s, "now") {
				if t, err := parseSQLiteTime(s); err == nil {
					base = t
				}
			}
			start = 1
		}
	}
	for _, a := range args[start:] {
		mod, ok := a.(string)
		if !ok {
			continue
		}
		base = applyModifier(base, mod)
	}
	return base.Format("2006-01-02 15:04:05"), nil
}

func parseSQLiteTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999Z07:00", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format: %q", s)
}

// applyModifier applies a single SQLite time modifier of the form
// "[+-]N unit" (unit ∈ days/hours/minutes/seconds). Unrecognized modifiers
// are ignored, matching SQLite's own lenient behavior.
func applyModifier(t time.Time, mod string) time.Time {
	mod = strings.TrimSpace(mod)
	var n int
	var unit string
	if _, err := fmt.Sscanf(mod, "%d %s", &n, &unit); err != nil {
		return t
	}
	unit = strings.TrimSuffix(strings.ToLower(unit), "s")
	d := time.Duration(n)
	switch unit {
	case "day":
		return t.AddDate(0, 0, n)
	case "hour":
		return t.Add(d * time.Hour)
	case "minute":
		return t.Add(d * time.Minute)
	case "second":
		return t.Add(d * time.Second)
	default:
		return t
	}
}

func strftimeFunc(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) < 2 {
		return nil, errors.New("strftime requires at least 2 arguments")
	}
	format, ok := args[0].(string)
	if !ok {
		return nil, errors.New("strftime format must be a string")
	}
	if s, ok := args[1].(string); ok && strings.EqualFold(s, "now") {
		return clock.Now().UTC().Format(sqliteToGoFormat(format)), nil
	}
	return "", nil
}

func sqliteToGoFormat(f string) string {
	r := strings.NewReplacer(
		"%Y", "2006", "%m", "01", "%d", "02",
		"%H", "15", "%M", "04", "%S", "05",
	)
	return r.Replace(f)
}

// Store wraps a single-writer SQLite database. Per the concurrency model,
// one connection is used sensor-wide; writes are serialized through it.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Options configure Store construction.
type Options struct {
	Path string // filesystem path, or ":memory:" for tests
}

// Open creates (if needed) and migrates the schema at opts.Path.
func Open(opts Options) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", opts.Path)
	if opts.Path == ":memory:" {
		dsn = "file::memory:?cache=shared&_pragma=foreign_keys(ON)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrStateCorruption, err)
	}
	db.SetMaxOpenConns(1) // single writer, per the concurrency model

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for packages that need direct query
// access beyond the typed helpers (e.g. incident/retention sweeps).
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("%w: schema_migrations: %v", ErrStateCorruption, err)
	}

	for v := 1; v <= SchemaVersion; v++ {
		var applied int
		row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, v)
		if err := row.Scan(&applied); err != nil {
			return fmt.Errorf("%w: checking migration %d: %v", ErrStateCorruption, v, err)
		}
		if applied > 0 {
			continue
		}
		stmt, ok := migrations[v]
		if !ok {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: begin migration %d: %v", ErrTransient, v, err)
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: apply migration %d: %v", ErrStateCorruption, v, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, v, clock.Now().UTC().Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: record migration %d: %v", ErrStateCorruption, v, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit migration %d: %v", ErrTransient, v, err)
		}
	}
	return nil
}

// migrations is the ordered, additive set of DDL statements. Each entry is
// idempotent (IF NOT EXISTS / ADD COLUMN) so re-running a version is safe.
var migrations = map[int]string{
	1: `
	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		source_id TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);

	CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ip_address TEXT NOT NULL,
		mac_address TEXT,
		hostname TEXT,
		vendor TEXT,
		device_type TEXT NOT NULL DEFAULT 'unknown',
		model_name TEXT,
		area TEXT,
		custom_name TEXT,
		notes TEXT,
		is_online INTEGER NOT NULL DEFAULT 1,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_devices_mac ON devices(mac_address) WHERE mac_address IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_devices_ip ON devices(ip_address);
	`,
	2: `
	CREATE TABLE IF NOT EXISTS device_fingerprints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
		mac TEXT,
		mdns_hostname TEXT,
		dhcp_hash TEXT,
		connection_pattern_hash TEXT,
		open_ports_hash TEXT,
		composite_hash TEXT,
		signal_count INTEGER NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 0,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fingerprints_device ON device_fingerprints(device_id);

	CREATE TABLE IF NOT EXISTS device_trust (
		device_id INTEGER PRIMARY KEY REFERENCES devices(id) ON DELETE CASCADE,
		status TEXT NOT NULL DEFAULT 'unknown',
		approved_by TEXT,
		updated_at TEXT NOT NULL
	);
	`,
	3: `
	CREATE TABLE IF NOT EXISTS incidents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_ip TEXT NOT NULL,
		source_mac TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		severity TEXT NOT NULL,
		alert_count INTEGER NOT NULL DEFAULT 0,
		first_alert_at TEXT NOT NULL,
		last_alert_at TEXT NOT NULL,
		closed_at TEXT,
		summary TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_source_status ON incidents(source_ip, status);

	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_id INTEGER REFERENCES incidents(id) ON DELETE SET NULL,
		alert_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		detail TEXT,
		source_ip TEXT,
		source_mac TEXT,
		device_id INTEGER REFERENCES devices(id) ON DELETE SET NULL,
		decoy_id INTEGER,
		event_seq INTEGER,
		read_at TEXT,
		actioned_at TEXT,
		action_note TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_incident ON alerts(incident_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
	`,
	4: `
	CREATE TABLE IF NOT EXISTS decoys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		decoy_type TEXT NOT NULL,
		bind_address TEXT NOT NULL,
		port INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'stopped',
		config TEXT,
		connection_count INTEGER NOT NULL DEFAULT 0,
		credential_trip_count INTEGER NOT NULL DEFAULT 0,
		failure_count INTEGER NOT NULL DEFAULT 0,
		last_failure_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS planted_credentials (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		credential_type TEXT NOT NULL,
		credential_value TEXT NOT NULL,
		canary_hostname TEXT,
		planted_location TEXT,
		decoy_id INTEGER REFERENCES decoys(id) ON DELETE CASCADE,
		tripped INTEGER NOT NULL DEFAULT 0,
		first_tripped_at TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_credentials_decoy ON planted_credentials(decoy_id);

	CREATE TABLE IF NOT EXISTS decoy_connections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		decoy_id INTEGER NOT NULL REFERENCES decoys(id) ON DELETE CASCADE,
		source_ip TEXT NOT NULL,
		source_mac TEXT,
		port INTEGER NOT NULL,
		protocol TEXT,
		request_path TEXT,
		credential_used TEXT,
		credential_id INTEGER,
		event_seq INTEGER,
		timestamp TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decoy_connections_decoy ON decoy_connections(decoy_id);

	CREATE TABLE IF NOT EXISTS canary_observations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		credential_id INTEGER NOT NULL REFERENCES planted_credentials(id) ON DELETE CASCADE,
		canary_hostname TEXT NOT NULL,
		queried_by_ip TEXT NOT NULL,
		queried_by_mac TEXT,
		event_seq INTEGER,
		observed_at TEXT NOT NULL
	);
	`,
	5: `
	CREATE TABLE IF NOT EXISTS connection_baselines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
		dest_ip TEXT NOT NULL,
		dest_port INTEGER NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 1,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL,
		UNIQUE(device_id, dest_ip, dest_port)
	);

	CREATE TABLE IF NOT EXISTS device_open_ports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
		port INTEGER NOT NULL,
		protocol TEXT NOT NULL,
		service_name TEXT,
		banner TEXT,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL,
		UNIQUE(device_id, port, protocol)
	);

	CREATE TABLE IF NOT EXISTS security_insight_state (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
		insight_key TEXT NOT NULL,
		alert_id INTEGER NOT NULL,
		dismissed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		resolved_at TEXT,
		UNIQUE(device_id, insight_key)
	);
	`,
	6: `
	CREATE TABLE IF NOT EXISTS service_profiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
		port INTEGER NOT NULL,
		protocol TEXT NOT NULL,
		http_status INTEGER,
		headers TEXT,
		body_snippet TEXT,
		favicon_hash TEXT,
		tls_common_name TEXT,
		tls_issuer TEXT,
		tls_not_after TEXT,
		banner TEXT,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL,
		UNIQUE(device_id, port, protocol)
	);

	CREATE TABLE IF NOT EXISTS virtual_ips (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ip_address TEXT NOT NULL UNIQUE,
		interface TEXT NOT NULL,
		decoy_id INTEGER,
		created_at TEXT NOT NULL,
		released_at TEXT
	);

	CREATE TABLE IF NOT EXISTS mimic_templates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
		category TEXT NOT NULL,
		route_table TEXT,
		server_header TEXT,
		credential_strategy TEXT,
		mdns_service_type TEXT,
		mdns_name TEXT,
		ports TEXT,
		created_at TEXT NOT NULL
	);
	`,
	7: `
	CREATE TABLE IF NOT EXISTS sensor_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`,
}

func nowStr() string {
	return clock.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func timePtrStr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}
