// Package storage persists the vehicle registry, the transmission audit
// log and the optional decoded-record archive.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteDB is the embedded store for standalone deployments. It carries
// the same tables as the Postgres store with the IMEI flattened into the
// vehicle row.
type SQLiteDB struct {
	db *sql.DB
}

// OpenSQLite opens or creates a SQLite database at the given path. An
// empty path or ":memory:" keeps everything in memory.
func OpenSQLite(path string) (*SQLiteDB, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if err := createSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// Close closes the database connection.
func (d *SQLiteDB) Close() error {
	return d.db.Close()
}

func createSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS vehicles (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		imei                TEXT NOT NULL UNIQUE,
		registration_number TEXT NOT NULL UNIQUE,
		customer            TEXT,
		created_at          TEXT DEFAULT (datetime('now')),
		updated_at          TEXT DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS reported_data (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		vehicle_id      INTEGER NOT NULL REFERENCES vehicles(id) ON DELETE CASCADE,
		raw_data        TEXT NOT NULL,
		processed_data  TEXT NOT NULL,
		latra_response  TEXT,
		is_success      INTEGER NOT NULL DEFAULT 0,
		created_at      TEXT DEFAULT (datetime('now'))
	);

	CREATE INDEX IF NOT EXISTS idx_reported_data_vehicle ON reported_data(vehicle_id);
	CREATE INDEX IF NOT EXISTS idx_reported_data_created ON reported_data(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// VehicleByIMEI looks up the vehicle owning a tracker IMEI. Returns
// (nil, nil) when the IMEI is not registered.
func (d *SQLiteDB) VehicleByIMEI(ctx context.Context, imei string) (*Vehicle, error) {
	var v Vehicle
	var customer sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT id, imei, registration_number, customer
		FROM vehicles WHERE imei = ?
	`, imei).Scan(&v.ID, &v.IMEI, &v.RegNo, &customer)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v.Customer = customer.String
	return &v, nil
}

// AddVehicle registers a vehicle for an IMEI, updating the registration
// number if the IMEI is already known.
func (d *SQLiteDB) AddVehicle(ctx context.Context, imei, regNo string) (*Vehicle, error) {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO vehicles (imei, registration_number) VALUES (?, ?)
		ON CONFLICT(imei) DO UPDATE SET
			registration_number = excluded.registration_number,
			updated_at = datetime('now')
	`, imei, regNo)
	if err != nil {
		return nil, fmt.Errorf("add vehicle: %w", err)
	}

	var id int64
	if err := d.db.QueryRowContext(ctx, `SELECT id FROM vehicles WHERE imei = ?`, imei).Scan(&id); err != nil {
		return nil, fmt.Errorf("add vehicle: %w", err)
	}
	return &Vehicle{ID: id, IMEI: imei, RegNo: regNo}, nil
}

// ListVehicles returns all registered vehicles ordered by registration.
func (d *SQLiteDB) ListVehicles(ctx context.Context) ([]Vehicle, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, imei, registration_number, COALESCE(customer, '')
		FROM vehicles ORDER BY registration_number
	`)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var vehicles []Vehicle
	for rows.Next() {
		var v Vehicle
		if err := rows.Scan(&v.ID, &v.IMEI, &v.RegNo, &v.Customer); err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// InsertReport appends one audit row.
func (d *SQLiteDB) InsertReport(ctx context.Context, r Report) error {
	response := []byte("null")
	if len(r.Response) > 0 {
		response = r.Response
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO reported_data (vehicle_id, raw_data, processed_data, latra_response, is_success)
		VALUES (?, ?, ?, ?, ?)
	`, r.VehicleID, string(r.RawData), string(r.Processed), string(response), r.Success)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// RecentReports returns the newest audit rows, newest first.
func (d *SQLiteDB) RecentReports(ctx context.Context, limit int) ([]ReportSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT rd.id, rd.vehicle_id, v.registration_number, rd.is_success, rd.created_at
		FROM reported_data rd
		JOIN vehicles v ON v.id = rd.vehicle_id
		ORDER BY rd.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reports []ReportSummary
	for rows.Next() {
		var r ReportSummary
		var created string
		if err := rows.Scan(&r.ID, &r.VehicleID, &r.RegNo, &r.Success, &created); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		r.CreatedAt = parseSQLiteTime(created)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// parseSQLiteTime parses the datetime('now') text format. Rows written by
// other tooling may carry RFC 3339 instead.
func parseSQLiteTime(s string) time.Time {
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
