package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// PostgresDB wraps a PostgreSQL connection pool.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool to PostgreSQL.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresDB, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Test the connection.
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Close closes the PostgreSQL connection pool.
func (d *PostgresDB) Close() error {
	d.pool.Close()
	return nil
}

// CreateSchema creates the PostgreSQL tables.
func (d *PostgresDB) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS device_imeis (
		id              SERIAL PRIMARY KEY,
		imei_number     TEXT NOT NULL UNIQUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS customers (
		id              SERIAL PRIMARY KEY,
		name            TEXT,
		email           TEXT UNIQUE,
		phone           TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS vehicles (
		id                  SERIAL PRIMARY KEY,
		registration_number TEXT NOT NULL UNIQUE,
		customer_id         INTEGER REFERENCES customers(id) ON DELETE SET NULL,
		imei_id             INTEGER NOT NULL UNIQUE REFERENCES device_imeis(id) ON DELETE CASCADE,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_vehicles_registration ON vehicles(registration_number);

	-- Audit log: one row per device frame that produced a transmission.
	CREATE TABLE IF NOT EXISTS reported_data (
		id              BIGSERIAL PRIMARY KEY,
		vehicle_id      INTEGER NOT NULL REFERENCES vehicles(id) ON DELETE CASCADE,
		raw_data        JSONB NOT NULL,
		processed_data  JSONB NOT NULL,
		latra_response  JSONB,
		is_success      BOOLEAN NOT NULL DEFAULT FALSE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_reported_data_vehicle ON reported_data(vehicle_id);
	CREATE INDEX IF NOT EXISTS idx_reported_data_created ON reported_data(created_at);
	`

	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	// Partial index for failure triage.
	_, _ = d.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_reported_data_failed ON reported_data(created_at) WHERE is_success = FALSE`)

	return nil
}

// VehicleByIMEI looks up the vehicle owning a tracker IMEI. Returns
// (nil, nil) when the IMEI is not registered.
func (d *PostgresDB) VehicleByIMEI(ctx context.Context, imei string) (*Vehicle, error) {
	var v Vehicle
	var customer *string
	err := d.pool.QueryRow(ctx, `
		SELECT v.id, di.imei_number, v.registration_number, c.name
		FROM vehicles v
		JOIN device_imeis di ON di.id = v.imei_id
		LEFT JOIN customers c ON c.id = v.customer_id
		WHERE di.imei_number = $1
	`, imei).Scan(&v.ID, &v.IMEI, &v.RegNo, &customer)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if customer != nil {
		v.Customer = *customer
	}
	return &v, nil
}

// AddVehicle registers a vehicle for an IMEI, updating the registration
// number if the IMEI is already known.
func (d *PostgresDB) AddVehicle(ctx context.Context, imei, regNo string) (*Vehicle, error) {
	var id int64
	err := d.pool.QueryRow(ctx, `
		WITH di AS (
			INSERT INTO device_imeis (imei_number) VALUES ($1)
			ON CONFLICT (imei_number) DO UPDATE SET updated_at = NOW()
			RETURNING id
		)
		INSERT INTO vehicles (registration_number, imei_id)
		SELECT $2, di.id FROM di
		ON CONFLICT (imei_id) DO UPDATE SET
			registration_number = EXCLUDED.registration_number,
			updated_at = NOW()
		RETURNING id
	`, imei, regNo).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("add vehicle: %w", err)
	}
	return &Vehicle{ID: id, IMEI: imei, RegNo: regNo}, nil
}

// ListVehicles returns all registered vehicles ordered by registration.
func (d *PostgresDB) ListVehicles(ctx context.Context) ([]Vehicle, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT v.id, di.imei_number, v.registration_number, COALESCE(c.name, '')
		FROM vehicles v
		JOIN device_imeis di ON di.id = v.imei_id
		LEFT JOIN customers c ON c.id = v.customer_id
		ORDER BY v.registration_number
	`)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	defer rows.Close()

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
func (d *PostgresDB) InsertReport(ctx context.Context, r Report) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO reported_data (vehicle_id, raw_data, processed_data, latra_response, is_success)
		VALUES ($1, $2, $3, $4, $5)
	`, r.VehicleID, r.RawData, r.Processed, r.Response, r.Success)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// RecentReports returns the newest audit rows, newest first.
func (d *PostgresDB) RecentReports(ctx context.Context, limit int) ([]ReportSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.pool.Query(ctx, `
		SELECT rd.id, rd.vehicle_id, v.registration_number, rd.is_success, rd.created_at
		FROM reported_data rd
		JOIN vehicles v ON v.id = rd.vehicle_id
		ORDER BY rd.id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent reports: %w", err)
	}
	defer rows.Close()

	var reports []ReportSummary
	for rows.Next() {
		var r ReportSummary
		if err := rows.Scan(&r.ID, &r.VehicleID, &r.RegNo, &r.Success, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
