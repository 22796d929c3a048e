package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Vehicle is a registered vehicle with its tracker IMEI.
type Vehicle struct {
	ID       int64
	IMEI     string
	RegNo    string
	Customer string
}

// Report is one audit row: the raw frame, what was decoded from it and
// what the regulator answered.
type Report struct {
	VehicleID int64
	IMEI      string
	RawData   json.RawMessage
	Processed json.RawMessage
	Response  json.RawMessage
	Success   bool
}

// ReportSummary is a trimmed audit row for listings.
type ReportSummary struct {
	ID        int64
	VehicleID int64
	RegNo     string
	Success   bool
	CreatedAt time.Time
}

// Store is the vehicle registry and audit log. Postgres backs shared
// deployments, SQLite backs standalone ones.
type Store interface {
	VehicleByIMEI(ctx context.Context, imei string) (*Vehicle, error)
	AddVehicle(ctx context.Context, imei, regNo string) (*Vehicle, error)
	ListVehicles(ctx context.Context) ([]Vehicle, error)
	InsertReport(ctx context.Context, r Report) error
	RecentReports(ctx context.Context, limit int) ([]ReportSummary, error)
	Close() error
}

// Config holds settings for all storage backends. A Postgres host selects
// Postgres, otherwise the SQLite path is used. ClickHouse is enabled by
// its host and only archives decoded records.
type Config struct {
	Postgres   PostgresConfig
	SQLitePath string
	ClickHouse ClickHouseConfig
}

// DefaultConfig returns local development settings.
func DefaultConfig() Config {
	return Config{
		Postgres: PostgresConfig{
			Port:     5432,
			Database: "avl_gateway",
			User:     "avl",
			Password: "avl",
		},
		SQLitePath: "avl_gateway.db",
		ClickHouse: ClickHouseConfig{
			Port:     9000,
			Database: "avl",
			User:     "default",
		},
	}
}

// DB bundles the vehicle store with the optional record archive.
type DB struct {
	Store   Store
	PG      *PostgresDB   // nil when running on SQLite
	Archive *ClickHouseDB // nil when archiving is disabled
}

// Open connects the configured backends.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	d := &DB{}

	if cfg.Postgres.Host != "" {
		pg, err := OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		d.PG = pg
		d.Store = pg
	} else {
		lite, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		d.Store = lite
	}

	if cfg.ClickHouse.Host != "" {
		ch, err := OpenClickHouse(ctx, cfg.ClickHouse)
		if err != nil {
			_ = d.Store.Close()
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		d.Archive = ch
	}

	return d, nil
}

// CreateSchemas creates tables on the backends that need an explicit step.
// The SQLite store builds its schema when opened.
func (d *DB) CreateSchemas(ctx context.Context) error {
	if d.PG != nil {
		if err := d.PG.CreateSchema(ctx); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
	}
	if d.Archive != nil {
		if err := d.Archive.CreateSchema(ctx); err != nil {
			return fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return nil
}

// Close closes every open backend.
func (d *DB) Close() error {
	var first error
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			first = err
		}
	}
	if d.Archive != nil {
		if err := d.Archive.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
