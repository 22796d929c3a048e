package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// ClickHouseDB archives every decoded record for analytics. It is append
// oriented and plays no part in the ingest path decisions.
type ClickHouseDB struct {
	conn driver.Conn
}

// Conn returns the underlying ClickHouse connection for direct queries.
func (d *ClickHouseDB) Conn() driver.Conn {
	return d.conn
}

// OpenClickHouse opens a connection to ClickHouse.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	// Test the connection.
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection.
func (d *ClickHouseDB) Close() error {
	return d.conn.Close()
}

// CreateSchema creates the ClickHouse tables.
func (d *ClickHouseDB) CreateSchema(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS avl_records (
		imei            LowCardinality(String),
		reg_no          LowCardinality(String),
		recorded_at     DateTime64(3),
		priority        UInt8,
		latitude        Float64,
		longitude       Float64,
		altitude        Int16,
		bearing         UInt16,
		satellites      UInt8,
		speed           UInt16,
		event_id        UInt16,
		activity_id     UInt16,
		rule            LowCardinality(String),
		io_json         String,
		created_at      DateTime64(3) DEFAULT now64(3)
	)
	ENGINE = MergeTree()
	PARTITION BY toYYYYMM(recorded_at)
	ORDER BY (imei, recorded_at)
	SETTINGS index_granularity = 8192`

	if err := d.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// ArchiveRecord is one decoded record flattened for the archive.
type ArchiveRecord struct {
	IMEI       string
	RegNo      string
	RecordedAt time.Time
	Priority   uint8
	Latitude   float64
	Longitude  float64
	Altitude   int16
	Bearing    uint16
	Satellites uint8
	Speed      uint16
	EventID    uint16
	ActivityID uint16
	Rule       string
	IOJSON     string
}

// InsertRecords archives a batch of decoded records.
func (d *ClickHouseDB) InsertRecords(ctx context.Context, records []ArchiveRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := d.conn.PrepareBatch(ctx, `
		INSERT INTO avl_records (imei, reg_no, recorded_at, priority, latitude, longitude, altitude, bearing, satellites, speed, event_id, activity_id, rule, io_json)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		err := batch.Append(r.IMEI, r.RegNo, r.RecordedAt, r.Priority, r.Latitude, r.Longitude,
			r.Altitude, r.Bearing, r.Satellites, r.Speed, r.EventID, r.ActivityID, r.Rule, r.IOJSON)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Count returns the number of archived records, optionally for one IMEI.
func (d *ClickHouseDB) Count(ctx context.Context, imei string) (uint64, error) {
	var count uint64
	var err error
	if imei != "" {
		row := d.conn.QueryRow(ctx, "SELECT count() FROM avl_records WHERE imei = ?", imei)
		err = row.Scan(&count)
	} else {
		row := d.conn.QueryRow(ctx, "SELECT count() FROM avl_records")
		err = row.Scan(&count)
	}
	return count, err
}

// RecentByIMEI returns the newest archived records for one device.
func (d *ClickHouseDB) RecentByIMEI(ctx context.Context, imei string, limit int) ([]ArchiveRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.conn.Query(ctx, `
		SELECT imei, reg_no, recorded_at, priority, latitude, longitude, altitude, bearing, satellites, speed, event_id, activity_id, rule, io_json
		FROM avl_records
		WHERE imei = ?
		ORDER BY recorded_at DESC
		LIMIT ?
	`, imei, limit)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []ArchiveRecord
	for rows.Next() {
		var r ArchiveRecord
		err := rows.Scan(&r.IMEI, &r.RegNo, &r.RecordedAt, &r.Priority, &r.Latitude, &r.Longitude,
			&r.Altitude, &r.Bearing, &r.Satellites, &r.Speed, &r.EventID, &r.ActivityID, &r.Rule, &r.IOJSON)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return records, nil
}

// ActivityCounts returns archived record counts grouped by activity id.
func (d *ClickHouseDB) ActivityCounts(ctx context.Context) (map[uint16]uint64, error) {
	counts := make(map[uint16]uint64)
	rows, err := d.conn.Query(ctx, "SELECT activity_id, count() FROM avl_records GROUP BY activity_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id uint16
		var count uint64
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("scan activity count: %w", err)
		}
		counts[id] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity counts: %w", err)
	}
	return counts, nil
}
