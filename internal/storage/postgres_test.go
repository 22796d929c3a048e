package storage

import (
	"context"
	"encoding/json"
	"os"
	"testing"
)

// setupTestPostgres creates a test database connection.
// Returns nil if no PostgreSQL connection is available.
func setupTestPostgres(t *testing.T) *PostgresDB {
	t.Helper()

	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}
	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		user = "avl"
	}
	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		password = "avl"
	}
	database := os.Getenv("POSTGRES_DB")
	if database == "" {
		database = "avl_gateway"
	}

	ctx := context.Background()
	pg, err := OpenPostgres(ctx, PostgresConfig{
		Host:     host,
		Port:     5432,
		User:     user,
		Password: password,
		Database: database,
	})
	if err != nil {
		return nil
	}

	// Ensure schema exists.
	if err := pg.CreateSchema(ctx); err != nil {
		_ = pg.Close()
		return nil
	}

	return pg
}

func TestPostgresVehicleRoundTrip(t *testing.T) {
	pg := setupTestPostgres(t)
	if pg == nil {
		t.Skip("No PostgreSQL connection available")
	}
	defer func() { _ = pg.Close() }()

	ctx := context.Background()
	const testIMEI = "999990000000001"

	cleanup := func() {
		_, _ = pg.pool.Exec(ctx, `DELETE FROM reported_data WHERE vehicle_id IN (
			SELECT v.id FROM vehicles v JOIN device_imeis di ON di.id = v.imei_id WHERE di.imei_number = $1)`, testIMEI)
		_, _ = pg.pool.Exec(ctx, `DELETE FROM vehicles WHERE imei_id IN (
			SELECT id FROM device_imeis WHERE imei_number = $1)`, testIMEI)
		_, _ = pg.pool.Exec(ctx, `DELETE FROM device_imeis WHERE imei_number = $1`, testIMEI)
	}
	cleanup()
	defer cleanup()

	v, err := pg.VehicleByIMEI(ctx, testIMEI)
	if err != nil {
		t.Fatalf("VehicleByIMEI() error = %v", err)
	}
	if v != nil {
		t.Fatalf("VehicleByIMEI() before registration = %+v, want nil", v)
	}

	added, err := pg.AddVehicle(ctx, testIMEI, "T999TEST")
	if err != nil {
		t.Fatalf("AddVehicle() error = %v", err)
	}

	v, err = pg.VehicleByIMEI(ctx, testIMEI)
	if err != nil {
		t.Fatalf("VehicleByIMEI() error = %v", err)
	}
	if v == nil || v.ID != added.ID || v.RegNo != "T999TEST" {
		t.Fatalf("VehicleByIMEI() = %+v, want id=%d reg=T999TEST", v, added.ID)
	}

	// Same IMEI, new plate: the row is updated in place.
	if _, err := pg.AddVehicle(ctx, testIMEI, "T999NEW"); err != nil {
		t.Fatalf("AddVehicle() update error = %v", err)
	}
	v, err = pg.VehicleByIMEI(ctx, testIMEI)
	if err != nil {
		t.Fatalf("VehicleByIMEI() error = %v", err)
	}
	if v.ID != added.ID || v.RegNo != "T999NEW" {
		t.Errorf("after update got id=%d reg=%s, want id=%d reg=T999NEW", v.ID, v.RegNo, added.ID)
	}

	err = pg.InsertReport(ctx, Report{
		VehicleID: v.ID,
		IMEI:      testIMEI,
		RawData:   json.RawMessage(`{"hex":"00"}`),
		Processed: json.RawMessage(`{"records":0}`),
		Response:  json.RawMessage(`{"status":"ok"}`),
		Success:   true,
	})
	if err != nil {
		t.Fatalf("InsertReport() error = %v", err)
	}

	recent, err := pg.RecentReports(ctx, 10)
	if err != nil {
		t.Fatalf("RecentReports() error = %v", err)
	}
	found := false
	for _, r := range recent {
		if r.VehicleID == v.ID && r.RegNo == "T999NEW" && r.Success {
			found = true
		}
	}
	if !found {
		t.Error("RecentReports() missing the inserted report")
	}
}
