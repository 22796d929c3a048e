package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"avl_gateway/internal/directory"
	"avl_gateway/internal/metrics"
	"avl_gateway/internal/storage"
)

// fakeStore implements storage.Store in memory for handler tests.
type fakeStore struct {
	vehicles  []storage.Vehicle
	reports   []storage.ReportSummary
	lastLimit int
}

func (f *fakeStore) VehicleByIMEI(ctx context.Context, imei string) (*storage.Vehicle, error) {
	for i := range f.vehicles {
		if f.vehicles[i].IMEI == imei {
			return &f.vehicles[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) AddVehicle(ctx context.Context, imei, regNo string) (*storage.Vehicle, error) {
	v := storage.Vehicle{ID: int64(len(f.vehicles) + 1), IMEI: imei, RegNo: regNo}
	f.vehicles = append(f.vehicles, v)
	return &v, nil
}

func (f *fakeStore) ListVehicles(ctx context.Context) ([]storage.Vehicle, error) {
	return f.vehicles, nil
}

func (f *fakeStore) InsertReport(ctx context.Context, r storage.Report) error { return nil }

func (f *fakeStore) RecentReports(ctx context.Context, limit int) ([]storage.ReportSummary, error) {
	f.lastLimit = limit
	return f.reports, nil
}

func (f *fakeStore) Close() error { return nil }

// fakeArchive implements ArchiveReader in memory for handler tests.
type fakeArchive struct {
	records   []storage.ArchiveRecord
	lastIMEI  string
	lastLimit int
}

func (f *fakeArchive) Count(ctx context.Context, imei string) (uint64, error) {
	return uint64(len(f.records)), nil
}

func (f *fakeArchive) RecentByIMEI(ctx context.Context, imei string, limit int) ([]storage.ArchiveRecord, error) {
	f.lastIMEI, f.lastLimit = imei, limit
	return f.records, nil
}

func (f *fakeArchive) ActivityCounts(ctx context.Context) (map[uint16]uint64, error) {
	counts := make(map[uint16]uint64)
	for _, r := range f.records {
		counts[r.ActivityID]++
	}
	return counts, nil
}

func newTestServer(store *fakeStore, cfg Config) (*Server, *directory.Directory) {
	dir := directory.New(store, time.Minute)
	return NewServer(store, dir, cfg), dir
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(&fakeStore{}, Config{Port: 8081})
	router := server.Router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	store := &fakeStore{vehicles: []storage.Vehicle{{ID: 1, IMEI: "356307042441013", RegNo: "T1"}}}
	server, dir := newTestServer(store, Config{Port: 8081, Backlog: func() int { return 3 }})

	// Warm the cache so the status reflects it.
	if _, err := dir.Resolve(context.Background(), "356307042441013"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", resp.Status)
	}
	if resp.VehiclesCached != 1 {
		t.Errorf("expected 1 cached vehicle, got %d", resp.VehiclesCached)
	}
	if resp.PoolBacklog != 3 {
		t.Errorf("expected backlog 3, got %d", resp.PoolBacklog)
	}
}

func TestActivitiesEndpoint(t *testing.T) {
	server, _ := newTestServer(&fakeStore{}, Config{Port: 8081})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/activities", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp []ActivityResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp) != 50 {
		t.Errorf("expected 50 activities, got %d", len(resp))
	}
	if resp[0].ID != 1 || resp[0].Name != "Movement/Logging (Default)" {
		t.Errorf("first activity = %+v", resp[0])
	}
}

func TestAddVehicle(t *testing.T) {
	store := &fakeStore{vehicles: []storage.Vehicle{{ID: 1, IMEI: "356307042441013", RegNo: "OLD"}}}
	server, dir := newTestServer(store, Config{Port: 8081})
	router := server.Router()

	// Cache the old registration the way a live session would have.
	if _, err := dir.Resolve(context.Background(), "356307042441013"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dir.CacheSize() != 1 {
		t.Fatalf("cache size = %d before registration, want 1", dir.CacheSize())
	}

	body := `{"imei": "356307042441013", "reg_no": "T123ABC"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/vehicles", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp VehicleResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.IMEI != "356307042441013" || resp.RegNo != "T123ABC" {
		t.Errorf("created vehicle = %+v", resp)
	}
	if dir.CacheSize() != 0 {
		t.Errorf("cache size = %d after re-registration, want 0", dir.CacheSize())
	}
}

func TestAddVehicleValidation(t *testing.T) {
	server, _ := newTestServer(&fakeStore{}, Config{Port: 8081})
	router := server.Router()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "invalid json",
			body:       "not json",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "short imei",
			body:       `{"imei": "12345", "reg_no": "T1"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "non-digit imei",
			body:       `{"imei": "35630704244101X", "reg_no": "T1"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing reg_no",
			body:       `{"imei": "356307042441013"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/vehicles", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			var resp map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&resp); err == nil {
				if resp["error"] == "" {
					t.Error("expected an error message")
				}
			}
		})
	}
}

func TestListVehicles(t *testing.T) {
	store := &fakeStore{vehicles: []storage.Vehicle{
		{ID: 1, IMEI: "356307042441013", RegNo: "T1"},
		{ID: 2, IMEI: "531360808494930", RegNo: "T2"},
	}}
	server, _ := newTestServer(store, Config{Port: 8081})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/vehicles", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp []VehicleResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp) != 2 {
		t.Errorf("expected 2 vehicles, got %d", len(resp))
	}
}

func TestGetVehicle(t *testing.T) {
	store := &fakeStore{vehicles: []storage.Vehicle{
		{ID: 1, IMEI: "356307042441013", RegNo: "T123ABC"},
	}}
	server, _ := newTestServer(store, Config{Port: 8081})
	router := server.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/vehicles/356307042441013", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp VehicleResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.IMEI != "356307042441013" || resp.RegNo != "T123ABC" {
		t.Errorf("vehicle = %+v", resp)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/vehicles/531360808494930", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unregistered imei: expected status 404, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/vehicles/bogus", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad imei: expected status 400, got %d", rec.Code)
	}
}

func TestRecentReports(t *testing.T) {
	store := &fakeStore{reports: []storage.ReportSummary{
		{ID: 9, VehicleID: 1, RegNo: "T1", Success: true, CreatedAt: time.Unix(1717000000, 0)},
	}}
	server, _ := newTestServer(store, Config{Port: 8081})
	router := server.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if store.lastLimit != 50 {
		t.Errorf("default limit = %d, want 50", store.lastLimit)
	}
	var resp []ReportResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].ID != 9 || !resp[0].Success {
		t.Errorf("reports = %+v", resp)
	}

	for _, bad := range []string{"0", "1001", "abc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reports?limit="+bad, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected status 400, got %d", bad, rec.Code)
		}
	}
}

func TestArchiveStats(t *testing.T) {
	archive := &fakeArchive{records: []storage.ArchiveRecord{
		{ActivityID: 1}, {ActivityID: 1}, {ActivityID: 8},
	}}
	server, _ := newTestServer(&fakeStore{}, Config{Port: 8081, Archive: archive})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/archive/stats", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp ArchiveStatsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Records != 3 {
		t.Errorf("expected 3 records, got %d", resp.Records)
	}
	if len(resp.Activities) != 2 {
		t.Fatalf("expected 2 activity rows, got %d", len(resp.Activities))
	}
	if resp.Activities[0].ID != 1 || resp.Activities[0].Count != 2 {
		t.Errorf("first row = %+v, want id 1 count 2", resp.Activities[0])
	}
	if resp.Activities[1].Name != "Panic Button (Driver)" {
		t.Errorf("second row name = %q", resp.Activities[1].Name)
	}
}

func TestArchiveRecords(t *testing.T) {
	archive := &fakeArchive{records: []storage.ArchiveRecord{{
		IMEI:       "356307042441013",
		RegNo:      "T123ABC",
		RecordedAt: time.Unix(1717000000, 0).UTC(),
		Latitude:   -6.7924,
		Longitude:  39.2083,
		Speed:      62,
		ActivityID: 2,
		Rule:       "ignition",
		IOJSON:     `{"239":"1"}`,
	}}}
	server, _ := newTestServer(&fakeStore{}, Config{Port: 8081, Archive: archive})
	router := server.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/archive/records?imei=356307042441013", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if archive.lastIMEI != "356307042441013" || archive.lastLimit != 100 {
		t.Errorf("query = imei %q limit %d, want fixture imei and default 100", archive.lastIMEI, archive.lastLimit)
	}
	var resp []ArchiveRecordResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("expected 1 record, got %d", len(resp))
	}
	row := resp[0]
	if row.Activity != "Engine ON" || row.Rule != "ignition" {
		t.Errorf("record = activity %q rule %q", row.Activity, row.Rule)
	}
	if !strings.Contains(string(row.IO), `"239":"1"`) {
		t.Errorf("io = %s, want element 239", row.IO)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/archive/records?imei=bogus", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad imei: expected status 400, got %d", rec.Code)
	}
}

func TestArchiveRoutesAbsentWithoutArchive(t *testing.T) {
	server, _ := newTestServer(&fakeStore{}, Config{Port: 8081})

	for _, path := range []string{"/api/v1/archive/stats", "/api/v1/archive/records?imei=356307042441013"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected status 404, got %d", path, rec.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ConnectionsTotal.Inc()

	server, _ := newTestServer(&fakeStore{}, Config{Port: 8081, Gatherer: reg})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "avl_connections_total 1") {
		t.Errorf("metrics output missing counter:\n%s", rec.Body.String())
	}
}

func TestValidIMEI(t *testing.T) {
	tests := []struct {
		imei string
		want bool
	}{
		{"356307042441013", true},
		{"35630704244101", false},
		{"3563070424410134", false},
		{"35630704244101X", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := validIMEI(tt.imei); got != tt.want {
			t.Errorf("validIMEI(%q) = %v, want %v", tt.imei, got, tt.want)
		}
	}
}
