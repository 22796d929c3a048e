// Package ops serves the operational HTTP surface: health and status,
// the activity taxonomy, vehicle registry administration, recent audit
// rows, archive queries and prometheus metrics.
package ops

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"avl_gateway/internal/activity"
	"avl_gateway/internal/directory"
	"avl_gateway/internal/storage"
)

// ArchiveReader queries the analytics archive. The archive is optional;
// a nil reader disables the archive routes.
type ArchiveReader interface {
	Count(ctx context.Context, imei string) (uint64, error)
	RecentByIMEI(ctx context.Context, imei string, limit int) ([]storage.ArchiveRecord, error)
	ActivityCounts(ctx context.Context) (map[uint16]uint64, error)
}

// Server provides the ops API over the vehicle store and the running
// gateway's shared state.
type Server struct {
	store    storage.Store
	dir      *directory.Directory
	archive  ArchiveReader
	backlog  func() int
	gatherer prometheus.Gatherer
	port     int
	started  time.Time
}

// Config holds configuration for the ops server.
type Config struct {
	Port     int
	Gatherer prometheus.Gatherer // metrics registry; nil disables /metrics
	Archive  ArchiveReader       // analytics archive; nil disables /api/v1/archive
	Backlog  func() int          // ingest pool backlog probe; nil reports zero
}

// NewServer creates an ops server over the store and directory.
func NewServer(store storage.Store, dir *directory.Directory, cfg Config) *Server {
	backlog := cfg.Backlog
	if backlog == nil {
		backlog = func() int { return 0 }
	}
	return &Server{
		store:    store,
		dir:      dir,
		archive:  cfg.Archive,
		backlog:  backlog,
		gatherer: cfg.Gatherer,
		port:     cfg.Port,
		started:  time.Now(),
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := ":" + strconv.Itoa(s.port)
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	log.Printf("Ops API starting at http://localhost%s", addr)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Router returns the configured chi router, also used directly in tests.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	// Standard middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/activities", s.handleActivities)
		r.Get("/vehicles", s.handleListVehicles)
		r.Get("/vehicles/{imei}", s.handleGetVehicle)
		r.Post("/vehicles", s.handleAddVehicle)
		r.Get("/reports", s.handleRecentReports)
		if s.archive != nil {
			r.Get("/archive/stats", s.handleArchiveStats)
			r.Get("/archive/records", s.handleArchiveRecords)
		}
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// StatusResponse is the JSON body of /api/v1/status.
type StatusResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	VehiclesCached int    `json:"vehicles_cached"`
	PoolBacklog    int    `json:"pool_backlog"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(s.started).Seconds()),
		VehiclesCached: s.dir.CacheSize(),
		PoolBacklog:    s.backlog(),
	})
}

// ActivityResponse is one entry of the activity taxonomy listing.
type ActivityResponse struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	var out []ActivityResponse
	for id := 1; id < activity.Count(); id++ {
		if name := activity.Name(id); name != "" {
			out = append(out, ActivityResponse{ID: id, Name: name})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// VehicleResponse is the JSON form of a registered vehicle.
type VehicleResponse struct {
	ID       int64  `json:"id"`
	IMEI     string `json:"imei"`
	RegNo    string `json:"reg_no"`
	Customer string `json:"customer,omitempty"`
}

func vehicleToResponse(v storage.Vehicle) VehicleResponse {
	return VehicleResponse{ID: v.ID, IMEI: v.IMEI, RegNo: v.RegNo, Customer: v.Customer}
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := s.store.ListVehicles(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]VehicleResponse, 0, len(vehicles))
	for _, v := range vehicles {
		out = append(out, vehicleToResponse(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	imei := chi.URLParam(r, "imei")
	if !validIMEI(imei) {
		writeError(w, http.StatusBadRequest, "imei must be 15 decimal digits")
		return
	}

	vehicle, err := s.store.VehicleByIMEI(r.Context(), imei)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if vehicle == nil {
		writeError(w, http.StatusNotFound, "No vehicle registered for this IMEI")
		return
	}
	writeJSON(w, http.StatusOK, vehicleToResponse(*vehicle))
}

// AddVehicleRequest is the request body for vehicle registration.
type AddVehicleRequest struct {
	IMEI  string `json:"imei"`
	RegNo string `json:"reg_no"`
}

func (s *Server) handleAddVehicle(w http.ResponseWriter, r *http.Request) {
	var req AddVehicleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if !validIMEI(req.IMEI) {
		writeError(w, http.StatusBadRequest, "imei must be 15 decimal digits")
		return
	}
	if req.RegNo == "" {
		writeError(w, http.StatusBadRequest, "reg_no is required")
		return
	}

	vehicle, err := s.store.AddVehicle(r.Context(), req.IMEI, req.RegNo)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The next frame from this device must see the new registration.
	s.dir.Forget(req.IMEI)

	writeJSON(w, http.StatusCreated, vehicleToResponse(*vehicle))
}

// ReportResponse is one entry of the recent audit listing.
type ReportResponse struct {
	ID        int64  `json:"id"`
	VehicleID int64  `json:"vehicle_id"`
	RegNo     string `json:"reg_no"`
	Success   bool   `json:"success"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleRecentReports(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	reports, err := s.store.RecentReports(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]ReportResponse, 0, len(reports))
	for _, rep := range reports {
		out = append(out, ReportResponse{
			ID:        rep.ID,
			VehicleID: rep.VehicleID,
			RegNo:     rep.RegNo,
			Success:   rep.Success,
			CreatedAt: rep.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ArchiveStatsResponse summarizes the analytics archive.
type ArchiveStatsResponse struct {
	Records    uint64               `json:"records"`
	Activities []ArchiveActivityRow `json:"activities"`
}

// ArchiveActivityRow is one per-activity archive count.
type ArchiveActivityRow struct {
	ID    uint16 `json:"id"`
	Name  string `json:"name"`
	Count uint64 `json:"count"`
}

func (s *Server) handleArchiveStats(w http.ResponseWriter, r *http.Request) {
	total, err := s.archive.Count(r.Context(), "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	counts, err := s.archive.ActivityCounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rows := make([]ArchiveActivityRow, 0, len(counts))
	for id, n := range counts {
		rows = append(rows, ArchiveActivityRow{ID: id, Name: activity.Name(int(id)), Count: n})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	writeJSON(w, http.StatusOK, ArchiveStatsResponse{Records: total, Activities: rows})
}

// ArchiveRecordResponse is one entry of the archived record listing.
type ArchiveRecordResponse struct {
	RecordedAt string          `json:"recorded_at"`
	Priority   uint8           `json:"priority"`
	Latitude   float64         `json:"latitude"`
	Longitude  float64         `json:"longitude"`
	Altitude   int16           `json:"altitude"`
	Bearing    uint16          `json:"bearing"`
	Satellites uint8           `json:"satellites"`
	Speed      uint16          `json:"speed"`
	ActivityID uint16          `json:"activity_id"`
	Activity   string          `json:"activity"`
	Rule       string          `json:"rule"`
	IO         json.RawMessage `json:"io,omitempty"`
}

func (s *Server) handleArchiveRecords(w http.ResponseWriter, r *http.Request) {
	imei := r.URL.Query().Get("imei")
	if !validIMEI(imei) {
		writeError(w, http.StatusBadRequest, "imei must be 15 decimal digits")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	records, err := s.archive.RecentByIMEI(r.Context(), imei, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]ArchiveRecordResponse, 0, len(records))
	for _, rec := range records {
		row := ArchiveRecordResponse{
			RecordedAt: rec.RecordedAt.UTC().Format(time.RFC3339),
			Priority:   rec.Priority,
			Latitude:   rec.Latitude,
			Longitude:  rec.Longitude,
			Altitude:   rec.Altitude,
			Bearing:    rec.Bearing,
			Satellites: rec.Satellites,
			Speed:      rec.Speed,
			ActivityID: rec.ActivityID,
			Activity:   activity.Name(int(rec.ActivityID)),
			Rule:       rec.Rule,
		}
		if rec.IOJSON != "" && rec.IOJSON != "null" {
			row.IO = json.RawMessage(rec.IOJSON)
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, out)
}

func validIMEI(s string) bool {
	if len(s) != 15 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Helper functions.

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
