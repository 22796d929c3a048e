// Package main provides an audit-log analyzer for the AVL gateway database.
// It reports delivery rates, activity distribution, and decode health.
package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	dbPath := flag.String("db", "avl_gateway.db", "SQLite database file")
	outputFormat := flag.String("format", "text", "Output format: text, json")
	topN := flag.Int("top", 20, "Show top N items in each category")
	reg := flag.String("reg", "", "Analyze a single vehicle registration only")
	dumpRaw := flag.Int("raw", 0, "Print the N newest failed frames as hex and exit")

	flag.Parse()

	db, err := sql.Open("sqlite3", *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// Raw dump mode: one hex frame per line, the format the avldump
	// decoder reads.
	if *dumpRaw > 0 {
		dumpFailedFrames(db, *reg, *dumpRaw)
		return
	}

	report := &AnalysisReport{}

	// Run all analyses.
	fmt.Fprintf(os.Stderr, "Analyzing audit log...\n")

	report.Summary = analyzeSummary(db)
	fmt.Fprintf(os.Stderr, "  - Summary complete\n")

	report.ActivityDistribution = analyzeActivityDistribution(db, *reg, *topN)
	fmt.Fprintf(os.Stderr, "  - Activity distribution complete\n")

	report.VehicleDelivery = analyzeVehicleDelivery(db, *topN)
	fmt.Fprintf(os.Stderr, "  - Vehicle delivery complete\n")

	report.DailyVolume = analyzeDailyVolume(db, *topN)
	fmt.Fprintf(os.Stderr, "  - Daily volume complete\n")

	report.ElementCoverage = analyzeElementCoverage(db, *reg, *topN)
	fmt.Fprintf(os.Stderr, "  - Element coverage complete\n")

	report.DecodeHealth = analyzeDecodeHealth(db, *reg)
	fmt.Fprintf(os.Stderr, "  - Decode health complete\n")

	report.FailureResponses = analyzeFailures(db, *reg, *topN)
	fmt.Fprintf(os.Stderr, "  - Failure responses complete\n")

	// Output.
	if *outputFormat == "json" {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else {
		printTextReport(report)
	}
}

// AnalysisReport contains all analysis results.
type AnalysisReport struct {
	Summary              SummaryStats    `json:"summary"`
	ActivityDistribution []ActivityCount `json:"activity_distribution"`
	VehicleDelivery      []VehicleStats  `json:"vehicle_delivery"`
	DailyVolume          []DayCount      `json:"daily_volume"`
	ElementCoverage      []ElementCount  `json:"element_coverage"`
	DecodeHealth         DecodeHealth    `json:"decode_health"`
	FailureResponses     []ResponseCount `json:"failure_responses"`
}

type SummaryStats struct {
	TotalReports       int     `json:"total_reports"`
	Delivered          int     `json:"delivered"`
	Failed             int     `json:"failed"`
	DeliveryRate       float64 `json:"delivery_rate"`
	RegisteredVehicles int     `json:"registered_vehicles"`
	ReportingVehicles  int     `json:"reporting_vehicles"`
	FirstReport        string  `json:"first_report"`
	LastReport         string  `json:"last_report"`
}

type ActivityCount struct {
	ID    int     `json:"activity_id"`
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Pct   float64 `json:"percentage"`
}

type VehicleStats struct {
	RegNo        string  `json:"reg_no"`
	IMEI         string  `json:"imei"`
	Total        int     `json:"total"`
	Delivered    int     `json:"delivered"`
	Failed       int     `json:"failed"`
	DeliveryRate float64 `json:"delivery_rate"`
	LastReport   string  `json:"last_report"`
}

type DayCount struct {
	Day       string `json:"day"`
	Reports   int    `json:"reports"`
	Delivered int    `json:"delivered"`
}

type ElementCount struct {
	ID    int     `json:"id"`
	Name  string  `json:"name,omitempty"`
	Count int     `json:"count"`
	Pct   float64 `json:"percentage"`
}

type DecodeHealth struct {
	SampledReports int `json:"sampled_reports"`
	TotalRecords   int `json:"total_records"`
	NotedReports   int `json:"reports_with_parse_notes"`
	ErrorRecords   int `json:"records_with_errors"`
	NoFixRecords   int `json:"records_without_fix"`
	MovingRecords  int `json:"moving_records"`
}

type ResponseCount struct {
	Response string `json:"response"`
	Count    int    `json:"count"`
}

// auditPacket mirrors the decoded form the gateway persists with each audit
// row. Only the fields the analyses read are declared.
type auditPacket struct {
	Codec      string        `json:"codec"`
	Records    []auditRecord `json:"records"`
	ParseNotes []string      `json:"parse_notes"`
}

type auditRecord struct {
	Timestamp   int64             `json:"timestamp"`
	Latitude    float64           `json:"latitude"`
	Longitude   float64           `json:"longitude"`
	Speed       int               `json:"speed"`
	Activity    int               `json:"activity"`
	ParseErrors []string          `json:"parse_errors"`
	IO          map[string]string `json:"io"`
}

// Activity names as the regulator defines them. Kept local: the tool builds
// standalone, outside the gateway module.
var activityNames = map[int]string{
	0:  "No Event",
	1:  "Movement/Logging (Default)",
	2:  "Engine ON",
	3:  "Engine OFF",
	4:  "Speeding",
	5:  "Hash Braking",
	6:  "Hash Turning",
	7:  "Hash Acceleration",
	8:  "Panic Button (Driver)",
	9:  "Internal Battery Low",
	10: "External Power Disconnected",
	11: "Excessive Idle",
	12: "Accident",
	13: "Panic Button (Passenger)",
	14: "Device Tempering",
	15: "Black Box Data Logging",
	16: "Fuel data report",
	17: "Invalid Scan",
	18: "Engine Start",
	19: "Engine Stop",
	20: "Enter Boundary",
	21: "Leave Boundary",
	22: "Enter Checkpoint",
	23: "Leave Checkpoint",
	24: "Ibutton Scan (Regular)",
	25: "GPS Antenna Disconnected",
	26: "GPS Signal Lost",
	27: "GPS Signal Restored",
	28: "Main Power Disconnected",
	29: "Main Power Connected",
	30: "Emergency Button",
	31: "Driver Identification",
	32: "Unauthorized Driver",
	33: "Vehicle Theft",
	34: "Maintenance Alert",
	35: "Service Reminder",
	36: "Low Fuel Alert",
	37: "High Temperature Alert",
	38: "Low Temperature Alert",
	39: "Door Open",
	40: "Door Close",
	41: "Hood Open",
	42: "Hood Close",
	43: "Trunk Open",
	44: "Trunk Close",
	45: "Seatbelt Unfastened",
	46: "Seatbelt Fastened",
	47: "Airbag Deployed",
	48: "Collision Detected",
	49: "Rollover Detected",
	50: "Emergency Call",
}

// elementNames labels the I/O element ids the gateway itself gives meaning
// to. Unlisted ids show bare.
var elementNames = map[int]string{
	1:   "digital input 1",
	2:   "digital input 2",
	9:   "fuel level / analog 1",
	10:  "analog input 2",
	11:  "idle time",
	15:  "engine hours",
	16:  "total odometer",
	17:  "accelerometer X",
	18:  "accelerometer Y",
	19:  "accelerometer Z",
	21:  "gsm signal",
	24:  "speed source",
	66:  "external voltage",
	67:  "battery voltage",
	68:  "battery current",
	69:  "gnss status",
	78:  "ibutton",
	80:  "trip duration",
	113: "battery level",
	181: "gnss pdop",
	182: "gnss hdop",
	199: "trip odometer",
	205: "cell id",
	206: "area code",
	239: "journey status",
	240: "movement status",
	245: "driver card id",
	250: "trip status",
	252: "external power status",
	253: "green driving event",
}

func activityName(id int) string {
	if n, ok := activityNames[id]; ok {
		return n
	}
	return fmt.Sprintf("Unknown (%d)", id)
}

func analyzeSummary(db *sql.DB) SummaryStats {
	var stats SummaryStats

	db.QueryRow("SELECT COUNT(*) FROM reported_data").Scan(&stats.TotalReports)
	db.QueryRow("SELECT COUNT(*) FROM reported_data WHERE is_success = 1").Scan(&stats.Delivered)
	stats.Failed = stats.TotalReports - stats.Delivered
	if stats.TotalReports > 0 {
		stats.DeliveryRate = float64(stats.Delivered) / float64(stats.TotalReports) * 100
	}
	db.QueryRow("SELECT COUNT(*) FROM vehicles").Scan(&stats.RegisteredVehicles)
	db.QueryRow("SELECT COUNT(DISTINCT vehicle_id) FROM reported_data").Scan(&stats.ReportingVehicles)
	db.QueryRow("SELECT COALESCE(MIN(created_at), '') FROM reported_data").Scan(&stats.FirstReport)
	db.QueryRow("SELECT COALESCE(MAX(created_at), '') FROM reported_data").Scan(&stats.LastReport)

	return stats
}

// packetSample returns the newest processed payloads, optionally narrowed to
// one registration.
func packetSample(db *sql.DB, reg string) (*sql.Rows, error) {
	if reg != "" {
		return db.Query(`
			SELECT rd.processed_data
			FROM reported_data rd
			JOIN vehicles v ON v.id = rd.vehicle_id
			WHERE v.registration_number = ?
			ORDER BY rd.id DESC
			LIMIT 5000`, reg)
	}
	return db.Query(`
		SELECT processed_data
		FROM reported_data
		ORDER BY id DESC
		LIMIT 5000`)
}

func analyzeActivityDistribution(db *sql.DB, reg string, topN int) []ActivityCount {
	rows, err := packetSample(db, reg)
	if err != nil {
		return nil
	}
	defer rows.Close()

	counts := make(map[int]int)
	var total int
	for rows.Next() {
		var raw string
		rows.Scan(&raw)

		var pkt auditPacket
		if err := json.Unmarshal([]byte(raw), &pkt); err != nil {
			continue
		}
		for _, rec := range pkt.Records {
			counts[rec.Activity]++
			total++
		}
	}

	var results []ActivityCount
	for id, cnt := range counts {
		ac := ActivityCount{ID: id, Name: activityName(id), Count: cnt}
		if total > 0 {
			ac.Pct = float64(cnt) / float64(total) * 100
		}
		results = append(results, ac)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Count > results[j].Count
	})
	if len(results) > topN {
		results = results[:topN]
	}
	return results
}

func analyzeVehicleDelivery(db *sql.DB, topN int) []VehicleStats {
	rows, err := db.Query(`
		SELECT
			v.registration_number,
			v.imei,
			COUNT(*) as total,
			SUM(rd.is_success) as delivered,
			MAX(rd.created_at) as last_report
		FROM reported_data rd
		JOIN vehicles v ON v.id = rd.vehicle_id
		GROUP BY v.id
		ORDER BY total DESC
		LIMIT ?`, topN)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var results []VehicleStats
	for rows.Next() {
		var vs VehicleStats
		rows.Scan(&vs.RegNo, &vs.IMEI, &vs.Total, &vs.Delivered, &vs.LastReport)
		vs.Failed = vs.Total - vs.Delivered
		if vs.Total > 0 {
			vs.DeliveryRate = float64(vs.Delivered) / float64(vs.Total) * 100
		}
		results = append(results, vs)
	}
	return results
}

func analyzeDailyVolume(db *sql.DB, topN int) []DayCount {
	rows, err := db.Query(`
		SELECT date(created_at) as day, COUNT(*) as cnt, SUM(is_success)
		FROM reported_data
		GROUP BY day
		ORDER BY day DESC
		LIMIT ?`, topN)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var results []DayCount
	for rows.Next() {
		var dc DayCount
		rows.Scan(&dc.Day, &dc.Reports, &dc.Delivered)
		results = append(results, dc)
	}
	return results
}

func analyzeElementCoverage(db *sql.DB, reg string, topN int) []ElementCount {
	rows, err := packetSample(db, reg)
	if err != nil {
		return nil
	}
	defer rows.Close()

	counts := make(map[int]int)
	var total int
	for rows.Next() {
		var raw string
		rows.Scan(&raw)

		var pkt auditPacket
		if err := json.Unmarshal([]byte(raw), &pkt); err != nil {
			continue
		}
		for _, rec := range pkt.Records {
			total++
			for id := range rec.IO {
				var n int
				if _, err := fmt.Sscanf(id, "%d", &n); err != nil {
					continue
				}
				counts[n]++
			}
		}
	}

	var results []ElementCount
	for id, cnt := range counts {
		ec := ElementCount{ID: id, Name: elementNames[id], Count: cnt}
		if total > 0 {
			ec.Pct = float64(cnt) / float64(total) * 100
		}
		results = append(results, ec)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Count > results[j].Count
	})
	if len(results) > topN {
		results = results[:topN]
	}
	return results
}

func analyzeDecodeHealth(db *sql.DB, reg string) DecodeHealth {
	var health DecodeHealth

	rows, err := packetSample(db, reg)
	if err != nil {
		return health
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		rows.Scan(&raw)

		var pkt auditPacket
		if err := json.Unmarshal([]byte(raw), &pkt); err != nil {
			continue
		}
		health.SampledReports++
		if len(pkt.ParseNotes) > 0 {
			health.NotedReports++
		}
		for _, rec := range pkt.Records {
			health.TotalRecords++
			if len(rec.ParseErrors) > 0 {
				health.ErrorRecords++
			}
			if rec.Latitude == 0 && rec.Longitude == 0 {
				health.NoFixRecords++
			}
			if rec.Speed > 0 {
				health.MovingRecords++
			}
		}
	}
	return health
}

func analyzeFailures(db *sql.DB, reg string, topN int) []ResponseCount {
	query := `
		SELECT COALESCE(NULLIF(rd.latra_response, 'null'), '(no response)') as resp, COUNT(*) as cnt
		FROM reported_data rd
		JOIN vehicles v ON v.id = rd.vehicle_id
		WHERE rd.is_success = 0`
	if reg != "" {
		query += " AND v.registration_number = ?"
	}
	query += " GROUP BY resp ORDER BY cnt DESC LIMIT ?"

	var rows *sql.Rows
	var err error
	if reg != "" {
		rows, err = db.Query(query, reg, topN)
	} else {
		rows, err = db.Query(query, topN)
	}
	if err != nil {
		return nil
	}
	defer rows.Close()

	var results []ResponseCount
	for rows.Next() {
		var rc ResponseCount
		rows.Scan(&rc.Response, &rc.Count)
		rc.Response = truncate(rc.Response, 100)
		results = append(results, rc)
	}
	return results
}

func dumpFailedFrames(db *sql.DB, reg string, n int) {
	query := `
		SELECT rd.raw_data
		FROM reported_data rd
		JOIN vehicles v ON v.id = rd.vehicle_id
		WHERE rd.is_success = 0`
	if reg != "" {
		query += " AND v.registration_number = ?"
	}
	query += " ORDER BY rd.id DESC LIMIT ?"

	var rows *sql.Rows
	var err error
	if reg != "" {
		rows, err = db.Query(query, reg, n)
	} else {
		rows, err = db.Query(query, n)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error querying raw frames: %v\n", err)
		os.Exit(1)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		rows.Scan(&raw)

		var wrapper struct {
			Hex string `json:"hex"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapper); err != nil || wrapper.Hex == "" {
			continue
		}
		fmt.Println(wrapper.Hex)
	}
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func printTextReport(report *AnalysisReport) {
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println("                    AVL AUDIT LOG ANALYSIS")
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()

	// Summary.
	fmt.Println("SUMMARY")
	fmt.Println("───────")
	s := report.Summary
	fmt.Printf("Total Reports:       %d\n", s.TotalReports)
	fmt.Printf("Delivered:           %d (%.1f%%)\n", s.Delivered, s.DeliveryRate)
	fmt.Printf("Failed:              %d (%.1f%%)\n", s.Failed, 100-s.DeliveryRate)
	fmt.Printf("Registered Vehicles: %d\n", s.RegisteredVehicles)
	fmt.Printf("Reporting Vehicles:  %d\n", s.ReportingVehicles)
	if s.FirstReport != "" {
		fmt.Printf("Date Range:          %s to %s\n", s.FirstReport, s.LastReport)
	}
	fmt.Println()

	// Activity distribution.
	fmt.Println("ACTIVITY DISTRIBUTION (Records by activity, recent reports)")
	fmt.Println("─────────────────────")
	fmt.Printf("%-4s %-30s %10s %8s\n", "ID", "Activity", "Count", "Pct")
	for _, ac := range report.ActivityDistribution {
		bar := strings.Repeat("█", int(ac.Pct/5))
		fmt.Printf("%-4d %-30s %10d %7.1f%% %s\n", ac.ID, ac.Name, ac.Count, ac.Pct, bar)
	}
	fmt.Println()

	// Vehicle delivery.
	fmt.Println("DELIVERY BY VEHICLE (Reports per registration)")
	fmt.Println("───────────────────")
	fmt.Printf("%-12s %-17s %8s %10s %8s %8s  %s\n", "Reg No", "IMEI", "Total", "Delivered", "Failed", "Rate", "Last Report")
	for _, vs := range report.VehicleDelivery {
		fmt.Printf("%-12s %-17s %8d %10d %8d %7.1f%%  %s\n", vs.RegNo, vs.IMEI, vs.Total, vs.Delivered, vs.Failed, vs.DeliveryRate, vs.LastReport)
	}
	fmt.Println()

	// Daily volume.
	fmt.Println("DAILY VOLUME (Reports per day, newest first)")
	fmt.Println("────────────")
	fmt.Printf("%-12s %10s %10s\n", "Day", "Reports", "Delivered")
	for _, dc := range report.DailyVolume {
		fmt.Printf("%-12s %10d %10d\n", dc.Day, dc.Reports, dc.Delivered)
	}
	fmt.Println()

	// Element coverage.
	fmt.Println("ELEMENT COVERAGE (I/O elements present per record)")
	fmt.Println("────────────────")
	for _, ec := range report.ElementCoverage {
		name := ec.Name
		if name == "" {
			name = "-"
		}
		bar := strings.Repeat("█", int(ec.Pct/5))
		fmt.Printf("  %-6d %-24s %5.1f%% %s\n", ec.ID, name, ec.Pct, bar)
	}
	fmt.Println()

	// Decode health.
	fmt.Println("DECODE HEALTH (Recent reports)")
	fmt.Println("─────────────")
	h := report.DecodeHealth
	fmt.Printf("Sampled Reports:     %d\n", h.SampledReports)
	fmt.Printf("Total Records:       %d\n", h.TotalRecords)
	fmt.Printf("With Parse Notes:    %d\n", h.NotedReports)
	fmt.Printf("Records With Errors: %d\n", h.ErrorRecords)
	fmt.Printf("Records Without Fix: %d\n", h.NoFixRecords)
	fmt.Printf("Moving Records:      %d\n", h.MovingRecords)
	fmt.Println()

	// Failure responses.
	if len(report.FailureResponses) > 0 {
		fmt.Println("FAILURE RESPONSES (Regulator responses for failed reports)")
		fmt.Println("─────────────────")
		fmt.Printf("%8s  %s\n", "Count", "Response")
		for _, rc := range report.FailureResponses {
			fmt.Printf("%8d  %s\n", rc.Count, rc.Response)
		}
	}
}
