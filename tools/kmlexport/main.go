// Package main provides a tool to export vehicle tracks from the AVL gateway
// database to KML format. KML (Keyhole Markup Language) files can be viewed
// in Google Earth, Google Maps, and other mapping applications.
package main

import (
	"database/sql"
	"encoding/json"
	"encoding/xml"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// KML structures for XML marshalling.
// These follow the KML 2.2 specification: https://developers.google.com/kml/documentation/kmlreference

// KML is the root element of a KML document.
type KML struct {
	XMLName   xml.Name `xml:"kml"`
	Namespace string   `xml:"xmlns,attr"`
	Document  Document `xml:"Document"`
}

// Document contains the document metadata and features.
type Document struct {
	Name        string      `xml:"name"`
	Description string      `xml:"description,omitempty"`
	Styles      []Style     `xml:"Style,omitempty"`
	Placemarks  []Placemark `xml:"Placemark"`
}

// Style defines the visual appearance of features.
type Style struct {
	ID        string     `xml:"id,attr"`
	IconStyle *IconStyle `xml:"IconStyle,omitempty"`
	LineStyle *LineStyle `xml:"LineStyle,omitempty"`
}

// IconStyle defines how icons are displayed.
type IconStyle struct {
	Scale float64 `xml:"scale,omitempty"`
	Icon  Icon    `xml:"Icon"`
}

// Icon specifies the icon image.
type Icon struct {
	Href string `xml:"href"`
}

// LineStyle defines how track lines are drawn. Color is aabbggrr.
type LineStyle struct {
	Color string `xml:"color"`
	Width int    `xml:"width"`
}

// Placemark represents a geographic feature with geometry and metadata.
type Placemark struct {
	Name         string        `xml:"name"`
	Description  string        `xml:"description,omitempty"`
	StyleURL     string        `xml:"styleUrl,omitempty"`
	Point        *Point        `xml:"Point,omitempty"`
	LineString   *LineString   `xml:"LineString,omitempty"`
	ExtendedData *ExtendedData `xml:"ExtendedData,omitempty"`
}

// Point represents a geographic location.
type Point struct {
	Coordinates string `xml:"coordinates"` // Format: lon,lat,altitude
}

// LineString represents an ordered sequence of positions.
type LineString struct {
	Tessellate  int    `xml:"tessellate"`
	Coordinates string `xml:"coordinates"`
}

// ExtendedData holds custom data associated with a placemark.
type ExtendedData struct {
	Data []Data `xml:"Data"`
}

// Data represents a single piece of extended data.
type Data struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

// TrackPoint is one decoded position from the audit log.
type TrackPoint struct {
	Time      time.Time
	Latitude  float64
	Longitude float64
	Speed     int
	Activity  int
}

// VehicleTrack collects one vehicle's positions in time order.
type VehicleTrack struct {
	RegNo  string
	IMEI   string
	Points []TrackPoint
}

// auditPacket mirrors the decoded form the gateway persists with each audit
// row. Only the fields the export reads are declared.
type auditPacket struct {
	Records []struct {
		Timestamp int64   `json:"timestamp"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Speed     int     `json:"speed"`
		Activity  int     `json:"activity"`
	} `json:"records"`
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

func activityName(id int) string {
	if n, ok := activityNames[id]; ok {
		return n
	}
	return fmt.Sprintf("Activity %d", id)
}

func main() {
	dbPath := flag.String("db", "avl_gateway.db", "SQLite database file")
	reg := flag.String("reg", "", "Export a single vehicle registration only")
	since := flag.String("since", "", "Only include reports on or after this date (YYYY-MM-DD)")
	limit := flag.Int("limit", 5000, "Maximum audit rows to read")
	output := flag.String("output", "", "Output KML file (default: stdout)")
	noEvents := flag.Bool("no-events", false, "Omit event placemarks, tracks only")
	showStats := flag.Bool("stats", false, "Show statistics only, don't export")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Parse()

	db, err := sql.Open("sqlite3", *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	tracks, err := loadTracks(db, *reg, *since, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading audit log: %v\n", err)
		os.Exit(1)
	}

	// Show stats mode.
	if *showStats {
		showTrackStats(tracks)
		return
	}

	if len(tracks) == 0 {
		fmt.Fprintf(os.Stderr, "No positions found matching criteria\n")
		os.Exit(0)
	}

	if *verbose {
		var points int
		for _, t := range tracks {
			points += len(t.Points)
		}
		fmt.Fprintf(os.Stderr, "Exporting %d vehicles, %d positions to KML\n", len(tracks), points)
	}

	// Generate KML.
	kml := generateKML(tracks, !*noEvents)

	// Marshal to XML.
	xmlData, err := xml.MarshalIndent(kml, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating KML: %v\n", err)
		os.Exit(1)
	}

	// Add XML header.
	xmlOutput := xml.Header + string(xmlData)

	// Write output.
	if *output != "" {
		if err := os.WriteFile(*output, []byte(xmlOutput), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
			os.Exit(1)
		}
		if *verbose {
			fmt.Fprintf(os.Stderr, "Wrote %s\n", *output)
		}
	} else {
		fmt.Println(xmlOutput)
	}
}

// loadTracks reads audit rows oldest first and groups decoded positions by
// vehicle. Records without a fix are skipped.
func loadTracks(db *sql.DB, reg, since string, limit int) ([]VehicleTrack, error) {
	query := `
		SELECT v.registration_number, v.imei, rd.processed_data
		FROM reported_data rd
		JOIN vehicles v ON v.id = rd.vehicle_id`
	var conds []string
	var args []interface{}
	if reg != "" {
		conds = append(conds, "v.registration_number = ?")
		args = append(args, reg)
	}
	if since != "" {
		conds = append(conds, "rd.created_at >= ?")
		args = append(args, since)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY rd.id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byReg := make(map[string]*VehicleTrack)
	var order []string
	for rows.Next() {
		var regNo, imei, raw string
		if err := rows.Scan(&regNo, &imei, &raw); err != nil {
			return nil, err
		}

		var pkt auditPacket
		if err := json.Unmarshal([]byte(raw), &pkt); err != nil {
			continue
		}

		track := byReg[regNo]
		if track == nil {
			track = &VehicleTrack{RegNo: regNo, IMEI: imei}
			byReg[regNo] = track
			order = append(order, regNo)
		}
		for _, rec := range pkt.Records {
			if rec.Latitude == 0 && rec.Longitude == 0 {
				continue
			}
			track.Points = append(track.Points, TrackPoint{
				Time:      time.UnixMilli(rec.Timestamp).UTC(),
				Latitude:  rec.Latitude,
				Longitude: rec.Longitude,
				Speed:     rec.Speed,
				Activity:  rec.Activity,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var tracks []VehicleTrack
	for _, regNo := range order {
		track := byReg[regNo]
		if len(track.Points) == 0 {
			continue
		}
		sort.Slice(track.Points, func(i, j int) bool {
			return track.Points[i].Time.Before(track.Points[j].Time)
		})
		tracks = append(tracks, *track)
	}
	return tracks, nil
}

// generateKML creates a KML document with one track line per vehicle and a
// placemark for every non-routine record.
func generateKML(tracks []VehicleTrack, events bool) KML {
	doc := Document{
		Name:        "AVL Vehicle Tracks",
		Description: fmt.Sprintf("Vehicle positions from the gateway audit log. Generated %s.", time.Now().Format("2006-01-02 15:04:05")),
		Styles: []Style{
			{
				ID:        "trackStyle",
				LineStyle: &LineStyle{Color: "ff0000ff", Width: 3},
			},
			{
				ID: "eventStyle",
				IconStyle: &IconStyle{
					Scale: 0.8,
					Icon: Icon{
						Href: "http://maps.google.com/mapfiles/kml/shapes/caution.png",
					},
				},
			},
		},
	}

	for _, track := range tracks {
		var coords strings.Builder
		for _, pt := range track.Points {
			// KML coordinates are in the format: longitude,latitude,altitude
			fmt.Fprintf(&coords, "%.6f,%.6f,0\n", pt.Longitude, pt.Latitude)
		}

		first := track.Points[0]
		last := track.Points[len(track.Points)-1]
		description := fmt.Sprintf(
			"Positions: %d\nFirst: %s\nLast: %s",
			len(track.Points),
			first.Time.Format("2006-01-02 15:04:05 UTC"),
			last.Time.Format("2006-01-02 15:04:05 UTC"),
		)

		doc.Placemarks = append(doc.Placemarks, Placemark{
			Name:        track.RegNo,
			Description: description,
			StyleURL:    "#trackStyle",
			LineString: &LineString{
				Tessellate:  1,
				Coordinates: coords.String(),
			},
			ExtendedData: &ExtendedData{
				Data: []Data{
					{Name: "imei", Value: track.IMEI},
					{Name: "positions", Value: fmt.Sprintf("%d", len(track.Points))},
					{Name: "first_seen", Value: first.Time.Format(time.RFC3339)},
					{Name: "last_seen", Value: last.Time.Format(time.RFC3339)},
				},
			},
		})

		if !events {
			continue
		}
		for _, pt := range track.Points {
			if pt.Activity <= 1 {
				continue
			}
			doc.Placemarks = append(doc.Placemarks, Placemark{
				Name:        fmt.Sprintf("%s: %s", track.RegNo, activityName(pt.Activity)),
				Description: fmt.Sprintf("Time: %s\nSpeed: %d km/h", pt.Time.Format("2006-01-02 15:04:05 UTC"), pt.Speed),
				StyleURL:    "#eventStyle",
				Point: &Point{
					Coordinates: fmt.Sprintf("%.6f,%.6f,0", pt.Longitude, pt.Latitude),
				},
			})
		}
	}

	return KML{
		Namespace: "http://www.opengis.net/kml/2.2",
		Document:  doc,
	}
}

// showTrackStats displays statistics about the tracks that would be exported.
func showTrackStats(tracks []VehicleTrack) {
	var points, moving, events int
	for _, t := range tracks {
		for _, pt := range t.Points {
			points++
			if pt.Speed > 0 {
				moving++
			}
			if pt.Activity > 1 {
				events++
			}
		}
	}

	fmt.Println("Track Statistics")
	fmt.Println("────────────────")
	fmt.Printf("Vehicles:            %d\n", len(tracks))
	fmt.Printf("Total positions:     %d\n", points)
	fmt.Printf("Moving positions:    %d\n", moving)
	fmt.Printf("Event positions:     %d\n", events)

	if len(tracks) == 0 {
		return
	}

	fmt.Println("\nPositions per Vehicle:")
	fmt.Printf("%-12s %10s  %-17s %-17s\n", "Reg No", "Points", "First", "Last")
	for _, t := range tracks {
		first := t.Points[0].Time.Format("2006-01-02 15:04")
		last := t.Points[len(t.Points)-1].Time.Format("2006-01-02 15:04")
		fmt.Printf("%-12s %10d  %-17s %-17s\n", t.RegNo, len(t.Points), first, last)
	}
}
