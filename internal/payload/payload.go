// Package payload assembles the regulator JSON batches sent for each decoded
// packet. Every field crosses the wire as a string; addon_info and fuel_info
// carry the activity-specific extras.
package payload

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"avl_gateway/internal/avl"
)

// Fallback reporting point substituted when a record carries no usable fix.
const (
	DefaultFallbackLat = -1.286389
	DefaultFallbackLon = 36.817223
)

// ErrNoItems is returned when a packet decodes to zero reportable records.
var ErrNoItems = errors.New("payload: no records to report")

// Item is one position report inside a batch. Struct order is wire order.
type Item struct {
	Latitude        string            `json:"latitude"`
	Longitude       string            `json:"longitude"`
	Altitude        string            `json:"altitude"`
	Timestamp       string            `json:"timestamp"`
	HorizontalSpeed string            `json:"horizontal_speed"`
	VerticalSpeed   string            `json:"vertical_speed"`
	Bearing         string            `json:"bearing"`
	SatelliteCount  string            `json:"satellite_count"`
	HDOP            string            `json:"HDOP"`
	D2D3            string            `json:"d2d3"`
	RSSI            string            `json:"RSSI"`
	LAC             string            `json:"LAC"`
	CellID          string            `json:"Cell_ID"`
	MgsID           string            `json:"MGS_ID"`
	MCC             string            `json:"MCC"`
	ActivityID      string            `json:"activity_id"`
	AddonInfo       map[string]string `json:"addon_info,omitempty"`
	FuelInfo        map[string]string `json:"fuel_info,omitempty"`
}

// Batch is the body of one POST to the regulator endpoint.
type Batch struct {
	VehicleRegNo string `json:"vehicle_reg_no"`
	Type         string `json:"type"`
	IMEI         string `json:"imei"`
	Items        []Item `json:"items"`
}

// Builder renders classified records into batches. Safe for concurrent use;
// the message id counter is shared by all goroutines.
type Builder struct {
	fallbackLat float64
	fallbackLon float64

	seq  atomic.Uint64
	now  func() time.Time
	rand func() int
}

// NewBuilder returns a Builder substituting lat, lon for records without a
// fix. Passing (0, 0) selects the default fallback point.
func NewBuilder(lat, lon float64) *Builder {
	if lat == 0 && lon == 0 {
		lat, lon = DefaultFallbackLat, DefaultFallbackLon
	}
	return &Builder{
		fallbackLat: lat,
		fallbackLon: lon,
		now:         time.Now,
		rand:        func() int { return rand.Intn(900) + 100 },
	}
}

// Build assembles the batch for one decoded packet. Records must already be
// classified. An empty record set returns ErrNoItems: the caller reports the
// failure instead of posting an empty batch.
func (b *Builder) Build(regNo, imei string, records []*avl.Record) (*Batch, error) {
	if len(records) == 0 {
		return nil, ErrNoItems
	}
	batch := &Batch{
		VehicleRegNo: regNo,
		Type:         "poi",
		IMEI:         imei,
		Items:        make([]Item, 0, len(records)),
	}
	for _, rec := range records {
		batch.Items = append(batch.Items, b.BuildItem(rec))
	}
	return batch, nil
}

// BuildItem renders a single record. Out-of-range coordinates and the (0,0)
// no-fix point are replaced with the fallback point; timestamps that are
// non-positive or more than a day in the future are replaced with now. The
// record is reported either way.
func (b *Builder) BuildItem(rec *avl.Record) Item {
	lat, lon := rec.Latitude, rec.Longitude
	if !rec.HasFix() {
		lat, lon = b.fallbackLat, b.fallbackLon
	}

	now := b.now()
	ts := rec.Timestamp
	if ts <= 0 || ts > now.UnixMilli()+(24*time.Hour).Milliseconds() {
		ts = now.UnixMilli()
	}

	item := Item{
		Latitude:        strconv.FormatFloat(lat, 'f', 6, 64),
		Longitude:       strconv.FormatFloat(lon, 'f', 6, 64),
		Altitude:        strconv.Itoa(int(rec.Altitude)),
		Timestamp:       strconv.FormatInt(ts, 10),
		HorizontalSpeed: strconv.Itoa(int(rec.Speed)),
		VerticalSpeed:   "0",
		Bearing:         strconv.Itoa(int(rec.Bearing)),
		SatelliteCount:  strconv.Itoa(int(rec.Satellites)),
		HDOP:            hdop(rec),
		D2D3:            fixMode(rec),
		RSSI:            rssi(rec),
		LAC:             lac(rec),
		CellID:          cellID(rec),
		MgsID:           b.nextMessageID(now),
		MCC:             mcc(rec),
		ActivityID:      strconv.Itoa(rec.Activity),
	}
	item.AddonInfo = addonInfo(rec)
	item.FuelInfo = fuelInfo(rec)
	return item
}

// nextMessageID yields an id unique within the process: a wrapping counter in
// [10000, 99999] concatenated with the epoch second and a random component,
// truncated to eight characters. The counter keeps ids distinct even when
// several are minted in the same second.
func (b *Builder) nextMessageID(now time.Time) string {
	counter := 10000 + b.seq.Add(1)%90000
	id := fmt.Sprintf("%d%d%d", counter, now.Unix()%100, b.rand()%100)
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}

func hdop(rec *avl.Record) string {
	v, ok := rec.IoNum(182)
	if !ok {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// fixMode reports the fix dimension: element 181 when the device sends it,
// otherwise inferred from the satellite count.
func fixMode(rec *avl.Record) string {
	if v, ok := rec.IoNum(181); ok {
		if v == 2 {
			return "2"
		}
		return "3"
	}
	switch {
	case rec.Satellites >= 4:
		return "3"
	case rec.Satellites > 0:
		return "2"
	}
	return "0"
}

// rssi scales the GSM signal reading (0..5 bands) to the 0..30 range the
// receiver expects.
func rssi(rec *avl.Record) string {
	v, ok := rec.IoUint(21)
	if !ok || v == 0 {
		return "0"
	}
	return strconv.FormatUint(v*6, 10)
}

func lac(rec *avl.Record) string {
	v, ok := rec.IoUint(206)
	if !ok || v == 0 || v > 65534 {
		return "0"
	}
	return strconv.FormatUint(v, 10)
}

func cellID(rec *avl.Record) string {
	v, ok := rec.IoUint(205)
	if !ok || v == 0 {
		return "0"
	}
	return strconv.FormatUint(v, 10)
}

// mcc defaults to Tanzania and accepts an East-African override from the
// operator code when its leading digits look like one.
func mcc(rec *avl.Record) string {
	v, ok := rec.IoUint(14)
	if !ok || v <= 100000 {
		return "640"
	}
	switch prefix := strconv.FormatUint(v, 10)[:3]; prefix {
	case "640", "639", "641":
		return prefix
	}
	return "640"
}

var (
	// avgSpeedIDs and maxSpeedIDs list the elements consulted for trip
	// summaries, most specific first.
	avgSpeedIDs = []uint16{241, 17, 18}
	maxSpeedIDs = []uint16{242, 19}

	// tripDriverIDs is the tag priority for journey summaries; scanDriverIDs
	// is the wider priority for tag-scan events.
	tripDriverIDs = []uint16{78, 245, 403, 404, 405, 406, 407}
	scanDriverIDs = []uint16{245, 78, 403, 404, 405, 406, 407, 207, 264, 100}

	digitalInputs  = []uint16{1, 2, 3, 4}
	digitalOutputs = []uint16{179, 180, 181, 182}
	tempSensorIDs  = []uint16{72, 73, 74, 75}
	harshSpeedIDs  = []uint16{181, 182, 241, 242}
)

// addonInfo builds the activity-specific extras. Nil when the activity
// defines none or nothing applicable was present.
func addonInfo(rec *avl.Record) map[string]string {
	info := map[string]string{}
	switch rec.Activity {
	case 2:
		engineOnAddon(rec, info)
	case 3:
		journeyStopAddon(rec, info)
	case 19:
		tripStopAddon(rec, info)
	case 9, 10, 14:
		powerAddon(rec, info)
	case 8:
		panicAddon(rec, info)
	case 5, 6, 7:
		harshDrivingAddon(rec, info)
	case 17, 24:
		info["v_driver_identification_no"] = scannedDriverID(rec)
	}
	if len(info) == 0 {
		return nil
	}
	return info
}

func engineOnAddon(rec *avl.Record, info map[string]string) {
	putIO(info, rec, "idleTime", 11)
	if s, ok := rec.IoText(245); ok {
		info["v_driver_identification_no"] = s
	}
}

// journeyStopAddon collects the trip summary reported with an engine-off
// record: distance and duration, speed aggregates, supply voltages, driver
// tag and the sensor snapshot.
func journeyStopAddon(rec *avl.Record, info map[string]string) {
	if m, ok := rec.IoNum(199); ok {
		info["distance_travelled"] = strconv.FormatFloat(m/1000, 'f', -1, 64)
	}
	if s, ok := rec.IoNum(80); ok {
		info["trip_duration"] = strconv.Itoa(tripMinutes(s))
	}
	if v, ok := firstIoNumIn(rec, avgSpeedIDs, 0, 200); ok {
		info["avgSpeed"] = v
	}
	if v, ok := firstIoNumIn(rec, maxSpeedIDs, 0, 300); ok {
		info["maxSpeed"] = v
	}
	putIO(info, rec, "ext_power_voltage", 66)
	putIO(info, rec, "int_battery_voltage", 67)
	putIO(info, rec, "ext_power_status", 252)
	putIO(info, rec, "battery_level", 113)
	putIO(info, rec, "fuel_level", 9)
	if id, ok := driverTag(rec); ok {
		info["v_driver_identification_no"] = id
	}
	putIO(info, rec, "journey_status", 239)
	putIO(info, rec, "movement_status", 240)
	if _, ok := info["distance_travelled"]; !ok {
		putIO(info, rec, "total_odometer", 16)
	}
	putIO(info, rec, "engine_hours", 15)
	putIO(info, rec, "idleTime", 11)
	putIO(info, rec, "gsm_signal", 21)
	putIO(info, rec, "cell_id", 205)
	putIO(info, rec, "area_code", 206)
	putIO(info, rec, "hdop", 182)
	putIO(info, rec, "gnss_status", 69)
	putNumbered(info, rec, "digital_input_", digitalInputs)
	putNumbered(info, rec, "digital_output_", digitalOutputs)
	putTemps(info, rec)
	putIO(info, rec, "speed_source", 24)
	putIO(info, rec, "analog_input_1", 9)
	putIO(info, rec, "analog_input_2", 10)
}

// tripStopAddon mirrors journeyStopAddon for trip-state stop records, with
// raw distance and duration and the trip-state flag included.
func tripStopAddon(rec *avl.Record, info map[string]string) {
	putIO(info, rec, "distance_travelled", 199)
	putIO(info, rec, "total_odometer", 16)
	putIO(info, rec, "trip_duration", 80)
	if v, ok := firstIoNumIn(rec, avgSpeedIDs, 0, 200); ok {
		info["avgSpeed"] = v
	}
	if v, ok := firstIoNumIn(rec, maxSpeedIDs, 0, 300); ok {
		info["maxSpeed"] = v
	}
	putIO(info, rec, "trip_status", 250)
	putIO(info, rec, "battery_voltage", 67)
	putIO(info, rec, "ext_power_voltage", 66)
	putIO(info, rec, "journey_status", 239)
	putIO(info, rec, "movement_status", 240)
	putIO(info, rec, "gsm_signal", 21)
	putIO(info, rec, "engine_hours", 15)
	putIO(info, rec, "idle_time", 11)
	putNumbered(info, rec, "digital_input_", digitalInputs)
	putNumbered(info, rec, "digital_output_", digitalOutputs)
	putTemps(info, rec)
	putIO(info, rec, "gnss_status", 69)
	putIO(info, rec, "hdop", 182)
	if id, ok := driverTag(rec); ok {
		info["driver_at_stop"] = id
	}
}

// powerAddon reports the supply voltages for battery, power-loss and
// tampering records.
func powerAddon(rec *avl.Record, info map[string]string) {
	putIO(info, rec, "int_battery_voltage", 67)
	putIO(info, rec, "ext_power_voltage", 66)
}

func panicAddon(rec *avl.Record, info map[string]string) {
	if v, ok := rec.IO[2]; ok {
		info["panic_source"] = "Digital Input 2"
		info["panic_state"] = v.Format()
	} else if v, ok := rec.IO[200]; ok {
		info["panic_source"] = "I/O Element 200"
		info["panic_state"] = v.Format()
	}
	putIO(info, rec, "gsm_signal", 21)
	putIO(info, rec, "battery_voltage", 67)
}

func harshDrivingAddon(rec *avl.Record, info map[string]string) {
	if v, ok := rec.IoUint(253); ok {
		info["driving_event_type"] = drivingEventName(v)
		info["green_driving_value"] = strconv.FormatUint(v, 10)
	}
	putNumbered(info, rec, "speed_io_", harshSpeedIDs)
	putIO(info, rec, "accelerometer_x-axis", 17)
	putIO(info, rec, "accelerometer_y-axis", 18)
	putIO(info, rec, "accelerometer_z-axis", 19)
	putIO(info, rec, "gsm_signal", 21)
}

func drivingEventName(v uint64) string {
	switch v {
	case 1:
		return "Harsh Acceleration"
	case 2:
		return "Harsh Braking"
	case 3:
		return "Harsh Turning"
	}
	return fmt.Sprintf("Unknown (%d)", v)
}

// scannedDriverID resolves the identifier for tag-scan events. The first
// element present in the priority list decides: a sentinel reading reports
// as the empty string, anything else verbatim. Absent entirely is also the
// empty string.
func scannedDriverID(rec *avl.Record) string {
	for _, id := range scanDriverIDs {
		v, ok := rec.IO[id]
		if !ok {
			continue
		}
		if v.IsSentinel() {
			return ""
		}
		return v.Format()
	}
	return ""
}

// driverTag returns the first usable driver identifier for trip summaries.
// Sentinel, empty and zero readings do not count; later elements are still
// consulted after an unusable one.
func driverTag(rec *avl.Record) (string, bool) {
	for _, id := range tripDriverIDs {
		v, ok := rec.IO[id]
		if !ok || v.IsSentinel() {
			continue
		}
		s := v.Format()
		if s == "" || s == "0" {
			continue
		}
		return s, true
	}
	return "", false
}

// tripMinutes converts a trip duration in seconds to whole minutes, never
// reporting less than one.
func tripMinutes(sec float64) int {
	m := int(math.Floor(sec / 60))
	if m < 1 {
		m = 1
	}
	return m
}

// firstIoNumIn returns the first listed element whose numeric value falls
// inside [lo, hi].
func firstIoNumIn(rec *avl.Record, ids []uint16, lo, hi float64) (string, bool) {
	for _, id := range ids {
		v, ok := rec.IO[id]
		if !ok {
			continue
		}
		if n := v.Num(); n >= lo && n <= hi {
			return v.Format(), true
		}
	}
	return "", false
}

// fuelInfo is attached to fuel data reports only. The compartment channel
// defaults to 1 when the device does not send it.
func fuelInfo(rec *avl.Record) map[string]string {
	if rec.Activity != 16 {
		return nil
	}
	info := map[string]string{}
	putIO(info, rec, "validFlag", 250)
	putIO(info, rec, "signalLevel", 251)
	putIO(info, rec, "softStatus", 252)
	putIO(info, rec, "hardFault", 253)
	putIO(info, rec, "fuelLevel", 16)
	putIO(info, rec, "rtFuelLevel", 254)
	putIO(info, rec, "tankTemp", 255)
	if rec.HasIO(256) {
		putIO(info, rec, "channel", 256)
	} else {
		info["channel"] = "1"
	}
	return info
}

// putIO copies element id into info under key when the record carries it.
func putIO(info map[string]string, rec *avl.Record, key string, id uint16) {
	if v, ok := rec.IO[id]; ok {
		info[key] = v.Format()
	}
}

// putNumbered copies each listed element under prefix + id.
func putNumbered(info map[string]string, rec *avl.Record, prefix string, ids []uint16) {
	for _, id := range ids {
		if v, ok := rec.IO[id]; ok {
			info[prefix+strconv.Itoa(int(id))] = v.Format()
		}
	}
}

// putTemps copies the four temperature probes as temp_1..temp_4.
func putTemps(info map[string]string, rec *avl.Record) {
	for i, id := range tempSensorIDs {
		if v, ok := rec.IO[id]; ok {
			info["temp_"+strconv.Itoa(i+1)] = v.Format()
		}
	}
}
