package activity

import "sort"

// Activity ids 0..50 with their regulator-facing names. Everything the
// classifier emits resolves to one of these.
var names = [51]string{
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

// ioActivity maps event and I/O element ids at or above 51 to activity ids.
// Ids below 51 are activity ids themselves and never appear here.
var ioActivity = map[uint16]int{
	51: 34, 52: 16, 53: 16, 54: 34, 55: 34, 56: 15, 57: 15, 61: 20,
	62: 20, 63: 20, 64: 20, 65: 20, 66: 10, 67: 9, 68: 9, 69: 26,
	70: 20, 72: 37, 73: 37, 74: 37, 75: 37, 76: 15, 77: 15, 78: 24,
	79: 37, 80: 15, 81: 4, 82: 37, 83: 16, 84: 36, 85: 1, 86: 15,
	87: 15, 88: 20, 89: 36, 90: 39, 91: 20, 92: 20, 93: 20, 94: 20,
	95: 20, 96: 20, 97: 20, 98: 20, 99: 20, 100: 15, 101: 37, 102: 37,
	103: 37, 104: 37, 113: 9, 114: 10, 115: 9, 116: 9, 117: 10, 118: 10,
	155: 20, 156: 20, 157: 20, 158: 20, 159: 20, 160: 34, 161: 20, 162: 21,
	163: 20, 164: 21, 165: 20, 166: 21, 167: 20, 168: 21, 169: 20, 170: 21,
	171: 20, 172: 21, 173: 20, 174: 21, 175: 20, 176: 20, 177: 21, 178: 20,
	179: 39, 180: 39, 181: 21, 182: 20, 183: 21, 184: 20, 185: 21, 199: 15,
	200: 15, 201: 16, 202: 16, 203: 16, 204: 16, 205: 15, 206: 15, 207: 24,
	208: 16, 209: 16, 210: 16, 211: 36, 212: 16, 213: 16, 214: 16, 215: 16,
	235: 34, 236: 8, 237: 15, 239: 2, 240: 1, 241: 15, 245: 24, 246: 33,
	247: 12, 248: 24, 249: 26, 250: 18, 251: 11, 252: 9, 253: 5, 254: 7,
	255: 4, 256: 16, 257: 12, 263: 27, 264: 24, 281: 34, 283: 2, 284: 15,
	285: 31, 303: 1, 318: 26, 379: 39, 380: 39, 381: 14, 382: 15, 383: 15,
	384: 15, 385: 22, 386: 15, 391: 14, 400: 24, 401: 24, 402: 24, 403: 31,
	404: 31, 405: 31, 406: 31, 407: 31, 408: 31, 409: 31, 449: 2, 548: 22,
	600: 15, 601: 37, 602: 15, 603: 15, 604: 15, 622: 15, 623: 15, 1000: 33,
	1001: 12, 1002: 14, 1003: 8, 1004: 13, 1005: 26, 1006: 15, 1007: 34, 1008: 36,
	1009: 37, 1010: 9, 1148: 15, 10500: 37, 10501: 37, 10502: 37, 10503: 37, 10504: 37,
	10505: 37, 10510: 9, 10511: 9, 10512: 9, 10513: 9, 10514: 9, 10515: 9, 10520: 39,
	10521: 39, 10522: 39, 10523: 39, 10800: 37, 10801: 37, 10802: 37, 10803: 37, 10804: 37,
	10805: 37, 10810: 39, 10811: 39, 10812: 1, 10813: 1, 10814: 1, 10815: 1, 10820: 9,
	10821: 9, 10822: 9, 10823: 9, 10824: 9, 10825: 9, 10830: 1, 10831: 1, 10832: 1,
	10833: 1,
}

// hardwareFaultNames decodes the fuel-sensor hardware fault enum for logs
// and ops output; reports carry the raw code.
var hardwareFaultNames = map[int]string{
	0: "Normal",
	1: "Sensor Communication Error",
	2: "Sensor Data Error",
	3: "Sensor Hardware Fault",
	4: "Sensor Configuration Error",
}

// scanOrder fixes the I/O inspection priority: critical safety, driver
// identification, power, trip, temperature and fuel, geofence, digital,
// environmental sensors, OBD, CAN. Mapped ids not listed here are inspected
// afterwards in ascending order.
var scanOrder = []uint16{
	// Critical safety: power cut, towing, crash, harsh driving, overspeed,
	// alarms, jamming.
	252, 246, 247, 253, 254, 255, 236, 249, 318, 257, 1000, 1001, 1003, 1004,
	// Driver identification.
	78, 245, 403, 404, 405, 406, 407, 408, 409, 207, 264, 100, 248, 400, 401, 402,
	// Power and batteries.
	67, 66, 68, 113, 114, 115, 116, 117, 118, 1010,
	// Trip state.
	250, 251,
	// Temperature.
	72, 73, 74, 75, 79, 82, 101, 102, 103, 104, 601, 1009,
	// Fuel.
	83, 84, 89, 201, 202, 203, 204, 208, 209, 210, 211, 212, 213, 214, 215, 256, 1008,
	// Geofence and checkpoints.
	61, 62, 63, 64, 65, 70, 88, 91, 92, 93, 94, 95, 96, 97, 98, 99,
	155, 156, 157, 158, 159, 161, 162, 163, 164, 165, 166, 167, 168, 169, 170,
	171, 172, 173, 174, 175, 176, 177, 178, 181, 182, 183, 184, 185, 385, 548,
	// Digital inputs, outputs, doors.
	179, 180, 90, 379, 380, 381,
	// Environmental WSN and EYE sensors.
	10500, 10501, 10502, 10503, 10504, 10505,
	10510, 10511, 10512, 10513, 10514, 10515,
	10520, 10521, 10522, 10523,
	10800, 10801, 10802, 10803, 10804, 10805,
	10810, 10811, 10812, 10813, 10814, 10815,
	10820, 10821, 10822, 10823, 10824, 10825,
	10830, 10831, 10832, 10833,
	// OBD.
	51, 52, 53, 54, 55, 56, 57, 81,
	// CAN adapter.
	85, 86, 87, 235, 281, 303,
}

// panicInputs are digital inputs wired to panic buttons on some
// installations. Value 1 classifies as a driver panic; they are checked
// after the named categories and before the remainder.
var panicInputs = []uint16{2, 200}

// scanRest holds the mapped ids missing from scanOrder, ascending. Built
// once at init so the full inspection order is deterministic.
var scanRest []uint16

func init() {
	listed := make(map[uint16]bool, len(scanOrder))
	for _, id := range scanOrder {
		listed[id] = true
	}
	for id := range ioActivity {
		if !listed[id] {
			scanRest = append(scanRest, id)
		}
	}
	sort.Slice(scanRest, func(i, j int) bool { return scanRest[i] < scanRest[j] })
}

// Name returns the display name for an activity id, or empty when unknown.
func Name(id int) string {
	if id < 0 || id >= len(names) {
		return ""
	}
	return names[id]
}

// HardwareFaultName decodes a fuel-sensor fault code for display.
func HardwareFaultName(code int) string {
	if n, ok := hardwareFaultNames[code]; ok {
		return n
	}
	return "Unknown"
}

// Count returns the number of named activities, for ops listings.
func Count() int {
	return len(names)
}
