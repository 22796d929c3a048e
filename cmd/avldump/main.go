// Command-line decoder for captured AVL traffic.
//
// Note about input formats
// ------------------------
// The decoder expects one hex-encoded frame per line. Lines may carry a
// timestamp or other prefix separated by whitespace; the last field on each
// line is taken as the frame. Blank lines and lines starting with '#' are
// skipped. Both frame kinds found in a capture are understood:
//
//  1. IMEI handshake: u16 length + ASCII digits (000f3533...)
//  2. Data frame:     u32 zero preamble + length + codec 8/8E payload + CRC
//
// Every record in a data frame is decoded and classified, so the output
// shows exactly what the gateway would have reported. Use -reg to also
// assemble the regulator payload for each frame.
package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"avl_gateway/internal/activity"
	"avl_gateway/internal/avl"
	"avl_gateway/internal/codec8"
	"avl_gateway/internal/payload"
)

// DumpOut is the per-line output object.
type DumpOut struct {
	Line  int      `json:"line"`
	Frame string   `json:"frame,omitempty"`
	IMEI  string   `json:"imei,omitempty"`
	Data  *DataOut `json:"data,omitempty"`
	Error string   `json:"error,omitempty"`
}

// DataOut describes one decoded data frame.
type DataOut struct {
	Codec    string         `json:"codec"`
	CRCValid bool           `json:"crc_valid"`
	Records  []RecordOut    `json:"records"`
	Errors   []string       `json:"errors,omitempty"`
	Payload  *payload.Batch `json:"payload,omitempty"`
}

// RecordOut is one classified record with its human-readable annotations.
type RecordOut struct {
	avl.Record
	Time      string            `json:"time"`
	Name      string            `json:"activity_name"`
	Prio      string            `json:"priority_name"`
	Rule      string            `json:"rule"`
	FuelFault string            `json:"fuel_fault,omitempty"`
	IO        map[string]string `json:"io,omitempty"`
}

type Stats struct {
	Lines      int
	IMEIFrames int
	DataFrames int
	Records    int
	Failed     int
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "avldump - commands:")
	fmt.Fprintln(w, "  decode  - decode hex frame capture and output JSON")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  avldump decode -input frames.hex [-output out.json] [-pretty] [-reg T123ABC] [-stats]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - Input is one hex frame per line; a whitespace-separated prefix is ignored.")
	fmt.Fprintln(w, "  - With -reg, the regulator payload is assembled for every data frame.")
	fmt.Fprintln(w, "")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	cmd := strings.ToLower(os.Args[1])
	switch cmd {
	case "decode":
		runDecode(os.Args[2:])
	case "-h", "--help", "help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage(os.Stderr)
		os.Exit(2)
	}
}

func runDecode(args []string) {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	inPath := fs.String("input", "", "Input hex capture file (default: stdin)")
	outPath := fs.String("output", "", "Output JSON file (default: stdout)")
	pretty := fs.Bool("pretty", false, "Pretty-print JSON output")
	regNo := fs.String("reg", "", "Vehicle registration; assembles the regulator payload when set")
	fallbackLat := fs.Float64("fallback-lat", payload.DefaultFallbackLat, "Latitude substituted for records without a fix")
	fallbackLon := fs.Float64("fallback-lon", payload.DefaultFallbackLon, "Longitude substituted for records without a fix")
	showStats := fs.Bool("stats", false, "Print basic counters to stderr")
	_ = fs.Parse(args)

	var r io.Reader = os.Stdin
	if *inPath != "" {
		f, err := os.Open(*inPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open input: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		r = f
	}

	builder := payload.NewBuilder(*fallbackLat, *fallbackLon)

	scanner := bufio.NewScanner(r)
	// Concatenated captures can exceed the default token size.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	out := make([]DumpOut, 0, 64)
	st := &Stats{}
	imei := "" // last handshake seen, carried into payload assembly

	for scanner.Scan() {
		st.Lines++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		hexFrame := fields[len(fields)-1]

		entry := decodeLine(st.Lines, hexFrame, *regNo, builder, &imei, st)
		out = append(out, entry)
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Input read error: %v\n", err)
		os.Exit(1)
	}

	var wout io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create output: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		wout = f
	}

	enc, err := marshalJSON(out, *pretty)
	if err != nil {
		fmt.Fprintf(os.Stderr, "JSON encode error: %v\n", err)
		os.Exit(1)
	}
	_, _ = wout.Write(enc)
	if wout == os.Stdout {
		_, _ = wout.Write([]byte("\n"))
	}

	if *showStats {
		fmt.Fprintf(os.Stderr,
			"stats: lines=%d imei=%d data=%d records=%d failed=%d\n",
			st.Lines, st.IMEIFrames, st.DataFrames, st.Records, st.Failed,
		)
	}
}

func decodeLine(line int, hexFrame, regNo string, builder *payload.Builder, imei *string, st *Stats) DumpOut {
	entry := DumpOut{Line: line}

	raw, err := decodeHex(hexFrame)
	if err != nil {
		st.Failed++
		entry.Error = err.Error()
		return entry
	}

	kind, _, err := codec8.Recognize(raw)
	if err != nil {
		st.Failed++
		entry.Error = err.Error()
		return entry
	}
	entry.Frame = kind.String()

	switch kind {
	case codec8.FrameIMEI:
		id, err := codec8.ParseIMEI(raw)
		if err != nil {
			st.Failed++
			entry.Error = err.Error()
			return entry
		}
		st.IMEIFrames++
		*imei = id
		entry.IMEI = id
	case codec8.FrameData:
		res, err := codec8.DecodeFrame(raw)
		if err != nil {
			st.Failed++
			entry.Error = err.Error()
			return entry
		}
		st.DataFrames++
		entry.Data = dataOut(res, regNo, *imei, builder)
		st.Records += len(res.Records)
	default:
		st.Failed++
		entry.Error = "incomplete frame"
	}
	return entry
}

func dataOut(res *codec8.DecodeResult, regNo, imei string, builder *payload.Builder) *DataOut {
	d := &DataOut{
		Codec:    fmt.Sprintf("%02X", res.Codec),
		CRCValid: res.CRCValid,
		Records:  make([]RecordOut, 0, len(res.Records)),
		Errors:   res.Errors,
	}

	records := make([]*avl.Record, 0, len(res.Records))
	for i := range res.Records {
		rec := &res.Records[i]
		decision := activity.Classify(rec)
		rec.Activity = decision.ID
		records = append(records, rec)

		ro := RecordOut{
			Record: *rec,
			Time:   time.UnixMilli(rec.Timestamp).UTC().Format(time.RFC3339),
			Name:   decision.Name(),
			Prio:   rec.PriorityName(),
			Rule:   decision.Rule,
			IO:     rec.FormatIO(),
		}
		if decision.ID == 16 {
			if v, ok := rec.IO[253]; ok {
				ro.FuelFault = activity.HardwareFaultName(int(v.Uint64()))
			}
		}
		d.Records = append(d.Records, ro)
	}

	if regNo != "" && len(records) > 0 {
		if batch, err := builder.Build(regNo, imei, records); err == nil {
			d.Payload = batch
		}
	}
	return d
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bad hex: %v", err)
	}
	return raw, nil
}

func marshalJSON(v any, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}
