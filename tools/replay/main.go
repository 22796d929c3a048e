// Package main replays tracker traffic against a running gateway.
//
// The tool dials the gateway's tracker port, performs the IMEI handshake and
// streams data frames, checking the acknowledgement after each one. Frames
// come from a capture file (one hex frame per line, the avldump input format)
// or are synthesized with a current timestamp, which is enough to smoke-test
// ingest end to end. Multiple connections simulate a fleet; each connection
// derives its own IMEI by incrementing the base.
package main

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"avl_gateway/internal/crc"
)

func main() {
	addr := flag.String("addr", "localhost:2000", "Gateway tracker address")
	imei := flag.String("imei", "356307042441013", "Base device IMEI (15 digits)")
	input := flag.String("input", "", "Hex capture file to replay (default: synthesize frames)")
	count := flag.Int("count", 1, "Synthetic frames per connection")
	interval := flag.Duration("interval", 100*time.Millisecond, "Delay between frames")
	conns := flag.Int("conns", 1, "Parallel connections")
	lat := flag.Float64("lat", -6.7735, "Synthetic record latitude")
	lon := flag.Float64("lon", 39.2217, "Synthetic record longitude")
	speed := flag.Int("speed", 40, "Synthetic record speed in km/h")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Parse()

	base, err := strconv.ParseUint(*imei, 10, 64)
	if err != nil || len(*imei) != 15 {
		fmt.Fprintf(os.Stderr, "IMEI must be 15 decimal digits: %q\n", *imei)
		os.Exit(1)
	}

	var frames [][]byte
	if *input != "" {
		frames, err = loadCapture(*input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading capture: %v\n", err)
			os.Exit(1)
		}
		if len(frames) == 0 {
			fmt.Fprintf(os.Stderr, "No data frames in %s\n", *input)
			os.Exit(1)
		}
		if *verbose {
			fmt.Fprintf(os.Stderr, "Loaded %d data frames from %s\n", len(frames), *input)
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	for i := 0; i < *conns; i++ {
		device := fmt.Sprintf("%015d", base+uint64(i))
		wg.Add(1)
		go func() {
			defer wg.Done()

			replayed := frames
			if replayed == nil {
				replayed = synthesize(*count, *lat, *lon, uint16(*speed))
			}

			if err := run(*addr, device, replayed, *interval, *verbose); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", device, err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d connections failed\n", failed, *conns)
		os.Exit(1)
	}
	if *verbose {
		fmt.Fprintf(os.Stderr, "All %d connections completed\n", *conns)
	}
}

// run drives one device session: handshake, then every frame with its ack.
func run(addr, imei string, frames [][]byte, interval time.Duration, verbose bool) error {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	hello := make([]byte, 2+len(imei))
	binary.BigEndian.PutUint16(hello, uint16(len(imei)))
	copy(hello[2:], imei)
	if _, err := conn.Write(hello); err != nil {
		return fmt.Errorf("handshake write: %w", err)
	}

	reply := make([]byte, 1)
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if _, err := io.ReadFull(conn, reply); err != nil {
		return fmt.Errorf("handshake read: %w", err)
	}
	if reply[0] != 0x01 {
		return fmt.Errorf("handshake rejected: %02X", reply[0])
	}

	for i, frame := range frames {
		if i > 0 && interval > 0 {
			time.Sleep(interval)
		}
		if _, err := conn.Write(frame); err != nil {
			return fmt.Errorf("frame %d write: %w", i+1, err)
		}

		ack := make([]byte, 4)
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		if _, err := io.ReadFull(conn, ack); err != nil {
			return fmt.Errorf("frame %d ack: %w", i+1, err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "%s: frame %d acked %d records\n",
				imei, i+1, binary.BigEndian.Uint32(ack))
		}
	}
	return nil
}

// loadCapture reads data frames from a hex capture. Handshake lines are
// skipped; the handshake is always driven by the -imei flag.
func loadCapture(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var frames [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		h := strings.TrimPrefix(fields[len(fields)-1], "0x")

		// Data frames open with the u32 zero preamble; anything else in a
		// capture is a handshake line.
		if !strings.HasPrefix(h, "00000000") {
			continue
		}
		raw, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("bad hex line: %v", err)
		}
		frames = append(frames, raw)
	}
	return frames, scanner.Err()
}

// synthesize builds n single-record Codec 8 frames: ignition on, movement
// on, one second apart ending now.
func synthesize(n int, lat, lon float64, speed uint16) [][]byte {
	frames := make([][]byte, 0, n)
	start := time.Now().Add(-time.Duration(n-1) * time.Second)
	for i := 0; i < n; i++ {
		frames = append(frames, buildFrame(start.Add(time.Duration(i)*time.Second), lat, lon, speed))
	}
	return frames
}

func buildFrame(ts time.Time, lat, lon float64, speed uint16) []byte {
	var rec []byte
	rec = binary.BigEndian.AppendUint64(rec, uint64(ts.UnixMilli()))
	rec = append(rec, 0) // priority low
	rec = binary.BigEndian.AppendUint32(rec, uint32(int32(lon*1e7)))
	rec = binary.BigEndian.AppendUint32(rec, uint32(int32(lat*1e7)))
	rec = binary.BigEndian.AppendUint16(rec, 55) // altitude
	rec = binary.BigEndian.AppendUint16(rec, 90) // bearing
	rec = append(rec, 12)                        // satellites
	rec = binary.BigEndian.AppendUint16(rec, speed)
	rec = append(rec,
		0,      // event id: periodic record
		2,      // io element total
		2,      // 1-byte group count
		239, 1, // ignition on
		240, 1, // movement on
		0, // 2-byte group count
		0, // 4-byte group count
		0, // 8-byte group count
	)

	region := append([]byte{0x08, 0x01}, rec...)
	region = append(region, 0x01)

	frame := make([]byte, 0, 8+len(region)+4)
	frame = binary.BigEndian.AppendUint32(frame, 0)
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(region)))
	frame = append(frame, region...)
	frame = append(frame, crc.Calculate16IBM(region)...)
	return frame
}
