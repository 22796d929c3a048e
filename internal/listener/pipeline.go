package listener

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"avl_gateway/internal/activity"
	"avl_gateway/internal/avl"
	"avl_gateway/internal/codec8"
	"avl_gateway/internal/directory"
	"avl_gateway/internal/latra"
	"avl_gateway/internal/metrics"
	"avl_gateway/internal/payload"
	"avl_gateway/internal/storage"
)

// Sender delivers one assembled batch upstream.
type Sender interface {
	Send(ctx context.Context, batch *payload.Batch) (latra.Result, error)
}

// AuditSink appends one ingestion attempt to the audit log.
type AuditSink interface {
	InsertReport(ctx context.Context, r storage.Report) error
}

// Archiver appends decoded records to the analytics archive.
type Archiver interface {
	InsertRecords(ctx context.Context, records []storage.ArchiveRecord) error
}

// RecordPublisher pushes classified records onto the message bus.
type RecordPublisher interface {
	PublishRecord(imei, regNo string, rec *avl.Record) error
}

// Pipeline carries one decoded packet through identity resolution,
// classification, payload assembly, upstream delivery and the sinks.
// Archive and Bus are optional; everything else is required. Failures
// are logged and counted, never propagated: one bad packet must not
// disturb other in-flight connections.
type Pipeline struct {
	Directory *directory.Directory
	Builder   *payload.Builder
	Sender    Sender
	Audit     AuditSink
	Archive   Archiver
	Bus       RecordPublisher
	Metrics   *metrics.Metrics
}

// processedPacket is the decoded form persisted with each audit row.
type processedPacket struct {
	Codec      string        `json:"codec"`
	Records    []auditRecord `json:"records"`
	ParseNotes []string      `json:"parse_notes,omitempty"`
}

type auditRecord struct {
	avl.Record
	IO map[string]string `json:"io,omitempty"`
}

// Process handles one decoded packet end to end. The acknowledgement has
// already been written by the session; nothing here reports back to the
// device.
func (p *Pipeline) Process(ctx context.Context, imei string, raw []byte, res *codec8.DecodeResult) {
	vehicle, err := p.Directory.Resolve(ctx, imei)
	if err != nil {
		log.Printf("Vehicle lookup for %s failed, using fallback profile: %v", imei, err)
	}
	if !vehicle.Registered {
		log.Printf("No vehicle registered for IMEI %s, transmitting as %s", imei, vehicle.RegNo)
	}

	records := make([]*avl.Record, 0, len(res.Records))
	decisions := make([]activity.Decision, 0, len(res.Records))
	for i := range res.Records {
		rec := &res.Records[i]
		d := activity.Classify(rec)
		rec.Activity = d.ID
		p.Metrics.CountActivity(d.ID)
		records = append(records, rec)
		decisions = append(decisions, d)
	}

	result := p.send(ctx, vehicle, imei, records)

	if vehicle.Registered {
		p.audit(ctx, vehicle, raw, res, result)
	}
	p.archive(ctx, vehicle, records, decisions)
	p.publish(vehicle, records)
}

func (p *Pipeline) send(ctx context.Context, vehicle directory.Vehicle, imei string, records []*avl.Record) latra.Result {
	batch, err := p.Builder.Build(vehicle.RegNo, imei, records)
	if err != nil {
		log.Printf("Not transmitting for %s: %v", imei, err)
		return latra.Result{Error: err.Error()}
	}
	result, err := p.Sender.Send(ctx, batch)
	p.Metrics.CountSend(result.Success, result.Attempts)
	if err != nil {
		log.Printf("Upstream delivery for %s failed after %d attempts: %v", vehicle.RegNo, result.Attempts, err)
	}
	return result
}

func (p *Pipeline) audit(ctx context.Context, vehicle directory.Vehicle, raw []byte, res *codec8.DecodeResult, result latra.Result) {
	rawJSON, _ := json.Marshal(map[string]string{"hex": hex.EncodeToString(raw)})

	processed := processedPacket{
		Codec:      fmt.Sprintf("%02X", res.Codec),
		Records:    make([]auditRecord, 0, len(res.Records)),
		ParseNotes: res.Errors,
	}
	for i := range res.Records {
		rec := res.Records[i]
		processed.Records = append(processed.Records, auditRecord{Record: rec, IO: rec.FormatIO()})
	}
	processedJSON, err := json.Marshal(processed)
	if err != nil {
		log.Printf("Encoding audit row for %s failed: %v", vehicle.RegNo, err)
		processedJSON = nil
	}

	report := storage.Report{
		VehicleID: vehicle.ID,
		IMEI:      vehicle.IMEI,
		RawData:   rawJSON,
		Processed: processedJSON,
		Response:  result.AuditJSON(),
		Success:   result.Success,
	}
	if err := p.Audit.InsertReport(ctx, report); err != nil {
		p.Metrics.SinkFailures.WithLabelValues("audit").Inc()
		log.Printf("Saving audit row for %s failed: %v", vehicle.RegNo, err)
	}
}

func (p *Pipeline) archive(ctx context.Context, vehicle directory.Vehicle, records []*avl.Record, decisions []activity.Decision) {
	if p.Archive == nil || len(records) == 0 {
		return
	}
	rows := make([]storage.ArchiveRecord, 0, len(records))
	for i, rec := range records {
		ioJSON, _ := json.Marshal(rec.FormatIO())
		rows = append(rows, storage.ArchiveRecord{
			IMEI:       vehicle.IMEI,
			RegNo:      vehicle.RegNo,
			RecordedAt: time.UnixMilli(rec.Timestamp).UTC(),
			Priority:   rec.Priority,
			Latitude:   rec.Latitude,
			Longitude:  rec.Longitude,
			Altitude:   rec.Altitude,
			Bearing:    rec.Bearing,
			Satellites: rec.Satellites,
			Speed:      rec.Speed,
			EventID:    rec.EventID,
			ActivityID: uint16(rec.Activity),
			Rule:       decisions[i].Rule,
			IOJSON:     string(ioJSON),
		})
	}
	if err := p.Archive.InsertRecords(ctx, rows); err != nil {
		p.Metrics.SinkFailures.WithLabelValues("archive").Inc()
		log.Printf("Archiving records for %s failed: %v", vehicle.IMEI, err)
	}
}

func (p *Pipeline) publish(vehicle directory.Vehicle, records []*avl.Record) {
	if p.Bus == nil {
		return
	}
	for _, rec := range records {
		if err := p.Bus.PublishRecord(vehicle.IMEI, vehicle.RegNo, rec); err != nil {
			p.Metrics.SinkFailures.WithLabelValues("bus").Inc()
			log.Printf("Publishing record for %s failed: %v", vehicle.IMEI, err)
			return
		}
	}
}
