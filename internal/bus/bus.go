// Package bus publishes classified records to NATS for downstream
// consumers. Publishing is optional and best-effort: the ingest path
// never blocks or fails on the bus.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"avl_gateway/internal/avl"
)

// SubjectPrefix is the root of the record subject space. One subject per
// device: SubjectPrefix.<imei>.
const SubjectPrefix = "avl.records"

// SubjectFor returns the publish subject for one device.
func SubjectFor(imei string) string {
	return SubjectPrefix + "." + imei
}

// Publisher wraps a NATS connection for record publishing.
type Publisher struct {
	conn *nats.Conn
}

// Connect dials the NATS server. Reconnects are unbounded; messages
// published while disconnected buffer in the client.
func Connect(url string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("avl-gateway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: connect %s: %w", url, err)
	}
	return &Publisher{conn: conn}, nil
}

// recordEvent is the published message body: the record header fields
// plus the formatted I/O elements.
type recordEvent struct {
	IMEI  string `json:"imei"`
	RegNo string `json:"reg_no"`
	*avl.Record
	IO map[string]string `json:"io,omitempty"`
}

func encodeRecord(imei, regNo string, rec *avl.Record) ([]byte, error) {
	ev := recordEvent{IMEI: imei, RegNo: regNo, Record: rec, IO: rec.FormatIO()}
	return json.Marshal(ev)
}

// PublishRecord publishes one classified record to the device subject.
func (p *Publisher) PublishRecord(imei, regNo string, rec *avl.Record) error {
	body, err := encodeRecord(imei, regNo, rec)
	if err != nil {
		return fmt.Errorf("bus: marshal record: %w", err)
	}
	if err := p.conn.Publish(SubjectFor(imei), body); err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	return nil
}

// Close flushes buffered messages and drains the connection.
func (p *Publisher) Close() error {
	if err := p.conn.FlushTimeout(2 * time.Second); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Drain()
}
