package listener

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"avl_gateway/internal/codec8"
)

// ingestTimeout bounds one ingest job: the full upstream retry schedule
// plus the audit and archive writes.
const ingestTimeout = 45 * time.Second

// session is the per-connection protocol state machine. It runs on one
// pool worker from first byte to close.
type session struct {
	lst    *Listener
	conn   net.Conn
	remote string
	imei   string
	buf    []byte
}

func (s *session) run() error {
	tmp := make([]byte, 1024)
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.lst.readTimeout)); err != nil {
			return err
		}
		n, err := s.conn.Read(tmp)
		if n > 0 {
			s.buf = append(s.buf, tmp[:n]...)
			if ferr := s.consume(); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// consume handles every complete frame sitting in the buffer. A non-nil
// error terminates the session.
func (s *session) consume() error {
	for {
		kind, size, err := codec8.Recognize(s.buf)
		if err != nil {
			s.lst.metrics.Frames.WithLabelValues("invalid").Inc()
			return err
		}
		if size == 0 || len(s.buf) < size {
			return nil
		}
		frame := s.buf[:size:size]
		s.buf = s.buf[size:]

		switch kind {
		case codec8.FrameIMEI:
			if err := s.handshake(frame); err != nil {
				return err
			}
		case codec8.FrameData:
			if s.imei == "" {
				// Data before the handshake carries no attributable
				// identity. Drop the frame, keep the session.
				s.lst.metrics.Frames.WithLabelValues("invalid").Inc()
				log.Printf("Dropping data frame from %s before IMEI handshake", s.remote)
				continue
			}
			if err := s.data(frame); err != nil {
				return err
			}
		}
	}
}

func (s *session) handshake(frame []byte) error {
	imei, err := codec8.ParseIMEI(frame)
	if err != nil {
		s.lst.metrics.Frames.WithLabelValues("invalid").Inc()
		return err
	}
	s.imei = imei
	s.lst.metrics.Frames.WithLabelValues("imei").Inc()
	log.Printf("IMEI received: %s", imei)
	_, err = s.conn.Write([]byte{codec8.ImeiAccept})
	return err
}

func (s *session) data(frame []byte) error {
	res, err := codec8.DecodeFrame(frame)
	if err != nil {
		s.lst.metrics.Frames.WithLabelValues("invalid").Inc()
		return err
	}
	if s.lst.verifyCRC && !res.CRCValid {
		s.lst.metrics.Frames.WithLabelValues("invalid").Inc()
		return fmt.Errorf("listener: checksum mismatch on frame from %s", s.remote)
	}
	s.lst.metrics.Frames.WithLabelValues("data").Inc()
	s.lst.metrics.Records.Add(float64(len(res.Records)))

	// Acknowledge before dispatching so the device can advance its own
	// buffer without waiting on upstream I/O.
	if _, err := s.conn.Write(codec8.DataAck(len(res.Records))); err != nil {
		return err
	}

	imei := s.imei
	raw := bytes.Clone(frame)
	ok := s.lst.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
		defer cancel()
		s.lst.pipeline.Process(ctx, imei, raw, res)
	})
	if !ok {
		log.Printf("Ingest pool stopped, dropping packet from %s", imei)
	}
	return nil
}
