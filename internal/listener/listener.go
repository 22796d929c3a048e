// Package listener terminates device connections: it accepts TCP
// sessions, runs the IMEI handshake and frame decode on a shared worker
// pool, acknowledges each packet and dispatches the decoded records to
// the ingest pipeline on the same pool.
package listener

import (
	"context"
	"errors"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"avl_gateway/internal/metrics"
	"avl_gateway/internal/pool"
)

// DefaultReadTimeout is the per-read inactivity limit on a device
// connection.
const DefaultReadTimeout = 30 * time.Second

// Config holds the listener settings.
type Config struct {
	Host        string
	Port        int
	ReadTimeout time.Duration // zero selects DefaultReadTimeout
	VerifyCRC   bool          // reject data frames whose checksum does not verify
}

// Listener owns the accept loop and every per-connection session. All
// shared state lives here; collaborators arrive through New.
type Listener struct {
	addr        string
	readTimeout time.Duration
	verifyCRC   bool
	pipeline    *Pipeline
	pool        *pool.Pool
	metrics     *metrics.Metrics

	ln    net.Listener
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// New builds a Listener over its collaborators. Call Listen, then Serve.
func New(cfg Config, pl *Pipeline, workers *pool.Pool, m *metrics.Metrics) *Listener {
	rt := cfg.ReadTimeout
	if rt <= 0 {
		rt = DefaultReadTimeout
	}
	return &Listener{
		addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		readTimeout: rt,
		verifyCRC:   cfg.VerifyCRC,
		pipeline:    pl,
		pool:        workers,
		metrics:     m,
		conns:       make(map[net.Conn]struct{}),
	}
}

// Listen binds the TCP socket. It returns quickly so callers see bind
// errors before starting Serve.
func (l *Listener) Listen() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.ln = ln
	log.Printf("Listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address. Valid after Listen.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until ctx is cancelled, handing each one to
// a pool worker. Cancellation closes the socket and every open
// connection; queued ingest work drains when the pool is stopped.
func (l *Listener) Serve(ctx context.Context) error {
	derived, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-derived.Done()
		l.ln.Close()
		l.closeConns()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Printf("Error accepting connection: %v", err)
			time.Sleep(time.Second)
			continue
		}
		l.track(conn)
		if !l.pool.Submit(func() { l.handle(conn) }) {
			l.forget(conn)
			conn.Close()
		}
	}
}

func (l *Listener) handle(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	l.metrics.ConnectionsTotal.Inc()
	l.metrics.ConnectionsOpen.Inc()
	defer l.metrics.ConnectionsOpen.Dec()
	defer l.forget(conn)
	defer conn.Close()
	log.Printf("Connection from %s", remote)

	s := &session{lst: l, conn: conn, remote: remote}
	err := s.run()

	var nerr net.Error
	switch {
	case err == nil:
	case errors.As(err, &nerr) && nerr.Timeout():
		log.Printf("Connection with %s timed out", remote)
	case errors.Is(err, net.ErrClosed):
		// Closed underneath us during shutdown.
	default:
		log.Printf("Error handling connection from %s: %v", remote, err)
	}
	log.Printf("Connection with %s closed", remote)
}

func (l *Listener) track(conn net.Conn) {
	l.mu.Lock()
	l.conns[conn] = struct{}{}
	l.mu.Unlock()
}

func (l *Listener) forget(conn net.Conn) {
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()
}

func (l *Listener) closeConns() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for conn := range l.conns {
		conn.Close()
	}
}
