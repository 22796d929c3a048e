// Package main runs the AVL ingestion gateway.
//
// The gateway terminates TCP connections from Teltonika-protocol GPS
// trackers, decodes Codec 8 / Codec 8 Extended frames, classifies every
// record into a LATRA activity and posts the resulting report batches to
// the regulator endpoint. Audit rows land in PostgreSQL or SQLite;
// decoded records can additionally be archived to ClickHouse and
// published to NATS.
//
// Usage:
//
//	avl_gateway [options]
//
// Options:
//
//	-host ADDR          Tracker listen address (default: 0.0.0.0, env: LISTEN_HOST)
//	-port N             Tracker listen port (default: 2000, env: LISTEN_PORT)
//	-workers N          Ingest worker count (default: 10, env: INGEST_WORKERS)
//	-read-timeout DUR   Idle connection limit (default: 30s, env: READ_TIMEOUT)
//	-verify-crc         Drop data frames with bad checksums (env: VERIFY_FRAME_CRC)
//	-latra-url URL      Regulator endpoint, required (env: LATRA_API_URL)
//	-latra-token TOKEN  Regulator authorization token, required (env: LATRA_API_TOKEN)
//	-latra-timeout DUR  Per-request upstream timeout (default: 10s)
//	-latra-attempts N   Upstream delivery attempts (default: 3)
//	-cache-ttl DUR      Vehicle cache TTL (default: 5m, env: VEHICLE_CACHE_TTL)
//	-fallback-lat F     Latitude substituted for records without a fix (env: FALLBACK_LAT)
//	-fallback-lon F     Longitude substituted for records without a fix (env: FALLBACK_LON)
//	-ops-port N         HTTP port for the ops API (default: 8081, env: OPS_PORT)
//	-pg-host HOST       PostgreSQL host; empty selects SQLite (env: POSTGRES_HOST)
//	-pg-port PORT       PostgreSQL port (default: 5432, env: POSTGRES_PORT)
//	-pg-database DB     PostgreSQL database (default: avl_gateway, env: POSTGRES_DATABASE)
//	-pg-user USER       PostgreSQL user (default: avl, env: POSTGRES_USER)
//	-pg-password PASS   PostgreSQL password (default: avl, env: POSTGRES_PASSWORD)
//	-sqlite PATH        SQLite path for standalone runs (default: avl_gateway.db, env: SQLITE_PATH)
//	-ch-host HOST       ClickHouse host; empty disables archiving (env: CLICKHOUSE_HOST)
//	-ch-port PORT       ClickHouse port (default: 9000, env: CLICKHOUSE_PORT)
//	-ch-database DB     ClickHouse database (default: avl, env: CLICKHOUSE_DATABASE)
//	-ch-user USER       ClickHouse user (default: default, env: CLICKHOUSE_USER)
//	-ch-password PASS   ClickHouse password (env: CLICKHOUSE_PASSWORD)
//	-nats URL           NATS server URL; empty disables publishing (env: NATS_URL)
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"avl_gateway/internal/bus"
	"avl_gateway/internal/directory"
	"avl_gateway/internal/latra"
	"avl_gateway/internal/listener"
	"avl_gateway/internal/metrics"
	"avl_gateway/internal/ops"
	"avl_gateway/internal/payload"
	"avl_gateway/internal/pool"
	"avl_gateway/internal/storage"
)

func main() {
	// Tracker listener flags.
	host := flag.String("host", envOrDefault("LISTEN_HOST", "0.0.0.0"), "Tracker listen address")
	port := flag.Int("port", envOrDefaultInt("LISTEN_PORT", 2000), "Tracker listen port")
	workers := flag.Int("workers", envOrDefaultInt("INGEST_WORKERS", 10), "Ingest worker count")
	readTimeout := flag.Duration("read-timeout", envOrDefaultDuration("READ_TIMEOUT", listener.DefaultReadTimeout), "Idle connection limit")
	verifyCRC := flag.Bool("verify-crc", envOrDefaultBool("VERIFY_FRAME_CRC", false), "Drop data frames with bad checksums")

	// Regulator flags.
	latraURL := flag.String("latra-url", envOrDefault("LATRA_API_URL", ""), "Regulator endpoint")
	latraToken := flag.String("latra-token", envOrDefault("LATRA_API_TOKEN", ""), "Regulator authorization token")
	latraTimeout := flag.Duration("latra-timeout", latra.DefaultTimeout, "Per-request upstream timeout")
	latraAttempts := flag.Int("latra-attempts", latra.DefaultAttempts, "Upstream delivery attempts")

	// Report assembly flags.
	cacheTTL := flag.Duration("cache-ttl", envOrDefaultDuration("VEHICLE_CACHE_TTL", directory.DefaultTTL), "Vehicle cache TTL")
	fallbackLat := flag.Float64("fallback-lat", envOrDefaultFloat("FALLBACK_LAT", payload.DefaultFallbackLat), "Latitude substituted for records without a fix")
	fallbackLon := flag.Float64("fallback-lon", envOrDefaultFloat("FALLBACK_LON", payload.DefaultFallbackLon), "Longitude substituted for records without a fix")

	// Ops API flags.
	opsPort := flag.Int("ops-port", envOrDefaultInt("OPS_PORT", 8081), "HTTP port for the ops API")

	// Storage flags.
	pgHost := flag.String("pg-host", envOrDefault("POSTGRES_HOST", ""), "PostgreSQL host; empty selects SQLite")
	pgPort := flag.Int("pg-port", envOrDefaultInt("POSTGRES_PORT", 5432), "PostgreSQL port")
	pgDB := flag.String("pg-database", envOrDefault("POSTGRES_DATABASE", "avl_gateway"), "PostgreSQL database")
	pgUser := flag.String("pg-user", envOrDefault("POSTGRES_USER", "avl"), "PostgreSQL user")
	pgPassword := flag.String("pg-password", envOrDefault("POSTGRES_PASSWORD", "avl"), "PostgreSQL password")
	sqlitePath := flag.String("sqlite", envOrDefault("SQLITE_PATH", "avl_gateway.db"), "SQLite path for standalone runs")
	chHost := flag.String("ch-host", envOrDefault("CLICKHOUSE_HOST", ""), "ClickHouse host; empty disables archiving")
	chPort := flag.Int("ch-port", envOrDefaultInt("CLICKHOUSE_PORT", 9000), "ClickHouse port")
	chDB := flag.String("ch-database", envOrDefault("CLICKHOUSE_DATABASE", "avl"), "ClickHouse database")
	chUser := flag.String("ch-user", envOrDefault("CLICKHOUSE_USER", "default"), "ClickHouse user")
	chPassword := flag.String("ch-password", envOrDefault("CLICKHOUSE_PASSWORD", ""), "ClickHouse password")

	// Bus flags.
	natsURL := flag.String("nats", envOrDefault("NATS_URL", ""), "NATS server URL; empty disables publishing")

	flag.Parse()

	if *latraURL == "" {
		fmt.Fprintln(os.Stderr, "A regulator endpoint is required (-latra-url or LATRA_API_URL)")
		os.Exit(1)
	}
	if *latraToken == "" {
		fmt.Fprintln(os.Stderr, "A regulator token is required (-latra-token or LATRA_API_TOKEN)")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open the configured storage backends.
	db, err := storage.Open(ctx, storage.Config{
		Postgres: storage.PostgresConfig{
			Host:     *pgHost,
			Port:     *pgPort,
			Database: *pgDB,
			User:     *pgUser,
			Password: *pgPassword,
		},
		SQLitePath: *sqlitePath,
		ClickHouse: storage.ClickHouseConfig{
			Host:     *chHost,
			Port:     *chPort,
			Database: *chDB,
			User:     *chUser,
			Password: *chPassword,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening storage: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.CreateSchemas(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating schemas: %v\n", err)
		os.Exit(1)
	}

	// Assemble the ingest pipeline.
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ingest := pool.New(*workers)
	m.RegisterBacklog(ingest.Backlog)

	dir := directory.New(db.Store, *cacheTTL)

	pipeline := &listener.Pipeline{
		Directory: dir,
		Builder:   payload.NewBuilder(*fallbackLat, *fallbackLon),
		Sender: latra.New(latra.Config{
			URL:      *latraURL,
			Token:    *latraToken,
			Timeout:  *latraTimeout,
			Attempts: *latraAttempts,
		}),
		Audit:   db.Store,
		Metrics: m,
	}
	if db.Archive != nil {
		pipeline.Archive = db.Archive
	}
	if *natsURL != "" {
		pub, err := bus.Connect(*natsURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to NATS: %v\n", err)
			os.Exit(1)
		}
		defer pub.Close()
		pipeline.Bus = pub
	}

	lst := listener.New(listener.Config{
		Host:        *host,
		Port:        *port,
		ReadTimeout: *readTimeout,
		VerifyCRC:   *verifyCRC,
	}, pipeline, ingest, m)
	if err := lst.Listen(); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding listener: %v\n", err)
		os.Exit(1)
	}

	opsCfg := ops.Config{
		Port:     *opsPort,
		Gatherer: reg,
		Backlog:  ingest.Backlog,
	}
	if db.Archive != nil {
		opsCfg.Archive = db.Archive
	}
	opsServer := ops.NewServer(db.Store, dir, opsCfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return lst.Serve(gctx) })
	g.Go(func() error { return opsServer.Run(gctx) })

	err = g.Wait()

	// Queued packets still ack'd to devices must reach the regulator
	// before the stores close underneath them.
	log.Printf("Draining ingest queue")
	ingest.Stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
	log.Printf("Shutdown complete")
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
