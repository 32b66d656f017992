/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command vaultd hosts the encrypted secrets vault's maintenance loop,
// health, and metrics endpoints. It does not expose secret CRUD over the
// network; hosts embed the vault package directly and call vaultd only for
// the shared Postgres pool, health probe, and maintenance scheduling.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudflare/vibesdk-vault/internal/vault"
	"github.com/cloudflare/vibesdk-vault/internal/vault/postgres"
	"github.com/cloudflare/vibesdk-vault/pkg/logging"
	"github.com/cloudflare/vibesdk-vault/pkg/metrics"
)

// flags groups all CLI flags for the vaultd binary.
type flags struct {
	healthAddr   string
	metricsAddr  string
	postgresConn string
	demoUserID   string
	demo         bool
	userID       string
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.healthAddr, "health-addr", ":8081", "Health probe listen address")
	flag.StringVar(&f.metricsAddr, "metrics-addr", ":9090", "Metrics server listen address")
	flag.StringVar(&f.postgresConn, "postgres-conn", "", "Postgres connection string")
	flag.StringVar(&f.demoUserID, "demo-user", "demo-user", "User id to exercise when -demo is set")
	flag.BoolVar(&f.demo, "demo", false, "Exercise one Store lifecycle against postgres-conn and exit")
	flag.StringVar(&f.userID, "user-id", "", "User id whose Store this process self-schedules maintenance for; if unset, maintenance must be driven externally via AdvanceMaintenance")
	flag.Parse()

	f.applyEnvFallbacks()
	return f
}

func (f *flags) applyEnvFallbacks() {
	envFallback(&f.postgresConn, "", "POSTGRES_CONN")
	envFallback(&f.healthAddr, ":8081", "HEALTH_ADDR")
	envFallback(&f.metricsAddr, ":9090", "METRICS_ADDR")
	envFallback(&f.userID, "", "VAULT_USER_ID")
}

func envFallback(dst *string, defaultVal, envKey string) {
	if *dst == defaultVal {
		if v := os.Getenv(envKey); v != "" {
			*dst = v
		}
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	f := parseFlags()

	log, syncLog, err := logging.NewLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer syncLog()

	masterKeyHex := os.Getenv("VAULT_MASTER_KEY")
	if masterKeyHex == "" {
		return fmt.Errorf("VAULT_MASTER_KEY is required")
	}
	if f.postgresConn == "" {
		return fmt.Errorf("--postgres-conn or POSTGRES_CONN is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := initPool(ctx, f.postgresConn)
	if err != nil {
		return err
	}
	defer pool.Close()

	vaultMetrics := metrics.NewVault()

	if f.demo {
		return runDemo(ctx, f, masterKeyHex, pool, log, vaultMetrics)
	}

	if f.userID != "" {
		store, err := vault.New(ctx, f.userID, masterKeyHex, postgres.NewFromPool(pool, f.userID),
			vault.WithLogger(log), vault.WithMetrics(vaultMetrics))
		if err != nil {
			return fmt.Errorf("constructing store for maintenance: %w", err)
		}
		defer store.Close()

		loop := vault.NewMaintenanceLoop(store, maintenanceInterval)
		go loop.Run(ctx)
		log.Info("maintenance loop started", "userID", f.userID, "interval", maintenanceInterval)
	} else {
		log.Info("no -user-id/VAULT_USER_ID set; maintenance must be driven externally via AdvanceMaintenance")
	}

	healthSrv := newHealthServer(f.healthAddr, pool)
	metricsSrv := newMetricsServer(f.metricsAddr)
	startHTTPServer(log, "health", f.healthAddr, healthSrv)
	startHTTPServer(log, "metrics", f.metricsAddr, metricsSrv)

	log.Info("vaultd ready", "health", f.healthAddr, "metrics", f.metricsAddr)

	<-ctx.Done()
	log.Info("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	for _, s := range []*http.Server{healthSrv, metricsSrv} {
		if err := s.Shutdown(shutCtx); err != nil {
			log.Error(err, "server shutdown error")
		}
	}
	return nil
}

// runDemo constructs one Store for -demo-user, stores and fetches one
// secret, reports its rotation state, deletes the secret, then exits.
func runDemo(ctx context.Context, f *flags, masterKeyHex string, pool *pgxpool.Pool, log logr.Logger, m *metrics.Vault) error {
	provider := postgres.NewFromPool(pool, f.demoUserID)
	defer provider.Close()

	store, err := vault.New(ctx, f.demoUserID, masterKeyHex, provider, vault.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("constructing store: %w", err)
	}
	defer store.Close()

	meta, err := store.Store(ctx, vault.StoreRequest{
		Name:       "demo secret",
		SecretType: vault.SecretTypeCustom,
		Value:      "demo-value-1234567890",
	})
	if err != nil {
		return fmt.Errorf("storing demo secret: %w", err)
	}
	log.Info("stored", "id", meta.ID, "keyPreview", meta.KeyPreview)

	got, err := store.Get(ctx, meta.ID)
	if err != nil {
		return fmt.Errorf("fetching demo secret: %w", err)
	}
	log.Info("fetched", "value", got.Value, "accessCount", got.Metadata.AccessCount)

	info, err := store.KeyRotationInfo(ctx)
	if err != nil {
		return fmt.Errorf("reading rotation info: %w", err)
	}
	log.Info("rotation state", "currentFingerprint", info.CurrentKeyFingerprint,
		"totalSecrets", info.TotalSecrets, "secretsRotated", info.SecretsRotated)

	if _, err := store.Delete(ctx, meta.ID); err != nil {
		return fmt.Errorf("deleting demo secret: %w", err)
	}
	return nil
}

// maintenanceInterval is how often the self-scheduled MaintenanceLoop fires
// when -user-id is set (spec.md's default).
const maintenanceInterval = time.Hour

func initPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	cfg := postgres.DefaultConfig()
	cfg.ConnString = connStr
	cfg.MaxConns = envInt32("PG_MAX_CONNS", cfg.MaxConns)
	cfg.MinConns = envInt32("PG_MIN_CONNS", cfg.MinConns)
	cfg.MaxConnLifetime = envDuration("PG_MAX_CONN_LIFETIME", cfg.MaxConnLifetime)
	cfg.MaxConnIdleTime = envDuration("PG_MAX_CONN_IDLE_TIME", cfg.MaxConnIdleTime)

	return postgres.NewPool(ctx, cfg)
}

func envInt32(key string, def int32) int32 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return def
	}
	return int32(n)
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func startHTTPServer(log logr.Logger, name, addr string, srv *http.Server) {
	go func() {
		log.Info("starting server", "server", name, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "server error", "server", name)
		}
	}()
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}

func newHealthServer(addr string, pool *pgxpool.Pool) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("postgres unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: mux}
}
