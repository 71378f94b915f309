// Command ingestd is the ingestion daemon: it loads every configured
// connector instance, schedules their incremental syncs, and serves the
// webhook intake, signed-URL download, and health/metrics HTTP surface.
// Structured the way docker/example-service/main.go and http/runner.go
// start their services — background goroutines for the HTTP listener(s),
// signal.Notify for graceful shutdown, optional registry auto-registration.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"eve.evalgo.org/ingest/connector"
	"eve.evalgo.org/ingest/health"
	"eve.evalgo.org/ingest/processor"
	"eve.evalgo.org/ingest/ratelimit"
	"eve.evalgo.org/ingest/registry"
	"eve.evalgo.org/ingest/scheduler"
	"eve.evalgo.org/ingest/signedurl"
	"eve.evalgo.org/ingest/store/cache"
	"eve.evalgo.org/ingest/store/postgres"
	"eve.evalgo.org/ingest/streamer"
	"eve.evalgo.org/ingest/syncpoint"
	"eve.evalgo.org/ingest/webhook"
)

func main() {
	configPath := flag.String("config", "", "path to a .ingestd.yaml config file")
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("ingestd exited with error")
	}
}

func run(cfg Config, log *logrus.Entry) error {
	startupCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	pgStore, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	syncPoints, err := syncpoint.OpenPostgresStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open syncpoint store: %w", err)
	}

	bus := processor.NewBus()
	proc := processor.New(pgStore, bus, log)

	// nil: every wired connector (Gitea, GitLab, Dropbox) authenticates with a
	// static token pulled straight from config, never through rt.Credential,
	// so there is no OAuth refresh callback to supply yet.
	credentials := connector.NewCredentialCache(nil)
	if cfg.RedisURL != "" {
		remote, err := cache.New(startupCtx, cache.Config{RedisURL: cfg.RedisURL})
		if err != nil {
			return fmt.Errorf("connect credential cache redis: %w", err)
		}
		defer remote.Close()
		credentials.Remote = remote
	}

	sched := scheduler.New(log)
	// driversByName is keyed the way model.Record.ConnectorName is written
	// ("GITEA"), matching streamer.Streamer.Drivers; driversByProvider is
	// keyed the way webhook's {provider} route segment arrives (lowercase).
	driversByName := make(map[string]connector.Driver, len(cfg.Connectors))
	driversByProvider := make(map[string]connector.Driver, len(cfg.Connectors))

	for _, instCfg := range cfg.Connectors {
		limiter := ratelimit.New(ratelimit.Config{
			RequestsPerSecond: instCfg.RequestsPerSecond,
			Burst:             instCfg.Burst,
		})
		rt := connector.NewRuntime(connector.InstanceConfig{
			ConnectorID:          instCfg.ID,
			ConnectorName:        instCfg.Name,
			OrgID:                instCfg.OrgID,
			MaxConcurrentBatches: instCfg.MaxConcurrentBatches,
		}, syncPoints, limiter, credentials, proc, log)

		driver, err := buildDriver(rt, instCfg)
		if err != nil {
			log.WithError(err).WithField("connector_id", instCfg.ID).Warn("skipping connector instance")
			continue
		}

		if ok, err := driver.Init(startupCtx); err != nil || !ok {
			log.WithError(err).WithField("connector_id", instCfg.ID).Warn("connector instance failed Init")
		}

		driversByName[instCfg.Name] = driver
		driversByProvider[strings.ToLower(instCfg.Name)] = driver
		if err := sched.Register(scheduler.Instance{RT: rt, Driver: driver, Schedule: instCfg.scheduleOrDefault()}); err != nil {
			return fmt.Errorf("register scheduler entry for %s: %w", instCfg.ID, err)
		}
	}

	metrics := health.NewMetrics(cfg.MetricsNamespace, nil)
	healthHandler := &health.Handler{Metrics: metrics, Checker: &storeChecker{store: pgStore}}

	secretRing := signedurl.NewSecretRing(cfg.SignedURLSecret)
	urlRouter := &signedurl.Router{
		Ring:    secretRing,
		Records: &recordLookup{store: pgStore},
		Stream: (&streamer.Streamer{
			Drivers: driversByName,
		}).Stream,
	}

	dispatcher := &driverDispatcher{drivers: driversByProvider, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	healthHandler.Routes(r)
	r.Get("/download", handleDownload(urlRouter, log))

	registerWebhookRoutes(r, driversByProvider, dispatcher, log)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: r}

	registered := cfg.RegistryURL != ""
	if registered {
		if _, err := registry.AutoRegister(registry.AutoRegisterConfig{
			ServiceID:   "ingestd",
			ServiceName: "ingestd",
			Description: "document ingestion daemon",
			RegistryURL: cfg.RegistryURL,
		}); err != nil {
			log.WithError(err).Warn("failed to register with service registry (continuing anyway)")
		}
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("ingestd listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server error")
		}
	}()

	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down ingestd")

	if registered {
		if err := registry.AutoUnregister("ingestd"); err != nil {
			log.WithError(err).Error("failed to unregister from service registry")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("error during http shutdown")
	}
	<-sched.Stop().Done()

	log.Info("ingestd stopped")
	return nil
}

func handleDownload(router *signedurl.Router, log *logrus.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusBadRequest)
			return
		}
		var convertTo *string
		if v := r.URL.Query().Get("convert_to"); v != "" {
			convertTo = &v
		}

		resp, err := router.Resolve(r.Context(), token, convertTo)
		if err != nil {
			log.WithError(err).Warn("signed url resolve failed")
			http.Error(w, "cannot resolve download", http.StatusForbidden)
			return
		}
		defer resp.Body.Close()

		w.Header().Set("Content-Type", resp.ContentType)
		if resp.ContentDisposition != "" {
			w.Header().Set("Content-Disposition", resp.ContentDisposition)
		}
		if _, err := io.Copy(w, resp.Body); err != nil {
			log.WithError(err).Warn("stream download failed mid-copy")
		}
	}
}

// registerWebhookRoutes mounts POST /{provider}/webhook for every connector
// that has a live driver. No Verifier is registered per provider yet (each
// source's signature scheme needs its own Verifier implementation); requests
// are accepted unverified until one is wired in, same as a freshly deployed
// instance with no webhook secrets configured yet.
func registerWebhookRoutes(r chi.Router, drivers map[string]connector.Driver, dispatcher *driverDispatcher, log *logrus.Entry) {
	intake := &webhook.Intake{
		Drivers:    drivers,
		Dispatcher: dispatcher,
		Log:        log,
	}
	intake.Routes(r)
}
