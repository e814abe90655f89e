package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redislib "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"cleargate/internal/certificate"
	certhandler "cleargate/internal/certificate/handler"
	"cleargate/internal/compliance"
	"cleargate/internal/eventbus"
	"cleargate/internal/export"
	"cleargate/internal/identity"
	jwttoken "cleargate/internal/jwt_token"
	"cleargate/internal/platform/config"
	"cleargate/internal/platform/httpserver"
	"cleargate/internal/platform/logger"
	"cleargate/internal/platform/metrics"
	"cleargate/internal/platform/middleware"
	"cleargate/internal/platform/postgres"
	redisplatform "cleargate/internal/platform/redis"
	"cleargate/internal/stream"
	"cleargate/internal/webhook"
	txcontext "cleargate/pkg/platform/tx"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	db, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}

	rdb, err := redisplatform.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}

	var (
		caseStore     compliance.Store
		identityStore identity.Store
		certStore     certificate.Store
		txr           webhook.TxRunner
	)
	if db != nil {
		caseStore = compliance.NewPostgresStore(db)
		identityStore = identity.NewPostgresStore(db)
		certStore = certificate.NewPostgresStore(db)
		txr = txcontext.NewRunner(db)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		caseStore = compliance.NewInMemoryStore()
		identityStore = identity.NewInMemoryStore()
		certStore = certificate.NewInMemoryStore()
		txr = txcontext.Passthrough{}
	}

	var signer certificate.Signer
	if cfg.SigningKeyPEM != "" {
		signer, err = certificate.NewRSASigner(cfg.SigningKeyPEM, cfg.SigningKeyID)
		if err != nil {
			log.Error("signing key rejected", "error", err)
			os.Exit(1)
		}
	} else {
		if cfg.IsProduction() {
			log.Error("CERT_SIGNING_KEY_PEM is required in production")
			os.Exit(1)
		}
		log.Warn("no signing key configured, using deterministic mock signer")
		signer = certificate.NewMockSigner(cfg.SigningKeyID)
	}

	var busClient *redislib.Client
	if rdb != nil {
		busClient = rdb.Client
	} else {
		log.Warn("REDIS_URL not set, event bus runs local-only")
	}
	bus := eventbus.New(busClient, log, m)

	caseService := compliance.NewService(caseStore, log)
	certService := certificate.NewService(certStore, signer, cfg.SignerTimeout, log, m)

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "cleargate", "cleargate-clients")
	jwtValidator := jwttoken.NewJWTServiceAdapter(jwtService)

	webhookHandler := webhook.New(cfg.WebhookSecret, cfg.IsProduction(), identityStore, caseService, txr, bus, log, m)
	streamHandler := stream.New(caseService, bus, cfg.StreamKeepAlive, log, m)
	certificateHandler := certhandler.New(certService, log)

	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))

	webhookHandler.Register(r)
	certificateHandler.Register(r)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(jwtValidator, log))
		streamHandler.Register(r)
	})

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := httpserver.New(cfg.Addr, r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting cleargate", "addr", cfg.Addr, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if len(cfg.KafkaBrokers) > 0 {
		worker, err := export.New(cfg.KafkaBrokers, cfg.KafkaTopic, caseStore, log, m)
		if err != nil {
			log.Error("ledger export worker failed to start", "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		bus.Close()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
