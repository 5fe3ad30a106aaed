package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sumanyunandwani/AnalyzeAI/internal/bdoc"
	"github.com/sumanyunandwani/AnalyzeAI/internal/config"
	"github.com/sumanyunandwani/AnalyzeAI/internal/db"
	"github.com/sumanyunandwani/AnalyzeAI/internal/httpapi"
	"github.com/sumanyunandwani/AnalyzeAI/internal/httpapi/handlers"
	"github.com/sumanyunandwani/AnalyzeAI/internal/logging"
	"github.com/sumanyunandwani/AnalyzeAI/internal/quota"
	"github.com/sumanyunandwani/AnalyzeAI/internal/store/filestore"
	"github.com/sumanyunandwani/AnalyzeAI/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat, "bdoc-api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	repo := bdoc.NewRepo(gdb)
	if err := repo.SeedBusinesses(ctx, cfg.BusinessDomains); err != nil {
		log.Fatal().Err(err).Msg("seed businesses")
	}

	files, err := filestore.NewOS(cfg.StorageDir)
	if err != nil {
		log.Fatal().Err(err).Msg("file store")
	}

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit publisher")
	}
	defer pub.Close()

	ledger := quota.NewLedger(quota.NewRepo(gdb), quota.Options{
		UserDefault:     cfg.QuotaUserDefault,
		IPDefault:       cfg.QuotaIPDefault,
		AtomicDecrement: cfg.QuotaAtomicDecrement,
	})
	if cfg.AdminKeyHash == "" {
		log.Warn().Msg("ADMIN_KEY_HASH not set, count updates are disabled")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(handlers.NewHandler(cfg, repo, ledger, files, pub)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("api shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
