package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"github.com/sumanyunandwani/AnalyzeAI/internal/ai"
	"github.com/sumanyunandwani/AnalyzeAI/internal/bdoc"
	"github.com/sumanyunandwani/AnalyzeAI/internal/chain"
	"github.com/sumanyunandwani/AnalyzeAI/internal/config"
	"github.com/sumanyunandwani/AnalyzeAI/internal/db"
	"github.com/sumanyunandwani/AnalyzeAI/internal/logging"
	"github.com/sumanyunandwani/AnalyzeAI/internal/pdf"
	"github.com/sumanyunandwani/AnalyzeAI/internal/quota"
	"github.com/sumanyunandwani/AnalyzeAI/internal/store/filestore"
	"github.com/sumanyunandwani/AnalyzeAI/internal/store/rabbitmq"
	"github.com/sumanyunandwani/AnalyzeAI/internal/store/redisstore"
)

func newLocker(cfg config.Config) (bdoc.Locker, func(), error) {
	switch cfg.FingerprintLock {
	case "none":
		return nil, func() {}, nil
	case "memory":
		return bdoc.NewMemoryLocker(), func() {}, nil
	default:
		rds, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return redisstore.NewFingerprintLocker(rds.Client(), cfg.FingerprintLockTTL), func() { _ = rds.Close() }, nil
	}
}

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat, "bdoc-worker")

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

	// Provider registry; one gateway per process bounds concurrent model calls
	reg := ai.NewRegistry()
	ai.RegisterDefaults(reg, ai.Settings{
		OllamaBaseURL:     cfg.OllamaBaseURL,
		OllamaModel:       cfg.OllamaModel,
		OpenRouterBaseURL: cfg.OpenRouterBaseURL,
		OpenRouterAPIKey:  cfg.OpenRouterAPIKey,
		OpenRouterModel:   cfg.OpenRouterModel,
		OpenRouterSiteURL: cfg.OpenRouterSiteURL,
		OpenRouterAppName: cfg.OpenRouterAppName,
		LlamaBaseURL:      cfg.LlamaBaseURL,
		LlamaAPIKey:       cfg.LlamaAPIKey,
		LlamaModel:        cfg.LlamaModel,
	})
	provider, err := reg.Get(ctx, cfg.AIProvider, "")
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.AIProvider).Strs("available", reg.Names()).Msg("unsupported AI_PROVIDER")
	}
	gateway := ai.NewGateway(cfg.AIProvider, provider)
	gateway.Init(cfg.ModelMaxConcurrent)

	chains, err := chain.LoadFile(cfg.ChainsFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.ChainsFile).Msg("load chains")
	}

	files, err := filestore.NewOS(cfg.StorageDir)
	if err != nil {
		log.Fatal().Err(err).Msg("file store")
	}

	locker, closeLocker, err := newLocker(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("mode", cfg.FingerprintLock).Msg("fingerprint lock")
	}
	defer closeLocker()

	svc, err := bdoc.NewService(bdoc.Deps{
		Store: repo,
		Ledger: quota.NewLedger(quota.NewRepo(gdb), quota.Options{
			UserDefault:     cfg.QuotaUserDefault,
			IPDefault:       cfg.QuotaIPDefault,
			AtomicDecrement: cfg.QuotaAtomicDecrement,
		}),
		Runner: chain.NewEvaluator(gateway, cfg.SystemPrompt),
		Chains: chains,
		Files:  files,
		Render: pdf.Render,
		Locker: locker,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build service")
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit dial")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit channel")
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatal().Err(err).Msg("queue declare")
	}

	pubCh, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit publish channel")
	}
	retries, err := rabbitmq.NewPublisherOnChannel(nil, pubCh, cfg.RabbitQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("retry publisher")
	}
	defer retries.Close()

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal().Err(err).Msg("qos")
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("consume")
	}

	log.Info().
		Str("queue", cfg.RabbitQueue).
		Int("concurrency", concurrency).
		Int("model_max_concurrent", gateway.Limit()).
		Str("provider", cfg.AIProvider).
		Str("fingerprint_lock", cfg.FingerprintLock).
		Strs("chains", chains.Names()).
		Msg("worker started")

	h := &jobHandler{
		jobs:        repo,
		svc:         svc,
		retry:       retries,
		jwtSecret:   cfg.JWTSecret,
		maxAttempts: cfg.JobMaxAttempts,
		retryDelay:  cfg.JobRetryDelay,
	}

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				m, err := rabbitmq.DecodeJob(d.Body)
				if err != nil {
					log.Warn().Err(err).Int("worker", workerID).Msg("bad message")
					_ = d.Nack(false, false)
					continue
				}

				var ackErr error
				switch h.handle(ctx, m) {
				case ack:
					ackErr = d.Ack(false)
				case deadLetter:
					ackErr = d.Nack(false, false)
				case requeue:
					ackErr = d.Nack(false, true)
				}
				if ackErr != nil {
					log.Error().Err(ackErr).Int("worker", workerID).Str("job_id", m.JobID).Msg("ack failed")
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn().Msg("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}
