package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"osualt-fetcher/internal/adapters/osuapi"
	"osualt-fetcher/internal/adapters/repo"
	"osualt-fetcher/internal/domain"
	"osualt-fetcher/internal/infra/config"
	"osualt-fetcher/internal/infra/db"
	applog "osualt-fetcher/internal/infra/log"
	"osualt-fetcher/internal/infra/metrics"
	"osualt-fetcher/internal/infra/queue"
	"osualt-fetcher/internal/usecase/fetch"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("fetcher: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var fetchQueue domain.FetchQueue
	switch {
	case cfg.RabbitURL != "":
		fetchQueue, err = queue.NewRabbitFetchQueue(cfg.RabbitURL, cfg.RabbitManagementURL, cfg.Queues.Fetch)
		if err != nil {
			logger.Fatal().Err(err).Msg("fetcher: не удалось инициализировать очередь RabbitMQ")
		}
	case cfg.RedisAddr != "":
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		fetchQueue = queue.NewRedisFetchQueue(redisClient, cfg.Queues.Fetch)
	default:
		logger.Fatal().Msg("fetcher: не задан ни REDIS_ADDR, ни RABBITMQ_URL")
	}

	logger.Info().Str("queue", cfg.Queues.Fetch).Msg("fetcher: worker запущен")
	for {
		job, err := fetchQueue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info().Msg("fetcher: остановка")
				return
			}
			logger.Error().Err(err).Msg("fetcher: ошибка чтения очереди")
			continue
		}
		jobLog := logger.With().Str("job_id", job.ID).Str("cause", string(job.Cause)).Logger()
		processJob(ctx, jobLog, cfg, repoAdapter, job)
	}
}

// processJob выполняет одну задачу выгрузки и классифицирует исход.
func processJob(ctx context.Context, jobLog zerolog.Logger, cfg config.AppConfig, repoAdapter *repo.Postgres, job domain.FetchJob) {
	client, err := osuapi.New(cfg.Osu.BaseURL, job.AccessToken, jobLog, osuapi.WithTimeout(cfg.Osu.Timeout))
	if err != nil {
		metrics.IncFetchRun("invalid_token")
		jobLog.Warn().Err(err).Msg("fetcher: задача с пустым токеном пропущена")
		return
	}

	service := fetch.NewService(client, repoAdapter, repoAdapter, repoAdapter, jobLog, cfg.Osu.Mode)
	result, err := service.Run(ctx)
	switch {
	case err == nil:
		metrics.IncFetchRun("completed")
		jobLog.Info().
			Int64("user", result.User.ID).
			Str("username", result.User.Username).
			Int("total", result.Total).
			Int("saved", result.Saved).
			Int("no_score", result.NoScore).
			Int("failed", result.Failed).
			Msg("fetcher: выгрузка завершена")
	case errors.Is(err, domain.ErrInvalidToken):
		metrics.IncFetchRun("invalid_token")
		jobLog.Warn().Err(err).Msg("fetcher: токен не прошёл проверку")
	case errors.Is(err, domain.ErrAlreadyFetched):
		metrics.IncFetchRun("already_fetched")
		jobLog.Info().Msg("fetcher: пользователь уже выгружен")
	case errors.Is(err, domain.ErrAlreadyQueued):
		metrics.IncFetchRun("already_queued")
		jobLog.Info().Msg("fetcher: выгрузка уже идёт")
	default:
		metrics.IncFetchRun("failed")
		jobLog.Error().Err(err).Msg("fetcher: выгрузка прервана")
	}
}
