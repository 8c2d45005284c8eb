// Команда fetch выполняет одну выгрузку напрямую, без очереди.
//
// Коды выхода:
//
//	0 — выгрузка завершена
//	1 — внутренняя ошибка
//	2 — токен не прошёл проверку
//	3 — пользователь уже выгружен
//	4 — выгрузка уже идёт
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"osualt-fetcher/internal/adapters/osuapi"
	"osualt-fetcher/internal/adapters/repo"
	"osualt-fetcher/internal/domain"
	"osualt-fetcher/internal/infra/config"
	"osualt-fetcher/internal/infra/db"
	applog "osualt-fetcher/internal/infra/log"
	"osualt-fetcher/internal/usecase/fetch"
)

const (
	exitOK             = 0
	exitInternal       = 1
	exitInvalidToken   = 2
	exitAlreadyFetched = 3
	exitAlreadyActive  = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 || os.Args[1] == "" {
		fmt.Fprintln(os.Stderr, "usage: fetch <access_token>")
		return exitInternal
	}
	token := os.Args[1]

	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv).With().Str("cause", string(domain.FetchCauseCLI)).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Error().Err(err).Msg("fetch: нет подключения к БД")
		return exitInternal
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	client, err := osuapi.New(cfg.Osu.BaseURL, token, logger, osuapi.WithTimeout(cfg.Osu.Timeout))
	if err != nil {
		logger.Error().Err(err).Msg("fetch: не удалось создать клиента osu! API")
		return exitInvalidToken
	}

	service := fetch.NewService(client, repoAdapter, repoAdapter, repoAdapter, logger, cfg.Osu.Mode)
	result, err := service.Run(ctx)
	switch {
	case err == nil:
		logger.Info().
			Int64("user", result.User.ID).
			Int("total", result.Total).
			Int("saved", result.Saved).
			Msg("fetch: выгрузка завершена")
		return exitOK
	case errors.Is(err, domain.ErrInvalidToken):
		logger.Warn().Err(err).Msg("fetch: токен не прошёл проверку")
		return exitInvalidToken
	case errors.Is(err, domain.ErrAlreadyFetched):
		logger.Info().Msg("fetch: пользователь уже выгружен")
		return exitAlreadyFetched
	case errors.Is(err, domain.ErrAlreadyQueued):
		logger.Info().Msg("fetch: выгрузка уже идёт")
		return exitAlreadyActive
	default:
		logger.Error().Err(err).Msg("fetch: выгрузка прервана")
		return exitInternal
	}
}
