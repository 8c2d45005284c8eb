package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"osualt-fetcher/internal/adapters/osuapi"
	"osualt-fetcher/internal/adapters/repo"
	"osualt-fetcher/internal/domain"
	"osualt-fetcher/internal/infra/cache"
	"osualt-fetcher/internal/infra/config"
	"osualt-fetcher/internal/infra/db"
	httpinfra "osualt-fetcher/internal/infra/http"
	applog "osualt-fetcher/internal/infra/log"
	"osualt-fetcher/internal/infra/metrics"
	"osualt-fetcher/internal/infra/queue"
)

const (
	enqueueDedupTTL = time.Minute
	fetchedCacheTTL = 30 * time.Second
	fetchedCacheKey = "api:fetched"
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
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}

	var fetchQueue domain.FetchQueue
	switch {
	case cfg.RabbitURL != "":
		fetchQueue, err = queue.NewRabbitFetchQueue(cfg.RabbitURL, cfg.RabbitManagementURL, cfg.Queues.Fetch)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: не удалось инициализировать очередь RabbitMQ")
		}
	case redisClient != nil:
		fetchQueue = queue.NewRedisFetchQueue(redisClient, cfg.Queues.Fetch)
	default:
		logger.Fatal().Msg("api: не задан ни REDIS_ADDR, ни RABBITMQ_URL")
	}

	var ttlCache domain.Cache
	if redisClient != nil {
		ttlCache = cache.NewRedis(redisClient)
	}

	handler := &apiHandler{
		log:     logger.With().Str("component", "api").Logger(),
		cfg:     cfg,
		queue:   repoAdapter,
		fetched: repoAdapter,
		jobs:    fetchQueue,
		cache:   ttlCache,
	}

	server := httpinfra.NewServer(logger)
	server.Router.Post("/api/v1/fetch", handler.enqueueFetch)
	server.Router.Get("/api/v1/current", handler.listCurrent)
	server.Router.Get("/api/v1/fetched", handler.listFetched)

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

type apiHandler struct {
	log     zerolog.Logger
	cfg     config.AppConfig
	queue   domain.QueueRepo
	fetched domain.FetchedUserRepo
	jobs    domain.FetchQueue
	cache   domain.Cache
}

type fetchRequest struct {
	AccessToken string `json:"access_token"`
}

type queueEntryResponse struct {
	UserID     int64   `json:"user_id"`
	Username   string  `json:"username"`
	Progress   string  `json:"progress"`
	Percentage float64 `json:"percentage"`
}

type fetchedUserResponse struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// enqueueFetch принимает токен, определяет его владельца и ставит задачу
// выгрузки в очередь. Токен дальше живёт только в payload очереди.
func (h *apiHandler) enqueueFetch(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "access_token is required")
		return
	}

	client, err := osuapi.New(h.cfg.Osu.BaseURL, req.AccessToken, h.log, osuapi.WithTimeout(h.cfg.Osu.Timeout))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid access token")
		return
	}
	user, err := client.Me(r.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("api: не удалось определить владельца токена")
		writeError(w, http.StatusUnauthorized, "invalid access token")
		return
	}

	fetched, err := h.fetched.IsFetched(user.ID)
	if err != nil {
		h.log.Error().Err(err).Msg("api: проверка fetched_users")
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if fetched {
		writeError(w, http.StatusConflict, "user already fetched")
		return
	}
	queued, err := h.queue.IsQueued(user.ID)
	if err != nil {
		h.log.Error().Err(err).Msg("api: проверка очереди")
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if queued {
		writeError(w, http.StatusConflict, "user already fetching")
		return
	}

	enqueue := func() error {
		job := domain.FetchJob{
			ID:          uuid.NewString(),
			AccessToken: req.AccessToken,
			RequestedAt: time.Now().UTC(),
			Cause:       domain.FetchCauseManual,
		}
		h.log.Info().Str("job_id", job.ID).Int64("user", user.ID).Msg("api: задача выгрузки поставлена")
		return h.jobs.Enqueue(r.Context(), job)
	}
	if h.cache != nil {
		// Защита от дребезга: повторный запрос в течение TTL не плодит задачи.
		err = h.cache.Once(fmt.Sprintf("fetch:enqueue:%d", user.ID), enqueueDedupTTL, enqueue)
	} else {
		err = enqueue()
	}
	if err != nil {
		h.log.Error().Err(err).Msg("api: не удалось поставить задачу")
		writeError(w, http.StatusInternalServerError, "failed to enqueue fetch")
		return
	}

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]any{
		"status":   "queued",
		"user_id":  user.ID,
		"username": user.Username,
	})
}

// listCurrent возвращает идущие выгрузки с их прогрессом.
func (h *apiHandler) listCurrent(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queue.ListQueue()
	if err != nil {
		h.log.Error().Err(err).Msg("api: чтение очереди")
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	resp := make([]queueEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, queueEntryResponse{
			UserID:     e.UserID,
			Username:   e.Username,
			Progress:   e.Progress,
			Percentage: e.Percentage,
		})
	}
	writeJSON(w, resp)
}

// listFetched возвращает выгруженных пользователей, с коротким кэшем.
func (h *apiHandler) listFetched(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		if raw, err := h.cache.Get(fetchedCacheKey); err == nil && len(raw) > 0 {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(raw)
			return
		}
	}
	users, err := h.fetched.ListFetched()
	if err != nil {
		h.log.Error().Err(err).Msg("api: чтение fetched_users")
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	resp := make([]fetchedUserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, fetchedUserResponse{UserID: u.UserID, Username: u.Username})
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode response")
		return
	}
	if h.cache != nil {
		if err := h.cache.Set(fetchedCacheKey, raw, fetchedCacheTTL); err != nil {
			h.log.Warn().Err(err).Msg("api: не удалось закэшировать fetched_users")
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
