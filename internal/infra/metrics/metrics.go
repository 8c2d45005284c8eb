package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 60, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	FetchRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_runs_total",
		Help: "Количество выгрузок по исходу",
	}, []string{"outcome"})

	ScoresSavedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scores_saved_total",
		Help: "Количество сохранённых результатов",
	})

	ScoreItemFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "score_item_failures_total",
		Help: "Карты без сохранённого результата по причине",
	}, []string{"reason"})

	BeatmapPagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beatmap_pages_total",
		Help: "Количество запрошенных страниц most_played",
	})

	FetchProgress = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fetch_progress_ratio",
		Help: "Прогресс текущей выгрузки пользователя",
	}, []string{"user_id"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		NetworkRequestDuration,
		NetworkRequestTotal,
		FetchRunsTotal,
		ScoresSavedTotal,
		ScoreItemFailures,
		BeatmapPagesTotal,
		FetchProgress,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// IncFetchRun увеличивает счётчик выгрузок с указанным исходом.
func IncFetchRun(outcome string) {
	FetchRunsTotal.WithLabelValues(outcome).Inc()
}

// SetFetchProgress выставляет прогресс выгрузки пользователя.
func SetFetchProgress(userID int64, ratio float64) {
	FetchProgress.WithLabelValues(strconv.FormatInt(userID, 10)).Set(ratio)
}
