package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"osualt-fetcher/internal/domain"
	"osualt-fetcher/internal/infra/metrics"
)

// pageSize — фиксированный размер страницы most_played в osu! API.
const pageSize = 100

// collectProgress — текст прогресса на этапе сбора карт.
const collectProgress = "Getting most played beatmaps..."

// Статусы карт, пригодных для выгрузки результатов.
var eligibleStatuses = map[string]struct{}{
	"ranked":   {},
	"approved": {},
	"loved":    {},
}

// Service реализует конвейер выгрузки результатов одного пользователя.
type Service struct {
	client  domain.OsuClient
	scores  domain.ScoreRepo
	queue   domain.QueueRepo
	fetched domain.FetchedUserRepo
	log     zerolog.Logger
	mode    string
}

// Result — итог одной выгрузки.
type Result struct {
	User    domain.User
	Total   int
	Saved   int
	NoScore int
	Failed  int
}

// NewService создаёт конвейер выгрузки.
func NewService(client domain.OsuClient, scores domain.ScoreRepo, queue domain.QueueRepo, fetched domain.FetchedUserRepo, logger zerolog.Logger, mode string) *Service {
	if mode == "" {
		mode = "osu"
	}
	return &Service{client: client, scores: scores, queue: queue, fetched: fetched, log: logger, mode: mode}
}

// Run выполняет одну выгрузку целиком: проверка токена, защита от
// повторного запуска, сбор карт, выгрузка результатов, финализация.
func (s *Service) Run(ctx context.Context) (Result, error) {
	ok, err := s.client.CheckToken(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("fetch: пробный запрос не удался")
		return Result{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if !ok {
		return Result{}, domain.ErrInvalidToken
	}

	user, err := s.client.Me(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("владелец токена: %w", err)
	}
	runLog := s.log.With().Int64("user", user.ID).Str("username", user.Username).Logger()

	fetched, err := s.fetched.IsFetched(user.ID)
	if err != nil {
		return Result{}, fmt.Errorf("проверка fetched_users: %w", err)
	}
	if fetched {
		return Result{User: user}, domain.ErrAlreadyFetched
	}
	queued, err := s.queue.IsQueued(user.ID)
	if err != nil {
		return Result{}, fmt.Errorf("проверка очереди: %w", err)
	}
	if queued {
		return Result{User: user}, domain.ErrAlreadyQueued
	}

	if err := s.queue.EnqueueUser(user.ID, user.Username, collectProgress); err != nil {
		return Result{}, fmt.Errorf("создание строки очереди: %w", err)
	}

	result, err := s.run(ctx, user, runLog)
	if err != nil {
		// Строка очереди снимается, чтобы сбой не блокировал повтор.
		if cleanupErr := s.queue.RemoveFromQueue(user.ID); cleanupErr != nil {
			runLog.Error().Err(cleanupErr).Msg("fetch: не удалось снять строку очереди после сбоя")
		}
		return result, err
	}

	if err := s.fetched.FinishUser(user.ID, user.Username); err != nil {
		return result, fmt.Errorf("финализация выгрузки: %w", err)
	}
	runLog.Info().Int("total", result.Total).Int("saved", result.Saved).
		Int("no_score", result.NoScore).Int("failed", result.Failed).
		Msg("fetch: выгрузка завершена")
	return result, nil
}

func (s *Service) run(ctx context.Context, user domain.User, runLog zerolog.Logger) (Result, error) {
	beatmapIDs, err := s.collectBeatmaps(ctx, user, runLog)
	if err != nil {
		return Result{User: user}, fmt.Errorf("сбор карт: %w", err)
	}
	return s.ingestScores(ctx, user, beatmapIDs, runLog)
}

// collectBeatmaps собирает идентификаторы карт итеративно, страницами по
// pageSize, до первой неполной страницы. Порядок обнаружения сохраняется.
func (s *Service) collectBeatmaps(ctx context.Context, user domain.User, runLog zerolog.Logger) ([]int64, error) {
	var beatmapIDs []int64
	for offset := 0; ; offset += pageSize {
		entries, err := s.client.MostPlayed(ctx, user.ID, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("страница offset=%d: %w", offset, err)
		}
		metrics.BeatmapPagesTotal.Inc()
		for _, entry := range entries {
			if _, ok := eligibleStatuses[entry.Status]; !ok {
				continue
			}
			if entry.Mode != s.mode {
				continue
			}
			beatmapIDs = append(beatmapIDs, entry.BeatmapID)
		}
		progress := fmt.Sprintf("%s (%d)", collectProgress, len(beatmapIDs))
		if err := s.queue.UpdateProgress(user.ID, progress, 0); err != nil {
			return nil, fmt.Errorf("прогресс сбора карт: %w", err)
		}
		if len(entries) < pageSize {
			break
		}
	}
	runLog.Info().Int("beatmaps", len(beatmapIDs)).Msg("fetch: карты собраны")
	return beatmapIDs, nil
}

type itemOutcome int

const (
	itemSaved itemOutcome = iota
	itemNoScore
	itemFetchFailed
)

// ingestScores выгружает лучший результат по каждой карте по порядку.
// Отсутствие результата и транзитная ошибка не прерывают выгрузку,
// но логируются по-разному; после каждой карты обновляется прогресс.
func (s *Service) ingestScores(ctx context.Context, user domain.User, beatmapIDs []int64, runLog zerolog.Logger) (Result, error) {
	result := Result{User: user, Total: len(beatmapIDs)}
	total := len(beatmapIDs)
	for i, beatmapID := range beatmapIDs {
		outcome, err := s.ingestOne(ctx, user, beatmapID)
		if err != nil {
			return result, fmt.Errorf("карта %d: %w", beatmapID, err)
		}
		switch outcome {
		case itemSaved:
			result.Saved++
			metrics.ScoresSavedTotal.Inc()
			runLog.Debug().Int64("beatmap", beatmapID).Msg("fetch: результат сохранён")
		case itemNoScore:
			result.NoScore++
			metrics.ScoreItemFailures.WithLabelValues("no_score").Inc()
			runLog.Debug().Int64("beatmap", beatmapID).Msg("fetch: результата нет")
		case itemFetchFailed:
			result.Failed++
			metrics.ScoreItemFailures.WithLabelValues("fetch_failed").Inc()
		}

		done := i + 1
		percentage := float64(done) / float64(total)
		progress := fmt.Sprintf("%d/%d", done, total)
		if err := s.queue.UpdateProgress(user.ID, progress, percentage); err != nil {
			return result, fmt.Errorf("прогресс выгрузки: %w", err)
		}
		metrics.SetFetchProgress(user.ID, percentage)
	}
	return result, nil
}

// ingestOne обрабатывает одну карту. Ненулевая ошибка означает фатальный
// для всей выгрузки сбой (неизвестный мод, отказ БД).
func (s *Service) ingestOne(ctx context.Context, user domain.User, beatmapID int64) (itemOutcome, error) {
	raw, err := s.client.UserBeatmapScore(ctx, beatmapID, user.ID)
	if errors.Is(err, domain.ErrNoScore) {
		return itemNoScore, nil
	}
	if err != nil {
		s.log.Warn().Err(err).Int64("user", user.ID).Int64("beatmap", beatmapID).
			Msg("fetch: запрос результата не удался, пропускаем карту")
		return itemFetchFailed, nil
	}

	score, err := normalizeScore(user.ID, beatmapID, raw)
	if err != nil {
		return 0, err
	}
	if err := s.scores.UpsertScore(score); err != nil {
		return 0, fmt.Errorf("сохранение результата: %w", err)
	}
	return itemSaved, nil
}

// normalizeScore приводит сырой ответ API к строке таблицы scores.
func normalizeScore(userID, beatmapID int64, raw domain.BeatmapScore) (domain.Score, error) {
	mask, err := domain.EncodeMods(raw.Mods)
	if err != nil {
		return domain.Score{}, err
	}
	pp := 0.0
	if raw.PP != nil {
		pp = *raw.PP
	}
	return domain.Score{
		UserID:          userID,
		BeatmapID:       beatmapID,
		Score:           raw.Score,
		Count300:        raw.Count300,
		Count100:        raw.Count100,
		Count50:         raw.Count50,
		CountMiss:       raw.CountMiss,
		MaxCombo:        raw.MaxCombo,
		Perfect:         raw.Perfect,
		EnabledMods:     mask,
		DatePlayed:      raw.CreatedAt,
		Rank:            raw.Rank,
		PP:              pp,
		ReplayAvailable: raw.Replay,
		IsHD:            domain.HasMod(raw.Mods, "HD"),
		IsHR:            domain.HasMod(raw.Mods, "HR"),
		IsDT:            domain.HasMod(raw.Mods, "DT") || domain.HasMod(raw.Mods, "NC"),
		IsFL:            domain.HasMod(raw.Mods, "FL"),
		IsHT:            domain.HasMod(raw.Mods, "HT"),
		IsEZ:            domain.HasMod(raw.Mods, "EZ"),
		IsNF:            domain.HasMod(raw.Mods, "NF"),
		IsNC:            domain.HasMod(raw.Mods, "NC"),
		IsTD:            domain.HasMod(raw.Mods, "TD"),
		IsSO:            domain.HasMod(raw.Mods, "SO"),
		IsSD:            domain.HasMod(raw.Mods, "SD") || domain.HasMod(raw.Mods, "PF"),
		IsPF:            domain.HasMod(raw.Mods, "PF"),
	}, nil
}
