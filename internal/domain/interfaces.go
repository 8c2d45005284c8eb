package domain

import (
	"context"
	"time"
)

// OsuClient — клиент osu! API v2 от имени владельца токена.
type OsuClient interface {
	// CheckToken делает пробный запрос и сообщает, пригоден ли токен.
	CheckToken(ctx context.Context) (bool, error)
	// Me возвращает владельца токена.
	Me(ctx context.Context) (User, error)
	// MostPlayed возвращает страницу самых играемых карт пользователя.
	MostPlayed(ctx context.Context, userID int64, limit, offset int) ([]MostPlayedEntry, error)
	// UserBeatmapScore возвращает лучший результат пользователя на карте.
	// Возвращает ErrNoScore, если результата нет.
	UserBeatmapScore(ctx context.Context, beatmapID, userID int64) (BeatmapScore, error)
}

// ScoreRepo сохраняет лучшие результаты.
type ScoreRepo interface {
	// UpsertScore вставляет результат либо заменяет существующий,
	// только если новый score не меньше сохранённого.
	UpsertScore(score Score) error
}

// QueueRepo управляет строкой очереди выгрузки.
type QueueRepo interface {
	EnqueueUser(userID int64, username, progress string) error
	UpdateProgress(userID int64, progress string, percentage float64) error
	RemoveFromQueue(userID int64) error
	IsQueued(userID int64) (bool, error)
	ListQueue() ([]QueueEntry, error)
}

// FetchedUserRepo управляет списком уже выгруженных пользователей.
type FetchedUserRepo interface {
	IsFetched(userID int64) (bool, error)
	ListFetched() ([]FetchedUser, error)
	// FinishUser атомарно переносит пользователя из queue в fetched_users.
	FinishUser(userID int64, username string) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
