package domain

import "time"

// User описывает пользователя osu!, от имени которого идёт выгрузка.
type User struct {
	ID       int64
	Username string
}

// MostPlayedEntry — элемент страницы most_played из osu! API.
type MostPlayedEntry struct {
	BeatmapID int64
	Status    string
	Mode      string
	PlayCount int
}

// BeatmapScore — сырой лучший результат пользователя на карте,
// как его возвращает osu! API (моды ещё не закодированы).
type BeatmapScore struct {
	Mods      []string
	Score     int64
	Count300  int
	Count100  int
	Count50   int
	CountMiss int
	MaxCombo  int
	Perfect   bool
	CreatedAt time.Time
	Rank      string
	PP        *float64
	Replay    bool
}

// Score — нормализованный результат, готовый к записи в таблицу scores.
type Score struct {
	UserID          int64
	BeatmapID       int64
	Score           int64
	Count300        int
	Count100        int
	Count50         int
	CountMiss       int
	MaxCombo        int
	Perfect         bool
	EnabledMods     int
	DatePlayed      time.Time
	Rank            string
	PP              float64
	ReplayAvailable bool
	IsHD            bool
	IsHR            bool
	IsDT            bool
	IsFL            bool
	IsHT            bool
	IsEZ            bool
	IsNF            bool
	IsNC            bool
	IsTD            bool
	IsSO            bool
	IsSD            bool
	IsPF            bool
}

// QueueEntry — строка очереди выгрузки: и отчёт о прогрессе,
// и блокировка от повторного запуска для того же пользователя.
type QueueEntry struct {
	UserID     int64
	Username   string
	Progress   string
	Percentage float64
}

// FetchedUser — отметка о полностью выгруженном пользователе.
type FetchedUser struct {
	UserID   int64
	Username string
}
