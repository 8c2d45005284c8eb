package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"osualt-fetcher/internal/domain"
	"osualt-fetcher/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.ScoreRepo = (*Postgres)(nil)
var _ domain.QueueRepo = (*Postgres)(nil)
var _ domain.FetchedUserRepo = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// UpsertScore сохраняет результат. Существующая строка заменяется только
// если новый score не меньше сохранённого; при равенстве побеждает
// более свежая попытка.
func (p *Postgres) UpsertScore(score domain.Score) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO scores (user_id, beatmap_id, score, count300, count100, count50, countmiss, combo, perfect, enabled_mods, date_played, rank, pp, replay_available, is_hd, is_hr, is_dt, is_fl, is_ht, is_ez, is_nf, is_nc, is_td, is_so, is_sd, is_pf)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
ON CONFLICT ON CONSTRAINT scores_pkey DO UPDATE SET
    score = EXCLUDED.score, count300 = EXCLUDED.count300, count100 = EXCLUDED.count100,
    count50 = EXCLUDED.count50, countmiss = EXCLUDED.countmiss, combo = EXCLUDED.combo,
    perfect = EXCLUDED.perfect, enabled_mods = EXCLUDED.enabled_mods,
    date_played = EXCLUDED.date_played, rank = EXCLUDED.rank, pp = EXCLUDED.pp,
    replay_available = EXCLUDED.replay_available,
    is_hd = EXCLUDED.is_hd, is_hr = EXCLUDED.is_hr, is_dt = EXCLUDED.is_dt,
    is_fl = EXCLUDED.is_fl, is_ht = EXCLUDED.is_ht, is_ez = EXCLUDED.is_ez,
    is_nf = EXCLUDED.is_nf, is_nc = EXCLUDED.is_nc, is_td = EXCLUDED.is_td,
    is_so = EXCLUDED.is_so, is_sd = EXCLUDED.is_sd, is_pf = EXCLUDED.is_pf
WHERE EXCLUDED.score >= scores.score
`, score.UserID, score.BeatmapID, score.Score, score.Count300, score.Count100, score.Count50,
		score.CountMiss, score.MaxCombo, score.Perfect, score.EnabledMods, score.DatePlayed,
		score.Rank, score.PP, score.ReplayAvailable,
		score.IsHD, score.IsHR, score.IsDT, score.IsFL, score.IsHT, score.IsEZ,
		score.IsNF, score.IsNC, score.IsTD, score.IsSO, score.IsSD, score.IsPF)
	metrics.ObserveNetworkRequest("postgres", "scores_upsert", "scores", start, err)
	return err
}

// EnqueueUser создаёт строку очереди для пользователя.
func (p *Postgres) EnqueueUser(userID int64, username, progress string) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO queue (user_id, username, progress, percentage)
VALUES ($1, $2, $3, 0)
`, userID, username, progress)
	metrics.ObserveNetworkRequest("postgres", "queue_insert", "queue", start, err)
	return err
}

// UpdateProgress обновляет прогресс выгрузки в строке очереди.
func (p *Postgres) UpdateProgress(userID int64, progress string, percentage float64) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE queue SET progress = $2, percentage = $3 WHERE user_id = $1
`, userID, progress, percentage)
	metrics.ObserveNetworkRequest("postgres", "queue_update_progress", "queue", start, err)
	return err
}

// RemoveFromQueue удаляет строку очереди (аварийное завершение выгрузки).
func (p *Postgres) RemoveFromQueue(userID int64) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM queue WHERE user_id = $1`, userID)
	metrics.ObserveNetworkRequest("postgres", "queue_delete", "queue", start, err)
	return err
}

// IsQueued проверяет, идёт ли выгрузка пользователя.
func (p *Postgres) IsQueued(userID int64) (bool, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM queue WHERE user_id = $1)`, userID).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "queue_exists", "queue", start, err)
	return exists, err
}

// ListQueue возвращает все идущие выгрузки.
func (p *Postgres) ListQueue() ([]domain.QueueEntry, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT user_id, username, progress, percentage FROM queue ORDER BY user_id
`)
	metrics.ObserveNetworkRequest("postgres", "queue_list", "queue", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.QueueEntry
	for rows.Next() {
		var e domain.QueueEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.Progress, &e.Percentage); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// IsFetched проверяет, выгружался ли пользователь раньше.
func (p *Postgres) IsFetched(userID int64) (bool, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM fetched_users WHERE user_id = $1)`, userID).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "fetched_users_exists", "fetched_users", start, err)
	return exists, err
}

// ListFetched возвращает всех выгруженных пользователей.
func (p *Postgres) ListFetched() ([]domain.FetchedUser, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT user_id, username FROM fetched_users ORDER BY user_id`)
	metrics.ObserveNetworkRequest("postgres", "fetched_users_list", "fetched_users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.FetchedUser
	for rows.Next() {
		var u domain.FetchedUser
		if err := rows.Scan(&u.UserID, &u.Username); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// FinishUser атомарно переносит пользователя из queue в fetched_users.
// В любой момент у пользователя существует строка либо в queue,
// либо в fetched_users, но не в обеих таблицах.
func (p *Postgres) FinishUser(userID int64, username string) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "fetched_users", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO fetched_users (user_id, username) VALUES ($1, $2)
`, userID, username)
	metrics.ObserveNetworkRequest("postgres", "fetched_users_insert", "fetched_users", start, err)
	if err != nil {
		return err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `DELETE FROM queue WHERE user_id = $1`, userID)
	metrics.ObserveNetworkRequest("postgres", "queue_delete", "queue", start, err)
	if err != nil {
		return err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "fetched_users", start, err)
	return err
}
