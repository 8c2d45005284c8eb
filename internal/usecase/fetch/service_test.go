package fetch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"osualt-fetcher/internal/domain"
)

type stubClient struct {
	user       domain.User
	pages      [][]domain.MostPlayedEntry
	pageCalls  int
	scores     map[int64]domain.BeatmapScore
	failScores map[int64]error
}

func (c *stubClient) CheckToken(context.Context) (bool, error) { return true, nil }
func (c *stubClient) Me(context.Context) (domain.User, error)  { return c.user, nil }

func (c *stubClient) MostPlayed(_ context.Context, _ int64, limit, offset int) ([]domain.MostPlayedEntry, error) {
	idx := offset / limit
	c.pageCalls++
	if idx >= len(c.pages) {
		return nil, nil
	}
	return c.pages[idx], nil
}

func (c *stubClient) UserBeatmapScore(_ context.Context, beatmapID, _ int64) (domain.BeatmapScore, error) {
	if err, ok := c.failScores[beatmapID]; ok {
		return domain.BeatmapScore{}, err
	}
	score, ok := c.scores[beatmapID]
	if !ok {
		return domain.BeatmapScore{}, domain.ErrNoScore
	}
	return score, nil
}

type stubStore struct {
	fetched     map[int64]string
	queued      map[int64]domain.QueueEntry
	saved       []domain.Score
	progress    []string
	percentages []float64
	finished    []int64
}

func newStubStore() *stubStore {
	return &stubStore{fetched: map[int64]string{}, queued: map[int64]domain.QueueEntry{}}
}

func (s *stubStore) UpsertScore(score domain.Score) error {
	s.saved = append(s.saved, score)
	return nil
}

func (s *stubStore) EnqueueUser(userID int64, username, progress string) error {
	s.queued[userID] = domain.QueueEntry{UserID: userID, Username: username, Progress: progress}
	return nil
}

func (s *stubStore) UpdateProgress(userID int64, progress string, percentage float64) error {
	entry := s.queued[userID]
	entry.Progress = progress
	entry.Percentage = percentage
	s.queued[userID] = entry
	s.progress = append(s.progress, progress)
	s.percentages = append(s.percentages, percentage)
	return nil
}

func (s *stubStore) RemoveFromQueue(userID int64) error {
	delete(s.queued, userID)
	return nil
}

func (s *stubStore) IsQueued(userID int64) (bool, error) {
	_, ok := s.queued[userID]
	return ok, nil
}

func (s *stubStore) ListQueue() ([]domain.QueueEntry, error) { return nil, nil }

func (s *stubStore) IsFetched(userID int64) (bool, error) {
	_, ok := s.fetched[userID]
	return ok, nil
}

func (s *stubStore) ListFetched() ([]domain.FetchedUser, error) { return nil, nil }

func (s *stubStore) FinishUser(userID int64, username string) error {
	s.fetched[userID] = username
	delete(s.queued, userID)
	s.finished = append(s.finished, userID)
	return nil
}

func makePage(start, size int) []domain.MostPlayedEntry {
	page := make([]domain.MostPlayedEntry, 0, size)
	for i := 0; i < size; i++ {
		page = append(page, domain.MostPlayedEntry{
			BeatmapID: int64(start + i),
			Status:    "ranked",
			Mode:      "osu",
		})
	}
	return page
}

func newService(client *stubClient, store *stubStore) *Service {
	return NewService(client, store, store, store, zerolog.Nop(), "osu")
}

func TestRunPaginatesUntilShortPage(t *testing.T) {
	client := &stubClient{
		user: domain.User{ID: 42, Username: "respektive"},
		pages: [][]domain.MostPlayedEntry{
			makePage(0, 100),
			makePage(100, 100),
			makePage(200, 37),
		},
		scores: map[int64]domain.BeatmapScore{},
	}
	store := newStubStore()

	result, err := newService(client, store).Run(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if client.pageCalls != 3 {
		t.Fatalf("ожидали ровно 3 запроса страниц, получили %d", client.pageCalls)
	}
	if result.Total != 237 {
		t.Fatalf("ожидали 237 карт, получили %d", result.Total)
	}
	if result.NoScore != 237 {
		t.Fatalf("ожидали 237 карт без результата, получили %d", result.NoScore)
	}
}

func TestRunFiltersStatusAndMode(t *testing.T) {
	page := []domain.MostPlayedEntry{
		{BeatmapID: 1, Status: "ranked", Mode: "osu"},
		{BeatmapID: 2, Status: "graveyard", Mode: "osu"},
		{BeatmapID: 3, Status: "loved", Mode: "osu"},
		{BeatmapID: 4, Status: "approved", Mode: "mania"},
		{BeatmapID: 5, Status: "approved", Mode: "osu"},
	}
	client := &stubClient{
		user:   domain.User{ID: 42, Username: "respektive"},
		pages:  [][]domain.MostPlayedEntry{page},
		scores: map[int64]domain.BeatmapScore{},
	}
	store := newStubStore()

	result, err := newService(client, store).Run(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.Total != 3 {
		t.Fatalf("ожидали 3 подходящие карты, получили %d", result.Total)
	}
}

func TestRunProgressReachesOneExactlyOnce(t *testing.T) {
	client := &stubClient{
		user:   domain.User{ID: 42, Username: "respektive"},
		pages:  [][]domain.MostPlayedEntry{makePage(0, 5)},
		scores: map[int64]domain.BeatmapScore{},
	}
	store := newStubStore()

	_, err := newService(client, store).Run(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	// Первая запись — прогресс сбора карт, дальше по одной на карту.
	perItem := store.percentages[1:]
	if len(perItem) != 5 {
		t.Fatalf("ожидали 5 обновлений прогресса, получили %d", len(perItem))
	}
	ones := 0
	for i, pct := range perItem {
		want := float64(i+1) / 5
		if pct != want {
			t.Fatalf("шаг %d: ожидали %v, получили %v", i+1, want, pct)
		}
		if pct == 1.0 {
			ones++
		}
	}
	if ones != 1 {
		t.Fatalf("процент должен достигать 1.0 ровно один раз, получили %d", ones)
	}
	if store.progress[len(store.progress)-1] != "5/5" {
		t.Fatalf("ожидали финальный прогресс 5/5, получили %q", store.progress[len(store.progress)-1])
	}
}

func TestRunContinuesAfterTransientFailure(t *testing.T) {
	scores := map[int64]domain.BeatmapScore{}
	for _, id := range []int64{0, 1, 3, 4} {
		scores[id] = domain.BeatmapScore{Score: 100000 + id, Mods: []string{"HD"}, CreatedAt: time.Now()}
	}
	client := &stubClient{
		user:       domain.User{ID: 42, Username: "respektive"},
		pages:      [][]domain.MostPlayedEntry{makePage(0, 5)},
		scores:     scores,
		failScores: map[int64]error{2: fmt.Errorf("сеть недоступна")},
	}
	store := newStubStore()

	result, err := newService(client, store).Run(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.Saved != 4 {
		t.Fatalf("ожидали 4 сохранённых результата, получили %d", result.Saved)
	}
	if result.Failed != 1 {
		t.Fatalf("ожидали 1 транзитный сбой, получили %d", result.Failed)
	}
	if store.progress[len(store.progress)-1] != "5/5" {
		t.Fatalf("сбой на карте не должен ломать итоговый прогресс")
	}
	if len(store.finished) != 1 {
		t.Fatalf("выгрузка должна финализироваться")
	}
}

func TestRunRejectsAlreadyFetched(t *testing.T) {
	client := &stubClient{user: domain.User{ID: 42, Username: "respektive"}}
	store := newStubStore()
	store.fetched[42] = "respektive"

	_, err := newService(client, store).Run(context.Background())
	if !errors.Is(err, domain.ErrAlreadyFetched) {
		t.Fatalf("ожидали ErrAlreadyFetched, получили %v", err)
	}
	if len(store.queued) != 0 {
		t.Fatalf("строка очереди не должна создаваться")
	}
}

func TestRunRejectsAlreadyQueued(t *testing.T) {
	client := &stubClient{user: domain.User{ID: 42, Username: "respektive"}}
	store := newStubStore()
	store.queued[42] = domain.QueueEntry{UserID: 42, Username: "respektive"}

	_, err := newService(client, store).Run(context.Background())
	if !errors.Is(err, domain.ErrAlreadyQueued) {
		t.Fatalf("ожидали ErrAlreadyQueued, получили %v", err)
	}
}

func TestRunAbortsOnUnknownMod(t *testing.T) {
	client := &stubClient{
		user:  domain.User{ID: 42, Username: "respektive"},
		pages: [][]domain.MostPlayedEntry{makePage(0, 2)},
		scores: map[int64]domain.BeatmapScore{
			0: {Score: 1, Mods: []string{"??"}},
		},
	}
	store := newStubStore()

	_, err := newService(client, store).Run(context.Background())
	if !errors.Is(err, domain.ErrUnknownMod) {
		t.Fatalf("ожидали ErrUnknownMod, получили %v", err)
	}
	if len(store.queued) != 0 {
		t.Fatalf("строка очереди должна сниматься после фатального сбоя")
	}
	if len(store.finished) != 0 {
		t.Fatalf("выгрузка не должна финализироваться")
	}
}

func TestNormalizeScoreDefaultsAndImplications(t *testing.T) {
	raw := domain.BeatmapScore{
		Mods:      []string{"NC", "PF"},
		Score:     950000,
		Count300:  400,
		MaxCombo:  512,
		CreatedAt: time.Date(2022, 7, 7, 12, 0, 0, 0, time.UTC),
		Rank:      "S",
		PP:        nil,
		Replay:    true,
	}
	score, err := normalizeScore(42, 75, raw)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if score.PP != 0 {
		t.Fatalf("null pp должен превращаться в 0, получили %v", score.PP)
	}
	if !score.IsDT || !score.IsNC {
		t.Fatalf("NC должен выставлять и is_dt, и is_nc")
	}
	if !score.IsSD || !score.IsPF {
		t.Fatalf("PF должен выставлять и is_sd, и is_pf")
	}
	if score.EnabledMods != 512+64+16384+32 {
		t.Fatalf("неверная маска модов: %d", score.EnabledMods)
	}
}
