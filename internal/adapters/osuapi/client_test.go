package osuapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"osualt-fetcher/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(srv.URL, "test-token", zerolog.Nop())
	if err != nil {
		t.Fatalf("не удалось создать клиента: %v", err)
	}
	return client
}

func TestCheckTokenValid(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Fatalf("неверный заголовок Authorization: %q", got)
		}
		if got := r.Header.Get("x-api-version"); got != "20220707" {
			t.Fatalf("неверный заголовок x-api-version: %q", got)
		}
		fmt.Fprint(w, `{"score": {"score": 123}}`)
	})
	ok, err := client.CheckToken(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !ok {
		t.Fatalf("ожидали валидный токен")
	}
}

func TestCheckTokenPermissiveOnOtherErrors(t *testing.T) {
	// Ошибка без слова authentication токен не дисквалифицирует.
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": "beatmap not found"}`)
	})
	ok, err := client.CheckToken(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !ok {
		t.Fatalf("ожидали, что нестандартная ошибка пробного запроса пройдёт")
	}
}

func TestCheckTokenRejectsAuthenticationError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": "authentication failed", "authentication": "basic"}`)
	})
	ok, err := client.CheckToken(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if ok {
		t.Fatalf("ожидали отклонение токена")
	}
}

func TestMe(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/osu" {
			t.Fatalf("неверный путь: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"id": 1023489, "username": "respektive"}`)
	})
	user, err := client.Me(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if user.ID != 1023489 || user.Username != "respektive" {
		t.Fatalf("неверный пользователь: %+v", user)
	}
}

func TestMostPlayedFiltersNothing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/42/beatmapsets/most_played" {
			t.Fatalf("неверный путь: %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "100" || r.URL.Query().Get("offset") != "200" {
			t.Fatalf("неверные параметры страницы: %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, `[
			{"beatmap_id": 1, "count": 10, "beatmap": {"status": "ranked", "mode": "osu"}},
			{"beatmap_id": 2, "count": 5, "beatmap": {"status": "graveyard", "mode": "osu"}}
		]`)
	})
	entries, err := client.MostPlayed(context.Background(), 42, 100, 200)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	// Клиент возвращает страницу как есть, фильтрует уже конвейер.
	if len(entries) != 2 {
		t.Fatalf("ожидали 2 элемента, получили %d", len(entries))
	}
	if entries[1].Status != "graveyard" {
		t.Fatalf("статус не должен фильтроваться клиентом")
	}
}

func TestUserBeatmapScore(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"score": {
			"mods": ["HD", "NC"],
			"score": 950000,
			"statistics": {"count_300": 400, "count_100": 10, "count_50": 1, "count_miss": 2},
			"max_combo": 512,
			"perfect": false,
			"created_at": "2022-07-07T12:00:00Z",
			"rank": "S",
			"pp": null,
			"replay": true
		}}`)
	})
	score, err := client.UserBeatmapScore(context.Background(), 75, 42)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if score.Score != 950000 || score.MaxCombo != 512 || !score.Replay {
		t.Fatalf("неверный результат: %+v", score)
	}
	if score.PP != nil {
		t.Fatalf("null pp должен остаться nil до нормализации")
	}
	if len(score.Mods) != 2 {
		t.Fatalf("ожидали 2 мода")
	}
}

func TestUserBeatmapScoreNoScore(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": null}`)
	})
	_, err := client.UserBeatmapScore(context.Background(), 75, 42)
	if !errors.Is(err, domain.ErrNoScore) {
		t.Fatalf("ожидали ErrNoScore, получили %v", err)
	}
}

func TestUserBeatmapScoreServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := client.UserBeatmapScore(context.Background(), 75, 42)
	if err == nil || errors.Is(err, domain.ErrNoScore) {
		t.Fatalf("ожидали транспортную ошибку, получили %v", err)
	}
}
