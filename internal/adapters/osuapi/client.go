package osuapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"osualt-fetcher/internal/domain"
	"osualt-fetcher/internal/infra/metrics"
)

// apiVersion — версия osu! API v2, под которую написан разбор ответов.
const apiVersion = "20220707"

// Карта и пользователь для пробного запроса проверки токена.
const (
	probeBeatmapID = 75
	probeUserID    = 1023489
)

// Client ходит в osu! API v2 с bearer-токеном владельца выгрузки.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	log        zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient подменяет http.Client (для тестов).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout задаёт предел времени на один запрос.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

// New создаёт клиента osu! API.
func New(baseURL, token string, logger zerolog.Logger, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	if token == "" {
		return nil, fmt.Errorf("token is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	client := &Client{
		baseURL:    parsed,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logger,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

var _ domain.OsuClient = (*Client)(nil)

// CheckToken делает пробный запрос к стабильной карте.
// Правило принятия нарочно мягкое и сохранено из исходного сервиса:
// токен считается негодным только если ответ содержит поле error
// и в сыром теле упоминается authentication. Остальные ошибки пробного
// эндпоинта токен не дисквалифицируют.
func (c *Client) CheckToken(ctx context.Context) (bool, error) {
	endpoint := fmt.Sprintf("/beatmaps/%d/scores/users/%d", probeBeatmapID, probeUserID)
	body, err := c.getRaw(ctx, "token_check", endpoint)
	if err != nil {
		return false, err
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return false, fmt.Errorf("decode probe response: %w", err)
	}
	if _, ok := payload["error"]; !ok {
		return true, nil
	}
	if !strings.Contains(string(body), "authentication") {
		return true, nil
	}
	c.log.Warn().RawJSON("payload", body).Msg("osu api: токен отклонён пробным запросом")
	return false, nil
}

// Me возвращает владельца токена.
func (c *Client) Me(ctx context.Context) (domain.User, error) {
	var me struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}
	if err := c.get(ctx, "me", "/me/osu", &me); err != nil {
		return domain.User{}, err
	}
	if me.ID == 0 {
		return domain.User{}, fmt.Errorf("me response without user id")
	}
	return domain.User{ID: me.ID, Username: me.Username}, nil
}

// MostPlayed возвращает страницу самых играемых карт пользователя.
func (c *Client) MostPlayed(ctx context.Context, userID int64, limit, offset int) ([]domain.MostPlayedEntry, error) {
	endpoint := fmt.Sprintf("/users/%d/beatmapsets/most_played?limit=%d&offset=%d", userID, limit, offset)
	var page []struct {
		BeatmapID int64 `json:"beatmap_id"`
		Count     int   `json:"count"`
		Beatmap   struct {
			Status string `json:"status"`
			Mode   string `json:"mode"`
		} `json:"beatmap"`
	}
	if err := c.get(ctx, "most_played", endpoint, &page); err != nil {
		return nil, err
	}
	entries := make([]domain.MostPlayedEntry, 0, len(page))
	for _, item := range page {
		entries = append(entries, domain.MostPlayedEntry{
			BeatmapID: item.BeatmapID,
			Status:    item.Beatmap.Status,
			Mode:      item.Beatmap.Mode,
			PlayCount: item.Count,
		})
	}
	return entries, nil
}

// UserBeatmapScore возвращает лучший результат пользователя на карте.
func (c *Client) UserBeatmapScore(ctx context.Context, beatmapID, userID int64) (domain.BeatmapScore, error) {
	endpoint := fmt.Sprintf("/beatmaps/%d/scores/users/%d", beatmapID, userID)
	body, err := c.getRaw(ctx, "user_beatmap_score", endpoint)
	if err != nil {
		return domain.BeatmapScore{}, err
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return domain.BeatmapScore{}, fmt.Errorf("decode score response: %w", err)
	}
	if _, ok := probe["error"]; ok {
		return domain.BeatmapScore{}, domain.ErrNoScore
	}
	var wrapper struct {
		Score struct {
			Mods       []string `json:"mods"`
			Score      int64    `json:"score"`
			Statistics struct {
				Count300  int `json:"count_300"`
				Count100  int `json:"count_100"`
				Count50   int `json:"count_50"`
				CountMiss int `json:"count_miss"`
			} `json:"statistics"`
			MaxCombo  int       `json:"max_combo"`
			Perfect   bool      `json:"perfect"`
			CreatedAt time.Time `json:"created_at"`
			Rank      string    `json:"rank"`
			PP        *float64  `json:"pp"`
			Replay    bool      `json:"replay"`
		} `json:"score"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return domain.BeatmapScore{}, fmt.Errorf("decode score response: %w", err)
	}
	raw := wrapper.Score
	return domain.BeatmapScore{
		Mods:      raw.Mods,
		Score:     raw.Score,
		Count300:  raw.Statistics.Count300,
		Count100:  raw.Statistics.Count100,
		Count50:   raw.Statistics.Count50,
		CountMiss: raw.Statistics.CountMiss,
		MaxCombo:  raw.MaxCombo,
		Perfect:   raw.Perfect,
		CreatedAt: raw.CreatedAt,
		Rank:      raw.Rank,
		PP:        raw.PP,
		Replay:    raw.Replay,
	}, nil
}

func (c *Client) get(ctx context.Context, operation, endpoint string, out any) error {
	body, err := c.getRaw(ctx, operation, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) getRaw(ctx context.Context, operation, endpoint string) ([]byte, error) {
	req, err := c.newRequest(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("osu_api", operation, c.baseURL.Host, start, err)
	if err != nil {
		return nil, fmt.Errorf("osu api request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	// osu! отвечает 404 с телом {"error": ...} на отсутствующий результат;
	// такие тела разбирает вызывающая сторона, остальные статусы — ошибка.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: status %d", domain.ErrInvalidToken, resp.StatusCode)
		}
		return nil, fmt.Errorf("osu api error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if len(body) == 0 {
		body = []byte(`{"error": null}`)
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, endpoint string) (*http.Request, error) {
	resolved := *c.baseURL
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	basePath := strings.TrimSuffix(c.baseURL.Path, "/")
	resolved.Path = path.Clean(basePath + parsed.Path)
	resolved.RawQuery = parsed.RawQuery
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("x-api-version", apiVersion)
	return req, nil
}
