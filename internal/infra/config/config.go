package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL           string `envconfig:"RABBITMQ_URL"`
	RabbitManagementURL string `envconfig:"RABBITMQ_MANAGEMENT_URL"`

	Osu struct {
		BaseURL string        `envconfig:"OSU_API_BASE_URL" default:"https://osu.ppy.sh/api/v2"`
		Mode    string        `envconfig:"OSU_GAME_MODE" default:"osu"`
		Timeout time.Duration `envconfig:"OSU_API_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Queues struct {
		Fetch string `envconfig:"FETCH_QUEUE_KEY" default:"fetch_jobs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
