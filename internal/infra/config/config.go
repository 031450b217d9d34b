package config

import (
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"Europe/Moscow"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	DataDir     string `envconfig:"DATA_DIR" default:"/data"`
	LogFile     string `envconfig:"LOG_FILE"`

	Telegram struct {
		Token         string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL    string `envconfig:"TG_WEBHOOK_URL"`
		WebhookSecret string `envconfig:"TG_WEBHOOK_SECRET"`
		AdminID       int64  `envconfig:"ADMIN_ID" default:"0"`
	} `envconfig:""`

	Intake struct {
		MaxUpdateAgeSeconds  int  `envconfig:"MAX_UPDATE_AGE_SECONDS" default:"300"`
		AdmitUnfencedUpdates bool `envconfig:"ADMIT_UNFENCED_UPDATES" default:"false"`
		RateLimitPerMinute   int  `envconfig:"WEBHOOK_RATE_LIMIT" default:"60"`
		Workers              int  `envconfig:"WEBHOOK_WORKERS" default:"16"`
	} `envconfig:""`

	Limits struct {
		TarotWeekly        int           `envconfig:"TAROT_WEEKLY_LIMIT" default:"10"`
		DebounceWindow     time.Duration `envconfig:"DEBOUNCE_WINDOW" default:"1s"`
		DebounceMaxEntries int           `envconfig:"DEBOUNCE_MAX_ENTRIES" default:"5000"`
	} `envconfig:""`

	PGDSN      string `envconfig:"PG_DSN"`
	PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"5"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Broadcast   string `envconfig:"BROADCAST_QUEUE" default:"broadcast_jobs"`
		Concurrency int    `envconfig:"BROADCAST_CONCURRENCY" default:"8"`
	} `envconfig:""`

	Scheduler struct {
		Enabled       bool   `envconfig:"SCHEDULER_ENABLED" default:"true"`
		HoroscopeCron string `envconfig:"SCHEDULER_HOROSCOPE_CRON" default:"0 11 * * *"`
		JokeCron      string `envconfig:"SCHEDULER_JOKE_CRON" default:"0 12 * * *"`
	} `envconfig:""`

	Scraper struct {
		Timeout           time.Duration `envconfig:"SCRAPER_TIMEOUT" default:"10s"`
		Attempts          int           `envconfig:"SCRAPER_ATTEMPTS" default:"3"`
		TarotImageBaseURL string        `envconfig:"TAROT_IMAGE_BASE_URL" default:"https://www.sacred-texts.com/tarot/pkt/img"`
		HoroscopeBaseURL  string        `envconfig:"HOROSCOPE_BASE_URL" default:"https://horo.mail.ru"`
		JokeURL           string        `envconfig:"JOKE_URL" default:"https://nekdo.ru/random/"`
		SpreadBaseURL     string        `envconfig:"SPREAD_BASE_URL" default:"https://www.astrocentr.ru"`
	} `envconfig:""`
}

// Load загружает конфиг из .env и окружения.
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Location возвращает часовой пояс бота. Некорректное значение заменяется на Europe/Moscow.
func (c AppConfig) Location() *time.Location {
	name := strings.TrimSpace(c.TZ)
	if name == "" {
		name = "Europe/Moscow"
	}
	loc, err := time.LoadLocation(strings.ReplaceAll(name, " ", "_"))
	if err != nil {
		loc, err = time.LoadLocation("Europe/Moscow")
		if err != nil {
			return time.FixedZone("MSK", 3*60*60)
		}
	}
	return loc
}

// MaxUpdateAge возвращает порог устаревания апдейтов.
func (c AppConfig) MaxUpdateAge() time.Duration {
	return time.Duration(c.Intake.MaxUpdateAgeSeconds) * time.Second
}

// DataPath строит путь внутри каталога данных. Абсолютные пути возвращаются как есть.
func (c AppConfig) DataPath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}
