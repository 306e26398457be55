package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

// Config is the full runtime configuration of the service, loaded from the
// environment (and .env outside production).
type Config struct {
	Env  string `envconfig:"ENV" default:"dev"`
	Port int    `envconfig:"PORT" default:"8080"`

	RedisURL    string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// 64 hex chars (32 bytes), used to derive the token cipher key.
	EncryptionKey string `envconfig:"ENCRYPTION_KEY" required:"true"`

	GmailBaseURL       string `envconfig:"GMAIL_BASE_URL" default:"https://gmail.googleapis.com"`
	GoogleTokenURL     string `envconfig:"GOOGLE_TOKEN_URL" default:"https://oauth2.googleapis.com/token"`
	GoogleClientID     string `envconfig:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `envconfig:"GOOGLE_CLIENT_SECRET"`
	GmailRateLimit     int    `envconfig:"GMAIL_API_RATE_LIMIT" default:"10"`

	AnthropicBaseURL  string        `envconfig:"ANTHROPIC_BASE_URL" default:"https://api.anthropic.com"`
	AnthropicAPIKey   string        `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicModel    string        `envconfig:"ANTHROPIC_MODEL" default:"claude-sonnet-4-20250514"`
	ClassifierTimeout time.Duration `envconfig:"CLASSIFIER_TIMEOUT" default:"15s"`

	// Bearer token of the service account used for Vision, Storage, Drive
	// and Docs calls.
	GoogleServiceToken string `envconfig:"GOOGLE_SERVICE_TOKEN"`

	VisionBaseURL  string `envconfig:"VISION_BASE_URL" default:"https://vision.googleapis.com"`
	StorageBaseURL string `envconfig:"STORAGE_BASE_URL" default:"https://storage.googleapis.com"`
	StorageBucket  string `envconfig:"GCS_BUCKET_NAME"`

	DriveBaseURL string `envconfig:"DRIVE_BASE_URL" default:"https://www.googleapis.com/drive/v3"`
	DocsBaseURL  string `envconfig:"DOCS_BASE_URL" default:"https://docs.googleapis.com"`

	PubSubTopic    string `envconfig:"PUBSUB_TOPIC" default:"gmail-notifications"`
	PushAudience   string `envconfig:"PUSH_AUDIENCE"`
	PushJWKSURL    string `envconfig:"PUSH_JWKS_URL" default:"https://www.googleapis.com/oauth2/v3/certs"`
	PushSkipVerify bool   `envconfig:"PUSH_SKIP_VERIFY" default:"false"`

	PollingCheckEvery time.Duration `envconfig:"POLLING_CHECK_EVERY" default:"5m"`
	WatchRenewEvery   time.Duration `envconfig:"WATCH_RENEW_EVERY" default:"1h"`
}

// Load reads cfg from the environment, loading .env first outside production.
func Load(cfg any) {
	env := os.Getenv("ENV")
	if env != "production" && env != "prod" {
		err := godotenv.Load(".env")
		if err != nil {
			log.Warnf("unable to load .env file: %v", err)
		}
	}
	err := envconfig.Process("", cfg)
	if err != nil {
		log.Fatal(err)
	}
}
