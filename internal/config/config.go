package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

type Config struct {
	DBPath    string
	OutputDir string

	BlobProvider      string
	BlobDir           string
	BlobBaseURL       string
	GCSBucket         string
	GCSCredentials    string
	DownloadURLTTLMin int

	ReviewSuccessThreshold float64
	PriceConflictThreshold float64
	BaseCurrency           string
	CurrencyRates          map[string]decimal.Decimal

	EnrichMinConfidence  int
	EnrichWorkers        int
	EnrichQueueSize      int
	EnrichRequestDelayMs int
	EnrichTimeoutMs      int
	EnrichMaxRetries     int
	EnrichBackoffMs      int
	LookupURLOverrides   map[string]string

	HTTPAddr  string
	LogLevel  string
	LogFormat string

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPMarkSeen bool

	MailListenerProvider    string
	MailListenerLabel       string
	MailListenerIntervalSec int
	MailListenerFetchMax    int
	MailListenerAutoExport  bool
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, eris.Wrap(err, "config: resolve working directory")
	}

	cfg := Config{
		DBPath:    getEnv("DB_PATH", filepath.Join(cwd, "data", "invoices.db")),
		OutputDir: getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),

		BlobProvider:      strings.ToLower(getEnv("BLOB_PROVIDER", "local")),
		BlobDir:           getEnv("BLOB_DIR", filepath.Join(cwd, "data", "documents")),
		BlobBaseURL:       getEnv("BLOB_BASE_URL", ""),
		GCSBucket:         getEnv("GCS_BUCKET", ""),
		GCSCredentials:    getEnv("GCS_CREDENTIALS_FILE", ""),
		DownloadURLTTLMin: getEnvInt("DOWNLOAD_URL_TTL_MIN", 15),

		ReviewSuccessThreshold: getEnvFloat("REVIEW_SUCCESS_THRESHOLD", 0.8),
		PriceConflictThreshold: getEnvFloat("PRICE_CONFLICT_THRESHOLD", 0.10),
		BaseCurrency:           strings.ToUpper(getEnv("BASE_CURRENCY", "USD")),
		CurrencyRates:          parseRates(getEnv("CURRENCY_RATES", "EUR:1.08,GBP:1.27,CAD:0.73,AUD:0.66")),

		EnrichMinConfidence:  getEnvInt("ENRICH_MIN_CONFIDENCE", 30),
		EnrichWorkers:        getEnvInt("ENRICH_WORKERS", 5),
		EnrichQueueSize:      getEnvInt("ENRICH_QUEUE_SIZE", 256),
		EnrichRequestDelayMs: getEnvInt("ENRICH_REQUEST_DELAY_MS", 1000),
		EnrichTimeoutMs:      getEnvInt("ENRICH_TIMEOUT_MS", 15000),
		EnrichMaxRetries:     getEnvInt("ENRICH_MAX_RETRIES", 3),
		EnrichBackoffMs:      getEnvInt("ENRICH_BACKOFF_MS", 500),
		LookupURLOverrides:   envWithPrefix("LOOKUP_URL_"),

		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPMarkSeen: getEnvBool("IMAP_MARK_SEEN", false),

		MailListenerProvider:    getEnv("MAIL_LISTENER_PROVIDER", "imap"),
		MailListenerLabel:       getEnv("MAIL_LISTENER_LABEL", "INBOX"),
		MailListenerIntervalSec: getEnvInt("MAIL_LISTENER_INTERVAL_SEC", 60),
		MailListenerFetchMax:    getEnvInt("MAIL_LISTENER_FETCH_MAX", 20),
		MailListenerAutoExport:  getEnvBool("MAIL_LISTENER_AUTO_EXPORT", false),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return eris.Errorf("missing required env var: %s", name)
	}
	return nil
}

func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.EnrichRequestDelayMs) * time.Millisecond
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.EnrichTimeoutMs) * time.Millisecond
}

func (c Config) DownloadURLTTL() time.Duration {
	return time.Duration(c.DownloadURLTTLMin) * time.Minute
}

// parseRates reads "EUR:1.08,GBP:1.27" into a currency -> base-currency multiplier map.
// Malformed pairs are ignored.
func parseRates(raw string) map[string]decimal.Decimal {
	out := map[string]decimal.Decimal{}
	for _, pair := range strings.Split(raw, ",") {
		code, value, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			continue
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil || !rate.IsPositive() {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(code))] = rate
	}
	return out
}

func envWithPrefix(prefix string) map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) || strings.TrimSpace(value) == "" {
			continue
		}
		out[strings.TrimPrefix(key, prefix)] = value
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
