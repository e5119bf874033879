package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/osvaldoandrade/domainscan/internal/backoff"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RateLimitBucketConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

type RateLimitConfig struct {
	Submit RateLimitBucketConfig `yaml:"submit"`
}

type Config struct {
	Port          int    `yaml:"port"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	LogLevel      string `yaml:"logLevel"`
	LogFormat     string `yaml:"logFormat"`
	Env           string `yaml:"env"`

	APIBaseURL            string `yaml:"apiBaseUrl"`
	APIVersion            string `yaml:"apiVersion"`
	ObserveMode           string `yaml:"observeMode"`
	PollIntervalMillis    int    `yaml:"pollIntervalMillis"`
	RequestTimeoutSeconds int    `yaml:"requestTimeoutSeconds"`
	MaxTransportRetries   int    `yaml:"maxTransportRetries"`
	ResultFetchAttempts   int    `yaml:"resultFetchAttempts"`
	BackoffPolicy         string `yaml:"backoffPolicy"`
	BackoffBaseMillis     int    `yaml:"backoffBaseMillis"`
	BackoffMaxMillis      int    `yaml:"backoffMaxMillis"`

	ReportStore       string `yaml:"reportStore"`
	ReportStoreConfig string `yaml:"reportStoreConfig"`
	SQLitePath        string `yaml:"sqlitePath"`

	AuthProvider string `yaml:"authProvider"`
	AuthConfig   string `yaml:"authConfig"`
	AuthToken    string `yaml:"authToken"`

	RateLimit RateLimitConfig `yaml:"rateLimit"`

	// AllowedOrigins lists browser origins that may open the scan websocket
	// besides the gateway's own. "*" allows any.
	AllowedOrigins []string `yaml:"allowedOrigins"`

	TracingEnabled     bool    `yaml:"tracingEnabled"`
	OTLPEndpoint       string  `yaml:"otlpEndpoint"`
	OTLPInsecure       bool    `yaml:"otlpInsecure"`
	TracingSampleRatio float64 `yaml:"tracingSampleRatio"`

	WebhookURL                string `yaml:"webhookUrl"`
	WebhookHmacSecret         string `yaml:"webhookHmacSecret"`
	WebhookMaxAttempts        int    `yaml:"webhookMaxAttempts"`
	WebhookBaseBackoffSeconds int    `yaml:"webhookBaseBackoffSeconds"`
	WebhookMaxBackoffSeconds  int    `yaml:"webhookMaxBackoffSeconds"`
}

func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	c := newConfig()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if err := finish(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadConfigOptional loads the YAML file when it exists and otherwise starts
// from an empty config. Environment and defaults are applied either way.
func LoadConfigOptional(filePath string) (*Config, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		c := newConfig()
		if err := finish(&c); err != nil {
			return nil, err
		}
		return &c, nil
	}
	cfg, err := LoadConfig(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return LoadConfigOptional("")
	}
	return cfg, err
}

const defaultMaxTransportRetries = 3

// newConfig seeds the fields where zero is a meaningful setting, so YAML and
// env can still override them with 0.
func newConfig() Config {
	return Config{MaxTransportRetries: defaultMaxTransportRetries}
}

func finish(c *Config) error {
	if err := loadDotEnv(); err != nil {
		return err
	}
	applyEnv(c)
	applyDefaults(c)
	return nil
}

// loadDotEnv reads DOMAINSCAN_ENV_FILE (default ".env"). Variables already
// present in the environment win.
func loadDotEnv() error {
	path := strings.TrimSpace(os.Getenv("DOMAINSCAN_ENV_FILE"))
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) {
	envInt("PORT", &c.Port)
	envString("REDIS_ADDR", &c.RedisAddr)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)
	envString("ENV", &c.Env)

	envString("DOMAINSCAN_API_BASE_URL", &c.APIBaseURL)
	envString("DOMAINSCAN_API_VERSION", &c.APIVersion)
	envString("DOMAINSCAN_OBSERVE_MODE", &c.ObserveMode)
	envInt("DOMAINSCAN_POLL_INTERVAL_MS", &c.PollIntervalMillis)
	envInt("DOMAINSCAN_REQUEST_TIMEOUT_SECONDS", &c.RequestTimeoutSeconds)
	envInt("DOMAINSCAN_MAX_TRANSPORT_RETRIES", &c.MaxTransportRetries)
	envInt("DOMAINSCAN_RESULT_FETCH_ATTEMPTS", &c.ResultFetchAttempts)
	envString("BACKOFF_POLICY", &c.BackoffPolicy)
	envInt("BACKOFF_BASE_MS", &c.BackoffBaseMillis)
	envInt("BACKOFF_MAX_MS", &c.BackoffMaxMillis)

	envString("REPORT_STORE", &c.ReportStore)
	envString("REPORT_STORE_CONFIG", &c.ReportStoreConfig)
	envString("SQLITE_PATH", &c.SQLitePath)

	envString("AUTH_PROVIDER", &c.AuthProvider)
	envString("AUTH_CONFIG", &c.AuthConfig)
	envString("AUTH_TOKEN", &c.AuthToken)

	envInt("RATE_LIMIT_SUBMIT_RPM", &c.RateLimit.Submit.RequestsPerMinute)
	envInt("RATE_LIMIT_SUBMIT_BURST", &c.RateLimit.Submit.BurstSize)
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		c.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, o)
			}
		}
	}

	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		c.TracingEnabled = parseBool(v)
	}
	envString("OTLP_ENDPOINT", &c.OTLPEndpoint)
	if v := os.Getenv("OTLP_INSECURE"); v != "" {
		c.OTLPInsecure = parseBool(v)
	}
	if v := os.Getenv("TRACING_SAMPLE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.TracingSampleRatio = f
		}
	}

	envString("WEBHOOK_URL", &c.WebhookURL)
	envString("WEBHOOK_HMAC_SECRET", &c.WebhookHmacSecret)
	envInt("WEBHOOK_MAX_ATTEMPTS", &c.WebhookMaxAttempts)
	envInt("WEBHOOK_BASE_BACKOFF_SECONDS", &c.WebhookBaseBackoffSeconds)
	envInt("WEBHOOK_MAX_BACKOFF_SECONDS", &c.WebhookMaxBackoffSeconds)
}

func applyDefaults(c *Config) {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = "http://localhost:8000/api/v1"
	}
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if c.APIVersion == "" {
		c.APIVersion = "v1"
	}
	if c.ObserveMode == "" {
		c.ObserveMode = "poll"
	}
	if c.PollIntervalMillis <= 0 {
		c.PollIntervalMillis = 2000
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 30
	}
	if c.MaxTransportRetries < 0 {
		c.MaxTransportRetries = 0
	}
	if c.ResultFetchAttempts <= 0 {
		c.ResultFetchAttempts = 3
	}
	if c.BackoffPolicy == "" {
		c.BackoffPolicy = "exp_full_jitter"
	}
	if c.BackoffBaseMillis <= 0 {
		c.BackoffBaseMillis = 500
	}
	if c.BackoffMaxMillis <= 0 {
		c.BackoffMaxMillis = 10000
	}
	if c.ReportStore == "" {
		c.ReportStore = "memory"
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "domainscan.db"
	}
	if c.AuthProvider == "" && strings.TrimSpace(c.AuthToken) != "" {
		c.AuthProvider = "static"
	}
	if c.AuthProvider == "static" && strings.TrimSpace(c.AuthConfig) == "" && strings.TrimSpace(c.AuthToken) != "" {
		b, _ := json.Marshal(strings.TrimSpace(c.AuthToken))
		c.AuthConfig = string(b)
	}
	if c.WebhookMaxAttempts <= 0 {
		c.WebhookMaxAttempts = 5
	}
	if c.WebhookBaseBackoffSeconds <= 0 {
		c.WebhookBaseBackoffSeconds = 2
	}
	if c.WebhookMaxBackoffSeconds <= 0 {
		c.WebhookMaxBackoffSeconds = 60
	}
}

func (c *Config) Validate() error {
	var errs []string
	dev := c.IsDevLike()

	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "apiBaseUrl must be a valid http(s) URL")
	}
	switch c.APIVersion {
	case "v1", "legacy":
	default:
		errs = append(errs, fmt.Sprintf("apiVersion %q is not supported (v1, legacy)", c.APIVersion))
	}
	switch c.ObserveMode {
	case "poll", "stream":
	default:
		errs = append(errs, fmt.Sprintf("observeMode %q is not supported (poll, stream)", c.ObserveMode))
	}
	if !backoff.Known(c.BackoffPolicy) {
		errs = append(errs, fmt.Sprintf("backoffPolicy %q is not supported (%s)", c.BackoffPolicy, strings.Join(backoff.Policies, ", ")))
	}
	if c.BackoffMaxMillis < c.BackoffBaseMillis {
		errs = append(errs, "backoffMaxMillis must not be below backoffBaseMillis")
	}
	if c.PollIntervalMillis < 100 {
		errs = append(errs, "pollIntervalMillis must be at least 100")
	}
	switch c.ReportStore {
	case "memory", "redis", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("reportStore %q is not supported (memory, redis, sqlite)", c.ReportStore))
	}
	if c.ReportStore == "redis" && strings.TrimSpace(c.RedisAddr) == "" {
		errs = append(errs, "redisAddr is required when reportStore is redis")
	}
	if c.AuthProvider == "" && !dev {
		errs = append(errs, "authProvider is required in non-dev")
	}
	if c.WebhookURL != "" {
		wu, err := url.Parse(c.WebhookURL)
		if err != nil || (wu.Scheme != "http" && wu.Scheme != "https") || wu.Host == "" {
			errs = append(errs, "webhookUrl must be a valid http(s) URL")
		}
		if strings.TrimSpace(c.WebhookHmacSecret) == "" && !dev {
			errs = append(errs, "webhookHmacSecret is required when webhooks are enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsDevLike reports whether the environment relaxes auth and webhook
// requirements.
func (c *Config) IsDevLike() bool {
	env := strings.ToLower(strings.TrimSpace(c.Env))
	return env == "dev" || env == "test"
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMillis) * time.Millisecond
}

func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMillis) * time.Millisecond
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func parseBool(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	return v == "true" || v == "1" || v == "yes" || v == "y" || v == "on"
}
