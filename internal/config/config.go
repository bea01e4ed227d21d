package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// Values come from env; a .env file in the working directory is loaded first when present.
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Twilio   TwilioConfig
	Payments PaymentsConfig
	Voice    VoiceConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable origin (https://api.example.com).
	// Used for Gather action URLs and Twilio signature validation.
	PublicBaseURL string

	LogLevel string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// ValidateSignature turns on X-Twilio-Signature checks for voice webhooks.
	ValidateSignature bool
}

type PaymentsConfig struct {
	// WebhookSecret is the shared secret used for the verif-hash HMAC.
	WebhookSecret string

	FreshnessWindow time.Duration
	FutureTolerance time.Duration

	// RateLimitPerMinute caps webhook deliveries per client IP.
	RateLimitPerMinute int

	// IdempotencyTTL bounds how long processed event ids are remembered.
	IdempotencyTTL time.Duration
}

type VoiceConfig struct {
	LLMBaseURL string
	LLMAPIKey  string

	STTBaseURL string
	STTAPIKey  string

	TTSBaseURL string
	TTSAPIKey  string

	// AdapterTimeout bounds every STT/LLM/TTS call.
	AdapterTimeout time.Duration

	// MaxTurns ends a call gracefully after this many turns.
	MaxTurns int

	// HistoryTokenBudget caps the conversation history sent to the LLM.
	HistoryTokenBudget int

	// TurnLockTTL bounds how long a crashed worker can hold a session's turn lock.
	TurnLockTTL time.Duration
}

func Load() (Config, error) {
	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("APP_PUBLIC_BASE_URL")), "/")
	c.App.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))

	c.DB, parseErrs = readDB(parseErrs)

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optionalInt("REDIS_DB", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	{
		b, err := optionalBool("TWILIO_VALIDATE_SIGNATURE", c.App.Env == "production")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Twilio.ValidateSignature = b
	}

	c.Payments.WebhookSecret = os.Getenv("FLW_SECRET_HASH")
	c.Payments.FreshnessWindow = mustDuration("WEBHOOK_FRESHNESS_WINDOW")
	c.Payments.FutureTolerance = mustDuration("WEBHOOK_FUTURE_TOLERANCE")
	c.Payments.IdempotencyTTL = mustDuration("WEBHOOK_IDEMPOTENCY_TTL")
	{
		n, err := optionalInt("WEBHOOK_RATE_LIMIT_PER_MINUTE", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Payments.RateLimitPerMinute = n
	}

	c.Voice.LLMBaseURL = strings.TrimSpace(os.Getenv("GROQ_BASE_URL"))
	c.Voice.LLMAPIKey = os.Getenv("GROQ_API_KEY")
	c.Voice.STTBaseURL = strings.TrimSpace(os.Getenv("DEEPGRAM_BASE_URL"))
	c.Voice.STTAPIKey = os.Getenv("DEEPGRAM_API_KEY")
	c.Voice.TTSBaseURL = strings.TrimSpace(os.Getenv("TTS_BASE_URL"))
	c.Voice.TTSAPIKey = os.Getenv("TTS_API_KEY")
	c.Voice.AdapterTimeout = mustDuration("VOICE_ADAPTER_TIMEOUT")
	c.Voice.TurnLockTTL = mustDuration("VOICE_TURN_LOCK_TTL")
	{
		n, err := optionalInt("VOICE_MAX_TURNS", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Voice.MaxTurns = n
	}
	{
		n, err := optionalInt("VOICE_HISTORY_TOKEN_BUDGET", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Voice.HistoryTokenBudget = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicBaseURL == "" && c.IsProduction() {
		errs = append(errs, errors.New("APP_PUBLIC_BASE_URL is required in production"))
	}
	if c.App.LogLevel != "" && !isValidLogLevel(c.App.LogLevel) {
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.App.LogLevel))
	}

	errs = append(errs, c.validateDB()...)

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Twilio.ValidateSignature && c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required when TWILIO_VALIDATE_SIGNATURE is on"))
	}

	if c.Payments.WebhookSecret == "" && c.IsProduction() {
		errs = append(errs, errors.New("FLW_SECRET_HASH is required in production"))
	}
	if c.Payments.FreshnessWindow <= 0 {
		c.Payments.FreshnessWindow = 60 * time.Second
	}
	if c.Payments.FutureTolerance <= 0 {
		c.Payments.FutureTolerance = 60 * time.Second
	}
	if c.Payments.IdempotencyTTL <= 0 {
		c.Payments.IdempotencyTTL = 72 * time.Hour
	}
	if c.Payments.RateLimitPerMinute <= 0 {
		c.Payments.RateLimitPerMinute = 10
	}

	if c.Voice.LLMBaseURL == "" {
		c.Voice.LLMBaseURL = "https://api.groq.com/openai/v1"
	}
	if c.Voice.STTBaseURL == "" {
		c.Voice.STTBaseURL = "https://api.deepgram.com"
	}
	if c.IsProduction() {
		if c.Voice.LLMAPIKey == "" {
			errs = append(errs, errors.New("GROQ_API_KEY is required in production"))
		}
		if c.Voice.STTAPIKey == "" {
			errs = append(errs, errors.New("DEEPGRAM_API_KEY is required in production"))
		}
		if c.Voice.TTSBaseURL == "" {
			errs = append(errs, errors.New("TTS_BASE_URL is required in production"))
		}
	}
	if c.Voice.AdapterTimeout <= 0 {
		c.Voice.AdapterTimeout = 30 * time.Second
	}
	if c.Voice.MaxTurns <= 0 {
		c.Voice.MaxTurns = 40
	}
	if c.Voice.HistoryTokenBudget <= 0 {
		c.Voice.HistoryTokenBudget = 3000
	}
	if c.Voice.TurnLockTTL <= 0 {
		c.Voice.TurnLockTTL = 2 * time.Minute
	}

	return joinErrors(errs)
}

// LoadDB reads only the database settings. The migration tool uses it so
// schema changes do not need API secrets in the environment.
func LoadDB() (Config, error) {
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error
	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.DB, parseErrs = readDB(parseErrs)
	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := joinErrors(c.validateDB()); err != nil {
		return Config{}, err
	}
	return c, nil
}

func readDB(parseErrs []error) (DBConfig, []error) {
	db := DBConfig{}
	db.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		db.Port = n
	}
	db.User = strings.TrimSpace(os.Getenv("DB_USER"))
	db.Password = os.Getenv("DB_PASSWORD")
	db.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	db.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	return db, parseErrs
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func isValidLogLevel(v string) bool {
	switch v {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
