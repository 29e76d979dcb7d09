package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/zhiyang446/musictabapp-codex/pkg/client/psql"
)

const (
	DispatchRabbitMQ = "rabbitmq"
	DispatchInline   = "inline"
)

type Config struct {
	HTTPAddr string

	RedisAddr string
	RedisDB   int

	PSQL psql.Config

	S3Host      string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool

	RabbitMQURL    string
	DispatchMode   string
	WorkerPrefetch int

	JobActiveLimit int

	StreamPollInterval      time.Duration
	StreamHeartbeatInterval time.Duration

	JWKSURL      string
	JWKSCacheTTL time.Duration
	JWTAudience  string
	JWTIssuer    string

	UploadMaxBytes  int64
	UploadURLExpiry time.Duration

	PipelineMaxAttempts int
	PipelineBaseDelay   time.Duration
	PipelineMaxDelay    time.Duration

	TranscriberBin string

	RateLimit       int
	RateLimitWindow time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads .env.local when present and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load("./.env.local"); err != nil {
		log.Info().Msg("no .env.local found, using OS environment variables")
	}
	return LoadFrom(os.Getenv)
}

// LoadFrom builds the config from getenv. Every missing or malformed variable
// is reported, not only the first one.
func LoadFrom(getenv func(string) string) (Config, error) {
	r := &reader{getenv: getenv}

	cfg := Config{
		HTTPAddr: r.str("HTTP_ADDR", ":8080"),

		RedisAddr: r.must("REDIS_HOST") + ":" + r.must("REDIS_PORT"),
		RedisDB:   r.integer("REDIS_DB", 0),

		PSQL: psql.Config{
			Host:     r.must("PSQL_HOST"),
			Port:     r.mustInt("PSQL_PORT"),
			User:     r.must("PSQL_USER"),
			Password: r.must("PSQL_PASSWORD"),
			DBName:   r.must("PSQL_DB"),
			SslMode:  r.str("PSQL_SSLMODE", "disable"),
		},

		S3Host:      r.must("S3_HOST") + ":" + r.must("S3_PORT"),
		S3Bucket:    r.must("S3_BUCKET"),
		S3AccessKey: r.must("S3_ACCESS_KEY"),
		S3SecretKey: r.must("S3_SECRET_KEY"),
		S3UseSSL:    r.boolean("S3_USE_SSL", false),

		DispatchMode:   strings.ToLower(r.str("DISPATCH_MODE", DispatchRabbitMQ)),
		WorkerPrefetch: r.integer("WORKER_PREFETCH", 4),

		JobActiveLimit: r.integer("JOB_ACTIVE_LIMIT", 3),

		StreamPollInterval:      r.duration("STREAM_POLL_INTERVAL", time.Second),
		StreamHeartbeatInterval: r.duration("STREAM_HEARTBEAT_INTERVAL", 15*time.Second),

		JWKSURL:      r.str("JWKS_URL", ""),
		JWKSCacheTTL: r.duration("JWKS_CACHE_TTL", 300*time.Second),
		JWTAudience:  r.str("JWT_AUDIENCE", "authenticated"),
		JWTIssuer:    r.str("JWT_ISSUER", ""),

		UploadMaxBytes:  int64(r.integer("UPLOAD_MAX_BYTES", 200*1024*1024)),
		UploadURLExpiry: r.duration("UPLOAD_URL_EXPIRY", 15*time.Minute),

		PipelineMaxAttempts: r.integer("PIPELINE_MAX_ATTEMPTS", 5),
		PipelineBaseDelay:   r.duration("PIPELINE_BASE_DELAY", 500*time.Millisecond),
		PipelineMaxDelay:    r.duration("PIPELINE_MAX_DELAY", 10*time.Second),

		TranscriberBin: r.str("TRANSCRIBER_BIN", ""),

		LogLevel:  r.str("LOG_LEVEL", "info"),
		LogFormat: r.str("LOG_FORMAT", "json"),
	}
	cfg.RateLimit, cfg.RateLimitWindow = r.rate("RATE_LIMIT", 10, time.Second)

	if cfg.DispatchMode == DispatchRabbitMQ {
		cfg.RabbitMQURL = "amqp://" + r.must("RABBITMQ_USER") + ":" + r.must("RABBITMQ_PASSWORD") +
			"@" + r.must("RABBITMQ_HOST") + ":" + r.must("RABBITMQ_PORT") + "/"
	} else if cfg.DispatchMode != DispatchInline {
		r.fail("DISPATCH_MODE", fmt.Errorf("must be %q or %q", DispatchRabbitMQ, DispatchInline))
	}
	if cfg.JobActiveLimit < 1 {
		r.fail("JOB_ACTIVE_LIMIT", errors.New("must be at least 1"))
	}
	if cfg.PipelineMaxAttempts < 1 {
		r.fail("PIPELINE_MAX_ATTEMPTS", errors.New("must be at least 1"))
	}

	if len(r.errs) > 0 {
		return Config{}, errors.Join(r.errs...)
	}
	return cfg, nil
}

type reader struct {
	getenv func(string) string
	errs   []error
}

func (r *reader) fail(key string, err error) {
	r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) must(key string) string {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		r.fail(key, errors.New("environment variable is not set"))
	}
	return v
}

func (r *reader) mustInt(key string) int {
	v := r.must(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, fmt.Errorf("invalid integer %q", v))
	}
	return n
}

func (r *reader) integer(key string, def int) int {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, fmt.Errorf("invalid integer %q", v))
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, fmt.Errorf("invalid boolean %q", v))
		return def
	}
	return b
}

// duration accepts Go durations ("1s", "500ms") or plain seconds ("300").
func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		r.fail(key, fmt.Errorf("invalid duration %q", v))
		return def
	}
	return d
}

// rate parses "<n>/<unit>" with unit s, m or h, e.g. "10/s".
func (r *reader) rate(key string, def int, defWindow time.Duration) (int, time.Duration) {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def, defWindow
	}
	count, unit, ok := strings.Cut(v, "/")
	n, err := strconv.Atoi(count)
	if !ok || err != nil || n < 1 {
		r.fail(key, fmt.Errorf("invalid rate %q", v))
		return def, defWindow
	}
	switch unit {
	case "s":
		return n, time.Second
	case "m":
		return n, time.Minute
	case "h":
		return n, time.Hour
	default:
		r.fail(key, fmt.Errorf("invalid rate unit %q", unit))
		return def, defWindow
	}
}
