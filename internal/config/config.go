package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/giobyte8/thumbcache/internal/consumer"
	"github.com/giobyte8/thumbcache/internal/engine"
	"github.com/giobyte8/thumbcache/internal/keys"
	"github.com/giobyte8/thumbcache/internal/kvstore"
	"github.com/giobyte8/thumbcache/internal/options"
	"github.com/giobyte8/thumbcache/internal/services"
	"github.com/giobyte8/thumbcache/internal/storage"
	"github.com/giobyte8/thumbcache/internal/telemetry"
)

type Config struct {
	Engine   string
	Defaults options.Defaults

	Prefix    string
	KeyPrefix string

	PlaceholderEnabled bool
	PlaceholderSource  string
	PlaceholderRatio   float64

	KVStore    kvstore.BackendConfig
	Originals  storage.Config
	Thumbnails storage.Config

	AMQP      consumer.AMQPConfig
	Telemetry telemetry.Config
}

// Load reads the configuration from the environment. Every problem
// found is reported at once.
func Load() (*Config, error) {
	var errs []error

	defaults := options.NewDefaults()
	defaults.Format = strings.ToUpper(getEnv("THUMBNAIL_FORMAT", defaults.Format))
	if _, err := keys.Extension(defaults.Format); err != nil {
		errs = append(errs, fmt.Errorf("THUMBNAIL_FORMAT: %w", err))
	}

	var err error
	if defaults.Quality, err = getEnvInt("THUMBNAIL_QUALITY", defaults.Quality); err != nil {
		errs = append(errs, err)
	} else if defaults.Quality < 1 || defaults.Quality > 100 {
		errs = append(errs, fmt.Errorf("THUMBNAIL_QUALITY must be within 1-100, got %d", defaults.Quality))
	}

	defaults.Colorspace = strings.ToUpper(getEnv("THUMBNAIL_COLORSPACE", defaults.Colorspace))
	if defaults.Upscale, err = getEnvBool("THUMBNAIL_UPSCALE", defaults.Upscale); err != nil {
		errs = append(errs, err)
	}
	if defaults.Progressive, err = getEnvBool("THUMBNAIL_PROGRESSIVE", defaults.Progressive); err != nil {
		errs = append(errs, err)
	}
	if defaults.Orientation, err = getEnvBool("THUMBNAIL_ORIENTATION", defaults.Orientation); err != nil {
		errs = append(errs, err)
	}
	if defaults.AlternativeResolutions, err = parseRatios(
		"THUMBNAIL_ALTERNATIVE_RESOLUTIONS",
		getEnv("THUMBNAIL_ALTERNATIVE_RESOLUTIONS", ""),
	); err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Engine:            getEnv("THUMBNAIL_ENGINE", engine.EngineLilliput),
		Defaults:          defaults,
		Prefix:            getEnv("THUMBNAIL_PREFIX", services.DefaultPrefix),
		KeyPrefix:         getEnv("THUMBNAIL_KEY_PREFIX", kvstore.DefaultPrefix),
		PlaceholderSource: getEnv("THUMBNAIL_DUMMY_SOURCE", services.DefaultPlaceholderSource),
	}

	// Only lilliput writes progressive JPEG
	switch cfg.Engine {
	case engine.EngineLilliput:
	case engine.EngineImaging:
		if defaults.Progressive {
			slog.Warn("The imaging engine writes baseline JPEG, THUMBNAIL_PROGRESSIVE is ignored")
		}
	default:
		errs = append(errs, fmt.Errorf("THUMBNAIL_ENGINE: unknown engine %q", cfg.Engine))
	}

	if cfg.PlaceholderEnabled, err = getEnvBool("THUMBNAIL_DUMMY", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.PlaceholderRatio, err = getEnvFloat("THUMBNAIL_DUMMY_RATIO", services.DefaultPlaceholderRatio); err != nil {
		errs = append(errs, err)
	} else if cfg.PlaceholderRatio <= 0 {
		errs = append(errs, errors.New("THUMBNAIL_DUMMY_RATIO must be positive"))
	}

	cfg.KVStore = kvstore.BackendConfig{
		Kind:     getEnv("KVSTORE", kvstore.BackendMemory),
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		DiskvDir: getEnv("DISKV_DIR", ""),
	}
	if err := cfg.KVStore.DiskvCacheSize.UnmarshalText([]byte(getEnv("DISKV_CACHE_SIZE", "4MB"))); err != nil {
		errs = append(errs, fmt.Errorf("DISKV_CACHE_SIZE: %w", err))
	}
	if cfg.KVStore.Kind == kvstore.BackendDiskv && cfg.KVStore.DiskvDir == "" {
		errs = append(errs, errors.New("DISKV_DIR is required by the diskv kvstore"))
	}

	objectStore := storage.Config{
		Kind:               getEnv("STORAGE", storage.KindFileSystem),
		S3Region:           getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
		S3AccessKey:        getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:        getSecret("S3_SECRET_KEY", "S3_SECRET_KEY_FILE", ""),
		GCSCredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
	}
	switch objectStore.Kind {
	case storage.KindS3:
		objectStore.Bucket = getEnv("S3_BUCKET", "")
		objectStore.Prefix = getEnv("S3_PREFIX", "")
	case storage.KindGCS:
		objectStore.Bucket = getEnv("GCS_BUCKET", "")
		objectStore.Prefix = getEnv("GCS_PREFIX", "")
	}

	cfg.Originals = objectStore
	cfg.Thumbnails = objectStore
	cfg.Originals.Root = getEnv("DIR_ORIGINALS_ROOT", "")
	cfg.Thumbnails.Root = getEnv("DIR_THUMBNAILS_ROOT", "")

	if objectStore.Kind == storage.KindFileSystem &&
		(cfg.Originals.Root == "" || cfg.Thumbnails.Root == "") {
		errs = append(errs, errors.New(
			"DIR_ORIGINALS_ROOT and DIR_THUMBNAILS_ROOT are required by the file system storage",
		))
	}
	if objectStore.Kind != storage.KindFileSystem && objectStore.Bucket == "" {
		errs = append(errs, fmt.Errorf("a bucket is required by the %s storage", objectStore.Kind))
	}

	cfg.AMQP = consumer.AMQPConfig{
		AMQPUri:            prepareAMQPUri(),
		Exchange:           getEnv("AMQP_EXCHANGE", "thumbcache"),
		ThumbsGenQueueName: getEnv("AMQP_QUEUE_THUMB_GEN_REQUESTS", "thumbs-gen"),
		ThumbsDelQueueName: getEnv("AMQP_QUEUE_THUMB_DEL_REQUESTS", "thumbs-del"),
	}
	if cfg.AMQP.Workers, err = getEnvInt("AMQP_WORKERS", 1); err != nil {
		errs = append(errs, err)
	} else if cfg.AMQP.Workers < 1 {
		errs = append(errs, fmt.Errorf("AMQP_WORKERS must be at least 1, got %d", cfg.AMQP.Workers))
	}

	cfg.Telemetry = telemetry.Config{
		OtelEnabled:       getEnv("OTEL_ENABLED", "false") == "true",
		CollectorEndpoint: getEnv("OTEL_COLLECTOR_GRPC_ENDPOINT", ""),
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// ThumbnailsConfig returns the orchestrator settings.
func (c *Config) ThumbnailsConfig() services.ThumbnailsConfig {
	return services.ThumbnailsConfig{
		Defaults:           c.Defaults,
		Prefix:             c.Prefix,
		PlaceholderEnabled: c.PlaceholderEnabled,
		PlaceholderSource:  c.PlaceholderSource,
		PlaceholderRatio:   c.PlaceholderRatio,
	}
}

func prepareAMQPUri() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		getEnv("RABBITMQ_USER", "guest"),
		getSecret("RABBITMQ_PASS", "RABBITMQ_PASS_FILE", "guest"),
		getEnv("RABBITMQ_HOST", "localhost"),
		getEnv("RABBITMQ_PORT", "5672"),
	)
}

// parseRatios parses a comma separated list such as "1.5, 2".
func parseRatios(key, raw string) ([]float64, error) {
	ratios := []float64{}
	if strings.TrimSpace(raw) == "" {
		return ratios, nil
	}

	for _, part := range strings.Split(raw, ",") {
		// Trim spaces in case of "1.5, 2"
		ratio, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ratio %q in %s: %w", part, key, err)
		}
		if ratio <= 0 {
			return nil, fmt.Errorf("ratios in %s must be positive, got %v", key, ratio)
		}
		ratios = append(ratios, ratio)
	}
	return ratios, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getSecret(envKey, fileEnvKey, fallback string) string {
	if value, ok := os.LookupEnv(envKey); ok {
		return value
	}

	if filePath, ok := os.LookupEnv(fileEnvKey); ok {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

