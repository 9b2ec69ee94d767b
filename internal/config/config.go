package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreMemory = "memory"
	StoreMySQL  = "mysql"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	APIAddr         string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	ConfirmationRadiusMeters float64

	StoreDriver string
	MySQLDSN    string

	// Redis backs conversation sessions and intake rate limiting when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SessionIdleTTL      time.Duration
	SessionRetention    time.Duration
	SessionReapSchedule string

	// Image detector (Roboflow hosted inference).
	DetectorURL     string
	DetectorAPIKey  string
	DetectorModel   string
	DetectorTimeout time.Duration
	GateThreshold   float64
	GateClass       string
	// GatePassthrough accepts every image unvalidated when no detector is configured.
	GatePassthrough bool

	// Twilio media download.
	TwilioAccountSID string
	TwilioAuthToken  string
	MediaTimeout     time.Duration
	MediaMaxBytes    int64
	MediaDir         string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// Report events are published when brokers are configured.
	KafkaBrokers     []string
	KafkaEventsTopic string

	AdminToken      string
	RateLimitPerDay int
	CORSOrigins     []string
}

// DetectorConfigured reports whether an image detector key is present.
func (c *Config) DetectorConfigured() bool {
	return c.DetectorAPIKey != ""
}

// EventsEnabled reports whether report events are published to Kafka.
func (c *Config) EventsEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	sessionIdleTTL, err := parsePositiveDuration("SESSION_IDLE_TTL", "24h")
	if err != nil {
		return nil, err
	}
	sessionRetention, err := parsePositiveDuration("SESSION_RETENTION", "720h")
	if err != nil {
		return nil, err
	}
	detectorTimeout, err := parsePositiveDuration("DETECTOR_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	mediaTimeout, err := parsePositiveDuration("MEDIA_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	radius, err := parseFloat("CONFIRMATION_RADIUS_METERS", 50)
	if err != nil {
		return nil, err
	}
	threshold, err := parseFloat("GATE_THRESHOLD", 0.80)
	if err != nil {
		return nil, err
	}
	redisDB, err := parseInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	mediaMax, err := parseInt("MEDIA_MAX_BYTES", 10<<20)
	if err != nil {
		return nil, err
	}
	rateLimit, err := parseInt("RATE_LIMIT_PER_DAY", 0)
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = sharedcfg.ParseBrokers(v)
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		APIAddr:         sharedcfg.EnvOrDefault("API_ADDR", ":8000"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		ConfirmationRadiusMeters: radius,

		StoreDriver: strings.ToLower(sharedcfg.EnvOrDefault("STORE_DRIVER", StoreMemory)),
		MySQLDSN:    os.Getenv("MYSQL_DSN"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		SessionIdleTTL:      sessionIdleTTL,
		SessionRetention:    sessionRetention,
		SessionReapSchedule: sharedcfg.EnvOrDefault("SESSION_REAP_SCHEDULE", "@every 10m"),

		DetectorURL:     strings.TrimRight(sharedcfg.EnvOrDefault("DETECTOR_URL", "https://detect.roboflow.com"), "/"),
		DetectorAPIKey:  os.Getenv("DETECTOR_API_KEY"),
		DetectorModel:   sharedcfg.EnvOrDefault("DETECTOR_MODEL", "pothole-detection-bqu6s/9"),
		DetectorTimeout: detectorTimeout,
		GateThreshold:   threshold,
		GateClass:       sharedcfg.EnvOrDefault("GATE_CLASS", "Pothole"),
		GatePassthrough: os.Getenv("GATE_PASSTHROUGH") == "true",

		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		MediaTimeout:     mediaTimeout,
		MediaMaxBytes:    int64(mediaMax),
		MediaDir:         sharedcfg.EnvOrDefault("MEDIA_DIR", "./uploads"),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),

		KafkaBrokers:     brokers,
		KafkaEventsTopic: sharedcfg.EnvOrDefault("KAFKA_EVENTS_TOPIC", "road-hazard-events"),

		AdminToken:      os.Getenv("ADMIN_TOKEN"),
		RateLimitPerDay: rateLimit,
		CORSOrigins:     splitList(os.Getenv("CORS_ORIGINS")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreMemory:
	case StoreMySQL:
		if c.MySQLDSN == "" {
			return errors.New("STORE_DRIVER is mysql but MYSQL_DSN is not set")
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.StoreDriver)
	}
	if c.ConfirmationRadiusMeters <= 0 {
		return errors.New("CONFIRMATION_RADIUS_METERS must be positive")
	}
	if c.GateThreshold < 0 || c.GateThreshold > 1 {
		return errors.New("GATE_THRESHOLD must be between 0 and 1")
	}
	if !c.DetectorConfigured() && !c.GatePassthrough {
		return errors.New("DETECTOR_API_KEY is not set; set GATE_PASSTHROUGH=true to accept images unvalidated")
	}
	if c.MediaMaxBytes <= 0 {
		return errors.New("MEDIA_MAX_BYTES must be positive")
	}
	if c.RateLimitPerDay < 0 {
		return errors.New("RATE_LIMIT_PER_DAY must not be negative")
	}
	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	return nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
