package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppPort string `yaml:"app_port"`
	Env     string `yaml:"env"`

	RedisHost string `yaml:"redis_host"`
	RedisPort string `yaml:"redis_port"`

	KafkaEnabled bool   `yaml:"kafka_enabled"`
	KafkaBrokers string `yaml:"kafka_bootstrap_servers"`
	KafkaGroupID string `yaml:"kafka_group_id"`
	FanoutTopic  string `yaml:"fanout_topic"`

	LikeVersions   bool          `yaml:"like_versions"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`

	WSSendBuffer     int           `yaml:"ws_send_buffer"`
	WSPingInterval   time.Duration `yaml:"ws_ping_interval"`
	WSAllowedOrigins []string      `yaml:"ws_allowed_origins"`

	JWTSecret string `yaml:"jwt_secret"`

	OTELEndpoint    string  `yaml:"otel_endpoint"`
	OTELServiceName string  `yaml:"otel_service_name"`
	OTELSampleRatio float64 `yaml:"otel_sample_ratio"`
}

func defaults() *Config {
	return &Config{
		AppPort:         ":8090",
		Env:             "local",
		RedisHost:       "redis-realtime",
		RedisPort:       "6379",
		KafkaBrokers:    "kafka:9092",
		KafkaGroupID:    "realtime-service",
		FanoutTopic:     "fanout.events",
		PublishTimeout:  3 * time.Second,
		WSSendBuffer:    32,
		WSPingInterval:  25 * time.Second,
		JWTSecret:       "dev-secret",
		OTELEndpoint:    "otel-collector:4318",
		OTELServiceName: "realtime-service",
		OTELSampleRatio: 1.0,
	}
}

// LoadConfig starts from defaults, applies the YAML file named by
// CONFIG_FILE if set, then environment variables.
func LoadConfig() (*Config, error) {
	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.AppPort = getEnv("APP_PORT", cfg.AppPort)
	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.RedisHost = getEnv("REDIS_HOST", cfg.RedisHost)
	cfg.RedisPort = getEnv("REDIS_PORT", cfg.RedisPort)
	cfg.KafkaBrokers = getEnv("KAFKA_BOOTSTRAP_SERVERS", cfg.KafkaBrokers)
	cfg.KafkaGroupID = getEnv("KAFKA_GROUP_ID", cfg.KafkaGroupID)
	cfg.FanoutTopic = getEnv("FANOUT_TOPIC", cfg.FanoutTopic)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.OTELEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTELEndpoint)
	cfg.OTELServiceName = getEnv("OTEL_SERVICE_NAME", cfg.OTELServiceName)
	if v := os.Getenv("WS_ALLOWED_ORIGINS"); v != "" {
		cfg.WSAllowedOrigins = splitList(v)
	}

	var err error
	if cfg.KafkaEnabled, err = envBool("KAFKA_ENABLED", cfg.KafkaEnabled); err != nil {
		return nil, err
	}
	if cfg.LikeVersions, err = envBool("LIKE_VERSIONS", cfg.LikeVersions); err != nil {
		return nil, err
	}
	if cfg.PublishTimeout, err = envDuration("PUBLISH_TIMEOUT", cfg.PublishTimeout); err != nil {
		return nil, err
	}
	if cfg.WSPingInterval, err = envDuration("WS_PING_INTERVAL", cfg.WSPingInterval); err != nil {
		return nil, err
	}
	if cfg.WSSendBuffer, err = envInt("WS_SEND_BUFFER", cfg.WSSendBuffer); err != nil {
		return nil, err
	}
	if s := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f < 0 || f > 1 {
			return nil, fmt.Errorf("OTEL_TRACES_SAMPLER_ARG: want a ratio in [0,1], got %q", s)
		}
		cfg.OTELSampleRatio = f
	}
	return cfg, nil
}

func (c *Config) RedisAddr() string { return c.RedisHost + ":" + c.RedisPort }

func getEnv(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) String() string {
	return fmt.Sprintf("AppPort=%s, Redis=%s, Kafka=%t(%s topic=%s), LikeVersions=%t, WSSendBuffer=%d",
		c.AppPort, c.RedisAddr(), c.KafkaEnabled, c.KafkaBrokers, c.FanoutTopic, c.LikeVersions, c.WSSendBuffer)
}
