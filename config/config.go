package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read when QUEUECTL_CONFIG is unset and the file exists.
const DefaultFile = "queuectl.yaml"

type Config struct {
	// API
	BaseURL        string        `yaml:"base_url"`
	WSURL          string        `yaml:"ws_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Push channel
	Transport          string `yaml:"transport"`
	PubNubSubscribeKey string `yaml:"pubnub_subscribe_key"`
	PubNubCipherKey    string `yaml:"pubnub_cipher_key"`
	PubNubUUID         string `yaml:"pubnub_uuid"`
	NATSURL            string `yaml:"nats_url"`
	NATSSubjectNS      string `yaml:"nats_subject_ns"`

	// Session
	SessionBackend string `yaml:"session_backend"`
	SessionFile    string `yaml:"session_file"`
	RedisURL       string `yaml:"redis_url"`
	Profile        string `yaml:"profile"`
	SealKey        string `yaml:"seal_key"`

	// Queue
	RefetchInterval time.Duration `yaml:"refetch_interval"`

	// Monitoring
	MetricsAddr  string `yaml:"metrics_addr"`
	OTELEndpoint string `yaml:"otel_endpoint"`
	OTELInsecure bool   `yaml:"otel_insecure"`

	// Stub backend
	StubAddr       string        `yaml:"stub_addr"`
	StubSecret     string        `yaml:"stub_secret"`
	StubJoinLimit  int           `yaml:"stub_join_limit"`
	StubJoinWindow time.Duration `yaml:"stub_join_window"`
}

func defaults() *Config {
	return &Config{
		BaseURL:         "http://localhost:8000/api",
		RequestTimeout:  10 * time.Second,
		Transport:       "websocket",
		NATSSubjectNS:   "queue.notifications",
		SessionBackend:  "file",
		SessionFile:     defaultSessionFile(),
		RedisURL:        "redis://localhost:6379/0",
		Profile:         "default",
		RefetchInterval: 30 * time.Second,
		StubAddr:        "127.0.0.1:8000",
		StubSecret:      "insecure-stub-secret",
		StubJoinLimit:   10,
		StubJoinWindow:  time.Minute,
	}
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "queuectl", "session.json")
}

// LoadConfig builds the configuration from defaults, then the YAML file
// named by QUEUECTL_CONFIG (or ./queuectl.yaml), then the environment.
// A .env file in the working directory is loaded first and never
// overrides variables that are already set.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := defaults()

	path := os.Getenv("QUEUECTL_CONFIG")
	required := path != ""
	if path == "" {
		path = DefaultFile
	}
	if err := cfg.loadFile(path, required); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	if cfg.WSURL == "" {
		ws, err := DeriveWSURL(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		cfg.WSURL = ws
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	slog.Debug("config file loaded", "path", path)
	return nil
}

func (c *Config) applyEnv() {
	// API
	c.BaseURL = getEnv("QUEUE_API_URL", c.BaseURL)
	c.WSURL = getEnv("QUEUE_WS_URL", c.WSURL)
	c.RequestTimeout = getEnvAsDuration("REQUEST_TIMEOUT", c.RequestTimeout)

	// Push
	c.Transport = getEnv("QUEUE_PUSH_TRANSPORT", c.Transport)
	c.PubNubSubscribeKey = getEnv("PUBNUB_SUBSCRIBE_KEY", c.PubNubSubscribeKey)
	c.PubNubCipherKey = getEnv("PUBNUB_CIPHER_KEY", c.PubNubCipherKey)
	c.PubNubUUID = getEnv("PUBNUB_UUID", c.PubNubUUID)
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.NATSSubjectNS = getEnv("NATS_SUBJECT_NS", c.NATSSubjectNS)

	// Session
	c.SessionBackend = getEnv("SESSION_BACKEND", c.SessionBackend)
	c.SessionFile = getEnv("SESSION_FILE", c.SessionFile)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.Profile = getEnv("SESSION_PROFILE", c.Profile)
	c.SealKey = getEnv("SESSION_SEAL_KEY", c.SealKey)

	// Queue
	c.RefetchInterval = getEnvAsDuration("REFETCH_INTERVAL", c.RefetchInterval)

	// Monitoring
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.OTELEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTELEndpoint)
	c.OTELInsecure = getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", c.OTELInsecure)

	// Stub
	c.StubAddr = getEnv("STUB_ADDR", c.StubAddr)
	c.StubSecret = getEnv("STUB_SECRET", c.StubSecret)
	c.StubJoinLimit = getEnvAsInt("STUB_JOIN_LIMIT", c.StubJoinLimit)
	c.StubJoinWindow = getEnvAsDuration("STUB_JOIN_WINDOW", c.StubJoinWindow)
}

// DeriveWSURL maps an API root such as http://host:8000/api to the
// notifications endpoint ws://host:8000/ws/notifications/.
func DeriveWSURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("config: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("config: base url %q must be http or https", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/api") + "/ws/notifications/"
	u.RawQuery = ""
	return u.String(), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	return defaultValue
}
