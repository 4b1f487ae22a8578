package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"anonfeedback/pkg/database"
)

const (
	// EnvPrefix prefixes every environment variable read by Load
	EnvPrefix = "ANONFEEDBACK_"
	// ConfigFileEnv names the variable holding the optional JSON config file path
	ConfigFileEnv = EnvPrefix + "CONFIG_FILE"
	// DefaultDotEnvPath is loaded into the environment when present
	DefaultDotEnvPath = ".env"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database" envPrefix:"DATABASE_"`
	HTTP      *HTTPConfig      `json:"http" envPrefix:"HTTP_"`
	WebSocket *WebSocketConfig `json:"websocket" envPrefix:"WEBSOCKET_"`
	Feedback  *FeedbackConfig  `json:"feedback" envPrefix:"FEEDBACK_"`
}

// FUNCTIONAL DISCOVERY: Database configuration supports SQLite locally and PostgreSQL when deployed
type DatabaseConfig struct {
	Driver         string `json:"driver" env:"DRIVER"`
	Path           string `json:"path" env:"PATH"`
	MaxConnections int    `json:"max_connections" env:"MAX_CONNECTIONS"`
}

type HTTPConfig struct {
	Port          int           `json:"port" env:"PORT"`
	Host          string        `json:"host" env:"HOST"`
	ReadTimeout   time.Duration `json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout  time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT"`
	AllowedOrigin string        `json:"allowed_origin" env:"ALLOWED_ORIGIN"`
}

// FUNCTIONAL DISCOVERY: WebSocket configuration optimized for classroom scenarios
type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval" env:"PING_INTERVAL"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT"`
	BufferSize   int           `json:"buffer_size" env:"BUFFER_SIZE"`
}

// FeedbackConfig bounds what a single client can submit
type FeedbackConfig struct {
	LiveRatingLimit  int           `json:"live_rating_limit" env:"LIVE_RATING_LIMIT"`
	LiveRatingWindow time.Duration `json:"live_rating_window" env:"LIVE_RATING_WINDOW"`
	CommentMaxLength int           `json:"comment_max_length" env:"COMMENT_MAX_LENGTH"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults based on classroom requirements
// Database on local filesystem, HTTP on standard port, WebSocket with 30s heartbeat
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Driver:         database.DriverSQLite,
			Path:           "./data/anonfeedback.db",
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Port:          8080,
			Host:          "0.0.0.0",
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			AllowedOrigin: "*",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Feedback: &FeedbackConfig{
			LiveRatingLimit:  60,
			LiveRatingWindow: time.Minute,
			CommentMaxLength: 2000,
		},
	}
}

// Validate rejects configurations the server cannot run with
func (c *Config) Validate() error {
	if c.Database == nil {
		return errors.New("database configuration is required")
	}
	if c.Database.Driver != database.DriverSQLite && c.Database.Driver != database.DriverPostgres {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return errors.New("database max connections must be positive")
	}

	if c.HTTP == nil {
		return errors.New("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.AllowedOrigin == "" {
		return errors.New("HTTP allowed origin cannot be empty")
	}

	if c.WebSocket == nil {
		return errors.New("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	// FUNCTIONAL DISCOVERY: the read deadline must outlive a ping round trip or healthy clients get dropped
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}

	if c.Feedback == nil {
		return errors.New("feedback configuration is required")
	}
	if c.Feedback.LiveRatingLimit <= 0 || c.Feedback.LiveRatingWindow <= 0 {
		return errors.New("live rating limit and window must be positive")
	}
	if c.Feedback.CommentMaxLength <= 0 {
		return errors.New("comment max length must be positive")
	}
	return nil
}

// StoreConfig converts the database section into the persistence layer's configuration
func (c *Config) StoreConfig() *database.Config {
	store := database.DefaultConfig()
	store.Driver = c.Database.Driver
	store.DatabasePath = c.Database.Path
	store.MaxConnections = c.Database.MaxConnections
	return store
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadDotEnv loads a .env file into the process environment if it exists.
// Variables already set in the environment win over the file.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv overlays ANONFEEDBACK_* environment variables on the defaults
// FUNCTIONAL DISCOVERY: Environment variable configuration enables containerized deployments
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(config *Config) error {
	// Unset variables leave the existing values in place
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Database  *DatabaseConfig      `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Feedback  *FeedbackConfigFile  `json:"feedback"`
}

type HTTPConfigFile struct {
	Port          int    `json:"port"`
	Host          string `json:"host"`
	ReadTimeout   string `json:"read_timeout"`
	WriteTimeout  string `json:"write_timeout"`
	AllowedOrigin string `json:"allowed_origin"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

type FeedbackConfigFile struct {
	LiveRatingLimit  int    `json:"live_rating_limit"`
	LiveRatingWindow string `json:"live_rating_window"`
	CommentMaxLength int    `json:"comment_max_length"`
}

// LoadFromFile overlays a JSON config file on the defaults
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

// applyFile overwrites only the fields the file sets
func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	if file.Database != nil {
		setString(&config.Database.Driver, file.Database.Driver)
		setString(&config.Database.Path, file.Database.Path)
		setInt(&config.Database.MaxConnections, file.Database.MaxConnections)
	}

	if file.HTTP != nil {
		setInt(&config.HTTP.Port, file.HTTP.Port)
		setString(&config.HTTP.Host, file.HTTP.Host)
		setString(&config.HTTP.AllowedOrigin, file.HTTP.AllowedOrigin)
		if err := setDuration(&config.HTTP.ReadTimeout, file.HTTP.ReadTimeout); err != nil {
			return fmt.Errorf("http.read_timeout in %s: %w", filepath, err)
		}
		if err := setDuration(&config.HTTP.WriteTimeout, file.HTTP.WriteTimeout); err != nil {
			return fmt.Errorf("http.write_timeout in %s: %w", filepath, err)
		}
	}

	if file.WebSocket != nil {
		setInt(&config.WebSocket.BufferSize, file.WebSocket.BufferSize)
		if err := setDuration(&config.WebSocket.PingInterval, file.WebSocket.PingInterval); err != nil {
			return fmt.Errorf("websocket.ping_interval in %s: %w", filepath, err)
		}
		if err := setDuration(&config.WebSocket.ReadTimeout, file.WebSocket.ReadTimeout); err != nil {
			return fmt.Errorf("websocket.read_timeout in %s: %w", filepath, err)
		}
		if err := setDuration(&config.WebSocket.WriteTimeout, file.WebSocket.WriteTimeout); err != nil {
			return fmt.Errorf("websocket.write_timeout in %s: %w", filepath, err)
		}
	}

	if file.Feedback != nil {
		setInt(&config.Feedback.LiveRatingLimit, file.Feedback.LiveRatingLimit)
		setInt(&config.Feedback.CommentMaxLength, file.Feedback.CommentMaxLength)
		if err := setDuration(&config.Feedback.LiveRatingWindow, file.Feedback.LiveRatingWindow); err != nil {
			return fmt.Errorf("feedback.live_rating_window in %s: %w", filepath, err)
		}
	}

	return nil
}

// Load builds the runtime configuration: defaults, then .env and the environment, then the
// JSON file named by ANONFEEDBACK_CONFIG_FILE
// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
func Load(dotEnvPath string) (*Config, error) {
	if err := LoadDotEnv(dotEnvPath); err != nil {
		return nil, err
	}
	return LoadConfigWithPrecedence(os.Getenv(ConfigFileEnv))
}

// LoadConfigWithPrecedence applies the environment and then filepath (if not empty) on the defaults
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}

	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setInt(dst *int, value int) {
	if value > 0 {
		*dst = value
	}
}

func setDuration(dst *time.Duration, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
