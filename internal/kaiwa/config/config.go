// Package config loads Kaiwa's settings.
//
// Settings come from an optional YAML file, validated against an embedded
// JSON schema, and are then overridden by environment variables. A missing
// file is not an error; every key has a default or an environment variable.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/kaiwa/common/environment"
	"github.com/bdobrica/kaiwa/internal/kaiwa/commands"
	"github.com/bdobrica/kaiwa/internal/kaiwa/completion"
	"github.com/bdobrica/kaiwa/internal/kaiwa/store"
)

// DefaultPath is read when KAIWA_CONFIG is unset.
const DefaultPath = "./settings.yaml"

//go:embed schema.json
var schemaJSON []byte

// ErrInvalid wraps every schema and validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete runtime configuration.
type Config struct {
	Matrix     MatrixConfig     `yaml:"matrix"`
	Storage    StorageConfig    `yaml:"storage"`
	History    HistoryConfig    `yaml:"history"`
	Completion CompletionConfig `yaml:"completion"`
	Reply      ReplyConfig      `yaml:"reply"`
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
}

type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
	// AllowedRooms restricts the bot to these rooms. Empty allows all.
	AllowedRooms []string `yaml:"allowed_rooms"`
}

type StorageConfig struct {
	Durable         bool          `yaml:"durable"`
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	ConnectDelay    time.Duration `yaml:"connect_delay"`
}

type HistoryConfig struct {
	MaxLen int `yaml:"max_len"`
}

type CompletionConfig struct {
	Provider   string        `yaml:"provider"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxTokens  int           `yaml:"max_tokens"`
	MaxRetries int           `yaml:"max_retries"`
}

type ReplyConfig struct {
	MaxLen int `yaml:"max_len"`
}

type HTTPConfig struct {
	// Addr of the health server. Empty disables it.
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the configuration used for keys nobody set.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{
			Durable:         true,
			Driver:          "sqlite",
			DSN:             "./kaiwa.db",
			ConnectAttempts: 5,
			ConnectDelay:    time.Second,
		},
		History: HistoryConfig{MaxLen: store.DefaultMaxHistoryLen},
		Completion: CompletionConfig{
			Provider:   completion.ProviderOpenAI,
			Timeout:    completion.DefaultTimeout,
			MaxTokens:  completion.DefaultMaxTokens,
			MaxRetries: 2,
		},
		Reply: ReplyConfig{MaxLen: commands.DefaultMaxReplyLen},
		HTTP:  HTTPConfig{Addr: ":8080"},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the settings file named by KAIWA_CONFIG (or DefaultPath), then
// applies environment overrides and validates the result.
func Load() (*Config, error) {
	path := environment.StringOr("KAIWA_CONFIG", DefaultPath)
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Environment only.
	case err != nil:
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	default:
		if err := Parse(data, &cfg); err != nil {
			return nil, fmt.Errorf("settings %s: %w", path, err)
		}
	}

	ApplyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse validates a YAML document against the settings schema and decodes
// it over cfg, so keys absent from the document keep their current values.
func Parse(data []byte, cfg *Config) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if doc == nil {
		return nil
	}
	schema, err := compileSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("load settings schema: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile settings schema: %w", err)
	}
	return schema, nil
}

// ApplyEnv overrides cfg with any environment variables that are set.
func ApplyEnv(cfg *Config) {
	cfg.Matrix.Homeserver = environment.StringOr("MATRIX_HOMESERVER", cfg.Matrix.Homeserver)
	cfg.Matrix.UserID = environment.StringOr("MATRIX_USER_ID", cfg.Matrix.UserID)
	cfg.Matrix.AccessToken = environment.StringOr("MATRIX_ACCESS_TOKEN", cfg.Matrix.AccessToken)
	cfg.Matrix.AllowedRooms = environment.StringSliceOr("MATRIX_ALLOWED_ROOMS", cfg.Matrix.AllowedRooms)

	cfg.Storage.Durable = environment.BoolOr("STORAGE_DURABLE", cfg.Storage.Durable)
	cfg.Storage.Driver = environment.StringOr("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.DSN = environment.StringOr("STORAGE_DSN", cfg.Storage.DSN)
	cfg.Storage.ConnectAttempts = environment.IntOr("STORAGE_CONNECT_ATTEMPTS", cfg.Storage.ConnectAttempts)
	cfg.Storage.ConnectDelay = environment.DurationOr("STORAGE_CONNECT_DELAY", cfg.Storage.ConnectDelay)

	cfg.History.MaxLen = environment.IntOr("HISTORY_MAX_LEN", cfg.History.MaxLen)

	cfg.Completion.Provider = environment.StringOr("COMPLETION_PROVIDER", cfg.Completion.Provider)
	cfg.Completion.BaseURL = environment.StringOr("COMPLETION_BASE_URL", cfg.Completion.BaseURL)
	cfg.Completion.APIKey = environment.StringOr("COMPLETION_API_KEY", cfg.Completion.APIKey)
	cfg.Completion.Model = environment.StringOr("COMPLETION_MODEL", cfg.Completion.Model)
	cfg.Completion.Timeout = environment.DurationOr("COMPLETION_TIMEOUT", cfg.Completion.Timeout)
	cfg.Completion.MaxTokens = environment.IntOr("COMPLETION_MAX_TOKENS", cfg.Completion.MaxTokens)
	cfg.Completion.MaxRetries = environment.IntOr("COMPLETION_MAX_RETRIES", cfg.Completion.MaxRetries)

	cfg.Reply.MaxLen = environment.IntOr("REPLY_MAX_LEN", cfg.Reply.MaxLen)
	cfg.HTTP.Addr = environment.StringOr("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Log.Level = environment.StringOr("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = environment.StringOr("LOG_FORMAT", cfg.Log.Format)
}

// Validate reports the first missing required value.
func (c *Config) Validate() error {
	var missing []string
	if c.Matrix.Homeserver == "" {
		missing = append(missing, "MATRIX_HOMESERVER")
	}
	if c.Matrix.UserID == "" {
		missing = append(missing, "MATRIX_USER_ID")
	}
	if c.Matrix.AccessToken == "" {
		missing = append(missing, "MATRIX_ACCESS_TOKEN")
	}
	if c.Completion.Model == "" {
		missing = append(missing, "COMPLETION_MODEL")
	}
	if c.Completion.Provider == completion.ProviderAnthropic && c.Completion.APIKey == "" {
		missing = append(missing, "COMPLETION_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalid, strings.Join(missing, ", "))
	}
	return nil
}

// Secrets lists the values the logger must never print.
func (c *Config) Secrets() []string {
	return []string{c.Matrix.AccessToken, c.Completion.APIKey}
}
