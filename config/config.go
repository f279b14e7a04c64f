// Package config loads contactcast settings from config.yaml, .env and the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/compute/metadata"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "CONTACTCAST"

// Firebase rejects session cookies outside this range.
const (
	MinSessionTTL = 5 * time.Minute
	MaxSessionTTL = 14 * 24 * time.Hour
)

const (
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
	StoreMemory    = "memory"

	StateMemory = "memory"
	StateRedis  = "redis"

	DispatchBestEffort = "best_effort"
	DispatchAtomic     = "atomic"

	SinkStdout = "stdout"
	SinkCloud  = "cloud"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Firebase FirebaseConfig `mapstructure:"firebase"`
	Session  SessionConfig  `mapstructure:"session"`
	Store    StoreConfig    `mapstructure:"store"`
	Contacts ContactsConfig `mapstructure:"contacts"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	State    StateConfig    `mapstructure:"state"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Port string `mapstructure:"port"`
}

type FirebaseConfig struct {
	ProjectID       string        `mapstructure:"project_id"`
	APIKey          string        `mapstructure:"api_key"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	// IdentityToolkitURL is overridden in tests and for the auth emulator.
	IdentityToolkitURL string `mapstructure:"identity_toolkit_url"`
}

type SessionConfig struct {
	Secret string `mapstructure:"secret"`
	Secure bool   `mapstructure:"secure"`
	// RevokeOnLogout signs the user out of every device, not just this browser.
	RevokeOnLogout bool `mapstructure:"revoke_on_logout"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type ContactsConfig struct {
	Limit int `mapstructure:"limit"`
	// EnforceLimit makes the store reject creates past Limit, not just the page.
	EnforceLimit bool `mapstructure:"enforce_limit"`
}

type DispatchConfig struct {
	Mode string `mapstructure:"mode"`
}

type StateConfig struct {
	Driver        string        `mapstructure:"driver"`
	RedisAddress  string        `mapstructure:"redis_address"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	Sink  string `mapstructure:"sink"`
	LogID string `mapstructure:"log_id"`
}

// Load reads configuration, applies defaults and validates the result.
// Environment variables use the CONTACTCAST_ prefix, e.g. CONTACTCAST_FIREBASE_API_KEY.
func Load(ctx context.Context) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Firebase.ProjectID == "" {
		cfg.Firebase.ProjectID = projectIDFromEnvironment(ctx)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "contactcast")
	v.SetDefault("app.port", "8082")
	v.SetDefault("firebase.project_id", "")
	v.SetDefault("firebase.api_key", "")
	v.SetDefault("firebase.credentials_file", "")
	v.SetDefault("firebase.session_ttl", 5*24*time.Hour)
	v.SetDefault("firebase.identity_toolkit_url", "https://identitytoolkit.googleapis.com")
	v.SetDefault("session.secret", "")
	v.SetDefault("session.secure", true)
	v.SetDefault("session.revoke_on_logout", false)
	v.SetDefault("store.driver", StoreFirestore)
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("contacts.limit", 5)
	v.SetDefault("contacts.enforce_limit", false)
	v.SetDefault("dispatch.mode", DispatchBestEffort)
	v.SetDefault("state.driver", StateMemory)
	v.SetDefault("state.redis_address", "localhost:6379")
	v.SetDefault("state.redis_password", "")
	v.SetDefault("state.redis_db", 0)
	v.SetDefault("state.ttl", 24*time.Hour)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.sink", SinkStdout)
	v.SetDefault("logging.log_id", "contactcast")
}

// loadEnvFile loads .env from the working directory or its parent, if present.
func loadEnvFile() {
	for _, path := range []string{".env", "../.env"} {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

// projectIDFromEnvironment falls back to the GCP metadata server when running
// on Cloud Functions.
func projectIDFromEnvironment(ctx context.Context) string {
	for _, key := range []string{"GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if !metadata.OnGCE() {
		return ""
	}
	id, err := metadata.ProjectIDWithContext(ctx)
	if err != nil {
		return ""
	}
	return id
}

func (c *Config) Validate() error {
	var errs []error
	if c.App.Port == "" {
		errs = append(errs, errors.New("app.port is required"))
	}
	if c.Firebase.SessionTTL < MinSessionTTL || c.Firebase.SessionTTL > MaxSessionTTL {
		errs = append(errs, fmt.Errorf("firebase.session_ttl must be between %s and %s", MinSessionTTL, MaxSessionTTL))
	}
	if len(c.Session.Secret) < 32 {
		errs = append(errs, errors.New("session.secret must be at least 32 bytes"))
	}
	switch c.Store.Driver {
	case StoreFirestore:
		if c.Firebase.ProjectID == "" {
			errs = append(errs, errors.New("firebase.project_id is required for the firestore store"))
		}
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Firebase.APIKey == "" {
		errs = append(errs, errors.New("firebase.api_key is required"))
	}
	if c.Contacts.Limit <= 0 {
		errs = append(errs, errors.New("contacts.limit must be positive"))
	}
	switch c.Dispatch.Mode {
	case DispatchBestEffort, DispatchAtomic:
	default:
		errs = append(errs, fmt.Errorf("unknown dispatch.mode %q", c.Dispatch.Mode))
	}
	switch c.State.Driver {
	case StateMemory:
	case StateRedis:
		if c.State.RedisAddress == "" {
			errs = append(errs, errors.New("state.redis_address is required for the redis state store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown state.driver %q", c.State.Driver))
	}
	switch c.Logging.Sink {
	case SinkStdout:
	case SinkCloud:
		if c.Firebase.ProjectID == "" {
			errs = append(errs, errors.New("firebase.project_id is required for the cloud log sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown logging.sink %q", c.Logging.Sink))
	}
	return errors.Join(errs...)
}
