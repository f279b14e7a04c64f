package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaultsWithEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONTACTCAST_SESSION_SECRET", testSecret)
	t.Setenv("CONTACTCAST_FIREBASE_API_KEY", "key")
	t.Setenv("CONTACTCAST_FIREBASE_PROJECT_ID", "demo-project")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "8082", cfg.App.Port)
	assert.Equal(t, 5, cfg.Contacts.Limit)
	assert.False(t, cfg.Contacts.EnforceLimit)
	assert.Equal(t, StoreFirestore, cfg.Store.Driver)
	assert.Equal(t, DispatchBestEffort, cfg.Dispatch.Mode)
	assert.Equal(t, StateMemory, cfg.State.Driver)
	assert.Equal(t, 5*24*time.Hour, cfg.Firebase.SessionTTL)
	assert.Equal(t, "demo-project", cfg.Firebase.ProjectID)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	yaml := `
app:
  port: "9000"
firebase:
  api_key: file-key
session:
  secret: ` + testSecret + `
store:
  driver: postgres
  postgres_dsn: postgres://localhost/contacts
contacts:
  enforce_limit: true
dispatch:
  mode: atomic
state:
  driver: redis
  ttl: 1h
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("CONTACTCAST_APP_PORT", "9100")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.App.Port)
	assert.Equal(t, "file-key", cfg.Firebase.APIKey)
	assert.Equal(t, StorePostgres, cfg.Store.Driver)
	assert.True(t, cfg.Contacts.EnforceLimit)
	assert.Equal(t, DispatchAtomic, cfg.Dispatch.Mode)
	assert.Equal(t, StateRedis, cfg.State.Driver)
	assert.Equal(t, time.Hour, cfg.State.TTL)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			App:      AppConfig{Port: "8082"},
			Firebase: FirebaseConfig{APIKey: "k", SessionTTL: 5 * 24 * time.Hour},
			Session:  SessionConfig{Secret: testSecret},
			Store:    StoreConfig{Driver: StoreMemory},
			Contacts: ContactsConfig{Limit: 5},
			Dispatch: DispatchConfig{Mode: DispatchBestEffort},
			State:    StateConfig{Driver: StateMemory},
			Logging:  LoggingConfig{Sink: SinkStdout},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "short secret", mutate: func(c *Config) { c.Session.Secret = "x" }, wantErr: "session.secret"},
		{name: "firestore without project", mutate: func(c *Config) { c.Store.Driver = StoreFirestore }, wantErr: "firebase.project_id"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Driver = StorePostgres }, wantErr: "store.postgres_dsn"},
		{name: "unknown dispatch mode", mutate: func(c *Config) { c.Dispatch.Mode = "later" }, wantErr: "dispatch.mode"},
		{name: "zero limit", mutate: func(c *Config) { c.Contacts.Limit = 0 }, wantErr: "contacts.limit"},
		{name: "session ttl too short", mutate: func(c *Config) { c.Firebase.SessionTTL = time.Minute }, wantErr: "firebase.session_ttl"},
		{name: "session ttl too long", mutate: func(c *Config) { c.Firebase.SessionTTL = 15 * 24 * time.Hour }, wantErr: "firebase.session_ttl"},
		{name: "session ttl at bounds", mutate: func(c *Config) { c.Firebase.SessionTTL = MaxSessionTTL }},
		{name: "unknown state driver", mutate: func(c *Config) { c.State.Driver = "disk" }, wantErr: "state.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
