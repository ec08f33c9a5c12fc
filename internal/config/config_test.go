package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123"

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FAMEVENTS_CONFIG", "")
	t.Setenv("FAMEVENTS_JWT_SECRET", secret)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "@hourly", cfg.SyncSchedule)
	assert.Equal(t, 50, cfg.Events.MaxEventsPerFamily)
	assert.True(t, cfg.Events.EnableRecurrence)
	assert.False(t, cfg.Events.AllowCrossUserEvents)

	p := cfg.Events.Policy()
	assert.Equal(t, 50, p.MaxEventsPerFamily)
	assert.True(t, p.EnableRecurrence)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("FAMEVENTS_CONFIG", "")
	t.Setenv("FAMEVENTS_JWT_SECRET", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWTSecret")
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeFile(t, "famevents.yaml", `
port: "9090"
logFormat: json
kafkaBrokers: ["kafka:9092"]
events:
  maxEventsPerFamily: 10
  enableRecurrence: false
`)
	t.Setenv("FAMEVENTS_JWT_SECRET", secret)
	t.Setenv("FAMEVENTS_PORT", "7070")
	t.Setenv("FAMEVENTS_ALLOW_CROSS_USER_EVENTS", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port, "env wins over file")
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 10, cfg.Events.MaxEventsPerFamily)
	assert.False(t, cfg.Events.EnableRecurrence)
	assert.True(t, cfg.Events.AllowCrossUserEvents)
	assert.Equal(t, "famevents.db", cfg.DBPath, "unset keys keep defaults")
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"event cap too high", map[string]string{"FAMEVENTS_MAX_EVENTS_PER_FAMILY": "101"}, "MaxEventsPerFamily"},
		{"event cap zero", map[string]string{"FAMEVENTS_MAX_EVENTS_PER_FAMILY": "0"}, "MaxEventsPerFamily"},
		{"cap not a number", map[string]string{"FAMEVENTS_MAX_EVENTS_PER_FAMILY": "lots"}, "MAX_EVENTS_PER_FAMILY"},
		{"bad bool", map[string]string{"FAMEVENTS_ENABLE_RECURRENCE": "maybe"}, "ENABLE_RECURRENCE"},
		{"bad log format", map[string]string{"FAMEVENTS_LOG_FORMAT": "xml"}, "LogFormat"},
		{"bad cron", map[string]string{"FAMEVENTS_SYNC_SCHEDULE": "every now and then"}, "SyncSchedule"},
		{"bad ttl", map[string]string{"FAMEVENTS_TOKEN_TTL": "forever"}, "TOKEN_TTL"},
		{"bad broker", map[string]string{"FAMEVENTS_KAFKA_BROKERS": "not a broker"}, "KafkaBrokers"},
		{"backup schedule without passphrase", map[string]string{"FAMEVENTS_BACKUP_SCHEDULE": "@daily", "FAMEVENTS_BACKUP_PASSPHRASE": ""}, "Passphrase"},
		{"bad backup cron", map[string]string{"FAMEVENTS_BACKUP_SCHEDULE": "nightly", "FAMEVENTS_BACKUP_PASSPHRASE": "pw"}, "Schedule"},
		{"bad retention", map[string]string{"FAMEVENTS_BACKUP_RETENTION": "a while"}, "BACKUP_RETENTION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FAMEVENTS_CONFIG", "")
			t.Setenv("FAMEVENTS_JWT_SECRET", secret)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadEmptyScheduleDisablesSync(t *testing.T) {
	t.Setenv("FAMEVENTS_CONFIG", "")
	t.Setenv("FAMEVENTS_JWT_SECRET", secret)
	t.Setenv("FAMEVENTS_SYNC_SCHEDULE", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.SyncSchedule)
}

func TestLoadBackupSection(t *testing.T) {
	path := writeFile(t, "famevents.yaml", `
backup:
  dir: /var/lib/famevents/backups
  passphrase: hunter2
  schedule: "0 3 * * *"
  retention: 168h
  s3:
    bucket: family-backups
    accessKey: AKIA
    secretKey: shh
`)
	t.Setenv("FAMEVENTS_JWT_SECRET", secret)
	t.Setenv("FAMEVENTS_BACKUP_S3_PREFIX", "prod/")

	cfg, err := Load(path)
	require.NoError(t, err)

	m := cfg.Backup.Manager()
	assert.Equal(t, "/var/lib/famevents/backups", m.Dir)
	assert.Equal(t, "hunter2", m.Passphrase)
	assert.Equal(t, 7*24*time.Hour, m.Retention)
	assert.Equal(t, "prod/", m.S3.Prefix)
	assert.Equal(t, "us-east-1", m.S3.Region, "unset keys keep defaults")
	assert.True(t, m.S3.Enabled())
	assert.Equal(t, "0 3 * * *", cfg.Backup.Schedule)
}

func TestLoadDotEnv(t *testing.T) {
	const key = "FAMEVENTS_DOTENV_TEST_KEY"
	path := writeFile(t, ".env", key+"=from-file\n")
	t.Cleanup(func() { os.Unsetenv(key) })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv(key))

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}
