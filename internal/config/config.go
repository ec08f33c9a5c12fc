// Package config loads famevents settings from defaults, an optional YAML
// file, a .env file and FAMEVENTS_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/dukerupert/famevents/internal/backup"
	"github.com/dukerupert/famevents/internal/event"
)

const envPrefix = "FAMEVENTS_"

// Events is the plugin section controlling event creation rules.
type Events struct {
	MaxEventsPerFamily   int  `yaml:"maxEventsPerFamily" validate:"gte=1,lte=100"`
	EnableRecurrence     bool `yaml:"enableRecurrence"`
	AllowCrossUserEvents bool `yaml:"allowCrossUserEvents"`
}

// Policy converts the section into the rules the event service enforces.
func (e Events) Policy() event.Policy {
	return event.Policy{
		MaxEventsPerFamily:   e.MaxEventsPerFamily,
		EnableRecurrence:     e.EnableRecurrence,
		AllowCrossUserEvents: e.AllowCrossUserEvents,
	}
}

// Backup controls encrypted database snapshots.
type Backup struct {
	Dir        string `yaml:"dir" validate:"required"`
	Passphrase string `yaml:"passphrase" validate:"required_with=Schedule"`
	// Schedule is a cron spec. Empty disables scheduled backups.
	Schedule  string          `yaml:"schedule" validate:"omitempty,cronspec"`
	Retention time.Duration   `yaml:"retention" validate:"gte=0"`
	S3        backup.S3Config `yaml:"s3"`
}

// Manager converts the section into the snapshot manager's settings.
func (b Backup) Manager() backup.Config {
	return backup.Config{Dir: b.Dir, Passphrase: b.Passphrase, Retention: b.Retention, S3: b.S3}
}

type Config struct {
	Port      string `yaml:"port" validate:"required,numeric"`
	DBPath    string `yaml:"dbPath" validate:"required"`
	LogLevel  string `yaml:"logLevel" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"logFormat" validate:"oneof=text json"`

	JWTSecret string        `yaml:"jwtSecret" validate:"required,min=16"`
	JWTIssuer string        `yaml:"jwtIssuer" validate:"required"`
	TokenTTL  time.Duration `yaml:"tokenTTL" validate:"gt=0"`

	// WriteRateLimit is the number of write requests a user may make per minute.
	WriteRateLimit int `yaml:"writeRateLimit" validate:"gte=1"`

	RedisURL     string   `yaml:"redisURL" validate:"omitempty,url"`
	RedisChannel string   `yaml:"redisChannel" validate:"required_with=RedisURL"`
	KafkaBrokers []string `yaml:"kafkaBrokers" validate:"dive,hostname_port"`
	KafkaTopic   string   `yaml:"kafkaTopic" validate:"required_with=KafkaBrokers"`

	// SyncSchedule is a cron spec for calendar.sync notifications. Empty
	// disables the job.
	SyncSchedule string `yaml:"syncSchedule" validate:"omitempty,cronspec"`

	Events Events `yaml:"events"`
	Backup Backup `yaml:"backup"`
}

// Default returns the built-in settings. JWTSecret has no default.
func Default() Config {
	return Config{
		Port:           "8080",
		DBPath:         "famevents.db",
		LogLevel:       "info",
		LogFormat:      "text",
		JWTIssuer:      "famevents",
		TokenTTL:       24 * time.Hour,
		WriteRateLimit: 60,
		RedisChannel:   "famevents:notifications",
		KafkaTopic:     "famevents.notifications",
		SyncSchedule:   "@hourly",
		Events: Events{
			MaxEventsPerFamily:   50,
			EnableRecurrence:     true,
			AllowCrossUserEvents: false,
		},
		Backup: Backup{
			Dir:       "backups",
			Retention: 30 * 24 * time.Hour,
			S3:        backup.S3Config{Region: "us-east-1"},
		},
	}
}

// LoadDotEnv loads the given .env files (default ".env") into the process
// environment without overriding variables already set. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds the configuration. path names an optional YAML file; when
// empty, FAMEVENTS_CONFIG is consulted.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("cronspec", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks cfg and reports every failing field.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	str("PORT", &cfg.Port)
	str("DB_PATH", &cfg.DBPath)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("JWT_SECRET", &cfg.JWTSecret)
	str("JWT_ISSUER", &cfg.JWTIssuer)
	str("REDIS_URL", &cfg.RedisURL)
	str("REDIS_CHANNEL", &cfg.RedisChannel)
	str("KAFKA_TOPIC", &cfg.KafkaTopic)
	str("SYNC_SCHEDULE", &cfg.SyncSchedule)
	str("BACKUP_DIR", &cfg.Backup.Dir)
	str("BACKUP_PASSPHRASE", &cfg.Backup.Passphrase)
	str("BACKUP_SCHEDULE", &cfg.Backup.Schedule)
	str("BACKUP_S3_ENDPOINT", &cfg.Backup.S3.Endpoint)
	str("BACKUP_S3_BUCKET", &cfg.Backup.S3.Bucket)
	str("BACKUP_S3_REGION", &cfg.Backup.S3.Region)
	str("BACKUP_S3_ACCESS_KEY", &cfg.Backup.S3.AccessKey)
	str("BACKUP_S3_SECRET_KEY", &cfg.Backup.S3.SecretKey)
	str("BACKUP_S3_PREFIX", &cfg.Backup.S3.Prefix)

	if v, ok := os.LookupEnv(envPrefix + "KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	durations := map[string]*time.Duration{
		"TOKEN_TTL":        &cfg.TokenTTL,
		"BACKUP_RETENTION": &cfg.Backup.Retention,
	}
	for key, dst := range durations {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"WRITE_RATE_LIMIT":      &cfg.WriteRateLimit,
		"MAX_EVENTS_PER_FAMILY": &cfg.Events.MaxEventsPerFamily,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"ENABLE_RECURRENCE":       &cfg.Events.EnableRecurrence,
		"ALLOW_CROSS_USER_EVENTS": &cfg.Events.AllowCrossUserEvents,
	}
	for key, dst := range bools {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = b
		}
	}
	return nil
}
