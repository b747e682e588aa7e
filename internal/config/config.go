package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all scribed environment variables.
const EnvPrefix = "SCRIBE_"

// Config holds all service configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	ObjectDir  string `yaml:"object_dir"`

	// Batch-fallback backlog policy: flush when either threshold is crossed.
	BacklogFlushBytes    int    `yaml:"backlog_flush_bytes"`
	BacklogFlushInterval string `yaml:"backlog_flush_interval"`

	// Orphan sweep.
	OrphanAge     string `yaml:"orphan_age"`
	SweepInterval string `yaml:"sweep_interval"`

	// Transcript segment retention.
	SegmentRetention string `yaml:"segment_retention"`

	// ASR models: the medical model is tried first in the batch path, the
	// general model is the one-shot retry fallback.
	MedicalModel string `yaml:"medical_model"`
	GeneralModel string `yaml:"general_model"`
	SampleRate   int    `yaml:"sample_rate"`

	NoteModel string `yaml:"note_model"`

	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets — env vars only, never serialized to YAML.
	DeepgramAPIKey string `yaml:"-"`
	OpenAIAPIKey   string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:            ":8080",
		DBPath:                "data/scribe.db",
		ObjectDir:             "data/objects",
		BacklogFlushBytes:     128 * 1024,
		BacklogFlushInterval:  "5s",
		OrphanAge:             "10m",
		SweepInterval:         "1m",
		SegmentRetention:      "4320h",
		MedicalModel:          "nova-2-medical",
		GeneralModel:          "nova-2",
		SampleRate:            16000,
		NoteModel:             "gpt-4o-mini",
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedBacklogFlushInterval returns BacklogFlushInterval as a time.Duration,
// falling back to 5s if the value is invalid.
func (c *Config) ParsedBacklogFlushInterval() time.Duration {
	return parseDurationOr(c.BacklogFlushInterval, 5*time.Second)
}

// ParsedOrphanAge returns OrphanAge as a time.Duration, falling back to 10m.
func (c *Config) ParsedOrphanAge() time.Duration {
	return parseDurationOr(c.OrphanAge, 10*time.Minute)
}

// ParsedSweepInterval returns SweepInterval as a time.Duration, falling back to 1m.
func (c *Config) ParsedSweepInterval() time.Duration {
	return parseDurationOr(c.SweepInterval, time.Minute)
}

// ParsedSegmentRetention returns SegmentRetention as a time.Duration,
// falling back to 180 days.
func (c *Config) ParsedSegmentRetention() time.Duration {
	return parseDurationOr(c.SegmentRetention, 4320*time.Hour)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "OBJECT_DIR"); v != "" {
		cfg.ObjectDir = v
	}
	if v := os.Getenv(EnvPrefix + "BACKLOG_FLUSH_BYTES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.BacklogFlushBytes = n
		}
	}
	if v := os.Getenv(EnvPrefix + "BACKLOG_FLUSH_INTERVAL"); v != "" {
		cfg.BacklogFlushInterval = v
	}
	if v := os.Getenv(EnvPrefix + "ORPHAN_AGE"); v != "" {
		cfg.OrphanAge = v
	}
	if v := os.Getenv(EnvPrefix + "SWEEP_INTERVAL"); v != "" {
		cfg.SweepInterval = v
	}
	if v := os.Getenv(EnvPrefix + "SEGMENT_RETENTION"); v != "" {
		cfg.SegmentRetention = v
	}
	if v := os.Getenv(EnvPrefix + "MEDICAL_MODEL"); v != "" {
		cfg.MedicalModel = v
	}
	if v := os.Getenv(EnvPrefix + "GENERAL_MODEL"); v != "" {
		cfg.GeneralModel = v
	}
	if v := os.Getenv(EnvPrefix + "SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.SampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "NOTE_MODEL"); v != "" {
		cfg.NoteModel = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured — transcription is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	if cfg.OpenAIAPIKey == "" {
		warnings = append(warnings, "OpenAI API key not configured — visit notes are disabled. Set "+EnvPrefix+"OPENAI_API_KEY.")
	}
	for _, field := range []struct{ name, value string }{
		{"backlog_flush_interval", cfg.BacklogFlushInterval},
		{"orphan_age", cfg.OrphanAge},
		{"sweep_interval", cfg.SweepInterval},
		{"segment_retention", cfg.SegmentRetention},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q — using the default.", field.name, field.value))
		}
	}

	return warnings
}
