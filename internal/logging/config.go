package logging

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "TELEINFO_LOG_LEVEL"
	EnvLogTimestamp = "TELEINFO_LOG_TIMESTAMP"
	EnvLogNoColor   = "TELEINFO_LOG_NOCOLOR"
	EnvLogFile      = "TELEINFO_LOG_FILE"
)

const DefaultLogFile = "/var/log/teleinfo/releve.log"

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config selects where and how much the process logs.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	// File is the line-oriented log file. Empty logs to stderr.
	File string
}

var (
	configureOnce sync.Once
	logFile       *os.File
)

func ConfigureRuntime(file, level string) error {
	cfg := defaultConfig(ProfileRuntime)
	cfg.File = file
	if lvl, ok := ParseLevel(level); ok {
		cfg.Level = lvl
	}
	var err error
	configureOnce.Do(func() {
		applyEnvOverrides(&cfg)
		err = apply(cfg)
	})
	return err
}

func ConfigureTests() {
	configureOnce.Do(func() {
		cfg := defaultConfig(ProfileTest)
		applyEnvOverrides(&cfg)
		_ = apply(cfg)
	})
}

// Close releases the log file opened by ConfigureRuntime.
func Close() error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

func defaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Timestamp: false}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true, File: DefaultLogFile}
	}
}

func apply(cfg Config) error {
	var out io.Writer
	if strings.TrimSpace(cfg.File) == "" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339, NoColor: cfg.NoColor}
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		logFile = f
		out = f
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(cfg.Level)
	ctx := zerolog.New(out).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	log.Logger = ctx.Str("app", "teleinfo").Logger()
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v, ok := os.LookupEnv(EnvLogFile); ok {
		cfg.File = strings.TrimSpace(v)
	}
}

func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
