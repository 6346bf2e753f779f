package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. It is loaded once at startup and never
// mutated afterwards; the control loop keeps its own copy of the live target.
//
// The primary format is the classic "key = value" file at
// /etc/kbd-backlight-daemon.conf. A path ending in .yaml/.yml is decoded as YAML
// using the same key names.
type Config struct {
	BrightnessPath    string `yaml:"brightness_path"`
	MaxBrightnessPath string `yaml:"max_brightness_path"`

	TimeoutSec     int `yaml:"timeout"`
	FadeSteps      int `yaml:"fade_steps"`
	FadeIntervalMS int `yaml:"fade_interval_ms"`

	// TargetBrightness < 0 means "derive from the hardware at startup".
	TargetBrightness int `yaml:"target_brightness"`
	DimBrightness    int `yaml:"dim_brightness"`

	InputDir     string `yaml:"input_dir"`
	Hotplug      bool   `yaml:"hotplug"`
	ActivePollMS int    `yaml:"active_poll_ms"`
	IdlePollMS   int    `yaml:"idle_poll_ms"`

	WriteMethod   string `yaml:"write_method"`
	LogindSession string `yaml:"logind_session"`

	StatusListen string `yaml:"status_listen"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		BrightnessPath:    defaultBrightnessPath,
		MaxBrightnessPath: defaultMaxBrightnessPath,
		TimeoutSec:        defaultTimeoutSec,
		FadeSteps:         defaultFadeSteps,
		FadeIntervalMS:    defaultFadeIntervalMS,
		TargetBrightness:  targetFromHardware,
		DimBrightness:     defaultDimBrightness,
		InputDir:          defaultInputDir,
		Hotplug:           true,
		ActivePollMS:      defaultActivePollMS,
		IdlePollMS:        defaultIdlePollMS,
		WriteMethod:       writeMethodSysfs,
		LogindSession:     defaultLogindSession,
		LogLevel:          string(LogLevelInfo),
	}
}

// Timeout returns the inactivity timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// FadeInterval returns the delay between fade steps.
func (c Config) FadeInterval() time.Duration {
	return time.Duration(c.FadeIntervalMS) * time.Millisecond
}

// ActivePoll returns the wait timeout used while the backlight is on.
func (c Config) ActivePoll() time.Duration {
	return time.Duration(c.ActivePollMS) * time.Millisecond
}

// IdlePoll returns the wait timeout used while dimmed or user-disabled.
func (c Config) IdlePoll() time.Duration {
	return time.Duration(c.IdlePollMS) * time.Millisecond
}

// configPath resolves the config file location ($KBD_BACKLIGHT_CONFIG wins).
func configPath() string {
	if p := os.Getenv(configPathEnv); p != "" {
		return p
	}
	return defaultConfigPath
}

// LoadConfig reads the configuration at path on top of DefaultConfig.
//
// A missing file is not an error: defaults apply. In the key=value format a
// malformed line, a bad value or an unknown key is logged and skipped. The YAML
// variant is strict (unknown fields are rejected) and validated as a whole.
func LoadConfig(path string, logger *slog.Logger) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("config file not found, using defaults", "path", path)
			return cfg, nil
		}
		logger.Warn("config file unreadable, using defaults", "path", path, "error", err)
		return cfg, nil
	}

	logger.Info("loading config", "path", path)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := decodeYAMLConfig(b, &cfg); err != nil {
			return Config{}, err
		}
		if err := cfg.Validate(); err != nil {
			return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
		}
	default:
		parseKeyValueConfig(bytes.NewReader(b), &cfg, logger)
	}

	return cfg, nil
}

func decodeYAMLConfig(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty document: keep defaults.
			return nil
		}
		return fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config yaml: unexpected trailing document")
	}
	return nil
}

// parseKeyValueConfig applies "key = value" lines from r onto cfg.
// Lines starting with '#' and blank lines are ignored; key and value are trimmed.
func parseKeyValueConfig(r io.Reader, cfg *Config, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			logger.Warn("ignoring malformed config line", "line", lineNo)
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		known, err := applyConfigValue(cfg, key, value)
		if err != nil {
			logger.Warn("ignoring config line", "line", lineNo, "key", key, "error", err)
			continue
		}
		if !known {
			logger.Debug("ignoring unknown config key", "line", lineNo, "key", key)
			continue
		}
		logger.Debug("config", "key", key, "value", value)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("config read stopped early", "line", lineNo, "error", err)
	}
}

// applyConfigValue sets one key on cfg. It reports whether the key is known.
// Out-of-range values are rejected so the previous (default) value survives.
func applyConfigValue(cfg *Config, key, value string) (bool, error) {
	switch key {
	case "brightness_path":
		if value == "" {
			return true, errors.New("empty path")
		}
		cfg.BrightnessPath = value
	case "max_brightness_path":
		if value == "" {
			return true, errors.New("empty path")
		}
		cfg.MaxBrightnessPath = value
	case "timeout":
		return true, setInt(&cfg.TimeoutSec, value, 0)
	case "fade_steps":
		return true, setInt(&cfg.FadeSteps, value, 1)
	case "fade_interval_ms":
		return true, setInt(&cfg.FadeIntervalMS, value, 0)
	case "target_brightness":
		n, err := strconv.Atoi(value)
		if err != nil {
			return true, fmt.Errorf("not an integer: %q", value)
		}
		if n < 0 {
			n = targetFromHardware
		}
		cfg.TargetBrightness = n
	case "dim_brightness":
		return true, setInt(&cfg.DimBrightness, value, 0)
	case "input_dir":
		if value == "" {
			return true, errors.New("empty path")
		}
		cfg.InputDir = value
	case "hotplug":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return true, fmt.Errorf("not a boolean: %q", value)
		}
		cfg.Hotplug = b
	case "active_poll_ms":
		return true, setInt(&cfg.ActivePollMS, value, 1)
	case "idle_poll_ms":
		return true, setInt(&cfg.IdlePollMS, value, 1)
	case "write_method":
		if err := validateWriteMethod(value); err != nil {
			return true, err
		}
		cfg.WriteMethod = value
	case "logind_session":
		cfg.LogindSession = value
	case "status_listen":
		cfg.StatusListen = value
	case "log_level":
		if _, err := parseLogLevel(value); err != nil {
			return true, err
		}
		cfg.LogLevel = value
	case "log_file":
		cfg.LogFile = value
	default:
		return false, nil
	}
	return true, nil
}

func setInt(dst *int, value string, lo int) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("not an integer: %q", value)
	}
	if n < lo {
		return fmt.Errorf("must be >= %d, got %d", lo, n)
	}
	*dst = n
	return nil
}

func validateWriteMethod(m string) error {
	switch m {
	case writeMethodSysfs, writeMethodLogind:
		return nil
	default:
		return fmt.Errorf("write_method must be %q or %q", writeMethodSysfs, writeMethodLogind)
	}
}

// Validate checks config invariants and returns a user-friendly error.
func (c *Config) Validate() error {
	if c.BrightnessPath == "" {
		return errors.New("brightness_path must not be empty")
	}
	if c.MaxBrightnessPath == "" {
		return errors.New("max_brightness_path must not be empty")
	}
	if c.TimeoutSec < 0 {
		return errors.New("timeout must be >= 0")
	}
	if c.FadeSteps <= 0 {
		return errors.New("fade_steps must be > 0")
	}
	if c.FadeIntervalMS < 0 {
		return errors.New("fade_interval_ms must be >= 0")
	}
	if c.TargetBrightness < 0 {
		c.TargetBrightness = targetFromHardware
	}
	if c.DimBrightness < 0 {
		return errors.New("dim_brightness must be >= 0")
	}
	if c.InputDir == "" {
		return errors.New("input_dir must not be empty")
	}
	if c.ActivePollMS <= 0 || c.IdlePollMS <= 0 {
		return errors.New("active_poll_ms and idle_poll_ms must be > 0")
	}
	if err := validateWriteMethod(c.WriteMethod); err != nil {
		return err
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
