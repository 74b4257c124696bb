package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file the loader looks for in the config
// directory.
const FileName = "synchub.yaml"

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load synchub.yaml from configDir (missing file → built-in defaults)
//  2. Expand environment variables
//  3. Merge user values over the built-in defaults
//  4. Parse duration strings
//  5. Validate all configuration
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	raw := defaultYAML()

	user, found, err := loadYAML(filepath.Join(configDir, FileName))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if found {
		if err := mergo.Merge(&raw, user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
	} else {
		log.Info("No configuration file found, using built-in defaults", "file", FileName)
	}

	cfg, err := resolve(raw)
	if err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"replay_max_events", cfg.Replay.MaxEvents,
		"replay_max_age", cfg.Replay.MaxAge,
		"task_stall_timeout", cfg.Tracker.StallTimeout)
	return cfg, nil
}

// loadYAML reads and parses one config file; found is false when the file
// does not exist.
func loadYAML(path string) (yamlConfig, bool, error) {
	var out yamlConfig

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, false, nil
		}
		return out, false, err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, &out); err != nil {
		return out, false, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return out, true, nil
}

// resolve turns the YAML shape into the runtime Config, parsing durations.
func resolve(raw yamlConfig) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:             raw.Server.Host,
			Port:             raw.Server.Port,
			AllowedWSOrigins: raw.Server.AllowedWSOrigins,
		},
		Realtime: RealtimeConfig{SendQueueSize: raw.Realtime.SendQueueSize},
		Replay:   ReplayConfig{MaxEvents: raw.Replay.MaxEvents},
	}

	fields := []struct {
		section string
		field   string
		value   string
		dst     *time.Duration
	}{
		{"realtime", "ping_interval", raw.Realtime.PingInterval, &cfg.Realtime.PingInterval},
		{"realtime", "idle_timeout", raw.Realtime.IdleTimeout, &cfg.Realtime.IdleTimeout},
		{"realtime", "write_timeout", raw.Realtime.WriteTimeout, &cfg.Realtime.WriteTimeout},
		{"replay", "max_age", raw.Replay.MaxAge, &cfg.Replay.MaxAge},
		{"tracker", "stall_timeout", raw.Tracker.StallTimeout, &cfg.Tracker.StallTimeout},
		{"tracker", "retain_terminal", raw.Tracker.RetainTerminal, &cfg.Tracker.RetainTerminal},
		{"tracker", "sweep_interval", raw.Tracker.SweepInterval, &cfg.Tracker.SweepInterval},
		{"tracker", "archive_purge_after", raw.Tracker.ArchivePurgeAfter, &cfg.Tracker.ArchivePurgeAfter},
	}
	for _, f := range fields {
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return nil, &ValidationError{Section: f.section, Field: f.field,
				Err: fmt.Errorf("%w: %q is not a duration", ErrInvalidValue, f.value)}
		}
		*f.dst = d
	}

	return cfg, nil
}
