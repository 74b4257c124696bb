// Package config loads and validates synchub.yaml, the single configuration
// file for the synchronization service. Values the file omits fall back to
// built-in defaults; environment variables are expanded with {{.VAR}}
// template syntax before parsing.
package config

import (
	"time"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Server   ServerConfig
	Realtime RealtimeConfig
	Replay   ReplayConfig
	Tracker  TrackerConfig
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Host             string
	Port             int
	AllowedWSOrigins []string
}

// RealtimeConfig bounds per-connection behavior in the hub.
type RealtimeConfig struct {
	PingInterval  time.Duration
	IdleTimeout   time.Duration
	WriteTimeout  time.Duration
	SendQueueSize int
}

// ReplayConfig bounds per-topic event retention.
type ReplayConfig struct {
	MaxEvents int
	MaxAge    time.Duration
}

// TrackerConfig bounds task housekeeping.
type TrackerConfig struct {
	StallTimeout      time.Duration
	RetainTerminal    time.Duration
	SweepInterval     time.Duration
	ArchivePurgeAfter time.Duration
}

// yamlConfig is the synchub.yaml file structure. Durations are strings
// ("30s", "5m") parsed during resolution.
type yamlConfig struct {
	Server   serverYAML   `yaml:"server"`
	Realtime realtimeYAML `yaml:"realtime"`
	Replay   replayYAML   `yaml:"replay"`
	Tracker  trackerYAML  `yaml:"tracker"`
}

type serverYAML struct {
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

type realtimeYAML struct {
	PingInterval  string `yaml:"ping_interval"`
	IdleTimeout   string `yaml:"idle_timeout"`
	WriteTimeout  string `yaml:"write_timeout"`
	SendQueueSize int    `yaml:"send_queue_size"`
}

type replayYAML struct {
	MaxEvents int    `yaml:"max_events"`
	MaxAge    string `yaml:"max_age"`
}

type trackerYAML struct {
	StallTimeout      string `yaml:"stall_timeout"`
	RetainTerminal    string `yaml:"retain_terminal"`
	SweepInterval     string `yaml:"sweep_interval"`
	ArchivePurgeAfter string `yaml:"archive_purge_after"`
}
