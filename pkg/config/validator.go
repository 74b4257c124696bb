package config

import (
	"fmt"
)

// validate performs range and consistency checks on resolved configuration.
func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return &ValidationError{Section: "server", Field: "port",
			Err: fmt.Errorf("%w: %d is out of range", ErrInvalidValue, cfg.Server.Port)}
	}

	if cfg.Realtime.PingInterval <= 0 {
		return &ValidationError{Section: "realtime", Field: "ping_interval",
			Err: fmt.Errorf("%w: must be positive", ErrInvalidValue)}
	}
	if cfg.Realtime.IdleTimeout <= cfg.Realtime.PingInterval {
		return &ValidationError{Section: "realtime", Field: "idle_timeout",
			Err: fmt.Errorf("%w: must exceed ping_interval, otherwise every connection is reaped before its first ping", ErrInvalidValue)}
	}
	if cfg.Realtime.WriteTimeout <= 0 {
		return &ValidationError{Section: "realtime", Field: "write_timeout",
			Err: fmt.Errorf("%w: must be positive", ErrInvalidValue)}
	}
	if cfg.Realtime.SendQueueSize < 1 {
		return &ValidationError{Section: "realtime", Field: "send_queue_size",
			Err: fmt.Errorf("%w: must be at least 1", ErrInvalidValue)}
	}

	if cfg.Replay.MaxEvents < 1 {
		return &ValidationError{Section: "replay", Field: "max_events",
			Err: fmt.Errorf("%w: must be at least 1", ErrInvalidValue)}
	}
	if cfg.Replay.MaxAge <= 0 {
		return &ValidationError{Section: "replay", Field: "max_age",
			Err: fmt.Errorf("%w: must be positive", ErrInvalidValue)}
	}

	if cfg.Tracker.StallTimeout <= 0 {
		return &ValidationError{Section: "tracker", Field: "stall_timeout",
			Err: fmt.Errorf("%w: must be positive", ErrInvalidValue)}
	}
	if cfg.Tracker.SweepInterval <= 0 {
		return &ValidationError{Section: "tracker", Field: "sweep_interval",
			Err: fmt.Errorf("%w: must be positive", ErrInvalidValue)}
	}
	if cfg.Tracker.RetainTerminal <= 0 {
		return &ValidationError{Section: "tracker", Field: "retain_terminal",
			Err: fmt.Errorf("%w: must be positive", ErrInvalidValue)}
	}

	return nil
}
