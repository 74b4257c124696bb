package config

// defaultYAML returns the built-in configuration, used when synchub.yaml is
// missing or omits a section. The realtime and replay values mirror the
// recommended operational envelope: 30s pings with a 60s idle cutoff, and a
// 200-event / 5-minute replay window.
func defaultYAML() yamlConfig {
	return yamlConfig{
		Server: serverYAML{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Realtime: realtimeYAML{
			PingInterval:  "30s",
			IdleTimeout:   "60s",
			WriteTimeout:  "10s",
			SendQueueSize: 64,
		},
		Replay: replayYAML{
			MaxEvents: 200,
			MaxAge:    "5m",
		},
		Tracker: trackerYAML{
			StallTimeout:      "5m",
			RetainTerminal:    "10m",
			SweepInterval:     "30s",
			ArchivePurgeAfter: "720h", // 30 days
		},
	}
}
