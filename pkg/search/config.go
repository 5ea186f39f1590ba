package search

import "time"

// config is the daemon's tunable knobs, decoded from a
// map[string]interface{} the way every other pluggable component in
// this module is configured.
type config struct {
	RefreshDebounceSeconds float64 `mapstructure:"refresh_debounce_seconds"`
	RefreshEnabled         bool    `mapstructure:"refresh_enabled"`
	MaxLatencySamples      int     `mapstructure:"max_latency_samples"`
	RRFK                   int     `mapstructure:"rrf_k"`
}

func defaultConfig() *config {
	return &config{
		RefreshDebounceSeconds: 5.0,
		RefreshEnabled:         true,
		MaxLatencySamples:      1000,
		RRFK:                   60,
	}
}

func (c *config) debounce() time.Duration {
	return time.Duration(c.RefreshDebounceSeconds * float64(time.Second))
}
