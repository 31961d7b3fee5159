package core

import "time"

// EngineConfig holds runtime configuration for a test engine.
type EngineConfig struct {
	PoolSize         int // number of warm environments kept ready
	MemoryLimitMB    int // per-environment memory limit
	ExecutionTimeout int // milliseconds before a run is interrupted
	MaxFetchRequests int // max outbound fetches per run
	FetchTimeoutSec  int // per-fetch timeout in seconds
	MaxResponseBytes int // max response body size

	// LongTimeoutFactor multiplies ExecutionTimeout for files that declare
	// META: timeout=long.
	LongTimeoutFactor int
}

// Defaults returns a copy of cfg with zero fields set to their defaults.
func (cfg EngineConfig) Defaults() EngineConfig {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 2
	}
	if cfg.MemoryLimitMB <= 0 {
		cfg.MemoryLimitMB = 256
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 10000
	}
	if cfg.MaxFetchRequests <= 0 {
		cfg.MaxFetchRequests = 500
	}
	if cfg.FetchTimeoutSec <= 0 {
		cfg.FetchTimeoutSec = 30
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 32 * 1024 * 1024
	}
	if cfg.LongTimeoutFactor <= 0 {
		cfg.LongTimeoutFactor = 6
	}
	return cfg
}

// Timeout returns the execution limit for a run, extended for long tests.
func (cfg EngineConfig) Timeout(long bool) time.Duration {
	d := time.Duration(cfg.ExecutionTimeout) * time.Millisecond
	if long && cfg.LongTimeoutFactor > 1 {
		d *= time.Duration(cfg.LongTimeoutFactor)
	}
	return d
}
