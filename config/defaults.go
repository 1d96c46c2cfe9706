// Package config: default configuration values.
package config

import "time"

// DefaultConfig returns a Config populated with the engine's defaults.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Engine:    DefaultEngineConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Secrets:   DefaultSecretsConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default eventstream server config.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Enabled:         false,
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultEngineConfig returns the Coordinator/Controller defaults,
// matching the values coordinator.DefaultDuration and
// coordinator.DefaultTeardownTimeout fall back to.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TickInterval:         time.Second,
		TeardownTimeout:      300 * time.Second,
		DefaultAgentDuration: 3 * time.Second,
		ReportDir:            "./ychaos-reports",
		ContribDir:           "",
	}
}

// DefaultRedisConfig returns the default Redis client config.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig returns the default SQL store config.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "ychaos",
		Password:        "",
		Name:            "ychaos.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultSecretsConfig returns the default secrets resolver config: only
// the env resolver enabled, matching the source's "env is the only
// built-in resolver" design note.
func DefaultSecretsConfig() SecretsConfig {
	return SecretsConfig{
		EnableEnv:      true,
		EnableRedis:    false,
		RedisKeyPrefix: "ychaos/secrets/",
	}
}

// DefaultLogConfig returns the default zap logger config.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default OpenTelemetry config.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "ychaos",
		SampleRate:   0.1,
	}
}
