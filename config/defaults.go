package config

import "time"

// =============================================================================
// 📦 默认配置
// =============================================================================

// DefaultConfig 返回带默认值的配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    300 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Bedrock: BedrockConfig{
			Region:      "us-east-1",
			ModelID:     DefaultModelID,
			Temperature: 0.7,
			MaxTokens:   2048,
			Timeout:     60 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:   3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Timeout:      120 * time.Second,
			Jitter:       true,
		},
		Cache: CacheConfig{
			Enabled:      true,
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
			RedisTTL:     1 * time.Hour,
			UseRedis:     false,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
		},
		Auth: AuthConfig{
			Enabled:        false,
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Log: LogConfig{
			Level:            "info",
			Format:           "json",
			OutputPaths:      []string{"stdout"},
			EnableCaller:     true,
			EnableStacktrace: false,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "llmgate",
			SampleRate:   1.0,
		},
	}
}
