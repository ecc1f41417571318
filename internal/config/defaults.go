package config

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Workspace:   "default",
		Environment: EnvProduction,
		Server: ServerConfig{
			Port:    8787,
			DataDir: ".driftwatch",
		},
		Thresholds: ThresholdConfig{
			Notify:          0.60,
			RiskyNotify:     0.70,
			SearchMinScore:  0.55,
			SnoozeSweepMins: 15,
		},
		Correlation: CorrelationConfig{
			WindowHours: 48,
		},
		Accumulator: AccumulatorConfig{
			WindowDays:           7,
			CountThreshold:       5,
			MaterialityThreshold: 1.5,
		},
		Lock: LockConfig{
			TTLSeconds:         30,
			FailOpenOnStoreErr: true,
		},
		Queue: QueueConfig{
			MaxAttempts: 3,
		},
		Slack: SlackConfig{
			DefaultChannel: "#docs-drift",
			DigestHour:     9,
		},
		OpenAI: OpenAIConfig{
			Model:          "gpt-4o",
			EmbeddingModel: "text-embedding-3-small",
		},
		Retention: RetentionConfig{
			AuditPayloadDays: 90,
		},
	}
}
