package config

// Environment distinguishes deployment environments. Retry pacing and
// sweep cadence differ between them.
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvDevelopment Environment = "development"
)

// Config is the top-level driftwatch configuration, corresponding to
// .driftwatch.yml.
type Config struct {
	Workspace   string      `yaml:"workspace" koanf:"workspace"`
	Environment Environment `yaml:"environment" koanf:"environment"`

	Server      ServerConfig      `yaml:"server" koanf:"server"`
	Thresholds  ThresholdConfig   `yaml:"thresholds" koanf:"thresholds"`
	Correlation CorrelationConfig `yaml:"correlation" koanf:"correlation"`
	Accumulator AccumulatorConfig `yaml:"accumulator" koanf:"accumulator"`
	Lock        LockConfig        `yaml:"lock" koanf:"lock"`
	Queue       QueueConfig       `yaml:"queue" koanf:"queue"`
	Webhooks    WebhookConfig     `yaml:"webhooks" koanf:"webhooks"`
	Slack       SlackConfig       `yaml:"slack" koanf:"slack"`
	OpenAI      OpenAIConfig      `yaml:"openai" koanf:"openai"`
	Confluence  ConfluenceConfig  `yaml:"confluence" koanf:"confluence"`
	Retention   RetentionConfig   `yaml:"retention" koanf:"retention"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port    int    `yaml:"port" koanf:"port"`
	DataDir string `yaml:"data_dir" koanf:"data_dir"`
}

// ThresholdConfig controls when a drift is worth a notification.
type ThresholdConfig struct {
	Notify          float64 `yaml:"notify" koanf:"notify"`
	RiskyNotify     float64 `yaml:"risky_notify" koanf:"risky_notify"`
	SearchMinScore  float64 `yaml:"search_min_score" koanf:"search_min_score"`
	SnoozeSweepMins int     `yaml:"snooze_sweep_mins" koanf:"snooze_sweep_mins"`
}

// CorrelationConfig controls the cross-signal join window.
type CorrelationConfig struct {
	WindowHours int `yaml:"window_hours" koanf:"window_hours"`
}

// AccumulatorConfig controls bundling of small related drifts.
type AccumulatorConfig struct {
	WindowDays           int     `yaml:"window_days" koanf:"window_days"`
	CountThreshold       int     `yaml:"count_threshold" koanf:"count_threshold"`
	MaterialityThreshold float64 `yaml:"materiality_threshold" koanf:"materiality_threshold"`
}

// LockConfig controls the per-drift processing lease.
type LockConfig struct {
	TTLSeconds         int  `yaml:"ttl_seconds" koanf:"ttl_seconds"`
	FailOpenOnStoreErr bool `yaml:"fail_open_on_store_error" koanf:"fail_open_on_store_error"`
}

// QueueConfig controls job retry behavior.
type QueueConfig struct {
	MaxAttempts int `yaml:"max_attempts" koanf:"max_attempts"`
}

// WebhookConfig holds the shared secrets used to verify inbound
// webhook signatures. Empty secret disables verification for that
// source.
type WebhookConfig struct {
	GitHubSecret    string `yaml:"github_secret" koanf:"github_secret"`
	PagerDutySecret string `yaml:"pagerduty_secret" koanf:"pagerduty_secret"`
	DatadogSecret   string `yaml:"datadog_secret" koanf:"datadog_secret"`
}

// SlackConfig holds Slack notification settings.
type SlackConfig struct {
	WebhookURL     string `yaml:"webhook_url" koanf:"webhook_url"`
	SigningSecret  string `yaml:"signing_secret" koanf:"signing_secret"`
	DefaultChannel string `yaml:"default_channel" koanf:"default_channel"`
	DigestHour     int    `yaml:"digest_hour" koanf:"digest_hour"`
}

// OpenAIConfig selects the models used for patch generation and doc
// search embeddings. The API key comes from OPENAI_API_KEY.
type OpenAIConfig struct {
	Model          string `yaml:"model" koanf:"model"`
	EmbeddingModel string `yaml:"embedding_model" koanf:"embedding_model"`
}

// ConfluenceConfig holds the Confluence connection settings. The API
// token comes from CONFLUENCE_API_TOKEN.
type ConfluenceConfig struct {
	BaseURL  string `yaml:"base_url" koanf:"base_url"`
	Username string `yaml:"username" koanf:"username"`
}

// RetentionConfig controls audit payload redaction.
type RetentionConfig struct {
	AuditPayloadDays int `yaml:"audit_payload_days" koanf:"audit_payload_days"`
}
