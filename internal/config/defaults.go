package config

const (
	DefaultAPIBase     = "https://api.gupshup.io"
	DefaultWebhookPath = "/webhook/whatsapp"
)

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:            "info",
			SessionSweepMinutes: 60,
			HealthProbeSeconds:  300,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		WhatsApp: ChannelConfig{
			Enabled:       true,
			APIBase:       DefaultAPIBase,
			WebhookPath:   DefaultWebhookPath,
			AccessPolicy:  "open",
			SendTimeoutMs: 30000,
			SendAttempts:  3,
		},
		Gateway: GatewayConfig{
			ForwardTimeoutMs: 10000,
			SendPath:         "/api/v1/send",
			QueueSize:        100,
		},
		Store: StoreConfig{
			Enabled:       true,
			DBPath:        "~/.wabridge/events.db",
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
