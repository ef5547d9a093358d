package config

var defaultConfig = Config{
	ArtifactsPath: "./artifacts",
	Telegram: Telegram{
		Enabled:      false,
		Token:        "", // Can be obtained with https://t.me/BotFather
		AllowedUsers: []string{"<your_telegram_username>"},
		BotHandle:    "@<YourTelegramUserBot>",
	},
	Logger: Logger{
		Enabled: true,
		Level:   "info",
		Format:  "text",
	},
	Server: Server{
		PrintRoutes: false,
		Port:        3636,
	},
	Database: Database{
		Path: "./karaopipe.db",
	},
	Clients: Clients{
		AudioSource: ClientConfig{
			BaseURL: "https://api.deezer.com",
			Timeout: "30s",
		},
		ModelHost: ClientConfig{
			BaseURL: "https://api.replicate.com/v1",
			Timeout: "10m",
		},
		ReferenceLyrics: ClientConfig{
			BaseURL: "https://lrclib.net/api",
			Timeout: "10s",
		},
		Generative: ClientConfig{
			BaseURL: "",
			Timeout: "2m",
		},
	},
	Pipeline: Pipeline{
		MaxConcurrentWorkers: 4,
		CompressTargetKbps:   128,
		LogDir:               "./logs/pipeline",
	},
	Reconcile: Reconcile{
		StartupDelay: "5s",
		SpawnStagger: "2s",
	},
	Webhooks: WebhookConfig{
		Enabled: false,
		Command: "",
	},
}
