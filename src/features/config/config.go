package config

// Config holds the application configuration.
type Config struct {
	ArtifactsPath string        `yaml:"artifactsPath" validate:"required"`
	Telegram      Telegram      `yaml:"telegram"`
	Logger        Logger        `yaml:"logger"`
	Server        Server        `yaml:"server"`
	Database      Database      `yaml:"database"`
	Clients       Clients       `yaml:"clients"`
	Pipeline      Pipeline      `yaml:"pipeline"`
	Reconcile     Reconcile     `yaml:"reconcile"`
	Webhooks      WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig fires a shell command on a track reaching a terminal state.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	Command string `yaml:"command"`
}

// Database holds the configuration for the database.
type Database struct {
	Path string `yaml:"path" validate:"required"`
}

// Server holds the configuration for the Fiber admin/status server.
type Server struct {
	PrintRoutes bool   `yaml:"show_routes"`
	Port        uint32 `yaml:"port"`
}

// Logger holds the configuration for the app logging.
type Logger struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// Telegram holds the configuration for the admin notification bot.
type Telegram struct {
	Enabled      bool     `yaml:"enabled"`
	Token        string   `yaml:"token"`
	AllowedUsers []string `yaml:"allowedUsers"`
	BotHandle    string   `yaml:"bot_handle"`
}

// Clients holds per-external-service configuration: base URL, API token,
// and the per-call timeout budget.
type Clients struct {
	AudioSource     ClientConfig `yaml:"audioSource"`
	ModelHost       ClientConfig `yaml:"modelHost"`
	ReferenceLyrics ClientConfig `yaml:"referenceLyrics"`
	Generative      ClientConfig `yaml:"generative"`
}

// ClientConfig configures one outbound HTTP client.
type ClientConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Token   string `yaml:"token,omitempty"`
	Timeout string `yaml:"timeout"` // parsed with time.ParseDuration
}

// Pipeline controls stage-level behavior and worker concurrency.
type Pipeline struct {
	MaxConcurrentWorkers int    `yaml:"maxConcurrentWorkers"`
	CompressTargetKbps   int    `yaml:"compressTargetKbps"`
	LogDir               string `yaml:"logDir"`
}

// Reconcile controls the startup resume pass: both the initial delay and
// the inter-spawn stagger are configurable, not hardcoded constants.
type Reconcile struct {
	StartupDelay string `yaml:"startupDelay"`
	SpawnStagger string `yaml:"spawnStagger"`
}
