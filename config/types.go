package config

// Log controls the structured log sink.
type Log struct {
	Level      string `toml:"Level"`
	File       string `toml:"File,omitempty"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Oracle selects and tunes the price feeds behind the tier adapter. Primary
// and Backup name a feed kind: "manual", "coingecko" or "chainlink".
type Oracle struct {
	FeedID   string `toml:"FeedID"`
	MaxAge   string `toml:"MaxAge"`
	CacheTTL string `toml:"CacheTTL"`
	Primary  string `toml:"Primary"`
	Backup   string `toml:"Backup,omitempty"`

	ManualPrice    string `toml:"ManualPrice,omitempty"`
	ManualDecimals uint8  `toml:"ManualDecimals"`

	CoinGeckoEndpoint  string            `toml:"CoinGeckoEndpoint,omitempty"`
	CoinGeckoAPIKeyEnv string            `toml:"CoinGeckoAPIKeyEnv,omitempty"`
	CoinGeckoIDs       map[string]string `toml:"CoinGeckoIDs,omitempty"`

	ChainlinkRPC       string            `toml:"ChainlinkRPC,omitempty"`
	ChainlinkContracts map[string]string `toml:"ChainlinkContracts,omitempty"`
}

// Yield points the engine at an HTTP yield venue. An empty Endpoint leaves the
// engine without a strategy.
type Yield struct {
	Endpoint         string `toml:"Endpoint,omitempty"`
	SigningSecretEnv string `toml:"SigningSecretEnv,omitempty"`
	MaxAttempts      int    `toml:"MaxAttempts"`
	MinBackoff       string `toml:"MinBackoff"`
	MaxBackoff       string `toml:"MaxBackoff"`
	RequestTimeout   string `toml:"RequestTimeout"`
}

// API configures the HTTP query and admin surface.
type API struct {
	ListenAddress     string   `toml:"ListenAddress"`
	MetricsAddress    string   `toml:"MetricsAddress"`
	JWTSecretEnv      string   `toml:"JWTSecretEnv"`
	JWTIssuer         string   `toml:"JWTIssuer"`
	RateLimitPerSec   float64  `toml:"RateLimitPerSec"`
	RateLimitBurst    int      `toml:"RateLimitBurst"`
	ReadHeaderTimeout string   `toml:"ReadHeaderTimeout"`
	AllowedOrigins    []string `toml:"AllowedOrigins,omitempty"`
}

// Journal selects the event journal backend. An empty Driver disables it.
type Journal struct {
	Driver string `toml:"Driver,omitempty"`
	DSN    string `toml:"DSN,omitempty"`
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint,omitempty"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers,omitempty"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// FeeConverter points fee settlement at the external swap service.
type FeeConverter struct {
	Endpoint string `toml:"Endpoint,omitempty"`
	Account  string `toml:"Account,omitempty"`
}

// Webhook forwards operator alerts to an HTTP endpoint. An empty Endpoint
// disables it; an empty Topics list selects the default alert set.
type Webhook struct {
	Endpoint    string   `toml:"Endpoint,omitempty"`
	SecretEnv   string   `toml:"SecretEnv,omitempty"`
	Topics      []string `toml:"Topics,omitempty"`
	MaxAttempts int      `toml:"MaxAttempts"`
}
