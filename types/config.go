package types

// AppConfig represents the application configuration loaded from config file
type AppConfig struct {
	Alias              string  `yaml:"alias"`
	RepoRoot           string  `yaml:"repo_root"`            // published repository, staging dirs live beside it
	AppsDir            string  `yaml:"apps_dir"`             // catalog of installed applications, one dir per app id
	ShareHost          string  `yaml:"share_host,omitempty"` // empty: first non-loopback IPv4
	SharePort          int     `yaml:"share_port"`
	BluetoothProxyPort int     `yaml:"bluetooth_proxy_port"`
	ControlPort        int     `yaml:"control_port"`
	IdleTimeoutSeconds int     `yaml:"idle_timeout_seconds"`
	DiscoverableSecs   int     `yaml:"discoverable_seconds"`
	ShowNfcDuringSwap  bool    `yaml:"show_nfc_during_swap"`
	NfcAvailable       bool    `yaml:"nfc_available"`
	HistoryDB          string  `yaml:"history_db,omitempty"`
	NatsURL            string  `yaml:"nats_url,omitempty"`
	NatsSubject        string  `yaml:"nats_subject,omitempty"`
	NotifySocket       string  `yaml:"notify_socket,omitempty"`
	ShareRateLimit     float64 `yaml:"share_rate_limit,omitempty"` // requests per second, 0 disables
	ShareRateBurst     int     `yaml:"share_rate_burst,omitempty"`
}
