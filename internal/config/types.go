package config

import "time"

// Defaults. The webhook URL points at the Cloudflare worker that manages
// spot VMs; the API key has no default and must always be supplied.
const (
	DefaultWebhookURL        = "https://azure-vm-manager.mastercraftapps.workers.dev/webhook"
	DefaultCheckInterval     = 5 * time.Second
	DefaultHeartbeatInterval = 300 * time.Second
	DefaultLogFile           = "spot_monitor.log"
)

// Config is the resolved agent configuration, built once at startup and
// passed into the components; nothing reads configuration at runtime.
type Config struct {
	// WebhookURL receives the notification POSTs. HTTPS is required
	// unless AllowInsecure is set.
	WebhookURL string

	// APIKey authenticates against the webhook. Required.
	APIKey string

	CheckInterval     time.Duration
	HeartbeatInterval time.Duration

	// MetadataEndpoint overrides the link-local IMDS address, used in
	// development and tests. Empty means the real service.
	MetadataEndpoint string

	// LogFile mirrors console logs to a local file. Empty disables the
	// file sink.
	LogFile string

	// OpsAddr serves /healthz, /readyz and /metrics when non-empty.
	OpsAddr string

	// NATSURL enables publishing detected events to NATS when non-empty.
	NATSURL string

	// DedupTTL expires processed-event entries after this long. Zero
	// keeps them for the process lifetime.
	DedupTTL time.Duration

	// AllowInsecure permits a plain-http webhook URL, for development.
	AllowInsecure bool
}
