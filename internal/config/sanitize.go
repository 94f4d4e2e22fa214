package config

const redacted = "***"

// Sanitize returns a deep copy with secrets masked, for display.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	if out.Transports.Gateway.Token != "" {
		out.Transports.Gateway.Token = redacted
	}
	if out.Transports.Telegram.Token != "" {
		out.Transports.Telegram.Token = redacted
	}
	return &out
}
