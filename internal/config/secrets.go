package config

const redacted = "***"

// RedactedConfig returns a copy of cfg safe to log: secrets are masked and
// slices are copied so the result shares nothing mutable with cfg.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Chain.PrivateKey)
	redact(&out.Chain.KeyPassword)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Server.AdminKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Notify.WebhookSecret)

	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Marketplace.Seed = append([]SeedAsset(nil), cfg.Marketplace.Seed...)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
