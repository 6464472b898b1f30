package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Safety.SolanaFMAPIKey)
	redact(&out.Safety.VerdictAPIKey)

	redact(&out.Relay.APIKey)
	redact(&out.Relay.APISecret)
	redact(&out.Relay.SecretPassword)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so mutations to the redacted copy do not reach the
	// original.
	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	out.Server.CORSOrigins = cloneStrings(cfg.Server.CORSOrigins)
	out.Scanner.Fallback = cloneStrings(cfg.Scanner.Fallback)
	if cfg.Safety.EventThresholds != nil {
		out.Safety.EventThresholds = make(map[string]float64, len(cfg.Safety.EventThresholds))
		for k, v := range cfg.Safety.EventThresholds {
			out.Safety.EventThresholds[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
