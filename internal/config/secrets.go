package config

// RedactedConfig returns a copy of cfg with credentials replaced by the
// placeholder "***". Use it when logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Venues.Kalshi.ApiKey)
	redact(&out.Venues.Kalshi.Password)
	redact(&out.Venues.Opinion.ApiKey)
	redact(&out.Redis.Password)
	redact(&out.Server.APIKey)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.Session.DefaultVenues != nil {
		out.Session.DefaultVenues = append([]string(nil), cfg.Session.DefaultVenues...)
	}
	if cfg.Fees != nil {
		out.Fees = make(map[string]FeeConfig, len(cfg.Fees))
		for k, v := range cfg.Fees {
			out.Fees[k] = v
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
