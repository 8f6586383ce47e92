package config

import (
	"fmt"
	"strings"
)

// InvalidValue records one rejected configuration value and why.
type InvalidValue struct {
	Key    string
	Value  string
	Reason string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Missing []string
	Invalid []InvalidValue
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Missing) > 0 || len(e.Invalid) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	if len(e.Missing) > 0 {
		sb.WriteString("\nMissing required settings:\n")
		for _, key := range e.Missing {
			sb.WriteString(fmt.Sprintf("  - %s\n", key))
		}
	}

	if len(e.Invalid) > 0 {
		sb.WriteString("\nInvalid settings:\n")
		for _, iv := range e.Invalid {
			sb.WriteString(fmt.Sprintf("  - %s = %q (%s)\n", iv.Key, iv.Value, iv.Reason))
		}
	}

	return sb.String()
}

// Validate checks the loaded configuration before the daemon starts.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if c.Betradar.AccessToken == "" {
		errs.Missing = append(errs.Missing, "betradar.access_token (set BETRADAR_ACCESS_TOKEN env var)")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs.Invalid = append(errs.Invalid, InvalidValue{
			Key:    "server.port",
			Value:  fmt.Sprintf("%d", c.Server.Port),
			Reason: "must be between 1 and 65535",
		})
	}
	if c.Feed.Port < 1 || c.Feed.Port > 65535 {
		errs.Invalid = append(errs.Invalid, InvalidValue{
			Key:    "feed.port",
			Value:  fmt.Sprintf("%d", c.Feed.Port),
			Reason: "must be between 1 and 65535",
		})
	}
	if c.Betradar.TimeoutSec < 1 {
		errs.Invalid = append(errs.Invalid, InvalidValue{
			Key:    "betradar.timeout_sec",
			Value:  fmt.Sprintf("%d", c.Betradar.TimeoutSec),
			Reason: "must be >= 1",
		})
	}
	if c.Storage.Path == "" {
		errs.Missing = append(errs.Missing, "storage.path")
	}
	if !ValidLogLevels[c.Logging.Level] {
		errs.Invalid = append(errs.Invalid, InvalidValue{
			Key:    "logging.level",
			Value:  c.Logging.Level,
			Reason: "must be one of debug, info, warn, error",
		})
	}
	if !ValidLogFormats[c.Logging.Format] {
		errs.Invalid = append(errs.Invalid, InvalidValue{
			Key:    "logging.format",
			Value:  c.Logging.Format,
			Reason: "must be json or console",
		})
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
