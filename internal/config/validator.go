package config

import (
	"fmt"

	"github.com/rconsole-project/rconsole/internal/rcon"
)

// ValidationIssue describes a single configuration problem.
type ValidationIssue struct {
	Field   string
	Message string
}

// ValidationResult aggregates errors and warnings from Validate.
type ValidationResult struct {
	Errors   []ValidationIssue
	Warnings []ValidationIssue
}

// IsValid reports whether the configuration has no hard errors.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Validate checks the configuration for problems. Errors prevent startup,
// warnings are logged and startup continues.
func Validate(c *Config) ValidationResult {
	var result ValidationResult

	seen := make(map[string]bool)
	for i, p := range c.GetProfiles() {
		field := fmt.Sprintf("profiles[%d]", i)

		if p.Name == "" {
			result.Errors = append(result.Errors, ValidationIssue{
				Field: field, Message: "profile name must not be empty",
			})
		} else if seen[p.Name] {
			result.Errors = append(result.Errors, ValidationIssue{
				Field: field, Message: fmt.Sprintf("duplicate profile name %q", p.Name),
			})
		}
		seen[p.Name] = true

		if p.Host == "" {
			result.Errors = append(result.Errors, ValidationIssue{
				Field: field, Message: fmt.Sprintf("profile %q has no host", p.Name),
			})
		}

		switch p.Protocol {
		case "", string(rcon.ProtocolSource), string(rcon.ProtocolBattlEye):
		default:
			result.Errors = append(result.Errors, ValidationIssue{
				Field:   field,
				Message: fmt.Sprintf("profile %q has unknown protocol %q", p.Name, p.Protocol),
			})
		}

		if p.Password == "" {
			result.Warnings = append(result.Warnings, ValidationIssue{
				Field:   field,
				Message: fmt.Sprintf("profile %q has an empty password", p.Name),
			})
		}
		if p.TimeoutMS < 0 {
			result.Errors = append(result.Errors, ValidationIssue{
				Field: field, Message: fmt.Sprintf("profile %q has negative timeout", p.Name),
			})
		}
	}

	app := c.GetApplicationData()
	if app.API.Enabled && (app.API.Port <= 0 || app.API.Port > 65535) {
		result.Errors = append(result.Errors, ValidationIssue{
			Field: "api.port", Message: fmt.Sprintf("invalid API port %d", app.API.Port),
		})
	}
	if app.API.Enabled && app.API.Token == "" {
		result.Warnings = append(result.Warnings, ValidationIssue{
			Field: "api.token", Message: "API runs without bearer authentication",
		})
	}
	if app.MQTT.Enabled && app.MQTT.BrokerURL == "" {
		result.Errors = append(result.Errors, ValidationIssue{
			Field: "mqtt.broker_url", Message: "MQTT is enabled but no broker URL is set",
		})
	}
	if app.History.RetentionDays < 0 {
		result.Errors = append(result.Errors, ValidationIssue{
			Field: "history.retention_days", Message: "retention must not be negative",
		})
	}

	return result
}
