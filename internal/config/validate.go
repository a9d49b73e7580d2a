package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	for _, ep := range []struct {
		field string
		value string
	}{
		{"GEOCODER_URL", cfg.GeocoderURL},
		{"SCORER_URL", cfg.ScorerURL},
		{"NOTIFIER_URL", cfg.NotifierURL},
	} {
		if ep.value == "" {
			errs = append(errs, ValidationError{
				Field:   ep.field,
				Message: "required",
			})
			continue
		}
		if err := validateHTTPURL(ep.value); err != nil {
			errs = append(errs, ValidationError{
				Field:   ep.field,
				Message: err.Error(),
			})
		}
	}

	// SWEEP_SCHEDULE must be a valid 5-field cron expression
	if cfg.SweepSchedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(cfg.SweepSchedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "SWEEP_SCHEDULE",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	if cfg.SweepTimezone != "" {
		if _, err := time.LoadLocation(cfg.SweepTimezone); err != nil {
			errs = append(errs, ValidationError{
				Field:   "SWEEP_TIMEZONE",
				Message: fmt.Sprintf("invalid timezone: %v", err),
			})
		}
	}

	// SWEEP_THRESHOLD must be a valid positive duration
	if cfg.SweepThresholdStr != "" {
		d, err := time.ParseDuration(cfg.SweepThresholdStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "SWEEP_THRESHOLD",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "SWEEP_THRESHOLD",
				Message: "must be positive",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
