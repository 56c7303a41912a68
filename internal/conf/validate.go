// conf/validate.go

package conf

import (
	"fmt"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateBirdNETSettings(&settings.BirdNET); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateRealtimeSettings(&settings.Realtime); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateOutputSettings(&settings.Output); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateBirdNETSettings validates the classifier specific settings
func validateBirdNETSettings(settings *BirdNETSettings) error {
	var errs []string

	if settings.Sensitivity < 0.1 || settings.Sensitivity > 1.5 {
		errs = append(errs, fmt.Sprintf("sensitivity must be between 0.1 and 1.5, got %.2f", settings.Sensitivity))
	}
	if settings.Threshold < 0.0 || settings.Threshold > 1.0 {
		errs = append(errs, fmt.Sprintf("threshold must be between 0.0 and 1.0, got %.2f", settings.Threshold))
	}
	if settings.Overlap < 0.0 || settings.Overlap > 2.9 {
		errs = append(errs, fmt.Sprintf("overlap must be between 0.0 and 2.9 seconds, got %.2f", settings.Overlap))
	}
	if settings.Threads < 0 {
		errs = append(errs, fmt.Sprintf("threads must be 0 or positive, got %d", settings.Threads))
	}
	if settings.MaxConsecutiveFails < 1 {
		errs = append(errs, fmt.Sprintf("maxconsecutivefails must be at least 1, got %d", settings.MaxConsecutiveFails))
	}

	if len(errs) > 0 {
		return fmt.Errorf("birdnet settings errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// validateRealtimeSettings validates the realtime pipeline settings
func validateRealtimeSettings(settings *RealtimeSettings) error {
	var errs []string

	if settings.Audio.BufferSeconds < CaptureLength {
		errs = append(errs, fmt.Sprintf("audio buffer must hold at least %d seconds, got %d", CaptureLength, settings.Audio.BufferSeconds))
	}
	if settings.Audio.Export.Enabled && settings.Audio.Export.Type != "wav" {
		errs = append(errs, fmt.Sprintf("unsupported audio export type %q, only wav is supported", settings.Audio.Export.Type))
	}
	if settings.Cooldown.Interval < 0 {
		errs = append(errs, fmt.Sprintf("cooldown interval must be 0 or positive, got %d", settings.Cooldown.Interval))
	}
	switch settings.Cooldown.Reset {
	case CooldownResetFirstAccept, CooldownResetSliding:
	default:
		errs = append(errs, fmt.Sprintf("cooldown reset must be %q or %q, got %q",
			CooldownResetFirstAccept, CooldownResetSliding, settings.Cooldown.Reset))
	}
	if settings.EventBus.SubscriberQueue < 1 {
		errs = append(errs, fmt.Sprintf("eventbus subscriber queue must be at least 1, got %d", settings.EventBus.SubscriberQueue))
	}
	if settings.EventBus.ReplaySize < 0 {
		errs = append(errs, fmt.Sprintf("eventbus replay size must be 0 or positive, got %d", settings.EventBus.ReplaySize))
	}
	for species, threshold := range settings.Species.Threshold {
		if threshold < 0.0 || threshold > 1.0 {
			errs = append(errs, fmt.Sprintf("species threshold for %q must be between 0.0 and 1.0, got %.2f", species, threshold))
		}
	}
	if settings.MQTT.Enabled && settings.MQTT.Broker == "" {
		errs = append(errs, "mqtt enabled but no broker configured")
	}

	if len(errs) > 0 {
		return fmt.Errorf("realtime settings errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// validateOutputSettings validates the detection persistence settings
func validateOutputSettings(settings *OutputSettings) error {
	var errs []string

	if !settings.SQLite.Enabled && !settings.MySQL.Enabled {
		errs = append(errs, "no output database enabled, enable sqlite or mysql")
	}
	if settings.SQLite.Enabled && settings.SQLite.Path == "" {
		errs = append(errs, "sqlite enabled but no database path configured")
	}
	if settings.MySQL.Enabled && settings.MySQL.Host == "" {
		errs = append(errs, "mysql enabled but no host configured")
	}

	if len(errs) > 0 {
		return fmt.Errorf("output settings errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
