package voice

import (
	"errors"
	"fmt"
)

// Config is the detection configuration snapshot. Snapshots are immutable
// once installed; UpdateConfig swaps in a fresh copy atomically so the
// processing loop never observes a partially updated value.
type Config struct {
	WakePhrases    []string `json:"wakePhrases"`
	Sensitivity    float64  `json:"sensitivity"`
	MinConfidence  float64  `json:"minConfidence"`
	TimeoutSeconds float64  `json:"timeoutSeconds"`
	Language       string   `json:"language"`
}

// DefaultConfig mirrors the stock assistant configuration.
func DefaultConfig() Config {
	return Config{
		WakePhrases:    []string{"hey jarvis", "jarvis", "salut jarvis", "bonjour jarvis"},
		Sensitivity:    0.7,
		MinConfidence:  0.6,
		TimeoutSeconds: 5.0,
		Language:       "fr",
	}
}

// ConfigUpdate carries partial configuration changes; nil fields are left
// untouched.
type ConfigUpdate struct {
	WakePhrases    []string `json:"wakePhrases,omitempty"`
	Sensitivity    *float64 `json:"sensitivity,omitempty"`
	MinConfidence  *float64 `json:"minConfidence,omitempty"`
	TimeoutSeconds *float64 `json:"timeoutSeconds,omitempty"`
	Language       *string  `json:"language,omitempty"`
}

// ValidationError reports a rejected configuration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// apply validates the update against the allowed ranges and returns a new
// snapshot. The receiver is not modified.
func (c Config) apply(u ConfigUpdate) (Config, error) {
	out := c
	out.WakePhrases = append([]string(nil), c.WakePhrases...)

	if u.Sensitivity != nil {
		if *u.Sensitivity < 0 || *u.Sensitivity > 1 {
			return Config{}, &ValidationError{Field: "sensitivity", Reason: "must be between 0.0 and 1.0"}
		}
		out.Sensitivity = *u.Sensitivity
	}
	if u.MinConfidence != nil {
		if *u.MinConfidence < 0 || *u.MinConfidence > 1 {
			return Config{}, &ValidationError{Field: "minConfidence", Reason: "must be between 0.0 and 1.0"}
		}
		out.MinConfidence = *u.MinConfidence
	}
	if u.TimeoutSeconds != nil {
		if *u.TimeoutSeconds < 1 || *u.TimeoutSeconds > 30 {
			return Config{}, &ValidationError{Field: "timeoutSeconds", Reason: "must be between 1 and 30 seconds"}
		}
		out.TimeoutSeconds = *u.TimeoutSeconds
	}
	if u.WakePhrases != nil {
		phrases := make([]string, 0, len(u.WakePhrases))
		for _, p := range u.WakePhrases {
			if p != "" {
				phrases = append(phrases, p)
			}
		}
		if len(phrases) == 0 {
			return Config{}, &ValidationError{Field: "wakePhrases", Reason: "at least one non-empty phrase required"}
		}
		out.WakePhrases = phrases
	}
	if u.Language != nil {
		if *u.Language == "" {
			return Config{}, &ValidationError{Field: "language", Reason: "must not be empty"}
		}
		out.Language = *u.Language
	}
	return out, nil
}
