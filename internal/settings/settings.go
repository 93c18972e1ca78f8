// Package settings holds the user facing knobs shared by the web UI and the bot.
package settings

import (
	"fmt"
	"net/url"
	"strconv"
)

// Ranges accepted from the UI sliders.
const (
	MinBlur       = 10
	MaxBlur       = 100
	MinConfidence = 0.1
	MaxConfidence = 1.0
)

// Settings is what a user can tune per request or per chat.
type Settings struct {
	Blur       int     `json:"blur"`
	Confidence float64 `json:"confidence"`
	// Model is 0 for short range (close faces) and 1 for full range.
	Model int `json:"model"`
}

// Default returns the initial slider positions.
func Default() Settings {
	return Settings{Blur: 30, Confidence: 0.5, Model: 0}
}

// Validate checks every field against the slider ranges.
func (s Settings) Validate() error {
	if err := ValidateBlur(s.Blur); err != nil {
		return err
	}
	if err := ValidateConfidence(s.Confidence); err != nil {
		return err
	}
	return ValidateModel(s.Model)
}

func ValidateBlur(v int) error {
	if v < MinBlur || v > MaxBlur {
		return fmt.Errorf("blur must be between %d and %d, got %d", MinBlur, MaxBlur, v)
	}
	return nil
}

func ValidateConfidence(v float64) error {
	if v < MinConfidence || v > MaxConfidence {
		return fmt.Errorf("confidence must be between %.1f and %.1f, got %g", MinConfidence, MaxConfidence, v)
	}
	return nil
}

func ValidateModel(v int) error {
	if v != 0 && v != 1 {
		return fmt.Errorf("model must be 0 (short range) or 1 (full range), got %d", v)
	}
	return nil
}

// FromQuery reads blur, confidence and model from q, keeping the defaults for
// missing keys.
func FromQuery(q url.Values) (Settings, error) {
	s := Default()
	if v := q.Get("blur"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return s, fmt.Errorf("invalid blur %q", v)
		}
		s.Blur = n
	}
	if v := q.Get("confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return s, fmt.Errorf("invalid confidence %q", v)
		}
		s.Confidence = f
	}
	if v := q.Get("model"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return s, fmt.Errorf("invalid model %q", v)
		}
		s.Model = n
	}
	return s, s.Validate()
}
