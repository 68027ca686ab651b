package config

import "encoding/json"

const redacted = "[REDACTED]"

// SensitiveString holds secrets that must never be printed or serialized.
type SensitiveString string

func (s SensitiveString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s SensitiveString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Value returns the raw secret.
func (s SensitiveString) Value() string {
	return string(s)
}
