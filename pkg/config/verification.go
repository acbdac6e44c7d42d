package config

import "time"

// VerificationConfig bounds the verification conversation. Field names
// line up with verification.Policy so the two can be mapped directly.
type VerificationConfig struct {
	EmailAttempts int           `env:"VERIFY_EMAIL_ATTEMPTS" env-default:"3"`
	CodeAttempts  int           `env:"VERIFY_CODE_ATTEMPTS" env-default:"3"`
	EmailTimeout  time.Duration `env:"VERIFY_EMAIL_TIMEOUT" env-default:"2m"`
	CodeTimeout   time.Duration `env:"VERIFY_CODE_TIMEOUT" env-default:"2m"`

	// AllowedDomain restricts verifiable addresses to a domain suffix when
	// set, e.g. "example.edu". Empty accepts any domain.
	AllowedDomain string `env:"VERIFY_ALLOWED_DOMAIN"`
}
