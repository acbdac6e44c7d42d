package config

import "time"

// TriggerLimitConfig throttles how often one user can fire the
// verification trigger.
type TriggerLimitConfig struct {
	Burst     int           `env:"TRIGGER_LIMIT_BURST" env-default:"3"`
	PerMinute float64       `env:"TRIGGER_LIMIT_PER_MINUTE" env-default:"2"`
	BucketTTL time.Duration `env:"TRIGGER_LIMIT_BUCKET_TTL" env-default:"1h"`
}

// OpsLimitConfig throttles the ops HTTP API per client IP.
type OpsLimitConfig struct {
	Burst     int           `env:"OPS_LIMIT_BURST" env-default:"20"`
	PerMinute float64       `env:"OPS_LIMIT_PER_MINUTE" env-default:"60"`
	BucketTTL time.Duration `env:"OPS_LIMIT_BUCKET_TTL" env-default:"1h"`
}
