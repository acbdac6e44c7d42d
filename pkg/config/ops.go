package config

// OpsConfig locates the operational HTTP API.
type OpsConfig struct {
	Host string `env:"OPS_HOST" env-default:"localhost"`
	Port uint16 `env:"OPS_PORT" env-default:"8080"`
}
