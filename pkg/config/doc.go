// Package config holds the environment-driven configuration for the
// rolegate bot, one file per concern.
//
// All configuration is loaded once at startup from environment variables
// via cleanenv-tagged structs; nothing in the core packages reads the
// environment directly.
package config
