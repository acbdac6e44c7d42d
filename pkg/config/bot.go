package config

import "fmt"

// BotConfig identifies the bot and where it operates.
type BotConfig struct {
	Token           string `env:"DISCORD_BOT_TOKEN"`
	GuildID         string `env:"DISCORD_GUILD_ID"`
	VerifyChannelID string `env:"DISCORD_VERIFY_CHANNEL_ID"`
	VerifiedRole    string `env:"DISCORD_VERIFIED_ROLE" env-default:"verified"`
	Trigger         string `env:"VERIFY_TRIGGER" env-default:"[verify]"`
}

// Validate checks the fields that have no sane default.
func (c BotConfig) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	if c.GuildID == "" {
		return fmt.Errorf("DISCORD_GUILD_ID is required")
	}
	if c.VerifyChannelID == "" {
		return fmt.Errorf("DISCORD_VERIFY_CHANNEL_ID is required")
	}
	return nil
}
