// Package verification drives per-user email verification conversations
// for the rolegate bot.
//
// A conversation is a short-lived, time-bounded state machine: the bot asks
// the user for an email address over DM, mails a one-shot 6-character code to
// that address, asks for the code back, and grants the configured role on a
// match. Every step is bounded by an attempt count and a deadline, and many
// users can be mid-conversation at once without blocking each other.
//
// # Overview
//
// The verification package provides:
//   - Session: the per-user conversation state (one active per user)
//   - Store: in-memory session tracking enforcing at-most-one-in-flight
//   - GenerateCode: cryptographically secure code generation
//   - Service: the state machine runner wired to chat and mail collaborators
//
// # Basic Usage
//
//	store := verification.NewStore()
//	service := verification.NewService(
//		store,
//		messenger,
//		roles,
//		notificationManager,
//		guildID, channelID, "verified",
//		verification.WithPolicy(policy),
//	)
//
//	// Start a conversation when the trigger arrives
//	err := service.Begin(ctx, userID)
//
//	// Route inbound DM replies into the active conversation
//	service.HandleReply(userID, text)
//
// Sessions live only in memory. A restart discards all in-flight
// conversations; users simply trigger verification again.
package verification
