package verification

import "errors"

var (
	// ErrAlreadyActive is returned when a user who already has a verification
	// in progress tries to start another one
	ErrAlreadyActive = errors.New("verification already in progress for this user")

	// ErrInvalidEmailFormat is returned when the email attempt bound is
	// exhausted without a well-formed address
	ErrInvalidEmailFormat = errors.New("invalid email address format")

	// ErrEmailNotAllowed is returned when the address is well-formed but
	// outside the configured allowed domain
	ErrEmailNotAllowed = errors.New("email domain not allowed")

	// ErrCodeMismatch is returned when the code attempt bound is exhausted
	// without a matching code
	ErrCodeMismatch = errors.New("verification code did not match")

	// ErrEmailDeliveryFailed is returned when the verification email could
	// not be delivered
	ErrEmailDeliveryFailed = errors.New("failed to deliver verification email")

	// ErrRoleNotFound is returned when the configured role does not exist in
	// the guild
	ErrRoleNotFound = errors.New("verified role not found in guild")

	// ErrRoleGrantFailed is returned when the role grant call is rejected
	ErrRoleGrantFailed = errors.New("failed to grant verified role")

	// ErrDMUnreachable is returned when the user cannot be reached over DM,
	// usually because their privacy settings block bot messages
	ErrDMUnreachable = errors.New("user unreachable over direct message")

	// ErrSessionExpired is returned when no reply arrives before the
	// deadline of the current step
	ErrSessionExpired = errors.New("verification session expired")
)
