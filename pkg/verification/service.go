package verification

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rolegate/rolegate/pkg/notification"
)

// Messenger is the chat-platform surface the state machine talks through.
type Messenger interface {
	// SendDM delivers a direct message to the user. A failure usually means
	// the user has DMs disabled.
	SendDM(ctx context.Context, userID, text string) error

	// PostToChannel posts a message to a guild channel.
	PostToChannel(ctx context.Context, channelID, text string) error
}

// RoleGranter resolves and assigns guild roles.
type RoleGranter interface {
	// FindRole resolves a role name to a role ID within the guild. It
	// returns ErrRoleNotFound when no role carries that name.
	FindRole(ctx context.Context, guildID, roleName string) (string, error)

	// GrantRole assigns the role to the user.
	GrantRole(ctx context.Context, guildID, userID, roleID string) error
}

// Policy bounds a verification conversation: how many malformed inputs are
// tolerated at each step and how long each step may wait for a reply.
type Policy struct {
	EmailAttempts int
	CodeAttempts  int
	EmailTimeout  time.Duration
	CodeTimeout   time.Duration

	// AllowedDomain restricts accepted addresses to a domain suffix when
	// non-empty (e.g. "example.com"). Empty accepts any domain.
	AllowedDomain string
}

const (
	defaultEmailAttempts = 3
	defaultCodeAttempts  = 3
	defaultStepTimeout   = 2 * time.Minute
)

// emailRegex matches an email-shaped string. Deliverability is proven by the
// code round-trip, not by parsing.
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Counts holds cumulative terminal outcomes since process start.
type Counts struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Expired   int64 `json:"expired"`
}

// Service runs verification conversations. Each Begin call spawns one
// goroutine that drives a single user's session to a terminal state.
type Service struct {
	store     *Store
	messenger Messenger
	roles     RoleGranter
	notifier  *notification.NotificationManager

	guildID   string
	channelID string
	roleName  string
	policy    Policy

	completed atomic.Int64
	failed    atomic.Int64
	expired   atomic.Int64

	wg sync.WaitGroup
}

// ServiceOption defines configuration options for the Service.
type ServiceOption func(*Service)

// WithPolicy replaces the whole conversation policy. Zero fields fall back
// to defaults.
func WithPolicy(policy Policy) ServiceOption {
	return func(s *Service) {
		if policy.EmailAttempts > 0 {
			s.policy.EmailAttempts = policy.EmailAttempts
		}
		if policy.CodeAttempts > 0 {
			s.policy.CodeAttempts = policy.CodeAttempts
		}
		if policy.EmailTimeout > 0 {
			s.policy.EmailTimeout = policy.EmailTimeout
		}
		if policy.CodeTimeout > 0 {
			s.policy.CodeTimeout = policy.CodeTimeout
		}
		s.policy.AllowedDomain = policy.AllowedDomain
	}
}

// WithEmailAttempts sets the bound on malformed email inputs.
func WithEmailAttempts(attempts int) ServiceOption {
	return func(s *Service) {
		s.policy.EmailAttempts = attempts
	}
}

// WithCodeAttempts sets the bound on mismatched code inputs.
func WithCodeAttempts(attempts int) ServiceOption {
	return func(s *Service) {
		s.policy.CodeAttempts = attempts
	}
}

// WithStepTimeouts sets how long the email and code steps wait for a reply.
func WithStepTimeouts(email, code time.Duration) ServiceOption {
	return func(s *Service) {
		s.policy.EmailTimeout = email
		s.policy.CodeTimeout = code
	}
}

// WithAllowedDomain restricts accepted email addresses to a domain suffix.
func WithAllowedDomain(domain string) ServiceOption {
	return func(s *Service) {
		s.policy.AllowedDomain = domain
	}
}

// NewService creates a verification service.
func NewService(
	store *Store,
	messenger Messenger,
	roles RoleGranter,
	notifier *notification.NotificationManager,
	guildID, channelID, roleName string,
	opts ...ServiceOption,
) *Service {
	service := &Service{
		store:     store,
		messenger: messenger,
		roles:     roles,
		notifier:  notifier,
		guildID:   guildID,
		channelID: channelID,
		roleName:  roleName,
		policy: Policy{
			EmailAttempts: defaultEmailAttempts,
			CodeAttempts:  defaultCodeAttempts,
			EmailTimeout:  defaultStepTimeout,
			CodeTimeout:   defaultStepTimeout,
		},
	}

	for _, opt := range opts {
		opt(service)
	}

	return service
}

// Begin starts a verification conversation for userID. It fails fast with
// ErrAlreadyActive when one is already in flight; otherwise the
// conversation runs on its own goroutine until a terminal state.
func (s *Service) Begin(ctx context.Context, userID string) error {
	session, err := s.store.TryCreate(userID)
	if err != nil {
		return err
	}

	slog.Info("Verification session started", "user_id", userID, "session_id", session.ID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, session)
	}()

	return nil
}

// HandleReply routes an inbound DM into the user's active session. Replies
// for users without an active session, or arriving after a terminal state,
// are discarded.
func (s *Service) HandleReply(userID, text string) {
	session, ok := s.store.Get(userID)
	if !ok {
		slog.Debug("Dropping DM with no active session", "user_id", userID)
		return
	}
	if !session.deliver(text) {
		slog.Debug("Dropping DM for finished or saturated session", "user_id", userID, "session_id", session.ID)
	}
}

// Stats returns cumulative terminal outcome counters.
func (s *Service) Stats() Counts {
	return Counts{
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Expired:   s.expired.Load(),
	}
}

// Wait blocks until all in-flight conversations have reached a terminal
// state. Intended for shutdown after the inbound event feed has stopped.
func (s *Service) Wait() {
	s.wg.Wait()
}

// run drives one session from AwaitingEmail to a terminal state. Exactly
// one user-visible notice is emitted per failure, and the session is
// removed from the store on the way out.
func (s *Service) run(ctx context.Context, session *Session) {
	email, ok := s.collectEmail(ctx, session)
	if !ok {
		return
	}
	session.setEmail(email)
	session.setState(StateAwaitingCode)

	if !s.dispatchCode(ctx, session, email) {
		return
	}

	if !s.confirmCode(ctx, session) {
		return
	}

	session.setState(StateGranting)
	s.grant(ctx, session)
}

// collectEmail runs the AwaitingEmail step: prompt, then validate replies
// until one is email-shaped or the attempt bound is exhausted.
func (s *Service) collectEmail(ctx context.Context, session *Session) (string, bool) {
	if err := s.messenger.SendDM(ctx, session.UserID, "Please enter your email address:"); err != nil {
		slog.Warn("Failed to DM email prompt", "user_id", session.UserID, "error", err)
		s.failToChannel(ctx, session, ErrDMUnreachable,
			fmt.Sprintf("%s: failed to send you a DM. Please check your DM settings and try again.", mention(session.UserID)))
		return "", false
	}

	attempts := s.policy.EmailAttempts
	for {
		text, err := session.await(ctx, time.Now().Add(s.policy.EmailTimeout))
		if err != nil {
			s.finishWait(ctx, session, err)
			return "", false
		}

		email := strings.TrimSpace(text)
		cause := s.validateEmail(email)
		if cause == nil {
			return email, true
		}

		attempts--
		if attempts <= 0 {
			s.failToDM(ctx, session, cause,
				"Could not read a valid email address. Verification cancelled; start over in the verification channel.")
			return "", false
		}

		retry := fmt.Sprintf("That doesn't look like a valid email address, please try again (%d attempts left).", attempts)
		if errors.Is(cause, ErrEmailNotAllowed) {
			retry = fmt.Sprintf("Only %s addresses can be verified, please try again (%d attempts left).", s.policy.AllowedDomain, attempts)
		}
		if err := s.messenger.SendDM(ctx, session.UserID, retry); err != nil {
			slog.Warn("Failed to DM email retry prompt", "user_id", session.UserID, "error", err)
			s.failToChannel(ctx, session, ErrDMUnreachable,
				fmt.Sprintf("%s: failed to send you a DM. Please check your DM settings and try again.", mention(session.UserID)))
			return "", false
		}
	}
}

// dispatchCode generates a fresh code, mails it, and prompts the user to
// enter it. A mail failure terminates the session before any code prompt
// is sent.
func (s *Service) dispatchCode(ctx context.Context, session *Session, email string) bool {
	code, err := GenerateCode()
	if err != nil {
		slog.Error("Failed to generate verification code", "user_id", session.UserID, "error", err)
		s.failToChannel(ctx, session, err,
			fmt.Sprintf("%s: something went wrong on our side, please try again later.", mention(session.UserID)))
		return false
	}
	session.setCode(code)

	err = s.notifier.Send(notification.VerificationCodeNotice, notification.NotificationData{
		To: email,
		Data: map[string]string{
			"Code": code,
		},
	})
	if err != nil {
		slog.Warn("Verification email delivery failed", "user_id", session.UserID, "error", err)
		s.failToChannel(ctx, session, ErrEmailDeliveryFailed,
			fmt.Sprintf("%s: failed to send a verification code to your email address. Please try again later.", mention(session.UserID)))
		return false
	}

	prompt := fmt.Sprintf("Please enter the verification code sent to %s:", email)
	if err := s.messenger.SendDM(ctx, session.UserID, prompt); err != nil {
		slog.Warn("Failed to DM code prompt", "user_id", session.UserID, "error", err)
		s.failToChannel(ctx, session, ErrDMUnreachable,
			fmt.Sprintf("%s: failed to send you a DM. Please check your DM settings and try again.", mention(session.UserID)))
		return false
	}
	return true
}

// confirmCode runs the AwaitingCode step: compare replies against the code
// until a match or the attempt bound is exhausted. The comparison is
// constant-time and case-sensitive.
func (s *Service) confirmCode(ctx context.Context, session *Session) bool {
	attempts := s.policy.CodeAttempts
	for {
		text, err := session.await(ctx, time.Now().Add(s.policy.CodeTimeout))
		if err != nil {
			s.finishWait(ctx, session, err)
			return false
		}

		guess := strings.TrimSpace(text)
		if subtle.ConstantTimeCompare([]byte(guess), []byte(session.code)) == 1 {
			return true
		}

		attempts--
		if attempts <= 0 {
			s.failToChannel(ctx, session, ErrCodeMismatch,
				fmt.Sprintf("%s: verification failed, the code did not match. Start over in the verification channel.", mention(session.UserID)))
			return false
		}

		retry := fmt.Sprintf("Invalid verification code, please try again (%d attempts left).", attempts)
		if err := s.messenger.SendDM(ctx, session.UserID, retry); err != nil {
			slog.Warn("Failed to DM code retry prompt", "user_id", session.UserID, "error", err)
			s.failToChannel(ctx, session, ErrDMUnreachable,
				fmt.Sprintf("%s: failed to send you a DM. Please check your DM settings and try again.", mention(session.UserID)))
			return false
		}
	}
}

// grant resolves and assigns the configured role, then reports success.
// Completed is only ever reached after a confirmed grant.
func (s *Service) grant(ctx context.Context, session *Session) {
	roleID, err := s.roles.FindRole(ctx, s.guildID, s.roleName)
	if err != nil {
		slog.Error("Verified role lookup failed", "guild_id", s.guildID, "role", s.roleName, "error", err)
		s.failToChannel(ctx, session, ErrRoleNotFound,
			fmt.Sprintf("Failed to assign the %s role. Please make sure the role exists and the bot has permission to manage roles.", s.roleName))
		return
	}

	if err := s.roles.GrantRole(ctx, s.guildID, session.UserID, roleID); err != nil {
		slog.Error("Role grant failed", "user_id", session.UserID, "role_id", roleID, "error", err)
		s.failToChannel(ctx, session, ErrRoleGrantFailed,
			fmt.Sprintf("%s: failed to assign the verified role. Please try again later or contact an admin.", mention(session.UserID)))
		return
	}

	session.setState(StateCompleted)
	s.completed.Add(1)
	s.store.Remove(session.UserID)
	slog.Info("Verification completed", "user_id", session.UserID, "session_id", session.ID)

	if err := s.messenger.SendDM(ctx, session.UserID, "You have been verified!"); err != nil {
		slog.Warn("Failed to DM success notice", "user_id", session.UserID, "error", err)
	}
	announcement := fmt.Sprintf("%s has been verified!", mention(session.UserID))
	if err := s.messenger.PostToChannel(ctx, s.channelID, announcement); err != nil {
		slog.Warn("Failed to post verification announcement", "channel_id", s.channelID, "error", err)
	}
}

// finishWait handles the two non-reply outcomes of an await: deadline
// expiry, which gets a DM notice, and context cancellation (shutdown),
// which gets none.
func (s *Service) finishWait(ctx context.Context, session *Session, err error) {
	if errors.Is(err, ErrSessionExpired) {
		session.setState(StateExpired)
		s.expired.Add(1)
		s.store.Remove(session.UserID)
		slog.Info("Verification session expired", "user_id", session.UserID, "session_id", session.ID)

		if err := s.messenger.SendDM(ctx, session.UserID, "Your verification timed out. Please start over in the verification channel."); err != nil {
			slog.Warn("Failed to DM expiry notice", "user_id", session.UserID, "error", err)
		}
		return
	}

	// Shutdown: discard silently, sessions do not survive restarts.
	session.setState(StateFailed)
	s.failed.Add(1)
	s.store.Remove(session.UserID)
	slog.Debug("Verification session aborted", "user_id", session.UserID, "error", err)
}

// failToDM terminates the session with a single DM notice.
func (s *Service) failToDM(ctx context.Context, session *Session, cause error, text string) {
	s.fail(session, cause)
	if err := s.messenger.SendDM(ctx, session.UserID, text); err != nil {
		slog.Warn("Failed to DM failure notice", "user_id", session.UserID, "error", err)
	}
}

// failToChannel terminates the session with a single channel notice.
func (s *Service) failToChannel(ctx context.Context, session *Session, cause error, text string) {
	s.fail(session, cause)
	if err := s.messenger.PostToChannel(ctx, s.channelID, text); err != nil {
		slog.Warn("Failed to post failure notice", "channel_id", s.channelID, "error", err)
	}
}

func (s *Service) fail(session *Session, cause error) {
	session.setState(StateFailed)
	s.failed.Add(1)
	s.store.Remove(session.UserID)
	slog.Info("Verification failed", "user_id", session.UserID, "session_id", session.ID, "cause", cause)
}

// validateEmail checks shape and, when configured, the allowed domain.
func (s *Service) validateEmail(email string) error {
	if email == "" || !emailRegex.MatchString(email) {
		return ErrInvalidEmailFormat
	}
	if s.policy.AllowedDomain != "" {
		suffix := "@" + strings.TrimPrefix(strings.ToLower(s.policy.AllowedDomain), "@")
		if !strings.HasSuffix(strings.ToLower(email), suffix) {
			return ErrEmailNotAllowed
		}
	}
	return nil
}

// mention renders a Discord user mention.
func mention(userID string) string {
	return "<@" + userID + ">"
}
