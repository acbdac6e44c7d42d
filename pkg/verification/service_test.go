package verification

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolegate/rolegate/pkg/notification"
)

type fakeMessenger struct {
	mu    sync.Mutex
	dms   []string
	posts []string
	dmErr error
}

func (f *fakeMessenger) SendDM(ctx context.Context, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dmErr != nil {
		return f.dmErr
	}
	f.dms = append(f.dms, text)
	return nil
}

func (f *fakeMessenger) PostToChannel(ctx context.Context, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, text)
	return nil
}

func (f *fakeMessenger) DMs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dms...)
}

func (f *fakeMessenger) Posts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posts...)
}

type fakeRoles struct {
	mu       sync.Mutex
	roleID   string
	findErr  error
	grantErr error
	granted  []string
}

func (f *fakeRoles) FindRole(ctx context.Context, guildID, roleName string) (string, error) {
	if f.findErr != nil {
		return "", f.findErr
	}
	return f.roleID, nil
}

func (f *fakeRoles) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.grantErr != nil {
		return f.grantErr
	}
	f.granted = append(f.granted, userID)
	return nil
}

func (f *fakeRoles) Granted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.granted...)
}

// codeCatcher is a Notifier that records deliveries so the tests can read
// back the generated code.
type codeCatcher struct {
	mu   sync.Mutex
	sent []notification.NotificationData
	err  error
}

func (c *codeCatcher) Send(noticeType notification.NoticeType, data notification.NotificationData, template notification.NoticeTemplate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *codeCatcher) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *codeCatcher) LastCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return ""
	}
	return c.sent[len(c.sent)-1].Data["Code"]
}

type testHarness struct {
	store     *Store
	messenger *fakeMessenger
	roles     *fakeRoles
	catcher   *codeCatcher
	service   *Service
}

func newTestHarness(t *testing.T, opts ...ServiceOption) *testHarness {
	t.Helper()

	catcher := &codeCatcher{}
	manager := notification.NewNotificationManager()
	manager.RegisterNotifier(notification.EmailSystem, catcher)
	err := manager.RegisterNotification(notification.VerificationCodeNotice, notification.EmailSystem, notification.NoticeTemplate{
		Subject: "Verification code",
		Text:    "Your verification code is: {{.Code}}",
	})
	require.NoError(t, err)

	store := NewStore()
	messenger := &fakeMessenger{}
	roles := &fakeRoles{roleID: "role-1"}

	defaults := []ServiceOption{WithStepTimeouts(2*time.Second, 2*time.Second)}
	service := NewService(store, messenger, roles, manager, "guild-1", "chan-1", "verified", append(defaults, opts...)...)

	return &testHarness{
		store:     store,
		messenger: messenger,
		roles:     roles,
		catcher:   catcher,
		service:   service,
	}
}

func containsText(items []string, substr string) bool {
	for _, item := range items {
		if strings.Contains(item, substr) {
			return true
		}
	}
	return false
}

func TestService_HappyPath(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	require.NoError(t, h.service.Begin(ctx, "user-1"))
	h.service.HandleReply("user-1", "user@example.com")

	require.Eventually(t, func() bool { return h.catcher.Count() == 1 }, time.Second, 5*time.Millisecond)
	code := h.catcher.LastCode()
	require.Len(t, code, CodeLength)

	h.service.HandleReply("user-1", code)
	h.service.Wait()

	assert.Equal(t, []string{"user-1"}, h.roles.Granted())
	assert.True(t, containsText(h.messenger.DMs(), "Please enter your email address"))
	assert.True(t, containsText(h.messenger.DMs(), "verification code sent to user@example.com"))
	assert.True(t, containsText(h.messenger.DMs(), "You have been verified!"))
	assert.True(t, containsText(h.messenger.Posts(), "has been verified!"))

	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, int64(1), h.service.Stats().Completed)
}

func TestService_CodeReplyIsTrimmed(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	require.NoError(t, h.service.Begin(ctx, "user-1"))
	h.service.HandleReply("user-1", "user@example.com")

	require.Eventually(t, func() bool { return h.catcher.Count() == 1 }, time.Second, 5*time.Millisecond)
	h.service.HandleReply("user-1", "  "+h.catcher.LastCode()+"\n")
	h.service.Wait()

	assert.Equal(t, int64(1), h.service.Stats().Completed)
}

func TestService_WrongCodeExhaustsAttempts(t *testing.T) {
	h := newTestHarness(t, WithCodeAttempts(3))
	ctx := context.Background()

	require.NoError(t, h.service.Begin(ctx, "user-1"))
	h.service.HandleReply("user-1", "user@example.com")

	require.Eventually(t, func() bool { return h.catcher.Count() == 1 }, time.Second, 5*time.Millisecond)
	code := h.catcher.LastCode()

	for i := 0; i < 3; i++ {
		guess := "AAAAAA"
		if guess == code {
			guess = "BBBBBB"
		}
		h.service.HandleReply("user-1", guess)
	}
	h.service.Wait()

	assert.Empty(t, h.roles.Granted())
	assert.True(t, containsText(h.messenger.Posts(), "the code did not match"))
	assert.Equal(t, 0, h.store.Len(), "store must release the session")
	assert.Equal(t, int64(1), h.service.Stats().Failed)

	// A new trigger from the same user is accepted again
	assert.NoError(t, h.service.Begin(ctx, "user-1"))
}

func TestService_CodeComparisonIsCaseSensitive(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	require.NoError(t, h.service.Begin(ctx, "user-1"))
	h.service.HandleReply("user-1", "user@example.com")

	require.Eventually(t, func() bool { return h.catcher.Count() == 1 }, time.Second, 5*time.Millisecond)
	code := h.catcher.LastCode()

	flipped := strings.ToLower(code)
	if flipped == code {
		flipped = strings.ToUpper(code)
	}
	if flipped == code {
		// All-digit code, case has no effect; use a plain mismatch
		flipped = "000000"
		if flipped == code {
			flipped = "111111"
		}
	}

	h.service.HandleReply("user-1", flipped)

	require.Eventually(t, func() bool {
		return containsText(h.messenger.DMs(), "Invalid verification code")
	}, time.Second, 5*time.Millisecond)

	h.service.HandleReply("user-1", code)
	h.service.Wait()

	assert.Equal(t, int64(1), h.service.Stats().Completed)
}

func TestService_EmailDeliveryFailure(t *testing.T) {
	h := newTestHarness(t)
	h.catcher.err = assert.AnError
	ctx := context.Background()

	require.NoError(t, h.service.Begin(ctx, "user-1"))
	h.service.HandleReply("user-1", "user@example.com")
	h.service.Wait()

	assert.True(t, containsText(h.messenger.Posts(), "failed to send a verification code"))
	// The code prompt must never go out when delivery failed
	assert.False(t, containsText(h.messenger.DMs(), "verification code sent to"))
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, int64(1), h.service.Stats().Failed)
}

func TestService_InvalidEmailBounded(t *testing.T) {
	h := newTestHarness(t, WithEmailAttempts(3))
	ctx := context.Background()

	require.NoError(t, h.service.Begin(ctx, "user-1"))
	h.service.HandleReply("user-1", "not-an-email")
	h.service.HandleReply("user-1", "still wrong")
	h.service.HandleReply("user-1", "")
	h.service.Wait()

	assert.Equal(t, 0, h.catcher.Count(), "no email may be sent without a valid address")
	assert.True(t, containsText(h.messenger.DMs(), "Verification cancelled"))
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, int64(1), h.service.Stats().Failed)
}

func TestService_AllowedDomain(t *testing.T) {
	h := newTestHarness(t, WithAllowedDomain("example.edu"))
	ctx := context.Background()

	require.NoError(t, h.service.Begin(ctx, "user-1"))
	h.service.HandleReply("user-1", "user@gmail.com")

	require.Eventually(t, func() bool {
		return containsText(h.messenger.DMs(), "Only example.edu addresses")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.catcher.Count())

	h.service.HandleReply("user-1", "student@example.edu")
	require.Eventually(t, func() bool { return h.catcher.Count() == 1 }, time.Second, 5*time.Millisecond)

	h.service.HandleReply("user-1", h.catcher.LastCode())
	h.service.Wait()

	assert.Equal(t, int64(1), h.service.Stats().Completed)
}

func TestService_TimeoutExpiresSession(t *testing.T) {
	h := newTestHarness(t, WithStepTimeouts(40*time.Millisecond, 40*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, h.service.Begin(ctx, "user-1"))
	h.service.Wait()

	assert.Equal(t, int64(1), h.service.Stats().Expired)
	assert.Equal(t, 0, h.store.Len())

	var notices int
	for _, dm := range h.messenger.DMs() {
		if strings.Contains(dm, "timed out") {
			notices++
		}
	}
	assert.Equal(t, 1, notices, "expiry must be reported exactly once")

	// A reply crossing the deadline has no effect on anything
	h.service.HandleReply("user-1", "user@example.com")
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 0, h.catcher.Count())
	assert.Equal(t, int64(1), h.service.Stats().Expired)
}

func TestService_ShutdownAbortsSilently(t *testing.T) {
	h := newTestHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, h.service.Begin(ctx, "user-1"))
	require.Eventually(t, func() bool { return len(h.messenger.DMs()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	h.service.Wait()

	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, int64(1), h.service.Stats().Failed, "aborted sessions must show up in the terminal counters")
	assert.Equal(t, int64(0), h.service.Stats().Expired)
	assert.Len(t, h.messenger.DMs(), 1, "no notice is sent on shutdown")
	assert.Empty(t, h.messenger.Posts())
}

func TestService_DMUnreachable(t *testing.T) {
	h := newTestHarness(t)
	h.messenger.dmErr = assert.AnError
	ctx := context.Background()

	require.NoError(t, h.service.Begin(ctx, "user-1"))
	h.service.Wait()

	assert.True(t, containsText(h.messenger.Posts(), "check your DM settings"))
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, int64(1), h.service.Stats().Failed)
}

func TestService_RoleNotFound(t *testing.T) {
	h := newTestHarness(t)
	h.roles.findErr = ErrRoleNotFound
	ctx := context.Background()

	require.NoError(t, h.service.Begin(ctx, "user-1"))
	h.service.HandleReply("user-1", "user@example.com")

	require.Eventually(t, func() bool { return h.catcher.Count() == 1 }, time.Second, 5*time.Millisecond)
	h.service.HandleReply("user-1", h.catcher.LastCode())
	h.service.Wait()

	assert.Empty(t, h.roles.Granted())
	assert.True(t, containsText(h.messenger.Posts(), "make sure the role exists"))
	assert.False(t, containsText(h.messenger.DMs(), "You have been verified!"),
		"success must never be reported without a confirmed grant")
	assert.Equal(t, int64(1), h.service.Stats().Failed)
}

func TestService_RoleGrantFailed(t *testing.T) {
	h := newTestHarness(t)
	h.roles.grantErr = assert.AnError
	ctx := context.Background()

	require.NoError(t, h.service.Begin(ctx, "user-1"))
	h.service.HandleReply("user-1", "user@example.com")

	require.Eventually(t, func() bool { return h.catcher.Count() == 1 }, time.Second, 5*time.Millisecond)
	h.service.HandleReply("user-1", h.catcher.LastCode())
	h.service.Wait()

	assert.True(t, containsText(h.messenger.Posts(), "contact an admin"))
	assert.False(t, containsText(h.messenger.DMs(), "You have been verified!"))
	assert.Equal(t, int64(1), h.service.Stats().Failed)
}

func TestService_BeginAlreadyActive(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	require.NoError(t, h.service.Begin(ctx, "user-1"))
	assert.ErrorIs(t, h.service.Begin(ctx, "user-1"), ErrAlreadyActive)
}

func TestService_FreshCodePerSession(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	codes := make(map[string]bool)
	for _, user := range []string{"user-1", "user-2", "user-3"} {
		require.NoError(t, h.service.Begin(ctx, user))
		h.service.HandleReply(user, "someone@example.com")
	}

	require.Eventually(t, func() bool { return h.catcher.Count() == 3 }, time.Second, 5*time.Millisecond)

	h.catcher.mu.Lock()
	for _, sent := range h.catcher.sent {
		codes[sent.Data["Code"]] = true
	}
	h.catcher.mu.Unlock()

	assert.Len(t, codes, 3, "each session must get its own code")
}
