package notification

// NotificationData carries the recipient and template values for one
// outbound notification.
type NotificationData struct {
	To      string            // Recipient identifier (e.g. email address)
	Subject string            // Optional subject override
	Body    string            // Optional pre-rendered body
	Data    map[string]string // Template values
}

// NoticeTemplate holds the subject and body templates for a notice. At
// least one of Text or Html must be set.
type NoticeTemplate struct {
	Subject string
	Text    string
	Html    string
}

// Notifier delivers a rendered notice through one delivery system.
type Notifier interface {
	Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error
}
