// Package notify builds and emits new-message notification requests.
// Delivery is fire-and-forget and best effort.
package notify

import (
	"go.uber.org/zap"
)

const (
	// DefaultPreviewLength is the number of characters kept in a body.
	DefaultPreviewLength = 50
	// Placeholder replaces an empty message body.
	Placeholder = "New message"
	// DefaultIcon is used when the sender has no avatar.
	DefaultIcon = "/placeholder.svg?height=64&width=64"
)

// Notification is one request to the OS or browser notifier.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon"`
}

// Notifier delivers notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts a function to Notifier.
type Func func(Notification)

// Notify implements Notifier.
func (f Func) Notify(n Notification) { f(n) }

// Nop drops every notification.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(Notification) {}

// Logger writes notifications to a zap logger.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a notifier that logs at info level.
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger}
}

// Notify implements Notifier.
func (l *Logger) Notify(n Notification) {
	l.logger.Info("notification", zap.String("title", n.Title), zap.String("body", n.Body), zap.String("icon", n.Icon))
}

// Preview turns message content into a notification body: empty content
// becomes the placeholder, and anything longer than maxLen characters is cut
// and suffixed with an ellipsis.
func Preview(content string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultPreviewLength
	}
	if content == "" {
		content = Placeholder
	}
	r := []rune(content)
	if len(r) <= maxLen {
		return content
	}
	return string(r[:maxLen]) + "..."
}

// New builds a notification for a message from sender.
func New(senderName, senderAvatar, content string, maxLen int) Notification {
	if senderName == "" {
		senderName = "Unknown"
	}
	if senderAvatar == "" {
		senderAvatar = DefaultIcon
	}
	return Notification{
		Title: senderName,
		Body:  Preview(content, maxLen),
		Icon:  senderAvatar,
	}
}
