package transport

import "context"

// Update is an inbound event from the chat platform.
type Update struct {
	Message *Message
}

// Message is an inbound text message.
type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

// Notification is a rendered episode announcement for one destination.
type Notification struct {
	Title    string
	Link     string
	ImageURL string
}

// Adapter abstracts the chat platform. Failure modes of delivery are
// opaque to callers beyond the returned error.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, chatID int64, text string) error
	SendNotification(ctx context.Context, chatID int64, n Notification) error
}
