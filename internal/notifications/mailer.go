package notifications

import "context"

// Mailer delivers one rendered email.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

// Messenger sends a short single-shot operator alert.
type Messenger interface {
	Notify(ctx context.Context, text string) error
}
