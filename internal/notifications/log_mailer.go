package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// LogMailer logs instead of sending. Used in dev and when no provider is
// configured.
type LogMailer struct {
	log *slog.Logger
}

func NewLogMailer(log *slog.Logger) *LogMailer {
	if log == nil {
		log = slog.Default()
	}
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, html string) error {
	// Optional: simulate slow provider
	if msStr := os.Getenv("MAILER_SLEEP_MS"); msStr != "" {
		ms, _ := strconv.Atoi(msStr)
		if ms > 0 {
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	// Optional: simulate provider outage
	if os.Getenv("MAILER_FAIL") == "1" {
		return fmt.Errorf("provider down (simulated)")
	}

	m.log.InfoContext(ctx, "mail.sent",
		"to", to,
		"subject", subject,
		"bytes", len(html),
	)
	return nil
}

type LogMessenger struct {
	log *slog.Logger
}

func NewLogMessenger(log *slog.Logger) *LogMessenger {
	if log == nil {
		log = slog.Default()
	}
	return &LogMessenger{log: log}
}

func (m *LogMessenger) Notify(ctx context.Context, text string) error {
	m.log.InfoContext(ctx, "ops.alert", "text", text)
	return nil
}
