package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// TelegramMessenger posts ops alerts to one chat. It never polls for updates.
type TelegramMessenger struct {
	bot    *tele.Bot
	chatID int64
}

func NewTelegramMessenger(token string, chatID int64) (*TelegramMessenger, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}

	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: true,
		Client:  &http.Client{Timeout: 8 * time.Second},
	})

	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}

	return &TelegramMessenger{bot: b, chatID: chatID}, nil
}

func (m *TelegramMessenger) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := m.bot.Send(tele.ChatID(m.chatID), text)

	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}

	return nil
}
