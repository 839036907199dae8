package emitter

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"
)

// Telegram delivers messages through the Telegram Bot API.
type Telegram struct {
	bot *bot.Bot
}

// NewTelegram creates a Telegram emitter from a bot token.
func NewTelegram(token string, opts ...bot.Option) (*Telegram, error) {
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: b}, nil
}

// NewTelegramWithBot wraps an existing bot instance.
func NewTelegramWithBot(b *bot.Bot) *Telegram {
	return &Telegram{bot: b}
}

// SendMessage sends text to the chat and returns the new message id.
func (t *Telegram) SendMessage(ctx context.Context, chatID, text string) (string, error) {
	msg, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatRef(chatID),
		Text:   text,
	})
	if err != nil {
		return "", fmt.Errorf("telegram send: %w", err)
	}
	return strconv.Itoa(msg.ID), nil
}

// EditMessage replaces the text of an existing message.
func (t *Telegram) EditMessage(ctx context.Context, chatID, messageID, text string) error {
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("telegram edit: bad message id %q: %w", messageID, err)
	}
	_, err = t.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    chatRef(chatID),
		MessageID: id,
		Text:      text,
	})
	if err != nil {
		return fmt.Errorf("telegram edit: %w", err)
	}
	return nil
}

// DeleteMessage removes a message from the chat.
func (t *Telegram) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("telegram delete: bad message id %q: %w", messageID, err)
	}
	_, err = t.bot.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatRef(chatID),
		MessageID: id,
	})
	if err != nil {
		return fmt.Errorf("telegram delete: %w", err)
	}
	return nil
}

// chatRef converts the string chat id into the numeric form Telegram
// expects, passing usernames (@channel) through unchanged.
func chatRef(chatID string) any {
	if n, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return n
	}
	return chatID
}
