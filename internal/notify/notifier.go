package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"delta_bot/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// Notifier — best-effort доставка. recipient пустой — адресат по умолчанию.
type Notifier interface {
	Send(ctx context.Context, subject, body, recipient string) error
}

// CommandFunc отвечает текстом на команду бота.
type CommandFunc func(ctx context.Context) string

// Telegram — нотифайер + команды /positions, /orders.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64

	mu       sync.RWMutex
	commands map[string]CommandFunc
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot api")
	}
	return &Telegram{
		bot:      b,
		chatID:   chatID,
		commands: make(map[string]CommandFunc),
	}, nil
}

func (t *Telegram) Send(ctx context.Context, subject, body, recipient string) error {
	if t == nil || t.bot == nil {
		return nil
	}
	chatID := t.chatID
	if recipient != "" {
		id, err := strconv.ParseInt(recipient, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "telegram recipient %q", recipient)
		}
		chatID = id
	}
	if chatID == 0 {
		return errors.New("telegram: chat id is not configured")
	}

	_, err := t.bot.Send(tgbot.NewMessage(chatID, Format(subject, body)))
	return err
}

// Handle регистрирует команду ("positions" без слеша).
func (t *Telegram) Handle(command string, fn CommandFunc) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commands[command] = fn
}

func (t *Telegram) handler(command string) (CommandFunc, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.commands[command]
	return fn, ok
}

// Start: long-polling для команд из настроенного чата.
func (t *Telegram) Start(ctx context.Context) error {
	if t == nil || t.bot == nil {
		return nil
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd := <-updates:
				msg := upd.Message
				if msg == nil || msg.Chat == nil || msg.Chat.ID != t.chatID || !msg.IsCommand() {
					continue
				}
				fn, ok := t.handler(msg.Command())
				if !ok {
					continue
				}
				go func() {
					_, _ = t.bot.Send(tgbot.NewMessage(t.chatID, fn(ctx)))
				}()
			}
		}
	}()
	return nil
}

func (t *Telegram) Stop() {
	if t == nil || t.bot == nil {
		return
	}
	t.bot.StopReceivingUpdates()
}

// Stdout — заглушка без токена, всё пишет в лог.
type Stdout struct{}

func NewStdout() *Stdout { return &Stdout{} }

func (s *Stdout) Send(ctx context.Context, subject, body, recipient string) error {
	if recipient != "" {
		logger.Info("notify [%s]: %s", recipient, Format(subject, body))
		return nil
	}
	logger.Info("notify: %s", Format(subject, body))
	return nil
}

func Format(subject, body string) string {
	subject, body = strings.TrimSpace(subject), strings.TrimSpace(body)
	switch {
	case subject == "":
		return body
	case body == "":
		return subject
	default:
		return fmt.Sprintf("%s\n\n%s", subject, body)
	}
}
