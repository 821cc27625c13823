package notify

import (
	"fmt"
	"log"
	"time"

	"trade_engine/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Alert — событие для внешнего оповещения: вход, выход, деградация риска.
type Alert struct {
	Level     Level
	Event     string // "ENTRY", "EXIT", "PARTIAL", "RISK_BLOCK", ...
	Message   string
	Timestamp time.Time
}

// Notifier — fire-and-forget: недоставка алерта НИКОГДА не блокирует
// и не ломает торговую логику.
type Notifier interface {
	Send(a Alert)
}

// Telegram — пассивный нотифайер, шлёт алерты в один чат.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

func (t *Telegram) Send(a Alert) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	// асинхронно: доставка не должна задерживать обработку бара
	go func() {
		msg := fmt.Sprintf("%s [%s] %s", levelEmoji(a.Level), a.Event, a.Message)
		if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
			logger.Error("[NOTIFY] telegram send failed: %v", err)
		}
	}()
}

func levelEmoji(l Level) string {
	switch l {
	case LevelWarning:
		return "⚠️"
	case LevelError:
		return "❗️"
	default:
		return "✅"
	}
}

// Stdout — заглушка, всё просто логирует.
type Stdout struct{}

func NewStdout() *Stdout { return &Stdout{} }

func (s *Stdout) Send(a Alert) {
	log.Printf("[ALERT] %s %s: %s", a.Level, a.Event, a.Message)
}
