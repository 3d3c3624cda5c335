package notify

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rotisserie/eris"

	"github.com/pricelens/pricelens/internal/model"
)

// telegramSender is the slice of the bot API the channel uses. Injectable
// for tests.
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends change messages to a single chat.
type Telegram struct {
	bot    telegramSender
	chatID int64
}

// NewTelegram authenticates the bot and builds the channel.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, eris.Wrap(err, "notify: telegram auth")
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// Send delivers the rendered message. The bot API has no context support;
// a cancelled context short-circuits before the call.
func (t *Telegram) Send(ctx context.Context, change model.PriceChange) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "notify: telegram")
	}
	msg := tgbotapi.NewMessage(t.chatID, renderBody(change))
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return eris.Wrap(err, "notify: telegram send")
	}
	return nil
}
