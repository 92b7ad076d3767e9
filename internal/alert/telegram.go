package alert

import (
	"fmt"

	"github.com/calumw/pilltick/internal/alarm"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramChannel delivers alarms to a Telegram chat with inline
// take/snooze/skip buttons. Button callbacks are consumed by the
// TelegramListener, which forwards them to the alarm engine.
type TelegramChannel struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramChannel wraps an authorized bot for the given chat
func NewTelegramChannel(bot *tgbotapi.BotAPI, chatID int64) *TelegramChannel {
	return &TelegramChannel{bot: bot, chatID: chatID}
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) Deliver(v alarm.View) error {
	text := fmt.Sprintf("💊 %s", v.Name)
	if v.Dosage != "" {
		text += " · " + v.Dosage
	}
	text += "\nScheduled for " + v.Slot
	if v.Instructions != "" {
		text += "\n" + v.Instructions
	}
	if v.RepeatCount > 0 {
		text += fmt.Sprintf("\n(reminder #%d)", v.RepeatCount+1)
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Taken", callbackData("ack", v)),
			tgbotapi.NewInlineKeyboardButtonData("💤 Snooze", callbackData("snooze", v)),
			tgbotapi.NewInlineKeyboardButtonData("⏭ Skip", callbackData("skip", v)),
		),
	)

	_, err := t.bot.Send(msg)
	return err
}

// callbackData encodes the action and occurrence key for the listener
func callbackData(action string, v alarm.View) string {
	return fmt.Sprintf("%s|%s|%s", action, v.ReminderID, v.Slot)
}
