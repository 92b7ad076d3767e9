package alert

import (
	"errors"
	"strings"

	"github.com/calumw/pilltick/internal/alarm"
	apperrors "github.com/calumw/pilltick/internal/errors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// AlarmActor resolves an open alarm occurrence. Satisfied by alarm.Engine.
type AlarmActor interface {
	Acknowledge(reminderID, slot string) error
	Snooze(reminderID, slot string, minutes int) error
	Skip(reminderID, slot, reason string) error
}

var _ AlarmActor = (*alarm.Engine)(nil)

// TelegramListener consumes bot updates and forwards inline button presses
// to the alarm engine. Only callbacks from the configured chat are honored.
type TelegramListener struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	actor  AlarmActor
	logger *zap.Logger
	done   chan struct{}
}

func NewTelegramListener(bot *tgbotapi.BotAPI, chatID int64, actor AlarmActor, logger *zap.Logger) *TelegramListener {
	return &TelegramListener{
		bot:    bot,
		chatID: chatID,
		actor:  actor,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start begins long-polling for updates in a background goroutine.
func (l *TelegramListener) Start() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := l.bot.GetUpdatesChan(u)
	go l.loop(updates)
}

// Stop ends the long poll and waits for the update loop to drain.
func (l *TelegramListener) Stop() {
	l.bot.StopReceivingUpdates()
	<-l.done
}

func (l *TelegramListener) loop(updates tgbotapi.UpdatesChannel) {
	defer close(l.done)
	for update := range updates {
		q := update.CallbackQuery
		if q == nil {
			continue
		}
		reply, ok := l.handle(q)
		if !ok {
			continue
		}
		if _, err := l.bot.Request(tgbotapi.NewCallback(q.ID, reply)); err != nil {
			l.logger.Warn("Telegram callback answer failed", zap.Error(err))
		}
	}
}

// handle guards the originating chat and dispatches the button action,
// returning the toast text to answer the callback with.
func (l *TelegramListener) handle(q *tgbotapi.CallbackQuery) (string, bool) {
	if q.Message == nil || q.Message.Chat == nil || q.Message.Chat.ID != l.chatID {
		return "", false
	}
	return l.dispatch(q.Data), true
}

func (l *TelegramListener) dispatch(data string) string {
	parts := strings.SplitN(data, "|", 3)
	if len(parts) != 3 {
		return "Unrecognized action"
	}
	action, reminderID, slot := parts[0], parts[1], parts[2]

	var err error
	var reply string
	switch action {
	case "ack":
		err = l.actor.Acknowledge(reminderID, slot)
		reply = "Marked as taken"
	case "snooze":
		err = l.actor.Snooze(reminderID, slot, 0)
		reply = "Snoozed"
	case "skip":
		err = l.actor.Skip(reminderID, slot, "skipped from telegram")
		reply = "Skipped"
	default:
		return "Unrecognized action"
	}

	switch {
	case err == nil:
		return reply
	case errors.Is(err, apperrors.ErrAlarmNotOpen):
		return "That alarm is already resolved"
	case errors.Is(err, apperrors.ErrAlarmNotRinging):
		return "Snooze is only available while the alarm is ringing"
	default:
		l.logger.Error("Telegram alarm action failed",
			zap.String("action", action),
			zap.String("reminder_id", reminderID),
			zap.Error(err))
		return "Something went wrong, try the app"
	}
}
