package alert

import (
	"fmt"

	"github.com/calumw/pilltick/internal/alarm"
	"github.com/gregdel/pushover"
)

// PushoverChannel sends alarm notifications through the Pushover service
type PushoverChannel struct {
	app       *pushover.Pushover
	recipient *pushover.Recipient
}

// NewPushoverChannel creates the channel from the application API token and
// the user key.
func NewPushoverChannel(apiToken, userKey string) *PushoverChannel {
	return &PushoverChannel{
		app:       pushover.New(apiToken),
		recipient: pushover.NewRecipient(userKey),
	}
}

func (p *PushoverChannel) Name() string { return "pushover" }

func (p *PushoverChannel) Deliver(v alarm.View) error {
	body := fmt.Sprintf("Time to take %s", v.Name)
	if v.Dosage != "" {
		body = fmt.Sprintf("Time to take %s (%s)", v.Name, v.Dosage)
	}
	if v.Instructions != "" {
		body += "\n" + v.Instructions
	}
	if v.RepeatCount > 0 {
		body += fmt.Sprintf("\nStill waiting, reminder #%d", v.RepeatCount+1)
	}

	msg := pushover.NewMessageWithTitle(body, "Medicine reminder "+v.Slot)
	if v.Sound == "urgent" {
		msg.Priority = pushover.PriorityHigh
	}

	_, err := p.app.SendMessage(msg, p.recipient)
	return err
}
