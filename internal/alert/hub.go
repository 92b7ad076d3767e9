package alert

import (
	"sync"

	"github.com/calumw/pilltick/internal/alarm"
)

// Hub distributes alarm lifecycle events to overlay subscribers (the /ws
// endpoint and the TUI). It satisfies alarm.EventSink; Publish never blocks,
// a subscriber that falls behind loses the oldest event.
type Hub struct {
	mu   sync.Mutex
	subs map[chan alarm.Event]string
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan alarm.Event]string)}
}

// Publish sends the event to every subscriber whose user filter matches
func (h *Hub) Publish(ev alarm.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch, userID := range h.subs {
		if userID != "" && userID != ev.Alarm.UserID {
			continue
		}
		select {
		case ch <- ev:
		default:
			// Drop the oldest so the latest state always gets through
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Subscribe registers an event listener. An empty userID receives every
// user's events. The returned cancel func must be called when done.
func (h *Hub) Subscribe(userID string) (<-chan alarm.Event, func()) {
	ch := make(chan alarm.Event, 16)

	h.mu.Lock()
	h.subs[ch] = userID
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount reports how many overlay listeners are attached
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
