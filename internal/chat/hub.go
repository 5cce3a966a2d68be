// Package chat provides ordered, at-least-once delivery of conversation
// messages by combining the durable message log with live push
// subscriptions.
package chat

import (
	"log/slog"
	"sync"

	"github.com/peermock/peermock/internal/domain"
)

// subscriptionBuffer is the per-subscriber channel capacity. A subscriber
// that falls this far behind is disconnected and must reopen, reconciling
// the gap from history.
const subscriptionBuffer = 64

// Hub fans newly persisted messages out to live subscribers, keyed by
// conversation ID.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscription delivers one conversation's new messages until canceled.
type Subscription struct {
	hub            *Hub
	conversationID string
	ch             chan *domain.Message
	done           chan struct{}
	once           sync.Once
}

// Subscribe registers interest in new messages for a conversation.
func (h *Hub) Subscribe(conversationID string) *Subscription {
	sub := &Subscription{
		hub:            h,
		conversationID: conversationID,
		ch:             make(chan *domain.Message, subscriptionBuffer),
		done:           make(chan struct{}),
	}

	h.mu.Lock()
	if h.subs[conversationID] == nil {
		h.subs[conversationID] = make(map[*Subscription]struct{})
	}
	h.subs[conversationID][sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

// Publish delivers a message to every active subscriber of its
// conversation, in publish order. Subscribers with a full buffer are
// disconnected rather than blocked on.
func (h *Hub) Publish(msg *domain.Message) {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs[msg.ConversationID]))
	for sub := range h.subs[msg.ConversationID] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- msg:
		case <-sub.done:
		default:
			slog.Warn("Disconnecting slow subscriber",
				"conversation_id", msg.ConversationID)
			sub.Cancel()
		}
	}
}

// Cancel releases the subscription. Idempotent; after Cancel returns no
// further messages are delivered.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if subs, ok := s.hub.subs[s.conversationID]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.hub.subs, s.conversationID)
			}
		}
		s.hub.mu.Unlock()
		close(s.done)
	})
}

// Done is closed when the subscription has been canceled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
