package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/peermock/peermock/internal/domain"
	"github.com/peermock/peermock/internal/store"
)

var (
	// ErrEmptyMessage rejects whitespace-only content before any I/O.
	ErrEmptyMessage = errors.New("message content is empty")

	// ErrNotParticipant is returned when the caller is not part of the
	// referenced conversation.
	ErrNotParticipant = errors.New("not a participant of this conversation")

	// ErrConversationNotFound is returned when the conversation does not
	// exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrStreamClosed is returned by Next after the stream is released.
	ErrStreamClosed = errors.New("message stream closed")
)

// Service is the message channel: durable log plus live subscription.
type Service struct {
	repo store.Repository
	hub  *Hub

	mu        sync.Mutex
	sendLocks map[string]*sync.Mutex
}

// NewService creates a message channel service.
func NewService(repo store.Repository, hub *Hub) *Service {
	return &Service{
		repo:      repo,
		hub:       hub,
		sendLocks: make(map[string]*sync.Mutex),
	}
}

// sendLock returns the conversation's send lock, creating it on first use.
func (s *Service) sendLock(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sendLocks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.sendLocks[conversationID] = l
	}
	return l
}

// authorize loads the conversation and verifies the caller participates.
func (s *Service) authorize(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

// Conversation returns the conversation if the caller participates in it.
func (s *Service) Conversation(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	return s.authorize(ctx, conversationID, userID)
}

// Send validates, persists, and fans out one message. The sender receives
// their own message over the subscription path like everyone else; there is
// no local echo, so the durable log stays the single source of ordering.
func (s *Service) Send(ctx context.Context, conversationID, senderID, content string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	if _, err := s.authorize(ctx, conversationID, senderID); err != nil {
		return nil, err
	}

	// Insert and publish under the conversation's send lock: without it a
	// concurrent sender could publish its later log position first and
	// connected subscribers would see the inversion permanently.
	lock := s.sendLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	msg, err := s.repo.InsertMessage(ctx, conversationID, senderID, content)
	if err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	s.hub.Publish(msg)
	return msg, nil
}

// History returns the conversation's messages in log order.
func (s *Service) History(ctx context.Context, conversationID, userID string) ([]*domain.Message, error) {
	if _, err := s.authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return msgs, nil
}

// End marks the conversation completed. Idempotent.
func (s *Service) End(ctx context.Context, conversationID, userID string) error {
	if _, err := s.authorize(ctx, conversationID, userID); err != nil {
		return err
	}
	if err := s.repo.CompleteConversation(ctx, conversationID, time.Now()); err != nil {
		return fmt.Errorf("complete conversation: %w", err)
	}
	return nil
}

// Stream yields one conversation's messages in order: the history backlog
// first, then live messages, deduplicated by message ID.
type Stream struct {
	sub *Subscription

	mu      sync.Mutex
	backlog []*domain.Message
	seen    map[string]struct{}
}

// Open subscribes to live messages and reconciles with history. The
// subscription is opened before the history fetch so messages persisted
// during the fetch are not lost; the two sources are merged by message ID
// and re-sorted into log order. On reconnection callers simply Open again
// and the fresh history fetch closes any delivery gap.
func (s *Service) Open(ctx context.Context, conversationID, userID string) (*Stream, error) {
	if _, err := s.authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	sub := s.hub.Subscribe(conversationID)

	history, err := s.repo.ListMessages(ctx, conversationID)
	if err != nil {
		sub.Cancel()
		return nil, fmt.Errorf("load history: %w", err)
	}

	st := &Stream{
		sub:  sub,
		seen: make(map[string]struct{}, len(history)),
	}

	// Union by ID: history plus whatever arrived live mid-fetch.
	for _, msg := range history {
		st.add(msg)
	}
	for {
		select {
		case msg := <-sub.ch:
			st.add(msg)
			continue
		default:
		}
		break
	}

	sort.Slice(st.backlog, func(i, j int) bool {
		return st.backlog[i].Before(st.backlog[j])
	})

	return st, nil
}

func (st *Stream) add(msg *domain.Message) {
	if _, dup := st.seen[msg.ID]; dup {
		return
	}
	st.seen[msg.ID] = struct{}{}
	st.backlog = append(st.backlog, msg)
}

// Next returns the next message in order, blocking until one arrives, the
// context ends, or the stream is closed.
func (st *Stream) Next(ctx context.Context) (*domain.Message, error) {
	st.mu.Lock()
	if len(st.backlog) > 0 {
		msg := st.backlog[0]
		st.backlog = st.backlog[1:]
		st.mu.Unlock()
		return msg, nil
	}
	st.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-st.sub.Done():
			return nil, ErrStreamClosed
		case msg := <-st.sub.ch:
			st.mu.Lock()
			_, dup := st.seen[msg.ID]
			if !dup {
				st.seen[msg.ID] = struct{}{}
			}
			st.mu.Unlock()
			if dup {
				continue
			}
			return msg, nil
		}
	}
}

// Close releases the live subscription. Safe to call more than once and
// from any exit path; no messages are delivered after it returns.
func (st *Stream) Close() {
	st.sub.Cancel()
}
