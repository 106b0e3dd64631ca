package worker

import (
	"log/slog"
	"sync"

	"quotebot/internal/dialogue"
	"quotebot/internal/models"
)

type EventType string

const (
	EventMessage EventType = "message"
	// EventUpdate carries a message whose typing flag settled.
	EventUpdate  EventType = "update"
	EventState   EventType = "state"
	EventHandoff EventType = "handoff"
	EventReset   EventType = "reset"
	EventClosed  EventType = "closed"
)

// Event is pushed to every subscriber of a conversation.
type Event struct {
	Type           EventType           `json:"type"`
	ConversationID string              `json:"conversation_id"`
	Message        *models.ChatMessage `json:"message,omitempty"`
	State          *State              `json:"state,omitempty"`
}

// State is the observable dialogue state without the transcript.
type State struct {
	Phase         dialogue.Phase         `json:"phase"`
	AuthStage     dialogue.AuthStage     `json:"auth_stage,omitempty"`
	Question      *dialogue.QuestionSpec `json:"question,omitempty"`
	Busy          bool                   `json:"busy"`
	Authenticated bool                   `json:"authenticated"`
	UserName      string                 `json:"user_name,omitempty"`
	Quote         *models.QuoteResult    `json:"quote,omitempty"`
	Policy        *models.Policy         `json:"policy,omitempty"`
	Completed     bool                   `json:"completed"`
	Voice         bool                   `json:"voice"`
}

const subscriberBuffer = 64

type subscribers struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[int]chan Event)}
}

func (s *subscribers) add() (int, <-chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	ch := make(chan Event, subscriberBuffer)
	s.subs[s.next] = ch
	return s.next, ch
}

func (s *subscribers) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// publish never blocks; a subscriber that stopped reading loses events.
func (s *subscribers) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("subscriber lagging, event dropped", "conversation_id", ev.ConversationID, "subscriber", id, "type", ev.Type)
		}
	}
}

func (s *subscribers) closeAll(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- Event{Type: EventClosed, ConversationID: conversationID}:
		default:
		}
		close(ch)
		delete(s.subs, id)
	}
}
