package signal

import (
	"encoding/json"
	"time"

	"meshcall/internal/core/domain"
)

type Event string

const (
	EventConnected   Event = "connected"
	EventJoinCall    Event = "join-call"
	EventLeaveCall   Event = "leave-call"
	EventUserJoined  Event = "user-joined"
	EventUserLeft    Event = "user-left"
	EventSignal      Event = "signal"
	EventChatMessage Event = "chat-message"
	EventError       Event = "error"

	EventVideoOn  = Event(domain.HintVideoOn)
	EventVideoOff = Event(domain.HintVideoOff)
	EventAudioOn  = Event(domain.HintAudioOn)
	EventAudioOff = Event(domain.HintAudioOff)
)

// Envelope is the single JSON frame exchanged over the relay websocket.
// Which fields are set depends on Event.
type Envelope struct {
	Event   Event                `json:"event"`
	ID      domain.ParticipantID `json:"id,omitempty"`
	Room    domain.RoomID        `json:"room,omitempty"`
	Name    string               `json:"name,omitempty"`
	Members []Member             `json:"members,omitempty"`
	To      domain.ParticipantID `json:"to,omitempty"`
	From    domain.ParticipantID `json:"from,omitempty"`
	Payload json.RawMessage      `json:"payload,omitempty"`
	Text    string               `json:"text,omitempty"`
	SentAt  *time.Time           `json:"sent_at,omitempty"`
	Message string               `json:"message,omitempty"`
}

type Member struct {
	ID   domain.ParticipantID `json:"id"`
	Name string               `json:"name,omitempty"`
}

func hintEvent(e Event) (domain.MediaHint, bool) {
	hint := domain.MediaHint(e)
	return hint, hint.Valid()
}

func chatEnvelope(msg domain.ChatMessage) Envelope {
	sentAt := msg.SentAt
	return Envelope{
		Event:  EventChatMessage,
		From:   msg.From,
		Name:   msg.Sender,
		Text:   msg.Text,
		SentAt: &sentAt,
	}
}

func membersOf(participants []*domain.Participant) []Member {
	members := make([]Member, 0, len(participants))
	for _, p := range participants {
		members = append(members, Member{ID: p.ID, Name: p.DisplayName})
	}
	return members
}
