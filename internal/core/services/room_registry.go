package services

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
)

// roomRegistry is the single source of truth for room membership. Every
// operation runs under one mutex, so a join or leave is observed atomically by
// all relay goroutines.
type roomRegistry struct {
	mu         sync.Mutex
	rooms      map[domain.RoomID]*domain.Room
	membership map[domain.ParticipantID]domain.RoomID

	maxParticipants int
	chatHistorySize int
	now             func() time.Time
}

func NewRoomRegistry(maxParticipants, chatHistorySize int) ports.RoomRegistry {
	return &roomRegistry{
		rooms:           make(map[domain.RoomID]*domain.Room),
		membership:      make(map[domain.ParticipantID]domain.RoomID),
		maxParticipants: maxParticipants,
		chatHistorySize: chatHistorySize,
		now:             time.Now,
	}
}

func (r *roomRegistry) Join(roomID domain.RoomID, participant *domain.Participant) (*domain.JoinResult, error) {
	id, err := domain.NormalizeRoomID(string(roomID))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.membership[participant.ID]; ok && current == id {
		room := r.rooms[id]
		return &domain.JoinResult{
			Room:     id,
			Existing: sortedMembers(room, participant.ID),
			Backlog:  copyChat(room.Chat),
			Rejoined: true,
		}, nil
	}

	room := r.rooms[id]
	if room != nil && r.maxParticipants > 0 && len(room.Members) >= r.maxParticipants {
		return nil, fmt.Errorf("%w: %s has %d participants", domain.ErrRoomFull, id, len(room.Members))
	}

	result := &domain.JoinResult{Room: id}
	if _, ok := r.membership[participant.ID]; ok {
		result.Left = r.leaveLocked(participant.ID)
	}

	if room == nil {
		room = &domain.Room{
			ID:        id,
			Members:   make(map[domain.ParticipantID]*domain.Participant),
			CreatedAt: r.now(),
		}
		r.rooms[id] = room
	}

	member := *participant
	if member.JoinedAt.IsZero() {
		member.JoinedAt = r.now()
	}
	room.Members[member.ID] = &member
	r.membership[member.ID] = id

	result.Existing = sortedMembers(room, member.ID)
	result.Backlog = copyChat(room.Chat)
	return result, nil
}

func (r *roomRegistry) Leave(participantID domain.ParticipantID) (*domain.LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.membership[participantID]; !ok {
		return nil, false
	}
	return r.leaveLocked(participantID), true
}

func (r *roomRegistry) leaveLocked(participantID domain.ParticipantID) *domain.LeaveResult {
	id := r.membership[participantID]
	delete(r.membership, participantID)

	room := r.rooms[id]
	delete(room.Members, participantID)

	result := &domain.LeaveResult{Room: id, Remaining: room.MemberIDs("")}
	if len(room.Members) == 0 {
		delete(r.rooms, id)
		result.RoomClosed = true
	}
	return result
}

func (r *roomRegistry) SharesRoom(a, b domain.ParticipantID) bool {
	if a == b {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	roomA, okA := r.membership[a]
	roomB, okB := r.membership[b]
	return okA && okB && roomA == roomB
}

func (r *roomRegistry) Peers(participantID domain.ParticipantID) []domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.membership[participantID]
	if !ok {
		return nil
	}
	return r.rooms[id].MemberIDs(participantID)
}

func (r *roomRegistry) RoomOf(participantID domain.ParticipantID) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.membership[participantID]
	return id, ok
}

func (r *roomRegistry) Participant(participantID domain.ParticipantID) (*domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.membership[participantID]
	if !ok {
		return nil, false
	}
	p := *r.rooms[id].Members[participantID]
	return &p, true
}

func (r *roomRegistry) Members(roomID domain.RoomID) []*domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return sortedMembers(room, "")
}

func (r *roomRegistry) AppendChat(participantID domain.ParticipantID, text string) (domain.ChatMessage, []domain.ParticipantID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.membership[participantID]
	if !ok {
		return domain.ChatMessage{}, nil, domain.ErrNotInRoom
	}
	room := r.rooms[id]

	msg := domain.ChatMessage{
		From:   participantID,
		Sender: room.Members[participantID].DisplayName,
		Text:   text,
		SentAt: r.now(),
	}

	if r.chatHistorySize > 0 {
		room.Chat = append(room.Chat, msg)
		if over := len(room.Chat) - r.chatHistorySize; over > 0 {
			room.Chat = append(room.Chat[:0:0], room.Chat[over:]...)
		}
	}

	return msg, room.MemberIDs(participantID), nil
}

func (r *roomRegistry) Stats() domain.RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return domain.RegistryStats{
		Rooms:        len(r.rooms),
		Participants: len(r.membership),
	}
}

// sortedMembers copies the members of room in join order, skipping exclude.
func sortedMembers(room *domain.Room, exclude domain.ParticipantID) []*domain.Participant {
	members := make([]*domain.Participant, 0, len(room.Members))
	for id, p := range room.Members {
		if id == exclude {
			continue
		}
		cp := *p
		members = append(members, &cp)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].ID < members[j].ID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members
}

func copyChat(chat []domain.ChatMessage) []domain.ChatMessage {
	if len(chat) == 0 {
		return nil
	}
	return append([]domain.ChatMessage(nil), chat...)
}
