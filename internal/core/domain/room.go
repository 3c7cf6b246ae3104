package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

type RoomID string
type ParticipantID string

const (
	MaxRoomIDLength = 128
	// GeneratedRoomIDLength is the length of ids minted by NewRoomID.
	GeneratedRoomIDLength = 8
)

const roomIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

type Participant struct {
	ID          ParticipantID
	DisplayName string
	UserID      UserID
	JoinedAt    time.Time
}

type Room struct {
	ID        RoomID
	Members   map[ParticipantID]*Participant
	Chat      []ChatMessage
	CreatedAt time.Time
}

// MemberIDs returns the ids of every member except the excluded one.
func (r *Room) MemberIDs(exclude ParticipantID) []ParticipantID {
	ids := make([]ParticipantID, 0, len(r.Members))
	for id := range r.Members {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	return ids
}

// NormalizeRoomID trims the caller supplied room id and checks its bounds.
func NormalizeRoomID(raw string) (RoomID, error) {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > MaxRoomIDLength {
		return "", ErrInvalidRoomID
	}
	return RoomID(id), nil
}

// NewRoomID mints a random lowercase alphanumeric room id for a new meeting.
func NewRoomID() (RoomID, error) {
	max := big.NewInt(int64(len(roomIDAlphabet)))
	b := make([]byte, GeneratedRoomIDLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate room id: %w", err)
		}
		b[i] = roomIDAlphabet[n.Int64()]
	}
	return RoomID(b), nil
}

type ChatMessage struct {
	From   ParticipantID `json:"from"`
	Sender string        `json:"name"`
	Text   string        `json:"text"`
	SentAt time.Time     `json:"sent_at"`
}

type JoinResult struct {
	Room     RoomID
	Existing []*Participant
	Backlog  []ChatMessage
	Rejoined bool
	// Left is set when joining implicitly removed the participant from another room.
	Left *LeaveResult
}

type LeaveResult struct {
	Room       RoomID
	Remaining  []ParticipantID
	RoomClosed bool
}

type RegistryStats struct {
	Rooms        int
	Participants int
}
