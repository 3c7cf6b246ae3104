package ports

import (
	"context"

	"meshcall/internal/core/domain"
)

type RoomRegistry interface {
	Join(roomID domain.RoomID, participant *domain.Participant) (*domain.JoinResult, error)
	Leave(participantID domain.ParticipantID) (*domain.LeaveResult, bool)
	SharesRoom(a, b domain.ParticipantID) bool
	Peers(participantID domain.ParticipantID) []domain.ParticipantID
	RoomOf(participantID domain.ParticipantID) (domain.RoomID, bool)
	Participant(participantID domain.ParticipantID) (*domain.Participant, bool)
	AppendChat(participantID domain.ParticipantID, text string) (domain.ChatMessage, []domain.ParticipantID, error)
	Members(roomID domain.RoomID) []*domain.Participant
	Stats() domain.RegistryStats
}

type HistoryService interface {
	Record(ctx context.Context, userID domain.UserID, meetingCode string) (*domain.MeetingRecord, error)
	List(ctx context.Context, userID domain.UserID) ([]*domain.MeetingRecord, error)
}
