package domain

import "time"

type UserID string

type MeetingRecord struct {
	UserID      UserID    `json:"user_id"`
	MeetingCode string    `json:"meeting_code"`
	CreatedAt   time.Time `json:"created_at"`
}
