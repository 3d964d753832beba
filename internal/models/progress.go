package models

import "time"

// ProgressRecord captures what a tutor recorded after a completed meeting.
type ProgressRecord struct {
	ID        string    `db:"id" json:"id"`
	MeetingID string    `db:"meeting_id" json:"meeting_id"`
	TutorID   string    `db:"tutor_id" json:"tutor_id"`
	StudentID string    `db:"student_id" json:"student_id"`
	Topics    string    `db:"topics" json:"topics"`
	Remarks   string    `db:"remarks" json:"remarks"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
