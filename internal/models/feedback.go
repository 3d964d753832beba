package models

import "time"

// Feedback is a student-to-tutor rating submitted through the feedback
// channel, keyed by meeting. It is consulted before accepting a direct
// rating so the two recording paths cannot double count.
type Feedback struct {
	ID          string    `db:"id" json:"id"`
	MeetingID   string    `db:"meeting_id" json:"meeting_id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	TutorID     string    `db:"tutor_id" json:"tutor_id"`
	Rating      int       `db:"rating" json:"rating"`
	Comment     string    `db:"comment" json:"comment"`
	SubmittedAt time.Time `db:"submitted_at" json:"submitted_at"`
}
