package models

import "time"

// MeetingStatus represents the lifecycle state of a tutoring meeting.
type MeetingStatus string

// Meeting lifecycle states. CONFIRMED is accepted as a display alias of
// SCHEDULED and carries identical transition rules.
const (
	MeetingStatusOpen       MeetingStatus = "OPEN"
	MeetingStatusFull       MeetingStatus = "FULL"
	MeetingStatusScheduled  MeetingStatus = "SCHEDULED"
	MeetingStatusConfirmed  MeetingStatus = "CONFIRMED"
	MeetingStatusInProgress MeetingStatus = "IN_PROGRESS"
	MeetingStatusCompleted  MeetingStatus = "COMPLETED"
	MeetingStatusCancelled  MeetingStatus = "CANCELLED"
)

// Normalized collapses alias statuses into their canonical state.
func (s MeetingStatus) Normalized() MeetingStatus {
	if s == MeetingStatusConfirmed {
		return MeetingStatusScheduled
	}
	return s
}

// Terminal reports whether the status admits no further transitions.
func (s MeetingStatus) Terminal() bool {
	return s == MeetingStatusCompleted || s == MeetingStatusCancelled
}

// Booked reports whether the meeting is booked but not yet started.
func (s MeetingStatus) Booked() bool {
	switch s.Normalized() {
	case MeetingStatusScheduled, MeetingStatusFull:
		return true
	}
	return false
}

// DeliveryMode indicates how a meeting is held.
type DeliveryMode string

const (
	ModeZoom     DeliveryMode = "ZOOM"
	ModeTeams    DeliveryMode = "TEAMS"
	ModeInPerson DeliveryMode = "IN_PERSON"
)

// Online reports whether the mode requires a meeting link.
func (m DeliveryMode) Online() bool {
	return m == ModeZoom || m == ModeTeams
}

// Valid reports whether the mode is one of the supported delivery modes.
func (m DeliveryMode) Valid() bool {
	return m == ModeZoom || m == ModeTeams || m == ModeInPerson
}

// StudentRating holds the single rating a student may attach to a completed
// meeting. The submitted score is replicated across the sub-dimensions.
type StudentRating struct {
	RatingTeaching      *int       `db:"rating_teaching" json:"rating_teaching,omitempty"`
	RatingCommunication *int       `db:"rating_communication" json:"rating_communication,omitempty"`
	RatingPunctuality   *int       `db:"rating_punctuality" json:"rating_punctuality,omitempty"`
	RatingOverall       *int       `db:"rating_overall" json:"rating_overall,omitempty"`
	RatingComment       *string    `db:"rating_comment" json:"rating_comment,omitempty"`
	RatingSubmittedAt   *time.Time `db:"rating_submitted_at" json:"rating_submitted_at,omitempty"`
}

// Rated reports whether a rating has been attached.
func (r StudentRating) Rated() bool {
	return r.RatingSubmittedAt != nil
}

// Meeting represents a scheduled or potential tutoring session. A meeting is
// never deleted, only transitioned to a terminal status.
type Meeting struct {
	ID              string        `db:"id" json:"id"`
	TutorID         string        `db:"tutor_id" json:"tutor_id"`
	TutorName       string        `db:"tutor_name" json:"tutor_name"`
	StudentID       string        `db:"student_id" json:"student_id"`
	StudentName     string        `db:"student_name" json:"student_name"`
	Date            time.Time     `db:"date" json:"date"`
	StartAt         *time.Time    `db:"start_at" json:"start_at,omitempty"`
	DurationMinutes int           `db:"duration_minutes" json:"duration_minutes"`
	Mode            DeliveryMode  `db:"mode" json:"mode"`
	Link            string        `db:"link" json:"link,omitempty"`
	Location        string        `db:"location" json:"location,omitempty"`
	MaxCapacity     int           `db:"max_capacity" json:"max_capacity"`
	CurrentCount    int           `db:"current_count" json:"current_count"`
	Status          MeetingStatus `db:"status" json:"status"`
	CancelledBy     string        `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelReason    string        `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	StudentRating
	Version   int       `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MeetingFilter describes query params for listing meetings.
type MeetingFilter struct {
	TutorID   string
	StudentID string
	Status    MeetingStatus
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// MeetingConflict describes an existing booking that blocks a candidate slot.
type MeetingConflict struct {
	MeetingID string        `json:"meeting_id"`
	PersonID  string        `json:"person_id"`
	StartAt   time.Time     `json:"start_at"`
	EndAt     time.Time     `json:"end_at"`
	Status    MeetingStatus `json:"status"`
}

// MeetingConflictError is returned when a candidate slot overlaps an active
// booking for the same person.
type MeetingConflictError struct {
	Message  string          `json:"message"`
	Conflict MeetingConflict `json:"conflict"`
}

// Error implements the error interface for conflict errors.
func (e *MeetingConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}
