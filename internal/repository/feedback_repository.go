package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutoring-api/internal/models"
)

// FeedbackRepository handles persistence of feedback records.
type FeedbackRepository struct {
	db *sqlx.DB
}

// NewFeedbackRepository constructs the repository.
func NewFeedbackRepository(db *sqlx.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// FindByMeeting returns the feedback record for a meeting, if any.
// sql.ErrNoRows signals that no feedback has been submitted.
func (r *FeedbackRepository) FindByMeeting(ctx context.Context, meetingID string) (*models.Feedback, error) {
	const query = `SELECT id, meeting_id, student_id, tutor_id, rating, comment, submitted_at
        FROM feedback WHERE meeting_id = $1`
	var feedback models.Feedback
	if err := r.db.GetContext(ctx, &feedback, query, meetingID); err != nil {
		return nil, err
	}
	return &feedback, nil
}

// Create persists a new feedback record.
func (r *FeedbackRepository) Create(ctx context.Context, feedback *models.Feedback) error {
	if feedback.ID == "" {
		feedback.ID = uuid.NewString()
	}
	if feedback.SubmittedAt.IsZero() {
		feedback.SubmittedAt = time.Now().UTC()
	}
	const query = `INSERT INTO feedback (id, meeting_id, student_id, tutor_id, rating, comment, submitted_at)
        VALUES (:id, :meeting_id, :student_id, :tutor_id, :rating, :comment, :submitted_at)`
	if _, err := r.db.NamedExecContext(ctx, query, feedback); err != nil {
		return fmt.Errorf("create feedback: %w", err)
	}
	return nil
}
