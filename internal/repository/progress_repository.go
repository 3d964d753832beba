package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutoring-api/internal/models"
)

// ProgressRepository handles persistence of progress records.
type ProgressRepository struct {
	db *sqlx.DB
}

// NewProgressRepository constructs the repository.
func NewProgressRepository(db *sqlx.DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// FindByMeeting returns the progress record for a meeting, if any.
func (r *ProgressRepository) FindByMeeting(ctx context.Context, meetingID string) (*models.ProgressRecord, error) {
	const query = `SELECT id, meeting_id, tutor_id, student_id, topics, remarks, created_at
        FROM progress_records WHERE meeting_id = $1`
	var record models.ProgressRecord
	if err := r.db.GetContext(ctx, &record, query, meetingID); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByStudent returns all progress records for a student.
func (r *ProgressRepository) ListByStudent(ctx context.Context, studentID string) ([]models.ProgressRecord, error) {
	const query = `SELECT id, meeting_id, tutor_id, student_id, topics, remarks, created_at
        FROM progress_records WHERE student_id = $1 ORDER BY created_at DESC`
	var records []models.ProgressRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("list progress records: %w", err)
	}
	return records, nil
}

// Create persists a new progress record.
func (r *ProgressRepository) Create(ctx context.Context, record *models.ProgressRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO progress_records (id, meeting_id, tutor_id, student_id, topics, remarks, created_at)
        VALUES (:id, :meeting_id, :tutor_id, :student_id, :topics, :remarks, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create progress record: %w", err)
	}
	return nil
}
