package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutoring-api/internal/models"
)

// ErrStaleVersion is returned when an optimistic update loses the race
// against a concurrent writer.
var ErrStaleVersion = errors.New("meeting modified concurrently")

const meetingColumns = `id, tutor_id, tutor_name, student_id, student_name, date, start_at,
        duration_minutes, mode, link, location, max_capacity, current_count, status,
        cancelled_by, cancellation_reason, rating_teaching, rating_communication,
        rating_punctuality, rating_overall, rating_comment, rating_submitted_at,
        version, created_at, updated_at`

// MeetingRepository handles persistence of meetings.
type MeetingRepository struct {
	db *sqlx.DB
}

// NewMeetingRepository constructs the repository.
func NewMeetingRepository(db *sqlx.DB) *MeetingRepository {
	return &MeetingRepository{db: db}
}

// List returns meetings filtered by the provided criteria.
func (r *MeetingRepository) List(ctx context.Context, filter models.MeetingFilter) ([]models.Meeting, int, error) {
	var conditions []string
	var args []interface{}

	if filter.TutorID != "" {
		conditions = append(conditions, fmt.Sprintf("tutor_id = $%d", len(args)+1))
		args = append(args, filter.TutorID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"date":       "date",
		"start_at":   "start_at",
		"status":     "status",
		"created_at": "created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "start_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s FROM meetings%s ORDER BY %s %s LIMIT %d OFFSET %d",
		meetingColumns, clause, orderBy, order, size, offset)

	var meetings []models.Meeting
	if err := r.db.SelectContext(ctx, &meetings, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list meetings: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM meetings%s", clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count meetings: %w", err)
	}
	return meetings, total, nil
}

// FindByID returns a meeting by its ID.
func (r *MeetingRepository) FindByID(ctx context.Context, id string) (*models.Meeting, error) {
	query := fmt.Sprintf("SELECT %s FROM meetings WHERE id = $1", meetingColumns)
	var meeting models.Meeting
	if err := r.db.GetContext(ctx, &meeting, query, id); err != nil {
		return nil, err
	}
	return &meeting, nil
}

// ListActiveByPerson returns non-terminal meetings involving the person as
// tutor or student. Used by conflict detection.
func (r *MeetingRepository) ListActiveByPerson(ctx context.Context, personID string) ([]models.Meeting, error) {
	query := fmt.Sprintf(`SELECT %s FROM meetings
        WHERE (tutor_id = $1 OR student_id = $1) AND status NOT IN ($2, $3)`, meetingColumns)
	var meetings []models.Meeting
	if err := r.db.SelectContext(ctx, &meetings, query, personID,
		models.MeetingStatusCancelled, models.MeetingStatusCompleted); err != nil {
		return nil, fmt.Errorf("list active meetings: %w", err)
	}
	return meetings, nil
}

// Create persists a new meeting record.
func (r *MeetingRepository) Create(ctx context.Context, meeting *models.Meeting) error {
	if meeting.ID == "" {
		meeting.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if meeting.CreatedAt.IsZero() {
		meeting.CreatedAt = now
	}
	meeting.UpdatedAt = now
	if meeting.Status == "" {
		meeting.Status = models.MeetingStatusOpen
	}
	const query = `INSERT INTO meetings (id, tutor_id, tutor_name, student_id, student_name, date, start_at,
        duration_minutes, mode, link, location, max_capacity, current_count, status,
        cancelled_by, cancellation_reason, rating_teaching, rating_communication,
        rating_punctuality, rating_overall, rating_comment, rating_submitted_at,
        version, created_at, updated_at)
        VALUES (:id, :tutor_id, :tutor_name, :student_id, :student_name, :date, :start_at,
        :duration_minutes, :mode, :link, :location, :max_capacity, :current_count, :status,
        :cancelled_by, :cancellation_reason, :rating_teaching, :rating_communication,
        :rating_punctuality, :rating_overall, :rating_comment, :rating_submitted_at,
        :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, meeting); err != nil {
		return fmt.Errorf("create meeting: %w", err)
	}
	return nil
}

// Update persists the full meeting row guarded by its version. The caller's
// copy has its version bumped on success. ErrStaleVersion signals a lost
// race with a concurrent writer.
func (r *MeetingRepository) Update(ctx context.Context, meeting *models.Meeting) error {
	meeting.UpdatedAt = time.Now().UTC()
	const query = `UPDATE meetings SET tutor_id = :tutor_id, tutor_name = :tutor_name,
        student_id = :student_id, student_name = :student_name, date = :date, start_at = :start_at,
        duration_minutes = :duration_minutes, mode = :mode, link = :link, location = :location,
        max_capacity = :max_capacity, current_count = :current_count, status = :status,
        cancelled_by = :cancelled_by, cancellation_reason = :cancellation_reason,
        rating_teaching = :rating_teaching, rating_communication = :rating_communication,
        rating_punctuality = :rating_punctuality, rating_overall = :rating_overall,
        rating_comment = :rating_comment, rating_submitted_at = :rating_submitted_at,
        version = :version + 1, updated_at = :updated_at
        WHERE id = :id AND version = :version`
	result, err := r.db.NamedExecContext(ctx, query, meeting)
	if err != nil {
		return fmt.Errorf("update meeting: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update meeting rows: %w", err)
	}
	if affected == 0 {
		exists, checkErr := r.exists(ctx, meeting.ID)
		if checkErr != nil {
			return checkErr
		}
		if !exists {
			return sql.ErrNoRows
		}
		return ErrStaleVersion
	}
	meeting.Version++
	return nil
}

func (r *MeetingRepository) exists(ctx context.Context, id string) (bool, error) {
	var one int
	if err := r.db.GetContext(ctx, &one, "SELECT 1 FROM meetings WHERE id = $1 LIMIT 1", id); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check meeting exists: %w", err)
	}
	return true, nil
}
