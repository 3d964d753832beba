package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

type progressRepository interface {
	FindByMeeting(ctx context.Context, meetingID string) (*models.ProgressRecord, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.ProgressRecord, error)
	Create(ctx context.Context, record *models.ProgressRecord) error
}

type progressMeetingReader interface {
	FindByID(ctx context.Context, id string) (*models.Meeting, error)
}

// RecordProgressRequest describes what the tutor covered in a meeting.
type RecordProgressRequest struct {
	Topics  string `json:"topics" validate:"required"`
	Remarks string `json:"remarks"`
}

// ProgressService records per-meeting progress notes once a meeting has
// completed.
type ProgressService struct {
	repo      progressRepository
	meetings  progressMeetingReader
	notifier  Notifier
	validator *validator.Validate
	logger    *zap.Logger
}

// NewProgressService constructs ProgressService.
func NewProgressService(repo progressRepository, meetings progressMeetingReader, notifier Notifier, validate *validator.Validate, logger *zap.Logger) *ProgressService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressService{repo: repo, meetings: meetings, notifier: notifier, validator: validate, logger: logger}
}

// Record creates the progress record for a completed meeting. One record per
// meeting; the student is notified on success.
func (s *ProgressService) Record(ctx context.Context, actor *models.JWTClaims, meetingID string, req RecordProgressRequest) (*models.ProgressRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid progress payload")
	}

	meeting, err := s.meetings.FindByID(ctx, meetingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "meeting not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load meeting")
	}

	if !canManage(actor, meeting) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorizedAction, "only the assigned tutor or a manager may record progress")
	}
	if meeting.Status != models.MeetingStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "progress can only be recorded for completed meetings")
	}

	if _, err := s.repo.FindByMeeting(ctx, meetingID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "progress already recorded for this meeting")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check progress record")
	}

	record := &models.ProgressRecord{
		MeetingID: meetingID,
		TutorID:   meeting.TutorID,
		StudentID: meeting.StudentID,
		Topics:    req.Topics,
		Remarks:   req.Remarks,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create progress record")
	}

	if s.notifier != nil && meeting.StudentName != "" {
		if err := s.notifier.Notify(ctx, meeting.StudentName, "Progress recorded",
			fmt.Sprintf("%s recorded progress for your meeting on %s", meeting.TutorName, meeting.Date.Format("2006-01-02"))); err != nil {
			s.logger.Warn("progress notification failed", zap.String("meeting_id", meetingID), zap.Error(err))
		}
	}

	return record, nil
}

// ListByStudent returns a student's progress history. Students may only read
// their own records.
func (s *ProgressService) ListByStudent(ctx context.Context, actor *models.JWTClaims, studentID string) ([]models.ProgressRecord, error) {
	if actor.Role == models.RoleStudent && actor.UserID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only view their own progress")
	}
	records, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list progress records")
	}
	return records, nil
}
