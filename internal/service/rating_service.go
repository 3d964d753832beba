package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/internal/repository"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

type ratingMeetingRepository interface {
	FindByID(ctx context.Context, id string) (*models.Meeting, error)
	Update(ctx context.Context, meeting *models.Meeting) error
}

type feedbackRepository interface {
	FindByMeeting(ctx context.Context, meetingID string) (*models.Feedback, error)
	Create(ctx context.Context, feedback *models.Feedback) error
}

// SubmitRatingRequest carries a student's rating for a completed meeting.
type SubmitRatingRequest struct {
	Score   int    `json:"score" validate:"required,min=1,max=5"`
	Comment string `json:"comment"`
}

// RatingService attaches at most one student rating to a completed meeting,
// reconciling with feedback submitted through the separate feedback channel
// so the two recording paths cannot double count.
type RatingService struct {
	meetings  ratingMeetingRepository
	feedback  feedbackRepository
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewRatingService constructs RatingService.
func NewRatingService(meetings ratingMeetingRepository, feedback feedbackRepository, validate *validator.Validate, logger *zap.Logger) *RatingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RatingService{
		meetings:  meetings,
		feedback:  feedback,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SubmitRating validates and attaches the rating. A pre-existing feedback
// record wins: it is folded onto the meeting and the new submission is
// rejected as already rated.
func (s *RatingService) SubmitRating(ctx context.Context, actor *models.JWTClaims, meetingID string, req SubmitRatingRequest) (*models.Meeting, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rating payload")
	}

	meeting, err := s.meetings.FindByID(ctx, meetingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "meeting not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load meeting")
	}

	if actor.Role != models.RoleStudent || actor.UserID != meeting.StudentID {
		return nil, appErrors.Clone(appErrors.ErrUnauthorizedAction, "only the registered student may rate this meeting")
	}
	if meeting.Status != models.MeetingStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only completed meetings can be rated")
	}
	if meeting.Rated() {
		return nil, appErrors.Clone(appErrors.ErrAlreadyRated, "meeting has already been rated")
	}

	existing, err := s.feedback.FindByMeeting(ctx, meetingID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up feedback")
	}
	if existing != nil {
		s.fold(meeting, existing.Rating, existing.Comment, existing.SubmittedAt)
		if err := s.persist(ctx, meeting); err != nil {
			return nil, err
		}
		s.logger.Info("reconciled feedback record onto meeting",
			zap.String("meeting_id", meetingID), zap.String("feedback_id", existing.ID))
		return nil, appErrors.Clone(appErrors.ErrAlreadyRated, "meeting was already rated through the feedback channel")
	}

	submittedAt := s.now()
	s.fold(meeting, req.Score, req.Comment, submittedAt)
	if err := s.persist(ctx, meeting); err != nil {
		return nil, err
	}

	// Mirror the rating into the feedback channel so both paths agree.
	record := &models.Feedback{
		MeetingID:   meetingID,
		StudentID:   meeting.StudentID,
		TutorID:     meeting.TutorID,
		Rating:      req.Score,
		Comment:     req.Comment,
		SubmittedAt: submittedAt,
	}
	if err := s.feedback.Create(ctx, record); err != nil {
		s.logger.Warn("failed to mirror rating into feedback", zap.String("meeting_id", meetingID), zap.Error(err))
	}

	return meeting, nil
}

// fold replicates a single score across the rating sub-dimensions.
func (s *RatingService) fold(meeting *models.Meeting, score int, comment string, submittedAt time.Time) {
	sc := score
	meeting.RatingTeaching = &sc
	meeting.RatingCommunication = &sc
	meeting.RatingPunctuality = &sc
	meeting.RatingOverall = &sc
	if comment != "" {
		c := comment
		meeting.RatingComment = &c
	}
	ts := submittedAt
	meeting.RatingSubmittedAt = &ts
}

func (s *RatingService) persist(ctx context.Context, meeting *models.Meeting) error {
	if err := s.meetings.Update(ctx, meeting); err != nil {
		if errors.Is(err, repository.ErrStaleVersion) {
			return appErrors.Clone(appErrors.ErrVersionConflict, "meeting was modified concurrently, retry")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store rating")
	}
	return nil
}
