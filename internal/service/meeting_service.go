package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/internal/repository"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

type meetingRepository interface {
	List(ctx context.Context, filter models.MeetingFilter) ([]models.Meeting, int, error)
	FindByID(ctx context.Context, id string) (*models.Meeting, error)
	ListActiveByPerson(ctx context.Context, personID string) ([]models.Meeting, error)
	Create(ctx context.Context, meeting *models.Meeting) error
	Update(ctx context.Context, meeting *models.Meeting) error
}

// Notifier delivers a message to a named recipient. Implementations are
// best-effort: a delivery failure never rolls back the transition that
// triggered it.
type Notifier interface {
	Notify(ctx context.Context, recipientName, title, message string) error
}

// CreateSlotRequest describes payload for opening a tutoring slot.
type CreateSlotRequest struct {
	TutorID         string     `json:"tutor_id"`
	TutorName       string     `json:"tutor_name"`
	Date            time.Time  `json:"date" validate:"required"`
	StartAt         *time.Time `json:"start_at"`
	DurationMinutes int        `json:"duration_minutes" validate:"omitempty,min=15"`
	Mode            string     `json:"mode" validate:"required"`
	Link            string     `json:"link"`
	Location        string     `json:"location"`
	MaxCapacity     int        `json:"max_capacity" validate:"required,min=1"`
}

// RescheduleRequest moves an existing meeting to a new date/time.
type RescheduleRequest struct {
	Date            time.Time  `json:"date" validate:"required"`
	StartAt         *time.Time `json:"start_at"`
	DurationMinutes int        `json:"duration_minutes" validate:"omitempty,min=15"`
}

// CancelRequest carries the cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// JoinResponse returns where the student should go once the join window is open.
type JoinResponse struct {
	MeetingID string              `json:"meeting_id"`
	Mode      models.DeliveryMode `json:"mode"`
	Link      string              `json:"link,omitempty"`
	Location  string              `json:"location,omitempty"`
}

// MeetingService drives the meeting lifecycle: slot creation, registration,
// start/finish, cancellation and rescheduling. All transitions are validated
// against the actor's role and the time-window rules, and persisted with a
// per-meeting version check.
type MeetingService struct {
	repo      meetingRepository
	notifier  Notifier
	cache     *CacheService
	metrics   *MetricsService
	windows   models.TimeWindows
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewMeetingService constructs MeetingService.
func NewMeetingService(repo meetingRepository, notifier Notifier, cache *CacheService, metrics *MetricsService, windows models.TimeWindows, validate *validator.Validate, logger *zap.Logger) *MeetingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if windows == (models.TimeWindows{}) {
		windows = models.DefaultTimeWindows()
	}
	return &MeetingService{
		repo:      repo,
		notifier:  notifier,
		cache:     cache,
		metrics:   metrics,
		windows:   windows,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns meetings with pagination metadata.
func (s *MeetingService) List(ctx context.Context, filter models.MeetingFilter) ([]models.Meeting, *models.Pagination, error) {
	meetings, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list meetings")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return meetings, pagination, nil
}

// ListUpcoming returns the person's non-terminal meetings still inside the
// upcoming window, cached per person when caching is enabled.
func (s *MeetingService) ListUpcoming(ctx context.Context, personID string) ([]models.Meeting, error) {
	key := fmt.Sprintf("meetings:upcoming:%s", personID)
	var cached []models.Meeting
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}

	meetings, err := s.repo.ListActiveByPerson(ctx, personID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list upcoming meetings")
	}

	now := s.now()
	upcoming := make([]models.Meeting, 0, len(meetings))
	for i := range meetings {
		if s.windows.IsUpcoming(&meetings[i], now) {
			upcoming = append(upcoming, meetings[i])
		}
	}

	if err := s.cache.Set(ctx, key, upcoming, 0); err != nil {
		s.logger.Warn("failed to cache upcoming meetings", zap.String("person_id", personID), zap.Error(err))
	}
	return upcoming, nil
}

// Get returns a single meeting.
func (s *MeetingService) Get(ctx context.Context, id string) (*models.Meeting, error) {
	return s.load(ctx, id)
}

// CreateSlot opens a new tutoring slot. Tutors open slots for themselves;
// managers may open one on any tutor's behalf. The slot is conflict-checked
// against the tutor's active bookings before being persisted.
func (s *MeetingService) CreateSlot(ctx context.Context, actor *models.JWTClaims, req CreateSlotRequest) (*models.Meeting, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot payload")
	}

	tutorID := req.TutorID
	tutorName := req.TutorName
	switch actor.Role {
	case models.RoleTutor:
		tutorID = actor.UserID
		tutorName = actor.FullName
	case models.RoleManager:
		if tutorID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "tutor_id is required")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrUnauthorizedAction, "only tutors or managers may open slots")
	}

	mode := models.DeliveryMode(req.Mode)
	if !mode.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown delivery mode")
	}
	if mode.Online() && (req.Link == "" || req.Location != "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "online meetings require a link and no location")
	}
	if !mode.Online() && (req.Location == "" || req.Link != "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "in-person meetings require a location and no link")
	}

	duration := req.DurationMinutes
	if duration <= 0 {
		duration = int(s.windows.DefaultDuration / time.Minute)
	}

	meeting := &models.Meeting{
		TutorID:         tutorID,
		TutorName:       tutorName,
		Date:            req.Date,
		StartAt:         req.StartAt,
		DurationMinutes: duration,
		Mode:            mode,
		Link:            req.Link,
		Location:        req.Location,
		MaxCapacity:     req.MaxCapacity,
		CurrentCount:    0,
		Status:          models.MeetingStatusOpen,
	}

	start, ok := models.ResolveStart(meeting)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "slot has no resolvable start time")
	}
	end := start.Add(time.Duration(duration) * time.Minute)
	if err := s.ensureNoConflict(ctx, tutorID, start, end, ""); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, meeting); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create slot")
	}

	s.afterTransition(ctx, "slot_created", meeting)
	return meeting, nil
}

// Register books a student into an open slot. Reaching capacity flips the
// status to FULL; registering beyond capacity is rejected without mutation.
func (s *MeetingService) Register(ctx context.Context, actor *models.JWTClaims, meetingID string) (*models.Meeting, error) {
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrUnauthorizedAction, "only students may register")
	}

	meeting, err := s.load(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	switch meeting.Status.Normalized() {
	case models.MeetingStatusOpen, models.MeetingStatusScheduled:
	case models.MeetingStatusFull:
		return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "meeting is already at capacity")
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "meeting is not open for registration")
	}
	if meeting.CurrentCount >= meeting.MaxCapacity {
		return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "meeting is already at capacity")
	}
	if meeting.StudentID == actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already registered for this meeting")
	}

	start, ok := models.ResolveStart(meeting)
	if ok {
		end, _ := s.windows.ResolveEnd(meeting)
		if err := s.ensureNoConflict(ctx, actor.UserID, start, end, meeting.ID); err != nil {
			return nil, err
		}
	}

	if meeting.StudentID == "" {
		meeting.StudentID = actor.UserID
		meeting.StudentName = actor.FullName
	}
	meeting.CurrentCount++
	if meeting.CurrentCount == meeting.MaxCapacity {
		meeting.Status = models.MeetingStatusFull
	}

	if err := s.persist(ctx, meeting); err != nil {
		return nil, err
	}

	s.afterTransition(ctx, "registered", meeting)
	return meeting, nil
}

// Start moves a booked meeting into IN_PROGRESS. Only the assigned tutor or
// a manager may start a meeting, and only one with at least one registrant.
func (s *MeetingService) Start(ctx context.Context, actor *models.JWTClaims, meetingID string) (*models.Meeting, error) {
	meeting, err := s.load(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, meeting) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorizedAction, "only the assigned tutor or a manager may start a meeting")
	}
	if meeting.CurrentCount == 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "meeting has no registrants")
	}
	switch meeting.Status.Normalized() {
	case models.MeetingStatusScheduled, models.MeetingStatusFull, models.MeetingStatusOpen:
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "meeting is not in a startable state")
	}

	meeting.Status = models.MeetingStatusInProgress
	if err := s.persist(ctx, meeting); err != nil {
		return nil, err
	}

	s.afterTransition(ctx, "started", meeting)
	return meeting, nil
}

// Finish completes an in-progress meeting, making it eligible for a single
// student rating and for progress recording.
func (s *MeetingService) Finish(ctx context.Context, actor *models.JWTClaims, meetingID string) (*models.Meeting, error) {
	meeting, err := s.load(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, meeting) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorizedAction, "only the assigned tutor or a manager may finish a meeting")
	}
	if meeting.Status != models.MeetingStatusInProgress {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only in-progress meetings can be finished")
	}

	meeting.Status = models.MeetingStatusCompleted
	if err := s.persist(ctx, meeting); err != nil {
		return nil, err
	}

	s.afterTransition(ctx, "finished", meeting)
	return meeting, nil
}

// Cancel transitions a meeting to CANCELLED, recording who cancelled and
// why, and notifies the other party. Cancellation of a slot with at least
// one registrant is refused inside the lock window.
func (s *MeetingService) Cancel(ctx context.Context, actor *models.JWTClaims, meetingID string, req CancelRequest) (*models.Meeting, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "cancellation reason is required")
	}

	meeting, err := s.load(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "meeting is already completed or cancelled")
	}
	if !s.isParty(actor, meeting) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorizedAction, "only a participant or a manager may cancel")
	}
	if meeting.CurrentCount > 0 && s.windows.IsCancelLocked(meeting, s.now()) {
		return nil, appErrors.Clone(appErrors.ErrCancellationLocked, "meetings cannot be cancelled within 24 hours of start")
	}

	meeting.Status = models.MeetingStatusCancelled
	meeting.CancelledBy = actor.FullName
	meeting.CancelReason = req.Reason

	if err := s.persist(ctx, meeting); err != nil {
		return nil, err
	}

	s.afterTransition(ctx, "cancelled", meeting)
	s.notifyCounterpart(ctx, actor, meeting, "Meeting cancelled",
		fmt.Sprintf("Your meeting on %s was cancelled by %s: %s", meeting.Date.Format("2006-01-02"), actor.FullName, req.Reason))
	return meeting, nil
}

// Withdraw removes the acting student from a slot they registered in. The
// count is decremented and a FULL slot reverts to OPEN so the seat can be
// rebooked. The cancellation lock window applies.
func (s *MeetingService) Withdraw(ctx context.Context, actor *models.JWTClaims, meetingID string) (*models.Meeting, error) {
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrUnauthorizedAction, "only students may withdraw")
	}

	meeting, err := s.load(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting.Status.Terminal() || meeting.Status == models.MeetingStatusInProgress {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "meeting can no longer be withdrawn from")
	}
	if meeting.StudentID != actor.UserID || meeting.CurrentCount == 0 {
		return nil, appErrors.Clone(appErrors.ErrUnauthorizedAction, "student is not registered for this meeting")
	}
	if s.windows.IsCancelLocked(meeting, s.now()) {
		return nil, appErrors.Clone(appErrors.ErrCancellationLocked, "registrations cannot be withdrawn within 24 hours of start")
	}

	meeting.CurrentCount--
	meeting.StudentID = ""
	meeting.StudentName = ""
	if meeting.CurrentCount < meeting.MaxCapacity && !meeting.Status.Terminal() {
		meeting.Status = models.MeetingStatusOpen
	}

	if err := s.persist(ctx, meeting); err != nil {
		return nil, err
	}

	s.afterTransition(ctx, "withdrawn", meeting)
	s.notify(ctx, meeting.TutorName, "Registration withdrawn",
		fmt.Sprintf("%s withdrew from your meeting on %s", actor.FullName, meeting.Date.Format("2006-01-02")))
	return meeting, nil
}

// Reschedule moves a meeting to a new date/time in place. The moved slot is
// conflict-checked for both parties before committing, and the lock window
// applies to booked slots.
func (s *MeetingService) Reschedule(ctx context.Context, actor *models.JWTClaims, meetingID string, req RescheduleRequest) (*models.Meeting, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reschedule payload")
	}

	meeting, err := s.load(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, meeting) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorizedAction, "only the assigned tutor or a manager may reschedule")
	}
	if meeting.Status.Terminal() || meeting.Status == models.MeetingStatusInProgress {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "meeting can no longer be rescheduled")
	}
	if meeting.CurrentCount > 0 && s.windows.IsCancelLocked(meeting, s.now()) {
		return nil, appErrors.Clone(appErrors.ErrCancellationLocked, "meetings cannot be rescheduled within 24 hours of start")
	}

	moved := *meeting
	moved.Date = req.Date
	moved.StartAt = req.StartAt
	if req.DurationMinutes > 0 {
		moved.DurationMinutes = req.DurationMinutes
	}

	start, ok := models.ResolveStart(&moved)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rescheduled slot has no resolvable start time")
	}
	end := start.Add(time.Duration(moved.DurationMinutes) * time.Minute)
	if err := s.ensureNoConflict(ctx, meeting.TutorID, start, end, meeting.ID); err != nil {
		return nil, err
	}
	if meeting.StudentID != "" {
		if err := s.ensureNoConflict(ctx, meeting.StudentID, start, end, meeting.ID); err != nil {
			return nil, err
		}
	}

	if err := s.persist(ctx, &moved); err != nil {
		return nil, err
	}

	s.afterTransition(ctx, "rescheduled", &moved)
	if moved.StudentName != "" {
		s.notify(ctx, moved.StudentName, "Meeting rescheduled",
			fmt.Sprintf("Your meeting with %s was moved to %s", moved.TutorName, start.Format("2006-01-02 15:04")))
	}
	return &moved, nil
}

// Join validates the join window and returns the meeting link or location.
// The join control is rejected, not merely hidden, outside the window.
func (s *MeetingService) Join(ctx context.Context, actor *models.JWTClaims, meetingID string) (*JoinResponse, error) {
	meeting, err := s.load(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if !s.isParty(actor, meeting) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorizedAction, "only a participant may join")
	}
	switch meeting.Status.Normalized() {
	case models.MeetingStatusScheduled, models.MeetingStatusFull, models.MeetingStatusInProgress:
	default:
		return nil, appErrors.Clone(appErrors.ErrNotJoinable, "meeting is not in a joinable state")
	}
	if !s.windows.CanJoinNow(meeting, s.now()) {
		return nil, appErrors.Clone(appErrors.ErrNotJoinable, "join window is not open")
	}

	return &JoinResponse{
		MeetingID: meeting.ID,
		Mode:      meeting.Mode,
		Link:      meeting.Link,
		Location:  meeting.Location,
	}, nil
}

func (s *MeetingService) load(ctx context.Context, id string) (*models.Meeting, error) {
	meeting, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "meeting not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load meeting")
	}
	return meeting, nil
}

func (s *MeetingService) persist(ctx context.Context, meeting *models.Meeting) error {
	if err := s.repo.Update(ctx, meeting); err != nil {
		if errors.Is(err, repository.ErrStaleVersion) {
			return appErrors.Clone(appErrors.ErrVersionConflict, "meeting was modified concurrently, retry")
		}
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "meeting not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update meeting")
	}
	return nil
}

func (s *MeetingService) ensureNoConflict(ctx context.Context, personID string, start, end time.Time, ignoreID string) error {
	existing, err := s.repo.ListActiveByPerson(ctx, personID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check meeting conflicts")
	}

	for i := range existing {
		item := &existing[i]
		if item.ID == ignoreID {
			continue
		}
		exStart, ok := models.ResolveStart(item)
		if !ok {
			continue
		}
		exEnd, _ := s.windows.ResolveEnd(item)
		if models.Overlaps(start, end, exStart, exEnd) {
			domainErr := &models.MeetingConflictError{
				Message: "slot overlaps an existing booking",
				Conflict: models.MeetingConflict{
					MeetingID: item.ID,
					PersonID:  personID,
					StartAt:   exStart,
					EndAt:     exEnd,
					Status:    item.Status,
				},
			}
			return appErrors.Wrap(domainErr, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "slot overlaps an existing booking")
		}
	}
	return nil
}

func (s *MeetingService) isParty(actor *models.JWTClaims, meeting *models.Meeting) bool {
	if actor == nil {
		return false
	}
	switch actor.Role {
	case models.RoleManager:
		return true
	case models.RoleTutor:
		return actor.UserID == meeting.TutorID
	case models.RoleStudent:
		return actor.UserID == meeting.StudentID
	}
	return false
}

func canManage(actor *models.JWTClaims, meeting *models.Meeting) bool {
	if actor == nil {
		return false
	}
	if actor.Role == models.RoleManager {
		return true
	}
	return actor.Role == models.RoleTutor && actor.UserID == meeting.TutorID
}

func (s *MeetingService) afterTransition(ctx context.Context, kind string, meeting *models.Meeting) {
	if s.metrics != nil {
		s.metrics.RecordMeetingTransition(kind)
	}
	if err := s.cache.Invalidate(ctx, "meetings:upcoming:*"); err != nil {
		s.logger.Warn("failed to invalidate meeting cache", zap.Error(err))
	}
	s.logger.Info("meeting transition",
		zap.String("meeting_id", meeting.ID),
		zap.String("transition", kind),
		zap.String("status", string(meeting.Status)))
}

func (s *MeetingService) notify(ctx context.Context, recipient, title, message string) {
	if s.notifier == nil || recipient == "" {
		return
	}
	if err := s.notifier.Notify(ctx, recipient, title, message); err != nil {
		s.logger.Warn("notification dispatch failed", zap.String("recipient", recipient), zap.Error(err))
	}
}

func (s *MeetingService) notifyCounterpart(ctx context.Context, actor *models.JWTClaims, meeting *models.Meeting, title, message string) {
	recipient := meeting.StudentName
	if actor.UserID == meeting.StudentID {
		recipient = meeting.TutorName
	}
	s.notify(ctx, recipient, title, message)
}
