package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/internal/repository"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

type mockMeetingRepo struct {
	items     map[string]*models.Meeting
	active    map[string][]models.Meeting
	updateErr error
	updated   []string
	created   []string
}

func (m *mockMeetingRepo) List(ctx context.Context, filter models.MeetingFilter) ([]models.Meeting, int, error) {
	out := make([]models.Meeting, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, *item)
	}
	return out, len(out), nil
}

func (m *mockMeetingRepo) FindByID(ctx context.Context, id string) (*models.Meeting, error) {
	if meeting, ok := m.items[id]; ok {
		cp := *meeting
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockMeetingRepo) ListActiveByPerson(ctx context.Context, personID string) ([]models.Meeting, error) {
	return m.active[personID], nil
}

func (m *mockMeetingRepo) Create(ctx context.Context, meeting *models.Meeting) error {
	if m.items == nil {
		m.items = make(map[string]*models.Meeting)
	}
	if meeting.ID == "" {
		meeting.ID = "generated"
	}
	cp := *meeting
	m.items[meeting.ID] = &cp
	m.created = append(m.created, meeting.ID)
	return nil
}

func (m *mockMeetingRepo) Update(ctx context.Context, meeting *models.Meeting) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	if m.items == nil {
		m.items = make(map[string]*models.Meeting)
	}
	meeting.Version++
	cp := *meeting
	m.items[meeting.ID] = &cp
	m.updated = append(m.updated, meeting.ID)
	return nil
}

type mockNotifier struct {
	sent []string
}

func (m *mockNotifier) Notify(ctx context.Context, recipient, title, message string) error {
	m.sent = append(m.sent, recipient+": "+title)
	return nil
}

func newTestMeetingService(repo *mockMeetingRepo, notifier Notifier, at time.Time) *MeetingService {
	svc := NewMeetingService(repo, notifier, nil, nil, models.DefaultTimeWindows(), validator.New(), zap.NewNop())
	svc.now = func() time.Time { return at }
	return svc
}

func timePtr(v time.Time) *time.Time { return &v }

func tutorClaims(id, name string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleTutor, FullName: name}
}

func studentClaims(id, name string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent, FullName: name}
}

func TestMeetingServiceCreateSlot(t *testing.T) {
	repo := &mockMeetingRepo{}
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	svc := newTestMeetingService(repo, nil, now)

	meeting, err := svc.CreateSlot(context.Background(), tutorClaims("t1", "Tutor One"), CreateSlotRequest{
		Date:        time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		StartAt:     timePtr(time.Date(2026, 3, 12, 14, 0, 0, 0, time.UTC)),
		Mode:        "ZOOM",
		Link:        "https://zoom.example/m1",
		MaxCapacity: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", meeting.TutorID)
	assert.Equal(t, models.MeetingStatusOpen, meeting.Status)
	assert.Equal(t, 120, meeting.DurationMinutes)
	assert.Len(t, repo.created, 1)
}

func TestMeetingServiceCreateSlotStudentForbidden(t *testing.T) {
	svc := newTestMeetingService(&mockMeetingRepo{}, nil, time.Now().UTC())

	_, err := svc.CreateSlot(context.Background(), studentClaims("s1", "Student"), CreateSlotRequest{
		Date:        time.Now().Add(48 * time.Hour),
		Mode:        "ZOOM",
		Link:        "https://zoom.example/m1",
		MaxCapacity: 1,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorizedAction.Code, appErrors.FromError(err).Code)
}

func TestMeetingServiceCreateSlotModeExclusivity(t *testing.T) {
	svc := newTestMeetingService(&mockMeetingRepo{}, nil, time.Now().UTC())
	date := time.Now().UTC().Add(72 * time.Hour)

	_, err := svc.CreateSlot(context.Background(), tutorClaims("t1", "Tutor"), CreateSlotRequest{
		Date: date, Mode: "ZOOM", Location: "Room 4", Link: "https://zoom.example/m1", MaxCapacity: 1,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.CreateSlot(context.Background(), tutorClaims("t1", "Tutor"), CreateSlotRequest{
		Date: date, Mode: "IN_PERSON", MaxCapacity: 1,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestMeetingServiceCreateSlotConflict(t *testing.T) {
	existingStart := time.Date(2026, 3, 12, 14, 0, 0, 0, time.UTC)
	repo := &mockMeetingRepo{
		active: map[string][]models.Meeting{
			"t1": {{
				ID:              "m-existing",
				TutorID:         "t1",
				Date:            existingStart,
				StartAt:         timePtr(existingStart),
				DurationMinutes: 120,
				Status:          models.MeetingStatusScheduled,
			}},
		},
	}
	svc := newTestMeetingService(repo, nil, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))

	// 15:00-16:00 overlaps the 14:00-16:00 booking.
	_, err := svc.CreateSlot(context.Background(), tutorClaims("t1", "Tutor"), CreateSlotRequest{
		Date:            existingStart,
		StartAt:         timePtr(time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)),
		DurationMinutes: 60,
		Mode:            "ZOOM",
		Link:            "https://zoom.example/m2",
		MaxCapacity:     1,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	var conflictErr *models.MeetingConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, "m-existing", conflictErr.Conflict.MeetingID)

	// 16:00-17:00 touches but does not overlap.
	_, err = svc.CreateSlot(context.Background(), tutorClaims("t1", "Tutor"), CreateSlotRequest{
		Date:            existingStart,
		StartAt:         timePtr(time.Date(2026, 3, 12, 16, 0, 0, 0, time.UTC)),
		DurationMinutes: 60,
		Mode:            "ZOOM",
		Link:            "https://zoom.example/m3",
		MaxCapacity:     1,
	})
	require.NoError(t, err)
}

func TestMeetingServiceRegisterFillsSlot(t *testing.T) {
	start := time.Date(2026, 3, 12, 14, 0, 0, 0, time.UTC)
	repo := &mockMeetingRepo{
		items: map[string]*models.Meeting{
			"m1": {
				ID: "m1", TutorID: "t1", TutorName: "Tutor One",
				Date: start, StartAt: timePtr(start), DurationMinutes: 60,
				Mode: models.ModeZoom, Link: "https://zoom.example/m1",
				MaxCapacity: 1, Status: models.MeetingStatusOpen,
			},
		},
	}
	svc := newTestMeetingService(repo, nil, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))

	meeting, err := svc.Register(context.Background(), studentClaims("s1", "Student One"), "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusFull, meeting.Status)
	assert.Equal(t, 1, meeting.CurrentCount)
	assert.Equal(t, "s1", meeting.StudentID)
}

func TestMeetingServiceRegisterAtCapacityRejected(t *testing.T) {
	repo := &mockMeetingRepo{
		items: map[string]*models.Meeting{
			"m1": {
				ID: "m1", TutorID: "t1", MaxCapacity: 1, CurrentCount: 1,
				StudentID: "s1", Status: models.MeetingStatusFull,
				Date: time.Date(2026, 3, 12, 14, 0, 0, 0, time.UTC),
			},
		},
	}
	svc := newTestMeetingService(repo, nil, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))

	_, err := svc.Register(context.Background(), studentClaims("s2", "Student Two"), "m1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCapacityExceeded.Code, appErrors.FromError(err).Code)
	// Nothing was persisted.
	assert.Empty(t, repo.updated)
	assert.Equal(t, 1, repo.items["m1"].CurrentCount)
}

func TestMeetingServiceRegisterStudentScheduleConflict(t *testing.T) {
	start := time.Date(2026, 3, 12, 14, 0, 0, 0, time.UTC)
	repo := &mockMeetingRepo{
		items: map[string]*models.Meeting{
			"m1": {
				ID: "m1", TutorID: "t1", Date: start, StartAt: timePtr(start),
				DurationMinutes: 60, MaxCapacity: 1, Status: models.MeetingStatusOpen,
			},
		},
		active: map[string][]models.Meeting{
			"s1": {{
				ID: "m-other", StudentID: "s1",
				Date: start, StartAt: timePtr(start.Add(30 * time.Minute)),
				DurationMinutes: 60, Status: models.MeetingStatusScheduled,
			}},
		},
	}
	svc := newTestMeetingService(repo, nil, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))

	_, err := svc.Register(context.Background(), studentClaims("s1", "Student One"), "m1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestMeetingServiceStart(t *testing.T) {
	repo := &mockMeetingRepo{
		items: map[string]*models.Meeting{
			"m1": {
				ID: "m1", TutorID: "t1", StudentID: "s1", CurrentCount: 1,
				MaxCapacity: 1, Status: models.MeetingStatusFull,
				Date: time.Date(2026, 3, 12, 14, 0, 0, 0, time.UTC),
			},
		},
	}
	svc := newTestMeetingService(repo, nil, time.Now().UTC())

	meeting, err := svc.Start(context.Background(), tutorClaims("t1", "Tutor"), "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusInProgress, meeting.Status)
}

func TestMeetingServiceStartWithoutRegistrants(t *testing.T) {
	repo := &mockMeetingRepo{
		items: map[string]*models.Meeting{
			"m1": {ID: "m1", TutorID: "t1", MaxCapacity: 1, Status: models.MeetingStatusOpen},
		},
	}
	svc := newTestMeetingService(repo, nil, time.Now().UTC())

	_, err := svc.Start(context.Background(), tutorClaims("t1", "Tutor"), "m1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestMeetingServiceStartOtherTutorForbidden(t *testing.T) {
	repo := &mockMeetingRepo{
		items: map[string]*models.Meeting{
			"m1": {ID: "m1", TutorID: "t1", StudentID: "s1", CurrentCount: 1, MaxCapacity: 1, Status: models.MeetingStatusFull},
		},
	}
	svc := newTestMeetingService(repo, nil, time.Now().UTC())

	_, err := svc.Start(context.Background(), tutorClaims("t2", "Other Tutor"), "m1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorizedAction.Code, appErrors.FromError(err).Code)
}

func TestMeetingServiceFinishRequiresInProgress(t *testing.T) {
	repo := &mockMeetingRepo{
		items: map[string]*models.Meeting{
			"m1": {ID: "m1", TutorID: "t1", StudentID: "s1", CurrentCount: 1, MaxCapacity: 1, Status: models.MeetingStatusInProgress},
			"m2": {ID: "m2", TutorID: "t1", StudentID: "s1", CurrentCount: 1, MaxCapacity: 1, Status: models.MeetingStatusFull},
		},
	}
	svc := newTestMeetingService(repo, nil, time.Now().UTC())

	meeting, err := svc.Finish(context.Background(), tutorClaims("t1", "Tutor"), "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusCompleted, meeting.Status)

	_, err = svc.Finish(context.Background(), tutorClaims("t1", "Tutor"), "m2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestMeetingServiceCancelInsideLockWindow(t *testing.T) {
	now := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)
	start := now.Add(23 * time.Hour)
	repo := &mockMeetingRepo{
		items: map[string]*models.Meeting{
			"m1": {
				ID: "m1", TutorID: "t1", StudentID: "s1", StudentName: "Student One",
				CurrentCount: 1, MaxCapacity: 1, Status: models.MeetingStatusFull,
				Date: start, StartAt: timePtr(start), DurationMinutes: 60,
			},
		},
	}
	svc := newTestMeetingService(repo, nil, now)

	_, err := svc.Cancel(context.Background(), tutorClaims("t1", "Tutor"), "m1", CancelRequest{Reason: "illness"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCancellationLocked.Code, appErrors.FromError(err).Code)
}

func TestMeetingServiceCancelOutsideLockWindow(t *testing.T) {
	now := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)
	start := now.Add(25 * time.Hour)
	notifier := &mockNotifier{}
	repo := &mockMeetingRepo{
		items: map[string]*models.Meeting{
			"m1": {
				ID: "m1", TutorID: "t1", TutorName: "Tutor One",
				StudentID: "s1", StudentName: "Student One",
				CurrentCount: 1, MaxCapacity: 1, Status: models.MeetingStatusFull,
				Date: start, StartAt: timePtr(start), DurationMinutes: 60,
			},
		},
	}
	svc := newTestMeetingService(repo, notifier, now)

	meeting, err := svc.Cancel(context.Background(), tutorClaims("t1", "Tutor One"), "m1", CancelRequest{Reason: "illness"})
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusCancelled, meeting.Status)
	assert.Equal(t, "Tutor One", meeting.CancelledBy)
	assert.Equal(t, "illness", meeting.CancelReason)
	require.Len(t, notifier.sent, 1)
	assert.Contains(t, notifier.sent[0], "Student One")
}

func TestMeetingServiceCancelEmptySlotIgnoresLock(t *testing.T) {
	now := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)
	start := now.Add(2 * time.Hour)
	repo := &mockMeetingRepo{
		items: map[string]*models.Meeting{
			"m1": {
				ID: "m1", TutorID: "t1", MaxCapacity: 1, Status: models.MeetingStatusOpen,
				Date: start, StartAt: timePtr(start), DurationMinutes: 60,
			},
		},
	}
	svc := newTestMeetingService(repo, nil, now)

	meeting, err := svc.Cancel(context.Background(), tutorClaims("t1", "Tutor"), "m1", CancelRequest{Reason: "no longer available"})
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusCancelled, meeting.Status)
}

func TestMeetingServiceWithdrawReopensFullSlot(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	start := now.Add(72 * time.Hour)
	notifier := &mockNotifier{}
	repo := &mockMeetingRepo{
		items: map[string]*models.Meeting{
			"m1": {
				ID: "m1", TutorID: "t1", TutorName: "Tutor One",
				StudentID: "s1", StudentName: "Student One",
				CurrentCount: 1, MaxCapacity: 1, Status: models.MeetingStatusFull,
				Date: start, StartAt: timePtr(start), DurationMinutes: 60,
			},
		},
	}
	svc := newTestMeetingService(repo, notifier, now)

	meeting, err := svc.Withdraw(context.Background(), studentClaims("s1", "Student One"), "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusOpen, meeting.Status)
	assert.Equal(t, 0, meeting.CurrentCount)
	assert.Empty(t, meeting.StudentID)
	require.Len(t, notifier.sent, 1)
	assert.Contains(t, notifier.sent[0], "Tutor One")
}

func TestMeetingServiceWithdrawLockedNearStart(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	start := now.Add(12 * time.Hour)
	repo := &mockMeetingRepo{
		items: map[string]*models.Meeting{
			"m1": {
				ID: "m1", TutorID: "t1", StudentID: "s1", CurrentCount: 1,
				MaxCapacity: 1, Status: models.MeetingStatusFull,
				Date: start, StartAt: timePtr(start), DurationMinutes: 60,
			},
		},
	}
	svc := newTestMeetingService(repo, nil, now)

	_, err := svc.Withdraw(context.Background(), studentClaims("s1", "Student One"), "m1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCancellationLocked.Code, appErrors.FromError(err).Code)
}

func TestMeetingServiceReschedule(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	start := now.Add(72 * time.Hour)
	notifier := &mockNotifier{}
	repo := &mockMeetingRepo{
		items: map[string]*models.Meeting{
			"m1": {
				ID: "m1", TutorID: "t1", TutorName: "Tutor One",
				StudentID: "s1", StudentName: "Student One",
				CurrentCount: 1, MaxCapacity: 1, Status: models.MeetingStatusFull,
				Date: start, StartAt: timePtr(start), DurationMinutes: 60,
			},
		},
	}
	svc := newTestMeetingService(repo, notifier, now)

	newStart := start.Add(24 * time.Hour)
	meeting, err := svc.Reschedule(context.Background(), tutorClaims("t1", "Tutor One"), "m1", RescheduleRequest{
		Date:    newStart,
		StartAt: timePtr(newStart),
	})
	require.NoError(t, err)
	assert.True(t, meeting.StartAt.Equal(newStart))
	require.Len(t, notifier.sent, 1)
	assert.Contains(t, notifier.sent[0], "Student One")
}

func TestMeetingServiceRescheduleStudentConflict(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	start := now.Add(72 * time.Hour)
	newStart := start.Add(24 * time.Hour)
	repo := &mockMeetingRepo{
		items: map[string]*models.Meeting{
			"m1": {
				ID: "m1", TutorID: "t1", StudentID: "s1",
				CurrentCount: 1, MaxCapacity: 1, Status: models.MeetingStatusFull,
				Date: start, StartAt: timePtr(start), DurationMinutes: 60,
			},
		},
		active: map[string][]models.Meeting{
			"s1": {{
				ID: "m-other", StudentID: "s1",
				Date: newStart, StartAt: timePtr(newStart), DurationMinutes: 60,
				Status: models.MeetingStatusScheduled,
			}},
		},
	}
	svc := newTestMeetingService(repo, nil, now)

	_, err := svc.Reschedule(context.Background(), tutorClaims("t1", "Tutor"), "m1", RescheduleRequest{
		Date:    newStart,
		StartAt: timePtr(newStart),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestMeetingServiceJoinWindow(t *testing.T) {
	start := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
	repo := &mockMeetingRepo{
		items: map[string]*models.Meeting{
			"m1": {
				ID: "m1", TutorID: "t1", StudentID: "s1", CurrentCount: 1,
				MaxCapacity: 1, Status: models.MeetingStatusFull,
				Mode: models.ModeZoom, Link: "https://zoom.example/m1",
				Date: start, StartAt: timePtr(start), DurationMinutes: 60,
			},
		},
	}

	// Ten minutes before start the window is open.
	svc := newTestMeetingService(repo, nil, start.Add(-10*time.Minute))
	result, err := svc.Join(context.Background(), studentClaims("s1", "Student One"), "m1")
	require.NoError(t, err)
	assert.Equal(t, "https://zoom.example/m1", result.Link)

	// Thirty minutes before start it is not.
	svc = newTestMeetingService(repo, nil, start.Add(-30*time.Minute))
	_, err = svc.Join(context.Background(), studentClaims("s1", "Student One"), "m1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotJoinable.Code, appErrors.FromError(err).Code)

	// Outsiders never get the link.
	svc = newTestMeetingService(repo, nil, start.Add(-10*time.Minute))
	_, err = svc.Join(context.Background(), studentClaims("s2", "Student Two"), "m1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorizedAction.Code, appErrors.FromError(err).Code)
}

func TestMeetingServiceConcurrentUpdateConflict(t *testing.T) {
	repo := &mockMeetingRepo{
		items: map[string]*models.Meeting{
			"m1": {ID: "m1", TutorID: "t1", StudentID: "s1", CurrentCount: 1, MaxCapacity: 1, Status: models.MeetingStatusFull},
		},
		updateErr: repository.ErrStaleVersion,
	}
	svc := newTestMeetingService(repo, nil, time.Now().UTC())

	_, err := svc.Start(context.Background(), tutorClaims("t1", "Tutor"), "m1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrVersionConflict.Code, appErrors.FromError(err).Code)
}

func TestMeetingServiceListUpcomingFiltersByWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	soon := now.Add(48 * time.Hour)
	longOver := now.Add(-5 * time.Hour)
	repo := &mockMeetingRepo{
		active: map[string][]models.Meeting{
			"s1": {
				{ID: "m-soon", StudentID: "s1", Date: soon, StartAt: timePtr(soon), DurationMinutes: 60, Status: models.MeetingStatusFull},
				{ID: "m-past", StudentID: "s1", Date: longOver, StartAt: timePtr(longOver), DurationMinutes: 60, Status: models.MeetingStatusFull},
			},
		},
	}
	svc := newTestMeetingService(repo, nil, now)

	upcoming, err := svc.ListUpcoming(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, "m-soon", upcoming[0].ID)
}
