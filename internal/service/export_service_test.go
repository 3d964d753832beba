package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

func exportTestRepo() *mockMeetingRepo {
	start := time.Date(2026, 3, 12, 14, 0, 0, 0, time.UTC)
	return &mockMeetingRepo{
		items: map[string]*models.Meeting{
			"m1": {
				ID: "m1", TutorID: "t1", StudentName: "Student One",
				Date: start, StartAt: &start, DurationMinutes: 60,
				Mode: models.ModeZoom, Status: models.MeetingStatusFull,
				CurrentCount: 1, MaxCapacity: 1,
			},
		},
	}
}

func TestExportServiceTutorScheduleCSV(t *testing.T) {
	svc := NewExportService(exportTestRepo(), zap.NewNop())

	result, err := svc.TutorSchedule(context.Background(), tutorClaims("t1", "Tutor One"), "t1", "csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Equal(t, "schedule-t1.csv", result.Filename)

	body := string(result.Content)
	assert.True(t, strings.HasPrefix(body, "Date,Start,Duration,Student,Mode,Status,Capacity"))
	assert.Contains(t, body, "2026-03-12,14:00,60m,Student One,ZOOM,FULL,1/1")
}

func TestExportServiceTutorSchedulePDF(t *testing.T) {
	svc := NewExportService(exportTestRepo(), zap.NewNop())

	result, err := svc.TutorSchedule(context.Background(), tutorClaims("t1", "Tutor One"), "t1", "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.NotEmpty(t, result.Content)
}

func TestExportServiceAccessControl(t *testing.T) {
	svc := NewExportService(exportTestRepo(), zap.NewNop())

	_, err := svc.TutorSchedule(context.Background(), studentClaims("s1", "Student"), "t1", "csv")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorizedAction.Code, appErrors.FromError(err).Code)

	_, err = svc.TutorSchedule(context.Background(), tutorClaims("t2", "Other Tutor"), "t1", "csv")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.TutorSchedule(context.Background(), &models.JWTClaims{UserID: "mgr", Role: models.RoleManager}, "t1", "csv")
	require.NoError(t, err)
}

func TestExportServiceUnknownFormat(t *testing.T) {
	svc := NewExportService(exportTestRepo(), zap.NewNop())

	_, err := svc.TutorSchedule(context.Background(), tutorClaims("t1", "Tutor One"), "t1", "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
