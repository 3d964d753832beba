package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
	"github.com/noah-isme/tutoring-api/pkg/export"
)

type exportMeetingLister interface {
	List(ctx context.Context, filter models.MeetingFilter) ([]models.Meeting, int, error)
}

// ExportResult bundles the rendered document with its metadata.
type ExportResult struct {
	Content     []byte
	ContentType string
	Filename    string
}

// ExportService renders a tutor's schedule as CSV or PDF.
type ExportService struct {
	meetings exportMeetingLister
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	logger   *zap.Logger
}

// NewExportService constructs ExportService.
func NewExportService(meetings exportMeetingLister, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		meetings: meetings,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		logger:   logger,
	}
}

// TutorSchedule exports all meetings for a tutor. Tutors may export their
// own schedule; managers may export any.
func (s *ExportService) TutorSchedule(ctx context.Context, actor *models.JWTClaims, tutorID, format string) (*ExportResult, error) {
	if actor.Role == models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrUnauthorizedAction, "students may not export schedules")
	}
	if actor.Role == models.RoleTutor && actor.UserID != tutorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "tutors may only export their own schedule")
	}

	meetings, _, err := s.meetings.List(ctx, models.MeetingFilter{TutorID: tutorID, PageSize: 100})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load tutor schedule")
	}

	dataset := buildScheduleDataset(meetings)

	switch strings.ToLower(format) {
	case "csv", "":
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("schedule-%s.csv", tutorID),
		}, nil
	case "pdf":
		content, err := s.pdf.Render(dataset, "Tutor Schedule")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "application/pdf",
			Filename:    fmt.Sprintf("schedule-%s.pdf", tutorID),
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

func buildScheduleDataset(meetings []models.Meeting) export.Dataset {
	headers := []string{"Date", "Start", "Duration", "Student", "Mode", "Status", "Capacity"}
	rows := make([]map[string]string, 0, len(meetings))
	for i := range meetings {
		m := &meetings[i]
		start := ""
		if at, ok := models.ResolveStart(m); ok {
			start = at.Format("15:04")
		}
		rows = append(rows, map[string]string{
			"Date":     m.Date.Format("2006-01-02"),
			"Start":    start,
			"Duration": fmt.Sprintf("%dm", m.DurationMinutes),
			"Student":  m.StudentName,
			"Mode":     string(m.Mode),
			"Status":   string(m.Status),
			"Capacity": strconv.Itoa(m.CurrentCount) + "/" + strconv.Itoa(m.MaxCapacity),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}
