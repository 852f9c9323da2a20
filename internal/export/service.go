package export

import (
	"context"
	"fmt"

	"barcamp/api/internal/model"
)

type Service struct {
	topics TopicLookup
}

func NewService(topics TopicLookup) *Service {
	return &Service{topics: topics}
}

// Export renders g in the requested format.
func (s *Service) Export(ctx context.Context, g model.SessionGrid, req Request) (*Result, error) {
	schedule := BuildSchedule(g, s.topics, req)
	html, err := RenderScheduleHTML(schedule)
	if err != nil {
		return nil, fmt.Errorf("render schedule: %w", err)
	}

	switch req.Format {
	case FormatHTML, "":
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(schedule.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(ctx, html, schedule.Title)
	case FormatDOCX:
		return exportDOCX(ctx, html, schedule.Title)
	default:
		return nil, model.Validation(model.CodeUnsupportedFormat, "unsupported export format %q", req.Format)
	}
}
