package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/freshnest/booking-api/internal/models"
	appErrors "github.com/freshnest/booking-api/pkg/errors"
	"github.com/freshnest/booking-api/pkg/export"
)

// RosterFormat selects the rendered output for a day roster.
type RosterFormat string

const (
	RosterFormatCSV RosterFormat = "csv"
	RosterFormatPDF RosterFormat = "pdf"
)

type rosterLedger interface {
	ListDay(ctx context.Context, from, to time.Time) ([]models.Job, error)
}

type rosterWorkerReader interface {
	FindByID(ctx context.Context, id string) (*models.Worker, error)
}

type rosterClientReader interface {
	FindByID(ctx context.Context, id string) (*models.Client, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// RosterExport is a rendered day roster ready for download.
type RosterExport struct {
	Filename    string
	ContentType string
	Data        []byte
}

// RosterService renders operator-facing day rosters: every job on a
// date with its assigned worker and client.
type RosterService struct {
	jobs    rosterLedger
	workers rosterWorkerReader
	clients rosterClientReader
	csv     csvRenderer
	pdf     pdfRenderer
	logger  *zap.Logger
}

// NewRosterService constructs a RosterService.
func NewRosterService(jobs rosterLedger, workers rosterWorkerReader, clients rosterClientReader, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &RosterService{
		jobs:    jobs,
		workers: workers,
		clients: clients,
		csv:     csv,
		pdf:     pdf,
		logger:  logger,
	}
}

// ExportDay renders the roster for a calendar date in the requested
// format.
func (s *RosterService) ExportDay(ctx context.Context, date string, format RosterFormat) (*RosterExport, error) {
	day, err := time.ParseInLocation(dateLayout, date, time.Local)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
	}
	if format != RosterFormatCSV && format != RosterFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	jobs, err := s.jobs.ListDay(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	dataset := export.Dataset{
		Headers: []string{"Start", "End", "Status", "Service", "Worker", "Client"},
	}
	workerNames := make(map[string]string)
	clientNames := make(map[string]string)
	for i := range jobs {
		job := &jobs[i]
		row := map[string]string{
			"Start":   job.StartTime.In(time.Local).Format("15:04"),
			"End":     job.EndTime.In(time.Local).Format("15:04"),
			"Status":  string(job.Status),
			"Service": job.ServiceType,
			"Worker":  s.workerName(ctx, workerNames, job.WorkerID),
			"Client":  s.clientName(ctx, clientNames, job.ClientID),
		}
		dataset.Rows = append(dataset.Rows, row)
	}

	title := fmt.Sprintf("Day Roster %s", date)
	var payload []byte
	var contentType string
	switch format {
	case RosterFormatCSV:
		payload, err = s.csv.Render(dataset)
		contentType = "text/csv"
	case RosterFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
		contentType = "application/pdf"
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}

	return &RosterExport{
		Filename:    fmt.Sprintf("roster_%s.%s", date, format),
		ContentType: contentType,
		Data:        payload,
	}, nil
}

// workerName resolves a worker's display name, memoizing lookups for
// the duration of one export. Open jobs have no worker.
func (s *RosterService) workerName(ctx context.Context, memo map[string]string, workerID *string) string {
	if workerID == nil {
		return "unassigned"
	}
	if name, ok := memo[*workerID]; ok {
		return name
	}
	name := *workerID
	worker, err := s.workers.FindByID(ctx, *workerID)
	switch {
	case err == nil:
		name = worker.FullName
	case errors.Is(err, sql.ErrNoRows):
	default:
		s.logger.Warn("roster worker lookup failed", zap.String("worker_id", *workerID), zap.Error(err))
	}
	memo[*workerID] = name
	return name
}

func (s *RosterService) clientName(ctx context.Context, memo map[string]string, clientID string) string {
	if name, ok := memo[clientID]; ok {
		return name
	}
	name := clientID
	client, err := s.clients.FindByID(ctx, clientID)
	switch {
	case err == nil:
		name = client.FullName
	case errors.Is(err, sql.ErrNoRows):
	default:
		s.logger.Warn("roster client lookup failed", zap.String("client_id", clientID), zap.Error(err))
	}
	memo[clientID] = name
	return name
}
