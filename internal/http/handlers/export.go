package handlers

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"docdiff/internal/config"
	"docdiff/internal/convert"
	"docdiff/internal/infra/logging"
	"docdiff/internal/metrics"
	"docdiff/internal/tempfile"
)

var filenamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ExportService turns posted HTML into a downloadable document.
type ExportService struct {
	Registry         *convert.Registry
	Metrics          *metrics.Recorder
	DefaultFormat    string
	Filename         string
	TempDir          string
	MaxHTMLBytes     int
	MaxDocumentBytes int
}

// NewExportService creates an ExportService from the export and limits
// sections of cfg.
func NewExportService(cfg config.Config, reg *convert.Registry, rec *metrics.Recorder) *ExportService {
	return &ExportService{
		Registry:         reg,
		Metrics:          rec,
		DefaultFormat:    cfg.Export.DefaultFormat,
		Filename:         cfg.Export.Filename,
		TempDir:          cfg.Export.TempDir,
		MaxHTMLBytes:     cfg.Limits.MaxHTMLBytes,
		MaxDocumentBytes: cfg.Limits.MaxDocumentBytes,
	}
}

// HandleExport converts the raw HTML request body and sends the result as an
// attachment. The intermediate file is removed on every path.
func (svc *ExportService) HandleExport(c *fiber.Ctx) error {
	body := c.Body()
	if svc.MaxHTMLBytes > 0 && len(body) > svc.MaxHTMLBytes {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, fmt.Sprintf("HTML input exceeds %d bytes", svc.MaxHTMLBytes))
	}

	format, exporter, ok := svc.Registry.Lookup(c.Query("format", svc.DefaultFormat))
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid format: not supported")
	}
	filename, err := svc.downloadName(c.Query("filename"), format)
	if err != nil {
		return err
	}

	tmp, err := tempfile.Create(svc.TempDir, "export-*"+format.Extension)
	if err != nil {
		return err
	}
	svc.Metrics.TempFileAcquired()
	defer svc.release(tmp)

	data, err := svc.convert(c.UserContext(), exporter, tmp, string(body), format)
	if err != nil {
		return err
	}
	if svc.MaxDocumentBytes > 0 && len(data) > svc.MaxDocumentBytes {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, "Document exceeds allowed size")
	}

	logging.Info("Document exported",
		"format", format.Name, "filename", filename, "bytes", len(data),
		"request_id", c.GetRespHeader(fiber.HeaderXRequestID))

	c.Set(fiber.HeaderContentType, format.MIME)
	c.Set(fiber.HeaderContentDisposition, "attachment; filename="+filename)
	return c.Send(data)
}

// convert runs the exporter into tmp and reads the produced document back.
func (svc *ExportService) convert(ctx context.Context, exporter convert.Exporter, tmp *tempfile.File, html string, format convert.Format) ([]byte, error) {
	if err := tmp.Advance(tempfile.StateConverting); err != nil {
		return nil, err
	}
	start := time.Now()
	err := exporter.Export(ctx, html, format, tmp.Path())
	svc.Metrics.ObserveStage(metrics.StageExport, format.Name, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", format.Name, err)
	}

	if err := tmp.Advance(tempfile.StateSending); err != nil {
		return nil, err
	}
	data, err := tmp.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read exported %s: %w", format.Name, err)
	}
	return data, nil
}

func (svc *ExportService) release(tmp *tempfile.File) {
	if err := tmp.Release(); err != nil {
		logging.Error("Temp file cleanup failed", "path", tmp.Path(), "error", err)
		return
	}
	svc.Metrics.TempFileReleased()
}

// downloadName validates a requested filename or derives one from the
// configured default with the extension of format.
func (svc *ExportService) downloadName(requested string, format convert.Format) (string, error) {
	if requested == "" {
		base := strings.TrimSuffix(svc.Filename, filepath.Ext(svc.Filename))
		return base + format.Extension, nil
	}
	if !strings.HasSuffix(requested, format.Extension) {
		return "", fiber.NewError(fiber.StatusBadRequest, "Filename must end with "+format.Extension)
	}
	if !filenamePattern.MatchString(requested) {
		return "", fiber.NewError(fiber.StatusBadRequest, "Filename contains invalid characters")
	}
	return requested, nil
}
