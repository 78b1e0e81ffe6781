package handlers

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"

	"docdiff/internal/convert"
	"docdiff/internal/infra/logging"
	"docdiff/internal/metrics"
)

// Upload field names.
const (
	FieldBaseFile = "base_file"
	FieldNewFile  = "new_file"
)

// Differ renders the difference between two HTML documents.
type Differ interface {
	Render(oldHTML, newHTML string) (string, error)
}

// Comparison is the outcome of one compare request.
type Comparison struct {
	ComparisonHTML string `json:"comparison_html"`
	BaseHTML       string `json:"base_html"`
	NewHTML        string `json:"new_html"`
}

// CompareService converts two uploads to HTML and diffs them.
type CompareService struct {
	Importer      convert.Importer
	Differ        Differ
	Metrics       *metrics.Recorder
	ExportFormats []string
}

// NewCompareService creates a CompareService.
func NewCompareService(imp convert.Importer, differ Differ, rec *metrics.Recorder, exportFormats []string) *CompareService {
	return &CompareService{
		Importer:      imp,
		Differ:        differ,
		Metrics:       rec,
		ExportFormats: exportFormats,
	}
}

// HandleIndex renders the upload form.
func (svc *CompareService) HandleIndex(c *fiber.Ctx) error {
	return c.Render("index", fiber.Map{
		"Title":  "Document comparison",
		"Accept": convert.FormatDOCX.Extension + "," + convert.FormatODT.Extension,
	})
}

// HandleCompare renders the result page for two uploaded documents.
func (svc *CompareService) HandleCompare(c *fiber.Ctx) error {
	res, err := svc.compare(c)
	if err != nil {
		return err
	}
	// Converter output is trusted markup and is embedded unescaped.
	return c.Render("result", fiber.Map{
		"ComparisonHTML": template.HTML(res.ComparisonHTML),
		"BaseHTML":       template.HTML(res.BaseHTML),
		"NewHTML":        template.HTML(res.NewHTML),
		"ExportFormats":  svc.ExportFormats,
	})
}

// HandleCompareJSON returns the three HTML strings as JSON.
func (svc *CompareService) HandleCompareJSON(c *fiber.Ctx) error {
	res, err := svc.compare(c)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (svc *CompareService) compare(c *fiber.Ctx) (*Comparison, error) {
	baseDoc, err := readUpload(c, FieldBaseFile)
	if err != nil {
		return nil, err
	}
	newDoc, err := readUpload(c, FieldNewFile)
	if err != nil {
		return nil, err
	}

	baseHTML, err := svc.toHTML(c, baseDoc)
	if err != nil {
		return nil, err
	}
	newHTML, err := svc.toHTML(c, newDoc)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	diff, err := svc.Differ.Render(baseHTML, newHTML)
	svc.Metrics.ObserveStage(metrics.StageDiff, "html", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("render diff: %w", err)
	}

	logging.Info("Documents compared",
		"base", baseDoc.Name, "new", newDoc.Name,
		"request_id", c.GetRespHeader(fiber.HeaderXRequestID))

	return &Comparison{ComparisonHTML: diff, BaseHTML: baseHTML, NewHTML: newHTML}, nil
}

func (svc *CompareService) toHTML(c *fiber.Ctx, doc convert.Document) (string, error) {
	start := time.Now()
	html, err := svc.Importer.ToHTML(c.UserContext(), doc)
	svc.Metrics.ObserveStage(metrics.StageImport, doc.Format.Name, time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("convert %q: %w", doc.Name, err)
	}
	return html, nil
}

// readUpload reads a multipart file field fully into memory.
func readUpload(c *fiber.Ctx, field string) (convert.Document, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return convert.Document{}, fiber.NewError(fiber.StatusBadRequest, "Missing upload: "+field)
	}
	f, err := fh.Open()
	if err != nil {
		return convert.Document{}, fmt.Errorf("open upload %s: %w", field, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return convert.Document{}, fmt.Errorf("read upload %s: %w", field, err)
	}
	return convert.Document{
		Name:   fh.Filename,
		Format: convert.FormatFromFilename(fh.Filename),
		Data:   data,
	}, nil
}
