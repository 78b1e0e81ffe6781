package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdiff/internal/config"
	"docdiff/internal/convert"
	"docdiff/internal/htmldiff"
	"docdiff/internal/metrics"
	"docdiff/internal/views"
)

// paragraphImporter pretends every upload is a document holding one paragraph.
var paragraphImporter = convert.ImporterFunc(func(ctx context.Context, doc convert.Document) (string, error) {
	return "<p>" + string(doc.Data) + "</p>", nil
})

type upload struct {
	field, filename, content string
}

func multipartRequest(t *testing.T, path string, uploads ...upload) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, u := range uploads {
		part, err := w.CreateFormFile(u.field, u.filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(u.content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func newCompareApp(imp convert.Importer) *fiber.App {
	svc := NewCompareService(imp, htmldiff.New(0), metrics.NewRecorder(nil), []string{"docx"})
	app := fiber.New(fiber.Config{Views: views.Engine()})
	app.Get("/", svc.HandleIndex)
	app.Post("/compare", svc.HandleCompare)
	app.Post("/api/compare", svc.HandleCompareJSON)
	return app
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestHandleIndex_RendersUploadForm(t *testing.T) {
	app := newCompareApp(paragraphImporter)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := readBody(t, resp)
	assert.Contains(t, body, `name="base_file"`)
	assert.Contains(t, body, `name="new_file"`)
	assert.Contains(t, body, `action="/compare"`)
}

func TestHandleCompare_EndToEnd(t *testing.T) {
	app := newCompareApp(paragraphImporter)
	req := multipartRequest(t, "/compare",
		upload{FieldBaseFile, "base.docx", "Base text"},
		upload{FieldNewFile, "new.docx", "New text"},
	)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := readBody(t, resp)
	assert.Contains(t, body, "Base text")
	assert.Contains(t, body, "New text")
	assert.Contains(t, body, "side-by-side")
	assert.Contains(t, body, "<del>Base</del><ins>New</ins> text")
}

func TestHandleCompare_UnchangedTextSurvivesIntoDiff(t *testing.T) {
	app := newCompareApp(paragraphImporter)
	req := multipartRequest(t, "/api/compare",
		upload{FieldBaseFile, "a.docx", "Shared clause stays"},
		upload{FieldNewFile, "b.docx", "Shared clause stays"},
	)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var got Comparison
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "<p>Shared clause stays</p>", got.ComparisonHTML)
	assert.Equal(t, "<p>Shared clause stays</p>", got.BaseHTML)
	assert.Equal(t, "<p>Shared clause stays</p>", got.NewHTML)
}

func TestHandleCompare_PassesDetectedFormat(t *testing.T) {
	var mu sync.Mutex
	var seen []convert.Format
	imp := convert.ImporterFunc(func(ctx context.Context, doc convert.Document) (string, error) {
		mu.Lock()
		seen = append(seen, doc.Format)
		mu.Unlock()
		return "<p>x</p>", nil
	})
	app := newCompareApp(imp)
	req := multipartRequest(t, "/api/compare",
		upload{FieldBaseFile, "a.odt", "x"},
		upload{FieldNewFile, "b.docx", "x"},
	)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, []convert.Format{convert.FormatODT, convert.FormatDOCX}, seen)
}

func TestHandleCompare_MissingUpload(t *testing.T) {
	app := newCompareApp(paragraphImporter)
	req := multipartRequest(t, "/compare", upload{FieldBaseFile, "base.docx", "Base text"})

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), FieldNewFile)
}

func TestHandleCompare_ConverterFailureIsServerError(t *testing.T) {
	failing := convert.ImporterFunc(func(ctx context.Context, doc convert.Document) (string, error) {
		return "", errors.New("not a zip file")
	})
	app := newCompareApp(failing)
	req := multipartRequest(t, "/compare",
		upload{FieldBaseFile, "base.docx", "garbage"},
		upload{FieldNewFile, "new.docx", "garbage"},
	)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

// recordingExporter writes a marker document and remembers every path it saw.
type recordingExporter struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (r *recordingExporter) Export(ctx context.Context, html string, f convert.Format, outPath string) error {
	r.mu.Lock()
	r.paths = append(r.paths, outPath)
	r.mu.Unlock()
	if _, err := os.Stat(outPath); err != nil {
		return err
	}
	if r.err != nil {
		return r.err
	}
	return os.WriteFile(outPath, []byte(strings.ToUpper(f.Name)+":"+html), 0o600)
}

func newExportApp(t *testing.T, exp convert.Exporter) (*fiber.App, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Export.TempDir = dir
	cfg.Limits.MaxHTMLBytes = 1024
	cfg.Limits.MaxDocumentBytes = 512

	reg := convert.NewRegistry()
	reg.Register(convert.FormatDOCX, exp)
	reg.Register(convert.FormatODT, exp)

	svc := NewExportService(cfg, reg, metrics.NewRecorder(nil))
	app := fiber.New()
	app.Post("/export", svc.HandleExport)
	return app, dir
}

func exportRequest(target, html string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(html))
	req.Header.Set("Content-Type", "text/html; charset=utf-8")
	return req
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	left, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, left, "temporary files must be deleted")
}

func TestHandleExport_Success(t *testing.T) {
	exp := &recordingExporter{}
	app, dir := newExportApp(t, exp)

	resp, err := app.Test(exportRequest("/export", "<p>edited</p>"), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	assert.Equal(t, convert.FormatDOCX.MIME, resp.Header.Get(fiber.HeaderContentType))
	assert.Equal(t, "attachment; filename=version_3.docx", resp.Header.Get(fiber.HeaderContentDisposition))
	assert.Equal(t, "DOCX:<p>edited</p>", readBody(t, resp))

	require.Len(t, exp.paths, 1)
	_, statErr := os.Stat(exp.paths[0])
	assert.True(t, os.IsNotExist(statErr))
	assertDirEmpty(t, dir)
}

func TestHandleExport_ConversionFailureStillDeletes(t *testing.T) {
	exp := &recordingExporter{err: errors.New("pandoc exited 64")}
	app, dir := newExportApp(t, exp)

	resp, err := app.Test(exportRequest("/export", "<p>x</p>"), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	require.Len(t, exp.paths, 1)
	assertDirEmpty(t, dir)
}

func TestHandleExport_TwiceUsesIndependentFiles(t *testing.T) {
	exp := &recordingExporter{}
	app, dir := newExportApp(t, exp)

	for i := 0; i < 2; i++ {
		resp, err := app.Test(exportRequest("/export", "<p>same</p>"), -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "DOCX:<p>same</p>", readBody(t, resp))
	}

	require.Len(t, exp.paths, 2)
	assert.NotEqual(t, exp.paths[0], exp.paths[1])
	assertDirEmpty(t, dir)
}

func TestHandleExport_ConcurrentRequests(t *testing.T) {
	exp := &recordingExporter{}
	app, dir := newExportApp(t, exp)

	var wg sync.WaitGroup
	codes := make([]int, 8)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := app.Test(exportRequest("/export", "<p>parallel</p>"), -1)
			if err == nil {
				codes[i] = resp.StatusCode
			}
		}(i)
	}
	wg.Wait()

	for _, code := range codes {
		assert.Equal(t, fiber.StatusOK, code)
	}
	assertDirEmpty(t, dir)
}

func TestHandleExport_FormatAndFilename(t *testing.T) {
	exp := &recordingExporter{}
	app, dir := newExportApp(t, exp)

	resp, err := app.Test(exportRequest("/export?format=odt", "<p>x</p>"), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, convert.FormatODT.MIME, resp.Header.Get(fiber.HeaderContentType))
	assert.Equal(t, "attachment; filename=version_3.odt", resp.Header.Get(fiber.HeaderContentDisposition))

	resp, err = app.Test(exportRequest("/export?filename=contract_v4.docx", "<p>x</p>"), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "attachment; filename=contract_v4.docx", resp.Header.Get(fiber.HeaderContentDisposition))
	assertDirEmpty(t, dir)
}

func TestHandleExport_Rejects(t *testing.T) {
	exp := &recordingExporter{}
	app, dir := newExportApp(t, exp)

	tests := []struct {
		name   string
		target string
		body   string
		code   int
	}{
		{"unknown format", "/export?format=rtf", "<p>x</p>", fiber.StatusBadRequest},
		{"wrong extension", "/export?filename=out.pdf", "<p>x</p>", fiber.StatusBadRequest},
		{"bad characters", "/export?filename=bad%20name.docx", "<p>x</p>", fiber.StatusBadRequest},
		{"body too large", "/export", strings.Repeat("x", 2048), fiber.StatusRequestEntityTooLarge},
		{"document too large", "/export", strings.Repeat("y", 600), fiber.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := app.Test(exportRequest(tc.target, tc.body), -1)
			require.NoError(t, err)
			assert.Equal(t, tc.code, resp.StatusCode)
		})
	}
	assertDirEmpty(t, dir)
}
