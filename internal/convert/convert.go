// Package convert wraps the external document converters: documents to HTML
// for comparison, and HTML back to documents for export.
package convert

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Format describes a document format the service can read or write.
type Format struct {
	Name      string
	Extension string
	MIME      string
}

var (
	FormatDOCX = Format{Name: "docx", Extension: ".docx", MIME: "application/vnd.openxmlformats-officedocument.wordprocessingml.document"}
	FormatODT  = Format{Name: "odt", Extension: ".odt", MIME: "application/vnd.oasis.opendocument.text"}
	FormatPDF  = Format{Name: "pdf", Extension: ".pdf", MIME: "application/pdf"}
)

// ErrUnsupportedFormat is returned for formats a converter cannot handle.
var ErrUnsupportedFormat = errors.New("unsupported document format")

var importFormats = map[string]Format{
	FormatDOCX.Extension: FormatDOCX,
	FormatODT.Extension:  FormatODT,
}

// FormatFromFilename picks the import format from an upload's file name,
// falling back to docx.
func FormatFromFilename(name string) Format {
	if f, ok := importFormats[strings.ToLower(filepath.Ext(name))]; ok {
		return f
	}
	return FormatDOCX
}

// Document is an uploaded file held in memory.
type Document struct {
	Name   string
	Format Format
	Data   []byte
}

// Importer converts a document to an HTML string.
type Importer interface {
	ToHTML(ctx context.Context, doc Document) (string, error)
}

// Exporter writes html as a document of the given format to outPath.
type Exporter interface {
	Export(ctx context.Context, html string, format Format, outPath string) error
}

// ImporterFunc adapts a function to Importer.
type ImporterFunc func(ctx context.Context, doc Document) (string, error)

func (f ImporterFunc) ToHTML(ctx context.Context, doc Document) (string, error) {
	return f(ctx, doc)
}

// ExporterFunc adapts a function to Exporter.
type ExporterFunc func(ctx context.Context, html string, format Format, outPath string) error

func (f ExporterFunc) Export(ctx context.Context, html string, format Format, outPath string) error {
	return f(ctx, html, format, outPath)
}

type registration struct {
	format   Format
	exporter Exporter
}

// Registry maps export format names to their exporters.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register adds or replaces the exporter for f.
func (r *Registry) Register(f Format, e Exporter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[f.Name] = registration{format: f, exporter: e}
}

// Lookup returns the format and exporter registered under name.
func (r *Registry) Lookup(name string) (Format, Exporter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[strings.ToLower(name)]
	return reg.format, reg.exporter, ok
}

// Formats lists the registered format names.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
