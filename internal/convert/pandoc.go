package convert

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"docdiff/internal/tempfile"
)

// Pandoc runs the pandoc binary for both conversion directions.
type Pandoc struct {
	path    string
	timeout time.Duration
	tempDir string
}

// NewPandoc returns a converter using the binary at path. A zero timeout
// leaves calls bounded only by the caller's context. Import inputs are staged
// in tempDir (os.TempDir when empty).
func NewPandoc(path string, timeout time.Duration, tempDir string) *Pandoc {
	if path == "" {
		path = "pandoc"
	}
	return &Pandoc{path: path, timeout: timeout, tempDir: tempDir}
}

// ToHTML converts doc to an HTML fragment. The upload is written to a scoped
// temp file because pandoc cannot read every binary format from stdin.
func (p *Pandoc) ToHTML(ctx context.Context, doc Document) (string, error) {
	if _, ok := importFormats[doc.Format.Extension]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, doc.Format.Name)
	}

	var html string
	err := tempfile.With(p.tempDir, "import-*"+doc.Format.Extension, func(in *tempfile.File) error {
		if err := in.WriteAll(doc.Data); err != nil {
			return fmt.Errorf("stage upload: %w", err)
		}
		out, err := p.run(ctx, nil, "--from", doc.Format.Name, "--to", "html", in.Path())
		if err != nil {
			return err
		}
		html = out
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("convert %s to html: %w", doc.Format.Name, err)
	}
	return html, nil
}

// Export writes html as format to outPath.
func (p *Pandoc) Export(ctx context.Context, html string, format Format, outPath string) error {
	if format.Name != FormatDOCX.Name && format.Name != FormatODT.Name {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format.Name)
	}
	if _, err := p.run(ctx, strings.NewReader(html), "--from", "html", "--to", format.Name, "--output", outPath); err != nil {
		return fmt.Errorf("convert html to %s: %w", format.Name, err)
	}
	return nil
}

func (p *Pandoc) run(ctx context.Context, stdin *strings.Reader, args ...string) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	// #nosec G204 -- binary path comes from configuration, args are fixed flags and server-owned paths
	cmd := exec.CommandContext(ctx, p.path, args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("pandoc: %w", ctx.Err())
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("pandoc: %w: %s", err, msg)
		}
		return "", fmt.Errorf("pandoc: %w", err)
	}
	return stdout.String(), nil
}

var versionRegex = regexp.MustCompile(`(\d+(?:\.\d+)+)`)

// DetectPandocVersion returns the version reported by the binary at path, or
// an empty string when it cannot be determined.
func DetectPandocVersion(ctx context.Context, path string) string {
	bin, err := exec.LookPath(path)
	if err != nil {
		return ""
	}
	// #nosec G204 -- bin is from exec.LookPath
	out, err := exec.CommandContext(ctx, bin, "--version").Output()
	if err != nil {
		return ""
	}
	return parsePandocVersion(string(out))
}

// parsePandocVersion extracts "3.1.11" from output such as "pandoc 3.1.11\n...".
func parsePandocVersion(output string) string {
	firstLine, _, _ := strings.Cut(output, "\n")
	if m := versionRegex.FindStringSubmatch(firstLine); len(m) >= 2 {
		return m[1]
	}
	return ""
}
