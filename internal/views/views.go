// Package views holds the HTML pages served by the service.
package views

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/gofiber/template/html/v2"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Engine returns a template engine over the embedded pages. Templates are
// addressed by file name without extension ("index", "result").
func Engine() *html.Engine {
	sub, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		panic("views: " + err.Error())
	}
	return html.NewFileSystem(http.FS(sub), ".html")
}
