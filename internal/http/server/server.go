package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/redis/go-redis/v9"

	"docdiff/internal/cache"
	"docdiff/internal/config"
	"docdiff/internal/convert"
	"docdiff/internal/htmldiff"
	"docdiff/internal/http/handlers"
	"docdiff/internal/http/middleware"
	"docdiff/internal/infra/logging"
	"docdiff/internal/metrics"
	"docdiff/internal/views"
)

// Deps are the collaborators of the HTTP server. Nil fields are built from
// Config.
type Deps struct {
	Config   config.Config
	Redis    *redis.Client
	Recorder *metrics.Recorder
	Importer convert.Importer
	Registry *convert.Registry
	Differ   handlers.Differ
	Storage  fiber.Storage
	Ready    func() bool
}

// New creates and configures the Fiber app.
func New(d Deps) *fiber.App {
	cfg := d.Config
	d = withDefaults(d)

	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		BodyLimit:             cfg.Limits.MaxUploadBytes,
		Views:                 views.Engine(),
		ErrorHandler:          errorHandler,
	})

	middleware.Register(app, cfg, d.Storage, d.Ready)
	registerRoutes(app, cfg, d)

	// JSON for every unmatched route.
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

func withDefaults(d Deps) Deps {
	cfg := d.Config
	if d.Recorder == nil && cfg.Metrics.Enabled {
		d.Recorder = metrics.NewRecorder(nil)
	}
	if d.Importer == nil {
		d.Importer = convert.NewPandoc(cfg.Pandoc.Path, pandocTimeout(cfg), cfg.Pandoc.TempDir)
		if cfg.Cache.HTMLCacheEnabled && d.Redis != nil {
			d.Importer = cache.NewImporter(d.Importer, cache.NewHTMLCache(d.Redis, cfg.Cache.HTMLCacheTTL))
			logging.Info("HTML cache enabled", "ttl", cfg.Cache.HTMLCacheTTL.String())
		}
	}
	if d.Registry == nil {
		d.Registry = DefaultRegistry(cfg)
	}
	if d.Differ == nil {
		d.Differ = htmldiff.New(cfg.Diff.Timeout)
	}
	if d.Storage == nil {
		d.Storage = middleware.NewRateLimitStore(cfg)
	}
	return d
}

// DefaultRegistry registers pandoc for docx and odt, plus headless Chrome for
// pdf when enabled.
func DefaultRegistry(cfg config.Config) *convert.Registry {
	reg := convert.NewRegistry()
	pandoc := convert.NewPandoc(cfg.Pandoc.Path, pandocTimeout(cfg), cfg.Pandoc.TempDir)
	reg.Register(convert.FormatDOCX, pandoc)
	reg.Register(convert.FormatODT, pandoc)
	if cfg.PDF.Enabled {
		reg.Register(convert.FormatPDF, convert.NewChromePDF(cfg))
	}
	return reg
}

func pandocTimeout(cfg config.Config) time.Duration {
	return time.Duration(cfg.Pandoc.TimeoutSecs) * time.Second
}

func registerRoutes(app *fiber.App, cfg config.Config, d Deps) {
	compare := handlers.NewCompareService(d.Importer, d.Differ, d.Recorder, d.Registry.Formats())
	export := handlers.NewExportService(cfg, d.Registry, d.Recorder)

	app.Get("/", compare.HandleIndex)
	app.Post("/compare", compare.HandleCompare)
	app.Post("/api/compare", compare.HandleCompareJSON)
	app.Post("/export", export.HandleExport)

	app.Get("/ops/monitor", monitor.New(monitor.Config{Title: "docdiff", Refresh: 3 * time.Second}))

	if cfg.Metrics.Enabled {
		app.Get(cfg.Metrics.Path, adaptor.HTTPHandler(d.Recorder.Handler()))
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}

	if code >= fiber.StatusInternalServerError {
		logging.Error("Request failed", "path", c.Path(), "status", code, "error", err)
	} else {
		logging.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": msg,
		},
	})
}
