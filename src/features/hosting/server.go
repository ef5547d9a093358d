// Package hosting implements the admin/status HTTP surface: health,
// prometheus metrics, per-track status polling and SSE streaming,
// admin-triggered reprocess, and read-only JSON views over
// processing_failures/error_log/usage_logs. Sessions and the karaoke web
// client live elsewhere; this is the thin slice of fiber wiring the
// pipeline needs.
package hosting

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/template/html/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arborfm/karaopipe/src/features/artifacts"
	"github.com/arborfm/karaopipe/src/features/config"
	"github.com/arborfm/karaopipe/src/features/dispatcher"
	pipelineerrors "github.com/arborfm/karaopipe/src/features/errors"
	"github.com/arborfm/karaopipe/src/features/progress"
	"github.com/arborfm/karaopipe/src/infra/database"
	"github.com/arborfm/karaopipe/src/music"
)

// configFilePath is where admin config updates are persisted; Load reads
// the same path at startup.
const configFilePath = "config.yaml"

// Server is the admin/status HTTP server.
type Server struct {
	app  *fiber.App
	port uint32
}

// NewServer wires the fiber app. The html/v2 engine serves the one
// server-rendered page (the admin failure dashboard); every other route
// returns JSON or an SSE stream.
func NewServer(cfg *config.Manager, store *artifacts.Store, db *database.DB, feed *progress.Broadcaster, disp *dispatcher.Dispatcher) *Server {
	engine := html.New("./views", ".html")
	engine.Debug(cfg.Get().Logger.Level == "debug")
	engine.AddFunc("timefmt", func(t time.Time) string {
		return t.Format("2006-01-02 15:04:05")
	})

	app := fiber.New(fiber.Config{
		Views: engine,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			slog.Error("internal server error", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
		AppName:               "karaopipe",
		DisableStartupMessage: true,
		EnablePrintRoutes:     cfg.Get().Server.PrintRoutes,
	})

	app.Use(RequestLogMiddleware())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	registerStatusRoutes(app, disp, feed)
	registerTrackRoutes(app, store, db, disp)
	registerAdminRoutes(app, cfg, store, db, disp)

	return &Server{app: app, port: cfg.Get().Server.Port}
}

// registerStatusRoutes wires the pull (poll) and push (SSE) transports.
func registerStatusRoutes(app *fiber.App, disp *dispatcher.Dispatcher, feed *progress.Broadcaster) {
	app.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(feed.Snapshot())
	})

	app.Get("/status/:track_id<int>", func(c *fiber.Ctx) error {
		entry, ok := disp.TrackStatus(c.Params("track_id"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown track"})
		}
		return c.JSON(entry)
	})

	app.Get("/status/stream", func(c *fiber.Ctx) error {
		ch := feed.Subscribe()
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer feed.Unsubscribe(ch)
			for ev := range ch {
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		})
		return nil
	})
}

// registerTrackRoutes wires the karaoke client's track-facing surface:
// add and the random-play entry point.
func registerTrackRoutes(app *fiber.App, store *artifacts.Store, db *database.DB, disp *dispatcher.Dispatcher) {
	app.Get("/search", func(c *fiber.Ctx) error {
		user, err := requestUser(c, db)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		}
		query := c.Query("q")
		if query == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing q parameter"})
		}
		results, err := disp.Pipeline.AudioSource.Search(c.Context(), query)
		if err != nil {
			return err
		}
		if err := db.LogUsage(user.ID, "", "search", query); err != nil {
			slog.Warn("failed to log search usage", "error", err)
		}
		return c.JSON(results)
	})

	app.Post("/tracks/:track_id", func(c *fiber.Ctx) error {
		user, err := requestUser(c, db)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		}
		result := disp.Add(c.Context(), c.Params("track_id"), user)
		return writeAddResult(c, result)
	})

	// The client reports a playback once 15 seconds have elapsed; that
	// report costs one credit for non-admin users.
	app.Post("/tracks/:track_id/play", func(c *fiber.Ctx) error {
		user, err := requestUser(c, db)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		}
		if !user.IsAdmin {
			ok, err := db.DeductCredits(user.ID, 1)
			if err != nil {
				return err
			}
			if !ok {
				return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"status": "insufficient_credits"})
			}
		}
		if err := db.LogUsage(user.ID, "", "play", c.Params("track_id")); err != nil {
			slog.Warn("failed to log play usage", "error", err)
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/tracks/random", func(c *fiber.Ctx) error {
		ids, err := store.AllTrackIDs()
		if err != nil {
			return err
		}
		var complete []string
		for _, id := range ids {
			if store.IsComplete(id) {
				complete = append(complete, id)
			}
		}
		if len(complete) == 0 {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no completed tracks"})
		}
		trackID := complete[rand.Intn(len(complete))]
		if err := db.LogUsage("", "", "random_play", trackID); err != nil {
			slog.Warn("failed to log random_play usage", "error", err)
		}
		return c.JSON(fiber.Map{"track_id": trackID})
	})
}

// registerAdminRoutes wires the admin read/trigger surface:
// reprocess-from-stage, track delete, artifact sizes, configuration, and
// read-only JSON over processing_failures/error_log/usage_logs.
func registerAdminRoutes(app *fiber.App, cfg *config.Manager, store *artifacts.Store, db *database.DB, disp *dispatcher.Dispatcher) {
	admin := app.Group("/admin")

	admin.Get("/", func(c *fiber.Ctx) error {
		failures, err := db.ListFailures()
		if err != nil {
			return err
		}
		errs, err := db.ListErrors()
		if err != nil {
			return err
		}
		return c.Render("admin", fiber.Map{
			"Failures": failures,
			"Errors":   errs,
		})
	})

	admin.Post("/reprocess/:track_id", func(c *fiber.Ctx) error {
		fromStage := c.Query("from_stage", "all")
		result := disp.Reprocess(c.Context(), c.Params("track_id"), fromStage)
		return writeAddResult(c, result)
	})

	admin.Delete("/tracks/:track_id", func(c *fiber.Ctx) error {
		trackID := c.Params("track_id")
		if disp.Status.IsNonTerminal(trackID) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "track is being processed"})
		}
		if err := store.Delete(trackID); err != nil {
			return err
		}
		if err := db.ClearFailure(trackID); err != nil {
			slog.Warn("failed to clear failure row on delete", "track_id", trackID, "error", err)
		}
		disp.Status.Remove(trackID)
		return c.JSON(fiber.Map{"status": "deleted"})
	})

	admin.Get("/tracks/:track_id/files", func(c *fiber.Ctx) error {
		return c.JSON(store.FileSizes(c.Params("track_id")))
	})

	admin.Get("/config", func(c *fiber.Ctx) error {
		c.Type("json")
		return c.SendString(cfg.GetJSON())
	})

	admin.Put("/config", func(c *fiber.Ctx) error {
		var next config.Config
		if err := c.BodyParser(&next); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		cfg.Update(&next)
		if err := cfg.Save(configFilePath); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"status": "saved"})
	})

	admin.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(disp.AllStatus())
	})

	admin.Get("/failures", func(c *fiber.Ctx) error {
		failures, err := db.ListFailures()
		if err != nil {
			return err
		}
		return c.JSON(failures)
	})

	admin.Get("/errors", func(c *fiber.Ctx) error {
		errs, err := db.ListErrors()
		if err != nil {
			return err
		}
		return c.JSON(errs)
	})

	admin.Get("/usage", func(c *fiber.Ctx) error {
		stats, err := db.UsageStats()
		if err != nil {
			return err
		}
		return c.JSON(stats)
	})
}

// requestUser resolves the acting user from the X-User-ID header. Auth
// itself lives in front of this server; the pipeline only needs the
// resulting user_id/is_admin/credits triple.
func requestUser(c *fiber.Ctx, db *database.DB) (music.User, error) {
	userID := c.Get("X-User-ID")
	if userID == "" {
		return music.User{}, fmt.Errorf("missing X-User-ID header")
	}
	return db.GetUser(userID)
}

func writeAddResult(c *fiber.Ctx, result pipelineerrors.AddResult) error {
	switch result.Variant {
	case pipelineerrors.AddAlreadyProcessing:
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"status": result.Variant.String()})
	case pipelineerrors.AddInsufficientCredits:
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"status": result.Variant.String()})
	case pipelineerrors.AddReady:
		return c.JSON(fiber.Map{"status": result.Variant.String(), "progress": result.Progress})
	default:
		return c.JSON(fiber.Map{"status": result.Variant.String()})
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.app.Listen(":" + strconv.FormatUint(uint64(s.port), 10))
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
