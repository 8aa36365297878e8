package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	fiberSwagger "github.com/gofiber/swagger"
	"github.com/rs/zerolog"

	"github.com/snapsell/api/internal/config"
	"github.com/snapsell/api/internal/handler"
	"github.com/snapsell/api/internal/middleware"
	"github.com/snapsell/api/pkg/response"
)

type Handlers struct {
	Photo  *handler.PhotoHandler
	Upload *handler.UploadHandler
	Auth   *handler.AuthHandler
	Stream *handler.JobStreamHandler
}

type Options struct {
	// APIAuth guards /api. StreamAuth guards /ws and may read the token
	// from the query string.
	APIAuth    fiber.Handler
	StreamAuth fiber.Handler
	// RateLimiter may be nil, which disables limiting.
	RateLimiter *middleware.RateLimiter
	RateLimit   config.RateLimitConfig
	Health      func() fiber.Map
	// AccessLog enables the request log. DebugLog adds query, body and headers.
	AccessLog bool
	DebugLog  bool
	BodyLimit int
	// Swagger serves the API docs under /swagger. The docs package must be
	// linked into the binary.
	Swagger bool
}

// New builds the HTTP application with every route registered.
func New(h Handlers, opts Options) *fiber.App {
	bodyLimit := opts.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = 30 * 1024 * 1024
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler,
		BodyLimit:    bodyLimit,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	if opts.AccessLog {
		format := "[${time}] ${locals:requestid} ${status} - ${latency} ${method} ${path}\n"
		if opts.DebugLog {
			format = "[${time}] ${locals:requestid} ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		}
		app.Use(logger.New(logger.Config{Format: format}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		status := fiber.Map{"status": "ok"}
		if opts.Health != nil {
			status["services"] = opts.Health()
		}
		return c.JSON(status)
	})

	if opts.Swagger {
		app.Get("/swagger/*", fiberSwagger.HandlerDefault)
	}

	// ForwardAuth verification endpoint (internal, called by the gateway)
	app.Get("/auth/verify", h.Auth.Verify)

	rl := opts.RateLimiter
	if rl == nil {
		rl = middleware.NewRateLimiter(nil, zerolog.Nop())
	}

	api := app.Group("/api", opts.APIAuth)

	photo := api.Group("/photo")
	photo.Get("/operations", h.Photo.Operations)
	photo.Post("/process", rl.ProcessLimit(opts.RateLimit.ProcessPerHour), h.Photo.Process)
	photo.Post("/jobs", rl.SubmitLimit(opts.RateLimit.SubmitPerHour), h.Photo.Submit)
	photo.Get("/jobs", h.Photo.Jobs)
	photo.Get("/jobs/:jobId", h.Photo.Job)
	photo.Post("/uploads", rl.UploadLimit(opts.RateLimit.UploadPerHour), h.Upload.Image)
	photo.Delete("/uploads/:imageId", h.Upload.DeleteImage)

	stream := app.Group("/ws", opts.StreamAuth)
	stream.Get("/jobs/:jobId", h.Stream.Authorize, h.Stream.Stream())

	return app
}

// ErrorHandler renders errors that escaped the handlers in the standard
// error envelope.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	errCode := response.CodeServiceError
	switch code {
	case fiber.StatusNotFound:
		errCode = response.CodeNotFound
	case fiber.StatusRequestEntityTooLarge, fiber.StatusBadRequest:
		errCode = response.CodeValidationError
	}

	return response.Error(c, code, errCode, message, nil)
}
