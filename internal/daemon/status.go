package daemon

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
)

// StatusServer exposes daemon health and per-service statistics over HTTP.
type StatusServer struct {
	app     *fiber.App
	daemon  *Daemon
	address string
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Daemon  string `json:"daemon"`
	Serving bool   `json:"serving"`
}

// ServicesResponse is the body of GET /services.
type ServicesResponse struct {
	Services []StatsSnapshot `json:"services"`
}

// ErrorResponse is returned for failed requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewStatusServer creates the status API for d.
func NewStatusServer(d *Daemon, address string) *StatusServer {
	app := fiber.New(fiber.Config{
		AppName:               "jobengine daemon",
		DisableStartupMessage: true,
		ErrorHandler:          statusErrorHandler,
	})
	s := &StatusServer{app: app, daemon: d, address: address}

	app.Use(fiberrecover.New())
	app.Get("/health", s.health)
	app.Get("/services", s.services)
	app.Get("/services/:name", s.service)
	return s
}

func (s *StatusServer) health(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{Status: "ok", Daemon: s.daemon.Name(), Serving: s.daemon.Serving()})
}

func (s *StatusServer) services(c *fiber.Ctx) error {
	return c.JSON(ServicesResponse{Services: s.daemon.Stats()})
}

func (s *StatusServer) service(c *fiber.Ctx) error {
	name := c.Params("name")
	for _, st := range s.daemon.Stats() {
		if st.Service == name {
			return c.JSON(st)
		}
	}
	return fiber.NewError(fiber.StatusNotFound, "service not found: "+name)
}

// StartWithContext serves until ctx is done, then shuts down.
func (s *StatusServer) StartWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(s.address)
	}()

	select {
	case <-ctx.Done():
		return s.app.Shutdown()
	case err := <-errCh:
		return err
	}
}

// App returns the underlying Fiber app.
func (s *StatusServer) App() *fiber.App {
	return s.app
}

func statusErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}
	return c.Status(code).JSON(ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: message,
	})
}
