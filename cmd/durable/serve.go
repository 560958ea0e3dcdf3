package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/durable/pkg/cmd"
	"github.com/dukex/durable/pkg/marker"
	"github.com/dukex/durable/pkg/persistence"
	"github.com/dukex/durable/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	cli "github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

// api serves the state directory over HTTP.
type api struct {
	store          persistence.EventStore
	markers        *marker.Protocol
	resumeTemplate string
	logger         *slog.Logger
}

func (a *api) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.store, a.markers, a.resumeTemplate,
		validator.New(validator.WithRequiredStructEnabled()), a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Durable API")
	})

	handlers.Routes(app)

	return app
}

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve workflow state as a JSON API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Address to listen on",
				Value:   ":9091",
				Sources: cli.EnvVars("DURABLE_ADDR"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return withEngine(ctx, command, func(ctx context.Context, e *engine) error {
				markers, err := cmd.NewMarkerProtocol(e.cfg, e.logger)
				if err != nil {
					return err
				}

				app := (&api{
					store:          e.store,
					markers:        markers,
					resumeTemplate: e.cfg.ResumeCommand,
					logger:         e.logger,
				}).App()

				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				errs := make(chan error, 1)

				go func() {
					e.logger.Info("Starting API server", "addr", command.String("addr"), "state_dir", cmd.StateDir(e.cfg))
					errs <- app.Listen(command.String("addr"), fiber.ListenConfig{DisableStartupMessage: true})
				}()

				select {
				case err := <-errs:
					return err
				case <-ctx.Done():
				}

				e.logger.Info("Shutting down API server")

				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()

				if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
					return err
				}

				return nil
			})
		},
	}
}
