// Package api serves the Slack webhook, the web chat API, health and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/askbot/internal/api/auth"
	"github.com/askbot/internal/chat"
	"github.com/askbot/internal/metrics"
	"github.com/askbot/internal/slack"
	"github.com/askbot/pkg/models"
)

// Dispatcher hands a Slack message to background processing
type Dispatcher interface {
	Dispatch(ctx context.Context, teamID string, event *slack.MessageEvent) error
}

// ChatService is the web chat backend
type ChatService interface {
	StartThread(ctx context.Context, userID, text string) (*chat.ThreadView, error)
	Continue(ctx context.Context, threadID, userID, text string) (*chat.ThreadView, error)
	Thread(ctx context.Context, threadID, ownerID string) (*chat.ThreadView, error)
	Threads(ctx context.Context, ownerID string) ([]*models.Thread, error)
}

// ServerConfig wires the server's collaborators
type ServerConfig struct {
	Port          int
	SigningSecret string
	AppID         string
	Tokens        *auth.TokenService
	Chat          ChatService
	Dispatcher    Dispatcher
}

// Server represents the API server
type Server struct {
	echo *echo.Echo
	cfg  ServerConfig
}

type requestValidator struct {
	v *validator.Validate
}

func (r *requestValidator) Validate(i interface{}) error {
	return r.v.Struct(i)
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &requestValidator{v: validator.New()}

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo: e,
		cfg:  cfg,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "ok",
		})
	})
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	s.echo.POST("/webhook/slack", s.slackWebhook)

	if s.cfg.Chat == nil || s.cfg.Tokens == nil {
		return
	}

	// API v1 group
	v1 := s.echo.Group("/api/v1", auth.RequireUser(s.cfg.Tokens))
	v1.GET("/threads", s.listThreads)
	v1.POST("/threads", s.startThread)
	v1.GET("/threads/:id", s.getThread)
	v1.POST("/threads/:id/messages", s.postMessage)
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.cfg.Port).Msg("Starting API server")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(shutdownCtx)
}
