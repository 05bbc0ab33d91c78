package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/askbot/internal/api/auth"
	"github.com/askbot/internal/chat"
	"github.com/askbot/internal/conversation"
)

type messageForm struct {
	Text string `json:"text" form:"text" validate:"required"`
}

func bindMessage(c echo.Context) (*messageForm, error) {
	var form messageForm
	if err := c.Bind(&form); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid form")
	}
	if err := c.Validate(&form); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid form")
	}
	return &form, nil
}

// httpError maps domain errors onto HTTP status codes
func httpError(err error) error {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Thread not found")
	case errors.Is(err, chat.ErrRejectedInput):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "Message rejected")
	default:
		log.Error().Err(err).Msg("Request failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
}

// threadID returns the path id, rejecting ids that cannot name a thread
func threadID(c echo.Context) (string, error) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", echo.NewHTTPError(http.StatusNotFound, "Thread not found")
	}
	return id, nil
}

func (s *Server) listThreads(c echo.Context) error {
	threads, err := s.cfg.Chat.Threads(c.Request().Context(), auth.UserID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"threads": threads})
}

func (s *Server) startThread(c echo.Context) error {
	form, err := bindMessage(c)
	if err != nil {
		return err
	}
	view, err := s.cfg.Chat.StartThread(c.Request().Context(), auth.UserID(c), form.Text)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, view)
}

func (s *Server) getThread(c echo.Context) error {
	id, err := threadID(c)
	if err != nil {
		return err
	}
	view, err := s.cfg.Chat.Thread(c.Request().Context(), id, auth.UserID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) postMessage(c echo.Context) error {
	id, err := threadID(c)
	if err != nil {
		return err
	}
	form, err := bindMessage(c)
	if err != nil {
		return err
	}
	view, err := s.cfg.Chat.Continue(c.Request().Context(), id, auth.UserID(c), form.Text)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, view)
}
