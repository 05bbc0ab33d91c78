package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/askbot/internal/slack"
)

func (s *Server) slackWebhook(c echo.Context) error {
	body, err := s.verifiedBody(c.Request())
	if err != nil {
		log.Warn().Err(err).Msg("Rejected Slack request")
		if errors.Is(err, slack.ErrInvalidSignature) {
			return c.String(http.StatusUnauthorized, "Invalid signature")
		}
		return c.String(http.StatusBadRequest, "Invalid request")
	}

	ev, err := slack.ParseEvent(body)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to parse request body")
		return c.String(http.StatusBadRequest, "Invalid request")
	}

	log.Debug().Str("type", ev.Type).Msg("Received event")

	if ev.Type == slack.EventURLVerification {
		return c.JSON(http.StatusOK, map[string]string{"challenge": ev.Challenge})
	}

	if !ev.IsMessage() {
		return c.String(http.StatusBadRequest, "Unexpected event type")
	}

	// events sent by the bot itself
	if ev.Event.IsFrom(s.cfg.AppID) {
		return c.String(http.StatusAccepted, "Ignored")
	}
	if !ev.Event.Answerable() {
		log.Debug().Str("subtype", ev.Event.Subtype).Msg("Ignoring message event")
		return c.String(http.StatusAccepted, "Ignored")
	}

	if s.cfg.Dispatcher == nil {
		return c.String(http.StatusServiceUnavailable, "Not ready")
	}
	if err := s.cfg.Dispatcher.Dispatch(c.Request().Context(), ev.TeamID, ev.Event); err != nil {
		log.Error().Err(err).Msg("Failed to dispatch Slack message")
		return c.String(http.StatusInternalServerError, "Failed to queue event")
	}

	return c.String(http.StatusAccepted, "Received")
}

func (s *Server) verifiedBody(r *http.Request) ([]byte, error) {
	if s.cfg.SigningSecret == "" {
		return nil, slack.ErrInvalidSignature
	}
	body, err := slack.VerifyRequest(r, s.cfg.SigningSecret)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return body, nil
}
