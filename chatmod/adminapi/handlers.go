package adminapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type errorResp struct {
	Error string `json:"error"`
}

type successResp struct {
	Success bool `json:"success"`
}

// maps platform failures: lookup miss is a 404 with the entity name, anything
// else is a 500 with the supplied action message
func (s *Server) platformError(c echo.Context, err error, actionMsg string) error {
	var nfe *NotFoundError
	if errors.As(err, &nfe) {
		return c.JSON(http.StatusNotFound, errorResp{Error: nfe.Error()})
	}
	s.logger.Warn("platform action failed", "err", err)
	return c.JSON(http.StatusInternalServerError, errorResp{Error: actionMsg})
}

func (s *Server) handleCheckPermission(c echo.Context) error {
	var body struct {
		ID    string `json:"id"`
		Guild string `json:"guild"`
	}
	if err := c.Bind(&body); err != nil || body.ID == "" || body.Guild == "" {
		return c.JSON(http.StatusBadRequest, errorResp{Error: "Missing required fields"})
	}

	has, err := s.platform.HasManageMessages(c.Request().Context(), body.Guild, body.ID)
	if err != nil {
		return s.platformError(c, err, "Failed to check permission")
	}
	return c.JSON(http.StatusOK, map[string]bool{"hasPermission": has})
}

func (s *Server) handleCheckMessage(c echo.Context) error {
	guild := c.Param("guild")
	channel := c.Param("channel")
	message := c.Param("message")
	if message == "" || channel == "" {
		return c.JSON(http.StatusBadRequest, errorResp{Error: "Missing required fields"})
	}

	msg, err := s.platform.FetchMessage(c.Request().Context(), guild, channel, message)
	if err != nil {
		return s.platformError(c, err, "Failed to fetch message")
	}
	return c.JSON(http.StatusOK, map[string]*Message{"message": msg})
}

func (s *Server) handleDelete(c echo.Context) error {
	var body struct {
		Message string `json:"message"`
		Channel string `json:"channel"`
		Guild   string `json:"guild"`
	}
	if err := c.Bind(&body); err != nil || body.Message == "" || body.Guild == "" {
		return c.JSON(http.StatusBadRequest, errorResp{Error: "Missing required fields"})
	}

	if err := s.platform.RemoveMessage(c.Request().Context(), body.Guild, body.Channel, body.Message); err != nil {
		return s.platformError(c, err, "Failed to delete message")
	}
	return c.JSON(http.StatusOK, successResp{Success: true})
}

func (s *Server) handleTimeout(c echo.Context) error {
	var body struct {
		User  string `json:"user"`
		Guild string `json:"guild"`
		// milliseconds; zero means the default
		Time int64 `json:"time"`
	}
	if err := c.Bind(&body); err != nil || body.User == "" || body.Guild == "" {
		return c.JSON(http.StatusBadRequest, errorResp{Error: "Missing required fields"})
	}

	d := time.Duration(body.Time) * time.Millisecond
	if d <= 0 {
		d = time.Hour
	}
	if err := s.platform.TimeoutMember(c.Request().Context(), body.Guild, body.User, d, "API timeout request"); err != nil {
		return s.platformError(c, err, "Failed to timeout user")
	}
	return c.JSON(http.StatusOK, successResp{Success: true})
}

func (s *Server) handleUntimeout(c echo.Context) error {
	var body struct {
		User  string `json:"user"`
		Guild string `json:"guild"`
	}
	if err := c.Bind(&body); err != nil || body.User == "" || body.Guild == "" {
		return c.JSON(http.StatusBadRequest, errorResp{Error: "Missing required fields"})
	}

	if err := s.platform.ClearTimeout(c.Request().Context(), body.Guild, body.User, "API untimeout request"); err != nil {
		return s.platformError(c, err, "Failed to untimeout user")
	}
	return c.JSON(http.StatusOK, successResp{Success: true})
}

func (s *Server) handleBan(c echo.Context) error {
	var body struct {
		User  string `json:"user"`
		Guild string `json:"guild"`
	}
	if err := c.Bind(&body); err != nil || body.User == "" || body.Guild == "" {
		return c.JSON(http.StatusBadRequest, errorResp{Error: "Missing required fields"})
	}

	if err := s.platform.BanMember(c.Request().Context(), body.Guild, body.User, "API ban request"); err != nil {
		return s.platformError(c, err, "Failed to ban user")
	}
	return c.JSON(http.StatusOK, successResp{Success: true})
}
