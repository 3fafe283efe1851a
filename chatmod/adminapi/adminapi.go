// HTTP surface for manual moderation actions. Every endpoint is a thin
// validate-then-forward to the chat platform: no moderation logic lives here.
package adminapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
)

// Message is the platform-agnostic view of a fetched chat message.
type Message struct {
	ID             string    `json:"id"`
	GuildID        string    `json:"guild"`
	ChannelID      string    `json:"channel"`
	AuthorID       string    `json:"authorId"`
	AuthorTag      string    `json:"authorTag"`
	Content        string    `json:"content"`
	AttachmentURLs []string  `json:"attachments"`
	Timestamp      time.Time `json:"timestamp"`
}

// NotFoundError marks a platform lookup miss, mapped to HTTP 404.
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string {
	return e.Entity + " not found"
}

// Platform is the slice of chat-platform capability the admin API forwards to.
type Platform interface {
	HasManageMessages(ctx context.Context, guildID, userID string) (bool, error)
	FetchMessage(ctx context.Context, guildID, channelID, messageID string) (*Message, error)
	RemoveMessage(ctx context.Context, guildID, channelID, messageID string) error
	TimeoutMember(ctx context.Context, guildID, userID string, d time.Duration, auditReason string) error
	ClearTimeout(ctx context.Context, guildID, userID, auditReason string) error
	BanMember(ctx context.Context, guildID, userID, auditReason string) error
}

type Server struct {
	echo     *echo.Echo
	logger   *slog.Logger
	platform Platform
}

func NewServer(logger *slog.Logger, platform Platform) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	srv := &Server{
		echo:     e,
		logger:   logger,
		platform: platform,
	}

	api := e.Group("/api")
	api.POST("/user", srv.handleCheckPermission)
	api.GET("/checkmessage/:guild/:channel/:message", srv.handleCheckMessage)

	actions := api.Group("/actions")
	actions.POST("/delete", srv.handleDelete)
	actions.POST("/timeout", srv.handleTimeout)
	actions.POST("/untimeout", srv.handleUntimeout)
	actions.POST("/ban", srv.handleBan)

	return srv
}

func (s *Server) RunAPI(bind string) error {
	s.logger.Info("admin API listening", "bind", bind)
	if err := s.echo.Start(bind); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
