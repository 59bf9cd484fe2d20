package httpserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dixxi1208/GryazBot/internal/domain"
	apperrors "github.com/dixxi1208/GryazBot/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

// handleEvent runs one chat event through the router. The reply goes back in
// the response body; 204 means there is nothing to show.
func (s *Server) handleEvent(c echo.Context) error {
	var ev domain.ChatEvent
	if err := c.Bind(&ev); err != nil {
		return apperrors.ValidationError("malformed chat event")
	}
	if ev.Chat.ID == 0 {
		return apperrors.ValidationError("chat.id is required")
	}

	kind := eventKind(ev)
	if s.httpMetrics != nil {
		s.httpMetrics.WebhookEvents.WithLabelValues(kind).Inc()
	}

	ctx := c.Request().Context()
	reply, err := s.router.Handle(ctx, ev)
	if err != nil {
		return fmt.Errorf("handle %s event: %w", kind, err)
	}
	if reply == nil {
		return c.NoContent(http.StatusNoContent)
	}

	slog.DebugContext(ctx, "Event answered", "kind", kind, "chat_id", ev.Chat.ID, "poll_id", reply.PollID)
	return c.JSON(http.StatusOK, reply)
}

func eventKind(ev domain.ChatEvent) string {
	switch {
	case ev.Callback != nil:
		return "callback"
	case strings.HasPrefix(strings.TrimSpace(ev.Text), "/"):
		return "command"
	case ev.MemberUpdate != nil:
		return "member_update"
	default:
		return "message"
	}
}
