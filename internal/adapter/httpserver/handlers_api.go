package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dixxi1208/GryazBot/internal/domain"
	apperrors "github.com/dixxi1208/GryazBot/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

type standingResponse struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Handle      string `json:"handle,omitempty"`
	Score       int    `json:"score"`
}

type pollResponse struct {
	ID              int64      `json:"id"`
	ChatID          int64      `json:"chat_id"`
	TargetUserID    int64      `json:"target_user_id"`
	Target          string     `json:"target"`
	NominatorUserID int64      `json:"nominator_user_id"`
	MessageRef      string     `json:"message_ref,omitempty"`
	Status          string     `json:"status"`
	Plus            int        `json:"plus"`
	Minus           int        `json:"minus"`
	Quorum          int        `json:"quorum"`
	CreatedAt       time.Time  `json:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

type attachMessageRequest struct {
	MessageRef string `json:"message_ref"`
}

func (s *Server) registerAPIRoutes(secret echo.MiddlewareFunc) {
	api := s.echo.Group("/api", secret)
	api.GET("/chats/:chatID/standings", s.handleStandings)
	api.GET("/polls/:pollID", s.handleGetPoll)
	api.PUT("/polls/:pollID/message", s.handleAttachMessage)
}

func (s *Server) handleStandings(c echo.Context) error {
	chatID, err := strconv.ParseInt(c.Param("chatID"), 10, 64)
	if err != nil || chatID == 0 {
		return apperrors.ValidationError("invalid chat ID")
	}

	standings, err := s.polls.Standings(c.Request().Context(), chatID)
	if err != nil {
		return err
	}

	out := make([]standingResponse, 0, len(standings))
	for _, st := range standings {
		out = append(out, standingResponse(st))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetPoll(c echo.Context) error {
	pollID, err := parsePollID(c)
	if err != nil {
		return err
	}

	h, err := s.polls.Poll(c.Request().Context(), pollID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPollResponse(h))
}

func (s *Server) handleAttachMessage(c echo.Context) error {
	pollID, err := parsePollID(c)
	if err != nil {
		return err
	}

	var req attachMessageRequest
	if err := c.Bind(&req); err != nil || req.MessageRef == "" {
		return apperrors.ValidationError("message_ref is required")
	}

	if err := s.polls.AttachMessage(c.Request().Context(), pollID, req.MessageRef); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func parsePollID(c echo.Context) (int64, error) {
	pollID, err := strconv.ParseInt(c.Param("pollID"), 10, 64)
	if err != nil || pollID <= 0 {
		return 0, apperrors.ValidationError("invalid poll ID")
	}
	return pollID, nil
}

func toPollResponse(h *domain.PollHandle) pollResponse {
	p := h.Poll
	return pollResponse{
		ID:              p.ID,
		ChatID:          p.ChatID,
		TargetUserID:    p.TargetUserID,
		Target:          h.Target.Label(),
		NominatorUserID: p.NominatorUserID,
		MessageRef:      p.MessageRef,
		Status:          string(p.Status),
		Plus:            p.PlusCount,
		Minus:           p.MinusCount,
		Quorum:          h.Quorum,
		CreatedAt:       p.CreatedAt,
		ResolvedAt:      p.ResolvedAt,
	}
}
