package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/labstack/echo/v4"

	"receiptly/agent"
	"receiptly/attachment"
	"receiptly/model"
)

type chatRequest struct {
	Message        string             `json:"message"`
	ConversationID string             `json:"conversation_id"`
	Context        model.PageContext  `json:"context"`
	Attachments    []model.Attachment `json:"attachments"`
}

// validate returns the HTTP status and message for a request that must not
// reach the orchestrator.
func (s *Server) validate(req chatRequest) (int, string) {
	if strings.TrimSpace(req.Message) == "" && len(req.Attachments) == 0 {
		return http.StatusBadRequest, "message or attachments are required"
	}
	if len(req.Attachments) > s.cfg.MaxAttachments {
		return http.StatusBadRequest, fmt.Sprintf("at most %d attachments are allowed", s.cfg.MaxAttachments)
	}
	var total int64
	for _, att := range req.Attachments {
		if strings.TrimSpace(att.Data) == "" {
			return http.StatusBadRequest, "attachment data is required"
		}
		total += attachment.DecodedSize(att.Data)
	}
	if total > s.cfg.MaxAttachmentBytes {
		return http.StatusRequestEntityTooLarge, fmt.Sprintf("attachments exceed %d bytes", s.cfg.MaxAttachmentBytes)
	}
	return 0, ""
}

func (s *Server) chat(c echo.Context) error {
	userID := UserID(c)

	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if status, msg := s.validate(req); status != 0 {
		return echo.NewHTTPError(status, msg)
	}

	reqCtx := c.Request().Context()
	if err := s.assistant.CheckConversation(reqCtx, userID, req.ConversationID); err != nil {
		if errors.Is(err, agent.ErrConversationNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, agent.PublicError(err))
		}
		return echo.NewHTTPError(http.StatusInternalServerError, agent.PublicError(err)).SetInternal(err)
	}

	w := newSSEWriter(c.Response())
	w.open()

	// The turn outlives the request so a disconnect never interrupts a tool
	// that already started; the budget still bounds it.
	turnCtx, cancel := context.WithTimeout(context.WithoutCancel(reqCtx), s.cfg.TurnTimeout)
	stream := agent.NewStream(0)
	defer stream.Detach()

	turn := agent.Turn{
		UserID:         userID,
		ConversationID: req.ConversationID,
		Message:        req.Message,
		Context:        req.Context,
		Attachments:    req.Attachments,
	}
	go func() {
		defer cancel()
		defer stream.Close()
		defer func() {
			// echo's Recover middleware only guards the handler goroutine.
			if r := recover(); r != nil {
				slog.Error("[Server] turn panicked", "user", userID, "panic", r, "stack", string(debug.Stack()))
				stream.Emit(agent.ErrorEvent(agent.PublicError(errTurnPanicked)))
			}
		}()
		if _, err := s.assistant.Run(turnCtx, turn, stream); err != nil {
			slog.Debug("[Server] turn ended with error", "user", userID, "error", err)
		}
	}()

	budget := turnCtx.Done()
	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				// Detached producers may close without a terminal event.
				w.write(agent.ErrorEvent(agent.PublicError(errors.New("stream closed"))))
				return nil
			}
			if err := w.write(ev); err != nil {
				slog.Info("[Server] client went away", "user", userID, "error", err)
				return nil
			}
			if ev.Terminal() {
				return nil
			}
		case <-budget:
			if !errors.Is(turnCtx.Err(), context.DeadlineExceeded) {
				// Run returned and cancelled its context; drain what is left.
				budget = nil
				continue
			}
			// The turn may have finished just as the budget ran out.
			if forwardBuffered(w, stream.Events()) {
				return nil
			}
			slog.Warn("[Server] turn exceeded its budget", "user", userID, "timeout", s.cfg.TurnTimeout)
			w.write(agent.ErrorEvent(agent.PublicError(context.DeadlineExceeded)))
			return nil
		case <-reqCtx.Done():
			slog.Info("[Server] client disconnected, turn continues in background", "user", userID)
			return nil
		}
	}
}

var errTurnPanicked = errors.New("turn panicked")

// forwardBuffered writes the events already queued on events without
// waiting for more. It reports whether the response is finished, either
// because a terminal event went out or because the client is gone.
func forwardBuffered(w *sseWriter, events <-chan agent.Event) bool {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			if err := w.write(ev); err != nil {
				return true
			}
			if ev.Terminal() {
				return true
			}
		default:
			return false
		}
	}
}

type sseWriter struct {
	res *echo.Response
}

func newSSEWriter(res *echo.Response) *sseWriter {
	return &sseWriter{res: res}
}

func (w *sseWriter) open() {
	h := w.res.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.res.WriteHeader(http.StatusOK)
	w.res.Flush()
}

// write sends one event as a "data:" frame.
func (w *sseWriter) write(ev agent.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := fmt.Fprintf(w.res, "data: %s\n\n", payload); err != nil {
		return err
	}
	w.res.Flush()
	return nil
}
