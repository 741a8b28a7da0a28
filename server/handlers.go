package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"receiptly/agent"
	"receiptly/attachment"
	"receiptly/model"
	"receiptly/storage"
)

const (
	defaultConversationLimit = 50
	maxConversationLimit     = 200
)

func (s *Server) listConversations(c echo.Context) error {
	limit := defaultConversationLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxConversationLimit {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 200")
		}
		limit = n
	}

	convs, err := s.store.ListConversations(c.Request().Context(), UserID(c), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list conversations").SetInternal(err)
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) listMessages(c echo.Context) error {
	msgs, err := s.store.ListMessages(c.Request().Context(), UserID(c), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load messages").SetInternal(err)
	}
	if msgs == nil {
		msgs = []model.StoredMessage{}
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": msgs})
}

const receiptPrompt = `Extract the purchase shown on this receipt.
Reply with a single JSON object and nothing else:
{"merchant": string, "item": string, "amount": number, "currency": string, "purchase_date": "YYYY-MM-DD"}
Use null for any field you cannot read. If several items are listed, use the most expensive one for "item" and the receipt total for "amount".`

type receiptResponse struct {
	Receipt map[string]any `json:"receipt,omitempty"`
	Raw     string         `json:"raw"`
}

// extractReceipt asks the vision model to read one receipt image. The
// result is a suggestion; nothing is stored.
func (s *Server) extractReceipt(c echo.Context) error {
	var att model.Attachment
	if err := c.Bind(&att); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if attachment.DecodedSize(att.Data) > s.cfg.MaxAttachmentBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "image is too large")
	}
	img, err := attachment.PrepareImage(att)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.TurnTimeout)
	defer cancel()

	text, err := s.visionProvider().Vision(ctx, img.Data, img.MediaType, receiptPrompt, nil)
	if err != nil {
		return echo.NewHTTPError(visionStatus(err), agent.PublicError(err)).SetInternal(err)
	}
	return c.JSON(http.StatusOK, receiptResponse{Receipt: parseReceipt(text), Raw: text})
}

func visionStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrNotConfigured), errors.Is(err, model.ErrNotImplemented):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// parseReceipt pulls the first JSON object out of a model reply, tolerating
// code fences and surrounding prose. It returns nil when there is none.
func parseReceipt(text string) map[string]any {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil
	}
	return out
}
