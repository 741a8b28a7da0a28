package agent

import (
	"context"
	"errors"

	"receiptly/model"
)

// ErrConversationNotFound is returned when the requested conversation does
// not exist or belongs to another user.
var ErrConversationNotFound = errors.New("conversation not found")

// Messages shown to the user. Details stay in the log.
const (
	msgNotConfigured  = "The assistant is not configured right now. Please try again later."
	msgNotImplemented = "The selected AI provider is not available yet."
	msgTimeout        = "The assistant took too long to respond. Please try again."
	msgNotFound       = "This conversation could not be found."
	msgPersist        = "Your message could not be saved. Please try again."
	msgGeneric        = "Something went wrong while generating a response. Please try again."
)

// PublicError maps an internal error to a message that is safe to show.
func PublicError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, model.ErrNotConfigured):
		return msgNotConfigured
	case errors.Is(err, model.ErrNotImplemented):
		return msgNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	case errors.Is(err, ErrConversationNotFound):
		return msgNotFound
	case errors.Is(err, errPersist):
		return msgPersist
	default:
		return msgGeneric
	}
}

var errPersist = errors.New("persistence failed")
