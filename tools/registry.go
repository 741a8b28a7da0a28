// Package tools holds the domain tools the assistant may call and dispatches
// model tool calls to them.
//
// The set of tools is closed: every tool has a Name constant, a typed input
// struct decoded from the model's arguments, and a handler over Domain.
// Results are returned as opaque JSON.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"receiptly/config"
	"receiptly/mcp"
	"receiptly/model"
	"receiptly/storage"
)

// Name identifies a tool.
type Name string

const (
	SearchPurchases Name = "search_purchases"
	GetPurchase     Name = "get_purchase"
	CreatePurchase  Name = "create_purchase"
	CreateCase      Name = "create_case"
	AttachDocument  Name = "attach_document"
	ListExpiring    Name = "list_expiring"
)

// ErrUnknownTool is matched by every *UnknownToolError.
var ErrUnknownTool = errors.New("unknown tool")

// UnknownToolError is returned for a call naming a tool outside the closed set.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

func (e *UnknownToolError) Is(target error) bool {
	return target == ErrUnknownTool
}

// InputError is an error the model can fix by correcting its arguments. The
// message is sent back to the model, so it must not carry sensitive detail.
type InputError struct {
	cause error
}

func NewInputError(cause error) *InputError {
	return &InputError{cause: cause}
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.cause)
}

func (e *InputError) Unwrap() error {
	return e.cause
}

// Inputf is shorthand for NewInputError(fmt.Errorf(...)).
func Inputf(format string, args ...any) *InputError {
	return NewInputError(fmt.Errorf(format, args...))
}

// PublicMessage returns the text reported to the model and the client for a
// failed call. Only input and unknown-tool errors are passed through.
func PublicMessage(err error) string {
	var ie *InputError
	var ue *UnknownToolError
	switch {
	case errors.As(err, &ie):
		return ie.Error()
	case errors.As(err, &ue):
		return ue.Error()
	case errors.Is(err, storage.ErrNotFound):
		return "not found"
	case errors.Is(err, context.DeadlineExceeded):
		return "tool timed out"
	default:
		return "tool execution failed"
	}
}

// Domain is the record store the tools act on. *storage.DB implements it.
type Domain interface {
	SearchPurchases(ctx context.Context, userID, query string, limit int) ([]model.Purchase, error)
	GetPurchase(ctx context.Context, userID, id string) (*model.Purchase, error)
	CreatePurchase(ctx context.Context, p model.Purchase) (*model.Purchase, error)
	CreateCase(ctx context.Context, c model.Case) (*model.Case, error)
	AttachDocument(ctx context.Context, doc model.Document) (*model.Document, error)
	ListExpiring(ctx context.Context, userID string, days int) ([]storage.Expiring, error)
}

// BlobChecker confirms that an uploaded file exists before it is linked.
type BlobChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Scope is who a call runs for.
type Scope struct {
	UserID         string
	ConversationID string
}

type handler interface {
	definition() mcptypes.Tool
	run(ctx context.Context, scope Scope, args map[string]any) (any, error)
}

// tool binds a definition to a handler taking a typed input.
type tool[In any] struct {
	def mcptypes.Tool
	fn  func(ctx context.Context, scope Scope, in In) (any, error)
}

func (t tool[In]) definition() mcptypes.Tool {
	return t.def
}

func (t tool[In]) run(ctx context.Context, scope Scope, args map[string]any) (any, error) {
	if missing := mcp.MissingRequired(t.def, args); len(missing) > 0 {
		return nil, Inputf("missing required field(s): %s", strings.Join(missing, ", "))
	}

	in, err := decodeInput[In](args)
	if err != nil {
		return nil, err
	}
	if v, ok := any(&in).(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, NewInputError(err)
		}
	}
	return t.fn(ctx, scope, in)
}

func decodeInput[In any](args map[string]any) (In, error) {
	var in In
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return in, Inputf("arguments are not valid JSON: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&in); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return in, Inputf("field %q must be %s", typeErr.Field, typeErr.Type)
		}
		return in, Inputf("malformed arguments: %v", err)
	}
	return in, nil
}

// Registry dispatches tool calls over the closed set of tools.
type Registry struct {
	domain Domain
	blobs  BlobChecker
	tools  map[Name]handler
	order  []Name
}

type Option func(*Registry)

// WithBlobChecker makes attach_document verify that the file was uploaded.
func WithBlobChecker(b BlobChecker) Option {
	return func(r *Registry) { r.blobs = b }
}

// NewRegistry registers every tool over domain.
func NewRegistry(domain Domain, opts ...Option) *Registry {
	r := &Registry{domain: domain, tools: make(map[Name]handler)}
	for _, opt := range opts {
		opt(r)
	}

	r.register(SearchPurchases, r.searchPurchases())
	r.register(GetPurchase, r.getPurchase())
	r.register(CreatePurchase, r.createPurchase())
	r.register(CreateCase, r.createCase())
	r.register(AttachDocument, r.attachDocument())
	r.register(ListExpiring, r.listExpiring())
	return r
}

func (r *Registry) register(name Name, h handler) {
	if _, dup := r.tools[name]; dup {
		panic(fmt.Sprintf("tools: %s registered twice", name))
	}
	r.tools[name] = h
	r.order = append(r.order, name)
}

// Definitions returns the tool schemas in registration order.
func (r *Registry) Definitions() []mcptypes.Tool {
	defs := make([]mcptypes.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].definition())
	}
	return defs
}

// Lookup reports whether s names a registered tool.
func (r *Registry) Lookup(s string) (Name, bool) {
	n := Name(s)
	_, ok := r.tools[n]
	return n, ok
}

// Execute runs call for scope and returns the JSON-encoded result. Errors are
// *UnknownToolError, *InputError, or a domain failure.
func (r *Registry) Execute(ctx context.Context, scope Scope, call model.ToolCall) (json.RawMessage, error) {
	name, ok := r.Lookup(call.Name)
	if !ok {
		return nil, &UnknownToolError{Name: call.Name}
	}
	if scope.UserID == "" {
		return nil, errors.New("tool call without a user")
	}

	if config.Debug {
		slog.Debug("[Tools] executing", "tool", name, "input", call.Input)
	}

	out, err := r.tools[name].run(ctx, scope, call.Input)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s result: %w", name, err)
	}
	return data, nil
}
