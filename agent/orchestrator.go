// Package agent runs one chat turn: it resolves the conversation, builds the
// user's content, loops between the model and the tools within a fixed
// budget, persists the result and reports progress as a stream of events.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"receiptly/attachment"
	"receiptly/config"
	"receiptly/model"
	"receiptly/storage"
	"receiptly/telemetry"
	"receiptly/tools"
)

const (
	// MaxRounds is the hard upper bound on model calls per turn.
	MaxRounds = 5

	DefaultHistoryLimit = 20

	// ToolTimeout bounds a single tool execution. Tools run on a context
	// detached from the turn so a started write is never cut short.
	ToolTimeout = 30 * time.Second

	persistTimeout = 5 * time.Second
)

const (
	fallbackNoAction = "Sorry, I couldn't come up with an answer to that. Could you rephrase your question?"
	fallbackActions  = "Done. I've completed the requested actions."
)

// Store is the persistence the orchestrator needs. *storage.DB implements it.
type Store interface {
	CreateConversation(ctx context.Context, meta model.ConversationMeta) (string, error)
	TouchConversation(ctx context.Context, id string) error
	AppendMessages(ctx context.Context, conversationID string, msgs []model.StoredMessage) ([]model.StoredMessage, error)
	LoadRecentHistory(ctx context.Context, conversationID string, limit int) ([]model.StoredMessage, error)
	GetConversation(ctx context.Context, userID, id string) (*model.Conversation, error)
}

// ToolExecutor runs tool calls. *tools.Registry implements it.
type ToolExecutor interface {
	Definitions() []mcptypes.Tool
	Execute(ctx context.Context, scope tools.Scope, call model.ToolCall) (json.RawMessage, error)
}

// ContentBuilder turns text and attachments into message content.
// *attachment.Preprocessor implements it.
type ContentBuilder interface {
	BuildMessageContent(ctx context.Context, userID, text string, attachments []model.Attachment) (attachment.Result, error)
}

// Observer receives turn measurements. *telemetry.Metrics implements it.
type Observer interface {
	TurnStarted()
	TurnFinished(outcome string, rounds int, d time.Duration)
	ModelCall(provider string, d time.Duration, usage model.Usage, err error)
	ToolCall(tool string, success bool, d time.Duration)
	Attachments(kinds []model.AttachmentKind)
}

// Turn is one user message.
type Turn struct {
	UserID         string
	ConversationID string
	Message        string
	Context        model.PageContext
	Attachments    []model.Attachment
}

// Result summarizes a finished turn.
type Result struct {
	ConversationID string
	MessageID      string
	Content        string
	ToolCalls      []model.ToolCallRecord
	Rounds         int
}

type Orchestrator struct {
	provider     model.Provider
	store        Store
	tools        ToolExecutor
	content      ContentBuilder
	maxRounds    int
	historyLimit int
	model        string
	maxTokens    int64
	temperature  *float64
	observer     Observer
	tracer       trace.Tracer
	now          func() time.Time
}

type Option func(*Orchestrator)

// WithLimits applies the agent section of the config. Rounds outside
// 1..MaxRounds fall back to MaxRounds.
func WithLimits(cfg config.AgentConfig) Option {
	return func(o *Orchestrator) {
		if cfg.MaxRounds > 0 && cfg.MaxRounds <= MaxRounds {
			o.maxRounds = cfg.MaxRounds
		}
		if cfg.HistoryLimit > 0 {
			o.historyLimit = cfg.HistoryLimit
		}
	}
}

// WithChatOptions sets the model, token limit and temperature sent on every
// call. Zero values keep the provider defaults.
func WithChatOptions(modelName string, maxTokens int64, temperature *float64) Option {
	return func(o *Orchestrator) {
		o.model = modelName
		o.maxTokens = maxTokens
		o.temperature = temperature
	}
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New wires an orchestrator around an explicitly chosen provider.
func New(provider model.Provider, store Store, executor ToolExecutor, content ContentBuilder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:     provider,
		store:        store,
		tools:        executor,
		content:      content,
		maxRounds:    MaxRounds,
		historyLimit: DefaultHistoryLimit,
		observer:     nopObserver{},
		tracer:       telemetry.Tracer("receiptly/agent"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Provider() model.Provider {
	return o.provider
}

// CheckConversation returns ErrConversationNotFound unless id is empty or
// names a conversation owned by userID.
func (o *Orchestrator) CheckConversation(ctx context.Context, userID, id string) error {
	if id == "" {
		return nil
	}
	_, err := o.store.GetConversation(ctx, userID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	return nil
}

// Run executes one turn and reports it to em. It always emits exactly one
// terminal event unless em has gone away. The returned error is the failure
// already reported in the error event.
func (o *Orchestrator) Run(ctx context.Context, turn Turn, em Emitter) (res Result, err error) {
	start := o.now()
	o.observer.TurnStarted()

	ctx, span := o.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("provider", o.provider.Name()),
		attribute.Int("attachments", len(turn.Attachments)),
	))
	defer func() {
		outcome := "done"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, PublicError(err))
		}
		span.SetAttributes(attribute.Int("rounds", res.Rounds))
		span.End()
		o.observer.TurnFinished(outcome, res.Rounds, o.now().Sub(start))
	}()

	convID, existing, err := o.resolveConversation(ctx, turn)
	if err != nil {
		return res, o.fail(em, err)
	}
	res.ConversationID = convID
	span.SetAttributes(attribute.String("conversation_id", convID))
	live := em.Emit(conversationIDEvent(convID))

	var history []model.StoredMessage
	if existing {
		history, err = o.store.LoadRecentHistory(ctx, convID, o.historyLimit)
		if err != nil {
			return res, o.fail(em, fmt.Errorf("failed to load history: %w", err))
		}
	}

	built, err := o.content.BuildMessageContent(ctx, turn.UserID, turn.Message, turn.Attachments)
	if err != nil {
		return res, o.fail(em, fmt.Errorf("failed to build message content: %w", err))
	}
	o.observer.Attachments(built.Kinds)
	span.SetAttributes(attribute.Int("images", len(built.Content.Images())))

	userRow := model.StoredMessage{
		Role:        model.RoleUser,
		Content:     storedUserText(turn.Message, built),
		Attachments: built.UploadedFiles,
	}

	transcript := model.NewTranscript(model.BuildMessages(history, built.Content)...)
	opts := model.ChatOptions{
		Model:        o.model,
		MaxTokens:    o.maxTokens,
		Temperature:  o.temperature,
		SystemPrompt: SystemPrompt(turn.Context, o.now()),
		Tools:        o.tools.Definitions(),
	}
	scope := tools.Scope{UserID: turn.UserID, ConversationID: convID}

	var texts []string
	for res.Rounds < o.maxRounds && live {
		if err := ctx.Err(); err != nil {
			return res, o.abort(ctx, em, convID, userRow, texts, res.ToolCalls, err)
		}

		res.Rounds++
		resp, err := o.chat(ctx, transcript, opts)
		if err != nil {
			return res, o.abort(ctx, em, convID, userRow, texts, res.ToolCalls, err)
		}

		if strings.TrimSpace(resp.Content) != "" {
			texts = append(texts, strings.TrimSpace(resp.Content))
			live = em.Emit(contentEvent(resp.Content)) && live
		}

		if resp.StopReason != model.StopToolUse || len(resp.ToolCalls) == 0 {
			break
		}

		var batch []model.ToolCallRecord
		transcript, batch, live = o.runTools(ctx, em, scope, transcript, resp, live)
		res.ToolCalls = append(res.ToolCalls, batch...)
	}

	if !live {
		slog.Info("[Agent] client detached, saving partial turn", "conversation", convID, "rounds", res.Rounds)
		if res.Rounds == 0 {
			if _, err := o.persist(ctx, convID, userRow); err != nil {
				slog.Error("[Agent] failed to save user message", "conversation", convID, "error", err)
			}
			return res, nil
		}
	}

	res.Content = finalContent(texts, res.ToolCalls)
	saved, err := o.persist(ctx, convID, userRow, model.StoredMessage{
		Role:      model.RoleAssistant,
		Content:   res.Content,
		ToolCalls: res.ToolCalls,
	})
	if err != nil {
		return res, o.fail(em, err)
	}
	if len(saved) == 2 {
		res.MessageID = saved[1].ID
	}

	em.Emit(doneEvent(res.Content, res.MessageID, res.ToolCalls))
	return res, nil
}

func (o *Orchestrator) resolveConversation(ctx context.Context, turn Turn) (string, bool, error) {
	if turn.ConversationID != "" {
		if err := o.CheckConversation(ctx, turn.UserID, turn.ConversationID); err != nil {
			return "", false, err
		}
		return turn.ConversationID, true, nil
	}

	id, err := o.store.CreateConversation(ctx, model.ConversationMeta{
		UserID:      turn.UserID,
		Title:       Title(turn.Message, turn.Attachments),
		StartedPage: turn.Context.Page,
		ContextType: turn.Context.ItemType,
		ContextID:   turn.Context.ItemID,
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to create conversation: %w", err)
	}
	return id, false, nil
}

func (o *Orchestrator) chat(ctx context.Context, transcript model.Transcript, opts model.ChatOptions) (*model.LLMResponse, error) {
	ctx, span := o.tracer.Start(ctx, "provider.chat", trace.WithAttributes(
		attribute.String("provider", o.provider.Name()),
		attribute.Int("messages", transcript.Len()),
	))
	defer span.End()

	if config.Debug {
		if err := transcript.Validate(); err != nil {
			slog.Warn("[Agent] transcript is inconsistent", "error", err)
		}
	}

	start := time.Now()
	resp, err := o.provider.Chat(ctx, transcript.Messages(), opts)
	if err == nil && resp == nil {
		err = errors.New("provider returned no response")
	}

	var usage model.Usage
	if resp != nil {
		usage = resp.Usage
	}
	o.observer.ModelCall(o.provider.Name(), time.Since(start), usage, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("stop_reason", string(resp.StopReason)),
		attribute.Int("tool_calls", len(resp.ToolCalls)),
		attribute.Int64("input_tokens", resp.Usage.InputTokens),
		attribute.Int64("output_tokens", resp.Usage.OutputTokens),
	)
	return resp, nil
}

// runTools executes every call of resp in order and appends the assistant
// tool_use message and the user tool_result message to transcript.
func (o *Orchestrator) runTools(ctx context.Context, em Emitter, scope tools.Scope, transcript model.Transcript, resp *model.LLMResponse, live bool) (model.Transcript, []model.ToolCallRecord, bool) {
	uses := make([]model.ContentBlock, 0, len(resp.ToolCalls)+1)
	if resp.Content != "" {
		uses = append(uses, model.TextBlock{Text: resp.Content})
	}
	results := make([]model.ContentBlock, 0, len(resp.ToolCalls))
	records := make([]model.ToolCallRecord, 0, len(resp.ToolCalls))

	for _, call := range resp.ToolCalls {
		uses = append(uses, model.ToolUseBlock{ID: call.ID, Name: call.Name, Input: call.Input})

		live = em.Emit(toolCallEvent(call.Name)) && live
		rec := o.executeTool(ctx, scope, call)
		records = append(records, rec)
		live = em.Emit(toolResultEvent(rec)) && live

		results = append(results, model.ToolResultBlock{
			ToolUseID: call.ID,
			Content:   toolResultContent(rec),
			IsError:   !rec.Success,
		})
	}

	next := transcript.Append(
		model.Message{Role: model.RoleAssistant, Content: model.BlockContent(uses...)},
		model.Message{Role: model.RoleUser, Content: model.BlockContent(results...)},
	)
	return next, records, live
}

func (o *Orchestrator) executeTool(ctx context.Context, scope tools.Scope, call model.ToolCall) model.ToolCallRecord {
	toolCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ToolTimeout)
	defer cancel()
	toolCtx, span := o.tracer.Start(toolCtx, "tool.execute", trace.WithAttributes(attribute.String("tool", call.Name)))
	defer span.End()

	start := time.Now()
	out, err := o.tools.Execute(toolCtx, scope, call)
	o.observer.ToolCall(call.Name, err == nil, time.Since(start))

	if err != nil {
		slog.Warn("[Agent] tool failed", "tool", call.Name, "conversation", scope.ConversationID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool failed")
		return model.ToolCallRecord{Name: call.Name, Success: false, Error: tools.PublicMessage(err)}
	}
	return model.ToolCallRecord{Name: call.Name, Success: true, Output: out}
}

func toolResultContent(rec model.ToolCallRecord) string {
	if !rec.Success {
		return rec.Error
	}
	if len(rec.Output) == 0 {
		return "{}"
	}
	return string(rec.Output)
}

// abort saves what the turn produced so far and reports err.
func (o *Orchestrator) abort(ctx context.Context, em Emitter, convID string, userRow model.StoredMessage, texts []string, records []model.ToolCallRecord, err error) error {
	rows := []model.StoredMessage{userRow}
	if len(texts) > 0 || len(records) > 0 {
		rows = append(rows, model.StoredMessage{
			Role:      model.RoleAssistant,
			Content:   finalContent(texts, records),
			ToolCalls: records,
		})
	}
	if _, perr := o.persist(ctx, convID, rows...); perr != nil {
		slog.Error("[Agent] failed to save interrupted turn", "conversation", convID, "error", perr)
	}
	return o.fail(em, err)
}

func (o *Orchestrator) fail(em Emitter, err error) error {
	slog.Error("[Agent] turn failed", "provider", o.provider.Name(), "error", err)
	em.Emit(ErrorEvent(PublicError(err)))
	return err
}

// persist appends rows and bumps the conversation. It runs on a detached
// context so a turn that timed out or lost its client is still saved.
func (o *Orchestrator) persist(ctx context.Context, convID string, rows ...model.StoredMessage) ([]model.StoredMessage, error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	saved, err := o.store.AppendMessages(pctx, convID, rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errPersist, err)
	}
	if err := o.store.TouchConversation(pctx, convID); err != nil {
		slog.Warn("[Agent] failed to touch conversation", "conversation", convID, "error", err)
	}
	return saved, nil
}

func finalContent(texts []string, records []model.ToolCallRecord) string {
	if len(texts) > 0 {
		return strings.Join(texts, "\n\n")
	}
	if len(records) > 0 {
		return fallbackActions
	}
	return fallbackNoAction
}

// storedUserText is the user row kept in history: the typed text plus the
// uploaded-files block, so later turns can still reference storagePath.
func storedUserText(message string, built attachment.Result) string {
	text := strings.TrimSpace(message)
	if len(built.UploadedFiles) > 0 {
		block := attachment.FormatUploadedFiles(built.UploadedFiles)
		if text == "" {
			return block
		}
		return text + "\n\n" + block
	}
	if text == "" {
		return built.Content.PlainText()
	}
	return text
}

type nopObserver struct{}

func (nopObserver) TurnStarted()                                        {}
func (nopObserver) TurnFinished(string, int, time.Duration)             {}
func (nopObserver) ModelCall(string, time.Duration, model.Usage, error) {}
func (nopObserver) ToolCall(string, bool, time.Duration)                {}
func (nopObserver) Attachments([]model.AttachmentKind)                  {}
