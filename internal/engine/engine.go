// Package engine drives intake dialogues.
//
// Each requester has at most one session. The engine asks the pending
// question, validates replies through the question's rule, branches into a
// variant when a selector is answered and hands completed sessions to the
// Finalizer. Callers must deliver a requester's events in order; the engine
// matches replies by channel and thread and does not deduplicate them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/normalize"
	"github.com/BTreeMap/IntakePipe/internal/session"
)

// Reserved replies, matched case-insensitively.
const (
	CancelKeyword = "cancel"
	SkipKeyword   = "skip"
)

// ActionPrefix namespaces the answer buttons the engine posts.
const ActionPrefix = "intake_answer"

// Messenger posts chat messages.
type Messenger interface {
	// PostMessage posts msg and returns its timestamp.
	PostMessage(ctx context.Context, msg models.Message) (string, error)
}

// Finalizer runs the side effects of a completed session. It reports the
// outcome to the requester itself.
type Finalizer interface {
	Finalize(ctx context.Context, s *session.Session) (*models.FinalizationResult, error)
}

// Hinter renders the list of people a person question may name.
type Hinter interface {
	Hint(ctx context.Context, limit int) string
}

// Notifier sends messages only the requester sees.
type Notifier interface {
	PostEphemeral(ctx context.Context, userID string, msg models.Message) error
}

// Outcome describes what a reply did to its session.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeRedirected
	OutcomeRejected
	OutcomeAdvanced
	OutcomeVariantActivated
	OutcomeCancelled
	OutcomeCompleted
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeRedirected:
		return "redirected"
	case OutcomeRejected:
		return "rejected"
	case OutcomeAdvanced:
		return "advanced"
	case OutcomeVariantActivated:
		return "variant_activated"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeCompleted:
		return "completed"
	case OutcomeAborted:
		return "aborted"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// StartRequest asks for a new session.
type StartRequest struct {
	RequesterID string
	ChannelID   string
	FlowKey     string
}

// Reply is an inbound answer, typed or chosen from buttons. QuestionKey is
// set for button presses and names the question the button was posted with.
type Reply struct {
	RequesterID string
	ChannelID   string
	ThreadID    string
	Text        string
	QuestionKey string
}

// Engine is the dialogue state machine.
type Engine struct {
	flows     *flow.Registry
	sessions  session.Store
	chat      Messenger
	finalizer Finalizer
	hinter    Hinter
	hintLimit int
	notifier  Notifier
}

// Option configures an Engine.
type Option func(*Engine)

// WithFinalizer sets the pipeline completed sessions are handed to. Without
// one, StartSession fails with models.ErrIntegrationNotConfigured.
func WithFinalizer(f Finalizer) Option {
	return func(e *Engine) { e.finalizer = f }
}

// WithHinter sets the source of "available people" hints.
func WithHinter(h Hinter, limit int) Option {
	return func(e *Engine) {
		e.hinter = h
		e.hintLimit = limit
	}
}

// WithNotifier sets where configuration notices are sent privately to the
// requester.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// New creates an engine.
func New(flows *flow.Registry, sessions session.Store, chat Messenger, opts ...Option) *Engine {
	e := &Engine{flows: flows, sessions: sessions, chat: chat}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Active reports whether requesterID is mid-flow.
func (e *Engine) Active(requesterID string) bool {
	_, ok := e.sessions.Get(requesterID)
	return ok
}

// StartSession opens a session and asks the first question.
func (e *Engine) StartSession(ctx context.Context, req StartRequest) error {
	slog.Debug("Engine.StartSession", "requester", req.RequesterID, "channel", req.ChannelID, "flow", req.FlowKey)
	if _, ok := e.sessions.Get(req.RequesterID); ok {
		slog.Info("Engine.StartSession: session already active", "requester", req.RequesterID)
		return models.ErrAlreadyActive
	}

	rt, err := e.flows.Resolve(req.FlowKey)
	if err != nil {
		slog.Warn("Engine.StartSession: flow unavailable", "flow", req.FlowKey, "error", err)
		return err
	}
	if e.finalizer == nil {
		slog.Error("Engine.StartSession: record store not configured", "flow", req.FlowKey)
		return models.ErrIntegrationNotConfigured
	}
	if err := rt.RequireCollection(); err != nil {
		slog.Error("Engine.StartSession: no target collection", "flow", req.FlowKey, "error", err)
		return fmt.Errorf("%w: %w", models.ErrIntegrationNotConfigured, err)
	}

	s := session.New(req.RequesterID, req.ChannelID, rt)
	if err := e.sessions.Insert(s); err != nil {
		return err
	}

	intro := rt.Labels.Intro
	if rt.Labels.Details != "" {
		intro += "\n" + rt.Labels.Details
	}
	ts, err := e.chat.PostMessage(ctx, models.Message{ChannelID: req.ChannelID, Text: intro})
	if err != nil {
		e.sessions.Remove(req.RequesterID)
		slog.Error("Engine.StartSession: failed to post intro", "error", err, "channel", req.ChannelID)
		return fmt.Errorf("failed to post intro: %w", err)
	}
	s.SetThread(ts)

	if err := e.ask(ctx, s); err != nil {
		e.sessions.Remove(req.RequesterID)
		return err
	}
	slog.Info("Engine.StartSession: session started", "requester", req.RequesterID, "flow", rt.Key, "thread", s.ThreadID, "questions", rt.Len())
	return nil
}

// SubmitReply processes a typed reply.
func (e *Engine) SubmitReply(ctx context.Context, r Reply) (Outcome, error) {
	return e.submit(ctx, r, false)
}

// SubmitChoice processes a button selection. The value is validated by the
// question's rule like a typed answer. Buttons posted with an earlier
// question are ignored.
func (e *Engine) SubmitChoice(ctx context.Context, r Reply) (Outcome, error) {
	return e.submit(ctx, r, true)
}

// Cancel ends requesterID's session, if any.
func (e *Engine) Cancel(ctx context.Context, requesterID string) (bool, error) {
	s, ok := e.sessions.Get(requesterID)
	if !ok {
		return false, nil
	}
	return true, e.cancel(ctx, s)
}

func (e *Engine) submit(ctx context.Context, r Reply, viaButton bool) (Outcome, error) {
	s, ok := e.sessions.Get(r.RequesterID)
	if !ok {
		slog.Debug("Engine.submit: no session", "requester", r.RequesterID)
		return OutcomeIgnored, nil
	}
	if r.ChannelID != s.ChannelID {
		slog.Debug("Engine.submit: reply in another channel", "requester", r.RequesterID, "channel", r.ChannelID)
		return OutcomeIgnored, nil
	}
	if r.ThreadID != s.ThreadID {
		if s.Nudged {
			return OutcomeIgnored, nil
		}
		s.Nudged = true
		slog.Debug("Engine.submit: reply outside thread, nudging", "requester", r.RequesterID, "thread", r.ThreadID)
		if err := e.say(ctx, s, fmt.Sprintf(msgRedirect, s.RequesterID)); err != nil {
			return OutcomeRedirected, err
		}
		return OutcomeRedirected, nil
	}

	raw := strings.TrimSpace(r.Text)
	if raw == "" {
		return OutcomeRejected, e.reprompt(ctx, s, msgEmpty)
	}
	if strings.EqualFold(raw, CancelKeyword) {
		return OutcomeCancelled, e.cancel(ctx, s)
	}

	q, ok := s.Current()
	if !ok {
		slog.Warn("Engine.submit: session has no pending question", "requester", s.RequesterID, "index", s.Index)
		return OutcomeIgnored, nil
	}

	if viaButton && r.QuestionKey != q.Key {
		slog.Debug("Engine.submit: stale button ignored", "requester", s.RequesterID, "button", r.QuestionKey, "pending", q.Key)
		return OutcomeIgnored, nil
	}

	if strings.EqualFold(raw, SkipKeyword) && !viaButton {
		if !q.IsSkippable() {
			return OutcomeRejected, e.reprompt(ctx, s, msgNotSkippable)
		}
		s.Record(q.Key, normalize.Value{})
		slog.Debug("Engine.submit: question skipped", "requester", s.RequesterID, "question", q.Key)
		return e.advance(ctx, s)
	}

	v, err := q.NormalizeRule().Apply(raw)
	if err != nil {
		var rej *normalize.RejectError
		if errors.As(err, &rej) {
			slog.Debug("Engine.submit: answer rejected", "requester", s.RequesterID, "question", q.Key, "reason", rej.Reason)
			return OutcomeRejected, e.reprompt(ctx, s, rej.Reason)
		}
		slog.Error("Engine.submit: normalizer failed", "question", q.Key, "error", err)
		return OutcomeRejected, e.reprompt(ctx, s, msgInternalRetry)
	}
	if !s.Record(q.Key, v) {
		slog.Warn("Engine.submit: answer is locked, keeping the original", "requester", s.RequesterID, "question", q.Key)
	}

	if q.SelectsVariant {
		return e.activate(ctx, s, q, v)
	}
	return e.advance(ctx, s)
}

func (e *Engine) activate(ctx context.Context, s *session.Session, q flow.Question, v normalize.Value) (Outcome, error) {
	next, err := flow.Activate(s.Flow, v.Text)
	switch {
	case err == nil:
	case errors.Is(err, flow.ErrUnknownVariant):
		s.Forget(q.Key)
		return OutcomeRejected, e.reprompt(ctx, s, msgUnknownVariant)
	default:
		slog.Error("Engine.activate: variant unavailable, aborting session", "requester", s.RequesterID, "flow", s.Flow.Key, "selector", v.Text, "error", err)
		e.sessions.Remove(s.RequesterID)
		e.notify(ctx, s, msgVariantNotConfigured)
		if sayErr := e.say(ctx, s, msgVariantNotConfigured); sayErr != nil {
			return OutcomeAborted, sayErr
		}
		return OutcomeAborted, nil
	}

	baseIntro := s.Flow.Labels.Intro
	s.SwitchFlow(next, q.Key)
	slog.Info("Engine.activate: variant active", "requester", s.RequesterID, "flow", next.Key, "variant", next.Selector)
	// Variants without their own intro continue silently.
	if next.Labels.Intro != baseIntro {
		if err := e.say(ctx, s, next.Labels.Intro); err != nil {
			return OutcomeVariantActivated, err
		}
	}
	if err := e.ask(ctx, s); err != nil {
		return OutcomeVariantActivated, err
	}
	return OutcomeVariantActivated, nil
}

func (e *Engine) advance(ctx context.Context, s *session.Session) (Outcome, error) {
	if s.Advance() {
		return OutcomeAdvanced, e.ask(ctx, s)
	}
	return e.complete(ctx, s)
}

// complete runs the finalizer. The session is removed whatever happens.
func (e *Engine) complete(ctx context.Context, s *session.Session) (Outcome, error) {
	defer e.sessions.Remove(s.RequesterID)
	slog.Info("Engine.complete: all questions answered", "requester", s.RequesterID, "flow", s.Flow.Key, "answers", len(s.Answers))

	res, err := e.finalizer.Finalize(ctx, s)
	if err != nil {
		slog.Error("Engine.complete: finalization failed", "requester", s.RequesterID, "flow", s.Flow.Key, "error", err)
		return OutcomeAborted, err
	}
	slog.Info("Engine.complete: finalized", "requester", s.RequesterID, "title", res.Title, "record", res.RecordID)
	return OutcomeCompleted, nil
}

func (e *Engine) cancel(ctx context.Context, s *session.Session) error {
	e.sessions.Remove(s.RequesterID)
	slog.Info("Engine.cancel: session cancelled", "requester", s.RequesterID, "flow", s.Flow.Key, "index", s.Index)
	return e.say(ctx, s, msgCancelled)
}

// ask posts the pending question with its hints and buttons.
func (e *Engine) ask(ctx context.Context, s *session.Session) error {
	q, ok := s.Current()
	if !ok {
		return fmt.Errorf("no question at index %d", s.Index)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*%d/%d · %s*\n%s", s.Index+1, s.Flow.Len(), q.Label, q.Prompt)
	if q.IsPerson() {
		if s.PeopleHint == "" && e.hinter != nil {
			s.PeopleHint = e.hinter.Hint(ctx, e.hintLimit)
		}
		if s.PeopleHint != "" {
			fmt.Fprintf(&b, "\n_%s %s_", msgPeopleHint, s.PeopleHint)
		}
	}
	if q.IsSkippable() {
		b.WriteString("\n_" + msgSkipHint + "_")
	}
	_, err := e.chat.PostMessage(ctx, models.Message{
		ChannelID:    s.ChannelID,
		ThreadID:     s.ThreadID,
		Text:         b.String(),
		Choices:      q.Buttons(),
		ActionPrefix: ActionPrefix,
		ActionKey:    q.Key,
	})
	if err != nil {
		slog.Error("Engine.ask: failed to post question", "error", err, "requester", s.RequesterID, "question", q.Key)
		return fmt.Errorf("failed to post question %s: %w", q.Key, err)
	}
	return nil
}

// reprompt explains why an answer was not taken and asks again.
func (e *Engine) reprompt(ctx context.Context, s *session.Session, reason string) error {
	if err := e.say(ctx, s, ":warning: "+reason); err != nil {
		return err
	}
	return e.ask(ctx, s)
}

func (e *Engine) say(ctx context.Context, s *session.Session, text string) error {
	if _, err := e.chat.PostMessage(ctx, models.Message{ChannelID: s.ChannelID, ThreadID: s.ThreadID, Text: text}); err != nil {
		slog.Error("Engine.say: failed to post message", "error", err, "requester", s.RequesterID)
		return fmt.Errorf("failed to post message: %w", err)
	}
	return nil
}

// notify sends text privately in the session channel. Failures are logged.
func (e *Engine) notify(ctx context.Context, s *session.Session, text string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.PostEphemeral(ctx, s.RequesterID, models.Message{ChannelID: s.ChannelID, Text: text}); err != nil {
		slog.Warn("Engine.notify: failed to post ephemeral", "error", err, "requester", s.RequesterID)
	}
}
