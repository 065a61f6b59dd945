package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/BTreeMap/IntakePipe/internal/engine"
	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// DefaultCancelCommand ends the caller's session from anywhere.
const DefaultCancelCommand = "/intake-cancel"

// Dialogue is the part of the engine the router drives.
type Dialogue interface {
	StartSession(ctx context.Context, req engine.StartRequest) error
	SubmitReply(ctx context.Context, r engine.Reply) (engine.Outcome, error)
	SubmitChoice(ctx context.Context, r engine.Reply) (engine.Outcome, error)
	Cancel(ctx context.Context, requesterID string) (bool, error)
}

// CommandResolver maps slash commands to flow keys. flow.Registry implements it.
type CommandResolver interface {
	KeyForCommand(command string) (string, bool)
	Commands() []string
}

// Router turns Slack commands, events and interactions into engine calls.
// Handlers return quickly; the work runs on the dispatcher keyed by user.
type Router struct {
	dialogue      Dialogue
	commands      CommandResolver
	svc           Service
	dispatch      *Dispatcher
	dedup         store.DedupRepo
	files         *FilePrompter
	botUserID     string
	cancelCommand string
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithDedup drops Slack's retried event deliveries using repo.
func WithDedup(repo store.DedupRepo) RouterOption {
	return func(r *Router) { r.dedup = repo }
}

// WithFilePrompter enables the file-upload prompt.
func WithFilePrompter(p *FilePrompter) RouterOption {
	return func(r *Router) { r.files = p }
}

// WithBotUserID makes the router ignore the bot's own messages.
func WithBotUserID(id string) RouterOption {
	return func(r *Router) { r.botUserID = id }
}

// WithCancelCommand overrides DefaultCancelCommand.
func WithCancelCommand(cmd string) RouterOption {
	return func(r *Router) { r.cancelCommand = strings.ToLower(cmd) }
}

// NewRouter creates a Router. A nil dispatcher runs work inline.
func NewRouter(dialogue Dialogue, commands CommandResolver, svc Service, dispatch *Dispatcher, opts ...RouterOption) *Router {
	if dispatch == nil {
		dispatch = NewInlineDispatcher()
	}
	r := &Router{
		dialogue:      dialogue,
		commands:      commands,
		svc:           svc,
		dispatch:      dispatch,
		cancelCommand: DefaultCancelCommand,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleCommand processes a slash command. The returned text, if any, is the
// immediate ephemeral response.
func (r *Router) HandleCommand(ctx context.Context, cmd slack.SlashCommand) string {
	command := strings.ToLower(strings.TrimSpace(cmd.Command))
	slog.Debug("Router.HandleCommand", "command", command, "user", cmd.UserID, "channel", cmd.ChannelID)

	if command == r.cancelCommand {
		r.submit(ctx, cmd.UserID, func(ctx context.Context, log *slog.Logger) {
			found, err := r.dialogue.Cancel(ctx, cmd.UserID)
			if err != nil {
				log.Error("Router.HandleCommand: cancel failed", "error", err)
				return
			}
			if !found {
				r.ephemeral(ctx, cmd.UserID, cmd.ChannelID, msgNothingToStop)
			}
		})
		return ""
	}

	key, ok := r.commands.KeyForCommand(command)
	if !ok {
		slog.Warn("Router.HandleCommand: unknown command", "command", command)
		return fmt.Sprintf(msgUnknownCommand, strings.Join(r.commands.Commands(), ", "))
	}

	req := engine.StartRequest{RequesterID: cmd.UserID, ChannelID: cmd.ChannelID, FlowKey: key}
	r.submit(ctx, cmd.UserID, func(ctx context.Context, log *slog.Logger) {
		err := r.dialogue.StartSession(ctx, req)
		if err == nil {
			return
		}
		log.Warn("Router.HandleCommand: session not started", "flow", key, "error", err)
		r.ephemeral(ctx, cmd.UserID, cmd.ChannelID, startErrorMessage(err))
	})
	return ""
}

// HandleEvent processes an Events API callback.
func (r *Router) HandleEvent(ctx context.Context, ev slackevents.EventsAPIEvent) error {
	if ev.Type != slackevents.CallbackEvent {
		return nil
	}
	eventID := ""
	if cb, ok := ev.Data.(*slackevents.EventsAPICallbackEvent); ok {
		eventID = cb.EventID
	}

	switch inner := ev.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		return r.handleMessage(ctx, eventID, inner)
	case *slackevents.FileSharedEvent:
		return r.handleFileShared(ctx, eventID, inner)
	default:
		slog.Debug("Router.HandleEvent: ignoring event", "type", ev.InnerEvent.Type)
	}
	return nil
}

func (r *Router) handleMessage(ctx context.Context, eventID string, m *slackevents.MessageEvent) error {
	if m.BotID != "" || m.SubType != "" || m.User == "" || m.User == r.botUserID {
		return nil
	}
	fresh, err := r.firstDelivery(eventID, m.User)
	if err != nil || !fresh {
		return err
	}

	reply := engine.Reply{RequesterID: m.User, ChannelID: m.Channel, ThreadID: m.ThreadTimeStamp, Text: m.Text}
	r.submit(ctx, m.User, func(ctx context.Context, log *slog.Logger) {
		outcome, err := r.dialogue.SubmitReply(ctx, reply)
		if err != nil {
			log.Error("Router.handleMessage: reply failed", "outcome", outcome, "error", err)
		} else if outcome != engine.OutcomeIgnored {
			log.Debug("Router.handleMessage: reply handled", "outcome", outcome)
		}
		r.processed(eventID)
	})
	return nil
}

func (r *Router) handleFileShared(ctx context.Context, eventID string, f *slackevents.FileSharedEvent) error {
	if r.files == nil || f.UserID == r.botUserID {
		return nil
	}
	fresh, err := r.firstDelivery(eventID, f.UserID)
	if err != nil || !fresh {
		return err
	}
	share := FileShare{FileID: f.FileID, ChannelID: f.ChannelID, UserID: f.UserID}
	r.submit(ctx, f.UserID, func(ctx context.Context, log *slog.Logger) {
		if _, err := r.files.HandleShare(ctx, share); err != nil {
			log.Error("Router.handleFileShared: prompt failed", "file", share.FileID, "error", err)
		}
		r.processed(eventID)
	})
	return nil
}

// HandleInteraction processes a button press.
func (r *Router) HandleInteraction(ctx context.Context, cb slack.InteractionCallback) error {
	if cb.Type != slack.InteractionTypeBlockActions {
		slog.Debug("Router.HandleInteraction: ignoring interaction", "type", cb.Type)
		return nil
	}
	userID := cb.User.ID
	channelID := cb.Channel.ID
	if channelID == "" {
		channelID = cb.Container.ChannelID
	}
	threadID := cb.Message.ThreadTimestamp
	if threadID == "" {
		threadID = cb.Container.ThreadTs
	}

	for _, action := range cb.ActionCallback.BlockActions {
		if action == nil {
			continue
		}
		switch action.BlockID {
		case engine.ActionPrefix:
			reply := engine.Reply{
				RequesterID: userID,
				ChannelID:   channelID,
				ThreadID:    threadID,
				Text:        action.Value,
				QuestionKey: models.ChoiceActionKey(engine.ActionPrefix, action.ActionID),
			}
			r.submit(ctx, userID, func(ctx context.Context, log *slog.Logger) {
				outcome, err := r.dialogue.SubmitChoice(ctx, reply)
				if err != nil {
					log.Error("Router.HandleInteraction: choice failed", "outcome", outcome, "error", err)
				}
			})
		case FileActionPrefix:
			if r.files == nil {
				continue
			}
			value := action.Value
			r.submit(ctx, userID, func(ctx context.Context, log *slog.Logger) {
				if err := r.files.HandleAction(ctx, userID, channelID, value); err != nil {
					log.Error("Router.HandleInteraction: file action failed", "error", err)
				}
			})
		default:
			slog.Debug("Router.HandleInteraction: ignoring action", "block", action.BlockID, "action", action.ActionID)
		}
	}
	return nil
}

// firstDelivery records eventID and reports whether it was new. Events
// without an id are always processed.
func (r *Router) firstDelivery(eventID, userID string) (bool, error) {
	if r.dedup == nil || eventID == "" {
		return true, nil
	}
	fresh, err := r.dedup.RecordInbound(eventID, userID)
	if err != nil {
		slog.Error("Router: dedup record failed", "event", eventID, "error", err)
		return false, fmt.Errorf("dedup failed: %w", err)
	}
	if !fresh {
		slog.Debug("Router: dropping retried delivery", "event", eventID)
	}
	return fresh, nil
}

func (r *Router) processed(eventID string) {
	if r.dedup == nil || eventID == "" {
		return
	}
	if err := r.dedup.MarkProcessed(eventID); err != nil {
		slog.Warn("Router: mark processed failed", "event", eventID, "error", err)
	}
}

func (r *Router) submit(ctx context.Context, userID string, task Task) {
	if err := r.dispatch.Submit(ctx, userID, task); err != nil {
		slog.Error("Router: dispatch failed", "user", userID, "error", err)
	}
}

func (r *Router) ephemeral(ctx context.Context, userID, channelID, text string) {
	if err := r.svc.PostEphemeral(ctx, userID, models.Message{ChannelID: channelID, Text: text}); err != nil {
		slog.Warn("Router: failed to post ephemeral", "user", userID, "error", err)
	}
}

func startErrorMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrAlreadyActive):
		return msgAlreadyActive
	case errors.Is(err, models.ErrIntegrationNotConfigured):
		return msgNotConfigured
	case errors.Is(err, flow.ErrUnknownFlow), errors.Is(err, flow.ErrFlowNotConfigured):
		return msgUnknownFlow
	}
	return msgStartFailed
}
