package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/BTreeMap/IntakePipe/internal/engine"
	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/slackapi"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

type fakeDialogue struct {
	mu        sync.Mutex
	starts    []engine.StartRequest
	replies   []engine.Reply
	choices   []engine.Reply
	cancels   []string
	startErr  error
	hasActive bool
}

func (f *fakeDialogue) StartSession(ctx context.Context, req engine.StartRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, req)
	return f.startErr
}

func (f *fakeDialogue) SubmitReply(ctx context.Context, r engine.Reply) (engine.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, r)
	return engine.OutcomeAdvanced, nil
}

func (f *fakeDialogue) SubmitChoice(ctx context.Context, r engine.Reply) (engine.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.choices = append(f.choices, r)
	return engine.OutcomeAdvanced, nil
}

func (f *fakeDialogue) Cancel(ctx context.Context, requesterID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, requesterID)
	return f.hasActive, nil
}

type staticCommands map[string]string

func (c staticCommands) KeyForCommand(command string) (string, bool) {
	k, ok := c[command]
	return k, ok
}

func (c staticCommands) Commands() []string {
	return []string{"/offer", "/project"}
}

func newTestRouter(d *fakeDialogue, opts ...RouterOption) (*Router, *slackapi.MockClient) {
	svc := slackapi.NewMockClient()
	cmds := staticCommands{"/project": "project", "/offer": "offer"}
	return NewRouter(d, cmds, svc, nil, opts...), svc
}

func messageEvent(eventID string, m *slackevents.MessageEvent) slackevents.EventsAPIEvent {
	return slackevents.EventsAPIEvent{
		Type:       slackevents.CallbackEvent,
		Data:       &slackevents.EventsAPICallbackEvent{EventID: eventID},
		InnerEvent: slackevents.EventsAPIInnerEvent{Type: "message", Data: m},
	}
}

func TestRouter_CommandStartsSession(t *testing.T) {
	d := &fakeDialogue{}
	r, svc := newTestRouter(d)

	resp := r.HandleCommand(context.Background(), slack.SlashCommand{Command: "/Project", UserID: "U1", ChannelID: "C1"})
	if resp != "" {
		t.Errorf("expected empty immediate response, got %q", resp)
	}
	if len(d.starts) != 1 {
		t.Fatalf("expected 1 start, got %d", len(d.starts))
	}
	want := engine.StartRequest{RequesterID: "U1", ChannelID: "C1", FlowKey: "project"}
	if d.starts[0] != want {
		t.Errorf("start = %+v, want %+v", d.starts[0], want)
	}
	if len(svc.Ephemerals) != 0 {
		t.Errorf("expected no ephemerals, got %d", len(svc.Ephemerals))
	}
}

func TestRouter_CommandUnknown(t *testing.T) {
	d := &fakeDialogue{}
	r, _ := newTestRouter(d)

	resp := r.HandleCommand(context.Background(), slack.SlashCommand{Command: "/nope", UserID: "U1", ChannelID: "C1"})
	if !strings.Contains(resp, "/offer, /project") {
		t.Errorf("expected command list in response, got %q", resp)
	}
	if len(d.starts) != 0 {
		t.Error("expected no session start")
	}
}

func TestRouter_CommandStartErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"already active", models.ErrAlreadyActive, msgAlreadyActive},
		{"not configured", fmt.Errorf("%w: %w", models.ErrIntegrationNotConfigured, flow.ErrCollectionNotConfigured), msgNotConfigured},
		{"unknown flow", fmt.Errorf("%w: x", flow.ErrUnknownFlow), msgUnknownFlow},
		{"other", errors.New("boom"), msgStartFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDialogue{startErr: tt.err}
			r, svc := newTestRouter(d)
			r.HandleCommand(context.Background(), slack.SlashCommand{Command: "/project", UserID: "U1", ChannelID: "C1"})
			if len(svc.Ephemerals) != 1 {
				t.Fatalf("expected 1 ephemeral, got %d", len(svc.Ephemerals))
			}
			e := svc.Ephemerals[0]
			if e.UserID != "U1" || e.Message.ChannelID != "C1" || e.Message.Text != tt.want {
				t.Errorf("ephemeral = %+v, want text %q", e, tt.want)
			}
		})
	}
}

func TestRouter_CancelCommand(t *testing.T) {
	d := &fakeDialogue{}
	r, svc := newTestRouter(d)

	r.HandleCommand(context.Background(), slack.SlashCommand{Command: DefaultCancelCommand, UserID: "U1", ChannelID: "C1"})
	if len(d.cancels) != 1 || d.cancels[0] != "U1" {
		t.Fatalf("expected cancel for U1, got %v", d.cancels)
	}
	if len(svc.Ephemerals) != 1 || svc.Ephemerals[0].Message.Text != msgNothingToStop {
		t.Errorf("expected nothing-to-stop notice, got %+v", svc.Ephemerals)
	}

	d.hasActive = true
	r.HandleCommand(context.Background(), slack.SlashCommand{Command: DefaultCancelCommand, UserID: "U1", ChannelID: "C1"})
	if len(svc.Ephemerals) != 1 {
		t.Errorf("expected no notice when a session was cancelled, got %d", len(svc.Ephemerals))
	}
}

func TestRouter_MessageRoutedAsReply(t *testing.T) {
	d := &fakeDialogue{}
	r, _ := newTestRouter(d)

	ev := messageEvent("Ev1", &slackevents.MessageEvent{User: "U1", Channel: "C1", ThreadTimeStamp: "1700000000.000001", Text: "Apollo"})
	if err := r.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if len(d.replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(d.replies))
	}
	want := engine.Reply{RequesterID: "U1", ChannelID: "C1", ThreadID: "1700000000.000001", Text: "Apollo"}
	if d.replies[0] != want {
		t.Errorf("reply = %+v, want %+v", d.replies[0], want)
	}
}

func TestRouter_MessageFilters(t *testing.T) {
	tests := []struct {
		name string
		msg  *slackevents.MessageEvent
	}{
		{"bot message", &slackevents.MessageEvent{User: "U1", BotID: "B1", Text: "hi"}},
		{"own message", &slackevents.MessageEvent{User: "UBOT", Text: "hi"}},
		{"edited", &slackevents.MessageEvent{User: "U1", SubType: "message_changed", Text: "hi"}},
		{"no user", &slackevents.MessageEvent{Text: "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDialogue{}
			r, _ := newTestRouter(d, WithBotUserID("UBOT"))
			r.HandleEvent(context.Background(), messageEvent("Ev1", tt.msg))
			if len(d.replies) != 0 {
				t.Errorf("expected message to be ignored, got %d replies", len(d.replies))
			}
		})
	}
}

func TestRouter_RetriedDeliveryDropped(t *testing.T) {
	d := &fakeDialogue{}
	repo := store.NewInMemoryStore()
	r, _ := newTestRouter(d, WithDedup(repo))

	ev := messageEvent("Ev7", &slackevents.MessageEvent{User: "U1", Channel: "C1", Text: "Apollo"})
	r.HandleEvent(context.Background(), ev)
	r.HandleEvent(context.Background(), ev)
	if len(d.replies) != 1 {
		t.Fatalf("expected retried delivery to be dropped, got %d replies", len(d.replies))
	}
	if fresh, _ := repo.RecordInbound("Ev7", "U1"); fresh {
		t.Error("expected event to be recorded")
	}
}

func TestRouter_NonCallbackIgnored(t *testing.T) {
	d := &fakeDialogue{}
	r, _ := newTestRouter(d)
	if err := r.HandleEvent(context.Background(), slackevents.EventsAPIEvent{Type: slackevents.URLVerification}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRouter_ChoiceButton(t *testing.T) {
	d := &fakeDialogue{}
	r, _ := newTestRouter(d)

	cb := slack.InteractionCallback{
		Type:      slack.InteractionTypeBlockActions,
		User:      slack.User{ID: "U1"},
		Container: slack.Container{ChannelID: "C1", ThreadTs: "1700000000.000001"},
		ActionCallback: slack.ActionCallbacks{BlockActions: []*slack.BlockAction{
			{BlockID: engine.ActionPrefix, ActionID: models.ChoiceActionID(engine.ActionPrefix, "kind", 1), Value: "direct"},
			{BlockID: "someone_else", Value: "x"},
		}},
	}
	if err := r.HandleInteraction(context.Background(), cb); err != nil {
		t.Fatalf("HandleInteraction failed: %v", err)
	}
	if len(d.choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(d.choices))
	}
	want := engine.Reply{RequesterID: "U1", ChannelID: "C1", ThreadID: "1700000000.000001", Text: "direct", QuestionKey: "kind"}
	if d.choices[0] != want {
		t.Errorf("choice = %+v, want %+v", d.choices[0], want)
	}
}

func TestStartErrorMessage(t *testing.T) {
	if got := startErrorMessage(fmt.Errorf("flow x: %w", flow.ErrFlowNotConfigured)); got != msgUnknownFlow {
		t.Errorf("got %q", got)
	}
}
