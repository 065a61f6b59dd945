package slackapi

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// fakeSlack answers Web API calls by method name.
func fakeSlack(t *testing.T, responses map[string]string) (*Client, *[]string, *[]string) {
	t.Helper()
	var calls, bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.TrimPrefix(r.URL.Path, "/")
		_ = r.ParseForm()
		calls = append(calls, method)
		bodies = append(bodies, r.Form.Encode())
		body, ok := responses[method]
		if !ok {
			body = `{"ok":false,"error":"unknown_method"}`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	c, err := NewClient(WithToken("xoxb-test"), WithAPIURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c, &calls, &bodies
}

func TestNewClient_RequiresToken(t *testing.T) {
	if _, err := NewClient(); !errors.Is(err, ErrMissingToken) {
		t.Errorf("expected ErrMissingToken, got %v", err)
	}
}

func TestPostMessage_WithButtons(t *testing.T) {
	c, calls, bodies := fakeSlack(t, map[string]string{
		"chat.postMessage": `{"ok":true,"channel":"C1","ts":"1700000000.000100"}`,
	})
	ts, err := c.PostMessage(context.Background(), models.Message{
		ChannelID:    "C1",
		ThreadID:     "1700000000.000001",
		Text:         "Tender or direct?",
		Choices:      []models.Choice{{Label: "Tender", Value: "Tender"}, {Label: "Direct", Value: "Direct"}},
		ActionPrefix: "intake_answer",
	})
	if err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}
	if ts != "1700000000.000100" {
		t.Errorf("unexpected ts %s", ts)
	}
	if len(*calls) != 1 || (*calls)[0] != "chat.postMessage" {
		t.Fatalf("unexpected calls %v", *calls)
	}
	body := (*bodies)[0]
	for _, want := range []string{"thread_ts=1700000000.000001", "intake_answer_1", "blocks="} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in request, got %s", want, body)
		}
	}
}

func TestCreateChannel_TranslatesErrors(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"name_taken", models.ErrChannelNameTaken},
		{"restricted_action", models.ErrChannelCreationRestricted},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c, _, _ := fakeSlack(t, map[string]string{
				"conversations.create": `{"ok":false,"error":"` + tt.code + `"}`,
			})
			_, err := c.CreateChannel(context.Background(), "prj_p25008-apollo", true)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateChannel_Success(t *testing.T) {
	c, _, bodies := fakeSlack(t, map[string]string{
		"conversations.create": `{"ok":true,"channel":{"id":"C9","name":"prj_x"}}`,
	})
	ch, err := c.CreateChannel(context.Background(), "prj_x", true)
	if err != nil {
		t.Fatalf("CreateChannel failed: %v", err)
	}
	if ch.ID != "C9" || ch.Name != "prj_x" {
		t.Errorf("unexpected channel %+v", ch)
	}
	if !strings.Contains((*bodies)[0], "is_private=true") {
		t.Errorf("expected private creation, got %s", (*bodies)[0])
	}
}

func TestInviteUsers_AlreadyInChannel(t *testing.T) {
	c, _, _ := fakeSlack(t, map[string]string{
		"conversations.invite": `{"ok":false,"error":"already_in_channel"}`,
	})
	if err := c.InviteUsers(context.Background(), "C1", "U1"); !errors.Is(err, models.ErrAlreadyInChannel) {
		t.Errorf("expected ErrAlreadyInChannel, got %v", err)
	}
}

func TestFindChannelByName_Paginates(t *testing.T) {
	page := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		w.Header().Set("Content-Type", "application/json")
		if page == 1 {
			_, _ = w.Write([]byte(`{"ok":true,"channels":[{"id":"C1","name":"general"}],"response_metadata":{"next_cursor":"abc"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"channels":[{"id":"C2","name":"prj_x","topic":{"value":"https://notion.so/r"}}],"response_metadata":{"next_cursor":""}}`))
	}))
	defer srv.Close()
	c, _ := NewClient(WithToken("xoxb-test"), WithAPIURL(srv.URL+"/"))

	ch, err := c.FindChannelByName(context.Background(), "prj_x")
	if err != nil {
		t.Fatalf("FindChannelByName failed: %v", err)
	}
	if ch.ID != "C2" || ch.Topic != "https://notion.so/r" {
		t.Errorf("unexpected channel %+v", ch)
	}
	if page != 2 {
		t.Errorf("expected two pages, got %d", page)
	}
}

func TestFileInfo(t *testing.T) {
	c, _, _ := fakeSlack(t, map[string]string{
		"files.info": `{"ok":true,"file":{"id":"F1","name":"offer.pdf","size":2048,"url_private_download":"https://files.slack.com/F1"}}`,
	})
	f, err := c.FileInfo(context.Background(), "F1")
	if err != nil {
		t.Fatalf("FileInfo failed: %v", err)
	}
	if f.Name != "offer.pdf" || f.Size != 2048 || f.DownloadRef != "https://files.slack.com/F1" {
		t.Errorf("unexpected file %+v", f)
	}
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()
	ch, err := m.CreateChannel(ctx, "prj_x", true)
	if err != nil {
		t.Fatalf("CreateChannel failed: %v", err)
	}
	if _, err := m.CreateChannel(ctx, "prj_x", true); !errors.Is(err, models.ErrChannelNameTaken) {
		t.Errorf("expected name taken, got %v", err)
	}
	if err := m.InviteUsers(ctx, ch.ID, "U1"); err != nil {
		t.Fatalf("InviteUsers failed: %v", err)
	}
	if err := m.InviteUsers(ctx, ch.ID, "U1"); !errors.Is(err, models.ErrAlreadyInChannel) {
		t.Errorf("expected already in channel, got %v", err)
	}
	m.Contents["ref"] = "hello"
	var buf bytes.Buffer
	if err := m.DownloadFile(ctx, "ref", &buf); err != nil || buf.String() != "hello" {
		t.Errorf("unexpected download %q, %v", buf.String(), err)
	}
}
