package slackapi

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Ephemeral is an ephemeral message captured by MockClient.
type Ephemeral struct {
	UserID  string
	Message models.Message
}

// MockClient implements the same methods as Client in memory (for tests and
// local runs without a workspace).
type MockClient struct {
	mu         sync.Mutex
	seq        int
	Messages   []models.Message
	Ephemerals []Ephemeral
	Channels   map[string]models.ChannelInfo
	Members    map[string][]string
	Files      map[string]models.FileInfo
	Contents   map[string]string
}

// NewMockClient creates an empty mock workspace.
func NewMockClient() *MockClient {
	return &MockClient{
		Channels: make(map[string]models.ChannelInfo),
		Members:  make(map[string][]string),
		Files:    make(map[string]models.FileInfo),
		Contents: make(map[string]string),
	}
}

func (m *MockClient) BotUserID(ctx context.Context) (string, error) {
	return "UBOT", nil
}

func (m *MockClient) PostMessage(ctx context.Context, msg models.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.Messages = append(m.Messages, msg)
	return fmt.Sprintf("1700000000.%06d", m.seq), nil
}

func (m *MockClient) PostEphemeral(ctx context.Context, userID string, msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ephemerals = append(m.Ephemerals, Ephemeral{UserID: userID, Message: msg})
	return nil
}

func (m *MockClient) CreateChannel(ctx context.Context, name string, private bool) (models.ChannelInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.Channels {
		if ch.Name == name {
			return models.ChannelInfo{}, fmt.Errorf("conversations.create %s: %w", name, models.ErrChannelNameTaken)
		}
	}
	ch := models.ChannelInfo{ID: fmt.Sprintf("C%03d", len(m.Channels)+1), Name: name}
	m.Channels[ch.ID] = ch
	return ch, nil
}

func (m *MockClient) FindChannelByName(ctx context.Context, name string) (models.ChannelInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.Channels {
		if ch.Name == name {
			return ch, nil
		}
	}
	return models.ChannelInfo{}, fmt.Errorf("channel %s not found", name)
}

func (m *MockClient) ChannelInfo(ctx context.Context, channelID string) (models.ChannelInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.Channels[channelID]
	if !ok {
		return models.ChannelInfo{}, fmt.Errorf("conversations.info %s: channel_not_found", channelID)
	}
	return ch, nil
}

func (m *MockClient) InviteUsers(ctx context.Context, channelID string, userIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range userIDs {
		for _, existing := range m.Members[channelID] {
			if existing == u {
				return fmt.Errorf("conversations.invite %s: %w", channelID, models.ErrAlreadyInChannel)
			}
		}
	}
	m.Members[channelID] = append(m.Members[channelID], userIDs...)
	return nil
}

func (m *MockClient) SetTopic(ctx context.Context, channelID, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := m.Channels[channelID]
	ch.Topic = topic
	m.Channels[channelID] = ch
	return nil
}

func (m *MockClient) SetPurpose(ctx context.Context, channelID, purpose string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := m.Channels[channelID]
	ch.Purpose = purpose
	m.Channels[channelID] = ch
	return nil
}

func (m *MockClient) FileInfo(ctx context.Context, fileID string) (models.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.Files[fileID]
	if !ok {
		return models.FileInfo{}, fmt.Errorf("files.info %s: file_not_found", fileID)
	}
	return f, nil
}

func (m *MockClient) DownloadFile(ctx context.Context, ref string, w io.Writer) error {
	m.mu.Lock()
	content, ok := m.Contents[ref]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("file download failed: %s", ref)
	}
	_, err := io.Copy(w, strings.NewReader(content))
	return err
}

// Texts returns the text of every posted message.
func (m *MockClient) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Messages))
	for i, msg := range m.Messages {
		out[i] = msg.Text
	}
	return out
}
