// Package testutil provides fakes and helpers shared by IntakePipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// TB is the part of testing.TB the helpers need.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// Ephemeral is a captured ephemeral message.
type Ephemeral struct {
	UserID  string
	Message models.Message
}

// RecordingMessenger captures posted messages and hands out increasing
// timestamps. Set Err to make every post fail.
type RecordingMessenger struct {
	mu         sync.Mutex
	seq        int
	Messages   []models.Message
	Ephemerals []Ephemeral
	Err        error
}

// NewRecordingMessenger creates an empty recorder.
func NewRecordingMessenger() *RecordingMessenger {
	return &RecordingMessenger{}
}

// PostMessage records msg and returns a fresh timestamp.
func (m *RecordingMessenger) PostMessage(ctx context.Context, msg models.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.seq++
	m.Messages = append(m.Messages, msg)
	return fmt.Sprintf("1700000000.%06d", m.seq), nil
}

// PostEphemeral records an ephemeral message.
func (m *RecordingMessenger) PostEphemeral(ctx context.Context, userID string, msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Ephemerals = append(m.Ephemerals, Ephemeral{UserID: userID, Message: msg})
	return nil
}

// Count is the number of posted messages.
func (m *RecordingMessenger) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages)
}

// Last returns the most recent message.
func (m *RecordingMessenger) Last() models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Messages) == 0 {
		return models.Message{}
	}
	return m.Messages[len(m.Messages)-1]
}

// Contains reports whether any posted message contains substr.
func (m *RecordingMessenger) Contains(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.Messages {
		if strings.Contains(msg.Text, substr) {
			return true
		}
	}
	return false
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeJSON decodes the recorder body into a map.
func DecodeJSON(t TB, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	return response
}

// CreateJSONRequest creates an HTTP request with an optional JSON body.
func CreateJSONRequest(t TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// CreateFormRequest creates a form-encoded POST, the way Slack sends slash
// commands and interactions.
func CreateFormRequest(t TB, url, form string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(form))
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}
