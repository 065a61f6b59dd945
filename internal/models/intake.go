// Package models defines the data structures shared between the intake engine,
// the finalization pipeline and the external service adapters.
package models

import "time"

// Choice is one interactive button offered with a prompt.
type Choice struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Message is an outbound chat message. ThreadID is empty for top-level posts.
type Message struct {
	ChannelID string   `json:"channel_id"`
	ThreadID  string   `json:"thread_id,omitempty"`
	Text      string   `json:"text"`
	Choices   []Choice `json:"choices,omitempty"`
	// ActionPrefix namespaces the choice buttons so the interaction handler
	// can tell intake answers apart from other buttons.
	ActionPrefix string `json:"action_prefix,omitempty"`
	// ActionKey names the prompt the buttons answer. It is encoded into each
	// button's action id.
	ActionKey string `json:"action_key,omitempty"`
}

// FileInfo describes a file shared in chat.
type FileInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int    `json:"size"`
	DownloadRef string `json:"download_ref"`
}

// ChannelInfo is the subset of channel metadata the bot reads back.
type ChannelInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Topic   string `json:"topic"`
	Purpose string `json:"purpose"`
}

// PropertyType is the type of a record property in the knowledge base.
type PropertyType string

const (
	PropertyTitle       PropertyType = "title"
	PropertyRichText    PropertyType = "rich_text"
	PropertyNumber      PropertyType = "number"
	PropertyDate        PropertyType = "date"
	PropertySelect      PropertyType = "select"
	PropertyMultiSelect PropertyType = "multi_select"
	PropertyPeople      PropertyType = "people"
	PropertyURL         PropertyType = "url"
	PropertyEmail       PropertyType = "email"
	PropertyCheckbox    PropertyType = "checkbox"
)

// IsValidPropertyType reports whether pt is supported by the record store.
func IsValidPropertyType(pt PropertyType) bool {
	switch pt {
	case PropertyTitle, PropertyRichText, PropertyNumber, PropertyDate, PropertySelect,
		PropertyMultiSelect, PropertyPeople, PropertyURL, PropertyEmail, PropertyCheckbox:
		return true
	}
	return false
}

// PropertyValue is a typed record property. Only the field matching Type is
// read by the record store.
type PropertyValue struct {
	Type   PropertyType `json:"type"`
	Text   string       `json:"text,omitempty"`
	Number *float64     `json:"number,omitempty"`
	Date   *time.Time   `json:"date,omitempty"`
	Names  []string     `json:"names,omitempty"`
	IDs    []string     `json:"ids,omitempty"`
	Bool   bool         `json:"bool,omitempty"`
}

// Properties maps record property names to values.
type Properties map[string]PropertyValue

// Record is a created or queried knowledge-base entry.
type Record struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// RecordPage is one page of a collection query.
type RecordPage struct {
	Items      []Record `json:"items"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// DirectoryUser is a person known to the knowledge base.
type DirectoryUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Folder is a provisioned storage folder.
type Folder struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	WebURL string `json:"web_url"`
}

// FinalizationResult is the outcome of one completed session. It is reported
// to the requester and discarded.
type FinalizationResult struct {
	Title             string   `json:"title"`
	ChannelName       string   `json:"channel_name"`
	ChannelID         string   `json:"channel_id,omitempty"`
	RecordID          string   `json:"record_id"`
	RecordURL         string   `json:"record_url"`
	FolderID          string   `json:"folder_id,omitempty"`
	FolderURL         string   `json:"folder_url"`
	FolderPlaceholder bool     `json:"folder_placeholder"`
	Unresolved        []string `json:"unresolved,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
}
