// Package notion is the knowledge-base adapter. It creates intake records in
// Notion databases, lists existing titles for numbering and reads the
// workspace's people for name resolution.
package notion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/jomei/notionapi"
)

const (
	defaultPageSize = 100
	// maxRichText is Notion's limit for one text object.
	maxRichText = 2000
)

// ErrMissingToken is returned by NewStore without an integration token.
var ErrMissingToken = errors.New("notion integration token is required")

// Opts holds configuration options for the Notion store.
type Opts struct {
	Token      string
	HTTPClient *http.Client
	PageSize   int
}

// Option defines a configuration option for the Notion store.
type Option func(*Opts)

// WithToken sets the integration token.
func WithToken(token string) Option {
	return func(o *Opts) {
		o.Token = token
	}
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// WithPageSize sets the page size for queries and user listing.
func WithPageSize(n int) Option {
	return func(o *Opts) {
		o.PageSize = n
	}
}

// Store talks to the Notion API.
type Store struct {
	client   *notionapi.Client
	pageSize int
}

// NewStore creates a Notion store.
func NewStore(opts ...Option) (*Store, error) {
	cfg := Opts{PageSize: defaultPageSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Notion NewStore options set", "token_set", cfg.Token != "", "page_size", cfg.PageSize)
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	var clientOpts []notionapi.ClientOption
	if cfg.HTTPClient != nil {
		clientOpts = append(clientOpts, notionapi.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.PageSize <= 0 || cfg.PageSize > defaultPageSize {
		cfg.PageSize = defaultPageSize
	}
	return &Store{client: notionapi.NewClient(notionapi.Token(cfg.Token), clientOpts...), pageSize: cfg.PageSize}, nil
}

// QueryRecords returns one page of a database with each record's title.
func (s *Store) QueryRecords(ctx context.Context, collectionID, cursor string) (models.RecordPage, error) {
	resp, err := s.client.Database.Query(ctx, notionapi.DatabaseID(collectionID), &notionapi.DatabaseQueryRequest{
		StartCursor: notionapi.Cursor(cursor),
		PageSize:    s.pageSize,
	})
	if err != nil {
		return models.RecordPage{}, categorize("QueryRecords", err)
	}
	page := models.RecordPage{Items: make([]models.Record, 0, len(resp.Results))}
	for _, p := range resp.Results {
		page.Items = append(page.Items, models.Record{ID: p.ID.String(), URL: p.URL, Title: pageTitle(p.Properties)})
	}
	if resp.HasMore {
		page.NextCursor = string(resp.NextCursor)
	}
	slog.Debug("Notion.QueryRecords", "collection", collectionID, "count", len(page.Items), "has_more", resp.HasMore)
	return page, nil
}

// CreateRecord creates a page in the database collectionID.
func (s *Store) CreateRecord(ctx context.Context, collectionID string, props models.Properties) (models.Record, error) {
	req := &notionapi.PageCreateRequest{
		Parent:     notionapi.Parent{Type: notionapi.ParentTypeDatabaseID, DatabaseID: notionapi.DatabaseID(collectionID)},
		Properties: toNotion(props),
	}
	p, err := s.client.Page.Create(ctx, req)
	if err != nil {
		slog.Error("Notion.CreateRecord: failed", "error", err, "collection", collectionID)
		return models.Record{}, categorize("CreateRecord", err)
	}
	rec := models.Record{ID: p.ID.String(), URL: p.URL, Title: pageTitle(p.Properties)}
	slog.Info("Notion.CreateRecord: created", "collection", collectionID, "record", rec.ID)
	return rec, nil
}

// ListDirectoryUsers lists every person in the workspace. Bots are skipped.
func (s *Store) ListDirectoryUsers(ctx context.Context) ([]models.DirectoryUser, error) {
	var users []models.DirectoryUser
	cursor := notionapi.Cursor("")
	for {
		resp, err := s.client.User.List(ctx, &notionapi.Pagination{StartCursor: cursor, PageSize: s.pageSize})
		if err != nil {
			return nil, categorize("ListDirectoryUsers", err)
		}
		for _, u := range resp.Results {
			if u.Type != notionapi.UserTypePerson {
				continue
			}
			users = append(users, models.DirectoryUser{ID: u.ID.String(), Name: u.Name})
		}
		if !resp.HasMore || resp.NextCursor == "" || resp.NextCursor == cursor {
			break
		}
		cursor = resp.NextCursor
	}
	slog.Debug("Notion.ListDirectoryUsers", "count", len(users))
	return users, nil
}

func toNotion(props models.Properties) notionapi.Properties {
	out := make(notionapi.Properties, len(props))
	for name, v := range props {
		switch v.Type {
		case models.PropertyTitle:
			out[name] = notionapi.TitleProperty{Title: richText(v.Text)}
		case models.PropertyRichText:
			out[name] = notionapi.RichTextProperty{RichText: richText(v.Text)}
		case models.PropertyNumber:
			if v.Number != nil {
				out[name] = notionapi.NumberProperty{Number: *v.Number}
			}
		case models.PropertyDate:
			if v.Date != nil {
				start := notionapi.Date(v.Date.UTC().Truncate(24 * time.Hour))
				out[name] = notionapi.DateProperty{Date: &notionapi.DateObject{Start: &start}}
			}
		case models.PropertySelect:
			out[name] = notionapi.SelectProperty{Select: notionapi.Option{Name: v.Text}}
		case models.PropertyMultiSelect:
			opts := make([]notionapi.Option, 0, len(v.Names))
			for _, n := range v.Names {
				opts = append(opts, notionapi.Option{Name: n})
			}
			out[name] = notionapi.MultiSelectProperty{MultiSelect: opts}
		case models.PropertyPeople:
			people := make([]notionapi.User, 0, len(v.IDs))
			for _, id := range v.IDs {
				people = append(people, notionapi.User{ID: notionapi.UserID(id)})
			}
			out[name] = notionapi.PeopleProperty{People: people}
		case models.PropertyURL:
			out[name] = notionapi.URLProperty{URL: v.Text}
		case models.PropertyEmail:
			out[name] = notionapi.EmailProperty{Email: v.Text}
		case models.PropertyCheckbox:
			out[name] = notionapi.CheckboxProperty{Checkbox: v.Bool}
		default:
			slog.Warn("Notion.toNotion: unsupported property type", "property", name, "type", v.Type)
		}
	}
	return out
}

func richText(s string) []notionapi.RichText {
	if r := []rune(s); len(r) > maxRichText {
		s = string(r[:maxRichText])
	}
	return []notionapi.RichText{{Text: &notionapi.Text{Content: s}}}
}

// pageTitle returns the plain text of the page's title property.
func pageTitle(props notionapi.Properties) string {
	for _, p := range props {
		var parts []notionapi.RichText
		switch t := p.(type) {
		case *notionapi.TitleProperty:
			parts = t.Title
		case notionapi.TitleProperty:
			parts = t.Title
		default:
			continue
		}
		var b strings.Builder
		for _, rt := range parts {
			if rt.PlainText != "" {
				b.WriteString(rt.PlainText)
			} else if rt.Text != nil {
				b.WriteString(rt.Text.Content)
			}
		}
		return b.String()
	}
	return ""
}

// categorize wraps err in a models.IntegrationError.
func categorize(op string, err error) error {
	kind := models.KindOther
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusNotFound || apiErr.Code == "object_not_found":
			kind = models.KindNotFound
		case apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden,
			apiErr.Code == "unauthorized", apiErr.Code == "restricted_resource":
			kind = models.KindAccessDenied
		}
	}
	return models.NewIntegrationError(op, kind, fmt.Errorf("notion: %w", err))
}
