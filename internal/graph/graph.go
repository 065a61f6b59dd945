// Package graph provisions intake folders in a OneDrive/SharePoint drive
// through Microsoft Graph, shares them inside the organization and uploads
// files shared in collaboration channels.
package graph

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// DefaultBaseURL is the Graph v1.0 endpoint.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"
	// SimpleUploadLimit is the largest file sent in a single PUT.
	SimpleUploadLimit = 4 << 20
	// ChunkSize is the upload session fragment size; Graph requires a
	// multiple of 320 KiB.
	ChunkSize = 12 * 320 << 10

	graphScope     = "https://graph.microsoft.com/.default"
	tokenURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
)

// ErrMissingDrive is returned by NewClient without a drive id.
var ErrMissingDrive = errors.New("graph drive id is required")

// ErrMissingCredentials is returned by NewClient without app credentials.
var ErrMissingCredentials = errors.New("graph tenant, client id and client secret are required")

// Opts holds configuration options for the Graph client.
type Opts struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	DriveID      string
	BaseURL      string
	HTTPClient   *http.Client // authenticated client; replaces the credential flow
	UploadClient *http.Client // client for pre-authenticated upload URLs
}

// Option defines a configuration option for the Graph client.
type Option func(*Opts)

// WithCredentials sets the app registration used for the client credentials flow.
func WithCredentials(tenantID, clientID, clientSecret string) Option {
	return func(o *Opts) {
		o.TenantID, o.ClientID, o.ClientSecret = tenantID, clientID, clientSecret
	}
}

// WithDriveID sets the drive folders are created in.
func WithDriveID(id string) Option {
	return func(o *Opts) {
		o.DriveID = id
	}
}

// WithBaseURL overrides the Graph endpoint.
func WithBaseURL(u string) Option {
	return func(o *Opts) {
		o.BaseURL = u
	}
}

// WithHTTPClient sets an already authenticated HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// WithUploadClient sets the client used for upload session fragments. Those
// URLs carry their own authorization and must not get a bearer token.
func WithUploadClient(c *http.Client) Option {
	return func(o *Opts) {
		o.UploadClient = c
	}
}

// Client is the Graph drive adapter.
type Client struct {
	http   *http.Client
	upload *http.Client
	base   string
	drive  string
}

// NewClient creates a Graph client.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Graph NewClient options set", "tenant_set", cfg.TenantID != "", "client_id_set", cfg.ClientID != "", "drive_set", cfg.DriveID != "", "base_url", cfg.BaseURL)
	if cfg.DriveID == "" {
		return nil, ErrMissingDrive
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, ErrMissingCredentials
		}
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     fmt.Sprintf(tokenURLFormat, url.PathEscape(cfg.TenantID)),
			Scopes:       []string{graphScope},
		}
		httpClient = cc.Client(context.Background())
		httpClient.Timeout = 60 * time.Second
	}
	upload := cfg.UploadClient
	if upload == nil {
		upload = &http.Client{Timeout: 5 * time.Minute}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{http: httpClient, upload: upload, base: base, drive: cfg.DriveID}, nil
}

type driveItem struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	WebURL string    `json:"webUrl"`
	Folder *struct{} `json:"folder,omitempty"`
}

// EnsureFolder returns the folder parentPath/name, creating missing segments.
func (c *Client) EnsureFolder(ctx context.Context, parentPath, name string) (models.Folder, error) {
	segments := splitPath(parentPath)
	if n := strings.TrimSpace(name); n != "" {
		segments = append(segments, n)
	}
	if len(segments) == 0 {
		return models.Folder{}, models.NewIntegrationError("EnsureFolder", models.KindOther, errors.New("empty folder path"))
	}

	parentID := ""
	var item driveItem
	for i := range segments {
		path := strings.Join(segments[:i+1], "/")
		found, err := c.itemByPath(ctx, path)
		switch {
		case err == nil:
			item = found
		case models.IntegrationKindOf(err) == models.KindNotFound:
			item, err = c.createFolder(ctx, parentID, segments[i])
			if err != nil {
				return models.Folder{}, err
			}
			slog.Info("Graph.EnsureFolder: created folder", "path", path, "id", item.ID)
		default:
			return models.Folder{}, err
		}
		parentID = item.ID
	}
	return models.Folder{ID: item.ID, Path: strings.Join(segments, "/"), WebURL: item.WebURL}, nil
}

// CreateShareLink creates an organization-scoped view link.
func (c *Client) CreateShareLink(ctx context.Context, folderID string) (string, error) {
	var resp struct {
		Link struct {
			WebURL string `json:"webUrl"`
		} `json:"link"`
	}
	body := map[string]string{"type": "view", "scope": "organization"}
	if err := c.do(ctx, "CreateShareLink", http.MethodPost, c.itemURL(folderID)+"/createLink", body, &resp); err != nil {
		return "", err
	}
	return resp.Link.WebURL, nil
}

// ResolveShareLink maps a sharing URL back to the folder it points at.
func (c *Client) ResolveShareLink(ctx context.Context, shareURL string) (models.Folder, error) {
	var item driveItem
	if err := c.do(ctx, "ResolveShareLink", http.MethodGet, c.base+"/shares/"+EncodeShareURL(shareURL)+"/driveItem", nil, &item); err != nil {
		return models.Folder{}, err
	}
	return models.Folder{ID: item.ID, Path: item.Name, WebURL: item.WebURL}, nil
}

// Upload stores r as name inside folderID. Files up to SimpleUploadLimit go
// in one request, larger ones through an upload session.
func (c *Client) Upload(ctx context.Context, folderID, name string, size int64, r io.Reader) (string, error) {
	target := c.itemURL(folderID) + ":/" + url.PathEscape(name) + ":"
	if size <= SimpleUploadLimit {
		var item driveItem
		if err := c.doRaw(ctx, "Upload", c.http, http.MethodPut, target+"/content", r, "application/octet-stream", nil, &item); err != nil {
			return "", err
		}
		slog.Info("Graph.Upload: uploaded", "name", name, "size", size, "folder", folderID)
		return item.WebURL, nil
	}
	return c.uploadSession(ctx, target, name, size, r)
}

func (c *Client) uploadSession(ctx context.Context, target, name string, size int64, r io.Reader) (string, error) {
	var session struct {
		UploadURL string `json:"uploadUrl"`
	}
	req := map[string]interface{}{"item": map[string]string{"@microsoft.graph.conflictBehavior": "rename"}}
	if err := c.do(ctx, "Upload", http.MethodPost, target+"/createUploadSession", req, &session); err != nil {
		return "", err
	}

	buf := make([]byte, ChunkSize)
	var offset int64
	var item driveItem
	for offset < size {
		n, err := io.ReadFull(r, buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return "", models.NewIntegrationError("Upload", models.KindOther, fmt.Errorf("read file: %w", err))
		}
		if n == 0 {
			return "", models.NewIntegrationError("Upload", models.KindOther, fmt.Errorf("file ended at %d of %d bytes", offset, size))
		}
		end := offset + int64(n) - 1
		headers := map[string]string{"Content-Range": fmt.Sprintf("bytes %d-%d/%d", offset, end, size)}
		if err := c.doRaw(ctx, "Upload", c.upload, http.MethodPut, session.UploadURL, bytes.NewReader(buf[:n]), "application/octet-stream", headers, &item); err != nil {
			return "", err
		}
		slog.Debug("Graph.Upload: fragment sent", "name", name, "range", headers["Content-Range"])
		offset = end + 1
	}
	slog.Info("Graph.Upload: uploaded in session", "name", name, "size", size)
	return item.WebURL, nil
}

func (c *Client) itemByPath(ctx context.Context, path string) (driveItem, error) {
	var item driveItem
	err := c.do(ctx, "EnsureFolder", http.MethodGet, c.driveURL()+"/root:/"+escapePath(path), nil, &item)
	return item, err
}

func (c *Client) createFolder(ctx context.Context, parentID, name string) (driveItem, error) {
	endpoint := c.driveURL() + "/root/children"
	if parentID != "" {
		endpoint = c.itemURL(parentID) + "/children"
	}
	body := map[string]interface{}{
		"name":                              name,
		"folder":                            map[string]interface{}{},
		"@microsoft.graph.conflictBehavior": "fail",
	}
	var item driveItem
	err := c.do(ctx, "EnsureFolder", http.MethodPost, endpoint, body, &item)
	return item, err
}

func (c *Client) driveURL() string {
	return c.base + "/drives/" + url.PathEscape(c.drive)
}

func (c *Client) itemURL(id string) string {
	return c.driveURL() + "/items/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.doRaw(ctx, op, c.http, method, endpoint, body, contentType, nil, out)
}

func (c *Client) doRaw(ctx context.Context, op string, hc *http.Client, method, endpoint string, body io.Reader, contentType string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return models.NewIntegrationError(op, models.KindOther, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return models.NewIntegrationError(op, models.KindOther, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := decodeError(resp)
		slog.Debug("Graph request failed", "op", op, "method", method, "status", resp.StatusCode, "code", apiErr.Code)
		return models.NewIntegrationError(op, kindForStatus(resp.StatusCode), apiErr)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return models.NewIntegrationError(op, models.KindOther, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// APIError is a Graph error response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph: %d %s: %s", e.Status, e.Code, e.Message)
}

func decodeError(resp *http.Response) *APIError {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
	return &APIError{Status: resp.StatusCode, Code: payload.Error.Code, Message: payload.Error.Message}
}

func kindForStatus(status int) models.IntegrationKind {
	switch status {
	case http.StatusNotFound:
		return models.KindNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return models.KindAccessDenied
	}
	return models.KindOther
}

// EncodeShareURL encodes a sharing URL as a Graph share id.
func EncodeShareURL(shareURL string) string {
	return "u!" + strings.TrimRight(base64.URLEncoding.EncodeToString([]byte(shareURL)), "=")
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
