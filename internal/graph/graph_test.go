package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

type recorder struct {
	mu       sync.Mutex
	requests []string
	ranges   []string
	bodies   map[string]map[string]interface{}
	sizes    []int
}

func (r *recorder) add(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req.Method+" "+req.URL.Path)
}

func newTestClient(t *testing.T, handler func(rec *recorder, w http.ResponseWriter, r *http.Request)) (*Client, *recorder, string) {
	t.Helper()
	rec := &recorder{bodies: make(map[string]map[string]interface{})}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.Header().Set("Content-Type", "application/json")
		handler(rec, w, r)
	}))
	t.Cleanup(srv.Close)
	c, err := NewClient(WithDriveID("d1"), WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithUploadClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c, rec, srv.URL
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(); !errors.Is(err, ErrMissingDrive) {
		t.Errorf("expected ErrMissingDrive, got %v", err)
	}
	if _, err := NewClient(WithDriveID("d1")); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
	if _, err := NewClient(WithDriveID("d1"), WithCredentials("tenant", "id", "secret")); err != nil {
		t.Errorf("expected credentials to be enough, got %v", err)
	}
}

func TestEnsureFolder_CreatesMissingSegments(t *testing.T) {
	c, rec, _ := newTestClient(t, func(rec *recorder, w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/drives/d1/root:/Projects":
			_, _ = io.WriteString(w, `{"id":"p1","name":"Projects","folder":{}}`)
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":"itemNotFound","message":"not found"}}`)
		case r.Method == http.MethodPost && r.URL.Path == "/drives/d1/items/p1/children":
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			rec.mu.Lock()
			rec.bodies[r.URL.Path] = body
			rec.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":"f1","name":"P25008_Apollo","webUrl":"https://contoso.sharepoint.com/f1","folder":{}}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	folder, err := c.EnsureFolder(context.Background(), "/Projects/", "P25008_Apollo")
	if err != nil {
		t.Fatalf("EnsureFolder failed: %v", err)
	}
	if folder.ID != "f1" || folder.Path != "Projects/P25008_Apollo" {
		t.Errorf("unexpected folder %+v", folder)
	}
	body := rec.bodies["/drives/d1/items/p1/children"]
	if body["name"] != "P25008_Apollo" || body["@microsoft.graph.conflictBehavior"] != "fail" {
		t.Errorf("unexpected create body %v", body)
	}
	if len(rec.requests) != 3 {
		t.Errorf("expected GET, GET, POST, got %v", rec.requests)
	}
}

func TestEnsureFolder_AccessDenied(t *testing.T) {
	c, _, _ := newTestClient(t, func(rec *recorder, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":"accessDenied","message":"nope"}}`)
	})
	_, err := c.EnsureFolder(context.Background(), "Projects", "X")
	if models.IntegrationKindOf(err) != models.KindAccessDenied {
		t.Errorf("expected access denied, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "accessDenied" {
		t.Errorf("expected APIError in chain, got %v", err)
	}
}

func TestCreateShareLink(t *testing.T) {
	c, _, _ := newTestClient(t, func(rec *recorder, w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/drives/d1/items/f1/createLink" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"link":{"type":"view","scope":"organization","webUrl":"https://contoso.sharepoint.com/:f:/s/x"}}`)
	})
	link, err := c.CreateShareLink(context.Background(), "f1")
	if err != nil || link != "https://contoso.sharepoint.com/:f:/s/x" {
		t.Errorf("unexpected link %q, %v", link, err)
	}
}

func TestResolveShareLink(t *testing.T) {
	share := "https://contoso.sharepoint.com/:f:/s/x"
	c, _, _ := newTestClient(t, func(rec *recorder, w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shares/"+EncodeShareURL(share)+"/driveItem" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"id":"f1","name":"P25008_Apollo","webUrl":"https://contoso.sharepoint.com/f1"}`)
	})
	folder, err := c.ResolveShareLink(context.Background(), share)
	if err != nil || folder.ID != "f1" {
		t.Errorf("unexpected folder %+v, %v", folder, err)
	}
	if strings.ContainsAny(EncodeShareURL(share), "=+/") {
		t.Errorf("share id must be unpadded base64url, got %s", EncodeShareURL(share))
	}
}

func TestUpload_Simple(t *testing.T) {
	var got []byte
	c, rec, _ := newTestClient(t, func(rec *recorder, w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"i1","webUrl":"https://contoso.sharepoint.com/i1"}`)
	})
	webURL, err := c.Upload(context.Background(), "f1", "offer.pdf", 5, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if webURL != "https://contoso.sharepoint.com/i1" || string(got) != "hello" {
		t.Errorf("unexpected upload %q / %q", webURL, got)
	}
	if rec.requests[0] != "PUT /drives/d1/items/f1:/offer.pdf:/content" {
		t.Errorf("unexpected request %v", rec.requests)
	}
}

func TestUpload_Chunked(t *testing.T) {
	size := int64(ChunkSize + 100)
	var base string
	c, rec, srvURL := newTestClient(t, func(rec *recorder, w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/createUploadSession"):
			_, _ = io.WriteString(w, `{"uploadUrl":"`+base+`/upload/s1"}`)
		case r.URL.Path == "/upload/s1":
			if r.Header.Get("Authorization") != "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			data, _ := io.ReadAll(r.Body)
			rec.mu.Lock()
			rec.ranges = append(rec.ranges, r.Header.Get("Content-Range"))
			rec.sizes = append(rec.sizes, len(data))
			done := len(rec.ranges) == 2
			rec.mu.Unlock()
			if done {
				w.WriteHeader(http.StatusCreated)
				_, _ = io.WriteString(w, `{"id":"i2","webUrl":"https://contoso.sharepoint.com/i2"}`)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			_, _ = io.WriteString(w, `{"nextExpectedRanges":["3932160-"]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	base = srvURL

	webURL, err := c.Upload(context.Background(), "f1", "big.zip", size, bytes.NewReader(make([]byte, size)))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if webURL != "https://contoso.sharepoint.com/i2" {
		t.Errorf("unexpected web url %q", webURL)
	}
	want := []string{"bytes 0-3932159/3932260", "bytes 3932160-3932259/3932260"}
	if strings.Join(rec.ranges, ",") != strings.Join(want, ",") {
		t.Errorf("expected ranges %v, got %v", want, rec.ranges)
	}
	if rec.sizes[0] != ChunkSize || rec.sizes[1] != 100 {
		t.Errorf("unexpected fragment sizes %v", rec.sizes)
	}
	if ChunkSize%(320<<10) != 0 {
		t.Errorf("chunk size %d is not a multiple of 320 KiB", ChunkSize)
	}
}

func TestUpload_ShortReader(t *testing.T) {
	var base string
	c, _, srvURL := newTestClient(t, func(rec *recorder, w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/createUploadSession") {
			_, _ = io.WriteString(w, `{"uploadUrl":"`+base+`/upload/s2"}`)
			return
		}
		_, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{}`)
	})
	base = srvURL
	_, err := c.Upload(context.Background(), "f1", "big.zip", SimpleUploadLimit+10, strings.NewReader("only a little"))
	if err == nil || !strings.Contains(err.Error(), "file ended") {
		t.Errorf("expected truncated file error, got %v", err)
	}
}
