package xhs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yfan/redsift/internal/sign"
	"github.com/yfan/redsift/internal/util"
)

// fakeSigner returns fixed headers; the server only checks presence.
type fakeSigner struct {
	calls atomic.Int32
}

func (f *fakeSigner) Sign(method, uri string, body any, at time.Time) (sign.Headers, error) {
	f.calls.Add(1)
	return sign.Headers{
		XS:       "XYS_test",
		XT:       "1700000000000",
		XSCommon: "common",
		TraceID:  "abcdef0123456789",
	}, nil
}

func testClient(t *testing.T, baseURL string) (*Client, *fakeSigner) {
	t.Helper()
	signer := &fakeSigner{}
	c, err := NewClient(Options{
		BaseURL:     baseURL,
		Signer:      signer,
		Credentials: sign.NewCredentials(map[string]string{"web_session": "s", "a1": "a"}, ""),
		Retry:       &util.RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond},
		Interval:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c, signer
}

func TestNewClientValidation(t *testing.T) {
	creds := sign.NewCredentials(map[string]string{"web_session": "s", "a1": "a"}, "")

	if _, err := NewClient(Options{Credentials: creds}); !errors.Is(err, util.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig without signer, got %v", err)
	}
	if _, err := NewClient(Options{Signer: &fakeSigner{}}); !errors.Is(err, util.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig without credentials, got %v", err)
	}
}

func TestSearchNotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != searchURI {
			t.Errorf("path = %s, want %s", r.URL.Path, searchURI)
		}
		if r.Header.Get("X-S") == "" || r.Header.Get("X-T") == "" {
			t.Error("signature headers missing")
		}
		if r.Header.Get("Cookie") == "" {
			t.Error("cookie header missing")
		}
		fmt.Fprint(w, `{"success": true, "msg": "成功", "data": {
			"has_more": true,
			"items": [
				{"id": "note1", "model_type": "note", "xsec_token": "tok1"},
				{"id": "rec", "model_type": "rec_query"}
			]
		}}`)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	page, err := c.SearchNotes(context.Background(), "manga", 1, NewSearchID())
	if err != nil {
		t.Fatalf("SearchNotes failed: %v", err)
	}
	if !page.HasMore {
		t.Error("has_more not decoded")
	}
	if len(page.Items) != 2 || page.Items[0].ID != "note1" || page.Items[0].XsecToken != "tok1" {
		t.Errorf("items = %+v", page.Items)
	}
}

func TestSearchNotesEmptyKeyword(t *testing.T) {
	c, _ := testClient(t, "http://unused.invalid")
	if _, err := c.SearchNotes(context.Background(), "", 1, "sid"); !errors.Is(err, util.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNoteDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": true, "data": {"items": [{"id": "n1", "note_card": {
			"note_id": "n1",
			"title": "标题",
			"desc": "正文内容",
			"image_list": [{"url_default": "https://img/0"}],
			"tag_list": [{"name": "漫画", "type": "topic"}],
			"user": {"user_id": "u1", "nickname": "author"},
			"interact_info": {"liked_count": "1.2万"}
		}}]}}`)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	card, err := c.NoteDetail(context.Background(), "n1", "tok")
	if err != nil {
		t.Fatalf("NoteDetail failed: %v", err)
	}
	if card.Title != "标题" || card.Desc != "正文内容" {
		t.Errorf("card = %+v", card)
	}
	if len(card.ImageList) != 1 || card.ImageList[0].BestURL() != "https://img/0" {
		t.Errorf("image list = %+v", card.ImageList)
	}
	if card.InteractInfo.LikedCount != "1.2万" {
		t.Errorf("liked_count = %q, counts must stay verbatim", card.InteractInfo.LikedCount)
	}
}

func TestNoteDetailEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": true, "data": {"items": []}}`)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	if _, err := c.NoteDetail(context.Background(), "gone", "tok"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestServerErrorRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"success": true, "data": {"items": [], "has_more": false}}`)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	if _, err := c.SearchNotes(context.Background(), "manga", 1, "sid"); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("server hits = %d, want 3", hits.Load())
	}
}

func TestAuthRejectionResignedOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			fmt.Fprint(w, `{"success": false, "msg": "signature invalid", "code": -101}`)
			return
		}
		fmt.Fprint(w, `{"success": true, "data": {"items": [], "has_more": false}}`)
	}))
	defer srv.Close()

	c, signer := testClient(t, srv.URL)
	if _, err := c.SearchNotes(context.Background(), "manga", 1, "sid"); err != nil {
		t.Fatalf("expected success after one re-sign, got %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2", hits.Load())
	}
	if signer.calls.Load() != 2 {
		t.Errorf("sign calls = %d, want 2 (fresh signature per attempt)", signer.calls.Load())
	}
}

func TestPersistentAuthRejectionFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	_, err := c.SearchNotes(context.Background(), "manga", 1, "sid")
	if !errors.Is(err, util.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2 (one re-sign, then give up)", hits.Load())
	}
}

func TestDownloadImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	data, err := c.DownloadImage(context.Background(), srv.URL+"/img/0.jpg")
	if err != nil {
		t.Fatalf("DownloadImage failed: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Errorf("data = %q", data)
	}
}

func TestDownloadImageNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	if _, err := c.DownloadImage(context.Background(), srv.URL+"/missing.jpg"); err == nil {
		t.Error("expected error for 404")
	}
}

func TestNewSearchID(t *testing.T) {
	id := NewSearchID()
	if len(id) != 32 {
		t.Fatalf("search id length = %d, want 32", len(id))
	}
	for _, c := range id {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Errorf("search id has non-hex char %q", c)
		}
	}
	if NewSearchID() == id {
		t.Error("two search ids should differ")
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{200, nil},
		{401, util.ErrAuth},
		{403, util.ErrAuth},
		{429, util.ErrTransient},
		{500, util.ErrTransient},
		{503, util.ErrTransient},
	}
	for _, tt := range tests {
		err := classifyStatus(tt.code)
		if tt.want == nil {
			if err != nil {
				t.Errorf("classifyStatus(%d) = %v, want nil", tt.code, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("classifyStatus(%d) = %v, want %v", tt.code, err, tt.want)
		}
	}

	if err := classifyStatus(404); err == nil || errors.Is(err, util.ErrTransient) || errors.Is(err, util.ErrAuth) {
		t.Errorf("classifyStatus(404) = %v, want plain error", err)
	}
}
