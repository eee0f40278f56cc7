package notes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateDiaryDoc(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/dream/notes/docs" {
			t.Errorf("path = %q, want /repos/dream/notes/docs", r.URL.Path)
		}
		if r.Header.Get("X-Auth-Token") != "tok" {
			t.Errorf("missing auth token header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": 42}})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "tok", Repo: "dream/notes"})
	day := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	if err := c.CreateDiaryDoc(context.Background(), day, "今天的日记正文。"); err != nil {
		t.Fatalf("CreateDiaryDoc() error = %v", err)
	}

	if got["slug"] != "diary-2026-08-25" {
		t.Errorf("slug = %q, want diary-2026-08-25", got["slug"])
	}
	if got["format"] != "markdown" {
		t.Errorf("format = %q, want markdown", got["format"])
	}
	if got["title"] != "📔 2026年08月25日 的日记" {
		t.Errorf("title = %q", got["title"])
	}
}

func TestCreateDiaryDocRejectedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"message": "invalid token"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "bad", Repo: "dream/notes"})
	if err := c.CreateDiaryDoc(context.Background(), time.Now(), "x"); err == nil {
		t.Fatal("CreateDiaryDoc() expected error on rejected response")
	}
}

func TestDisabledClient(t *testing.T) {
	c := New(Config{})
	if c.Enabled() {
		t.Fatal("Enabled() = true for empty config")
	}
	if err := c.CreateDiaryDoc(context.Background(), time.Now(), "x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("CreateDiaryDoc() error = %v, want ErrDisabled", err)
	}
}
