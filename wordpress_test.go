package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func newTestWPClient(srv *httptest.Server) *WordPressClient {
	client := NewWordPressClient(Credentials{
		BaseURL:     srv.URL,
		Username:    "alice",
		AppPassword: "secret",
	})
	client.client = srv.Client()
	return client
}

func TestFetchCategoriesPagination(t *testing.T) {
	pageOne := make([]TaxonomyTerm, 100)
	for i := range pageOne {
		pageOne[i] = TaxonomyTerm{ID: i + 1, Name: fmt.Sprintf("Cat %d", i+1), Slug: fmt.Sprintf("cat-%d", i+1)}
	}
	pageTwo := []TaxonomyTerm{{ID: 101, Name: "Last", Slug: "last"}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); !strings.HasPrefix(auth, "Basic ") {
			t.Errorf("missing basic auth header, got %q", auth)
		}
		switch r.URL.Query().Get("page") {
		case "1":
			json.NewEncoder(w).Encode(pageOne)
		case "2":
			json.NewEncoder(w).Encode(pageTwo)
		default:
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":"rest_post_invalid_page_number"}`)
		}
	}))
	defer srv.Close()

	terms, err := newTestWPClient(srv).FetchCategories()
	if err != nil {
		t.Fatalf("FetchCategories: %v", err)
	}
	if len(terms) != 101 {
		t.Errorf("got %d terms, want 101", len(terms))
	}
}

func TestFetchCategoriesInvalidPageEndsWalk(t *testing.T) {
	full := make([]TaxonomyTerm, 100)
	for i := range full {
		full[i] = TaxonomyTerm{ID: i + 1, Slug: fmt.Sprintf("c%d", i+1)}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			json.NewEncoder(w).Encode(full)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":"rest_post_invalid_page_number","message":"The page number requested is larger than the number of pages available."}`)
	}))
	defer srv.Close()

	terms, err := newTestWPClient(srv).FetchCategories()
	if err != nil {
		t.Fatalf("exact-multiple paging must not error: %v", err)
	}
	if len(terms) != 100 {
		t.Errorf("got %d terms, want 100", len(terms))
	}
}

func TestCreatePost(t *testing.T) {
	var payload map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wp-json/wp/v2/posts" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatal(err)
		}
		fmt.Fprint(w, `{"id": 42, "link": "https://example.com/payments-in-2026/"}`)
	}))
	defer srv.Close()

	result, err := newTestWPClient(srv).CreatePost(PostInput{
		Title:         "Payments in 2026",
		ContentHTML:   "<p>Body</p>",
		Slug:          "payments-in-2026",
		CategoryIDs:   []int{7},
		FeaturedMedia: 9,
		SEO:           SEOMeta{Title: "Payments in 2026", Description: "Where payments go next.", FocusKeyword: "payments"},
	})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if result.PostID != 42 || result.PostURL != "https://example.com/payments-in-2026/" {
		t.Errorf("unexpected result: %+v", result)
	}

	if payload["status"] != "publish" {
		t.Errorf("status = %v, want publish", payload["status"])
	}
	if payload["comment_status"] != "closed" || payload["ping_status"] != "closed" {
		t.Error("comments and pings must be closed")
	}
	if payload["featured_media"] != float64(9) {
		t.Errorf("featured_media = %v", payload["featured_media"])
	}
	meta := payload["meta"].(map[string]interface{})
	if meta["_yoast_wpseo_focuskw"] != "payments" {
		t.Errorf("seo meta not sent: %v", meta)
	}
}

func TestCreatePostHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"code":"rest_cannot_create"}`)
	}))
	defer srv.Close()

	_, err := newTestWPClient(srv).CreatePost(PostInput{Title: "x"})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected HTTPError 403, got %v", err)
	}
}

func TestUploadMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wp-json/wp/v2/media" {
			http.NotFound(w, r)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("content type = %q", ct)
		}
		if cd := r.Header.Get("Content-Disposition"); !strings.Contains(cd, `filename="payments-hero.jpg"`) {
			t.Errorf("content disposition = %q", cd)
		}
		fmt.Fprint(w, `{"id": 9, "source_url": "https://example.com/wp-content/uploads/payments-hero.jpg"}`)
	}))
	defer srv.Close()

	id, url, err := newTestWPClient(srv).UploadMedia("Payments Hero.JPG", "image/jpeg", []byte{0xff, 0xd8})
	if err != nil {
		t.Fatalf("UploadMedia: %v", err)
	}
	if id != 9 || !strings.Contains(url, "payments-hero.jpg") {
		t.Errorf("id=%d url=%q", id, url)
	}
}
