package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"
)

func articleSchema() DatabaseSchema {
	return DatabaseSchema{
		"Name":                {Type: "title"},
		"Status":              {Type: "status", Status: &optionsBlock{Options: []optionName{{Name: "Draft"}, {Name: "Published"}, {Name: "Partially Published"}}}},
		"Body":                {Type: "rich_text"},
		"Slug":                {Type: "rich_text"},
		"Summary":             {Type: "rich_text"},
		"Published URL":       {Type: "url"},
		"Published Platforms": {Type: "multi_select"},
		"Required Platforms":  {Type: "multi_select"},
		"Catégorie":           {Type: "select"},
		"Tags":                {Type: "multi_select"},
		"Target Site":         {Type: "select"},
		"Publish Date":        {Type: "date"},
	}
}

func TestResolveRecordFields(t *testing.T) {
	fields, err := resolveRecordFields(articleSchema())
	if err != nil {
		t.Fatalf("resolveRecordFields: %v", err)
	}

	tests := []struct {
		field *fieldRef
		name  string
	}{
		{fields.Title, "Name"},
		{fields.Status, "Status"},
		{fields.Content, "Body"},
		{fields.Category, "Catégorie"},
		{fields.Tags, "Tags"},
		{fields.TargetSite, "Target Site"},
		{fields.PublishedURL, "Published URL"},
		{fields.PublishDate, "Publish Date"},
	}
	for _, tt := range tests {
		if tt.field == nil || tt.field.Name != tt.name {
			t.Errorf("field not resolved to %q: %+v", tt.name, tt.field)
		}
	}
	if fields.IllustrationURL != nil {
		t.Error("absent optional field should stay nil")
	}
}

func TestResolveRecordFieldsSharedCategoryTags(t *testing.T) {
	schema := DatabaseSchema{
		"Name":   {Type: "title"},
		"Status": {Type: "select"},
		"Topics": {Type: "multi_select"},
	}
	fields, err := resolveRecordFields(schema)
	if err != nil {
		t.Fatal(err)
	}
	if fields.Category == nil || fields.Category.Name != "Topics" {
		t.Fatalf("category = %+v", fields.Category)
	}
	// Tags fall back onto the same multi_select; the category claim wins.
	if fields.Tags != nil && fields.Tags.Name == "Topics" {
		t.Error("tags must not reuse the category property")
	}
}

func TestResolveRecordFieldsMissingTitle(t *testing.T) {
	if _, err := resolveRecordFields(DatabaseSchema{"Status": {Type: "select"}}); err == nil {
		t.Fatal("expected error without a title property")
	}
}

func pageJSON(t *testing.T, properties map[string]interface{}) *notionPage {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{"id": "page-1", "properties": properties})
	if err != nil {
		t.Fatal(err)
	}
	var page notionPage
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatal(err)
	}
	return &page
}

func draftProperties(title string) map[string]interface{} {
	return map[string]interface{}{
		"Name": map[string]interface{}{
			"type":  "title",
			"title": []map[string]interface{}{{"plain_text": title}},
		},
		"Status": map[string]interface{}{
			"type":   "status",
			"status": map[string]string{"name": "Draft"},
		},
		"Body": map[string]interface{}{
			"type":      "rich_text",
			"rich_text": []map[string]interface{}{{"plain_text": "# Intro\nSee [1]."}},
		},
		"Tags": map[string]interface{}{
			"type":         "multi_select",
			"multi_select": []map[string]string{{"name": "fintech"}, {"name": "payments"}},
		},
		"Target Site": map[string]interface{}{
			"type":   "select",
			"select": map[string]string{"name": "Les News du Coach"},
		},
	}
}

func TestBuildRecord(t *testing.T) {
	fields, err := resolveRecordFields(articleSchema())
	if err != nil {
		t.Fatal(err)
	}
	page := pageJSON(t, draftProperties("Payments in 2026"))

	record := buildRecord(page, fields)

	if record.ID != "page-1" || record.Title != "Payments in 2026" {
		t.Errorf("identity fields wrong: %+v", record)
	}
	if record.Status != "Draft" {
		t.Errorf("status = %q", record.Status)
	}
	if !strings.Contains(record.Content, "See [1].") {
		t.Errorf("content = %q", record.Content)
	}
	if !reflect.DeepEqual(record.TagHints, []string{"fintech", "payments"}) {
		t.Errorf("tags = %v", record.TagHints)
	}
	if record.TargetSite != "Les News du Coach" {
		t.Errorf("target site = %q", record.TargetSite)
	}
}

func TestBuildRecordUntitled(t *testing.T) {
	fields, err := resolveRecordFields(articleSchema())
	if err != nil {
		t.Fatal(err)
	}
	page := pageJSON(t, map[string]interface{}{
		"Status": map[string]interface{}{"type": "select", "select": map[string]string{"name": "Draft"}},
	})
	if record := buildRecord(page, fields); record.Title != "Untitled" {
		t.Errorf("title = %q, want Untitled", record.Title)
	}
}

func TestPageMatchesSite(t *testing.T) {
	fields, err := resolveRecordFields(articleSchema())
	if err != nil {
		t.Fatal(err)
	}
	registry := SiteRegistry{
		"lesnewsducoach": &SiteConfig{SiteLabel: "Les News du Coach", Aliases: []string{"lndc"}},
	}

	withTarget := func(value string) *notionPage {
		props := map[string]interface{}{}
		if value != "" {
			props["Target Site"] = map[string]interface{}{
				"type": "select", "select": map[string]string{"name": value},
			}
		}
		return pageJSON(t, props)
	}

	tests := []struct {
		name   string
		target string
		want   bool
	}{
		{"empty target matches", "", true},
		{"exact label", "Les News du Coach", true},
		{"alias", "lndc", true},
		{"wildcard all", "All", true},
		{"wildcard both", "both", true},
		{"other site", "Thrive Through Time", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pageMatchesSite(withTarget(tt.target), fields, "lesnewsducoach", registry); got != tt.want {
				t.Errorf("pageMatchesSite(%q) = %v, want %v", tt.target, got, tt.want)
			}
		})
	}
}

func TestQueryLatestDraft(t *testing.T) {
	published := draftProperties("Old One")
	published["Status"] = map[string]interface{}{"type": "status", "status": map[string]string{"name": "Published"}}

	pages := []map[string]interface{}{
		{"id": "p-newest-published", "properties": published},
		{"id": "p-draft", "properties": draftProperties("Payments in 2026")},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/databases/db-1/query" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Notion-Version") == "" {
			t.Error("missing Notion-Version header")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results":  pages,
			"has_more": false,
		})
	}))
	defer srv.Close()

	client := &NotionClient{baseURL: srv.URL, token: "t", client: srv.Client()}
	fields, err := resolveRecordFields(articleSchema())
	if err != nil {
		t.Fatal(err)
	}

	page, err := client.QueryLatestDraft("db-1", fields, "Draft", 25, "", nil)
	if err != nil {
		t.Fatalf("QueryLatestDraft: %v", err)
	}
	if page.ID != "p-draft" {
		t.Errorf("selected %q, want p-draft", page.ID)
	}
}

func TestQueryLatestDraftNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"results": []interface{}{}, "has_more": false})
	}))
	defer srv.Close()

	client := &NotionClient{baseURL: srv.URL, token: "t", client: srv.Client()}
	fields, err := resolveRecordFields(articleSchema())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.QueryLatestDraft("db-1", fields, "Draft", 25, "", nil); err != errNoDraft {
		t.Errorf("err = %v, want errNoDraft", err)
	}
}

func TestFetchBlockMarkdown(t *testing.T) {
	blocks := []map[string]interface{}{
		{"type": "heading_1", "heading_1": map[string]interface{}{"rich_text": []map[string]string{{"plain_text": "Intro"}}}},
		{"type": "paragraph", "paragraph": map[string]interface{}{"rich_text": []map[string]string{{"plain_text": "Hello there."}}}},
		{"type": "numbered_list_item", "numbered_list_item": map[string]interface{}{"rich_text": []map[string]string{{"plain_text": "first"}}}},
		{"type": "numbered_list_item", "numbered_list_item": map[string]interface{}{"rich_text": []map[string]string{{"plain_text": "second"}}}},
		{"type": "bulleted_list_item", "bulleted_list_item": map[string]interface{}{"rich_text": []map[string]string{{"plain_text": "point"}}}},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"results": blocks, "has_more": false})
	}))
	defer srv.Close()

	client := &NotionClient{baseURL: srv.URL, token: "t", client: srv.Client()}
	got, err := client.FetchBlockMarkdown("page-1")
	if err != nil {
		t.Fatalf("FetchBlockMarkdown: %v", err)
	}

	for _, fragment := range []string{"# Intro", "Hello there.", "1. first", "2. second", "- point"} {
		if !strings.Contains(got, fragment) {
			t.Errorf("markdown missing %q:\n%s", fragment, got)
		}
	}
}

func TestPropertyValueBuilders(t *testing.T) {
	t.Run("status types", func(t *testing.T) {
		for _, fieldType := range []string{"status", "select"} {
			value, err := statusPropertyValue(fieldType, "Published")
			if err != nil {
				t.Fatalf("%s: %v", fieldType, err)
			}
			if _, ok := value[fieldType]; !ok {
				t.Errorf("%s payload missing key: %v", fieldType, value)
			}
		}
		if _, err := statusPropertyValue("rich_text", "Published"); err == nil {
			t.Error("rich_text must be rejected for status")
		}
	})

	t.Run("platforms multi_select", func(t *testing.T) {
		value, err := platformsPropertyValue("multi_select", []string{"WordPress", "Medium"}, "WordPress")
		if err != nil {
			t.Fatal(err)
		}
		options := value["multi_select"].([]map[string]string)
		if len(options) != 2 || options[0]["name"] != "WordPress" {
			t.Errorf("unexpected payload: %v", value)
		}
	})

	t.Run("platforms rich_text", func(t *testing.T) {
		value, err := platformsPropertyValue("rich_text", []string{"WordPress", "Medium"}, "WordPress")
		if err != nil {
			t.Fatal(err)
		}
		chunks := value["rich_text"].([]map[string]interface{})
		if len(chunks) != 1 {
			t.Fatalf("unexpected chunk count: %d", len(chunks))
		}
	})

	t.Run("terms select empty clears", func(t *testing.T) {
		value, err := termsPropertyValue("select", nil)
		if err != nil {
			t.Fatal(err)
		}
		if value["select"] != nil {
			t.Errorf("empty select should clear: %v", value)
		}
	})
}

func TestNotionRichTextChunking(t *testing.T) {
	chunks := notionRichTextValue(strings.Repeat("x", 4000))
	if len(chunks) != 3 {
		t.Fatalf("chunk count = %d, want 3", len(chunks))
	}
	// A pathological value must not exceed the API's element cap.
	chunks = notionRichTextValue(strings.Repeat("y", 100000))
	if len(chunks) != 10 {
		t.Errorf("chunk cap = %d, want 10", len(chunks))
	}
}

func TestCreatePublicationLogEntry(t *testing.T) {
	var created map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/databases/"):
			json.NewEncoder(w).Encode(map[string]interface{}{
				"properties": map[string]interface{}{
					"Name":          map[string]interface{}{"type": "title"},
					"Published URL": map[string]interface{}{"type": "url"},
					"WP Post ID":    map[string]interface{}{"type": "number"},
					"Published At":  map[string]interface{}{"type": "date"},
				},
			})
		case r.URL.Path == "/pages" && r.Method == http.MethodPost:
			if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
				t.Fatal(err)
			}
			fmt.Fprint(w, `{"id": "log-1"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := &NotionClient{baseURL: srv.URL, token: "t", client: srv.Client()}
	id, err := client.CreatePublicationLogEntry("db-pub", PublicationLogEntry{
		ArticleID:   "page-1",
		Title:       "Payments in 2026",
		SiteLabel:   "Les News du Coach",
		PostID:      42,
		PostURL:     "https://example.com/payments-in-2026/",
		PublishedAt: time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreatePublicationLogEntry: %v", err)
	}
	if id != "log-1" {
		t.Errorf("id = %q", id)
	}

	properties := created["properties"].(map[string]interface{})
	for _, name := range []string{"Name", "Published URL", "WP Post ID", "Published At"} {
		if _, ok := properties[name]; !ok {
			t.Errorf("log entry missing property %q", name)
		}
	}
}
