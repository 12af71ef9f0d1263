package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	notionAPIBase    = "https://api.notion.com/v1"
	notionAPIVersion = "2022-06-28"
)

// Target-site values that match every configured site.
var wildcardSiteKeys = map[string]bool{
	"all": true, "any": true, "both": true, "multi": true, "all-sites": true,
}

// errNoDraft is the sentinel for "no record matched the draft predicate";
// a normal, reported termination rather than a crash.
var errNoDraft = errors.New("no eligible draft record")

// NotionClient talks to the Notion-style document store. All calls carry
// an explicit timeout; a hung call fails the run rather than blocking it
// forever.
type NotionClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewNotionClient builds a client against the public API endpoint.
func NewNotionClient(token string) *NotionClient {
	return &NotionClient{
		baseURL: notionAPIBase,
		token:   token,
		client:  &http.Client{Timeout: 45 * time.Second},
	}
}

func (c *NotionClient) doJSON(method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "encoding request payload")
		}
		body = bytes.NewReader(data)
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequest(method, endpoint, body)
	if err != nil {
		return errors.Wrapf(err, "building %s %s", method, endpoint)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", notionAPIVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, endpoint)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "reading response of %s %s", method, endpoint)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, URL: endpoint, Detail: clampRunes(string(raw), 500)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(raw, out), "decoding response of %s %s", method, endpoint)
}

// --- schema and field resolution ---------------------------------------

type optionName struct {
	Name string `json:"name"`
}

type optionsBlock struct {
	Options []optionName `json:"options"`
}

type propertySchema struct {
	Type        string        `json:"type"`
	Select      *optionsBlock `json:"select"`
	Status      *optionsBlock `json:"status"`
	MultiSelect *optionsBlock `json:"multi_select"`
}

func (p propertySchema) optionNames() []string {
	var block *optionsBlock
	switch p.Type {
	case "select":
		block = p.Select
	case "status":
		block = p.Status
	case "multi_select":
		block = p.MultiSelect
	}
	if block == nil {
		return nil
	}
	names := make([]string, 0, len(block.Options))
	for _, option := range block.Options {
		if v := strings.TrimSpace(option.Name); v != "" {
			names = append(names, v)
		}
	}
	return names
}

// DatabaseSchema is the property map of one database.
type DatabaseSchema map[string]propertySchema

// LoadSchema fetches the database property schema.
func (c *NotionClient) LoadSchema(dbID string) (DatabaseSchema, error) {
	var resp struct {
		Properties DatabaseSchema `json:"properties"`
	}
	if err := c.doJSON(http.MethodGet, "/databases/"+dbID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Properties, nil
}

// fieldRef names one resolved property: the store's actual property name
// plus its type, everything later payload builders need.
type fieldRef struct {
	Name string
	Type string
}

// pickField resolves a canonical field through an ordered alias list. With
// fallback enabled, any property of an allowed type is accepted when no
// alias matches (scan order is sorted for determinism).
func pickField(schema DatabaseSchema, preferred []string, allowedTypes []string, allowFallback bool) *fieldRef {
	allowed := func(t string) bool {
		for _, a := range allowedTypes {
			if t == a {
				return true
			}
		}
		return false
	}

	lower := map[string]string{}
	for name := range schema {
		lower[strings.ToLower(name)] = name
	}

	for _, alias := range preferred {
		if meta, ok := schema[alias]; ok && allowed(meta.Type) {
			return &fieldRef{Name: alias, Type: meta.Type}
		}
		if name, ok := lower[strings.ToLower(alias)]; ok && allowed(schema[name].Type) {
			return &fieldRef{Name: name, Type: schema[name].Type}
		}
	}

	if allowFallback {
		names := make([]string, 0, len(schema))
		for name := range schema {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if allowed(schema[name].Type) {
				return &fieldRef{Name: name, Type: schema[name].Type}
			}
		}
	}

	return nil
}

// recordFields holds the resolved property references for the articles
// database. Optional fields are nil when the store has no such property.
type recordFields struct {
	Title              *fieldRef
	Status             *fieldRef
	Content            *fieldRef
	Slug               *fieldRef
	Summary            *fieldRef
	IllustrationPrompt *fieldRef
	IllustrationURL    *fieldRef
	PublishedURL       *fieldRef
	PublishedPlatforms *fieldRef
	RequiredPlatforms  *fieldRef
	Category           *fieldRef
	Tags               *fieldRef
	TargetSite         *fieldRef
	PublishDate        *fieldRef
}

// resolveRecordFields runs the ordered-alias lookup for every canonical
// field. Only title and status are mandatory.
func resolveRecordFields(schema DatabaseSchema) (*recordFields, error) {
	fields := &recordFields{
		Title:  pickField(schema, []string{"Title", "Name"}, []string{"title"}, true),
		Status: pickField(schema, []string{"Status", "Statut"}, []string{"status", "select"}, true),
		Content: pickField(schema,
			[]string{"Content", "Body", "Article", "Markdown"},
			[]string{"rich_text"}, false),
		Slug:    pickField(schema, []string{"Slug"}, []string{"rich_text"}, false),
		Summary: pickField(schema, []string{"Summary", "Excerpt", "Résumé"}, []string{"rich_text"}, false),
		IllustrationPrompt: pickField(schema,
			[]string{"Illustration Prompt", "Image Prompt", "Visual Prompt"},
			[]string{"rich_text"}, false),
		IllustrationURL: pickField(schema,
			[]string{"Illustration URL", "Featured Image URL", "Hero Image URL", "Cover Image URL", "Image URL"},
			[]string{"url"}, false),
		PublishedURL: pickField(schema,
			[]string{"Published URL", "WordPress URL", "Post URL", "URL"},
			[]string{"url"}, false),
		PublishedPlatforms: pickField(schema,
			[]string{"Published Platforms", "Published On", "Published To", "Live On"},
			[]string{"multi_select", "select", "rich_text"}, false),
		RequiredPlatforms: pickField(schema,
			[]string{"Required Platforms", "Target Platforms", "Publish Targets", "Publish On", "Channels"},
			[]string{"multi_select", "select", "rich_text"}, false),
		Category: pickField(schema,
			[]string{"Category", "Categories", "Catégorie", "Catégories", "Topic", "Topics", "Theme", "Themes"},
			[]string{"multi_select", "select", "rich_text"}, false),
		Tags: pickField(schema,
			[]string{"Tags", "Tag", "Keywords", "Keyword", "Mots-clés", "Labels", "Étiquettes"},
			[]string{"multi_select", "select", "rich_text"}, false),
		TargetSite: pickField(schema,
			[]string{"Target Site", "Publish Site", "Site", "Website", "WordPress Site", "Publication Site"},
			[]string{"multi_select", "select", "rich_text"}, false),
		PublishDate: pickField(schema, []string{"Publish Date", "Published Date"}, []string{"date"}, false),
	}

	if fields.Title == nil {
		return nil, errors.New("articles database has no title property")
	}
	if fields.Status == nil {
		return nil, errors.New("articles database has no status/select Status property")
	}
	// A shared property cannot serve as both category and tags.
	if fields.Category != nil && fields.Tags != nil && fields.Category.Name == fields.Tags.Name {
		fields.Tags = nil
	}
	return fields, nil
}

// --- property value extraction ------------------------------------------

type richTextItem struct {
	PlainText string `json:"plain_text"`
	Text      *struct {
		Content string `json:"content"`
	} `json:"text"`
}

type propertyValue struct {
	Type        string         `json:"type"`
	Title       []richTextItem `json:"title"`
	RichText    []richTextItem `json:"rich_text"`
	URL         *string        `json:"url"`
	Select      *optionName    `json:"select"`
	Status      *optionName    `json:"status"`
	MultiSelect []optionName   `json:"multi_select"`
}

type notionPage struct {
	ID         string                     `json:"id"`
	Properties map[string]json.RawMessage `json:"properties"`
}

func (p *notionPage) property(ref *fieldRef) propertyValue {
	var value propertyValue
	if ref == nil {
		return value
	}
	raw, ok := p.Properties[ref.Name]
	if !ok {
		return value
	}
	_ = json.Unmarshal(raw, &value)
	return value
}

func richTextPlain(items []richTextItem) string {
	var parts []string
	for _, item := range items {
		switch {
		case item.PlainText != "":
			parts = append(parts, item.PlainText)
		case item.Text != nil && item.Text.Content != "":
			parts = append(parts, item.Text.Content)
		}
	}
	return strings.Join(parts, "")
}

func (p *notionPage) text(ref *fieldRef) string {
	value := p.property(ref)
	switch value.Type {
	case "title":
		return strings.TrimSpace(richTextPlain(value.Title))
	case "rich_text":
		return strings.TrimSpace(richTextPlain(value.RichText))
	}
	return ""
}

func (p *notionPage) urlValue(ref *fieldRef) string {
	value := p.property(ref)
	if value.Type == "url" && value.URL != nil {
		return strings.TrimSpace(*value.URL)
	}
	return ""
}

var tagSeparators = strings.NewReplacer(";", ",", "|", ",")

func (p *notionPage) tags(ref *fieldRef) []string {
	value := p.property(ref)
	switch value.Type {
	case "multi_select":
		var out []string
		for _, item := range value.MultiSelect {
			if v := strings.TrimSpace(item.Name); v != "" {
				out = append(out, v)
			}
		}
		return out
	case "select":
		if value.Select != nil {
			if v := strings.TrimSpace(value.Select.Name); v != "" {
				return []string{v}
			}
		}
	case "rich_text":
		var out []string
		for _, part := range strings.Split(tagSeparators.Replace(richTextPlain(value.RichText)), ",") {
			if v := strings.TrimSpace(part); v != "" {
				out = append(out, v)
			}
		}
		return out
	}
	return nil
}

func (p *notionPage) statusName(ref *fieldRef) string {
	value := p.property(ref)
	switch value.Type {
	case "select":
		if value.Select != nil {
			return value.Select.Name
		}
	case "status":
		if value.Status != nil {
			return value.Status.Name
		}
	}
	return ""
}

// buildRecord converts a raw page into the typed ArticleRecord; the raw
// property map stops here.
func buildRecord(page *notionPage, fields *recordFields) *ArticleRecord {
	title := page.text(fields.Title)
	if title == "" {
		title = "Untitled"
	}
	record := &ArticleRecord{
		ID:                 page.ID,
		Title:              title,
		Summary:            page.text(fields.Summary),
		Slug:               page.text(fields.Slug),
		Content:            page.text(fields.Content),
		Status:             page.statusName(fields.Status),
		CategoryHints:      page.tags(fields.Category),
		TagHints:           page.tags(fields.Tags),
		IllustrationURL:    page.urlValue(fields.IllustrationURL),
		IllustrationPrompt: page.text(fields.IllustrationPrompt),
		RequiredPlatforms:  page.tags(fields.RequiredPlatforms),
		PublishedPlatforms: page.tags(fields.PublishedPlatforms),
	}
	if sites := page.tags(fields.TargetSite); len(sites) > 0 {
		record.TargetSite = sites[0]
	}
	return record
}

// --- queries -------------------------------------------------------------

// pageMatchesSite keeps a row when it has no target-site value, names a
// wildcard, or resolves to the selected site key.
func pageMatchesSite(page *notionPage, fields *recordFields, siteKey string, sites SiteRegistry) bool {
	if siteKey == "" || fields.TargetSite == nil {
		return true
	}
	values := page.tags(fields.TargetSite)
	if len(values) == 0 {
		return true
	}
	for _, value := range values {
		normalized := normalizeSiteKey(value)
		if wildcardSiteKeys[normalized] || normalized == siteKey {
			return true
		}
		if resolvedKey, _ := sites.Resolve(value); resolvedKey == siteKey {
			return true
		}
	}
	return false
}

// QueryLatestDraft walks the database newest-edited first and returns the
// first page whose status equals the draft label (and whose target site
// matches, when one is selected). Returns errNoDraft when nothing matches.
func (c *NotionClient) QueryLatestDraft(dbID string, fields *recordFields, draftLabel string, pageSize int, siteKey string, sites SiteRegistry) (*notionPage, error) {
	if pageSize < 1 {
		pageSize = 25
	}
	if pageSize > 100 {
		pageSize = 100
	}

	cursor := ""
	for {
		payload := map[string]interface{}{
			"sorts": []map[string]string{
				{"timestamp": "last_edited_time", "direction": "descending"},
			},
			"page_size": pageSize,
		}
		if cursor != "" {
			payload["start_cursor"] = cursor
		}

		var resp struct {
			Results    []json.RawMessage `json:"results"`
			HasMore    bool              `json:"has_more"`
			NextCursor string            `json:"next_cursor"`
		}
		if err := c.doJSON(http.MethodPost, "/databases/"+dbID+"/query", payload, &resp); err != nil {
			return nil, err
		}

		for _, raw := range resp.Results {
			var page notionPage
			if err := json.Unmarshal(raw, &page); err != nil {
				continue
			}
			if !strings.EqualFold(page.statusName(fields.Status), draftLabel) {
				continue
			}
			if pageMatchesSite(&page, fields, siteKey, sites) {
				return &page, nil
			}
		}

		if !resp.HasMore {
			return nil, errNoDraft
		}
		cursor = resp.NextCursor
	}
}

// --- block content fallback ----------------------------------------------

// FetchBlockMarkdown renders the page's block children as markdown, used
// when the content property is empty. Nested blocks are not descended
// into; one level matches what the authoring templates produce.
func (c *NotionClient) FetchBlockMarkdown(pageID string) (string, error) {
	var lines []string
	numbered := 0
	cursor := ""

	for {
		params := url.Values{"page_size": {"100"}}
		if cursor != "" {
			params.Set("start_cursor", cursor)
		}

		var resp struct {
			Results    []json.RawMessage `json:"results"`
			HasMore    bool              `json:"has_more"`
			NextCursor string            `json:"next_cursor"`
		}
		if err := c.doJSON(http.MethodGet, "/blocks/"+pageID+"/children?"+params.Encode(), nil, &resp); err != nil {
			return "", err
		}

		for _, raw := range resp.Results {
			line, ordered := blockToMarkdown(raw)
			if ordered {
				numbered++
				lines = append(lines, fmt.Sprintf("%d. %s", numbered, line))
				continue
			}
			numbered = 0
			if line != "" {
				lines = append(lines, line, "")
			}
		}

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

// blockToMarkdown converts one block into a markdown line. The bool marks
// numbered list items, which need a running counter from the caller.
func blockToMarkdown(raw json.RawMessage) (string, bool) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", false
	}
	var blockType string
	if err := json.Unmarshal(envelope["type"], &blockType); err != nil {
		return "", false
	}

	var payload struct {
		RichText []richTextItem `json:"rich_text"`
	}
	_ = json.Unmarshal(envelope[blockType], &payload)
	text := normalizeLineText(richTextPlain(payload.RichText))

	switch blockType {
	case "heading_1":
		return prefixedOrEmpty("# ", text), false
	case "heading_2":
		return prefixedOrEmpty("## ", text), false
	case "heading_3":
		return prefixedOrEmpty("### ", text), false
	case "quote":
		return prefixedOrEmpty("> ", text), false
	case "bulleted_list_item":
		return prefixedOrEmpty("- ", text), false
	case "numbered_list_item":
		return text, text != ""
	case "code":
		if text == "" {
			return "", false
		}
		return "```\n" + text + "\n```", false
	case "divider":
		return "---", false
	default:
		return text, false
	}
}

func prefixedOrEmpty(prefix, text string) string {
	if text == "" {
		return ""
	}
	return prefix + text
}

// --- writeback -----------------------------------------------------------

// notionRichTextValue chunks text into the store's rich-text payload form
// (1800-char chunks, at most 10).
func notionRichTextValue(text string) []map[string]interface{} {
	text = strings.TrimSpace(text)
	if text == "" {
		return []map[string]interface{}{}
	}
	var chunks []map[string]interface{}
	runes := []rune(text)
	for start := 0; start < len(runes) && len(chunks) < 10; start += 1800 {
		end := start + 1800
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, map[string]interface{}{
			"type": "text",
			"text": map[string]interface{}{"content": string(runes[start:end])},
		})
	}
	return chunks
}

func statusPropertyValue(fieldType, statusName string) (map[string]interface{}, error) {
	switch fieldType {
	case "status":
		return map[string]interface{}{"status": map[string]string{"name": statusName}}, nil
	case "select":
		return map[string]interface{}{"select": map[string]string{"name": statusName}}, nil
	}
	return nil, errors.Errorf("unsupported status property type %q", fieldType)
}

func platformsPropertyValue(fieldType string, merged []string, platformName string) (map[string]interface{}, error) {
	switch fieldType {
	case "multi_select":
		options := make([]map[string]string, 0, len(merged))
		for _, name := range merged {
			options = append(options, map[string]string{"name": name})
		}
		return map[string]interface{}{"multi_select": options}, nil
	case "select":
		return map[string]interface{}{"select": map[string]string{"name": platformName}}, nil
	case "rich_text":
		return map[string]interface{}{"rich_text": notionRichTextValue(strings.Join(merged, ", "))}, nil
	}
	return nil, errors.Errorf("unsupported platforms property type %q", fieldType)
}

func termsPropertyValue(fieldType string, values []string) (map[string]interface{}, error) {
	switch fieldType {
	case "multi_select":
		options := make([]map[string]string, 0, len(values))
		for _, name := range values {
			options = append(options, map[string]string{"name": name})
		}
		return map[string]interface{}{"multi_select": options}, nil
	case "select":
		if len(values) == 0 {
			return map[string]interface{}{"select": nil}, nil
		}
		return map[string]interface{}{"select": map[string]string{"name": values[0]}}, nil
	case "rich_text":
		return map[string]interface{}{"rich_text": notionRichTextValue(strings.Join(values, ", "))}, nil
	}
	return nil, errors.Errorf("unsupported terms property type %q", fieldType)
}

// FieldUpdate is one independent writeback operation. Updates are applied
// best-effort in order; a failure is reported, never rolled back (the
// store has no transactions).
type FieldUpdate struct {
	Label      string
	Properties map[string]interface{}
}

// UpdatePage patches one set of page properties.
func (c *NotionClient) UpdatePage(pageID string, properties map[string]interface{}) error {
	payload := map[string]interface{}{"properties": properties}
	return c.doJSON(http.MethodPatch, "/pages/"+pageID, payload, nil)
}

// --- publication log -----------------------------------------------------

// PublicationLogEntry is one append-only row recorded per successful
// publish when a log database is configured.
type PublicationLogEntry struct {
	ArticleID       string
	Title           string
	SiteLabel       string
	PostID          int
	PostURL         string
	IllustrationURL string
	PublishedAt     time.Time
}

// CreatePublicationLogEntry appends a log row, adapting to whatever
// properties the log database declares. Missing optional properties are
// simply skipped.
func (c *NotionClient) CreatePublicationLogEntry(dbID string, entry PublicationLogEntry) (string, error) {
	schema, err := c.LoadSchema(dbID)
	if err != nil {
		return "", errors.Wrap(err, "loading publications database schema")
	}

	titleRef := pickField(schema, []string{"Title", "Name"}, []string{"title"}, true)
	articleRef := pickField(schema, []string{"Article", "My Article", "Post"}, []string{"relation"}, false)
	siteRef := pickField(schema, []string{"Site", "Website", "Platform", "Channel"}, []string{"select", "multi_select", "rich_text"}, false)
	statusRef := pickField(schema, []string{"Status"}, []string{"status", "select"}, false)
	postIDRef := pickField(schema, []string{"WP Post ID", "WordPress Post ID", "Post ID"}, []string{"number", "rich_text"}, false)
	urlRef := pickField(schema, []string{"Published URL", "Post URL", "URL", "WordPress URL"}, []string{"url"}, false)
	dateRef := pickField(schema, []string{"Published At", "Publish Date", "Published Date"}, []string{"date"}, false)
	illustrationRef := pickField(schema, []string{"Illustration URL", "Featured Image URL", "Image URL"}, []string{"url"}, false)

	properties := map[string]interface{}{}
	if titleRef != nil {
		properties[titleRef.Name] = map[string]interface{}{
			"title": notionRichTextValue(entry.Title + " · " + entry.SiteLabel),
		}
	}
	if articleRef != nil && entry.ArticleID != "" {
		properties[articleRef.Name] = map[string]interface{}{
			"relation": []map[string]string{{"id": entry.ArticleID}},
		}
	}
	if siteRef != nil {
		value, err := termsPropertyValue(siteRef.Type, []string{entry.SiteLabel})
		if err == nil {
			properties[siteRef.Name] = value
		}
	}
	if statusRef != nil {
		label := resolveOptionLabel("Published", schema[statusRef.Name].optionNames())
		value, err := statusPropertyValue(statusRef.Type, label)
		if err == nil {
			properties[statusRef.Name] = value
		}
	}
	if postIDRef != nil && entry.PostID > 0 {
		switch postIDRef.Type {
		case "number":
			properties[postIDRef.Name] = map[string]interface{}{"number": entry.PostID}
		case "rich_text":
			properties[postIDRef.Name] = map[string]interface{}{"rich_text": notionRichTextValue(fmt.Sprintf("%d", entry.PostID))}
		}
	}
	if urlRef != nil && entry.PostURL != "" {
		properties[urlRef.Name] = map[string]interface{}{"url": entry.PostURL}
	}
	if dateRef != nil {
		properties[dateRef.Name] = map[string]interface{}{
			"date": map[string]string{"start": entry.PublishedAt.UTC().Format("2006-01-02")},
		}
	}
	if illustrationRef != nil && entry.IllustrationURL != "" {
		properties[illustrationRef.Name] = map[string]interface{}{"url": entry.IllustrationURL}
	}

	payload := map[string]interface{}{
		"parent":     map[string]string{"database_id": dbID},
		"properties": properties,
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(http.MethodPost, "/pages", payload, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// resolveOptionLabel matches preferred against the store's declared option
// labels case-insensitively, falling back to the first declared option.
func resolveOptionLabel(preferred string, options []string) string {
	if len(options) == 0 {
		return preferred
	}
	for _, option := range options {
		if strings.EqualFold(option, preferred) {
			return option
		}
	}
	return options[0]
}
