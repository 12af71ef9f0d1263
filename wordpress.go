package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// WordPressClient is a minimal REST client for the endpoints the pipeline
// touches: categories, posts and media. Application-password basic auth.
type WordPressClient struct {
	baseURL string
	auth    string
	client  *http.Client
}

// NewWordPressClient builds a client for one site's REST API.
func NewWordPressClient(creds Credentials) *WordPressClient {
	token := base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.AppPassword))
	return &WordPressClient{
		baseURL: strings.TrimRight(creds.BaseURL, "/"),
		auth:    "Basic " + token,
		client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (c *WordPressClient) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", c.auth)
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, req.URL)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "reading response of %s %s", req.Method, req.URL)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, URL: req.URL.String(), Detail: clampRunes(string(raw), 500)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(raw, out), "decoding response of %s %s", req.Method, req.URL)
}

func (c *WordPressClient) postJSON(path string, payload, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encoding request payload")
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return errors.Wrapf(err, "building POST %s", path)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// FetchCategories pages through the site's category terms. The REST API
// answers rest_post_invalid_page_number past the last page; that ends the
// walk rather than failing it.
func (c *WordPressClient) FetchCategories() ([]TaxonomyTerm, error) {
	var terms []TaxonomyTerm
	for page := 1; ; page++ {
		params := url.Values{
			"per_page": {"100"},
			"page":     {fmt.Sprintf("%d", page)},
			"_fields":  {"id,name,slug"},
		}
		req, err := http.NewRequest(http.MethodGet, c.baseURL+"/wp-json/wp/v2/categories?"+params.Encode(), nil)
		if err != nil {
			return nil, errors.Wrap(err, "building categories request")
		}

		var batch []TaxonomyTerm
		if err := c.do(req, &batch); err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && httpErr.StatusCode == 400 &&
				strings.Contains(httpErr.Detail, "rest_post_invalid_page_number") {
				break
			}
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		terms = append(terms, batch...)
		if len(batch) < 100 {
			break
		}
	}
	return terms, nil
}

// PostInput is everything CreatePost needs for one article.
type PostInput struct {
	Title         string
	ContentHTML   string
	Slug          string
	Excerpt       string
	CategoryIDs   []int
	FeaturedMedia int
	SEO           SEOMeta
}

type wpPostResponse struct {
	ID   int    `json:"id"`
	Link string `json:"link"`
}

// CreatePost publishes the article. Posts go out live (status publish)
// with comments and pings closed; there is no draft staging on the
// content site.
func (c *WordPressClient) CreatePost(input PostInput) (*PublishResult, error) {
	payload := map[string]interface{}{
		"title":          input.Title,
		"content":        input.ContentHTML,
		"status":         "publish",
		"comment_status": "closed",
		"ping_status":    "closed",
	}
	if input.Slug != "" {
		payload["slug"] = input.Slug
	}
	if input.Excerpt != "" {
		payload["excerpt"] = input.Excerpt
	}
	if len(input.CategoryIDs) > 0 {
		payload["categories"] = input.CategoryIDs
	}
	if input.FeaturedMedia > 0 {
		payload["featured_media"] = input.FeaturedMedia
	}
	// Yoast reads these keys; sites without the plugin ignore them.
	payload["meta"] = map[string]string{
		"_yoast_wpseo_title":    input.SEO.Title,
		"_yoast_wpseo_metadesc": input.SEO.Description,
		"_yoast_wpseo_focuskw":  input.SEO.FocusKeyword,
	}

	var resp wpPostResponse
	if err := c.postJSON("/wp-json/wp/v2/posts", payload, &resp); err != nil {
		return nil, err
	}
	if resp.ID == 0 {
		return nil, errors.New("post created but response carried no id")
	}
	return &PublishResult{
		PostID:      resp.ID,
		PostURL:     resp.Link,
		MediaID:     input.FeaturedMedia,
		CategoryIDs: input.CategoryIDs,
	}, nil
}

type wpMediaResponse struct {
	ID        int    `json:"id"`
	SourceURL string `json:"source_url"`
}

var filenameSafeRe = regexp.MustCompile(`[^a-z0-9.-]+`)

// UploadMedia pushes image bytes into the media library and returns the
// media id plus the served URL.
func (c *WordPressClient) UploadMedia(filename, contentType string, data []byte) (int, string, error) {
	safe := filenameSafeRe.ReplaceAllString(strings.ToLower(filename), "-")
	safe = strings.Trim(safe, "-")
	if safe == "" {
		safe = "illustration.jpg"
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/wp-json/wp/v2/media", bytes.NewReader(data))
	if err != nil {
		return 0, "", errors.Wrap(err, "building media upload request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, safe))

	var resp wpMediaResponse
	if err := c.do(req, &resp); err != nil {
		return 0, "", err
	}
	if resp.ID == 0 {
		return 0, "", errors.New("media uploaded but response carried no id")
	}
	return resp.ID, resp.SourceURL, nil
}

// FetchRenderedPost retrieves the public HTML of a published post, for the
// post-publish verification gate.
func (c *WordPressClient) FetchRenderedPost(postURL string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, postURL, nil)
	if err != nil {
		return "", errors.Wrapf(err, "building GET %s", postURL)
	}
	// Public page fetch; no auth so we see what a reader sees.
	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "GET %s", postURL)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrapf(err, "reading %s", postURL)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HTTPError{StatusCode: resp.StatusCode, URL: postURL, Detail: clampRunes(string(raw), 500)}
	}
	return string(raw), nil
}
