package main

import (
	"time"

	"github.com/cadriou/draft-publisher/internal/postcheck"
)

// PublishStatus is the canonical lifecycle status of an article record.
// Store-defined labels are configurable aliases onto these values.
type PublishStatus string

const (
	StatusDraft              PublishStatus = "draft"
	StatusPartiallyPublished PublishStatus = "partially_published"
	StatusPublished          PublishStatus = "published"
)

// ArticleRecord is the canonical unit of work, resolved out of the
// document store's dynamic property map by the source adapter. Raw
// property payloads never cross the adapter boundary.
type ArticleRecord struct {
	ID                 string
	Title              string
	Summary            string
	Slug               string
	Content            string // markdown; may be empty when page blocks carried the body
	Status             string // store label, e.g. "Draft"
	CategoryHints      []string
	TagHints           []string
	TargetSite         string
	IllustrationURL    string
	IllustrationPrompt string
	RequiredPlatforms  []string
	PublishedPlatforms []string
}

// TaxonomyTerm is a category term fetched from the content API.
type TaxonomyTerm struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// IllustrationPlacement reports how the lead image ended up attached.
type IllustrationPlacement string

const (
	PlacementNone          IllustrationPlacement = "none"
	PlacementAlreadyInline IllustrationPlacement = "already_present"
	PlacementFeaturedMedia IllustrationPlacement = "featured_media"
	PlacementInlineHero    IllustrationPlacement = "inline_prepended"
	PlacementSkipped       IllustrationPlacement = "skipped_by_flag"
)

// Illustration is the provisioner outcome consumed by the publish step.
type Illustration struct {
	URL       string
	MediaID   int // 0 when no media object was created
	Placement IllustrationPlacement
}

// SEOMeta holds the computed SEO fields attached to the post.
type SEOMeta struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	FocusKeyword string `json:"focus_keyword"`
}

// PublishResult is ephemeral; it lives for one run and is echoed into the
// run summary, never persisted.
type PublishResult struct {
	PostID      int
	PostURL     string
	MediaID     int
	CategoryIDs []int
}

// RunResult is the JSON-printable summary of one pipeline invocation.
type RunResult struct {
	DryRun             bool                  `json:"dry_run"`
	RecordID           string                `json:"record_id"`
	Title              string                `json:"title"`
	SiteKey            string                `json:"site_key"`
	SiteLabel          string                `json:"site_label"`
	BrandProfileID     string                `json:"brand_profile_id,omitempty"`
	PostID             int                   `json:"post_id,omitempty"`
	PostURL            string                `json:"post_url,omitempty"`
	StatusSetTo        string                `json:"status_set_to,omitempty"`
	PlatformName       string                `json:"platform_name"`
	RequiredPlatforms  []string              `json:"required_platforms,omitempty"`
	PublishedPlatforms []string              `json:"published_platforms,omitempty"`
	CategoryIDs        []int                 `json:"category_ids,omitempty"`
	CategoryNames      []string              `json:"category_names,omitempty"`
	CategorySource     string                `json:"category_source"`
	Illustration       IllustrationPlacement `json:"illustration"`
	IllustrationURL    string                `json:"illustration_url,omitempty"`
	SEO                SEOMeta               `json:"seo"`
	Verification       *postcheck.Result     `json:"verification,omitempty"`
	Warnings           []string              `json:"warnings,omitempty"`
	PublicationLogID   string                `json:"publication_log_id,omitempty"`
	FinishedAt         time.Time             `json:"finished_at"`
}
