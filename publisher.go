package main

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cadriou/draft-publisher/internal/postcheck"
)

// recordStore is the document-store surface the publisher drives.
type recordStore interface {
	LoadSchema(dbID string) (DatabaseSchema, error)
	QueryLatestDraft(dbID string, fields *recordFields, draftLabel string, pageSize int, siteKey string, sites SiteRegistry) (*notionPage, error)
	FetchBlockMarkdown(pageID string) (string, error)
	UpdatePage(pageID string, properties map[string]interface{}) error
	CreatePublicationLogEntry(dbID string, entry PublicationLogEntry) (string, error)
}

// contentSite is the publishing-side surface the publisher drives.
type contentSite interface {
	FetchCategories() ([]TaxonomyTerm, error)
	CreatePost(input PostInput) (*PublishResult, error)
	FetchRenderedPost(postURL string) (string, error)
}

// illustrationProvider runs the lead-image strategy.
type illustrationProvider interface {
	Provision(ctx context.Context, record *ArticleRecord, profile *BrandProfile, bodyHTML string) (Illustration, []string, error)
}

// siteConnector builds the publishing-side clients for a resolved site.
// It runs only once the target site is known, which may be as late as
// after draft selection when the record's own target-site field decides.
type siteConnector func(siteKey string, siteCfg *SiteConfig) (contentSite, illustrationProvider, error)

// Publisher runs one end-to-end publish: select the latest draft, render
// it, attach categories and an illustration, publish, verify, then write
// state back.
type Publisher struct {
	cfg       *Config
	store     recordStore
	connect   siteConnector
	transform *Transformer
	log       *logrus.Logger
}

// NewPublisher wires a publisher over the document store and a site
// connector.
func NewPublisher(cfg *Config, store recordStore, connect siteConnector, log *logrus.Logger) *Publisher {
	return &Publisher{
		cfg:       cfg,
		store:     store,
		connect:   connect,
		transform: NewTransformer(),
		log:       log,
	}
}

// Run executes the pipeline once. On a fatal failure it returns a
// *PipelineError; the document store is only ever written after the
// published page has passed verification. There is no locking on draft
// selection: two concurrent runs can pick the same record.
func (p *Publisher) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{DryRun: p.cfg.DryRun}

	p.log.WithField("step", "load_schema").Debug("loading articles database schema")
	schema, err := p.store.LoadSchema(p.cfg.ArticlesDBID)
	if err != nil {
		return nil, wrapPipelineErr(KindConfiguration, "load_schema", err, "loading articles database schema")
	}
	fields, err := resolveRecordFields(schema)
	if err != nil {
		return nil, wrapPipelineErr(KindConfiguration, "load_schema", err, "resolving record fields")
	}

	// An explicit site narrows the draft query; otherwise the record's
	// own target-site field gets to decide after selection.
	siteKey, siteCfg, err := p.resolveExplicitSite()
	if err != nil {
		return nil, err
	}

	p.log.WithFields(logrus.Fields{"step": "select_draft", "status": p.cfg.DraftStatusLabel}).Info("selecting latest draft")
	page, err := p.store.QueryLatestDraft(p.cfg.ArticlesDBID, fields, p.cfg.DraftStatusLabel, p.cfg.PageSize, siteKey, p.cfg.Sites)
	if err != nil {
		if errors.Is(err, errNoDraft) {
			return nil, wrapPipelineErr(KindNotFound, "select_draft", err, "querying drafts")
		}
		return nil, wrapPipelineErr(KindPublish, "select_draft", err, "querying drafts")
	}

	record := buildRecord(page, fields)
	result.RecordID = record.ID
	result.Title = record.Title
	result.RequiredPlatforms = record.RequiredPlatforms
	p.log.WithFields(logrus.Fields{"step": "select_draft", "record": record.ID, "title": record.Title}).Info("draft selected")

	if siteKey == "" {
		siteKey, siteCfg, err = p.resolveSiteForRecord(record)
		if err != nil {
			return nil, err
		}
	}
	result.SiteKey = siteKey
	result.SiteLabel = siteLabelFor(siteKey, siteCfg)
	platform := PlatformNameFor(p.cfg.PlatformName, siteCfg, siteKey)
	result.PlatformName = platform

	profiles := LoadBrandProfiles(p.cfg.BrandProfilesDir)
	profileID, profile := ResolveBrandProfile(p.cfg.BrandProfileID, siteCfg, siteKey, profiles)
	result.BrandProfileID = profileID

	site, images, err := p.connect(siteKey, siteCfg)
	if err != nil {
		return nil, wrapPipelineErr(KindConfiguration, "config", err, "connecting to site "+siteKey)
	}

	if strings.TrimSpace(record.Content) == "" {
		p.log.WithField("step", "fetch_content").Info("content property empty, reading page blocks")
		content, err := p.store.FetchBlockMarkdown(record.ID)
		if err != nil {
			return nil, wrapPipelineErr(KindPublish, "fetch_content", err, "reading page blocks")
		}
		record.Content = content
	}
	if strings.TrimSpace(record.Content) == "" {
		return nil, pipelineErr(KindPublish, "fetch_content", "record %s has no content to publish", record.ID)
	}

	bodyHTML := p.transform.ToHTML(record.Content)
	bodyHTML = stripDuplicateLeadingH1(bodyHTML, record.Title)

	var terms []TaxonomyTerm
	if fetched, err := site.FetchCategories(); err != nil {
		result.Warnings = append(result.Warnings, "fetching categories failed: "+err.Error())
	} else {
		terms = fetched
	}
	categories := ResolveCategories(record, terms, siteCfg, bodyHTML)
	result.CategoryIDs = categories.IDs
	result.CategorySource = categories.Source
	for _, term := range categories.Terms {
		result.CategoryNames = append(result.CategoryNames, term.Name)
	}
	p.log.WithFields(logrus.Fields{"step": "categories", "source": categories.Source, "ids": categories.IDs}).Info("categories resolved")

	seo := ComputeSEOMeta(record, result.CategoryNames)
	result.SEO = seo

	illustration := Illustration{Placement: PlacementSkipped}
	if p.cfg.DryRun {
		p.log.WithField("step", "illustration").Info("dry run, skipping illustration")
	} else {
		var warnings []string
		illustration, warnings, err = images.Provision(ctx, record, profile, bodyHTML)
		if err != nil {
			return nil, wrapPipelineErr(KindIllustration, "illustration", err, "provisioning illustration")
		}
		result.Warnings = append(result.Warnings, warnings...)
	}
	result.Illustration = illustration.Placement
	result.IllustrationURL = illustration.URL
	if illustration.Placement == PlacementInlineHero {
		bodyHTML = prependHeroImage(bodyHTML, illustration.URL, record.Title)
	}
	p.log.WithFields(logrus.Fields{"step": "illustration", "placement": illustration.Placement}).Info("illustration resolved")

	if p.cfg.DryRun {
		p.log.WithFields(logrus.Fields{
			"step":       "publish",
			"title":      record.Title,
			"slug":       slugFor(record),
			"categories": categories.IDs,
			"seo_title":  seo.Title,
		}).Info("dry run, not publishing")
		result.FinishedAt = time.Now().UTC()
		return result, nil
	}

	input := PostInput{
		Title:         record.Title,
		ContentHTML:   bodyHTML,
		Slug:          slugFor(record),
		Excerpt:       seo.Description,
		CategoryIDs:   categories.IDs,
		FeaturedMedia: illustration.MediaID,
		SEO:           seo,
	}
	p.log.WithFields(logrus.Fields{"step": "publish", "slug": input.Slug}).Info("creating post")
	published, err := site.CreatePost(input)
	if err != nil {
		return nil, wrapPipelineErr(KindPublish, "publish", err, "creating post")
	}
	result.PostID = published.PostID
	result.PostURL = published.PostURL
	p.log.WithFields(logrus.Fields{"step": "publish", "post_id": published.PostID, "url": published.PostURL}).Info("post created")

	verification, err := p.verify(site, published.PostURL)
	result.Verification = verification
	if err != nil {
		return nil, err
	}
	p.log.WithField("step", "verify").Info("verification passed")

	p.writeBack(record, fields, schema, platform, published, illustration, result)

	if p.cfg.PublicationsDBID != "" {
		entry := PublicationLogEntry{
			ArticleID:       record.ID,
			Title:           record.Title,
			SiteLabel:       result.SiteLabel,
			PostID:          published.PostID,
			PostURL:         published.PostURL,
			IllustrationURL: illustration.URL,
			PublishedAt:     time.Now().UTC(),
		}
		logID, err := p.store.CreatePublicationLogEntry(p.cfg.PublicationsDBID, entry)
		if err != nil {
			result.Warnings = append(result.Warnings, "publication log entry failed: "+err.Error())
		} else {
			result.PublicationLogID = logID
		}
	}

	result.FinishedAt = time.Now().UTC()
	return result, nil
}

// resolveExplicitSite handles an explicitly requested site. Unregistered
// keys still pass through; the generic credential environment variables
// may carry them.
func (p *Publisher) resolveExplicitSite() (string, *SiteConfig, error) {
	requested := strings.TrimSpace(p.cfg.ExplicitSiteKey)
	if requested == "" {
		return "", nil, nil
	}
	if key, cfg := p.cfg.Sites.Resolve(requested); cfg != nil {
		return key, cfg, nil
	}
	return normalizeSiteKey(requested), nil, nil
}

// resolveSiteForRecord picks the target site once a record is in hand:
// the record's target-site field, then the configured default, then the
// sole registry entry. Wildcard target values defer to the defaults.
func (p *Publisher) resolveSiteForRecord(record *ArticleRecord) (string, *SiteConfig, error) {
	for _, candidate := range []string{record.TargetSite, p.cfg.DefaultSiteKey} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" || wildcardSiteKeys[normalizeSiteKey(candidate)] {
			continue
		}
		if key, cfg := p.cfg.Sites.Resolve(candidate); cfg != nil {
			return key, cfg, nil
		}
		if candidate == p.cfg.DefaultSiteKey {
			// Configured default without a registry entry still works
			// through the generic credential environment variables.
			return normalizeSiteKey(candidate), nil, nil
		}
	}
	if keys := p.cfg.Sites.Keys(); len(keys) == 1 {
		return keys[0], p.cfg.Sites[keys[0]], nil
	}
	return "", nil, pipelineErr(KindConfiguration, "config",
		"cannot determine target site for record %s; pass --site (known sites: %s)",
		record.ID, strings.Join(p.cfg.Sites.Keys(), ", "))
}

// verify fetches the live page and runs the structural checks. Any failure
// here is fatal: an unverifiable post must not be marked published.
func (p *Publisher) verify(site contentSite, postURL string) (*postcheck.Result, error) {
	htmlPage, err := site.FetchRenderedPost(postURL)
	if err != nil {
		return nil, wrapPipelineErr(KindVerification, "verify", err, "fetching rendered post")
	}
	verification, err := postcheck.Verify(htmlPage)
	if err != nil {
		return nil, wrapPipelineErr(KindVerification, "verify", err, "checking rendered post")
	}
	if !verification.Passed {
		return verification, pipelineErr(KindVerification, "verify",
			"rendered post failed checks: %s", strings.Join(verification.Failed(), ", "))
	}
	return verification, nil
}

// writeBack applies the post-publish state updates. Each field is updated
// independently and best-effort: a failure becomes a warning on the run
// result, never an error, and nothing already written is undone.
func (p *Publisher) writeBack(record *ArticleRecord, fields *recordFields, schema DatabaseSchema,
	platform string, published *PublishResult, illustration Illustration, result *RunResult) {

	merged := mergePlatforms(record.PublishedPlatforms, platform)
	result.PublishedPlatforms = merged

	desired := DecideStatusAfterPublish(record.RequiredPlatforms, merged)
	label := p.cfg.PublishedStatusLabel
	if desired == StatusPartiallyPublished {
		label = p.cfg.PartialStatusLabel
	}
	label = matchStatusOption(label, schema[fields.Status.Name].optionNames())
	result.StatusSetTo = label

	var updates []FieldUpdate
	if value, err := statusPropertyValue(fields.Status.Type, label); err == nil {
		updates = append(updates, FieldUpdate{Label: "status", Properties: map[string]interface{}{fields.Status.Name: value}})
	} else {
		result.Warnings = append(result.Warnings, "status writeback skipped: "+err.Error())
	}
	if fields.PublishedPlatforms != nil {
		if value, err := platformsPropertyValue(fields.PublishedPlatforms.Type, merged, platform); err == nil {
			updates = append(updates, FieldUpdate{Label: "published platforms", Properties: map[string]interface{}{fields.PublishedPlatforms.Name: value}})
		}
	}
	if fields.PublishedURL != nil && published.PostURL != "" {
		updates = append(updates, FieldUpdate{Label: "published URL", Properties: map[string]interface{}{
			fields.PublishedURL.Name: map[string]interface{}{"url": published.PostURL},
		}})
	}
	if fields.Category != nil && len(result.CategoryNames) > 0 && len(record.CategoryHints) == 0 {
		if value, err := termsPropertyValue(fields.Category.Type, result.CategoryNames); err == nil {
			updates = append(updates, FieldUpdate{Label: "category", Properties: map[string]interface{}{fields.Category.Name: value}})
		}
	}
	if fields.IllustrationURL != nil && illustration.URL != "" && record.IllustrationURL == "" {
		updates = append(updates, FieldUpdate{Label: "illustration URL", Properties: map[string]interface{}{
			fields.IllustrationURL.Name: map[string]interface{}{"url": illustration.URL},
		}})
	}
	if fields.PublishDate != nil {
		updates = append(updates, FieldUpdate{Label: "publish date", Properties: map[string]interface{}{
			fields.PublishDate.Name: map[string]interface{}{
				"date": map[string]string{"start": time.Now().UTC().Format("2006-01-02")},
			},
		}})
	}

	for _, update := range updates {
		if err := p.store.UpdatePage(record.ID, update.Properties); err != nil {
			p.log.WithFields(logrus.Fields{"step": "writeback", "field": update.Label}).WithError(err).Warn("field update failed")
			result.Warnings = append(result.Warnings, "writeback of "+update.Label+" failed: "+err.Error())
		}
	}
}

func siteLabelFor(siteKey string, siteCfg *SiteConfig) string {
	if siteCfg != nil && strings.TrimSpace(siteCfg.SiteLabel) != "" {
		return siteCfg.SiteLabel
	}
	return siteKey
}

// slugFor prefers the record's explicit slug and derives one from the
// title otherwise.
func slugFor(record *ArticleRecord) string {
	if slug := normalizeSiteKey(record.Slug); slug != "" {
		return slug
	}
	return clampRunes(normalizeLookupKey(record.Title), 80)
}

// mergePlatforms appends platform to the list unless an equivalent entry
// (case-insensitive) is already present. Order is preserved.
func mergePlatforms(existing []string, platform string) []string {
	merged := make([]string, 0, len(existing)+1)
	seen := map[string]bool{}
	for _, value := range append(append([]string{}, existing...), platform) {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		key := strings.ToLower(value)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, value)
	}
	return merged
}

// DecideStatusAfterPublish applies the platform coverage rule: with no
// required platforms one publish completes the record; otherwise the
// record is published only when every required platform (compared
// case-insensitively) has been covered.
func DecideStatusAfterPublish(required, publishedAfter []string) PublishStatus {
	if len(required) == 0 {
		return StatusPublished
	}
	covered := map[string]bool{}
	for _, value := range publishedAfter {
		covered[strings.ToLower(strings.TrimSpace(value))] = true
	}
	for _, want := range required {
		if !covered[strings.ToLower(strings.TrimSpace(want))] {
			return StatusPartiallyPublished
		}
	}
	return StatusPublished
}

// matchStatusOption matches preferred against the store's declared status
// options case-insensitively, keeping the store's exact casing. When the
// store declares no such option the preferred label is used as-is and the
// store gets to reject it.
func matchStatusOption(preferred string, options []string) string {
	for _, option := range options {
		if strings.EqualFold(option, preferred) {
			return option
		}
	}
	return preferred
}
