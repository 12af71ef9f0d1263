package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

// Media library uploads above this size get re-encoded as JPEG first;
// shared hosts commonly cap uploads at a few megabytes.
const maxUploadBytes = 2_500_000

const promptConstraints = "No text, no words, no letters, no logos, no watermarks."

// imageGenerator is the slice of the OpenAI client the provisioner needs.
type imageGenerator interface {
	CreateImage(ctx context.Context, req openai.ImageRequest) (openai.ImageResponse, error)
}

// mediaUploader is the slice of the content API client the provisioner
// needs.
type mediaUploader interface {
	UploadMedia(filename, contentType string, data []byte) (int, string, error)
}

// IllustrationProvisioner decides and executes the lead-image strategy for
// one article: keep an image already inline, fetch a hinted URL, or
// generate one, then attach the result as featured media.
type IllustrationProvisioner struct {
	cfg       *Config
	generator imageGenerator
	uploader  mediaUploader
	client    *http.Client
}

// NewIllustrationProvisioner wires the provisioner. generator may be nil
// when no API key is configured; generation then reports an error instead
// of being attempted.
func NewIllustrationProvisioner(cfg *Config, generator imageGenerator, uploader mediaUploader) *IllustrationProvisioner {
	return &IllustrationProvisioner{
		cfg:       cfg,
		generator: generator,
		uploader:  uploader,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Provision runs the strategy for the record against the already-rendered
// body HTML. The returned illustration never pairs a media id with an
// inline placement: featured media and inline hero are mutually exclusive.
// Warnings report degraded outcomes that did not stop the run. Unless
// skipped by flag, the post must end up with at least one image reference;
// any outcome that would leave it imageless is a fatal error.
func (p *IllustrationProvisioner) Provision(ctx context.Context, record *ArticleRecord, profile *BrandProfile, bodyHTML string) (Illustration, []string, error) {
	if p.cfg.SkipIllustration {
		return Illustration{Placement: PlacementSkipped}, nil, nil
	}
	if hasInlineImage(bodyHTML) {
		return Illustration{Placement: PlacementAlreadyInline}, nil, nil
	}

	var warnings []string

	if hintURL := strings.TrimSpace(record.IllustrationURL); hintURL != "" {
		data, contentType, err := p.download(ctx, hintURL)
		if err != nil {
			// The hint may still render in a browser even if we cannot
			// fetch it server-side; fall back to inlining the URL.
			warnings = append(warnings, "illustration download failed, inlining URL: "+err.Error())
			return Illustration{URL: hintURL, Placement: PlacementInlineHero}, warnings, nil
		}
		mediaID, servedURL, err := p.upload(record, data, contentType)
		if err != nil {
			warnings = append(warnings, "media upload failed, inlining URL: "+err.Error())
			return Illustration{URL: hintURL, Placement: PlacementInlineHero}, warnings, nil
		}
		return Illustration{URL: servedURL, MediaID: mediaID, Placement: PlacementFeaturedMedia}, warnings, nil
	}

	if p.generator == nil {
		return Illustration{}, warnings, errors.New(
			"record has no illustration and no image generation is configured (set OPENAI_API_KEY or pass --skip-illustration)")
	}

	data, sourceURL, err := p.generate(ctx, record, profile)
	if err != nil {
		return Illustration{}, warnings, errors.Wrap(err, "generating illustration")
	}
	mediaID, servedURL, err := p.upload(record, data, "image/jpeg")
	if err != nil {
		if sourceURL != "" {
			warnings = append(warnings, "media upload failed, inlining generated URL: "+err.Error())
			return Illustration{URL: sourceURL, Placement: PlacementInlineHero}, warnings, nil
		}
		// Base64-only generation leaves no hosted URL to inline, so an
		// upload failure here means no image at all.
		return Illustration{}, warnings, errors.Wrap(err, "uploading generated illustration")
	}
	return Illustration{URL: servedURL, MediaID: mediaID, Placement: PlacementFeaturedMedia}, warnings, nil
}

func (p *IllustrationProvisioner) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", errors.Wrapf(err, "building GET %s", rawURL)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", errors.Wrapf(err, "GET %s", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &HTTPError{StatusCode: resp.StatusCode, URL: rawURL}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, "", errors.Wrapf(err, "reading %s", rawURL)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// generate produces image bytes from the prompt, preferring base64 payloads
// and falling back to a hosted URL when the model only returns one.
func (p *IllustrationProvisioner) generate(ctx context.Context, record *ArticleRecord, profile *BrandProfile) ([]byte, string, error) {
	req := openai.ImageRequest{
		Prompt: buildIllustrationPrompt(record, profile),
		Model:  p.cfg.ImageModel,
		N:      1,
	}
	if p.cfg.ImageSize != "" {
		req.Size = p.cfg.ImageSize
	}
	if p.cfg.ImageQuality != "" {
		req.Quality = p.cfg.ImageQuality
	}
	// gpt-image-* models reject response_format and always answer base64.
	if strings.HasPrefix(p.cfg.ImageModel, "dall-e") {
		req.ResponseFormat = openai.CreateImageResponseFormatB64JSON
	}

	resp, err := p.generator.CreateImage(ctx, req)
	if err != nil {
		return nil, "", err
	}
	if len(resp.Data) == 0 {
		return nil, "", errors.New("image API returned no data")
	}

	item := resp.Data[0]
	if item.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, "", errors.Wrap(err, "decoding base64 image payload")
		}
		return data, "", nil
	}
	if item.URL != "" {
		data, _, err := p.download(ctx, item.URL)
		if err != nil {
			return nil, "", err
		}
		return data, item.URL, nil
	}
	return nil, "", errors.New("image API returned neither bytes nor URL")
}

func (p *IllustrationProvisioner) upload(record *ArticleRecord, data []byte, contentType string) (int, string, error) {
	data, contentType = recompressIfLarge(data, contentType)

	stem := record.Slug
	if stem == "" {
		stem = normalizeSiteKey(record.Title)
	}
	if stem == "" {
		stem = "illustration"
	}
	ext := ".jpg"
	if strings.Contains(contentType, "png") {
		ext = ".png"
	}
	return p.uploader.UploadMedia(stem+ext, contentType, data)
}

// recompressIfLarge re-encodes oversized images as quality-85 JPEG. When
// the bytes do not decode they are passed through untouched and the upload
// gets to fail with the server's own verdict.
func recompressIfLarge(data []byte, contentType string) ([]byte, string) {
	if len(data) <= maxUploadBytes {
		return data, contentType
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data, contentType
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return data, contentType
	}
	if buf.Len() >= len(data) {
		return data, contentType
	}
	return buf.Bytes(), "image/jpeg"
}

// buildIllustrationPrompt composes the generation prompt: the record's own
// prompt when the author wrote one, otherwise the title and summary, plus
// the brand profile's style guidance and the standing constraints.
func buildIllustrationPrompt(record *ArticleRecord, profile *BrandProfile) string {
	var parts []string

	if custom := strings.TrimSpace(record.IllustrationPrompt); custom != "" {
		parts = append(parts, custom)
	} else {
		subject := "Editorial illustration for an article titled \"" + strings.TrimSpace(record.Title) + "\"."
		if summary := strings.TrimSpace(record.Summary); summary != "" {
			subject += " The article covers: " + summary
		}
		parts = append(parts, subject)
	}

	if profile != nil && profile.IllustrationStyle != nil {
		style := profile.IllustrationStyle
		if style.Rendering != "" {
			parts = append(parts, "Rendering style: "+style.Rendering+".")
		}
		if style.EditorialDirection != "" {
			parts = append(parts, style.EditorialDirection)
		}
		if style.Composition != "" {
			parts = append(parts, "Composition: "+style.Composition+".")
		}
		if style.Mood != "" {
			parts = append(parts, "Mood: "+style.Mood+".")
		}
		if len(style.ColorPalette) > 0 {
			parts = append(parts, "Color palette: "+strings.Join(style.ColorPalette, ", ")+".")
		}
		if len(style.Motifs) > 0 {
			parts = append(parts, "Recurring motifs: "+strings.Join(style.Motifs, ", ")+".")
		}
		if len(style.Avoid) > 0 {
			parts = append(parts, "Avoid: "+strings.Join(style.Avoid, ", ")+".")
		}
	}

	parts = append(parts, promptConstraints)
	return strings.Join(parts, " ")
}
