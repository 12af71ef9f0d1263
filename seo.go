package main

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Target length bands for SEO fields. Titles past the band get truncated
// at the last whole word; same for descriptions.
const (
	seoTitleMaxLen       = 60
	seoDescriptionMaxLen = 158
)

var (
	mdSyntaxRe    = regexp.MustCompile("[*_`#>]+")
	mdLinkLabelRe = regexp.MustCompile(`\[([^\]]*)\]\((?:[^)]*)\)`)
	stopTokens    = map[string]bool{
		"avec": true, "dans": true, "from": true, "pour": true, "that": true,
		"the": true, "this": true, "une": true, "votre": true, "with": true,
		"your": true,
	}
)

// ComputeSEOMeta derives title/description/focus-keyword values honoring
// the length constraints. Pure and deterministic; no network calls.
func ComputeSEOMeta(record *ArticleRecord, categoryNames []string) SEOMeta {
	return SEOMeta{
		Title:        truncateAtWord(normalizeLineText(record.Title), seoTitleMaxLen),
		Description:  seoDescription(record),
		FocusKeyword: focusKeyword(record, categoryNames),
	}
}

// seoDescription prefers the summary and falls back to the first content
// paragraph, cleaned of markdown syntax and HTML entities.
func seoDescription(record *ArticleRecord) string {
	source := strings.TrimSpace(record.Summary)
	if source == "" {
		source = firstParagraph(record.Content)
	}
	return truncateAtWord(cleanInlineText(source), seoDescriptionMaxLen)
}

func firstParagraph(content string) string {
	for _, line := range strings.Split(content, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" || strings.HasPrefix(stripped, "#") || strings.HasPrefix(stripped, "```") {
			continue
		}
		return stripped
	}
	return ""
}

// cleanInlineText removes markdown decoration and HTML remnants from a
// line destined for a meta tag.
func cleanInlineText(text string) string {
	text = mdLinkLabelRe.ReplaceAllString(text, "$1")
	text = tagRe.ReplaceAllString(text, " ")
	text = mdSyntaxRe.ReplaceAllString(text, "")
	return normalizeLineText(html.UnescapeString(text))
}

// truncateAtWord cuts text to at most limit runes, never mid-word. When a
// single word exceeds the limit it is hard-cut rather than kept overlong.
func truncateAtWord(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	cut := runes[:limit]
	if idx := strings.LastIndexByte(string(cut), ' '); idx > 0 {
		return strings.TrimRight(string(cut)[:idx], " ,;:-")
	}
	return strings.TrimRight(string(cut), " ,;:-")
}

// focusKeyword picks the first non-empty of: primary category name, first
// tag hint, longest useful token of the title.
func focusKeyword(record *ArticleRecord, categoryNames []string) string {
	for _, name := range categoryNames {
		if v := strings.TrimSpace(name); v != "" {
			return strings.ToLower(v)
		}
	}
	for _, tag := range record.TagHints {
		if v := strings.TrimSpace(tag); v != "" {
			return strings.ToLower(v)
		}
	}
	return titleToken(record.Title)
}

func titleToken(title string) string {
	best := ""
	for _, token := range strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if stopTokens[token] {
			continue
		}
		if len(token) > len(best) {
			best = token
		}
	}
	return best
}
