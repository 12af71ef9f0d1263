package main

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

// Transformer renders the constrained markdown dialect used by article
// records into sanitized HTML. It is deterministic: the same input always
// yields byte-identical output, and malformed constructs degrade to
// literal text instead of failing.
type Transformer struct {
	converter *md.Converter
}

// NewTransformer returns a Transformer with an HTML-to-markdown converter
// used to normalize records whose content field already holds HTML.
func NewTransformer() *Transformer {
	return &Transformer{converter: md.NewConverter("", true, nil)}
}

var (
	nbspReplacer   = strings.NewReplacer("\u00a0", " ")
	spaceRunsRe    = regexp.MustCompile(`[ \t]+`)
	headingRe      = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	bulletRe       = regexp.MustCompile(`^[-*]\s+(.*)$`)
	numberedRe     = regexp.MustCompile(`^\d+\.\s+(.*)$`)
	mdLinkRe       = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\s)]+)\)`)
	bareURLRe      = regexp.MustCompile(`https?://[^\s<]+`)
	citationRe     = regexp.MustCompile(`\[(\d+)\]`)
	inlineCodeRe   = regexp.MustCompile("`([^`]+)`")
	boldStarsRe    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	boldUnderRe    = regexp.MustCompile(`__([^_]+)__`)
	italicStarRe   = regexp.MustCompile(`\*([^*]+)\*`)
	italicUnderRe  = regexp.MustCompile(`_([^_]+)_`)
	sourceItemRe   = regexp.MustCompile(`^(?:\[(\d+)\]|(\d+)[.)])\s*(.*)$`)
	sourceLabelRe  = regexp.MustCompile(`(?i)^sources\s*:?\s*$`)
	htmlBlockRe    = regexp.MustCompile(`(?i)<\s*(p|h[1-6]|ul|ol|li|blockquote|pre|code|img)\b`)
	inlineImageRe  = regexp.MustCompile(`(?i)<img\b`)
	leadingH1Re    = regexp.MustCompile(`(?is)^\s*<h1[^>]*>(.*?)</h1>\s*`)
	tagRe          = regexp.MustCompile(`<[^>]+>`)
	listMarkerRe   = regexp.MustCompile(`^[-*]\s+`)
	orderedMarkRe  = regexp.MustCompile(`^\d+[.)]\s+`)
)

func normalizeLineText(text string) string {
	return strings.TrimSpace(spaceRunsRe.ReplaceAllString(nbspReplacer.Replace(text), " "))
}

// ToHTML is the single entry point: markdown in, sanitized HTML out.
// Content that already contains block-level HTML is converted back to
// markdown first so citation linking and escaping apply uniformly.
func (t *Transformer) ToHTML(text string) string {
	text = strings.TrimSpace(nbspReplacer.Replace(text))
	if text == "" {
		return ""
	}

	if htmlBlockRe.MatchString(text) {
		if converted, err := t.converter.ConvertString(text); err == nil {
			text = strings.TrimSpace(converted)
		}
	}

	return renderMarkdown(text)
}

type sourceEntry struct {
	Num  int
	Text string
}

// splitSources separates the trailing "Sources" section (opened either by
// an ATX heading or a bare "Sources:" line) from the body lines. Lines
// inside fenced code blocks never open the section.
func splitSources(lines []string) (body, sources []string, headingLevel int) {
	inFence := false
	for i, raw := range lines {
		stripped := normalizeLineText(raw)
		if strings.HasPrefix(stripped, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := headingRe.FindStringSubmatch(stripped); m != nil {
			if sourceLabelRe.MatchString(normalizeLineText(m[2])) {
				return lines[:i], lines[i+1:], len(m[1])
			}
			continue
		}
		if sourceLabelRe.MatchString(stripped) {
			return lines[:i], lines[i+1:], 2
		}
	}
	return lines, nil, 0
}

// parseSources reads numbered entries ("[1] text" or "1. text"); follow-up
// lines are folded into the current entry.
func parseSources(lines []string) []sourceEntry {
	var entries []sourceEntry
	current := -1
	var parts []string

	flush := func() {
		if current < 0 {
			return
		}
		entries = append(entries, sourceEntry{Num: current, Text: normalizeLineText(strings.Join(parts, " "))})
		current = -1
		parts = nil
	}

	for _, raw := range lines {
		stripped := normalizeLineText(raw)
		if stripped == "" {
			continue
		}
		if m := sourceItemRe.FindStringSubmatch(stripped); m != nil {
			flush()
			numStr := m[1]
			if numStr == "" {
				numStr = m[2]
			}
			num, err := strconv.Atoi(numStr)
			if err != nil {
				continue
			}
			current = num
			if tail := normalizeLineText(m[3]); tail != "" {
				parts = append(parts, tail)
			}
			continue
		}
		if current >= 0 {
			parts = append(parts, stripped)
		}
	}
	flush()
	return entries
}

// renderSourceList renders numbered entries as an <ol> with one anchor
// target per entry. Bullet-style source sections without numbering fall
// back to a plain <ul> with no anchors.
func renderSourceList(lines []string) string {
	entries := parseSources(lines)
	if len(entries) == 0 {
		var items []string
		for _, raw := range lines {
			stripped := normalizeLineText(raw)
			if stripped == "" {
				continue
			}
			stripped = listMarkerRe.ReplaceAllString(stripped, "")
			stripped = orderedMarkRe.ReplaceAllString(stripped, "")
			if stripped = normalizeLineText(stripped); stripped != "" {
				items = append(items, "<li>"+applyInlineFormatting(stripped, nil)+"</li>")
			}
		}
		if len(items) == 0 {
			return ""
		}
		return `<ul class="sources-list">` + strings.Join(items, "") + "</ul>"
	}

	var items []string
	for _, entry := range entries {
		items = append(items, fmt.Sprintf(`<li id="source-%d">%s</li>`, entry.Num, applyInlineFormatting(entry.Text, nil)))
	}
	return `<ol class="sources-list">` + strings.Join(items, "") + "</ol>"
}

// applyInlineFormatting escapes a line of text and applies inline markdown
// (links, bare URLs, citations, code, emphasis). Citation markers [n] are
// linked only when n is present in sources; a nil map disables citation
// linking entirely (used inside the source list itself).
func applyInlineFormatting(text string, sources map[int]bool) string {
	raw := normalizeLineText(text)
	if raw == "" {
		return ""
	}

	escaped := html.EscapeString(raw)
	var placeholders []string
	stash := func(fragment string) string {
		key := fmt.Sprintf("\x00%d\x00", len(placeholders))
		placeholders = append(placeholders, fragment)
		return key
	}

	escaped = mdLinkRe.ReplaceAllStringFunc(escaped, func(m string) string {
		parts := mdLinkRe.FindStringSubmatch(m)
		return stash(fmt.Sprintf(`<a href="%s" target="_blank" rel="noopener noreferrer">%s</a>`, parts[2], parts[1]))
	})

	escaped = bareURLRe.ReplaceAllStringFunc(escaped, func(m string) string {
		url := m
		trailing := ""
		for url != "" && strings.ContainsRune(".,);:", rune(url[len(url)-1])) {
			trailing = url[len(url)-1:] + trailing
			url = url[:len(url)-1]
		}
		return stash(fmt.Sprintf(`<a href="%s" target="_blank" rel="noopener noreferrer">%s</a>`, url, url)) + trailing
	})

	if sources != nil {
		escaped = citationRe.ReplaceAllStringFunc(escaped, func(m string) string {
			num, err := strconv.Atoi(citationRe.FindStringSubmatch(m)[1])
			if err != nil || !sources[num] {
				// Unmatched markers stay literal; no dangling anchors.
				return m
			}
			return stash(fmt.Sprintf(`<a href="#source-%d" class="citation">[%d]</a>`, num, num))
		})
	}

	escaped = inlineCodeRe.ReplaceAllStringFunc(escaped, func(m string) string {
		return stash("<code>" + inlineCodeRe.FindStringSubmatch(m)[1] + "</code>")
	})
	escaped = boldStarsRe.ReplaceAllString(escaped, "<strong>$1</strong>")
	escaped = boldUnderRe.ReplaceAllString(escaped, "<strong>$1</strong>")
	escaped = italicStarRe.ReplaceAllString(escaped, "<em>$1</em>")
	escaped = italicUnderRe.ReplaceAllString(escaped, "<em>$1</em>")

	for i, fragment := range placeholders {
		escaped = strings.Replace(escaped, fmt.Sprintf("\x00%d\x00", i), fragment, 1)
	}
	return escaped
}

// renderMarkdown is the single left-to-right block pass.
func renderMarkdown(text string) string {
	normalized := strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\r", "\n")
	allLines := strings.Split(normalized, "\n")

	bodyLines, sourceLines, sourceHeadingLevel := splitSources(allLines)
	sources := map[int]bool{}
	for _, entry := range parseSources(sourceLines) {
		sources[entry.Num] = true
	}

	var parts []string
	var listItems []string
	activeList := ""
	var paragraph []string
	inCode := false
	var codeLines []string

	flushList := func() {
		if len(listItems) == 0 || activeList == "" {
			return
		}
		parts = append(parts, "<"+activeList+">"+strings.Join(listItems, "")+"</"+activeList+">")
		listItems = nil
	}
	flushParagraph := func() {
		if len(paragraph) == 0 {
			return
		}
		if line := normalizeLineText(strings.Join(paragraph, " ")); line != "" {
			parts = append(parts, "<p>"+applyInlineFormatting(line, sources)+"</p>")
		}
		paragraph = nil
	}
	flushCode := func() {
		if len(codeLines) == 0 {
			return
		}
		parts = append(parts, "<pre><code>"+html.EscapeString(strings.Join(codeLines, "\n"))+"</code></pre>")
		codeLines = nil
	}

	for _, rawLine := range bodyLines {
		line := strings.TrimRight(rawLine, " \t")
		stripped := strings.TrimSpace(line)

		if inCode {
			if strings.HasPrefix(stripped, "```") {
				flushCode()
				inCode = false
			} else {
				codeLines = append(codeLines, line)
			}
			continue
		}

		if strings.HasPrefix(stripped, "```") {
			flushParagraph()
			flushList()
			activeList = ""
			inCode = true
			codeLines = nil
			continue
		}

		if m := headingRe.FindStringSubmatch(stripped); m != nil {
			flushParagraph()
			flushList()
			activeList = ""
			level := len(m[1])
			if heading := normalizeLineText(m[2]); heading != "" {
				parts = append(parts, fmt.Sprintf("<h%d>%s</h%d>", level, applyInlineFormatting(heading, sources), level))
			}
			continue
		}

		if stripped == "" {
			flushParagraph()
			flushList()
			activeList = ""
			continue
		}

		if m := bulletRe.FindStringSubmatch(stripped); m != nil {
			flushParagraph()
			if activeList != "ul" {
				flushList()
				activeList = "ul"
			}
			listItems = append(listItems, "<li>"+applyInlineFormatting(m[1], sources)+"</li>")
			continue
		}

		if m := numberedRe.FindStringSubmatch(stripped); m != nil {
			flushParagraph()
			if activeList != "ol" {
				flushList()
				activeList = "ol"
			}
			listItems = append(listItems, "<li>"+applyInlineFormatting(m[1], sources)+"</li>")
			continue
		}

		if strings.HasPrefix(stripped, ">") {
			flushParagraph()
			flushList()
			activeList = ""
			if quote := normalizeLineText(strings.TrimLeft(stripped, "> ")); quote != "" {
				parts = append(parts, "<blockquote><p>"+applyInlineFormatting(quote, sources)+"</p></blockquote>")
			}
			continue
		}

		flushList()
		activeList = ""
		paragraph = append(paragraph, stripped)
	}

	if inCode {
		flushCode()
	}
	flushParagraph()
	flushList()

	if sourceLines != nil {
		if rendered := renderSourceList(sourceLines); rendered != "" {
			parts = append(parts, fmt.Sprintf("<h%d>Sources</h%d>", sourceHeadingLevel, sourceHeadingLevel), rendered)
		}
	}

	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// hasInlineImage reports whether the rendered content already carries an
// <img> tag.
func hasInlineImage(contentHTML string) bool {
	return inlineImageRe.MatchString(contentHTML)
}

// stripDuplicateLeadingH1 drops a leading <h1> that repeats the post title;
// the theme renders the title itself.
func stripDuplicateLeadingH1(contentHTML, title string) string {
	m := leadingH1Re.FindStringSubmatchIndex(contentHTML)
	if m == nil {
		return contentHTML
	}
	headingRaw := tagRe.ReplaceAllString(contentHTML[m[2]:m[3]], "")
	headingText := normalizeLineText(html.UnescapeString(headingRaw))
	titleText := normalizeLineText(title)
	if headingText != "" && titleText != "" && strings.EqualFold(headingText, titleText) {
		return strings.TrimLeft(contentHTML[m[1]:], " \t\n")
	}
	return contentHTML
}

// prependHeroImage puts the lead illustration ahead of the content as an
// inline figure; used only when no featured-media reference exists.
func prependHeroImage(contentHTML, imageURL, altText string) string {
	alt := strings.TrimSpace(altText)
	if alt == "" {
		alt = "Article illustration"
	}
	hero := fmt.Sprintf(`<figure class="article-illustration"><img src="%s" alt="%s" /></figure>`,
		html.EscapeString(imageURL), html.EscapeString(alt))
	if strings.TrimSpace(contentHTML) == "" {
		return hero
	}
	return hero + "\n" + contentHTML
}

// stripTags reduces HTML to plain text for inference and prompt building.
func stripTags(contentHTML string) string {
	return normalizeLineText(tagRe.ReplaceAllString(contentHTML, " "))
}
