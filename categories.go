package main

import (
	"html"
	"strconv"
	"strings"
)

// Generic "no real category" term names recognized across locales.
var uncategorizedKeys = map[string]bool{
	"non-classe":     true,
	"uncategorized":  true,
	"sans-categorie": true,
	"no-category":    true,
}

// Weak one-token inference matches misclassify generic posts, so anything
// scoring below this is rejected.
const minInferenceScore = 3

// CategoryResolution reports which taxonomy terms were picked and by which
// rule in the priority chain.
type CategoryResolution struct {
	IDs    []int
	Terms  []TaxonomyTerm
	Source string
}

// termIndex maps ids, slugs and folded names onto taxonomy terms.
type termIndex map[string]TaxonomyTerm

func buildTermIndex(terms []TaxonomyTerm) termIndex {
	index := termIndex{}
	for _, term := range terms {
		index[strconv.Itoa(term.ID)] = term
		for _, raw := range []string{term.Slug, html.UnescapeString(term.Name)} {
			if key := normalizeLookupKey(raw); key != "" {
				if _, taken := index[key]; !taken {
					index[key] = term
				}
			}
		}
	}
	return index
}

// find matches a raw value against the index: numeric id first, then the
// folded slug/name key.
func (idx termIndex) find(raw string) (TaxonomyTerm, bool) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return TaxonomyTerm{}, false
	}
	if _, err := strconv.Atoi(candidate); err == nil {
		if term, ok := idx[candidate]; ok {
			return term, true
		}
	}
	term, ok := idx[normalizeLookupKey(candidate)]
	return term, ok
}

// ResolveCategories picks taxonomy terms for the record. Priority chain,
// first non-empty match wins: explicit category hints, tag hints (through
// the site's category aliases), content-based token-overlap inference,
// configured default. Category is an enhancement, not a requirement: an
// empty result is a valid outcome, never an error.
func ResolveCategories(record *ArticleRecord, terms []TaxonomyTerm, site *SiteConfig, contentHTML string) CategoryResolution {
	if len(terms) == 0 {
		return CategoryResolution{Source: "no_categories_available"}
	}

	index := buildTermIndex(terms)
	aliases := map[string]string{}
	if site != nil {
		for rawKey, rawValue := range site.CategoryAliases {
			key := normalizeLookupKey(rawKey)
			value := strings.TrimSpace(rawValue)
			if key != "" && value != "" {
				aliases[key] = value
			}
		}
	}

	match := func(values []string) []TaxonomyTerm {
		var found []TaxonomyTerm
		seen := map[int]bool{}
		for _, value := range values {
			term, ok := index.find(value)
			if !ok {
				if alias := aliases[normalizeLookupKey(value)]; alias != "" {
					term, ok = index.find(alias)
				}
			}
			if ok && !seen[term.ID] {
				seen[term.ID] = true
				found = append(found, term)
			}
		}
		return found
	}

	if found := match(record.CategoryHints); len(found) > 0 {
		return resolution(found, "explicit_hint")
	}
	if found := match(record.TagHints); len(found) > 0 {
		return resolution(found, "tag_hint")
	}
	if term, ok := inferCategory(record, terms, contentHTML); ok {
		return resolution([]TaxonomyTerm{term}, "content_inference")
	}
	if site != nil && site.DefaultCategory != "" {
		if term, ok := index.find(site.DefaultCategory); ok {
			return resolution([]TaxonomyTerm{term}, "fallback_default")
		}
	}
	for _, term := range terms {
		if isUncategorized(term) {
			return resolution([]TaxonomyTerm{term}, "fallback_uncategorized")
		}
	}
	return CategoryResolution{Source: "unresolved"}
}

func resolution(terms []TaxonomyTerm, source string) CategoryResolution {
	ids := make([]int, 0, len(terms))
	for _, term := range terms {
		ids = append(ids, term.ID)
	}
	return CategoryResolution{IDs: ids, Terms: terms, Source: source}
}

func isUncategorized(term TaxonomyTerm) bool {
	return uncategorizedKeys[normalizeLookupKey(term.Slug)] ||
		uncategorizedKeys[normalizeLookupKey(html.UnescapeString(term.Name))]
}

// inferCategory scores each term by keyword overlap with the article text:
// 8 points for the folded name appearing as a substring, 7 for the slug,
// plus 1 per shared token of length >= 4. Ties keep the earlier-declared
// term; scores below minInferenceScore are rejected.
func inferCategory(record *ArticleRecord, terms []TaxonomyTerm, contentHTML string) (TaxonomyTerm, bool) {
	textKey := normalizeLookupKey(strings.Join([]string{
		record.Title,
		record.Summary,
		strings.Join(record.TagHints, " "),
		strings.Join(record.CategoryHints, " "),
		clampRunes(stripTags(contentHTML), 4000),
	}, " "))
	articleTokens := map[string]bool{}
	for _, token := range strings.Split(textKey, "-") {
		if len(token) >= 4 {
			articleTokens[token] = true
		}
	}

	best := TaxonomyTerm{}
	bestScore := 0
	for _, term := range terms {
		if isUncategorized(term) {
			continue
		}
		slugKey := normalizeLookupKey(term.Slug)
		nameKey := normalizeLookupKey(html.UnescapeString(term.Name))
		if slugKey == "" && nameKey == "" {
			continue
		}

		score := 0
		if nameKey != "" && strings.Contains(textKey, nameKey) {
			score += 8
		}
		if slugKey != "" && strings.Contains(textKey, slugKey) {
			score += 7
		}
		seen := map[string]bool{}
		for _, token := range append(strings.Split(nameKey, "-"), strings.Split(slugKey, "-")...) {
			if len(token) >= 4 && !seen[token] && articleTokens[token] {
				seen[token] = true
				score++
			}
		}

		if score > bestScore {
			bestScore = score
			best = term
		}
	}

	if bestScore < minInferenceScore {
		return TaxonomyTerm{}, false
	}
	return best, true
}

func clampRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
