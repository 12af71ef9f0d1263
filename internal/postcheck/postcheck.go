// Package postcheck runs structural checks against the rendered HTML of a
// freshly published post. The publish pipeline uses it as a hard gate
// before writing state back; cmd/verify exposes the same checks as a
// standalone tool.
package postcheck

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
)

// Meta description length band accepted by the checks. Wider than the
// generator's own target because themes append their own suffixes.
const (
	descriptionMin = 50
	descriptionMax = 170
)

// Result carries the individual checks by name. Passed is true only when
// every check is true.
type Result struct {
	Checks map[string]bool `json:"checks"`
	Passed bool            `json:"passed"`
}

// Failed lists the check names that did not pass, sorted for stable
// output.
func (r *Result) Failed() []string {
	var failed []string
	for name, ok := range r.Checks {
		if !ok {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}

// Verify parses the page and runs every structural check.
func Verify(htmlPage string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlPage))
	if err != nil {
		return nil, errors.Wrap(err, "parsing rendered post")
	}

	checks := map[string]bool{}

	checks["single_title"] = doc.Find("head title").Length() == 1

	descriptions := doc.Find(`head meta[name="description"]`)
	descriptionOK := false
	if descriptions.Length() == 1 {
		content := strings.TrimSpace(descriptions.AttrOr("content", ""))
		length := utf8.RuneCountInString(content)
		descriptionOK = length >= descriptionMin && length <= descriptionMax
	}
	checks["meta_description"] = descriptionOK

	checks["single_canonical"] = doc.Find(`head link[rel="canonical"]`).Length() == 1
	checks["single_h1"] = doc.Find("h1").Length() == 1
	checks["comments_closed"] = doc.Find("#commentform, form.comment-form").Length() == 0

	checks["og_title"] = metaPropertyPresent(doc, "og:title")
	checks["og_description"] = metaPropertyPresent(doc, "og:description")
	checks["og_image"] = metaPropertyPresent(doc, "og:image")

	passed := true
	for _, ok := range checks {
		if !ok {
			passed = false
			break
		}
	}
	return &Result{Checks: checks, Passed: passed}, nil
}

func metaPropertyPresent(doc *goquery.Document, property string) bool {
	found := false
	doc.Find(`head meta[property="` + property + `"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.AttrOr("content", "")) != "" {
			found = true
			return false
		}
		return true
	})
	return found
}
