package fetch

import (
	"regexp"
	"strings"
	"time"

	"newspulse/internal/domain/entity"
)

// extractedEntry is one feed entry after template-driven field mapping and
// content processing has been applied (spec §4.3.1).
type extractedEntry struct {
	Title       string
	Link        string
	Description string
	Content     string
	Author      string
	GUID        string
	Published   time.Time
}

// defaultExtract is the mapping used when a feed has no active template.
func defaultExtract(it FeedItem) extractedEntry {
	return extractedEntry{
		Title:       it.Title,
		Link:        it.URL,
		Description: it.Description,
		Content:     it.Content,
		Author:      it.Author,
		GUID:        it.GUID,
		Published:   it.PublishedAt,
	}
}

// applyFieldMappings re-maps an entry's logical fields per tmpl's
// field_mappings (spec §4.3.1). Recognized attribute paths mirror the flat
// shape a FeedFetcher produces: title, link/url, description/summary,
// content, author, guid/id, published. A path that doesn't resolve to a
// non-empty value leaves the default mapping's value in place.
func applyFieldMappings(it FeedItem, tmpl *entity.DynamicFeedTemplate) extractedEntry {
	e := defaultExtract(it)
	if tmpl == nil || len(tmpl.FieldMappings) == 0 {
		return e
	}

	for logical, path := range tmpl.FieldMappings {
		v := entryAttr(it, path)
		if v == "" {
			continue
		}
		switch logical {
		case "title":
			e.Title = v
		case "description", "summary":
			e.Description = v
		case "link", "url":
			e.Link = v
		case "author":
			e.Author = v
		case "guid", "id":
			e.GUID = v
		case "published":
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				e.Published = t
			}
		}
	}
	return e
}

func entryAttr(it FeedItem, path string) string {
	path = strings.TrimPrefix(strings.ToLower(path), "entry.")
	switch path {
	case "title":
		return it.Title
	case "link", "url":
		return it.URL
	case "description", "summary":
		return it.Description
	case "content":
		return it.Content
	case "author":
		return it.Author
	case "guid", "id":
		return it.GUID
	case "published", "published_parsed":
		return it.PublishedAt.Format(time.RFC3339)
	default:
		return ""
	}
}

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	utmQueryPattern   = regexp.MustCompile(`[?&]utm_[^&\s]+`)
	mojibakeUmlautMap = map[string]string{
		"Ã¤": "ä", "Ã¶": "ö", "Ã¼": "ü", "Ã„": "Ä", "Ã–": "Ö", "Ãœ": "Ü", "Ã": "ß",
	}
	curlyQuoteMap = map[string]string{
		"“": `"`, "”": `"`, "‘": "'", "’": "'",
	}
)

// applyContentProcessingRules runs tmpl's ordered content_processing_rules
// against the entry's description text (spec §4.3.1). Unknown rule types
// are ignored without error.
func applyContentProcessingRules(e extractedEntry, rules []entity.ContentProcessingRule) extractedEntry {
	for _, r := range rules {
		switch r.Type {
		case "html_extract":
			text := htmlTagPattern.ReplaceAllString(e.Description, "")
			maxLen := 2000
			if v, ok := floatParam(r.Params, "max_length"); ok {
				maxLen = int(v)
			}
			if len(text) > maxLen {
				text = text[:maxLen]
			}
			e.Description = strings.TrimSpace(text)
		case "text_normalize":
			for _, sub := range stringSliceParam(r.Params, "rules") {
				switch sub {
				case "fix_umlauts", "fix_german_umlauts":
					e.Description = replaceAll(e.Description, mojibakeUmlautMap)
				case "normalize_quotes":
					e.Description = replaceAll(e.Description, curlyQuoteMap)
				}
			}
		case "remove_tracking":
			e.Description = utmQueryPattern.ReplaceAllString(e.Description, "")
		default:
			// unrecognized operation types are ignored without error.
		}
	}
	return e
}

func replaceAll(s string, repl map[string]string) string {
	for from, to := range repl {
		s = strings.ReplaceAll(s, from, to)
	}
	return s
}

func floatParam(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func stringSliceParam(params map[string]any, key string) []string {
	v, ok := params[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, x := range raw {
		if s, ok := x.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// passesQualityFilters gates an entry on tmpl's quality_filters
// (min/max title length); a nil or zero-valued filter set always passes.
func passesQualityFilters(title string, qf entity.QualityFilters) bool {
	if qf.MinTitleLength == 0 && qf.MaxTitleLength == 0 {
		return true
	}
	n := len(title)
	if qf.MinTitleLength > 0 && n < qf.MinTitleLength {
		return false
	}
	if qf.MaxTitleLength > 0 && n > qf.MaxTitleLength {
		return false
	}
	return true
}
