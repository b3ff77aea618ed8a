package hostapi

import "regexp"

var wikilinkPattern = regexp.MustCompile(`\[\[([^\]|#]+)`)

// extractLinks collects every linked entity ID from metadata["links"] and
// [[wikilink]] references in the body (spec.md §4.2 step 7).
func extractLinks(metadata map[string]any, body string) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	switch links := metadata[MetaLinks].(type) {
	case []string:
		for _, l := range links {
			add(l)
		}
	case []any:
		for _, l := range links {
			if s, ok := l.(string); ok {
				add(s)
			}
		}
	}

	for _, m := range wikilinkPattern.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}
