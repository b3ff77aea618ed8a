package hostapi

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const maxSlugLen = 50

// slugify normalizes title into the lowercase ASCII [a-z0-9-] form required
// by the ID format (spec.md §6): hyphens collapsed, no leading/trailing
// hyphen, truncated to maxSlugLen.
func slugify(title string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	s := strings.TrimRight(b.String(), "-")
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	if s == "" {
		s = randomHex(6)
	}
	return s
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand on a supported platform does not fail in practice;
		// fall back to a fixed-width zero slug rather than propagate an
		// error from an ID-formatting helper.
		return strings.Repeat("0", n*2)
	}
	return hex.EncodeToString(buf)
}

// newBaseID formats the non-slug portion of an ID: kind-YYYYMMDD-HHmm.
func newBaseID(kind string, ts time.Time) string {
	return fmt.Sprintf("%s-%s-%s", kind, ts.Format("20060102"), ts.Format("1504"))
}

// assignID builds the canonical ID for a new entity: <kind>-<YYYYMMDD>-<HHmm>-<slug>
// (spec.md §6). exists reports whether a candidate ID is already taken; on
// collision within the same minute a numeric suffix is appended.
func assignID(kind string, title string, ts time.Time, exists func(id string) bool) string {
	base := newBaseID(kind, ts)
	slug := slugify(title)
	candidate := fmt.Sprintf("%s-%s", base, slug)
	if !exists(candidate) {
		return candidate
	}
	for n := 2; ; n++ {
		next := fmt.Sprintf("%s-%s-%d", base, slug, n)
		if !exists(next) {
			return next
		}
	}
}
