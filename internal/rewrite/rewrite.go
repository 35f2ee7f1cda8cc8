// Package rewrite derives delivery-mirror URLs from inbound request paths.
package rewrite

import (
	"fmt"
	"strings"
)

// Hosting selects which delivery template serves the mirrored files.
type Hosting string

// Supported hosting methods.
const (
	HostingRaw   Hosting = "raw"
	HostingPages Hosting = "pages"
	HostingCDN   Hosting = "cdn"
)

// ParseHosting maps a configured hosting string to a Hosting value.
// Unrecognized values resolve to the CDN template.
func ParseHosting(s string) Hosting {
	switch Hosting(strings.ToLower(strings.TrimSpace(s))) {
	case HostingRaw:
		return HostingRaw
	case HostingPages:
		return HostingPages
	default:
		return HostingCDN
	}
}

// Mirror identifies the GitHub repository that backs the delivery mirror.
type Mirror struct {
	Owner   string
	Repo    string
	Ref     string
	Hosting Hosting
}

// BaseURL returns the delivery base URL for the mirror's hosting method.
// The Pages template ignores Ref: GitHub Pages always serves the deployed
// branch.
func (m Mirror) BaseURL() string {
	switch m.Hosting {
	case HostingRaw:
		return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s", m.Owner, m.Repo, m.Ref)
	case HostingPages:
		return fmt.Sprintf("https://%s.github.io/%s", m.Owner, m.Repo)
	default:
		return fmt.Sprintf("https://cdn.jsdelivr.net/gh/%s/%s@%s", m.Owner, m.Repo, m.Ref)
	}
}

// Join concatenates base and rel with exactly one slash at the seam,
// regardless of whether base ends or rel starts with one. Slashes inside
// rel are left untouched.
func Join(base, rel string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(rel, "/")
}

// TargetURL builds the outbound URL: base joined with rel, with the raw
// query string appended verbatim. Pure function of its inputs.
func TargetURL(base, rel, rawQuery string) string {
	u := Join(base, rel)
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

// FallbackPath prepends the alternate root segment to the original full
// request path (including the serve prefix). Used for the single retry
// when the primary target resolves to 404.
func FallbackPath(root, fullPath string) string {
	return Join(root, fullPath)
}

// StripPrefix removes the literal serve prefix from path. The match is
// exact and case-sensitive; the remainder is passed through without any
// normalization of dots, double slashes or percent-encoding, since the
// mirror hosts are read-only static file servers.
func StripPrefix(prefix, path string) (string, bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	return path[len(prefix):], true
}
