// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// IdentifierType classifies an input identifier.
type IdentifierType int

const (
	TypeUnknown IdentifierType = iota
	TypeArxiv
	TypeDOI
	TypeURL
)

func (t IdentifierType) String() string {
	switch t {
	case TypeArxiv:
		return "arxiv"
	case TypeDOI:
		return "doi"
	case TypeURL:
		return "url"
	default:
		return "unknown"
	}
}

// Base URLs for identifier resolution. Declared as vars so tests can
// substitute httptest servers.
var (
	arxivPDFBase = "https://arxiv.org/pdf/"
	doiBase      = "https://doi.org/"
)

// Identifier shapes accepted by Classify.
var (
	// New-style arXiv ids: "2301.07041", "arXiv:2301.07041v2".
	arxivPattern = regexp.MustCompile(`^(?i:arxiv:)?(\d{4}\.\d{4,5}(?:v\d+)?)$`)
	// Old-style arXiv ids carry an archive name: "hep-th/9901001".
	arxivLegacyPattern = regexp.MustCompile(`^(?i:arxiv:)?([a-z-]+(?:\.[A-Z]{2})?/\d{7}(?:v\d+)?)$`)
	doiPattern         = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)
)

// Hosts whose URLs name an identifier rather than a file.
var (
	doiHosts   = map[string]bool{"doi.org": true, "dx.doi.org": true}
	arxivHosts = map[string]bool{"arxiv.org": true, "export.arxiv.org": true}
)

// Classify determines the identifier type and returns the normalized form.
// Prefixes such as "arXiv:" and "doi:" are stripped, and doi.org or
// arxiv.org links are reduced to the identifier they point at.
func Classify(identifier string) (IdentifierType, string) {
	identifier = strings.TrimSpace(identifier)
	if len(identifier) > 4 && strings.EqualFold(identifier[:4], "doi:") {
		identifier = strings.TrimSpace(identifier[4:])
	}

	if t, norm, ok := classifyBare(identifier); ok {
		return t, norm
	}

	u, err := url.Parse(identifier)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return TypeUnknown, identifier
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	path := strings.TrimPrefix(u.Path, "/")
	switch {
	case doiHosts[host]:
		if doiPattern.MatchString(path) {
			return TypeDOI, path
		}
	case arxivHosts[host]:
		for _, prefix := range []string{"abs/", "pdf/"} {
			if rest, ok := strings.CutPrefix(path, prefix); ok {
				if t, norm, ok := classifyBare(strings.TrimSuffix(rest, ".pdf")); ok && t == TypeArxiv {
					return t, norm
				}
			}
		}
	}
	return TypeURL, identifier
}

func classifyBare(s string) (IdentifierType, string, bool) {
	if m := arxivPattern.FindStringSubmatch(s); m != nil {
		return TypeArxiv, m[1], true
	}
	if m := arxivLegacyPattern.FindStringSubmatch(s); m != nil {
		return TypeArxiv, m[1], true
	}
	if doiPattern.MatchString(s) {
		return TypeDOI, s, true
	}
	return TypeUnknown, s, false
}

// Slug returns a filesystem-safe filename stem for the identifier.
func Slug(idType IdentifierType, normalized string) string {
	switch idType {
	case TypeArxiv, TypeDOI:
		return slugReplacer.Replace(normalized)
	case TypeURL:
		u, err := url.Parse(normalized)
		if err != nil {
			return urlHashSlug(normalized)
		}
		base := strings.TrimSuffix(filepath.Base(u.Path), filepath.Ext(u.Path))
		if base == "" || base == "." || base == "/" {
			return urlHashSlug(normalized)
		}
		return base
	default:
		return "unknown"
	}
}

// PDFURL returns the download URL for the identifier. For arXiv, this is
// the arxiv.org PDF endpoint. For DOI, this is the doi.org resolver
// (the HTTP client follows redirects). For direct URLs, it returns as-is.
func PDFURL(idType IdentifierType, normalized string) string {
	switch idType {
	case TypeArxiv:
		return arxivPDFBase + normalized
	case TypeDOI:
		return doiBase + normalized
	case TypeURL:
		return normalized
	default:
		return ""
	}
}

var slugReplacer = strings.NewReplacer("/", "-", ":", "-")

func urlHashSlug(rawURL string) string {
	h := sha256.Sum256([]byte(rawURL))
	return fmt.Sprintf("url-%x", h[:8])
}

// Patterns used to spot an identifier printed on a paper's first page.
var (
	arxivInText = regexp.MustCompile(`(?i)arxiv:\s*(\d{4}\.\d{4,5}(?:v\d+)?|[a-z-]+(?:\.[a-z]{2})?/\d{7}(?:v\d+)?)`)
	doiInText   = regexp.MustCompile(`(?i)\b(10\.\d{4,9}/[-._;()/:A-Z0-9]+)`)
)

// FindKnownID returns the first arXiv id or DOI printed in text, preferring
// arXiv since preprint copies tend to carry clean fonts. It returns "" when
// neither is present.
func FindKnownID(text string) string {
	if m := arxivInText.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := doiInText.FindStringSubmatch(text); m != nil {
		return strings.TrimRight(m[1], ".,;)")
	}
	return ""
}
