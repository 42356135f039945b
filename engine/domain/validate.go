package domain

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Injection patterns that should never appear in a search keyword.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile(`(?i)\$\{.*\}`),            // template injection
	regexp.MustCompile(`(?i)\{\s*"\$[a-z]+"\s*:`), // NoSQL operator injection
}

const maxKeywordLength = 200

// UnknownSource is the label for links that cannot be parsed.
const UnknownSource = "未知來源"

// KnownSources maps a hostname suffix to its display label.
var KnownSources = map[string]string{
	"cnn.com": "CNN News",
}

// ValidateKeyword validates a search keyword.
func ValidateKeyword(keyword string) error {
	k := strings.TrimSpace(keyword)
	if k == "" || utf8.RuneCountInString(k) > maxKeywordLength {
		return NewValidationError("keyword", k, ErrInvalidKeyword)
	}
	for _, pat := range injectionPatterns {
		if pat.MatchString(k) {
			return NewValidationError("keyword", k, ErrInvalidKeyword)
		}
	}
	return nil
}

// ValidateLink requires an absolute http(s) URL.
func ValidateLink(link string) error {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return NewValidationError("link", link, ErrInvalidLink)
	}
	return nil
}

// SourceLabel returns the display label of the site a link points at.
func SourceLabel(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		return UnknownSource
	}
	host := strings.ToLower(u.Hostname())
	for suffix, label := range KnownSources {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return label
		}
	}
	return host
}
