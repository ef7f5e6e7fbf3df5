package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// SanitizeHost renders a portal host into a filesystem-safe cache file stem,
// replacing each of the characters the player's config dir cannot carry with
// a dot.
func SanitizeHost(host string) string {
	sanitized := host
	for _, c := range []string{"/", "?", "<", ">", "\\", ":", "*", "|"} {
		sanitized = strings.ReplaceAll(sanitized, c, ".")
	}
	return sanitized
}

// SanitizeURLStem renders a source URL into a cache file stem by replacing
// the scheme separator and path separators with dots.
func SanitizeURLStem(rawURL string) string {
	stem := strings.ReplaceAll(rawURL, "://", ".")
	return strings.ReplaceAll(stem, "/", ".")
}

// ObfuscateURL masks the path and query of a URL for logging. Portal URLs
// routinely carry credentials in the query string.
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}
	return result
}

// LogURL returns either the original URL or an obfuscated version for logging
func LogURL(obfuscate bool, url string) string {
	if obfuscate {
		return ObfuscateURL(url)
	}
	return url
}

// AgeString renders the days elapsed since a timestamp the way the cache
// panel shows it: "today", "1 day ago", "N days ago".
func AgeString(days int) string {
	switch {
	case days <= 0:
		return "today"
	case days == 1:
		return "1 day ago"
	default:
		return fmt.Sprintf("%d days ago", days)
	}
}
