package analyzer

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// MaxURLLength is the longest raw input Normalize accepts, in characters.
const MaxURLLength = 255

// Normalize turns a user-supplied URL into the canonical scheme://host name
// of its site. Path, query, fragment, credentials and default ports are
// dropped, so every page of a site maps to the same name. Default ports are
// stripped too: http://host:80 and http://host name one site.
func Normalize(raw string) (string, error) {
	if utf8.RuneCountInString(raw) > MaxURLLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidURL, MaxURLLength)
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}

	host := strings.ToLower(strings.TrimSpace(u.Host))
	if u.Hostname() == "" || strings.ContainsAny(host, " \t") {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	host = strings.TrimSuffix(host, ":")

	return scheme + "://" + host, nil
}
