package utils

import (
	"net/url"
)

// IsHTTP reports whether rawURL is an absolute http or https URL with a host.
func IsHTTP(rawURL string) bool {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (parsedURL.Scheme == "http" || parsedURL.Scheme == "https") && parsedURL.Host != ""
}
