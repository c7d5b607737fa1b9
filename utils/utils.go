package utils

import (
	"net/url"
)

// RedactURL hides the password of a broker or backend URL so it can be logged.
// Strings that do not parse as URLs, like "eager", are returned unchanged.
func RedactURL(urlString string) string {
	u, err := url.Parse(urlString)
	if err != nil {
		return urlString
	}
	return u.Redacted()
}
