package utils

import (
	"net/url"
	"strings"
)

// RedactURL hides the password in a connection string so it can be logged.
// Both URL style DSNs and the mysql "user:pass@tcp(host)/db" form are handled.
func RedactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		return u.Redacted()
	}

	at := strings.LastIndex(raw, "@")
	if at < 0 {
		return raw
	}
	creds := raw[:at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return creds[:colon] + ":xxxxx" + raw[at:]
	}
	return raw
}
