package handlers

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/johnwmail/pastebin-lite/config"
)

// baseURL returns the configured public URL, or one derived from the request
func baseURL(c *gin.Context, cfg *config.Config) string {
	if cfg.BaseURL != "" {
		return strings.TrimRight(cfg.BaseURL, "/")
	}

	scheme := "http"
	if isHTTPS(c) || forceHTTPS(c.Request.Host, cfg.HTTPSHosts()) {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Request.Host)
}

// pasteURL is the absolute address of the HTML view of a paste
func pasteURL(c *gin.Context, cfg *config.Config, id string) string {
	return fmt.Sprintf("%s/p/%s", baseURL(c, cfg), id)
}

// forceHTTPS reports whether host belongs to a platform that terminates TLS
// in front of us without always setting forwarding headers
func forceHTTPS(host string, hosts []string) bool {
	host = strings.ToLower(host)
	for _, h := range hosts {
		if h != "" && strings.Contains(host, h) {
			return true
		}
	}
	return false
}

// isHTTPS detects if the original request was HTTPS, even behind proxies
func isHTTPS(c *gin.Context) bool {
	// Direct TLS connection
	if c.Request.TLS != nil {
		return true
	}

	// Check common proxy headers for original protocol
	for _, header := range []string{"X-Forwarded-Proto", "X-Forwarded-Protocol", "X-Forwarded-Scheme", "X-Scheme", "CloudFront-Forwarded-Proto"} {
		if strings.EqualFold(c.GetHeader(header), "https") {
			return true
		}
	}
	if c.GetHeader("X-Forwarded-Ssl") == "on" || c.GetHeader("X-Forwarded-Https") == "on" {
		return true
	}

	return false
}
