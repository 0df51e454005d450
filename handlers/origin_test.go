package handlers

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newOriginContext(host string, headers map[string]string, hasTLS bool) *gin.Context {
	req, _ := http.NewRequest("GET", "/", nil)
	req.Host = host
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if hasTLS {
		req.TLS = &tls.ConnectionState{}
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	return c
}

func TestIsHTTPS(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		hasTLS  bool
		want    bool
	}{
		{name: "direct TLS connection", hasTLS: true, want: true},
		{name: "X-Forwarded-Proto https", headers: map[string]string{"X-Forwarded-Proto": "https"}, want: true},
		{name: "X-Forwarded-Proto uppercase", headers: map[string]string{"X-Forwarded-Proto": "HTTPS"}, want: true},
		{name: "X-Forwarded-Protocol https", headers: map[string]string{"X-Forwarded-Protocol": "https"}, want: true},
		{name: "X-Forwarded-Scheme https", headers: map[string]string{"X-Forwarded-Scheme": "https"}, want: true},
		{name: "X-Scheme https", headers: map[string]string{"X-Scheme": "https"}, want: true},
		{name: "CloudFront-Forwarded-Proto https", headers: map[string]string{"CloudFront-Forwarded-Proto": "https"}, want: true},
		{name: "X-Forwarded-Ssl on", headers: map[string]string{"X-Forwarded-Ssl": "on"}, want: true},
		{name: "X-Forwarded-Https on", headers: map[string]string{"X-Forwarded-Https": "on"}, want: true},
		{name: "X-Forwarded-Proto http", headers: map[string]string{"X-Forwarded-Proto": "http"}, want: false},
		{name: "no indicators - plain HTTP", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newOriginContext("example.com", tt.headers, tt.hasTLS)
			if got := isHTTPS(c); got != tt.want {
				t.Errorf("isHTTPS() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		host    string
		headers map[string]string
		want    string
	}{
		{name: "configured base url wins", baseURL: "https://paste.example.org/", host: "internal:8080", want: "https://paste.example.org"},
		{name: "plain request", host: "localhost:8080", want: "http://localhost:8080"},
		{name: "proxied https", host: "paste.example.org", headers: map[string]string{"X-Forwarded-Proto": "https"}, want: "https://paste.example.org"},
		{name: "railway host forced", host: "pastebin-production.up.railway.app", want: "https://pastebin-production.up.railway.app"},
		{name: "vercel host forced", host: "PASTEBIN.VERCEL.APP", want: "https://PASTEBIN.VERCEL.APP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.BaseURL = tt.baseURL
			c := newOriginContext(tt.host, tt.headers, false)
			if got := baseURL(c, cfg); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestBaseURL_NoForcedHosts(t *testing.T) {
	cfg := testConfig()
	cfg.ForceHTTPSHosts = ""
	c := newOriginContext("app.up.railway.app", nil, false)
	if got := baseURL(c, cfg); got != "http://app.up.railway.app" {
		t.Errorf("expected plain http, got %q", got)
	}
}

func TestPasteURL(t *testing.T) {
	cfg := testConfig()
	cfg.BaseURL = "https://paste.example.org"
	c := newOriginContext("example.com", nil, false)
	if got := pasteURL(c, cfg, "abc"); got != "https://paste.example.org/p/abc" {
		t.Errorf("expected https://paste.example.org/p/abc, got %q", got)
	}
}
