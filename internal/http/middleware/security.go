// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, which attaches a conservative set of
// response headers for a JSON API behind a reverse proxy. Uploaded blobs are
// served from the same origin, so responses under SandboxPrefix also get a
// locked-down Content-Security-Policy and are never sniffed into HTML.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	EnableHSTS   bool          // only when traffic is HTTPS end-to-end
	HSTSMaxAge   time.Duration // defaults to 180 days
	NoStore      bool          // Cache-Control: no-store on every response
	EnablePolicy bool          // Permissions-Policy and friends
	// SandboxPrefix marks user-content paths (e.g. "/uploads").
	SandboxPrefix string
}

// sandboxCSP forbids scripts and subresources in user content.
const sandboxCSP = "default-src 'none'; img-src 'self'; media-src 'self'; sandbox"

// SecurityHeaders returns the hardening middleware.
//
// Always: X-Content-Type-Options nosniff, X-Frame-Options DENY,
// Referrer-Policy no-referrer. HSTS is sent only for HTTPS requests.
// X-Request-ID is added to Access-Control-Expose-Headers when present.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int64(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int64((180 * 24 * time.Hour).Seconds())
	}
	hsts := "max-age=" + strconv.FormatInt(maxAge, 10) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		if opt.SandboxPrefix != "" && strings.HasPrefix(c.Request.URL.Path, opt.SandboxPrefix+"/") {
			h.Set("Content-Security-Policy", sandboxCSP)
			h.Set("Cross-Origin-Resource-Policy", "same-site")
		}

		if rid := h.Get(HeaderRequestID); rid != "" {
			const hdr = "Access-Control-Expose-Headers"
			switch cur := h.Get(hdr); {
			case cur == "":
				h.Set(hdr, HeaderRequestID)
			case !strings.Contains(cur, HeaderRequestID):
				h.Set(hdr, cur+", "+HeaderRequestID)
			}
		}

		c.Next()
	}
}

// isHTTPS reports whether r arrived over TLS directly or through a proxy
// that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
