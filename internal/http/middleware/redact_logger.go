// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the structured access logger. It
// attaches a request-scoped zerolog.Logger (see LoggerFrom) and emits one
// line per request with obvious PII and credentials scrubbed:
//
//   - bodies are never logged
//   - emails, phone numbers, UUIDs and JWTs in the query and headers are
//     replaced by markers
//   - Authorization, Cookie, Set-Cookie and Sec-WebSocket-Protocol (which
//     may carry the realtime bearer token) are masked, plus any extra
//     headers named in RedactOptions
//   - the "token" query parameter used by WebSocket clients is masked
//
// 5xx responses log at error, 4xx at warn, everything else at info.
package middleware

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
type RedactOptions struct {
	// MaskHeaders are extra header names (case-insensitive) to mask fully.
	MaskHeaders []string
	// MaskParams are extra query parameter names whose values are masked.
	MaskParams []string
}

var (
	jwtRE   = regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`)
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so hex runs inside UUIDs never match.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// redact scrubs s. Order matters: JWT and UUID before phone, which is the
// loosest pattern.
func redact(s string) string {
	if s == "" {
		return s
	}
	s = jwtRE.ReplaceAllString(s, "[REDACTED:token]")
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// redactQuery masks the named parameters and scrubs the rest. Unparseable
// queries are scrubbed as plain text.
func redactQuery(raw string, masked map[string]struct{}) string {
	if raw == "" {
		return ""
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return redact(raw)
	}
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		_, mask := masked[strings.ToLower(k)]
		for _, v := range vals[k] {
			if mask {
				v = "[REDACTED]"
			}
			parts = append(parts, k+"="+redact(v))
		}
	}
	return strings.Join(parts, "&")
}

func lowerSet(base []string, extra []string) map[string]struct{} {
	out := make(map[string]struct{}, len(base)+len(extra))
	for _, group := range [][]string{base, extra} {
		for _, s := range group {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				out[s] = struct{}{}
			}
		}
	}
	return out
}

// RedactingLogger returns the access-log middleware.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := lowerSet([]string{"authorization", "cookie", "set-cookie", "sec-websocket-protocol"}, opts.MaskHeaders)
	maskParams := lowerSet([]string{"token", "access_token"}, opts.MaskParams)

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := truncate(redactQuery(c.Request.URL.RawQuery, maskParams), maxQueryLogLength)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redact(strings.Join(vv, ", "))
		}

		reqID := c.Writer.Header().Get(HeaderRequestID)
		if reqID == "" {
			reqID = c.GetHeader(HeaderRequestID)
		}
		scoped := log.With().Str("request_id", reqID).Str("method", c.Request.Method).Str("path", path).Logger()
		c.Set(ctxKeyLogger, &scoped)

		c.Next()

		status := c.Writer.Status()
		lg := LoggerFrom(c)
		ev := lg.Info()
		switch {
		case status >= 500:
			ev = lg.Error()
		case status >= 400:
			ev = lg.Warn()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.
			Str("query", safeQuery).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
