package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"":               "",
		"Bearer abc":     "abc",
		"bearer  xyz ":   "xyz",
		"Basic dXNlcjpw": "",
		"Bearer":         "",
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if got := BearerToken(req); got != want {
			t.Errorf("BearerToken(%q) = %q; want %q", header, got, want)
		}
	}
}

func TestAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	resolve := func(_ context.Context, tok string) (string, error) {
		if tok == "good" {
			return "u-42", nil
		}
		return "", errors.New("bad token")
	}
	r := gin.New()
	r.GET("/me", Auth(resolve), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})

	tests := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, ""},
		{"invalid", "Bearer nope", http.StatusUnauthorized, ""},
		{"valid", "Bearer good", http.StatusOK, "u-42"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.code {
				t.Fatalf("code = %d; want %d", w.Code, tc.code)
			}
			if tc.code == http.StatusUnauthorized {
				if w.Header().Get("WWW-Authenticate") == "" {
					t.Fatalf("missing WWW-Authenticate header")
				}
				if m := decode(t, w); m["code"] != "unauthorized" {
					t.Fatalf("body = %v", m)
				}
				return
			}
			if w.Body.String() != tc.body {
				t.Fatalf("body = %q; want %q", w.Body.String(), tc.body)
			}
		})
	}
}

func TestUserID_Unauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if UserID(c) != "" {
		t.Fatalf("expected empty user id")
	}
	c.Set(ctxKeyUserID, 7)
	if UserID(c) != "" {
		t.Fatalf("non-string user id should read as empty")
	}
}
