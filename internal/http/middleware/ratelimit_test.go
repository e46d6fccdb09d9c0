package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"
)

// limitedEngine mounts rl behind a stub that sets the user id from the
// X-Test-User header, mimicking Auth.
func limitedEngine(rl *RateLimiter, pre ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Header(HeaderRequestID, "rid-rl")
		if uid := c.GetHeader("X-Test-User"); uid != "" {
			c.Set(ctxKeyUserID, uid)
		}
		c.Next()
	})
	r.Use(pre...)
	r.Use(rl.Handler())
	r.POST("/api/v1/messages/:id", func(c *gin.Context) { c.Status(http.StatusCreated) })
	return r
}

func sendAs(r *gin.Engine, user, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages/bob", nil)
	req.RemoteAddr = ip + ":40000"
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestKeyByUserOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	c.Request.RemoteAddr = "203.0.113.9:12345"

	if got := KeyByUserOrIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("anonymous key = %q", got)
	}
	c.Set(ctxKeyUserID, "alice")
	if got := KeyByUserOrIP()(c); got != "user:alice" {
		t.Fatalf("authenticated key = %q", got)
	}
}

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil)
	r := limitedEngine(rl)
	before := testutil.ToFloat64(rateLimited.WithLabelValues("user"))

	for i := 0; i < 2; i++ {
		if w := sendAs(r, "alice", "198.51.100.1"); w.Code != http.StatusCreated {
			t.Fatalf("send %d = %d", i, w.Code)
		}
	}
	w := sendAs(r, "alice", "198.51.100.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third send = %d; want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Fatalf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
	var body struct {
		RequestID string `json:"request_id"`
		Code      string `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Code != "rate_limited" || body.RequestID != "rid-rl" {
		t.Fatalf("body = %+v", body)
	}
	if got := testutil.ToFloat64(rateLimited.WithLabelValues("user")); got != before+1 {
		t.Fatalf("user rejections = %v; want %v", got, before+1)
	}
}

func TestRateLimiter_SeparateBuckets(t *testing.T) {
	r := limitedEngine(NewRateLimiter(0.001, 1, nil))

	steps := []struct {
		user, ip string
		want     int
	}{
		{"alice", "198.51.100.1", http.StatusCreated},
		{"bob", "198.51.100.1", http.StatusCreated},
		{"alice", "198.51.100.2", http.StatusTooManyRequests},
		{"", "198.51.100.3", http.StatusCreated},
		{"", "198.51.100.3", http.StatusTooManyRequests},
		{"", "198.51.100.4", http.StatusCreated},
	}
	for i, s := range steps {
		if w := sendAs(r, s.user, s.ip); w.Code != s.want {
			t.Fatalf("step %d (%q@%s) = %d; want %d", i, s.user, s.ip, w.Code, s.want)
		}
	}
}

func TestRateLimiter_ReplaysBypass(t *testing.T) {
	replay := func(c *gin.Context) { c.Set(ctxKeyRateBypass, true); c.Next() }
	r := limitedEngine(NewRateLimiter(0.001, 1, nil), replay)

	for i := 0; i < 3; i++ {
		if w := sendAs(r, "alice", "198.51.100.1"); w.Code != http.StatusCreated {
			t.Fatalf("replay %d = %d", i, w.Code)
		}
	}
}

func TestIsRateBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	for _, tc := range []struct {
		val  any
		want bool
	}{
		{nil, false},
		{true, true},
		{"yes", false},
	} {
		if tc.val != nil {
			c.Set(ctxKeyRateBypass, tc.val)
		}
		if got := IsRateBypass(c); got != tc.want {
			t.Fatalf("IsRateBypass(%v) = %v", tc.val, got)
		}
	}
}

func TestRateLimiter_BurstFloorAndReuse(t *testing.T) {
	rl := NewRateLimiter(2, -3, nil)
	if rl.burst != 1 {
		t.Fatalf("burst = %d; want 1", rl.burst)
	}
	if rl.limiterFor("user:alice") != rl.limiterFor("user:alice") {
		t.Fatal("bucket not reused")
	}
}

func TestRateLimiter_SweepDropsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)

	rl.mu.Lock()
	rl.buckets["user:gone"] = &bucket{limiter: rate.NewLimiter(1, 1), lastSeen: time.Now().Add(-2 * bucketIdleTTL)}
	rl.buckets["user:recent"] = &bucket{limiter: rate.NewLimiter(1, 1), lastSeen: time.Now()}
	rl.lookups = sweepEvery - 1
	rl.mu.Unlock()

	rl.limiterFor("user:new")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.buckets["user:gone"]; ok {
		t.Fatal("idle bucket survived sweep")
	}
	for _, k := range []string{"user:recent", "user:new"} {
		if _, ok := rl.buckets[k]; !ok {
			t.Fatalf("bucket %s missing", k)
		}
	}
	if rl.lookups != 0 {
		t.Fatalf("lookups = %d after sweep", rl.lookups)
	}
}

func TestRateLimiter_RetryAfter(t *testing.T) {
	cases := map[float64]string{0.25: "4", 0.4: "3", 1: "1", 20: "1", 0: "1"}
	for rps, want := range cases {
		if got := NewRateLimiter(rps, 1, nil).retryAfter(); got != want {
			t.Errorf("retryAfter(%v rps) = %q; want %q", rps, got, want)
		}
	}
}
