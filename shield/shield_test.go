package shield

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/vscd/kit"
)

func ok(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(http.HandlerFunc(ok))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pages", nil))

	for k, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
}

func TestMaxBody(t *testing.T) {
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("small body = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"action":"faster"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("large body = %d", rec.Code)
	}
}

func TestRequestLogger_UsesChiRequestID(t *testing.T) {
	var gotID, gotTransport string
	var gotLogger bool
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		gotID = kit.GetRequestID(r.Context())
		gotTransport = kit.GetTransport(r.Context())
		gotLogger = r.Context().Value(LoggerKey) != nil
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	r.ServeHTTP(rec, req)

	if gotID != "req-42" || rec.Header().Get("X-Request-ID") != "req-42" {
		t.Fatalf("request id = %q header = %q", gotID, rec.Header().Get("X-Request-ID"))
	}
	if gotTransport != "http" || !gotLogger {
		t.Fatalf("transport = %q logger = %v", gotTransport, gotLogger)
	}
}

func TestRequestLogger_GeneratesID(t *testing.T) {
	h := RequestLogger(nil)(http.HandlerFunc(ok))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("no request id generated")
	}
}

func TestGetLogger_Default(t *testing.T) {
	if GetLogger(context.Background()) != slog.Default() {
		t.Fatal("expected the default logger")
	}
}

func TestRateLimiter_PerIP(t *testing.T) {
	rl := NewRateLimiter(RateConfig{PerSecond: 1, Burst: 2}, "/healthz")
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }
	h := rl.Middleware(http.HandlerFunc(ok))

	do := func(path, ip string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if c := do("/pages", "10.0.0.1"); c != http.StatusOK {
			t.Fatalf("request %d = %d", i, c)
		}
	}
	if c := do("/pages", "10.0.0.1"); c != http.StatusTooManyRequests {
		t.Fatalf("over burst = %d, want 429", c)
	}
	if c := do("/pages", "10.0.0.2"); c != http.StatusOK {
		t.Fatalf("other client = %d", c)
	}
	if c := do("/healthz", "10.0.0.1"); c != http.StatusOK {
		t.Fatalf("excluded path = %d", c)
	}

	now = now.Add(time.Second)
	if c := do("/pages", "10.0.0.1"); c != http.StatusOK {
		t.Fatalf("after refill = %d", c)
	}
}

func TestRateLimiter_ForgetsIdleClients(t *testing.T) {
	rl := NewRateLimiter(RateConfig{PerSecond: 1, Burst: 1, TTL: time.Minute})
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	rl.allow("a")
	now = now.Add(2 * time.Minute)
	rl.allow("b")
	if _, ok := rl.clients["a"]; ok {
		t.Fatal("idle client kept")
	}
	if len(rl.clients) != 1 {
		t.Fatalf("clients = %d", len(rl.clients))
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", " 1.2.3.4 , 5.6.7.8")
	if ip := ExtractIP(req); ip != "1.2.3.4" {
		t.Fatalf("ip = %q", ip)
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "9.9.9.9:80"
	if ip := ExtractIP(req); ip != "9.9.9.9" {
		t.Fatalf("ip = %q", ip)
	}
}

func TestAPIStack(t *testing.T) {
	stack := APIStack(nil, DefaultRate())
	if len(stack) != 4 {
		t.Fatalf("stack = %d", len(stack))
	}
}
