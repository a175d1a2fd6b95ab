package middleware_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/a-essam23/pairpad/internal/server/middleware"
)

func newTestLogger() *slog.Logger {
	// Discard logger output during tests by setting a high level
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// newLimitedHandler chains the limiter behind the metadata middleware, the
// same order the server wires for /ws.
func newLimitedHandler(perSecond float64, burst int) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return middleware.Chain(inner,
		middleware.RequestMetadataMiddleware(),
		middleware.NewAcceptLimiter(newTestLogger(), perSecond, burst),
	)
}

func hit(h http.Handler, remoteAddr string) int {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestAcceptLimiterRejectsFlood(t *testing.T) {
	h := newLimitedHandler(1, 3)

	for i := 0; i < 3; i++ {
		if code := hit(h, "10.0.0.1:50000"); code != http.StatusOK {
			t.Fatalf("Request %d within burst should pass, got %d", i+1, code)
		}
	}
	if code := hit(h, "10.0.0.1:50000"); code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429 once the burst is exhausted, got %d", code)
	}
}

func TestAcceptLimiterIsPerIP(t *testing.T) {
	h := newLimitedHandler(1, 1)

	if code := hit(h, "10.0.0.1:50000"); code != http.StatusOK {
		t.Fatalf("First request should pass, got %d", code)
	}
	// Same IP on a different source port shares the bucket.
	if code := hit(h, "10.0.0.1:50001"); code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429 for the same IP, got %d", code)
	}
	// A different IP has its own bucket and is unaffected by the flood.
	if code := hit(h, "10.0.0.2:50000"); code != http.StatusOK {
		t.Fatalf("Other IPs must not be limited, got %d", code)
	}
}

func TestAcceptLimiterDisabledWhenNonPositive(t *testing.T) {
	h := newLimitedHandler(0, 0)

	for i := 0; i < 50; i++ {
		if code := hit(h, "10.0.0.1:50000"); code != http.StatusOK {
			t.Fatalf("Disabled limiter rejected request %d with %d", i+1, code)
		}
	}
}
