package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/koopa0/ragpipe/internal/log"
)

func TestRecoveryMiddleware_NoPanic(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	})

	w := httptest.NewRecorder()
	recoveryMiddleware(log.NewNop())(handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "success" {
		t.Errorf("body = %q, want success", w.Body.String())
	}
}

func TestRecoveryMiddleware_WithPanic(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("test panic")
	})

	w := httptest.NewRecorder()
	recoveryMiddleware(log.NewNop())(handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), "internal server error") {
		t.Errorf("body = %q, want internal server error", w.Body.String())
	}
}

func TestLoggingMiddleware(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := log.NewWithWriter(&buf, log.Config{Level: slog.LevelDebug})

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	loggingMiddleware(logger)(handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	logged := buf.String()
	if !strings.Contains(logged, "http request") || !strings.Contains(logged, "/test") {
		t.Errorf("log output %q missing request line", logged)
	}
}

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	t.Parallel()

	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestID(r.Context())
	})

	w := httptest.NewRecorder()
	requestIDMiddleware(handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if seen == "" {
		t.Error("handler saw no request ID in context")
	}
	if got := w.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("response header %q does not match context ID %q", got, seen)
	}
}

func TestRequestIDMiddleware_HonoursClientID(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Request-ID", "client-chosen")
	w := httptest.NewRecorder()
	requestIDMiddleware(handler).ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-chosen" {
		t.Errorf("X-Request-ID = %q, want client-chosen", got)
	}
}

func TestChain_AppliesInOrder(t *testing.T) {
	t.Parallel()

	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		order = append(order, "handler")
	})

	w := httptest.NewRecorder()
	chain(handler, mark("outer"), mark("inner")).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	want := "outer,inner,handler"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("execution order = %s, want %s", got, want)
	}
}
