package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/accsync/kit"
)

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
		}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/runs", nil))

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
	if got := rec.Header().Get("Content-Security-Policy"); got == "" {
		t.Error("CSP not set")
	}
}

func TestRequestID(t *testing.T) {
	// WHAT: The middleware sets the header, the context ID, and a
	// request-scoped logger retrievable via GetLogger.
	var ctxID string
	var hadLogger bool
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = kit.GetRequestID(r.Context())
		hadLogger = GetLogger(r.Context()) != nil
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	headerID := rec.Header().Get("X-Request-ID")
	if headerID == "" || len(headerID) != 8 {
		t.Errorf("X-Request-ID = %q", headerID)
	}
	if ctxID != headerID {
		t.Errorf("context id %q != header id %q", ctxID, headerID)
	}
	if !hadLogger {
		t.Error("no request logger in context")
	}
}

func TestMaxBody(t *testing.T) {
	h := MaxBody(32)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(200)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("PUT", "/config/enabled", strings.NewReader(`{"enabled":true}`)))
	if rec.Code != 200 {
		t.Errorf("small body = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("PUT", "/config/enabled", strings.NewReader(strings.Repeat("x", 64))))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversize body = %d", rec.Code)
	}
}

func TestDefaultAPIStack_Order(t *testing.T) {
	stack := DefaultAPIStack()
	if len(stack) != 3 {
		t.Fatalf("stack size = %d", len(stack))
	}

	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	})
	for i := len(stack) - 1; i >= 0; i-- {
		h = stack[i](h)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Header().Get("X-Request-ID") == "" || rec.Header().Get("X-Frame-Options") == "" {
		t.Error("stack did not apply all middleware")
	}
}
