package dispatcher

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

type fakeStatusReader struct {
	values map[string][]byte
	err    error
}

func (f *fakeStatusReader) Get(key string) ([]byte, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	v, ok := f.values[key]
	return v, ok, nil
}

func echoHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

func TestRejectsHead(t *testing.T) {
	h := Dispatch(echoHandler(http.StatusOK), Options{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodHead, "/2.0/1/info/collections", nil)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for HEAD, got %d", rr.Code)
	}
}

func TestAlwaysStampsTimestamp(t *testing.T) {
	h := Dispatch(echoHandler(http.StatusOK), Options{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/2.0/1/info/collections", nil)
	h.ServeHTTP(rr, req)
	if rr.Header().Get("X-Timestamp") == "" {
		t.Errorf("expected X-Timestamp header on every response")
	}
}

func TestDefaultsAcceptHeader(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
	})
	h := Dispatch(inner, Options{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/2.0/1/info/collections", nil)
	h.ServeHTTP(rr, req)
	if seen != "application/json, */*;q=0.9" {
		t.Errorf("Accept = %q, want the default", seen)
	}
}

func TestNodeStatusDownReturns503(t *testing.T) {
	reader := &fakeStatusReader{values: map[string][]byte{"status:node1": []byte("down")}}
	h := Dispatch(echoHandler(http.StatusOK), Options{Cache: reader, CheckNodeStatus: true})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/2.0/1/info/collections", nil)
	req.Host = "node1"
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Errorf("expected Retry-After on a node-status 503")
	}
}

func TestNodeStatusBackoffAddsHeaderButProceeds(t *testing.T) {
	reader := &fakeStatusReader{values: map[string][]byte{"status:node1": []byte("backoff:7")}}
	h := Dispatch(echoHandler(http.StatusOK), Options{Cache: reader, CheckNodeStatus: true})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/2.0/1/info/collections", nil)
	req.Host = "node1"
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected request to proceed on backoff, got %d", rr.Code)
	}
	if rr.Header().Get("X-Backoff") != "7" {
		t.Errorf("X-Backoff = %q, want 7", rr.Header().Get("X-Backoff"))
	}
}

func TestUnknownStatusProceedsNormally(t *testing.T) {
	reader := &fakeStatusReader{}
	h := Dispatch(echoHandler(http.StatusOK), Options{Cache: reader, CheckNodeStatus: true})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/2.0/1/info/collections", nil)
	req.Host = "node1"
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on a clean miss, got %d", rr.Code)
	}
}

func TestControllerServedServiceUnavailableGetsRetryAfter(t *testing.T) {
	h := Dispatch(echoHandler(http.StatusServiceUnavailable), Options{Log: zerolog.Nop()})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/2.0/1/info/collections", nil)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 to pass through, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Errorf("expected Retry-After on a controller-originated 503")
	}
}
