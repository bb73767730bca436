package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// HTTPTestHelper provides utilities for HTTP testing.
type HTTPTestHelper struct {
	Handler http.Handler
	Headers map[string]string
}

// NewHTTPTestHelper creates a new HTTP test helper.
func NewHTTPTestHelper(handler http.Handler) *HTTPTestHelper {
	return &HTTPTestHelper{Handler: handler, Headers: map[string]string{}}
}

// WithBearer returns a copy of the helper that sends token on every request.
func (h *HTTPTestHelper) WithBearer(token string) *HTTPTestHelper {
	headers := make(map[string]string, len(h.Headers)+1)
	for k, v := range h.Headers {
		headers[k] = v
	}
	headers["Authorization"] = "Bearer " + token
	return &HTTPTestHelper{Handler: h.Handler, Headers: headers}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// A []byte or string body is sent raw; anything else is JSON encoded.
func (h *HTTPTestHelper) MakeRequest(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		reqBody = b
	case string:
		reqBody = []byte(b)
	default:
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			panic(err)
		}
	}

	req := httptest.NewRequest(method, path, bytes.NewBuffer(reqBody))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	rr := httptest.NewRecorder()
	h.Handler.ServeHTTP(rr, req)
	return rr
}

// DecodeJSON decodes the recorded body into target, failing the test on error.
func DecodeJSON(t *testing.T, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
}

// AssertStatus fails the test when the recorded status differs from want.
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}
