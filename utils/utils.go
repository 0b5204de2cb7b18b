package utils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode"
)

// MaskAPIKey hides the middle of an API key, keeping the first and last five
// characters visible so operators can tell configured keys apart. Short keys
// are masked entirely.
func MaskAPIKey(key string) string {
	if len(key) > 10 {
		return key[:5] + "..." + key[len(key)-5:]
	}
	return "***"
}

// RedactAuthorization redacts an Authorization header value for logging.
// Bearer tokens keep a short prefix and suffix; anything else is starred out.
func RedactAuthorization(auth string) string {
	if strings.HasPrefix(auth, "Bearer ") && len(auth) > 29 {
		return auth[:10] + "..." + auth[len(auth)-4:]
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return r
		}
		return '*'
	}, auth)
}

// WriteJSONError writes an {"error": ...} body with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": fmt.Sprintf(format, args...)}) //nolint:errcheck
}

// ResponseRecorder wraps an http.ResponseWriter and records the status code
// and byte count written through it. Flush is forwarded so streaming
// responses keep flowing while wrapped.
type ResponseRecorder struct {
	http.ResponseWriter
	StatusCode int
	Bytes      int64
}

// NewResponseRecorder wraps w. The status defaults to 200, matching net/http
// when a handler writes a body without calling WriteHeader.
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, StatusCode: http.StatusOK}
}

// WriteHeader records the status before delegating.
func (r *ResponseRecorder) WriteHeader(code int) {
	r.StatusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Write counts bytes before delegating.
func (r *ResponseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.Bytes += int64(n)
	return n, err
}

// Flush forwards to the underlying writer when it supports flushing.
func (r *ResponseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
