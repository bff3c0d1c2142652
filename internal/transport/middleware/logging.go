package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	pkglogger "github.com/frahmantamala/tagfinder/pkg/logger"
	"github.com/go-chi/chi/middleware"
)

// maskedNames are matched as substrings of lowercased header and JSON keys.
var maskedNames = []string{
	"password",
	"token",
	"authorization",
	"secret",
	"key",
	"session",
	"credential",
	"signature",
	"vpa",
	"contact",
}

const (
	maxLoggedBody = 4 << 10
	masked        = "[FILTERED]"
)

// LoggingMiddleware writes one line per request once the handler returns.
// Bodies are logged up to maxLoggedBody with masked fields replaced; the
// handler still reads the full request body.
func LoggingMiddleware(base *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			logger := base
			if l, ok := pkglogger.Lookup(r.Context()); ok {
				logger = l
			}

			var reqBody []byte
			if r.Body != nil {
				reqBody, _ = io.ReadAll(io.LimitReader(r.Body, maxLoggedBody))
				r.Body = struct {
					io.Reader
					io.Closer
				}{io.MultiReader(bytes.NewReader(reqBody), r.Body), r.Body}
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.Log(r.Context(), levelFor(rec.status), "request completed",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"remote_addr", r.RemoteAddr,
				"headers", maskHeaders(r.Header),
				"request_body", maskBody(reqBody),
				"status_code", rec.status,
				"response_bytes", rec.written,
				"response_body", maskBody(rec.body.Bytes()),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// recorder keeps the status and the first maxLoggedBody response bytes.
type recorder struct {
	http.ResponseWriter
	status  int
	written int
	body    bytes.Buffer
}

func (rw *recorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recorder) Write(b []byte) (int, error) {
	if room := maxLoggedBody - rw.body.Len(); room > 0 {
		rw.body.Write(b[:min(room, len(b))])
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.written += n
	return n, err
}

func levelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

func isMasked(name string) bool {
	name = strings.ToLower(name)
	for _, m := range maskedNames {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

func maskHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if isMasked(name) {
			out[name] = masked
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// maskBody returns JSON with masked keys replaced. Anything that does not
// parse, including a body cut at maxLoggedBody, is logged by size only.
func maskBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Sprintf("[%d bytes, not shown]", len(body))
	}
	b, err := json.Marshal(maskValue(doc))
	if err != nil {
		return masked
	}
	return string(b)
}

func maskValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if isMasked(k) {
				t[k] = masked
			} else {
				t[k] = maskValue(child)
			}
		}
	case []interface{}:
		for i, child := range t {
			t[i] = maskValue(child)
		}
	}
	return v
}
