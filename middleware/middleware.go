// Package middleware supplies request correlation for net/http
// services: an inbound middleware that binds a context frame (trace
// and span ids, request metadata) for the enrichers to read, and an
// outbound RoundTripper that forwards the trace id to downstream
// services.
package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/flume/logctx"
)

// TraceHeader is the inbound/outbound trace id header.
const TraceHeader = "X-Request-ID"

// Trace wraps a handler so every request runs with a bound context
// frame. An incoming X-Request-ID is honored; otherwise a fresh trace
// id is generated. The trace id is echoed on the response. The frame
// handlers see holds the trace and span ids and the request metadata.
// Status code, latency and response size are measured after the handler
// returns and bound onto a context that is not passed on, so they do
// not appear in any frame a logger reads.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		spanID := uuid.NewString()[:16]

		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		rec.Header().Set(TraceHeader, traceID)

		ctx := logctx.Bind(r.Context(), logctx.Frame{
			logctx.KeyTraceID:   traceID,
			logctx.KeySpanID:    spanID,
			logctx.KeyMethod:    r.Method,
			logctx.KeyPath:      r.URL.Path,
			logctx.KeyClientIP:  clientIP(r),
			logctx.KeyUserAgent: userAgent(r),
			logctx.KeyReqBytes:  requestBytes(r),
		})

		// Handlers log mid-request with the identity frame. The
		// response fields below are bound onto a derived context that
		// is discarded, so no caller observes them.
		next.ServeHTTP(rec, r.WithContext(ctx))

		_ = logctx.Bind(ctx, logctx.Frame{
			logctx.KeyStatusCode: rec.status,
			logctx.KeyResBytes:   rec.bytes,
			logctx.KeyLatencyMS:  float64(time.Since(start).Microseconds()) / 1000.0,
		})
	})
}

// responseRecorder captures status and body size.
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func userAgent(r *http.Request) string {
	if ua := r.Header.Get("User-Agent"); ua != "" {
		return ua
	}
	return "-"
}

func requestBytes(r *http.Request) int {
	if r.ContentLength > 0 {
		return int(r.ContentLength)
	}
	if cl := r.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.Atoi(cl); err == nil {
			return n
		}
	}
	return 0
}

// Transport is an http.RoundTripper that forwards the current trace id
// on outbound requests, so downstream services join the same trace.
type Transport struct {
	// Base is the underlying transport; nil means
	// http.DefaultTransport.
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	if traceID := logctx.TraceID(req.Context()); traceID != "" && req.Header.Get(TraceHeader) == "" {
		req = req.Clone(req.Context())
		req.Header.Set(TraceHeader, traceID)
	}
	return base.RoundTrip(req)
}
