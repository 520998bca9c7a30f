package observability

import (
	"net"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// RequestMeta is the correlation data copied onto events and audit records.
type RequestMeta struct {
	RequestID string
	TraceID   string
	DeviceID  string
	IP        string
}

// MetaFromRequest reads correlation headers and the active span of r.
func MetaFromRequest(r *http.Request) RequestMeta {
	meta := RequestMeta{
		RequestID: r.Header.Get("X-Request-Id"),
		DeviceID:  r.Header.Get("X-Device-Id"),
		IP:        clientIP(r),
	}
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		meta.TraceID = sc.TraceID().String()
	}
	return meta
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-Ip.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-Ip")); real != "" {
		return real
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
