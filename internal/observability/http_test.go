package observability

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", IPFromRequest(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", IPFromRequest(req))
}

func TestRequestIDPrefersContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderRequestID, "from-header")
	assert.Equal(t, "from-header", RequestIDFromRequest(req))

	req = req.WithContext(WithRequestID(req.Context(), "from-ctx"))
	assert.Equal(t, "from-ctx", RequestIDFromRequest(req))
}

func TestHeadersFromContext(t *testing.T) {
	assert.Empty(t, HeadersFromContext(context.Background()))

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(WithRequestID(context.Background(), "req-1"), sc)

	assert.Equal(t, map[string]string{
		"x-request-id": "req-1",
		"trace_id":     "4bf92f3577b34da6a3ce929d0e0e4736",
	}, HeadersFromContext(ctx))
}
