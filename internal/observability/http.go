package observability

import (
	"net"
	"net/http"
	"strings"
)

const (
	HeaderRequestID     = "X-Request-ID"
	HeaderParticipantID = "X-Participant-ID"
	HeaderDeviceID      = "X-Device-Id"
)

func DeviceIDFromRequest(r *http.Request) string {
	return r.Header.Get(HeaderDeviceID)
}

func RequestIDFromRequest(r *http.Request) string {
	if id := RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return r.Header.Get(HeaderRequestID)
}

// ParticipantIDFromRequest returns the acting participant forwarded by the
// upstream gateway.
func ParticipantIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderParticipantID))
}

func IPFromRequest(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
