package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// MaskValue returns the canonical redacted placeholder for non-empty values. Empty values
// are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// RedactEndpoint strips credentials from RPC endpoints before they are logged.
// Node providers commonly embed API keys as userinfo, query parameters or the
// final path segment.
func RedactEndpoint(endpoint string) string {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return RedactedValue
	}
	if parsed.User != nil {
		parsed.User = url.User(RedactedValue)
	}
	if parsed.RawQuery != "" {
		parsed.RawQuery = "redacted"
	}
	if segments := strings.Split(strings.Trim(parsed.Path, "/"), "/"); len(segments) > 0 && len(segments[len(segments)-1]) >= 24 {
		segments[len(segments)-1] = RedactedValue
		parsed.Path = "/" + strings.Join(segments, "/")
	}
	return parsed.String()
}

// EndpointAttr returns a slog attribute carrying a redacted endpoint.
func EndpointAttr(key, endpoint string) slog.Attr {
	return slog.String(key, RedactEndpoint(endpoint))
}
