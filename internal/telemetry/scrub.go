package telemetry

import "net/url"

// sensitiveQueryKeys are substituted with [REDACTED] before a network
// request's URL enters any record (§4.2, §9).
var sensitiveQueryKeys = map[string]bool{
	"token":        true,
	"key":          true,
	"secret":       true,
	"password":     true,
	"auth":         true,
	"access_token": true,
	"api_key":      true,
}

// ScrubURL redacts well-known sensitive query parameter values in rawURL.
// Malformed URLs are returned unchanged rather than dropped, since a
// network_request record is still useful without query scrubbing applied.
func ScrubURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := parsed.Query()
	changed := false
	for key := range query {
		if sensitiveQueryKeys[normalizeQueryKey(key)] {
			for i := range query[key] {
				query[key][i] = "[REDACTED]"
			}
			changed = true
		}
	}
	if !changed {
		return rawURL
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func normalizeQueryKey(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
