package mqtt

import (
	"fmt"
	"net/url"
	"strings"
)

// expected: {prefix}/session/{sessionId}/{kind}/...
func ParseSessionID(topic, prefix string) (string, error) {
	parts := strings.Split(topic, "/")
	prefixParts := strings.Split(prefix, "/")
	if len(parts) < len(prefixParts)+3 {
		return "", fmt.Errorf("invalid topic: %s", topic)
	}
	for i, p := range prefixParts {
		if parts[i] != p {
			return "", fmt.Errorf("topic prefix mismatch: %s", topic)
		}
	}
	if parts[len(prefixParts)] != "session" {
		return "", fmt.Errorf("invalid topic pattern: %s", topic)
	}
	raw := parts[len(prefixParts)+1]
	if raw == "" || raw == "+" || raw == "#" {
		return "", fmt.Errorf("invalid session id in topic: %s", topic)
	}
	id, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("invalid session id in topic: %s: %w", topic, err)
	}
	return id, nil
}
