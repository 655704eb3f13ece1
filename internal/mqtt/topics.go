package mqtt

import (
	"fmt"
	"strings"
)

// topicIDEscaper keeps caller-supplied ids a single literal topic level.
var topicIDEscaper = strings.NewReplacer("%", "%25", "/", "%2F", "+", "%2B", "#", "%23")

func escapeTopicID(id string) string {
	return topicIDEscaper.Replace(id)
}

func TopicSessionStopAll(prefix string) string {
	return fmt.Sprintf("%s/session/+/stop", prefix)
}

func TopicSessionStop(prefix, sessionID string) string {
	return fmt.Sprintf("%s/session/%s/stop", prefix, escapeTopicID(sessionID))
}

func TopicSessionEvent(prefix, sessionID, kind string) string {
	return fmt.Sprintf("%s/session/%s/event/%s", prefix, escapeTopicID(sessionID), kind)
}

func TopicBridgeOnline(prefix, clientID string) string {
	return fmt.Sprintf("%s/bridge/%s/online", prefix, clientID)
}
