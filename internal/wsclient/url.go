package wsclient

import (
	"net/url"
	"strings"
)

const DefaultPath = "/api/v1/ws"

// BuildURL turns an http(s), ws(s) or bare host base into a websocket URL and
// appends the path and, when set, the user id as a final path segment.
func BuildURL(base, path, userID string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
	default:
		base = "ws://" + base
	}

	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	u := base + strings.TrimRight(path, "/")
	if userID = strings.TrimSpace(userID); userID != "" {
		u += "/" + url.PathEscape(userID)
	}
	return u
}

// TaskPath is the path of the per-task channel.
func TaskPath(taskID string) string {
	return DefaultPath + "/tasks/" + url.PathEscape(taskID)
}
