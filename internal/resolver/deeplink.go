package resolver

import (
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/lanecast/lanecast/internal/model"
)

// DeeplinkBuilder turns an event into a client deeplink. Pluggable so a
// deployment can swap the default ESPN short form for another scheme.
type DeeplinkBuilder func(ev model.Event) string

// ShortDeeplink is the default builder:
// sportscenter://x-callback-url/showWatchStream?playID=<play_id>.
func ShortDeeplink(ev model.Event) string {
	return "sportscenter://x-callback-url/showWatchStream?playID=" + url.QueryEscape(ev.PlayID())
}

// eventUID extracts the first UUID-shaped segment of an event id.
// Event ids arrive as "<play_id>[:<feed_id>]" where the play id is
// usually a UUID; when no segment parses, the play id is returned as-is.
func eventUID(eventID string) string {
	for _, part := range strings.Split(eventID, ":") {
		if u, err := uuid.Parse(part); err == nil {
			return u.String()
		}
	}
	if i := strings.IndexByte(eventID, ':'); i >= 0 {
		return eventID[:i]
	}
	return eventID
}
