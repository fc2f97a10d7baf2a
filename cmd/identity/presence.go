package identity

import (
	"time"

	"github.com/dustin/go-humanize"
)

const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusOffline = "offline"

	onlineWindow = 5 * time.Minute
	awayWindow   = 60 * time.Minute
)

type Presence struct {
	Status   string `json:"status"`
	LastSeen string `json:"last_seen"`
}

// PresenceAt classifies lastActive relative to now.
func PresenceAt(lastActive, now time.Time) Presence {
	if lastActive.IsZero() {
		return Presence{Status: StatusOffline, LastSeen: "never"}
	}
	since := now.Sub(lastActive)

	p := Presence{LastSeen: humanize.RelTime(lastActive, now, "ago", "from now")}
	switch {
	case since <= onlineWindow:
		p.Status = StatusOnline
	case since < awayWindow:
		p.Status = StatusAway
	default:
		p.Status = StatusOffline
	}
	return p
}
