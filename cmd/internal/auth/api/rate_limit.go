package authapi

import (
	"net"
	"time"

	"duo/cmd/internal/ratelimit"
)

type throttle struct {
	byIP   *ratelimit.Pool
	byUser *ratelimit.Pool
}

func newThrottle(cfg Config) throttle {
	return throttle{
		byIP:   ratelimit.New(cfg.LoginIPMax, cfg.LoginIPWindow),
		byUser: ratelimit.New(cfg.LoginUserMax, cfg.LoginUserWindow),
	}
}

// admitIP spends one attempt for ip.
func (t throttle) admitIP(ip net.IP, now time.Time) (bool, time.Duration) {
	if ip == nil {
		return true, 0
	}
	return t.byIP.Allow(ip.String(), now)
}

// userLocked reports whether username has used up its failed attempts.
func (t throttle) userLocked(username string, now time.Time) (bool, time.Duration) {
	return t.byUser.Blocked(loginKey(username), now)
}

func (t throttle) recordFailure(username string, now time.Time) {
	t.byUser.Allow(loginKey(username), now)
}
