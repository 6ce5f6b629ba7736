package router

import (
	"context"
	"time"
)

const (
	defaultPerUser = 10
	defaultPerAddr = 20
	defaultWindow  = 60 * time.Second
)

// Limits caps how many submissions the router accepts per trailing window.
// Counts come from the ledger, so the limit holds across restarts and across
// replicas sharing a database.
type Limits struct {
	// PerUser is the maximum accepted submissions per user. Default 10.
	PerUser int

	// PerAddr is the maximum accepted submissions per client address.
	// Default 20.
	PerAddr int

	// Window is the trailing window the counts cover. Default 60s.
	Window time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.PerUser <= 0 {
		l.PerUser = defaultPerUser
	}
	if l.PerAddr <= 0 {
		l.PerAddr = defaultPerAddr
	}
	if l.Window <= 0 {
		l.Window = defaultWindow
	}
	return l
}

// checkRate returns the scope ("user" or "addr") that is over its cap, or the
// empty string when the submission may proceed. The per-user cap is checked
// first so a single saturated user is reported as such even when the address
// is also hot.
func (rt *Router) checkRate(ctx context.Context, limits Limits, userID, addr string) (string, error) {
	since := rt.now().Add(-limits.Window)

	byUser, err := rt.store.CountAcceptedByUser(ctx, userID, since)
	if err != nil {
		return "", err
	}
	if byUser >= limits.PerUser {
		return "user", nil
	}

	byAddr, err := rt.store.CountAcceptedByAddr(ctx, addr, since)
	if err != nil {
		return "", err
	}
	if byAddr >= limits.PerAddr {
		return "addr", nil
	}
	return "", nil
}
