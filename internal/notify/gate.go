package notify

import (
	"time"

	"supportbridge/internal/botstate"
)

// MayNotify decides whether a conversation may be interrupted right now.
//
// A conversation that has opted in (AllowNotifications) is always fair game.
// Otherwise the user is presumed mid-dialog and is only interrupted once the
// conversation has been quiet for strictly longer than idleTimeout. With a
// zero idleTimeout any measurable quiet period qualifies.
func MayNotify(st botstate.State, idleTimeout time.Duration, now time.Time) bool {
	if st.AllowNotifications {
		return true
	}
	return now.Sub(st.LastActivity) > idleTimeout
}
