package checkin

import (
	"time"

	"kilnstudio/internal/pkg/timeslot"
)

// CustomerLeeway is how far before and after the session start a customer
// may check themselves in.
const CustomerLeeway = 2 * time.Hour

// Window is a check-in interval. Closes is inclusive unless
// ClosesExclusive is set.
type Window struct {
	Opens           time.Time `json:"opens"`
	Closes          time.Time `json:"closes"`
	ClosesExclusive bool      `json:"closes_exclusive,omitempty"`
}

func (w Window) Contains(t time.Time) bool {
	if t.Before(w.Opens) {
		return false
	}
	if w.ClosesExclusive {
		return t.Before(w.Closes)
	}
	return !t.After(w.Closes)
}

func CustomerWindow(sessionStart time.Time) Window {
	return Window{Opens: sessionStart.Add(-CustomerLeeway), Closes: sessionStart.Add(CustomerLeeway)}
}

// StaffWindow spans the whole calendar day of the session, up to the
// following midnight.
func StaffWindow(sessionStart time.Time) Window {
	return Window{Opens: timeslot.StartOfDay(sessionStart), Closes: timeslot.NextDay(sessionStart), ClosesExclusive: true}
}
