package reconcile

// ToggleState is the phase of an optimistic monitor toggle.
type ToggleState int

const (
	// ToggleConfirmed means the shown value is the applied value.
	ToggleConfirmed ToggleState = iota
	// ToggleRequested means a change is shown but not yet applied.
	ToggleRequested
	// ToggleRolledBack means the last request failed and the shown value
	// was reset to the applied one.
	ToggleRolledBack
)

func (s ToggleState) String() string {
	switch s {
	case ToggleConfirmed:
		return "confirmed"
	case ToggleRequested:
		return "requested"
	case ToggleRolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

// Toggle tracks an optimistically displayed boolean backed by an external
// setter. Each Request returns a ticket. Only the latest ticket changes the
// shown value, but every confirmation updates the applied value, so a
// rollback always lands on what the setter last put in effect.
type Toggle struct {
	applied   bool
	shown     bool
	state     ToggleState
	ticket    uint64
	confirmed uint64 // highest ticket whose outcome set applied
}

// NewToggle returns a confirmed toggle at applied.
func NewToggle(applied bool) Toggle {
	return Toggle{applied: applied, shown: applied}
}

// Request shows want immediately and returns the ticket for the call.
func (t *Toggle) Request(want bool) uint64 {
	t.ticket++
	t.shown = want
	t.state = ToggleRequested
	return t.ticket
}

// Confirm records the value the external setter applied. It reports
// whether ticket is the latest request; a superseded ticket still updates
// the applied value unless a newer ticket already did.
func (t *Toggle) Confirm(ticket uint64, applied bool) bool {
	if ticket > t.confirmed {
		t.confirmed = ticket
		t.applied = applied
	}
	if ticket != t.ticket {
		return false
	}
	t.shown = applied
	t.state = ToggleConfirmed
	return true
}

// RollBack restores the last applied value after a failed request.
func (t *Toggle) RollBack(ticket uint64) bool {
	if ticket != t.ticket {
		return false
	}
	t.shown = t.applied
	t.state = ToggleRolledBack
	return true
}

// Observe records a value learned from the monitor outside a request, such
// as the initial read or a pushed toggle notification. A pending request
// keeps its shown value.
func (t *Toggle) Observe(applied bool) {
	t.applied = applied
	if t.state == ToggleRequested || t.shown == applied {
		return
	}
	t.shown = applied
	t.state = ToggleConfirmed
}

// Shown is the value the UI displays.
func (t Toggle) Shown() bool { return t.shown }

// Applied is the last value known to be in effect.
func (t Toggle) Applied() bool { return t.applied }

// State returns the current phase.
func (t Toggle) State() ToggleState { return t.state }
