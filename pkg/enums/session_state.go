package enums

import "fmt"

// SessionState is a checkout session's position in the two-phase protocol.
type SessionState string

const (
	SessionStateIdle        SessionState = "idle"
	SessionStateCalculating SessionState = "calculating"
	SessionStateQuoted      SessionState = "quoted"
	SessionStateCommitting  SessionState = "committing"
	SessionStateCommitted   SessionState = "committed"
	SessionStateFailed      SessionState = "failed"
	SessionStateExpired     SessionState = "expired"
)

var validSessionStates = []SessionState{
	SessionStateIdle,
	SessionStateCalculating,
	SessionStateQuoted,
	SessionStateCommitting,
	SessionStateCommitted,
	SessionStateFailed,
	SessionStateExpired,
}

// String implements fmt.Stringer.
func (s SessionState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SessionState.
func (s SessionState) IsValid() bool {
	for _, candidate := range validSessionStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the session is finished for good.
func (s SessionState) IsTerminal() bool {
	switch s {
	case SessionStateCommitted, SessionStateFailed, SessionStateExpired:
		return true
	}
	return false
}

// ParseSessionState converts raw input into a SessionState.
func ParseSessionState(value string) (SessionState, error) {
	for _, candidate := range validSessionStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid session state %q", value)
}
