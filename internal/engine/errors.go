package engine

import "fmt"

// Stable error codes surfaced through the transaction boundary.
const (
	CodeStateInvalid = "state_invalid"
	CodeOutOfTurn    = "out_of_turn"
	CodePlayerLeft   = "player_left"
	CodeBadAction    = "invalid_action"
	CodeNoHand       = "no_active_hand"
)

// Error is a reducer error with a stable code. The reducer never
// mutates its input when returning one.
type Error struct {
	Code string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code
	}
	return e.Code + ": " + e.Msg
}

func stateInvalid(format string, args ...any) *Error {
	return &Error{Code: CodeStateInvalid, Msg: fmt.Sprintf(format, args...)}
}

func badAction(format string, args ...any) *Error {
	return &Error{Code: CodeBadAction, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the stable code from an error, defaulting to
// state_invalid for anything the reducer did not type.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return CodeStateInvalid
}
