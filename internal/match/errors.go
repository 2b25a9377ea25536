package match

import (
	"errors"
	"fmt"
)

// Kind is a stable classification of a rejected action. Values are sent to clients as-is.
type Kind string

const (
	KindNotYourTurn           Kind = "not_your_turn"
	KindWrongPhase            Kind = "wrong_phase"
	KindInvalidCard           Kind = "invalid_card"
	KindInsufficientPawns     Kind = "insufficient_pawns"
	KindCellOccupiedBySelf    Kind = "cell_occupied_by_self"
	KindParticipantNotInMatch Kind = "participant_not_in_match"
	KindSessionNotFound       Kind = "session_not_found"
	KindSessionExpired        Kind = "session_expired"
	KindAlreadyRolled         Kind = "already_rolled"
	KindOutOfBounds           Kind = "out_of_bounds"
	KindInvalidRequest        Kind = "invalid_request"
)

// Error rejects a single action. The session is left untouched whenever one is returned.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// Is matches any *Error of the same kind, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotYourTurn           = &Error{Kind: KindNotYourTurn}
	ErrWrongPhase            = &Error{Kind: KindWrongPhase}
	ErrInvalidCard           = &Error{Kind: KindInvalidCard}
	ErrInsufficientPawns     = &Error{Kind: KindInsufficientPawns}
	ErrCellOccupiedBySelf    = &Error{Kind: KindCellOccupiedBySelf}
	ErrParticipantNotInMatch = &Error{Kind: KindParticipantNotInMatch}
	ErrSessionNotFound       = &Error{Kind: KindSessionNotFound}
	ErrSessionExpired        = &Error{Kind: KindSessionExpired}
	ErrAlreadyRolled         = &Error{Kind: KindAlreadyRolled}
	ErrOutOfBounds           = &Error{Kind: KindOutOfBounds}
	ErrInvalidRequest        = &Error{Kind: KindInvalidRequest}
)

func errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind of a match error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Unavailable reports whether err means the match can no longer be played.
func Unavailable(err error) bool {
	return errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionExpired)
}
