package models

import "errors"

var (
	ErrAuthentication    = errors.New("authentication failed")
	ErrStaleOffer        = errors.New("ride request has expired")
	ErrRaceLost          = errors.New("ride already assigned to another driver")
	ErrBusy              = errors.New("ride is being assigned, try again")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrOTPMismatch       = errors.New("invalid otp")
	ErrOTPExpired        = errors.New("otp expired")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrBadRequest        = errors.New("bad request")
)

// ErrorCode maps an error onto the code sent back to the originating channel.
// Anything outside the taxonomy is reported as "internal".
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthentication):
		return "auth_failed"
	case errors.Is(err, ErrStaleOffer):
		return "expired"
	case errors.Is(err, ErrRaceLost):
		return "already_assigned"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrOTPMismatch):
		return "otp_mismatch"
	case errors.Is(err, ErrOTPExpired):
		return "otp_expired"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	default:
		return "internal"
	}
}

// Expected reports whether err belongs to the domain taxonomy, i.e. it is a
// rejection to report rather than a fault to log.
func Expected(err error) bool {
	return err != nil && ErrorCode(err) != "internal"
}
