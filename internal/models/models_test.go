package models

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRideCloneIsDeep(t *testing.T) {
	now := time.Now()
	r := &Ride{
		ID:           "r1",
		Responses:    []DriverResponse{{DriverID: "d1", Outcome: OutcomeDeclined}},
		Cancellation: &Cancellation{By: ActorUser},
		AcceptedAt:   &now,
	}
	cp := r.Clone()
	cp.Responses[0].Outcome = OutcomeAccepted
	cp.Cancellation.By = ActorAdmin
	*cp.AcceptedAt = now.Add(time.Hour)

	if r.Responses[0].Outcome != OutcomeDeclined {
		t.Fatalf("responses shared between clone and original")
	}
	if r.Cancellation.By != ActorUser {
		t.Fatalf("cancellation shared between clone and original")
	}
	if !r.AcceptedAt.Equal(now) {
		t.Fatalf("timestamp shared between clone and original")
	}
}

func TestRedactedHidesOTP(t *testing.T) {
	r := &Ride{ID: "r1", OTP: "1234", OTPAttempts: 2}
	red := r.Redacted()
	if red.OTP != "" || red.OTPAttempts != 0 {
		t.Fatalf("otp leaked: %+v", red)
	}
	if r.OTP != "1234" {
		t.Fatalf("original mutated")
	}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: lease gone", ErrStaleOffer), "expired"},
		{fmt.Errorf("%w: bound to d2", ErrRaceLost), "already_assigned"},
		{fmt.Errorf("%w: lock held", ErrBusy), "busy"},
		{fmt.Errorf("%w: cannot start", ErrInvalidTransition), "invalid_transition"},
		{ErrOTPMismatch, "otp_mismatch"},
		{ErrAuthentication, "auth_failed"},
		{ErrNotFound, "not_found"},
		{errors.New("dial tcp: refused"), "internal"},
	}
	for _, tc := range cases {
		if got := ErrorCode(tc.err); got != tc.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
	if Expected(errors.New("boom")) {
		t.Fatalf("unexpected faults must not count as expected")
	}
}

func TestStatusSets(t *testing.T) {
	for _, s := range []RideStatus{StatusDriverAssigned, StatusDriverArrived, StatusOTPVerified, StatusInProgress, StatusReachedDrop} {
		if !s.Bound() || s.Terminal() || s.AwaitingDriver() {
			t.Errorf("%s should be bound only", s)
		}
	}
	if !StatusCompleted.Terminal() || !StatusCancelled.Terminal() {
		t.Fatalf("completed and cancelled are terminal")
	}
	if RideStatus("accepted").Valid() || RideStatus("ride_started").Valid() {
		t.Fatalf("legacy status aliases must not be valid")
	}
}
