package models

type RideStatus string

const (
	StatusSearching              RideStatus = "searching"
	StatusScheduled              RideStatus = "scheduled"
	StatusNoDriversAvailable     RideStatus = "no_drivers_available"
	StatusPendingAdminAssignment RideStatus = "pending_admin_assignment"
	StatusDriverAssigned         RideStatus = "driver_assigned"
	StatusDriverArrived          RideStatus = "driver_arrived"
	StatusOTPVerified            RideStatus = "otp_verified"
	StatusInProgress             RideStatus = "in_progress"
	StatusReachedDrop            RideStatus = "reached_drop"
	StatusCompleted              RideStatus = "completed"
	StatusCancelled              RideStatus = "cancelled"
)

// Terminal statuses are retained for history and never reopened.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Bound reports whether a ride in this status must carry exactly one driver.
func (s RideStatus) Bound() bool {
	switch s {
	case StatusDriverAssigned, StatusDriverArrived, StatusOTPVerified, StatusInProgress, StatusReachedDrop:
		return true
	}
	return false
}

// AwaitingDriver covers every status in which a driver may still be bound.
func (s RideStatus) AwaitingDriver() bool {
	switch s {
	case StatusSearching, StatusScheduled, StatusNoDriversAvailable, StatusPendingAdminAssignment:
		return true
	}
	return false
}

func (s RideStatus) Valid() bool {
	return s.Terminal() || s.Bound() || s.AwaitingDriver()
}
