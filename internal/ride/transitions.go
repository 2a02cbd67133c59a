package ride

import "github.com/example/ride-dispatch/internal/models"

// AllowedTransitions is the ride lifecycle as code. A self loop on
// driver_arrived covers regenerating an expired pickup code.
var AllowedTransitions = map[models.RideStatus][]models.RideStatus{
	models.StatusScheduled:              {models.StatusSearching, models.StatusDriverAssigned, models.StatusCancelled},
	models.StatusSearching:              {models.StatusDriverAssigned, models.StatusNoDriversAvailable, models.StatusCancelled},
	models.StatusNoDriversAvailable:     {models.StatusPendingAdminAssignment, models.StatusDriverAssigned, models.StatusCancelled},
	models.StatusPendingAdminAssignment: {models.StatusDriverAssigned, models.StatusCancelled},
	models.StatusDriverAssigned:         {models.StatusDriverArrived, models.StatusSearching, models.StatusCancelled},
	models.StatusDriverArrived:          {models.StatusDriverArrived, models.StatusOTPVerified, models.StatusSearching, models.StatusCancelled},
	models.StatusOTPVerified:            {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress:             {models.StatusReachedDrop, models.StatusCompleted, models.StatusCancelled},
	models.StatusReachedDrop:            {models.StatusCompleted, models.StatusCancelled},
}

func CanTransition(from, to models.RideStatus) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

var (
	// riderCancellable are the states before the trip is committed.
	riderCancellable = []models.RideStatus{
		models.StatusScheduled, models.StatusSearching, models.StatusNoDriversAvailable,
		models.StatusPendingAdminAssignment, models.StatusDriverAssigned, models.StatusDriverArrived,
	}
	searchStates = []models.RideStatus{
		models.StatusScheduled, models.StatusSearching, models.StatusNoDriversAvailable, models.StatusPendingAdminAssignment,
	}
	driverCancellable = []models.RideStatus{models.StatusDriverAssigned, models.StatusDriverArrived}
	active            = []models.RideStatus{
		models.StatusScheduled, models.StatusSearching, models.StatusNoDriversAvailable, models.StatusPendingAdminAssignment,
		models.StatusDriverAssigned, models.StatusDriverArrived, models.StatusOTPVerified, models.StatusInProgress, models.StatusReachedDrop,
	}
)

// ActiveStatuses lists every non terminal status.
func ActiveStatuses() []models.RideStatus { return append([]models.RideStatus(nil), active...) }
