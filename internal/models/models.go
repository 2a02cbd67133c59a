package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Place is a coordinate with the human readable details the rider picked.
type Place struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
	PlaceID string  `json:"place_id,omitempty"`
}

func (p Place) Coord() Coord { return Coord{Lat: p.Lat, Lng: p.Lng} }

type RideType string

const (
	RideLocal      RideType = "local"
	RideOutstation RideType = "outstation"
	RideAirport    RideType = "airport"
)

func (t RideType) Valid() bool {
	switch t {
	case RideLocal, RideOutstation, RideAirport:
		return true
	}
	return false
}

type BookingType string

const (
	BookNow       BookingType = "now"
	BookScheduled BookingType = "scheduled"
)

type VehicleCategory string

const (
	VehicleElite VehicleCategory = "goelite"
	VehicleSUV   VehicleCategory = "gosuv"
)

func (v VehicleCategory) Valid() bool { return v == VehicleElite || v == VehicleSUV }

// Tier is a driver service class; tiers are searched in priority order.
type Tier string

const (
	TierPremium  Tier = "premium"
	TierStandard Tier = "standard"
)

type Actor string

const (
	ActorUser   Actor = "user"
	ActorDriver Actor = "driver"
	ActorSystem Actor = "system"
	ActorAdmin  Actor = "admin"
)

type Outcome string

const (
	OutcomeAccepted      Outcome = "accepted"
	OutcomeDeclined      Outcome = "declined"
	OutcomeNoResponse    Outcome = "no_response"
	OutcomeCancelled     Outcome = "cancelled"
	OutcomeAdminAssigned Outcome = "admin_assigned"
)

// DriverResponse is append-only; entries are never mutated once logged.
type DriverResponse struct {
	DriverID    string    `json:"driver_id"`
	Outcome     Outcome   `json:"response"`
	Reason      string    `json:"reason,omitempty"`
	AssignedBy  string    `json:"assigned_by,omitempty"`
	RespondedAt time.Time `json:"responded_at"`
}

type Cancellation struct {
	By      Actor     `json:"by"`
	ActorID string    `json:"actor_id,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

type Ride struct {
	ID       string `json:"id"`
	RiderID  string `json:"rider_id"`
	DriverID string `json:"driver_id,omitempty"`

	RideType    RideType        `json:"ride_type"`
	BookingType BookingType     `json:"booking_type"`
	Vehicle     VehicleCategory `json:"vehicle_type"`
	Tier        Tier            `json:"tier,omitempty"`

	Pickup  Place `json:"pickup"`
	Dropoff Place `json:"dropoff"`

	Status RideStatus `json:"status"`

	EstimatedFare       float64 `json:"estimated_fare"`
	EstimatedDistanceKm float64 `json:"estimated_distance_km,omitempty"`
	FinalFare           float64 `json:"final_fare,omitempty"`
	ActualDistanceKm    float64 `json:"actual_distance_km,omitempty"`
	ActualDurationMin   float64 `json:"actual_duration_min,omitempty"`
	PaymentMethod       string  `json:"payment_method,omitempty"`
	PlatformCommission  float64 `json:"platform_commission,omitempty"`
	DriverEarnings      float64 `json:"driver_earnings,omitempty"`

	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	SearchStarted   bool       `json:"search_started"`
	SearchStartedAt *time.Time `json:"search_started_at,omitempty"`
	SearchAttempts  int        `json:"search_attempts"`

	OTP          string     `json:"otp,omitempty"`
	OTPExpiresAt *time.Time `json:"otp_expires_at,omitempty"`
	OTPAttempts  int        `json:"otp_attempts,omitempty"`

	Responses    []DriverResponse `json:"driver_responses"`
	Cancellation *Cancellation    `json:"cancellation,omitempty"`

	DriverCancellationReason string `json:"driver_cancellation_reason,omitempty"`
	AssignmentType           string `json:"assignment_type,omitempty"`
	AssignedBy               string `json:"assigned_by,omitempty"`

	UserRating   int    `json:"user_rating,omitempty"`
	UserFeedback string `json:"user_feedback,omitempty"`

	Notes string `json:"notes,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	AcceptedAt    *time.Time `json:"accepted_at,omitempty"`
	ArrivedAt     *time.Time `json:"arrived_at,omitempty"`
	OTPVerifiedAt *time.Time `json:"otp_verified_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	ReachedDropAt *time.Time `json:"reached_drop_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
}

// Clone returns a deep copy so stores never hand out shared state.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Responses = append([]DriverResponse(nil), r.Responses...)
	if r.Cancellation != nil {
		c := *r.Cancellation
		cp.Cancellation = &c
	}
	for _, p := range []**time.Time{
		&cp.ScheduledAt, &cp.SearchStartedAt, &cp.OTPExpiresAt, &cp.AcceptedAt, &cp.ArrivedAt,
		&cp.OTPVerifiedAt, &cp.StartedAt, &cp.ReachedDropAt, &cp.CompletedAt, &cp.CancelledAt,
	} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return &cp
}

// Redacted is the copy handed to API callers: the pickup code never leaves the engine.
func (r *Ride) Redacted() *Ride {
	cp := r.Clone()
	if cp != nil {
		cp.OTP = ""
		cp.OTPAttempts = 0
	}
	return cp
}

// RespondedBy reports whether driverID has a response entry with the given outcome.
func (r *Ride) RespondedBy(driverID string, outcome Outcome) bool {
	for _, resp := range r.Responses {
		if resp.DriverID == driverID && resp.Outcome == outcome {
			return true
		}
	}
	return false
}

type Driver struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Phone            string          `json:"phone,omitempty"`
	Tier             Tier            `json:"plan_type"`
	Vehicle          VehicleCategory `json:"vehicle_type"`
	VehicleNumber    string          `json:"vehicle_number,omitempty"`
	Rating           float64         `json:"rating"` // 0..5
	TotalRatings     int             `json:"total_ratings"`
	TotalAcceptances int             `json:"total_acceptances"`
}

type DriverLocation struct {
	DriverID string    `json:"driver_id"`
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	Heading  float64   `json:"heading"`
	Updated  time.Time `json:"updated"`
}

func (l DriverLocation) Coord() Coord { return Coord{Lat: l.Lat, Lng: l.Lng} }
