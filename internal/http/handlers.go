package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/ride-dispatch/internal/gateway"
	"github.com/example/ride-dispatch/internal/models"
)

const defaultListLimit = 50

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.DriverLocation
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", models.ErrBadRequest, err))
		return
	}
	if err := s.engine.UpdateLocation(r.Context(), loc, "rest"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.locations != nil {
		if err := s.locations.PublishLocation(r.Context(), loc); err != nil {
			s.logger.Warn("location_publish_failed", "driver_id", loc.DriverID, "err", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRideStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.AdminRideStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gateway.Result{Success: true, Data: view})
}

func (s *Server) handleActiveRides(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := models.RideStatus(r.URL.Query().Get("status"))
	rides, err := s.engine.ActiveRides(r.Context(), status, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gateway.Result{Success: true, Data: map[string]any{"rides": rides, "count": len(rides)}})
}

func (s *Server) handleDriverHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hist, err := s.engine.AdminDriverHistory(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gateway.Result{Success: true, Data: hist})
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", models.ErrBadRequest, err))
		return
	}
	admin := adminFromContext(r.Context())
	ride, err := s.engine.AdminAssign(r.Context(), admin.ID, mux.Vars(r)["id"], body.DriverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gateway.Result{Success: true, Data: ride})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: %v", models.ErrBadRequest, err))
			return
		}
	}
	admin := adminFromContext(r.Context())
	ride, err := s.engine.AdminCancel(r.Context(), admin.ID, mux.Vars(r)["id"], body.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gateway.Result{Success: true, Data: ride})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for _, c := range s.checks {
		if err := c.Fn(ctx); err != nil {
			failed[c.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.logger.Warn("readiness_failed", "checks", failed)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func limitParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", models.ErrBadRequest)
	}
	return n, nil
}

var statusByCode = map[string]int{
	"bad_request":        http.StatusBadRequest,
	"auth_failed":        http.StatusUnauthorized,
	"forbidden":          http.StatusForbidden,
	"not_found":          http.StatusNotFound,
	"expired":            http.StatusGone,
	"already_assigned":   http.StatusConflict,
	"busy":               http.StatusServiceUnavailable,
	"invalid_transition": http.StatusConflict,
	"otp_mismatch":       http.StatusUnprocessableEntity,
	"otp_expired":        http.StatusUnprocessableEntity,
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := models.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := err.Error()
	if !models.Expected(err) {
		s.logger.Error("request_failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "err", err)
		msg = "internal error"
	}
	writeJSON(w, status, gateway.Result{Code: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
