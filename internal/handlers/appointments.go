// Package handlers exposes the scheduling core over HTTP. Routing uses the
// standard mux's method+pattern syntax; identity comes from the platform auth
// service's bearer tokens and all authorization decisions happen here, before
// anything reaches the scheduling service.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/booksmart-dev/booksmart/internal/availability"
	"github.com/booksmart-dev/booksmart/internal/model"
	"github.com/booksmart-dev/booksmart/internal/query"
	"github.com/booksmart-dev/booksmart/internal/scheduling"
	"github.com/booksmart-dev/booksmart/libs/authx"
	"github.com/booksmart-dev/booksmart/libs/httpx"
)

type AppointmentHandler struct {
	scheduler *scheduling.Service
	queries   *query.Service
	logger    *slog.Logger
	jwtSecret string
}

func NewAppointmentHandler(scheduler *scheduling.Service, queries *query.Service, logger *slog.Logger, jwtSecret string) *AppointmentHandler {
	return &AppointmentHandler{
		scheduler: scheduler,
		queries:   queries,
		logger:    logger,
		jwtSecret: jwtSecret,
	}
}

// Register wires all appointment routes onto mux behind the auth middleware.
func (h *AppointmentHandler) Register(mux *http.ServeMux) {
	auth := WithAuth(h.jwtSecret)
	mux.Handle("POST /appointments", auth(http.HandlerFunc(h.create)))
	mux.Handle("GET /appointments/user/{userId}", auth(http.HandlerFunc(h.listByUser)))
	mux.Handle("GET /appointments/business/{businessId}", auth(http.HandlerFunc(h.listByBusiness)))
	mux.Handle("GET /appointments/availability", auth(http.HandlerFunc(h.availability)))
	mux.Handle("GET /appointments/{id}", auth(http.HandlerFunc(h.get)))
	mux.Handle("PUT /appointments/{id}", auth(http.HandlerFunc(h.reschedule)))
	mux.Handle("DELETE /appointments/{id}", auth(http.HandlerFunc(h.cancel)))
	mux.Handle("POST /appointments/{id}/no-show", auth(http.HandlerFunc(h.noShow)))
	mux.Handle("DELETE /appointments/{id}/permanent", auth(http.HandlerFunc(h.permanentDelete)))
}

type createRequest struct {
	BusinessID      string `json:"businessId"`
	EmployeeID      string `json:"employeeId"`
	ServiceID       string `json:"serviceId"`
	UserID          string `json:"userId"`
	AppointmentTime string `json:"appointmentTime"`
}

func (h *AppointmentHandler) create(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorEnvelope(w, http.StatusBadRequest, codeInvalidArgument, "invalid request body")
		return
	}

	// Customers book for themselves; an explicit userId is admin-only.
	userID := claims.Sub
	if req.UserID != "" && req.UserID != claims.Sub {
		if !claims.IsAdmin() {
			writeErrorEnvelope(w, http.StatusForbidden, codeUnauthorized, "cannot book for another user")
			return
		}
		userID = req.UserID
	}

	at, err := parseWireTime(req.AppointmentTime)
	if err != nil {
		writeErrorEnvelope(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
		return
	}

	appt, err := h.scheduler.Create(r.Context(), scheduling.CreateInput{
		BusinessID:      req.BusinessID,
		EmployeeID:      req.EmployeeID,
		ServiceID:       req.ServiceID,
		UserID:          userID,
		AppointmentTime: at,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) get(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	appt, err := h.scheduler.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if !canAccessAppointment(claims, appt) {
		writeErrorEnvelope(w, http.StatusForbidden, codeUnauthorized, "not your appointment")
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) listByUser(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	userID := r.PathValue("userId")

	if claims.Sub != userID && !claims.IsAdmin() {
		writeErrorEnvelope(w, http.StatusForbidden, codeUnauthorized, "cannot list another user's appointments")
		return
	}

	views, err := h.queries.ListByUser(r.Context(), userID, boolQuery(r, "include_canceled"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewResponses(views))
}

func (h *AppointmentHandler) listByBusiness(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	businessID := r.PathValue("businessId")

	if !claims.OwnerOf(businessID) && !claims.IsAdmin() {
		writeErrorEnvelope(w, http.StatusForbidden, codeUnauthorized, "not the owner of this business")
		return
	}

	views, err := h.queries.ListByBusiness(r.Context(), businessID, boolQuery(r, "include_canceled"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewResponses(views))
}

func (h *AppointmentHandler) availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	businessID := q.Get("business_id")
	employeeID := q.Get("employee_id")
	if businessID == "" || employeeID == "" {
		writeErrorEnvelope(w, http.StatusBadRequest, codeInvalidArgument, "business_id and employee_id are required")
		return
	}
	date, err := time.Parse(model.DateLayout, q.Get("date"))
	if err != nil {
		writeErrorEnvelope(w, http.StatusBadRequest, codeInvalidArgument, "date must be "+model.DateLayout)
		return
	}

	slots, err := h.scheduler.DaySlots(r.Context(), businessID, employeeID, date)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotResponses(slots))
}

type rescheduleRequest struct {
	AppointmentTime string `json:"appointmentTime"`
	ExpectedVersion int64  `json:"expectedVersion"`
}

func (h *AppointmentHandler) reschedule(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	id := r.PathValue("id")

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorEnvelope(w, http.StatusBadRequest, codeInvalidArgument, "invalid request body")
		return
	}
	at, err := parseWireTime(req.AppointmentTime)
	if err != nil {
		writeErrorEnvelope(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
		return
	}
	expected, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		writeErrorEnvelope(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
		return
	}

	if !h.authorizeMutation(w, r, claims, id) {
		return
	}
	appt, err := h.scheduler.Reschedule(r.Context(), id, at, expected)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) cancel(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	id := r.PathValue("id")

	expected, err := expectedVersion(r, 0)
	if err != nil {
		writeErrorEnvelope(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
		return
	}

	if !h.authorizeMutation(w, r, claims, id) {
		return
	}
	appt, err := h.scheduler.Cancel(r.Context(), id, expected)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) noShow(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	id := r.PathValue("id")

	appt, err := h.scheduler.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if !claims.OwnerOf(appt.BusinessID) && !claims.IsAdmin() {
		writeErrorEnvelope(w, http.StatusForbidden, codeUnauthorized, "only the business owner may mark a no-show")
		return
	}

	updated, err := h.scheduler.MarkNoShow(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(updated))
}

func (h *AppointmentHandler) permanentDelete(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	id := r.PathValue("id")

	appt, err := h.scheduler.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if !claims.OwnerOf(appt.BusinessID) && !claims.IsAdmin() {
		writeErrorEnvelope(w, http.StatusForbidden, codeUnauthorized, "only the business owner may permanently delete")
		return
	}

	if err := h.scheduler.PermanentlyDelete(r.Context(), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorizeMutation allows the booking customer, the owning business, or an
// admin to cancel/reschedule. Writes the 403/404 response itself on failure.
func (h *AppointmentHandler) authorizeMutation(w http.ResponseWriter, r *http.Request, claims *authx.Claims, id string) bool {
	appt, err := h.scheduler.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return false
	}
	if !canAccessAppointment(claims, appt) {
		writeErrorEnvelope(w, http.StatusForbidden, codeUnauthorized, "not your appointment")
		return false
	}
	return true
}

func (h *AppointmentHandler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case scheduling.IsValidationError(err):
		writeErrorEnvelope(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
	case errors.Is(err, scheduling.ErrInvalidReference):
		writeErrorEnvelope(w, http.StatusBadRequest, codeInvalidReference, err.Error())
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		writeErrorEnvelope(w, http.StatusConflict, codeSlotUnavailable, err.Error())
	case errors.Is(err, scheduling.ErrVersionConflict):
		writeErrorEnvelope(w, http.StatusPreconditionFailed, codeVersionConflict, err.Error())
	case errors.Is(err, scheduling.ErrAlreadyTerminal):
		writeErrorEnvelope(w, http.StatusConflict, codeAlreadyTerminal, err.Error())
	case errors.Is(err, scheduling.ErrNotFound):
		writeErrorEnvelope(w, http.StatusNotFound, codeNotFound, "appointment not found")
	default:
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"err", err)
		writeErrorEnvelope(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

// parseWireTime parses the zone-less wall-clock wire format. Values carrying
// a zone offset do not match the layout and are rejected.
func parseWireTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("appointmentTime is required")
	}
	t, err := time.Parse(model.TimeLayout, s)
	if err != nil {
		return time.Time{}, errors.New("appointmentTime must be " + model.TimeLayout)
	}
	return t, nil
}

// expectedVersion resolves the CAS version from, in priority order, the
// If-Match header, the expected_version query parameter, then the body value.
// Zero means "use the current version".
func expectedVersion(r *http.Request, fromBody int64) (int64, error) {
	if etag := r.Header.Get("If-Match"); etag != "" {
		v, err := strconv.ParseInt(trimETagQuotes(etag), 10, 64)
		if err != nil || v < 1 {
			return 0, errors.New("If-Match must be a positive version number")
		}
		return v, nil
	}
	if raw := r.URL.Query().Get("expected_version"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 1 {
			return 0, errors.New("expected_version must be a positive integer")
		}
		return v, nil
	}
	if fromBody < 0 {
		return 0, errors.New("expectedVersion must be a positive integer")
	}
	return fromBody, nil
}

func trimETagQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func boolQuery(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

func canAccessAppointment(claims *authx.Claims, appt model.Appointment) bool {
	if claims == nil {
		return false
	}
	return claims.Sub == appt.UserID || claims.OwnerOf(appt.BusinessID) || claims.IsAdmin()
}

type appointmentResponse struct {
	ID              string  `json:"id"`
	BusinessID      string  `json:"businessId"`
	EmployeeID      string  `json:"employeeId"`
	ServiceID       string  `json:"serviceId"`
	UserID          string  `json:"userId"`
	ServiceName     string  `json:"serviceName"`
	BusinessName    string  `json:"businessName,omitempty"`
	EmployeeName    string  `json:"employeeName,omitempty"`
	AppointmentTime string  `json:"appointmentTime"`
	Status          string  `json:"status"`
	CanceledAt      *string `json:"canceledAt,omitempty"`
	Version         int64   `json:"version"`
	CreatedAt       string  `json:"createdAt"`
	UpdatedAt       string  `json:"updatedAt"`
}

func toAppointmentResponse(appt model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		ID:              appt.ID,
		BusinessID:      appt.BusinessID,
		EmployeeID:      appt.EmployeeID,
		ServiceID:       appt.ServiceID,
		UserID:          appt.UserID,
		ServiceName:     appt.ServiceName,
		AppointmentTime: appt.AppointmentTime.Format(model.TimeLayout),
		Status:          string(appt.Status),
		Version:         appt.Version,
		CreatedAt:       appt.CreatedAt.Format(model.TimeLayout),
		UpdatedAt:       appt.UpdatedAt.Format(model.TimeLayout),
	}
	if appt.CanceledAt != nil {
		s := appt.CanceledAt.Format(model.TimeLayout)
		resp.CanceledAt = &s
	}
	return resp
}

func toViewResponses(views []query.View) []appointmentResponse {
	out := make([]appointmentResponse, 0, len(views))
	for _, v := range views {
		resp := toAppointmentResponse(v.Appointment)
		resp.BusinessName = v.BusinessName
		resp.EmployeeName = v.EmployeeName
		out = append(out, resp)
	}
	return out
}

type slotResponse struct {
	Start     string `json:"start"`
	Available bool   `json:"available"`
}

func toSlotResponses(slots []availability.Slot) []slotResponse {
	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotResponse{Start: s.Start.Format(model.TimeLayout), Available: s.Available})
	}
	return out
}
