package model

import "time"

// TimeLayout is the wire format for appointment times: a local wall-clock
// timestamp with no zone offset, interpreted in the owning business's zone.
// It is transmitted and stored verbatim; no timezone conversion is applied.
const TimeLayout = "2006-01-02T15:04:05"

// DateLayout is the wire format for availability query dates.
const DateLayout = "2006-01-02"

type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusCanceled  Status = "CANCELED"
	StatusCompleted Status = "COMPLETED"
	StatusNoShow    Status = "NO_SHOW"
)

// Terminal reports whether the status admits no further booking-flow
// transitions. Terminal appointments can only be removed by permanent delete.
func (s Status) Terminal() bool {
	switch s {
	case StatusCanceled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCanceled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

// Appointment is the single shared mutable record of the scheduling core.
//
// Version starts at 1 on insert and increments by exactly 1 on every accepted
// mutation; writers must present the current version (compare-and-swap).
// CanceledAt is non-nil if and only if Status is CANCELED.
type Appointment struct {
	ID              string
	BusinessID      string
	EmployeeID      string
	ServiceID       string
	UserID          string
	ServiceName     string
	AppointmentTime time.Time
	Status          Status
	CanceledAt      *time.Time
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Blocking reports whether the appointment occupies its slot: every status
// except CANCELED keeps the (employee, time) pair taken.
func (a Appointment) Blocking() bool {
	return a.Status != StatusCanceled
}

// WallClock strips the zone from t, re-reading its wall-clock fields as a
// zone-less timestamp. Appointment times are zone-less business-local values,
// so comparisons against "now" go through this.
func WallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}
