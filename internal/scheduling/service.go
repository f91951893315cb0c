// Package scheduling is the sole entry point for mutating appointment state.
// It owns the appointment state machine and the optimistic-concurrency
// protocol; availability checks before a write are advisory, the storage
// layer's uniqueness and version guarantees decide races.
package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/booksmart-dev/booksmart/internal/availability"
	"github.com/booksmart-dev/booksmart/internal/catalog"
	"github.com/booksmart-dev/booksmart/internal/model"
	"github.com/booksmart-dev/booksmart/internal/outbox"
)

type Service struct {
	repo    Repository
	catalog catalog.Provider
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(repo Repository, cat catalog.Provider, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		catalog: cat,
		logger:  logger,
		now:     func() time.Time { return model.WallClock(time.Now()) },
	}
}

type CreateInput struct {
	BusinessID      string
	EmployeeID      string
	ServiceID       string
	UserID          string
	AppointmentTime time.Time
	// IdempotencyKey, when set, derives a deterministic appointment id so a
	// retried create after a timeout lands on the same row.
	IdempotencyKey string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (model.Appointment, error) {
	if in.BusinessID == "" || in.EmployeeID == "" || in.ServiceID == "" || in.UserID == "" {
		return model.Appointment{}, validationError("business_id, employee_id, service_id and user_id are required")
	}
	t := in.AppointmentTime
	if t.IsZero() {
		return model.Appointment{}, validationError("appointment_time is required")
	}

	emp, svc, biz, err := s.resolveReferences(ctx, in.BusinessID, in.EmployeeID, in.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}

	hours, err := availability.ParseWorkingHours(biz.WorkingHours)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("business %s: %w", biz.ID, err)
	}
	busy, err := s.busyStarts(ctx, emp.ID, t, "")
	if err != nil {
		return model.Appointment{}, err
	}
	if !availability.IsBookable(hours, t, busy, s.now()) {
		return model.Appointment{}, fmt.Errorf("%w: %s is not an open slot", ErrSlotUnavailable, t.Format(model.TimeLayout))
	}

	appt := model.Appointment{
		BusinessID:      in.BusinessID,
		EmployeeID:      in.EmployeeID,
		ServiceID:       in.ServiceID,
		UserID:          in.UserID,
		ServiceName:     svc.Name,
		AppointmentTime: t,
		Status:          model.StatusScheduled,
	}
	if key := in.IdempotencyKey; key != "" {
		if len(key) > 256 {
			return model.Appointment{}, validationError("idempotency key too long")
		}
		appt.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("booksmart:create_appointment:"+in.UserID+":"+key)).String()
	} else {
		id, err := uuid.NewV7()
		if err != nil {
			return model.Appointment{}, err
		}
		appt.ID = id.String()
	}

	evt, err := lifecycleEvent(outbox.EventAppointmentBooked, appt, nil)
	if err != nil {
		return model.Appointment{}, err
	}

	// The availability check above is racy by nature; the repository's
	// uniqueness guarantee over live (employee, time) rows decides the winner.
	created, err := s.repo.Create(ctx, appt, evt)
	if err != nil {
		return model.Appointment{}, err
	}
	return created, nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Appointment, error) {
	if id == "" {
		return model.Appointment{}, validationError("appointment id is required")
	}
	return s.repo.GetByID(ctx, id)
}

// Cancel soft-cancels a scheduled appointment. expectedVersion 0 means "the
// current version"; a non-zero stale value surfaces ErrVersionConflict so the
// caller sees the concurrent change instead of silently overriding it.
func (s *Service) Cancel(ctx context.Context, id string, expectedVersion int64) (model.Appointment, error) {
	current, expected, err := s.resolveVersion(ctx, id, expectedVersion)
	if err != nil {
		return model.Appointment{}, err
	}

	canceledAt := s.now()
	evt, err := lifecycleEvent(outbox.EventAppointmentCanceled, current, map[string]any{
		"canceled_at": canceledAt.Format(model.TimeLayout),
	})
	if err != nil {
		return model.Appointment{}, err
	}

	return s.repo.CompareAndUpdate(ctx, id, expected, func(a *model.Appointment) error {
		if a.Status != model.StatusScheduled {
			return fmt.Errorf("%w: status is %s", ErrAlreadyTerminal, a.Status)
		}
		a.Status = model.StatusCanceled
		a.CanceledAt = &canceledAt
		return nil
	}, evt)
}

// Reschedule moves a scheduled appointment to a new slot. The target slot is
// validated the same way Create validates, and the move is a single versioned
// mutation: the old slot frees and the new one claims atomically.
func (s *Service) Reschedule(ctx context.Context, id string, newTime time.Time, expectedVersion int64) (model.Appointment, error) {
	current, expected, err := s.resolveVersion(ctx, id, expectedVersion)
	if err != nil {
		return model.Appointment{}, err
	}
	if current.Status != model.StatusScheduled {
		return model.Appointment{}, fmt.Errorf("%w: status is %s", ErrAlreadyTerminal, current.Status)
	}

	biz, err := s.catalog.GetBusiness(ctx, current.BusinessID)
	if err != nil {
		return model.Appointment{}, referenceErr("business", current.BusinessID, err)
	}
	hours, err := availability.ParseWorkingHours(biz.WorkingHours)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("business %s: %w", biz.ID, err)
	}
	busy, err := s.busyStarts(ctx, current.EmployeeID, newTime, current.ID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !availability.IsBookable(hours, newTime, busy, s.now()) {
		return model.Appointment{}, fmt.Errorf("%w: %s is not an open slot", ErrSlotUnavailable, newTime.Format(model.TimeLayout))
	}

	evt, err := lifecycleEvent(outbox.EventAppointmentRescheduled, current, map[string]any{
		"previous_time": current.AppointmentTime.Format(model.TimeLayout),
		"new_time":      newTime.Format(model.TimeLayout),
	})
	if err != nil {
		return model.Appointment{}, err
	}

	return s.repo.CompareAndUpdate(ctx, id, expected, func(a *model.Appointment) error {
		if a.Status != model.StatusScheduled {
			return fmt.Errorf("%w: status is %s", ErrAlreadyTerminal, a.Status)
		}
		a.AppointmentTime = newTime
		return nil
	}, evt)
}

// MarkNoShow records that the customer did not appear. Valid only for a
// scheduled appointment whose time has already passed and that the completion
// sweep has not yet transitioned.
func (s *Service) MarkNoShow(ctx context.Context, id string) (model.Appointment, error) {
	current, expected, err := s.resolveVersion(ctx, id, 0)
	if err != nil {
		return model.Appointment{}, err
	}

	now := s.now()
	evt, err := lifecycleEvent(outbox.EventAppointmentNoShow, current, nil)
	if err != nil {
		return model.Appointment{}, err
	}

	return s.repo.CompareAndUpdate(ctx, id, expected, func(a *model.Appointment) error {
		if a.Status != model.StatusScheduled {
			return fmt.Errorf("%w: status is %s", ErrAlreadyTerminal, a.Status)
		}
		if a.AppointmentTime.After(now) {
			return validationError("appointment has not taken place yet")
		}
		a.Status = model.StatusNoShow
		return nil
	}, evt)
}

// CompleteDue transitions scheduled appointments whose time is before cutoff
// to COMPLETED and returns how many it transitioned. A row that changed
// concurrently is skipped; if it is still due, the next sweep picks it up.
func (s *Service) CompleteDue(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	due, err := s.repo.ListDueForCompletion(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, appt := range due {
		evt, err := lifecycleEvent(outbox.EventAppointmentCompleted, appt, nil)
		if err != nil {
			return done, err
		}
		_, err = s.repo.CompareAndUpdate(ctx, appt.ID, appt.Version, func(a *model.Appointment) error {
			if a.Status != model.StatusScheduled {
				return fmt.Errorf("%w: status is %s", ErrAlreadyTerminal, a.Status)
			}
			a.Status = model.StatusCompleted
			return nil
		}, evt)
		switch {
		case err == nil:
			done++
		case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrAlreadyTerminal), errors.Is(err, ErrNotFound):
			s.logger.Debug("completion sweep skipped appointment", "appointment_id", appt.ID, "err", err)
		default:
			return done, err
		}
	}
	return done, nil
}

// PermanentlyDelete hard-removes the appointment in any state. Irreversible,
// restricted to owners/admins at the transport layer.
func (s *Service) PermanentlyDelete(ctx context.Context, id string) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	evt, err := lifecycleEvent(outbox.EventAppointmentDeleted, current, map[string]any{
		"last_status": string(current.Status),
	})
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, id, evt)
}

// DaySlots returns the slot sequence for an employee's day, marking each slot
// available or not.
func (s *Service) DaySlots(ctx context.Context, businessID, employeeID string, date time.Time) ([]availability.Slot, error) {
	emp, err := s.catalog.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, referenceErr("employee", employeeID, err)
	}
	if emp.BusinessID != businessID {
		return nil, fmt.Errorf("%w: employee %s does not belong to business %s", ErrInvalidReference, employeeID, businessID)
	}
	biz, err := s.catalog.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, referenceErr("business", businessID, err)
	}
	hours, err := availability.ParseWorkingHours(biz.WorkingHours)
	if err != nil {
		return nil, fmt.Errorf("business %s: %w", biz.ID, err)
	}
	busy, err := s.busyStarts(ctx, employeeID, date, "")
	if err != nil {
		return nil, err
	}
	return availability.CollectSlots(availability.Slots(hours, date, busy, s.now())), nil
}

func (s *Service) resolveReferences(ctx context.Context, businessID, employeeID, serviceID string) (catalog.Employee, catalog.Service, catalog.Business, error) {
	emp, err := s.catalog.GetEmployee(ctx, employeeID)
	if err != nil {
		return catalog.Employee{}, catalog.Service{}, catalog.Business{}, referenceErr("employee", employeeID, err)
	}
	if emp.BusinessID != businessID {
		return catalog.Employee{}, catalog.Service{}, catalog.Business{}, fmt.Errorf("%w: employee %s does not belong to business %s", ErrInvalidReference, employeeID, businessID)
	}
	svc, err := s.catalog.GetService(ctx, serviceID)
	if err != nil {
		return catalog.Employee{}, catalog.Service{}, catalog.Business{}, referenceErr("service", serviceID, err)
	}
	if svc.BusinessID != businessID {
		return catalog.Employee{}, catalog.Service{}, catalog.Business{}, fmt.Errorf("%w: service %s does not belong to business %s", ErrInvalidReference, serviceID, businessID)
	}
	if svc.EmployeeID != "" && svc.EmployeeID != employeeID {
		return catalog.Employee{}, catalog.Service{}, catalog.Business{}, fmt.Errorf("%w: employee %s does not perform service %s", ErrInvalidReference, employeeID, serviceID)
	}
	biz, err := s.catalog.GetBusiness(ctx, businessID)
	if err != nil {
		return catalog.Employee{}, catalog.Service{}, catalog.Business{}, referenceErr("business", businessID, err)
	}
	return emp, svc, biz, nil
}

// busyStarts lists the employee's blocking appointment times on the day of t,
// excluding excludeID (used so a reschedule does not collide with itself).
func (s *Service) busyStarts(ctx context.Context, employeeID string, t time.Time, excludeID string) ([]time.Time, error) {
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	existing, err := s.repo.ListBlockingByEmployeeDay(ctx, employeeID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	starts := make([]time.Time, 0, len(existing))
	for _, a := range existing {
		if excludeID != "" && a.ID == excludeID {
			continue
		}
		starts = append(starts, a.AppointmentTime)
	}
	return starts, nil
}

func (s *Service) resolveVersion(ctx context.Context, id string, expectedVersion int64) (model.Appointment, int64, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, 0, err
	}
	if expectedVersion == 0 {
		return current, current.Version, nil
	}
	return current, expectedVersion, nil
}

func referenceErr(kind, id string, err error) error {
	if errors.Is(err, catalog.ErrNotFound) {
		return fmt.Errorf("%w: unknown %s %s", ErrInvalidReference, kind, id)
	}
	return fmt.Errorf("catalog lookup for %s %s: %w", kind, id, err)
}

func lifecycleEvent(eventType string, appt model.Appointment, extra map[string]any) (outbox.Event, error) {
	body := map[string]any{
		"appointment_id":   appt.ID,
		"business_id":      appt.BusinessID,
		"employee_id":      appt.EmployeeID,
		"service_id":       appt.ServiceID,
		"user_id":          appt.UserID,
		"service_name":     appt.ServiceName,
		"appointment_time": appt.AppointmentTime.Format(model.TimeLayout),
	}
	for k, v := range extra {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
