package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/booksmart-dev/booksmart/internal/model"
	"github.com/booksmart-dev/booksmart/internal/outbox"
	"github.com/booksmart-dev/booksmart/internal/scheduling"
)

// MemoryRepository is a mutex-guarded map with the same versioning and slot
// uniqueness rules as the Postgres repository. It backs tests and local runs
// without a database; outbox events are recorded in memory instead of a
// transactional table.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[string]model.Appointment
	events []outbox.Event
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID: make(map[string]model.Appointment),
		now:  func() time.Time { return model.WallClock(time.Now()) },
	}
}

var _ scheduling.Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) Create(ctx context.Context, appt model.Appointment, evts ...outbox.Event) (model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if stored, ok := r.byID[appt.ID]; ok {
		return stored, nil
	}
	if r.slotTakenLocked(appt.EmployeeID, appt.AppointmentTime, appt.ID) {
		return model.Appointment{}, fmt.Errorf("%w: slot already booked", scheduling.ErrSlotUnavailable)
	}

	now := r.now()
	appt.Version = 1
	appt.CreatedAt = now
	appt.UpdatedAt = now
	r.byID[appt.ID] = appt
	r.events = append(r.events, evts...)
	return appt, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	appt, ok := r.byID[id]
	if !ok {
		return model.Appointment{}, scheduling.ErrNotFound
	}
	return appt, nil
}

func (r *MemoryRepository) CompareAndUpdate(ctx context.Context, id string, expectedVersion int64, mutate func(*model.Appointment) error, evts ...outbox.Event) (model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	appt, ok := r.byID[id]
	if !ok {
		return model.Appointment{}, scheduling.ErrNotFound
	}
	if appt.Version != expectedVersion {
		return model.Appointment{}, fmt.Errorf("%w: have %d, expected %d", scheduling.ErrVersionConflict, appt.Version, expectedVersion)
	}

	next := appt
	if err := mutate(&next); err != nil {
		return model.Appointment{}, err
	}
	if next.Blocking() && r.slotTakenLocked(next.EmployeeID, next.AppointmentTime, next.ID) {
		return model.Appointment{}, fmt.Errorf("%w: slot already booked", scheduling.ErrSlotUnavailable)
	}

	next.Version = expectedVersion + 1
	next.UpdatedAt = r.now()
	r.byID[id] = next
	r.events = append(r.events, evts...)
	return next, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string, evts ...outbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return scheduling.ErrNotFound
	}
	delete(r.byID, id)
	r.events = append(r.events, evts...)
	return nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string, includeCanceled bool) ([]model.Appointment, error) {
	return r.collect(func(a model.Appointment) bool {
		return a.UserID == userID && (includeCanceled || a.Status != model.StatusCanceled)
	}, newestFirst), nil
}

func (r *MemoryRepository) ListByBusiness(ctx context.Context, businessID string, includeCanceled bool) ([]model.Appointment, error) {
	return r.collect(func(a model.Appointment) bool {
		return a.BusinessID == businessID && (includeCanceled || a.Status != model.StatusCanceled)
	}, newestFirst), nil
}

func (r *MemoryRepository) ListBlockingByEmployeeDay(ctx context.Context, employeeID string, dayStart, dayEnd time.Time) ([]model.Appointment, error) {
	return r.collect(func(a model.Appointment) bool {
		return a.EmployeeID == employeeID && a.Blocking() &&
			!a.AppointmentTime.Before(dayStart) && a.AppointmentTime.Before(dayEnd)
	}, oldestFirst), nil
}

func (r *MemoryRepository) ListDueForCompletion(ctx context.Context, cutoff time.Time, limit int) ([]model.Appointment, error) {
	due := r.collect(func(a model.Appointment) bool {
		return a.Status == model.StatusScheduled && a.AppointmentTime.Before(cutoff)
	}, oldestFirst)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Events returns a copy of every outbox event recorded so far.
func (r *MemoryRepository) Events() []outbox.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]outbox.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *MemoryRepository) collect(keep func(model.Appointment) bool, less func(a, b model.Appointment) bool) []model.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Appointment
	for _, a := range r.byID {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (r *MemoryRepository) slotTakenLocked(employeeID string, t time.Time, selfID string) bool {
	for _, a := range r.byID {
		if a.ID != selfID && a.EmployeeID == employeeID && a.Blocking() && a.AppointmentTime.Equal(t) {
			return true
		}
	}
	return false
}

func newestFirst(a, b model.Appointment) bool { return a.AppointmentTime.After(b.AppointmentTime) }
func oldestFirst(a, b model.Appointment) bool { return a.AppointmentTime.Before(b.AppointmentTime) }
