package scheduling

import (
	"context"
	"time"

	"github.com/booksmart-dev/booksmart/internal/model"
	"github.com/booksmart-dev/booksmart/internal/outbox"
)

// Repository is the durable appointment store. Implementations must provide
// compare-and-swap semantics: no two concurrent CompareAndUpdate calls against
// the same id may both succeed from the same starting version, and no two
// blocking appointments may coexist for one (employee, time) pair.
//
// Mutating methods accept outbox events to be persisted atomically with the
// write; implementations without a transactional outbox may record them
// elsewhere, but must not publish on failed writes.
type Repository interface {
	// Create inserts the appointment with version 1, assigning an id when
	// empty. A live slot collision returns ErrSlotUnavailable. Re-inserting
	// an existing id (idempotent retry with a derived id) returns the stored
	// row unchanged.
	Create(ctx context.Context, appt model.Appointment, evts ...outbox.Event) (model.Appointment, error)

	GetByID(ctx context.Context, id string) (model.Appointment, error)

	// CompareAndUpdate applies mutate to the stored record only when its
	// version equals expectedVersion, then persists it with version+1.
	// A stale version returns ErrVersionConflict without calling mutate.
	// An error from mutate aborts the update and is returned as-is.
	CompareAndUpdate(ctx context.Context, id string, expectedVersion int64, mutate func(*model.Appointment) error, evts ...outbox.Event) (model.Appointment, error)

	// Delete removes the record unconditionally, any state.
	Delete(ctx context.Context, id string, evts ...outbox.Event) error

	ListByUser(ctx context.Context, userID string, includeCanceled bool) ([]model.Appointment, error)
	ListByBusiness(ctx context.Context, businessID string, includeCanceled bool) ([]model.Appointment, error)

	// ListBlockingByEmployeeDay returns the employee's non-canceled
	// appointments with dayStart <= time < dayEnd.
	ListBlockingByEmployeeDay(ctx context.Context, employeeID string, dayStart, dayEnd time.Time) ([]model.Appointment, error)

	// ListDueForCompletion returns SCHEDULED appointments whose time is
	// before cutoff, oldest first, for the completion sweep.
	ListDueForCompletion(ctx context.Context, cutoff time.Time, limit int) ([]model.Appointment, error)
}
