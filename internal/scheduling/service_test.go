package scheduling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/booksmart-dev/booksmart/internal/catalog"
	"github.com/booksmart-dev/booksmart/internal/model"
	"github.com/booksmart-dev/booksmart/internal/outbox"
)

// memRepo is a minimal in-memory Repository for service tests. The full
// storage implementations have their own suites; this one only needs correct
// CAS and slot bookkeeping.
type memRepo struct {
	mu     sync.Mutex
	byID   map[string]model.Appointment
	events []outbox.Event
}

func newMemRepo() *memRepo {
	return &memRepo{byID: make(map[string]model.Appointment)}
}

func (r *memRepo) Create(_ context.Context, appt model.Appointment, evts ...outbox.Event) (model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.byID[appt.ID]; ok {
		return stored, nil
	}
	for _, a := range r.byID {
		if a.EmployeeID == appt.EmployeeID && a.Blocking() && a.AppointmentTime.Equal(appt.AppointmentTime) {
			return model.Appointment{}, ErrSlotUnavailable
		}
	}
	appt.Version = 1
	r.byID[appt.ID] = appt
	r.events = append(r.events, evts...)
	return appt, nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return a, nil
}

func (r *memRepo) CompareAndUpdate(_ context.Context, id string, expectedVersion int64, mutate func(*model.Appointment) error, evts ...outbox.Event) (model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	if a.Version != expectedVersion {
		return model.Appointment{}, ErrVersionConflict
	}
	next := a
	if err := mutate(&next); err != nil {
		return model.Appointment{}, err
	}
	if next.Blocking() {
		for _, other := range r.byID {
			if other.ID != id && other.EmployeeID == next.EmployeeID && other.Blocking() && other.AppointmentTime.Equal(next.AppointmentTime) {
				return model.Appointment{}, ErrSlotUnavailable
			}
		}
	}
	next.Version = expectedVersion + 1
	r.byID[id] = next
	r.events = append(r.events, evts...)
	return next, nil
}

func (r *memRepo) Delete(_ context.Context, id string, evts ...outbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return ErrNotFound
	}
	delete(r.byID, id)
	r.events = append(r.events, evts...)
	return nil
}

func (r *memRepo) ListByUser(_ context.Context, userID string, includeCanceled bool) ([]model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Appointment
	for _, a := range r.byID {
		if a.UserID == userID && (includeCanceled || a.Status != model.StatusCanceled) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) ListByBusiness(_ context.Context, businessID string, includeCanceled bool) ([]model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Appointment
	for _, a := range r.byID {
		if a.BusinessID == businessID && (includeCanceled || a.Status != model.StatusCanceled) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) ListBlockingByEmployeeDay(_ context.Context, employeeID string, dayStart, dayEnd time.Time) ([]model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Appointment
	for _, a := range r.byID {
		if a.EmployeeID == employeeID && a.Blocking() && !a.AppointmentTime.Before(dayStart) && a.AppointmentTime.Before(dayEnd) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) ListDueForCompletion(_ context.Context, cutoff time.Time, limit int) ([]model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Appointment
	for _, a := range r.byID {
		if a.Status == model.StatusScheduled && a.AppointmentTime.Before(cutoff) {
			out = append(out, a)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) recordedEvents() []outbox.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]outbox.Event, len(r.events))
	copy(out, r.events)
	return out
}

func testCatalog() catalog.Provider {
	return catalog.NewStaticProvider(
		[]catalog.Business{
			{ID: "biz-1", OwnerID: "owner-1", Name: "Acme Salon", WorkingHours: "Mon-Fri 9:00-17:00"},
			{ID: "biz-2", OwnerID: "owner-2", Name: "Half Past Spa", WorkingHours: "Mon-Fri 9:30-17:30"},
		},
		[]catalog.Employee{
			{ID: "emp-1", BusinessID: "biz-1", Name: "Dana"},
			{ID: "emp-2", BusinessID: "biz-1", Name: "Sam"},
			{ID: "emp-3", BusinessID: "biz-2", Name: "Noor"},
		},
		[]catalog.Service{
			{ID: "svc-1", BusinessID: "biz-1", Name: "Haircut", Price: 30},
			{ID: "svc-dana", BusinessID: "biz-1", EmployeeID: "emp-1", Name: "Coloring", Price: 80},
			{ID: "svc-massage", BusinessID: "biz-2", Name: "Massage", Price: 60},
		},
	)
}

func newTestService(repo Repository, now time.Time) *Service {
	svc := NewService(repo, testCatalog(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return now }
	return svc
}

// A Monday.
var (
	testNow  = time.Date(2026, 9, 7, 8, 0, 0, 0, time.UTC)
	slot10   = time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)
	slot11   = time.Date(2026, 9, 7, 11, 0, 0, 0, time.UTC)
	validIn  = CreateInput{BusinessID: "biz-1", EmployeeID: "emp-1", ServiceID: "svc-1", UserID: "user-1", AppointmentTime: slot10}
)

func TestCreateStartsAtVersionOne(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, testNow)

	appt, err := svc.Create(context.Background(), validIn)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if appt.Version != 1 || appt.Status != model.StatusScheduled {
		t.Fatalf("unexpected appointment: %+v", appt)
	}
	if appt.ServiceName != "Haircut" {
		t.Fatalf("serviceName = %q, want denormalized Haircut", appt.ServiceName)
	}
	if appt.CanceledAt != nil {
		t.Fatal("new appointment must not carry canceledAt")
	}

	events := repo.recordedEvents()
	if len(events) != 1 || events[0].EventType != outbox.EventAppointmentBooked {
		t.Fatalf("events = %v, want one booked event", events)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(newMemRepo(), testNow)
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateInput
	}{
		{"missing ids", CreateInput{AppointmentTime: slot10}},
		{"zero time", CreateInput{BusinessID: "biz-1", EmployeeID: "emp-1", ServiceID: "svc-1", UserID: "user-1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, tc.in); !IsValidationError(err) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}

	offGrid := validIn
	offGrid.AppointmentTime = slot10.Add(30 * time.Minute)
	if _, err := svc.Create(ctx, offGrid); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("off-grid err = %v, want ErrSlotUnavailable", err)
	}
}

// The slot grid anchors on the window's open time, not on the hour. A business
// with half-hour working hours books at :30 starts, and every slot the engine
// advertises must be accepted by Create.
func TestCreateFollowsWindowSlotGrid(t *testing.T) {
	svc := newTestService(newMemRepo(), testNow)
	ctx := context.Background()

	halfPast := time.Date(2026, 9, 7, 9, 30, 0, 0, time.UTC)
	slots, err := svc.DaySlots(ctx, "biz-2", "emp-3", halfPast)
	if err != nil {
		t.Fatalf("day slots: %v", err)
	}
	if len(slots) == 0 || !slots[0].Start.Equal(halfPast) || !slots[0].Available {
		t.Fatalf("slots = %+v, want first slot %s available", slots, halfPast)
	}

	in := CreateInput{BusinessID: "biz-2", EmployeeID: "emp-3", ServiceID: "svc-massage", UserID: "user-1", AppointmentTime: halfPast}
	appt, err := svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("create on advertised slot: %v", err)
	}
	if appt.Version != 1 || appt.Status != model.StatusScheduled {
		t.Fatalf("unexpected appointment: %+v", appt)
	}

	onHour := in
	onHour.AppointmentTime = time.Date(2026, 9, 7, 11, 0, 0, 0, time.UTC)
	if _, err := svc.Create(ctx, onHour); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("off-grid err = %v, want ErrSlotUnavailable", err)
	}

	moved, err := svc.Reschedule(ctx, appt.ID, time.Date(2026, 9, 7, 10, 30, 0, 0, time.UTC), appt.Version)
	if err != nil {
		t.Fatalf("reschedule within grid: %v", err)
	}
	if moved.Version != 2 {
		t.Fatalf("version = %d, want 2", moved.Version)
	}
}

func TestCreateRejectsPastAndOutsideHours(t *testing.T) {
	svc := newTestService(newMemRepo(), testNow)
	ctx := context.Background()

	past := validIn
	past.AppointmentTime = testNow.Add(-time.Hour).Truncate(time.Hour)
	if _, err := svc.Create(ctx, past); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("past err = %v, want ErrSlotUnavailable", err)
	}

	evening := validIn
	evening.AppointmentTime = time.Date(2026, 9, 7, 18, 0, 0, 0, time.UTC)
	if _, err := svc.Create(ctx, evening); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("after-hours err = %v, want ErrSlotUnavailable", err)
	}

	sunday := validIn
	sunday.AppointmentTime = time.Date(2026, 9, 6, 10, 0, 0, 0, time.UTC)
	if _, err := svc.Create(ctx, sunday); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("closed-day err = %v, want ErrSlotUnavailable", err)
	}
}

func TestCreateInvalidReferences(t *testing.T) {
	svc := newTestService(newMemRepo(), testNow)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"unknown employee", func(in *CreateInput) { in.EmployeeID = "emp-missing" }},
		{"unknown service", func(in *CreateInput) { in.ServiceID = "svc-missing" }},
		{"unknown business", func(in *CreateInput) { in.BusinessID = "biz-missing" }},
		{"employee does not perform service", func(in *CreateInput) {
			in.EmployeeID = "emp-2"
			in.ServiceID = "svc-dana"
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validIn
			tc.mutate(&in)
			if _, err := svc.Create(ctx, in); !errors.Is(err, ErrInvalidReference) {
				t.Fatalf("err = %v, want ErrInvalidReference", err)
			}
		})
	}
}

func TestCreateConcurrentSameSlot(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, testNow)
	ctx := context.Background()

	const bookers = 8
	var wg sync.WaitGroup
	errs := make([]error, bookers)
	for i := range bookers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := validIn
			in.UserID = "user-" + string(rune('a'+i))
			_, errs[i] = svc.Create(ctx, in)
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotUnavailable):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("%d bookings won the same slot, want exactly 1", wins)
	}
}

func TestCreateIdempotencyKey(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, testNow)
	ctx := context.Background()

	in := validIn
	in.IdempotencyKey = "retry-1"
	first, err := svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if first.ID != second.ID || second.Version != 1 {
		t.Fatalf("retry landed on a different row: %+v vs %+v", first, second)
	}

	// A different key (or none) is a distinct booking attempt and loses the slot.
	other := validIn
	other.IdempotencyKey = "retry-2"
	if _, err := svc.Create(ctx, other); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("err = %v, want ErrSlotUnavailable", err)
	}
}

func TestCancel(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, testNow)
	ctx := context.Background()

	appt, err := svc.Create(ctx, validIn)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	canceled, err := svc.Cancel(ctx, appt.ID, appt.Version)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != model.StatusCanceled || canceled.Version != 2 {
		t.Fatalf("unexpected canceled row: %+v", canceled)
	}
	if canceled.CanceledAt == nil || !canceled.CanceledAt.Equal(testNow) {
		t.Fatalf("canceledAt = %v, want %v", canceled.CanceledAt, testNow)
	}

	if _, err := svc.Cancel(ctx, appt.ID, 0); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("second cancel err = %v, want ErrAlreadyTerminal", err)
	}
}

func TestCancelStaleVersion(t *testing.T) {
	svc := newTestService(newMemRepo(), testNow)
	ctx := context.Background()

	appt, err := svc.Create(ctx, validIn)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Cancel(ctx, appt.ID, 99); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
}

func TestCancelDefaultsToCurrentVersion(t *testing.T) {
	svc := newTestService(newMemRepo(), testNow)
	ctx := context.Background()

	appt, err := svc.Create(ctx, validIn)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Cancel(ctx, appt.ID, 0); err != nil {
		t.Fatalf("cancel without version: %v", err)
	}
}

func TestRescheduleFreesOldSlot(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, testNow)
	ctx := context.Background()

	appt, err := svc.Create(ctx, validIn)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	moved, err := svc.Reschedule(ctx, appt.ID, slot11, appt.Version)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if !moved.AppointmentTime.Equal(slot11) || moved.Version != 2 {
		t.Fatalf("unexpected moved row: %+v", moved)
	}

	// The vacated slot is bookable again.
	rebook := validIn
	rebook.UserID = "user-2"
	if _, err := svc.Create(ctx, rebook); err != nil {
		t.Fatalf("rebooking freed slot: %v", err)
	}
}

func TestRescheduleIntoTakenSlot(t *testing.T) {
	svc := newTestService(newMemRepo(), testNow)
	ctx := context.Background()

	first, err := svc.Create(ctx, validIn)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	secondIn := validIn
	secondIn.UserID = "user-2"
	secondIn.AppointmentTime = slot11
	second, err := svc.Create(ctx, secondIn)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	if _, err := svc.Reschedule(ctx, second.ID, first.AppointmentTime, second.Version); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("err = %v, want ErrSlotUnavailable", err)
	}
}

func TestRescheduleToOwnSlotIsAllowed(t *testing.T) {
	svc := newTestService(newMemRepo(), testNow)
	ctx := context.Background()

	appt, err := svc.Create(ctx, validIn)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	moved, err := svc.Reschedule(ctx, appt.ID, appt.AppointmentTime, appt.Version)
	if err != nil {
		t.Fatalf("rescheduling onto own slot: %v", err)
	}
	if moved.Version != 2 {
		t.Fatalf("version = %d, want 2", moved.Version)
	}
}

func TestMarkNoShow(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, testNow)
	ctx := context.Background()

	// Seed a past scheduled appointment directly; Create refuses past slots.
	past := testNow.Add(-2 * time.Hour)
	seeded, err := repo.Create(ctx, model.Appointment{
		ID: "past-1", BusinessID: "biz-1", EmployeeID: "emp-1", ServiceID: "svc-1",
		UserID: "user-1", AppointmentTime: past, Status: model.StatusScheduled,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	marked, err := svc.MarkNoShow(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("no-show: %v", err)
	}
	if marked.Status != model.StatusNoShow || marked.Version != 2 {
		t.Fatalf("unexpected row: %+v", marked)
	}

	if _, err := svc.MarkNoShow(ctx, seeded.ID); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("second no-show err = %v, want ErrAlreadyTerminal", err)
	}
}

func TestMarkNoShowRejectsFuture(t *testing.T) {
	svc := newTestService(newMemRepo(), testNow)
	ctx := context.Background()

	appt, err := svc.Create(ctx, validIn)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.MarkNoShow(ctx, appt.ID); !IsValidationError(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestCompleteDue(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, testNow)
	ctx := context.Background()

	past := testNow.Add(-3 * time.Hour)
	if _, err := repo.Create(ctx, model.Appointment{
		ID: "due-1", BusinessID: "biz-1", EmployeeID: "emp-1", ServiceID: "svc-1",
		UserID: "user-1", AppointmentTime: past, Status: model.StatusScheduled,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.Create(ctx, validIn); err != nil {
		t.Fatalf("create future: %v", err)
	}

	done, err := svc.CompleteDue(ctx, testNow, 10)
	if err != nil {
		t.Fatalf("complete due: %v", err)
	}
	if done != 1 {
		t.Fatalf("done = %d, want 1", done)
	}

	got, err := repo.GetByID(ctx, "due-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusCompleted || got.Version != 2 {
		t.Fatalf("unexpected completed row: %+v", got)
	}
}

func TestPermanentlyDelete(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, testNow)
	ctx := context.Background()

	appt, err := svc.Create(ctx, validIn)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.PermanentlyDelete(ctx, appt.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, appt.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete err = %v, want ErrNotFound", err)
	}

	events := repo.recordedEvents()
	last := events[len(events)-1]
	if last.EventType != outbox.EventAppointmentDeleted {
		t.Fatalf("last event = %s, want deleted", last.EventType)
	}

	if err := svc.PermanentlyDelete(ctx, appt.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestDaySlots(t *testing.T) {
	svc := newTestService(newMemRepo(), testNow)
	ctx := context.Background()

	if _, err := svc.Create(ctx, validIn); err != nil {
		t.Fatalf("create: %v", err)
	}

	slots, err := svc.DaySlots(ctx, "biz-1", "emp-1", slot10)
	if err != nil {
		t.Fatalf("day slots: %v", err)
	}
	if len(slots) != 8 {
		t.Fatalf("got %d slots, want 8", len(slots))
	}
	for _, s := range slots {
		if s.Start.Equal(slot10) && s.Available {
			t.Fatal("booked slot still available")
		}
		if s.Start.Equal(slot11) && !s.Available {
			t.Fatal("free slot marked unavailable")
		}
	}

	// The other employee's day is unaffected.
	slots, err = svc.DaySlots(ctx, "biz-1", "emp-2", slot10)
	if err != nil {
		t.Fatalf("day slots emp-2: %v", err)
	}
	for _, s := range slots {
		if !s.Available {
			t.Fatalf("slot %v for emp-2 should be available", s.Start)
		}
	}

	if _, err := svc.DaySlots(ctx, "biz-1", "emp-missing", slot10); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("unknown employee err = %v, want ErrInvalidReference", err)
	}
}
