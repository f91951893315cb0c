// Package storage provides the durable appointment repositories. The
// Postgres implementation is authoritative in production: slot uniqueness is
// a partial unique index over non-canceled rows, and every mutation is a
// versioned compare-and-swap committed together with its outbox events.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/booksmart-dev/booksmart/internal/model"
	"github.com/booksmart-dev/booksmart/internal/outbox"
	"github.com/booksmart-dev/booksmart/internal/scheduling"
	"github.com/booksmart-dev/booksmart/libs/db"
)

const (
	slotConstraint = "appointments_employee_slot_live_idx"
	pkConstraint   = "appointments_pkey"
)

type AppointmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: outboxRepo}
}

var _ scheduling.Repository = (*AppointmentRepository)(nil)

const appointmentColumns = `id::text, business_id, employee_id, service_id, user_id, service_name,
	appointment_time, status, canceled_at, version, created_at, updated_at`

func (r *AppointmentRepository) Create(ctx context.Context, appt model.Appointment, evts ...outbox.Event) (model.Appointment, error) {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if appt.Version == 0 {
		appt.Version = 1
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, business_id, employee_id, service_id, user_id, service_name, appointment_time, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, appt.ID, appt.BusinessID, appt.EmployeeID, appt.ServiceID, appt.UserID, appt.ServiceName,
		appt.AppointmentTime, appt.Status, appt.Version).Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		if constraintViolated(err, pkConstraint) {
			// Idempotent retry with a derived id: hand back the stored row.
			return r.GetByID(ctx, appt.ID)
		}
		if constraintViolated(err, slotConstraint) {
			return model.Appointment{}, fmt.Errorf("%w: slot already booked", scheduling.ErrSlotUnavailable)
		}
		return model.Appointment{}, err
	}

	if err := r.insertEvents(ctx, tx, evts); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, scheduling.ErrNotFound
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) CompareAndUpdate(ctx context.Context, id string, expectedVersion int64, mutate func(*model.Appointment) error, evts ...outbox.Event) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, scheduling.ErrNotFound
		}
		return model.Appointment{}, err
	}
	if appt.Version != expectedVersion {
		return model.Appointment{}, fmt.Errorf("%w: have %d, expected %d", scheduling.ErrVersionConflict, appt.Version, expectedVersion)
	}

	if err := mutate(&appt); err != nil {
		return model.Appointment{}, err
	}

	err = tx.QueryRow(ctx, `
		UPDATE appointments
		SET appointment_time = $3,
			status = $4,
			canceled_at = $5,
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`, id, expectedVersion, appt.AppointmentTime, appt.Status, appt.CanceledAt).Scan(&appt.Version, &appt.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The row was locked above, so this only happens if something
			// bypassed the version protocol.
			return model.Appointment{}, scheduling.ErrVersionConflict
		}
		if constraintViolated(err, slotConstraint) {
			return model.Appointment{}, fmt.Errorf("%w: slot already booked", scheduling.ErrSlotUnavailable)
		}
		return model.Appointment{}, err
	}

	if err := r.insertEvents(ctx, tx, evts); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) Delete(ctx context.Context, id string, evts ...outbox.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return scheduling.ErrNotFound
	}

	if err := r.insertEvents(ctx, tx, evts); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) ListByUser(ctx context.Context, userID string, includeCanceled bool) ([]model.Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE user_id = $1 AND ($2 OR status <> 'CANCELED')
		ORDER BY appointment_time DESC
	`, userID, includeCanceled)
}

func (r *AppointmentRepository) ListByBusiness(ctx context.Context, businessID string, includeCanceled bool) ([]model.Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1 AND ($2 OR status <> 'CANCELED')
		ORDER BY appointment_time DESC
	`, businessID, includeCanceled)
}

func (r *AppointmentRepository) ListBlockingByEmployeeDay(ctx context.Context, employeeID string, dayStart, dayEnd time.Time) ([]model.Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE employee_id = $1
			AND status <> 'CANCELED'
			AND appointment_time >= $2
			AND appointment_time < $3
		ORDER BY appointment_time ASC
	`, employeeID, dayStart, dayEnd)
}

func (r *AppointmentRepository) ListDueForCompletion(ctx context.Context, cutoff time.Time, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'SCHEDULED' AND appointment_time < $1
		ORDER BY appointment_time ASC
		LIMIT $2
	`, cutoff, limit)
}

func (r *AppointmentRepository) list(ctx context.Context, query string, args ...any) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (r *AppointmentRepository) insertEvents(ctx context.Context, tx pgx.Tx, evts []outbox.Event) error {
	if r.outbox == nil {
		return nil
	}
	for _, evt := range evts {
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return err
		}
	}
	return nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var canceledAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.BusinessID,
		&appt.EmployeeID,
		&appt.ServiceID,
		&appt.UserID,
		&appt.ServiceName,
		&appt.AppointmentTime,
		&appt.Status,
		&canceledAt,
		&appt.Version,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.CanceledAt = canceledAt
	return appt, nil
}

func constraintViolated(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" && pgErr.Code != "23P01" {
		return false
	}
	return pgErr.ConstraintName == constraint
}
