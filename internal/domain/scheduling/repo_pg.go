package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/scheduler/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// exclusionViolation is raised by the appointment_no_overlap constraint.
const exclusionViolation = "23P01"

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const apptCols = `id, patient_id, provider_id, start_time, duration_minutes, reason, state, notes,
	created_at, updated_at`

func (r *appointmentRepoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.ProviderID, &a.Start, &a.DurationMinutes,
		&a.Reason, &a.State, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *appointmentRepoPG) Save(ctx context.Context, a *Appointment) (uuid.UUID, error) {
	if a.ID == uuid.Nil {
		id := uuid.New()
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO appointment (id, patient_id, provider_id, start_time, duration_minutes,
				reason, state, notes, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			id, a.PatientID, a.ProviderID, a.Start, a.DurationMinutes,
			a.Reason, a.State, a.Notes, a.CreatedAt, a.UpdatedAt)
		if err != nil {
			return uuid.Nil, translatePGError(err)
		}
		return id, nil
	}

	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET start_time=$2, duration_minutes=$3, reason=$4, state=$5, notes=$6,
			updated_at=$7
		WHERE id = $1`,
		a.ID, a.Start, a.DurationMinutes, a.Reason, a.State, a.Notes, a.UpdatedAt)
	if err != nil {
		return uuid.Nil, translatePGError(err)
	}
	if tag.RowsAffected() == 0 {
		return uuid.Nil, &NotFoundError{Resource: "appointment", ID: a.ID}
	}
	return a.ID, nil
}

func (r *appointmentRepoPG) FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "appointment", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *appointmentRepoPG) FindByProviderAndRange(ctx context.Context, providerID uuid.UUID, start, end time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE provider_id = $1
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time`, providerID, start, end)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *appointmentRepoPG) FindByState(ctx context.Context, state State) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment WHERE state = $1 ORDER BY start_time`, state)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *appointmentRepoPG) Search(ctx context.Context, f Filter) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	add := func(clause string, v interface{}) {
		where += fmt.Sprintf(clause, idx)
		args = append(args, v)
		idx++
	}
	if f.ProviderID != nil {
		add(` AND provider_id = $%d`, *f.ProviderID)
	}
	if f.PatientID != nil {
		add(` AND patient_id = $%d`, *f.PatientID)
	}
	if f.State != nil {
		add(` AND state = $%d`, *f.State)
	}
	if f.From != nil {
		add(` AND start_time >= $%d`, *f.From)
	}
	if f.To != nil {
		add(` AND start_time < $%d`, *f.To)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + apptCols + ` FROM appointment` + where +
		fmt.Sprintf(` ORDER BY start_time LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointment WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Resource: "appointment", ID: id}
	}
	return nil
}

func (r *appointmentRepoPG) collect(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// translatePGError turns an exclusion-constraint violation into a
// *ConflictError. The conflicting row is not known at this point.
func translatePGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
		return &ConflictError{}
	}
	return err
}
