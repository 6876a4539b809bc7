package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/scheduler/internal/platform/db"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

const uniqueViolation = "23505"

func connFor(ctx context.Context, pool *pgxpool.Pool) querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

func activeClause(f ListFilter) string {
	if f.ActiveOnly {
		return ` WHERE active`
	}
	return ``
}

// -- Patient --

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, mrn, first_name, last_name, birth_date, phone, email, assigned_provider_id,
	active, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.BirthDate, &p.Phone, &p.Email,
		&p.AssignedProviderID, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient (id, mrn, first_name, last_name, birth_date, phone, email,
			assigned_provider_id, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.BirthDate, p.Phone, p.Email,
		p.AssignedProviderID, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err)
	}
	return p, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		UPDATE patient SET mrn=$2, first_name=$3, last_name=$4, birth_date=$5, phone=$6, email=$7,
			assigned_provider_id=$8, active=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.BirthDate, p.Phone, p.Email,
		p.AssignedProviderID, p.Active,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, f ListFilter) ([]*Patient, int, error) {
	where := activeClause(f)
	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM patient`+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+patientCols+` FROM patient`+where+` ORDER BY last_name, first_name LIMIT $1 OFFSET $2`,
		f.limit(), f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// -- Provider --

type providerRepoPG struct{ pool *pgxpool.Pool }

func NewProviderRepoPG(pool *pgxpool.Pool) ProviderRepository {
	return &providerRepoPG{pool: pool}
}

const providerCols = `id, first_name, last_name, role, specialty, active, created_at, updated_at`

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Role, &p.Specialty, &p.Active,
		&p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *providerRepoPG) Create(ctx context.Context, p *Provider) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO provider (id, first_name, last_name, role, specialty, active)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.Role, p.Specialty, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	return nil
}

func (r *providerRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	p, err := scanProvider(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+providerCols+` FROM provider WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err)
	}
	return p, nil
}

func (r *providerRepoPG) Update(ctx context.Context, p *Provider) error {
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		UPDATE provider SET first_name=$2, last_name=$3, role=$4, specialty=$5, active=$6, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FirstName, p.LastName, p.Role, p.Specialty, p.Active,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	return nil
}

func (r *providerRepoPG) List(ctx context.Context, f ListFilter) ([]*Provider, int, error) {
	where := activeClause(f)
	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM provider`+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count providers: %w", err)
	}
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+providerCols+` FROM provider`+where+` ORDER BY last_name, first_name LIMIT $1 OFFSET $2`,
		f.limit(), f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()
	var items []*Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}
