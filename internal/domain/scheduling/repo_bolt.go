package scheduling

import (
	"bytes"
	"context"
	"encoding/gob"
	"sort"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
)

var appointmentBucket = []byte("appointments")

type appointmentRepoBolt struct{ db *bolt.DB }

// NewAppointmentRepoBolt stores appointments in an embedded bolt file. The
// file is locked by a single process, so the in-process locker is enough to
// serialize bookings.
func NewAppointmentRepoBolt(db *bolt.DB) (AppointmentRepository, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(appointmentBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &appointmentRepoBolt{db: db}, nil
}

func (r *appointmentRepoBolt) Save(_ context.Context, a *Appointment) (uuid.UUID, error) {
	id := a.ID
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(appointmentBucket)
		if id == uuid.Nil {
			id = uuid.New()
		} else if b.Get(id[:]) == nil {
			return &NotFoundError{Resource: "appointment", ID: id}
		}
		stored := *a
		stored.ID = id
		value, err := encodeAppointment(&stored)
		if err != nil {
			return err
		}
		return b.Put(id[:], value)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *appointmentRepoBolt) FindByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	var found *Appointment
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appointmentBucket).Get(id[:])
		if v == nil {
			return &NotFoundError{Resource: "appointment", ID: id}
		}
		a, err := decodeAppointment(v)
		found = a
		return err
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (r *appointmentRepoBolt) FindByProviderAndRange(_ context.Context, providerID uuid.UUID, start, end time.Time) ([]*Appointment, error) {
	window := Interval{Start: start, End: end}
	return r.scan(func(a *Appointment) bool {
		return a.ProviderID == providerID && a.Interval().Overlaps(window)
	})
}

func (r *appointmentRepoBolt) FindByState(_ context.Context, state State) ([]*Appointment, error) {
	return r.scan(func(a *Appointment) bool { return a.State == state })
}

func (r *appointmentRepoBolt) Search(_ context.Context, f Filter) ([]*Appointment, int, error) {
	all, err := r.scan(func(a *Appointment) bool { return matches(a, f) })
	if err != nil {
		return nil, 0, err
	}
	total := len(all)
	if f.Offset >= total {
		return nil, total, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && f.Limit < len(all) {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (r *appointmentRepoBolt) Delete(_ context.Context, id uuid.UUID) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(appointmentBucket)
		if b.Get(id[:]) == nil {
			return &NotFoundError{Resource: "appointment", ID: id}
		}
		return b.Delete(id[:])
	})
}

// scan returns every stored appointment accepted by keep, ordered by start.
func (r *appointmentRepoBolt) scan(keep func(*Appointment) bool) ([]*Appointment, error) {
	var out []*Appointment
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(appointmentBucket).ForEach(func(_, v []byte) error {
			a, err := decodeAppointment(v)
			if err != nil {
				return err
			}
			if keep(a) {
				out = append(out, a)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// matches applies a Filter the same way the SQL search does.
func matches(a *Appointment, f Filter) bool {
	if f.ProviderID != nil && a.ProviderID != *f.ProviderID {
		return false
	}
	if f.PatientID != nil && a.PatientID != *f.PatientID {
		return false
	}
	if f.State != nil && a.State != *f.State {
		return false
	}
	if f.From != nil && a.Start.Before(*f.From) {
		return false
	}
	if f.To != nil && !a.Start.Before(*f.To) {
		return false
	}
	return true
}

func encodeAppointment(a *Appointment) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeAppointment(v []byte) (*Appointment, error) {
	var a Appointment
	if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}
