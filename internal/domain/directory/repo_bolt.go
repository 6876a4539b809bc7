package directory

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
)

var (
	patientBucket  = []byte("patients")
	providerBucket = []byte("providers")
)

// boltTable keeps JSON-encoded records keyed by their uuid bytes.
type boltTable[T any] struct {
	db     *bolt.DB
	bucket []byte
	id     func(*T) uuid.UUID
	name   func(*T) string
}

func newBoltTable[T any](db *bolt.DB, bucket []byte, id func(*T) uuid.UUID, name func(*T) string) (*boltTable[T], error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &boltTable[T]{db: db, bucket: bucket, id: id, name: name}, nil
}

// put stores rec. When mustExist is set a missing key yields ErrNotFound;
// otherwise an existing key is overwritten.
func (t *boltTable[T]) put(rec *T, mustExist bool, check func(tx *bolt.Tx) error) error {
	id := t.id(rec)
	return t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(t.bucket)
		if mustExist && b.Get(id[:]) == nil {
			return ErrNotFound
		}
		if check != nil {
			if err := check(tx); err != nil {
				return err
			}
		}
		v, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(id[:], v)
	})
}

func (t *boltTable[T]) get(id uuid.UUID) (*T, error) {
	var rec T
	err := t.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(t.bucket).Get(id[:])
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (t *boltTable[T]) all(keep func(*T) bool) ([]*T, error) {
	var out []*T
	err := t.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(t.bucket).ForEach(func(_, v []byte) error {
			var rec T
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if keep == nil || keep(&rec) {
				out = append(out, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return t.name(out[i]) < t.name(out[j]) })
	return out, nil
}

func page[T any](items []*T, f ListFilter) []*T {
	if f.Offset >= len(items) {
		return nil
	}
	end := f.Offset + f.limit()
	if end > len(items) {
		end = len(items)
	}
	return items[f.Offset:end]
}

// -- Patient --

type patientRepoBolt struct{ t *boltTable[Patient] }

func NewPatientRepoBolt(db *bolt.DB) (PatientRepository, error) {
	t, err := newBoltTable(db, patientBucket,
		func(p *Patient) uuid.UUID { return p.ID },
		func(p *Patient) string { return p.LastName + "\x00" + p.FirstName })
	if err != nil {
		return nil, err
	}
	return &patientRepoBolt{t: t}, nil
}

func (r *patientRepoBolt) uniqueMRN(p *Patient) func(tx *bolt.Tx) error {
	return func(tx *bolt.Tx) error {
		return tx.Bucket(patientBucket).ForEach(func(_, v []byte) error {
			var other Patient
			if err := json.Unmarshal(v, &other); err != nil {
				return err
			}
			if other.ID != p.ID && other.MRN == p.MRN {
				return ErrDuplicate
			}
			return nil
		})
	}
}

func (r *patientRepoBolt) Create(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	return r.t.put(p, false, r.uniqueMRN(p))
}

func (r *patientRepoBolt) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	return r.t.get(id)
}

func (r *patientRepoBolt) Update(_ context.Context, p *Patient) error {
	p.UpdatedAt = time.Now().UTC()
	return r.t.put(p, true, r.uniqueMRN(p))
}

func (r *patientRepoBolt) List(_ context.Context, f ListFilter) ([]*Patient, int, error) {
	items, err := r.t.all(func(p *Patient) bool { return !f.ActiveOnly || p.Active })
	if err != nil {
		return nil, 0, err
	}
	return page(items, f), len(items), nil
}

// -- Provider --

type providerRepoBolt struct{ t *boltTable[Provider] }

func NewProviderRepoBolt(db *bolt.DB) (ProviderRepository, error) {
	t, err := newBoltTable(db, providerBucket,
		func(p *Provider) uuid.UUID { return p.ID },
		func(p *Provider) string { return p.LastName + "\x00" + p.FirstName })
	if err != nil {
		return nil, err
	}
	return &providerRepoBolt{t: t}, nil
}

func (r *providerRepoBolt) Create(_ context.Context, p *Provider) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	id := p.ID
	return r.t.put(p, false, func(tx *bolt.Tx) error {
		if tx.Bucket(providerBucket).Get(id[:]) != nil {
			return ErrDuplicate
		}
		return nil
	})
}

func (r *providerRepoBolt) GetByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	return r.t.get(id)
}

func (r *providerRepoBolt) Update(_ context.Context, p *Provider) error {
	p.UpdatedAt = time.Now().UTC()
	return r.t.put(p, true, nil)
}

func (r *providerRepoBolt) List(_ context.Context, f ListFilter) ([]*Provider, int, error) {
	items, err := r.t.all(func(p *Provider) bool { return !f.ActiveOnly || p.Active })
	if err != nil {
		return nil, 0, err
	}
	return page(items, f), len(items), nil
}
